package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/wire"
)

type harness struct {
	m     *Machine
	peers *fakeFactory
	media *fakeMedia
	sig   *fakeSignaler
	calls *fakeCallLog
	clock *fakeClock
	bus   *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		peers: &fakeFactory{},
		media: &fakeMedia{},
		sig:   &fakeSignaler{},
		calls: &fakeCallLog{},
		clock: &fakeClock{now: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)},
		bus:   bus.New(),
	}
	h.m = NewMachine(h.peers, h.media, h.sig, h.calls, h.bus, nil, zap.NewNop())
	h.m.now = h.clock.Now
	return h
}

func cand(s string) wire.ICECandidate { return wire.ICECandidate{Candidate: s} }

var (
	offerSDP  = wire.SessionDescription{Type: "offer", SDP: "v=0 remote offer"}
	answerSDP = wire.SessionDescription{Type: "answer", SDP: "v=0 remote answer"}
)

// dial places a call to bob and has bob accept it.
func dial(t *testing.T, h *harness, media Media) *fakePeer {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.m.Initiate(ctx, "bob", media))
	h.m.HandleRemoteAccepted(ctx, "bob", "call-1")
	p := h.peers.last()
	require.NotNil(t, p)
	return p
}

func connect(t *testing.T, h *harness, media Media) *fakePeer {
	t.Helper()
	p := dial(t, h, media)
	h.m.HandleAnswer(context.Background(), "bob", answerSDP)
	p.events.OnConnectionState(ConnConnected)
	require.Equal(t, StateConnected, h.m.State())
	return p
}

func ring(t *testing.T, h *harness) {
	t.Helper()
	require.NoError(t, h.m.HandleIncoming(context.Background(), wire.IncomingCall{From: "alice", CallType: "audio", CallID: "call-7"}))
	require.Equal(t, StateRinging, h.m.State())
}

func TestInitiateHoldsOfferUntilAccepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.Initiate(ctx, "bob", Video))
	assert.Equal(t, StateNegotiating, h.m.State())
	assert.Equal(t, []wire.Kind{wire.KindCallUser}, h.sig.kinds())

	p := h.peers.last()
	assert.Len(t, p.tracks, 2)
	assert.Equal(t, SignalingHaveLocalOffer, p.SignalingState())

	// gathered before the peer has the offer
	p.events.OnICECandidate(cand("a1"))
	assert.Equal(t, 0, h.sig.count(wire.KindICECandidate))

	h.m.HandleRemoteAccepted(ctx, "bob", "call-1")
	assert.Equal(t, []wire.Kind{wire.KindCallUser, wire.KindOffer, wire.KindICECandidate}, h.sig.kinds())
	assert.Equal(t, "call-1", h.m.CallID())

	env, _ := h.sig.last(wire.KindOffer)
	assert.Equal(t, "bob", env.Data.(wire.SDPSignal).To)

	// a duplicate acceptance does not resend the offer
	h.m.HandleRemoteAccepted(ctx, "bob", "call-1")
	assert.Equal(t, 1, h.sig.count(wire.KindOffer))
}

func TestCallerCandidateOrdering(t *testing.T) {
	for pos := 0; pos <= 3; pos++ {
		t.Run(fmt.Sprintf("answer_at_%d", pos), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			p := dial(t, h, Audio)

			cands := []string{"c1", "c2", "c3"}
			for i := 0; i <= len(cands); i++ {
				if i == pos {
					h.m.HandleAnswer(ctx, "bob", answerSDP)
				}
				if i < len(cands) {
					h.m.HandleCandidate(ctx, "bob", cand(cands[i]))
				}
			}

			assert.Equal(t, cands, p.candidates())
			assert.Zero(t, p.early)
			assert.Equal(t, 1, p.remoteSet)
			assert.Zero(t, h.m.Info().PendingCandidates)
		})
	}
}

func TestCalleeCandidateOrdering(t *testing.T) {
	for offerAt := 0; offerAt <= 3; offerAt++ {
		for acceptAt := 0; acceptAt <= 4; acceptAt++ {
			t.Run(fmt.Sprintf("offer_%d_accept_%d", offerAt, acceptAt), func(t *testing.T) {
				h := newHarness(t)
				ctx := context.Background()
				ring(t, h)

				steps := []string{"c1", "c2", "c3"}
				steps = append(steps[:offerAt], append([]string{"offer"}, steps[offerAt:]...)...)
				steps = append(steps[:acceptAt], append([]string{"accept"}, steps[acceptAt:]...)...)

				for _, step := range steps {
					switch step {
					case "accept":
						require.NoError(t, h.m.Accept(ctx))
					case "offer":
						h.m.HandleOffer(ctx, "alice", offerSDP)
					default:
						h.m.HandleCandidate(ctx, "alice", cand(step))
					}
				}

				p := h.peers.last()
				require.NotNil(t, p)
				assert.Equal(t, []string{"c1", "c2", "c3"}, p.candidates(), "steps %v", steps)
				assert.Zero(t, p.early)
				assert.Equal(t, 1, p.remoteSet)
				assert.Equal(t, 1, h.sig.count(wire.KindAcceptCall))
				assert.Equal(t, 1, h.sig.count(wire.KindAnswer))
			})
		}
	}
}

func TestNewestPendingOfferWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ring(t, h)

	first := wire.SessionDescription{Type: "offer", SDP: "first"}
	second := wire.SessionDescription{Type: "offer", SDP: "second"}
	h.m.HandleOffer(ctx, "alice", first)
	h.m.HandleOffer(ctx, "alice", second)
	require.NoError(t, h.m.Accept(ctx))

	p := h.peers.last()
	require.NotNil(t, p.remote)
	assert.Equal(t, "second", p.remote.SDP)
	assert.Equal(t, 1, p.remoteSet)
}

func TestAnswerTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := dial(t, h, Audio)

	h.m.HandleAnswer(ctx, "bob", answerSDP)
	h.m.HandleAnswer(ctx, "bob", answerSDP)

	assert.Equal(t, 1, p.remoteSet)
	assert.Equal(t, StateNegotiating, h.m.State())
}

func TestAnswerBeforeAcceptIgnoredForCallee(t *testing.T) {
	h := newHarness(t)
	ring(t, h)

	h.m.HandleAnswer(context.Background(), "alice", answerSDP)
	assert.Equal(t, StateRinging, h.m.State())
	assert.Zero(t, h.peers.count())
}

func TestHangupIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := connect(t, h, Video)

	h.clock.Advance(42 * time.Second)
	require.NoError(t, h.m.Hangup(ctx))
	require.NoError(t, h.m.Hangup(ctx))

	assert.Equal(t, StateIdle, h.m.State())
	assert.Equal(t, 1, h.sig.count(wire.KindEndCall))
	env, _ := h.sig.last(wire.KindEndCall)
	assert.Equal(t, wire.EndCall{To: "bob", CallID: "call-1", Duration: 42}, env.Data)
	assert.True(t, p.isClosed())
	assert.True(t, h.media.allStopped())

	entries := h.calls.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "completed", entries[0].Outcome)
	assert.Equal(t, 42, entries[0].Duration)
}

func TestHangupWhenIdle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Hangup(context.Background()))
	assert.Empty(t, h.sig.kinds())
	assert.Empty(t, h.calls.all())
}

func TestHangupBeforeConnectReportsZeroDuration(t *testing.T) {
	h := newHarness(t)
	dial(t, h, Audio)
	h.clock.Advance(time.Minute)

	require.NoError(t, h.m.Hangup(context.Background()))

	env, ok := h.sig.last(wire.KindEndCall)
	require.True(t, ok)
	assert.Equal(t, 0, env.Data.(wire.EndCall).Duration)
	assert.Equal(t, "cancelled", h.calls.all()[0].Outcome)
}

func TestRejectNeverAcquiresMedia(t *testing.T) {
	h := newHarness(t)
	ring(t, h)
	assert.Equal(t, "call-7", h.m.CallID())

	require.NoError(t, h.m.Reject(context.Background()))

	assert.Equal(t, StateIdle, h.m.State())
	assert.Empty(t, h.m.CallID())
	assert.Zero(t, h.media.acquireCalls())
	assert.Zero(t, h.peers.count())
	env, ok := h.sig.last(wire.KindRejectCall)
	require.True(t, ok)
	assert.Equal(t, wire.RejectCall{To: "alice", CallID: "call-7"}, env.Data)
}

func TestRemoteEndWhileRingingIsMissed(t *testing.T) {
	h := newHarness(t)
	ring(t, h)

	h.m.End(context.Background(), "alice", "call-7", "")

	assert.Equal(t, StateIdle, h.m.State())
	assert.Empty(t, h.sig.kinds())
	assert.Zero(t, h.media.acquireCalls())
	assert.Equal(t, "missed", h.calls.all()[0].Outcome)
}

func TestEndForOtherCallIgnored(t *testing.T) {
	h := newHarness(t)
	ring(t, h)

	h.m.End(context.Background(), "alice", "call-old", OutcomeRejected)
	h.m.End(context.Background(), "mallory", "", OutcomeRejected)

	assert.Equal(t, StateRinging, h.m.State())
}

func TestRemoteRejectReleasesCaller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.m.Initiate(ctx, "bob", Video))
	p := h.peers.last()

	h.m.End(ctx, "bob", "", OutcomeRejected)

	assert.Equal(t, StateIdle, h.m.State())
	assert.Empty(t, h.m.CallID())
	assert.Equal(t, 0, h.sig.count(wire.KindEndCall))
	assert.True(t, p.isClosed())
	assert.True(t, h.media.allStopped())
}

func TestBusyWhileInCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dial(t, h, Audio)

	err := h.m.HandleIncoming(ctx, wire.IncomingCall{From: "carol", CallType: "video", CallID: "call-9"})
	assert.ErrorIs(t, err, ErrBusy)
	env, ok := h.sig.last(wire.KindRejectCall)
	require.True(t, ok)
	assert.Equal(t, wire.RejectCall{To: "carol", CallID: "call-9", Reason: "busy"}, env.Data)

	assert.ErrorIs(t, h.m.Initiate(ctx, "dave", Audio), ErrBusy)
	assert.Equal(t, "bob", h.m.Info().Peer)
	assert.Equal(t, StateNegotiating, h.m.State())
}

func TestRepeatedInitiateReusesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.m.Initiate(ctx, "bob", Audio))
	require.NoError(t, h.m.Initiate(ctx, "bob", Audio))

	assert.Equal(t, 1, h.peers.count())
	assert.Equal(t, 1, h.sig.count(wire.KindCallUser))
}

func TestMediaDeniedReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.media.err = ErrPermissionDenied
	notices, unsub := h.bus.Subscribe("call.media", 1)
	defer unsub()

	err := h.m.Initiate(context.Background(), "bob", Video)

	var me *MediaError
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, "permission-denied", me.Reason())
	assert.Equal(t, StateIdle, h.m.State())
	assert.Empty(t, h.sig.kinds())
	assert.Zero(t, h.peers.count())
	assert.Equal(t, "media-error", h.calls.all()[0].Outcome)

	select {
	case evt := <-notices:
		assert.Equal(t, MediaNotice{Peer: "bob", Media: Video, Reason: "permission-denied"}, evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("no media notice published")
	}
}

func TestMediaFailureIsWrapped(t *testing.T) {
	h := newHarness(t)
	h.media.err = errors.New("no capture device")

	err := h.m.Initiate(context.Background(), "bob", Audio)
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}

func TestAcceptMediaFailureSendsNothing(t *testing.T) {
	h := newHarness(t)
	ring(t, h)
	h.media.err = ErrDeviceBusy

	err := h.m.Accept(context.Background())

	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.Equal(t, StateIdle, h.m.State())
	assert.Empty(t, h.sig.kinds())
}

func TestConnectionFailureHangsUp(t *testing.T) {
	for _, st := range []ConnectionState{ConnFailed, ConnDisconnected} {
		t.Run(string(st), func(t *testing.T) {
			h := newHarness(t)
			p := connect(t, h, Audio)
			h.clock.Advance(5 * time.Second)

			p.events.OnConnectionState(st)

			assert.Equal(t, StateIdle, h.m.State())
			env, ok := h.sig.last(wire.KindEndCall)
			require.True(t, ok)
			assert.Equal(t, 5, env.Data.(wire.EndCall).Duration)
			assert.True(t, p.isClosed())
			assert.True(t, h.media.allStopped())
			assert.Equal(t, "failed", h.calls.all()[0].Outcome)
		})
	}
}

func TestStaleCallbacksIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := connect(t, h, Audio)
	require.NoError(t, h.m.Hangup(ctx))
	h.sig.drain()

	require.NoError(t, h.m.Initiate(ctx, "carol", Audio))

	old.events.OnConnectionState(ConnFailed)
	old.events.OnICECandidate(cand("stale"))
	old.events.OnConnectionState(ConnConnected)

	assert.Equal(t, StateNegotiating, h.m.State())
	assert.Equal(t, "carol", h.m.Info().Peer)
	assert.Equal(t, []wire.Kind{wire.KindCallUser}, h.sig.kinds())
}

func TestConcurrentAcceptSharesAttempt(t *testing.T) {
	h := newHarness(t)
	ring(t, h)
	h.media.gate = make(chan struct{})
	h.media.started = make(chan struct{}, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.m.Accept(context.Background())
		}(i)
	}

	<-h.media.started
	close(h.media.gate)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, 1, h.media.acquireCalls())
	assert.Equal(t, 1, h.peers.count())
	assert.Equal(t, 1, h.sig.count(wire.KindAcceptCall))
}

func TestHangupAbortsAcquisition(t *testing.T) {
	h := newHarness(t)
	h.media.gate = make(chan struct{})
	h.media.started = make(chan struct{}, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- h.m.Initiate(context.Background(), "bob", Video) }()

	<-h.media.started
	require.NoError(t, h.m.Hangup(context.Background()))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNoSession)
	case <-time.After(time.Second):
		t.Fatal("initiate did not return after hangup")
	}
	assert.Equal(t, StateIdle, h.m.State())
	assert.Zero(t, h.peers.count())
	assert.Empty(t, h.sig.kinds())
}

func TestToggleMuteAndCamera(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := connect(t, h, Video)

	muted, err := h.m.ToggleMute(ctx)
	require.NoError(t, err)
	assert.True(t, muted)

	off, err := h.m.ToggleCamera(ctx)
	require.NoError(t, err)
	assert.True(t, off)

	for _, tr := range p.tracks {
		assert.False(t, tr.Enabled(), tr.Kind())
	}
	env, _ := h.sig.last(wire.KindMediaState)
	assert.Equal(t, wire.MediaStateSignal{To: "bob", Muted: true, CameraOff: true}, env.Data)
	assert.Equal(t, 1, p.remoteSet, "toggles must not renegotiate")

	muted, err = h.m.ToggleMute(ctx)
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestToggleErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.m.ToggleMute(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	connect(t, h, Audio)
	_, err = h.m.ToggleCamera(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRemoteMediaState(t *testing.T) {
	h := newHarness(t)
	connect(t, h, Video)

	h.m.HandleRemoteMedia(context.Background(), "bob", true, true)

	info := h.m.Info()
	assert.True(t, info.RemoteMuted)
	assert.True(t, info.RemoteCameraOff)
}

// relay delivers envelopes sent by one machine to the other, the way the
// server and the signaling router would.
func relay(ctx context.Context, from string, to *Machine, env wire.Envelope) {
	switch d := env.Data.(type) {
	case wire.CallUser:
		_ = to.HandleIncoming(ctx, wire.IncomingCall{From: from, CallType: d.CallType, CallID: "call-1"})
	case wire.AcceptCall:
		to.HandleRemoteAccepted(ctx, from, "call-1")
	case wire.SDPSignal:
		if env.Event == wire.KindOffer {
			to.HandleOffer(ctx, from, d.Description)
		} else {
			to.HandleAnswer(ctx, from, d.Description)
		}
	case wire.CandidateSignal:
		to.HandleCandidate(ctx, from, d.Candidate)
	case wire.MediaStateSignal:
		to.HandleRemoteMedia(ctx, from, d.Muted, d.CameraOff)
	case wire.EndCall:
		to.End(ctx, from, d.CallID, "")
	case wire.RejectCall:
		to.End(ctx, from, d.CallID, OutcomeRejected)
	}
}

func pump(ctx context.Context, alice, bob *harness) {
	for {
		a, b := alice.sig.drain(), bob.sig.drain()
		if len(a) == 0 && len(b) == 0 {
			return
		}
		for _, env := range a {
			relay(ctx, "alice", bob.m, env)
		}
		for _, env := range b {
			relay(ctx, "bob", alice.m, env)
		}
	}
}

func TestVideoCallScenario(t *testing.T) {
	ctx := context.Background()
	alice, bob := newHarness(t), newHarness(t)
	ended, unsub := bob.bus.Subscribe("call.ended", 1)
	defer unsub()

	require.NoError(t, alice.m.Initiate(ctx, "bob", Video))
	alicePeer := alice.peers.last()
	alicePeer.events.OnICECandidate(cand("a1"))
	pump(ctx, alice, bob)

	assert.Equal(t, StateRinging, bob.m.State())
	assert.Equal(t, Video, bob.m.Info().Media)
	assert.Zero(t, bob.media.acquireCalls())

	require.NoError(t, bob.m.Accept(ctx))
	bobPeer := bob.peers.last()
	bobPeer.events.OnICECandidate(cand("b1"))
	pump(ctx, alice, bob)

	assert.Equal(t, []string{"b1"}, alicePeer.candidates())
	assert.Equal(t, []string{"a1"}, bobPeer.candidates())
	assert.Equal(t, SignalingStable, alicePeer.SignalingState())

	alicePeer.events.OnConnectionState(ConnConnected)
	bobPeer.events.OnConnectionState(ConnConnected)
	assert.Equal(t, StateConnected, alice.m.State())
	assert.Equal(t, StateConnected, bob.m.State())
	assert.Equal(t, "call-1", alice.m.CallID())

	alice.clock.Advance(90 * time.Second)
	require.NoError(t, alice.m.Hangup(ctx))
	pump(ctx, alice, bob)

	assert.Equal(t, StateIdle, alice.m.State())
	assert.Equal(t, StateIdle, bob.m.State())
	assert.True(t, bobPeer.isClosed())
	assert.Equal(t, 90, alice.calls.all()[0].Duration)

	select {
	case evt := <-ended:
		assert.Equal(t, OutcomeCompleted, evt.Payload.(Ended).Outcome)
	case <-time.After(time.Second):
		t.Fatal("no call.ended notification")
	}
}
