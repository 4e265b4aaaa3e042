package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
)

// State is the call session state.
type State string

const (
	StateIdle        State = "idle"
	StateRinging     State = "ringing"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateEnded       State = "ended"
)

type trigger string

const (
	triggerDial    trigger = "dial"
	triggerRing    trigger = "ring"
	triggerAccept  trigger = "accept"
	triggerConnect trigger = "connect"
	triggerEnd     trigger = "end"
	triggerReset   trigger = "reset"
)

// CallLog persists ended sessions.
type CallLog interface {
	AppendCall(ctx context.Context, e store.CallEntry) error
}

// Machine owns the single call session of this client.
//
// Operations that suspend (media acquisition, SDP generation, network sends)
// run without holding mu. Each session carries an epoch, and any
// continuation or peer callback whose epoch no longer matches the current
// session is discarded.
type Machine struct {
	peers   PeerFactory
	media   MediaSource
	signal  Signaler
	calls   CallLog
	bus     *bus.Bus
	metrics metrics.Collector
	log     *zap.Logger
	now     func() time.Time

	flight singleflight.Group

	mu    sync.Mutex
	sm    *stateless.StateMachine
	sess  *session
	epoch uint64
}

// NewMachine creates a call machine in the idle state. calls, b and m may be nil.
func NewMachine(peers PeerFactory, media MediaSource, signal Signaler, calls CallLog, b *bus.Bus, m metrics.Collector, log *zap.Logger) *Machine {
	if m == nil {
		m = metrics.Nop{}
	}
	mc := &Machine{
		peers:   peers,
		media:   media,
		signal:  signal,
		calls:   calls,
		bus:     b,
		metrics: m,
		log:     log,
		now:     time.Now,
	}

	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(triggerDial, StateNegotiating).
		Permit(triggerRing, StateRinging)

	// Callee has been notified; no media is held yet.
	sm.Configure(StateRinging).
		Permit(triggerAccept, StateNegotiating).
		Permit(triggerEnd, StateEnded)

	sm.Configure(StateNegotiating).
		Permit(triggerConnect, StateConnected).
		Permit(triggerEnd, StateEnded)

	sm.Configure(StateConnected).
		Permit(triggerEnd, StateEnded)

	// Resources are released while in Ended, before the reset to Idle.
	sm.Configure(StateEnded).
		Permit(triggerReset, StateIdle)

	// Transitions only fire with mu held, so the session can be read here.
	sm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		from := t.Source.(State)
		to := t.Destination.(State)
		mc.log.Debug("call state changed",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Any("trigger", t.Trigger),
		)
		mc.bus.Emit(bus.CallStateChanged, StateChange{
			From:    from,
			To:      to,
			Trigger: fmt.Sprint(t.Trigger),
			Info:    mc.infoLocked(),
		})
	})

	mc.sm = sm
	return mc
}

func (m *Machine) state() State {
	return m.sm.MustState().(State)
}

// fire must be called with mu held.
func (m *Machine) fire(ctx context.Context, t trigger) {
	if err := m.sm.FireCtx(ctx, t); err != nil {
		m.log.Error("call transition rejected", zap.String("trigger", string(t)), zap.Error(err))
	}
}

func (m *Machine) current(epoch uint64) *session {
	if m.sess != nil && m.sess.epoch == epoch {
		return m.sess
	}
	return nil
}

func (m *Machine) isCurrent(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(epoch) != nil
}

func (m *Machine) newSession(peer string, dir Direction, media Media) *session {
	m.epoch++
	return &session{
		epoch:     m.epoch,
		peer:      peer,
		direction: dir,
		media:     media,
		conn:      ConnNew,
		createdAt: m.now(),
	}
}

// matches reports whether an inbound envelope from 'from' belongs to s. An
// empty sender is a server-originated event for whatever call is active.
func matches(s *session, from string) bool {
	return s != nil && (from == "" || from == s.peer)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state()
}

// Info returns a snapshot of the active session.
func (m *Machine) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infoLocked()
}

// CallID returns the server call-record id of the active session, if any.
func (m *Machine) CallID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.callID
}

func (m *Machine) infoLocked() Info {
	info := Info{State: m.state()}
	s := m.sess
	if s == nil {
		return info
	}
	info.Peer = s.peer
	info.Direction = s.direction
	info.Media = s.media
	info.CallID = s.callID
	info.CallerName = s.callerName
	info.Muted = s.muted
	info.CameraOff = s.cameraOff
	info.RemoteMuted = s.remoteMuted
	info.RemoteCameraOff = s.remoteCameraOff
	info.Connection = s.conn
	info.PendingCandidates = len(s.pendingICE)
	info.RemoteTracks = append([]RemoteTrack(nil), s.remoteTracks...)
	info.StartedAt = s.createdAt
	info.ConnectedAt = s.connectedAt
	return info
}

// Initiate places a call to peer. Concurrent or repeated calls for the same
// peer and media share the attempt in flight.
func (m *Machine) Initiate(ctx context.Context, peer string, media Media) error {
	if peer == "" {
		return fmt.Errorf("initiate: %w: peer is required", ErrInvalidState)
	}
	if media != Audio && media != Video {
		return fmt.Errorf("initiate: %w: unknown media %q", ErrInvalidState, media)
	}
	_, err, _ := m.flight.Do("initiate:"+peer+":"+string(media), func() (any, error) {
		return nil, m.initiate(ctx, peer, media)
	})
	return err
}

func (m *Machine) initiate(ctx context.Context, peer string, media Media) error {
	m.mu.Lock()
	if s := m.sess; s != nil && s.direction == Outgoing && s.peer == peer && s.media == media {
		m.mu.Unlock()
		return nil
	}
	if m.state() != StateIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	acqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	s := m.newSession(peer, Outgoing, media)
	s.cancelAcquire = cancel
	m.sess = s
	m.fire(ctx, triggerDial)
	epoch := s.epoch
	m.mu.Unlock()

	m.metrics.CallStarted(string(Outgoing))
	m.log.Info("placing call", zap.String("peer", peer), zap.String("media", string(media)))

	if err := m.acquire(acqCtx, epoch, media); err != nil {
		return err
	}
	pc, err := m.attachPeer(ctx, epoch)
	if err != nil {
		return m.abort(ctx, epoch, err)
	}
	offer, err := pc.CreateOffer(ctx)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		return m.abort(ctx, epoch, fmt.Errorf("create offer: %w", err))
	}

	m.mu.Lock()
	if s = m.current(epoch); s == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	s.localOffer = &offer
	m.mu.Unlock()

	if err := m.send(ctx, wire.KindCallUser, wire.CallUser{To: peer, CallType: string(media)}); err != nil {
		return m.abort(ctx, epoch, fmt.Errorf("call user: %w", err))
	}

	m.mu.Lock()
	if s = m.current(epoch); s != nil {
		s.announced = true
	}
	m.mu.Unlock()
	return nil
}

// acquire obtains local media for the session. On failure the session is
// torn down silently and a *MediaError is returned.
func (m *Machine) acquire(ctx context.Context, epoch uint64, media Media) error {
	local, err := m.media.Acquire(ctx, media)
	if err != nil {
		if !m.isCurrent(epoch) {
			return ErrNoSession
		}
		me := newMediaError(media, err)
		m.metrics.MediaFailure(me.Reason())
		m.log.Warn("media acquisition failed", zap.String("media", string(media)), zap.Error(err))

		m.mu.Lock()
		var peer string
		if s := m.current(epoch); s != nil {
			peer = s.peer
		}
		m.mu.Unlock()
		m.bus.Emit(bus.CallMediaError, MediaNotice{Peer: peer, Media: media, Reason: me.Reason()})
		m.teardown(ctx, epoch, OutcomeMediaError, false)
		return me
	}

	m.mu.Lock()
	s := m.current(epoch)
	if s == nil {
		m.mu.Unlock()
		local.Stop()
		return ErrNoSession
	}
	s.local = local
	m.mu.Unlock()
	return nil
}

func (m *Machine) attachPeer(ctx context.Context, epoch uint64) (PeerConnection, error) {
	pc, err := m.peers.NewPeer(ctx, m.peerEvents(epoch))
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	m.mu.Lock()
	s := m.current(epoch)
	if s == nil {
		m.mu.Unlock()
		_ = pc.Close()
		return nil, ErrNoSession
	}
	s.pc = pc
	local := s.local
	m.mu.Unlock()

	if local != nil {
		if err := pc.AddTracks(local.Tracks); err != nil {
			return nil, fmt.Errorf("add tracks: %w", err)
		}
	}
	return pc, nil
}

// abort tears the session down after a setup failure. notify is false for
// the caller before the peer has been told about the call.
func (m *Machine) abort(ctx context.Context, epoch uint64, err error) error {
	m.mu.Lock()
	s := m.current(epoch)
	notify := s != nil && (s.direction == Incoming || s.announced)
	m.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	m.log.Warn("call setup failed", zap.Error(err))
	m.teardown(ctx, epoch, OutcomeFailed, notify)
	return err
}

// HandleIncoming starts ringing for an announced call. Media is not touched
// until Accept. A call arriving while another session exists is answered
// with a busy rejection.
func (m *Machine) HandleIncoming(ctx context.Context, ev wire.IncomingCall) error {
	m.mu.Lock()
	if s := m.sess; s != nil && s.direction == Incoming && s.peer == ev.From && s.callID == ev.CallID {
		m.mu.Unlock()
		return nil
	}
	if m.state() != StateIdle {
		m.mu.Unlock()
		m.log.Info("rejecting call while busy", zap.String("from", ev.From))
		if err := m.send(ctx, wire.KindRejectCall, wire.RejectCall{To: ev.From, CallID: ev.CallID, Reason: string(OutcomeBusy)}); err != nil {
			m.log.Warn("send busy rejection failed", zap.Error(err))
		}
		return ErrBusy
	}
	s := m.newSession(ev.From, Incoming, Media(ev.CallType))
	s.callID = ev.CallID
	s.callerName = ev.CallerName
	m.sess = s
	m.fire(ctx, triggerRing)
	m.mu.Unlock()

	m.metrics.CallStarted(string(Incoming))
	m.log.Info("incoming call", zap.String("from", ev.From), zap.String("media", ev.CallType), zap.String("call_id", ev.CallID))
	return nil
}

// Accept answers the ringing call. Concurrent calls share one attempt;
// accepting an already accepted call is a no-op.
func (m *Machine) Accept(ctx context.Context) error {
	_, err, _ := m.flight.Do("accept", func() (any, error) {
		return nil, m.accept(ctx)
	})
	return err
}

func (m *Machine) accept(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.direction != Incoming {
		m.mu.Unlock()
		return ErrInvalidState
	}
	if m.state() != StateRinging {
		m.mu.Unlock()
		return nil
	}
	acqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	s.cancelAcquire = cancel
	m.fire(ctx, triggerAccept)
	epoch, media, peer, callID := s.epoch, s.media, s.peer, s.callID
	m.mu.Unlock()

	if err := m.acquire(acqCtx, epoch, media); err != nil {
		return err
	}
	pc, err := m.attachPeer(ctx, epoch)
	if err != nil {
		return m.abort(ctx, epoch, err)
	}
	if err := m.send(ctx, wire.KindAcceptCall, wire.AcceptCall{To: peer, CallID: callID}); err != nil {
		return m.abort(ctx, epoch, fmt.Errorf("accept call: %w", err))
	}

	m.mu.Lock()
	if s = m.current(epoch); s == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	s.ready = true
	offer := s.pendingOffer
	s.pendingOffer = nil
	m.mu.Unlock()

	if offer != nil {
		m.answerOffer(ctx, epoch, pc, *offer)
	}
	return nil
}

// Reject declines the ringing call without acquiring media.
func (m *Machine) Reject(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.state() != StateRinging {
		m.mu.Unlock()
		return ErrInvalidState
	}
	epoch := s.epoch
	m.mu.Unlock()

	m.teardown(ctx, epoch, OutcomeDeclined, true)
	return nil
}

// HandleRemoteAccepted records the call-record id and sends the held offer.
func (m *Machine) HandleRemoteAccepted(ctx context.Context, from, callID string) {
	m.mu.Lock()
	s := m.sess
	if !matches(s, from) || s.direction != Outgoing || m.state() != StateNegotiating || s.accepted {
		m.mu.Unlock()
		m.log.Debug("ignoring call-accepted", zap.String("from", from))
		return
	}
	s.accepted = true
	if callID != "" {
		s.callID = callID
	}
	epoch := s.epoch
	m.mu.Unlock()

	m.sendOffer(ctx, epoch)
}

func (m *Machine) sendOffer(ctx context.Context, epoch uint64) {
	m.mu.Lock()
	s := m.current(epoch)
	if s == nil || s.localOffer == nil || s.offerSent {
		m.mu.Unlock()
		return
	}
	s.offerSent = true
	offer, peer := *s.localOffer, s.peer
	m.mu.Unlock()

	if err := m.send(ctx, wire.KindOffer, wire.SDPSignal{To: peer, Description: offer}); err != nil {
		m.log.Warn("send offer failed", zap.Error(err))
	}
	m.flushLocalCandidates(ctx, epoch)
}

// HandleOffer applies a remote offer, or holds it until Accept has prepared
// the peer connection. A newer pending offer replaces an older one.
func (m *Machine) HandleOffer(ctx context.Context, from string, desc wire.SessionDescription) {
	m.mu.Lock()
	s := m.sess
	if !matches(s, from) || s.direction != Incoming {
		m.mu.Unlock()
		m.log.Debug("ignoring offer without matching call", zap.String("from", from))
		return
	}
	if s.remoteSet {
		m.mu.Unlock()
		m.log.Debug("ignoring offer after remote description", zap.String("from", from))
		return
	}
	if !s.ready {
		if s.pendingOffer != nil {
			m.log.Debug("replacing pending offer", zap.String("from", from))
		}
		d := desc
		s.pendingOffer = &d
		m.mu.Unlock()
		return
	}
	pc, epoch := s.pc, s.epoch
	m.mu.Unlock()

	m.answerOffer(ctx, epoch, pc, desc)
}

func (m *Machine) answerOffer(ctx context.Context, epoch uint64, pc PeerConnection, offer wire.SessionDescription) {
	m.mu.Lock()
	s := m.current(epoch)
	if s == nil || s.remoteSet {
		m.mu.Unlock()
		return
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		m.mu.Unlock()
		_ = m.abort(ctx, epoch, fmt.Errorf("apply offer: %w", err))
		return
	}
	m.remoteApplied(s)
	peer := s.peer
	m.mu.Unlock()

	answer, err := pc.CreateAnswer(ctx)
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		_ = m.abort(ctx, epoch, fmt.Errorf("create answer: %w", err))
		return
	}
	if !m.isCurrent(epoch) {
		return
	}
	if err := m.send(ctx, wire.KindAnswer, wire.SDPSignal{To: peer, Description: answer}); err != nil {
		m.log.Warn("send answer failed", zap.Error(err))
	}
	m.flushLocalCandidates(ctx, epoch)
}

// HandleAnswer applies the callee's answer. Answers outside
// have-local-offer, including a repeated answer, are ignored.
func (m *Machine) HandleAnswer(_ context.Context, from string, desc wire.SessionDescription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sess
	if !matches(s, from) || s.direction != Outgoing || m.state() != StateNegotiating || s.pc == nil {
		m.log.Debug("ignoring answer without negotiating call", zap.String("from", from))
		return
	}
	if s.remoteSet || s.pc.SignalingState() != SignalingHaveLocalOffer {
		m.log.Debug("ignoring repeated answer", zap.String("from", from))
		return
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		m.log.Debug("apply answer failed", zap.Error(err))
		return
	}
	m.remoteApplied(s)
}

// remoteApplied marks the remote description as set and drains queued
// candidates in arrival order. Called with mu held so that no candidate can
// overtake the queue.
func (m *Machine) remoteApplied(s *session) {
	s.remoteSet = true
	queued := s.pendingICE
	s.pendingICE = nil
	for _, c := range queued {
		if err := s.pc.AddICECandidate(c); err != nil {
			m.log.Debug("queued candidate rejected", zap.Error(err))
		}
	}
	if len(queued) > 0 {
		m.metrics.CandidatesDrained(len(queued))
	}
}

// HandleCandidate applies a remote ICE candidate, queueing it while no
// remote description has been applied.
func (m *Machine) HandleCandidate(_ context.Context, from string, c wire.ICECandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sess
	if !matches(s, from) {
		m.log.Debug("dropping candidate without matching call", zap.String("from", from))
		return
	}
	if s.pc == nil || !s.remoteSet {
		s.pendingICE = append(s.pendingICE, c)
		m.metrics.CandidateQueued()
		return
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		m.log.Debug("candidate rejected", zap.Error(err))
	}
}

// HandleRemoteMedia records the peer's mute and camera flags.
func (m *Machine) HandleRemoteMedia(_ context.Context, from string, muted, cameraOff bool) {
	m.mu.Lock()
	s := m.sess
	if !matches(s, from) {
		m.mu.Unlock()
		return
	}
	s.remoteMuted = muted
	s.remoteCameraOff = cameraOff
	info := m.infoLocked()
	m.mu.Unlock()

	m.bus.Emit(bus.CallRemoteMedia, info)
}

// ToggleMute flips the local audio track and tells the peer.
func (m *Machine) ToggleMute(ctx context.Context) (bool, error) {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return false, ErrNoSession
	}
	if s.local == nil {
		m.mu.Unlock()
		return false, ErrInvalidState
	}
	s.muted = !s.muted
	s.local.setEnabled(string(Audio), !s.muted)
	muted := s.muted
	sig := wire.MediaStateSignal{To: s.peer, Muted: s.muted, CameraOff: s.cameraOff}
	m.mu.Unlock()

	if err := m.send(ctx, wire.KindMediaState, sig); err != nil {
		m.log.Warn("send media state failed", zap.Error(err))
	}
	return muted, nil
}

// ToggleCamera flips the local video track and tells the peer.
func (m *Machine) ToggleCamera(ctx context.Context) (bool, error) {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return false, ErrNoSession
	}
	if s.local == nil || s.media != Video {
		m.mu.Unlock()
		return false, ErrInvalidState
	}
	s.cameraOff = !s.cameraOff
	s.local.setEnabled(string(Video), !s.cameraOff)
	off := s.cameraOff
	sig := wire.MediaStateSignal{To: s.peer, Muted: s.muted, CameraOff: s.cameraOff}
	m.mu.Unlock()

	if err := m.send(ctx, wire.KindMediaState, sig); err != nil {
		m.log.Warn("send media state failed", zap.Error(err))
	}
	return off, nil
}

// Hangup ends the active session from any state. It is a no-op when idle.
func (m *Machine) Hangup(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return nil
	}
	epoch := s.epoch
	outcome := OutcomeCancelled
	switch m.state() {
	case StateConnected:
		outcome = OutcomeCompleted
	case StateRinging:
		outcome = OutcomeDeclined
	}
	m.mu.Unlock()

	m.teardown(ctx, epoch, outcome, true)
	return nil
}

// End terminates the session because the peer or server ended it. Nothing
// is sent back. An empty outcome is derived from the session state. Events
// carrying a call id for a different call are ignored.
func (m *Machine) End(ctx context.Context, from, callID string, outcome Outcome) {
	m.mu.Lock()
	s := m.sess
	if !matches(s, from) || (callID != "" && s.callID != "" && callID != s.callID) {
		m.mu.Unlock()
		m.log.Debug("ignoring end for unknown call", zap.String("from", from), zap.String("call_id", callID))
		return
	}
	if outcome == "" {
		switch m.state() {
		case StateConnected:
			outcome = OutcomeCompleted
		case StateRinging:
			outcome = OutcomeMissed
		default:
			outcome = OutcomeCancelled
		}
	}
	epoch := s.epoch
	m.mu.Unlock()

	m.teardown(ctx, epoch, outcome, false)
}

// teardown ends session epoch: it moves to Ended, releases the peer
// connection and local media, optionally tells the peer, records the call
// and returns to Idle.
func (m *Machine) teardown(ctx context.Context, epoch uint64, outcome Outcome, notify bool) {
	m.mu.Lock()
	s := m.current(epoch)
	if s == nil {
		m.mu.Unlock()
		return
	}
	from := m.state()
	m.fire(ctx, triggerEnd)
	m.sess = nil
	duration := s.duration(m.now())
	m.mu.Unlock()

	if s.cancelAcquire != nil {
		s.cancelAcquire()
	}
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			m.log.Debug("close peer connection", zap.Error(err))
		}
	}
	s.local.Stop()

	if notify {
		m.farewell(ctx, s, from, outcome, duration)
	}
	m.metrics.CallEnded(string(outcome), duration)
	m.record(ctx, s, outcome, duration)

	m.mu.Lock()
	m.fire(ctx, triggerReset)
	m.mu.Unlock()

	m.log.Info("call ended",
		zap.String("peer", s.peer),
		zap.String("call_id", s.callID),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", duration),
	)
	m.bus.Emit(bus.CallEnded, Ended{
		Peer:      s.peer,
		CallID:    s.callID,
		Direction: s.direction,
		Media:     s.media,
		Outcome:   outcome,
		Duration:  duration,
	})
}

// farewell sends the envelope that closes the call on the peer's side.
func (m *Machine) farewell(ctx context.Context, s *session, from State, outcome Outcome, d time.Duration) {
	if s.direction == Outgoing && !s.announced {
		return
	}
	var env wire.Envelope
	if from == StateRinging && s.direction == Incoming {
		reason := ""
		if outcome != OutcomeDeclined {
			reason = string(outcome)
		}
		env = wire.Envelope{Event: wire.KindRejectCall, Data: wire.RejectCall{To: s.peer, CallID: s.callID, Reason: reason}}
	} else {
		env = wire.Envelope{Event: wire.KindEndCall, Data: wire.EndCall{To: s.peer, CallID: s.callID, Duration: int(d / time.Second)}}
	}
	if err := m.signal.Send(ctx, env); err != nil {
		m.log.Warn("send call termination failed", zap.String("event", string(env.Event)), zap.Error(err))
	}
}

func (m *Machine) record(ctx context.Context, s *session, outcome Outcome, d time.Duration) {
	if m.calls == nil {
		return
	}
	err := m.calls.AppendCall(context.WithoutCancel(ctx), store.CallEntry{
		CallID:      s.callID,
		Peer:        s.peer,
		Direction:   string(s.direction),
		Media:       string(s.media),
		Outcome:     string(outcome),
		Duration:    int(d / time.Second),
		StartedAt:   s.createdAt,
		ConnectedAt: s.connectedAt,
		EndedAt:     m.now(),
	})
	if err != nil {
		m.log.Warn("record call failed", zap.Error(err))
	}
}

func (m *Machine) peerEvents(epoch uint64) PeerEvents {
	return PeerEvents{
		OnICECandidate:    func(c wire.ICECandidate) { m.localCandidate(epoch, c) },
		OnConnectionState: func(st ConnectionState) { m.connectionChanged(epoch, st) },
		OnRemoteTrack:     func(t RemoteTrack) { m.remoteTrack(epoch, t) },
	}
}

func (m *Machine) localCandidate(epoch uint64, c wire.ICECandidate) {
	m.mu.Lock()
	s := m.current(epoch)
	if s == nil {
		m.mu.Unlock()
		return
	}
	if !s.signaled {
		s.localICE = append(s.localICE, c)
		m.mu.Unlock()
		return
	}
	peer := s.peer
	m.mu.Unlock()

	if err := m.send(context.Background(), wire.KindICECandidate, wire.CandidateSignal{To: peer, Candidate: c}); err != nil {
		m.log.Debug("send candidate failed", zap.Error(err))
	}
}

// flushLocalCandidates sends candidates gathered before our description
// went out.
func (m *Machine) flushLocalCandidates(ctx context.Context, epoch uint64) {
	m.mu.Lock()
	s := m.current(epoch)
	if s == nil {
		m.mu.Unlock()
		return
	}
	s.signaled = true
	held := s.localICE
	s.localICE = nil
	peer := s.peer
	m.mu.Unlock()

	for _, c := range held {
		if err := m.send(ctx, wire.KindICECandidate, wire.CandidateSignal{To: peer, Candidate: c}); err != nil {
			m.log.Debug("send candidate failed", zap.Error(err))
		}
	}
}

func (m *Machine) connectionChanged(epoch uint64, st ConnectionState) {
	ctx := context.Background()
	m.mu.Lock()
	s := m.current(epoch)
	if s == nil {
		m.mu.Unlock()
		return
	}
	s.conn = st
	switch st {
	case ConnConnected:
		if m.state() == StateNegotiating {
			s.connectedAt = m.now()
			m.fire(ctx, triggerConnect)
		}
		m.mu.Unlock()
	case ConnFailed, ConnDisconnected:
		m.mu.Unlock()
		m.log.Warn("peer connection lost", zap.String("state", string(st)))
		m.teardown(ctx, epoch, OutcomeFailed, true)
	default:
		m.mu.Unlock()
	}
}

func (m *Machine) remoteTrack(epoch uint64, t RemoteTrack) {
	m.mu.Lock()
	s := m.current(epoch)
	if s == nil {
		m.mu.Unlock()
		return
	}
	s.remoteTracks = append(s.remoteTracks, t)
	info := m.infoLocked()
	m.mu.Unlock()

	m.bus.Emit(bus.CallRemoteMedia, info)
}

func (m *Machine) send(ctx context.Context, kind wire.Kind, data any) error {
	return m.signal.Send(ctx, wire.Envelope{Event: kind, Data: data})
}

// Close hangs up any active call.
func (m *Machine) Close(ctx context.Context) error {
	if err := m.Hangup(ctx); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}
