package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/call"
	"github.com/matheus3301/chatsync/internal/wire"
)

type recordingMachine struct {
	calls []string
	ends  []endCall
	err   error
}

type endCall struct {
	from, callID string
	outcome      call.Outcome
}

func (m *recordingMachine) HandleIncoming(_ context.Context, ev wire.IncomingCall) error {
	m.calls = append(m.calls, "incoming:"+ev.From)
	return m.err
}

func (m *recordingMachine) HandleRemoteAccepted(_ context.Context, from, callID string) {
	m.calls = append(m.calls, "accepted:"+from+":"+callID)
}

func (m *recordingMachine) HandleOffer(_ context.Context, from string, _ wire.SessionDescription) {
	m.calls = append(m.calls, "offer:"+from)
}

func (m *recordingMachine) HandleAnswer(_ context.Context, from string, _ wire.SessionDescription) {
	m.calls = append(m.calls, "answer:"+from)
}

func (m *recordingMachine) HandleCandidate(_ context.Context, from string, c wire.ICECandidate) {
	m.calls = append(m.calls, "candidate:"+from+":"+c.Candidate)
}

func (m *recordingMachine) HandleRemoteMedia(_ context.Context, from string, muted, _ bool) {
	if muted {
		m.calls = append(m.calls, "media:"+from+":muted")
		return
	}
	m.calls = append(m.calls, "media:"+from)
}

func (m *recordingMachine) End(_ context.Context, from, callID string, outcome call.Outcome) {
	m.ends = append(m.ends, endCall{from, callID, outcome})
}

func TestRouterMapsEachEventOnce(t *testing.T) {
	m := &recordingMachine{}
	r := New(m, zap.NewNop())
	ctx := context.Background()

	events := []wire.Event{
		wire.IncomingCall{From: "alice", CallType: "audio", CallID: "c1"},
		wire.CallAccepted{From: "bob", CallID: "c2"},
		wire.Offer{From: "alice"},
		wire.Answer{From: "bob"},
		wire.ICECandidateEvent{From: "bob", Candidate: wire.ICECandidate{Candidate: "x"}},
		wire.MediaState{From: "bob", Muted: true},
	}
	for _, ev := range events {
		wire.Dispatch(ctx, ev, r, nil)
	}

	assert.Equal(t, []string{
		"incoming:alice",
		"accepted:bob:c2",
		"offer:alice",
		"answer:bob",
		"candidate:bob:x",
		"media:bob:muted",
	}, m.calls)
	assert.Empty(t, m.ends)
}

func TestRouterTerminalEventsEndSession(t *testing.T) {
	tests := []struct {
		name string
		ev   wire.Event
		want endCall
	}{
		{"rejected", wire.CallRejected{From: "bob", CallID: "c1"}, endCall{"bob", "c1", call.OutcomeRejected}},
		{"rejected busy", wire.CallRejected{From: "bob", CallID: "c1", Reason: "busy"}, endCall{"bob", "c1", call.OutcomeBusy}},
		{"busy", wire.CallBusy{From: "bob"}, endCall{"bob", "", call.OutcomeBusy}},
		{"failed", wire.CallFailed{From: "bob", CallID: "c1", Reason: "offline"}, endCall{"bob", "c1", call.OutcomeFailed}},
		{"ended", wire.CallEnded{From: "bob", CallID: "c1", Duration: 12}, endCall{"bob", "c1", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &recordingMachine{}
			wire.Dispatch(context.Background(), tt.ev, New(m, zap.NewNop()), nil)
			assert.Equal(t, []endCall{tt.want}, m.ends)
		})
	}
}

func TestRouterSwallowsBusy(t *testing.T) {
	m := &recordingMachine{err: call.ErrBusy}
	r := New(m, zap.NewNop())

	assert.NotPanics(t, func() {
		r.OnIncomingCall(context.Background(), wire.IncomingCall{From: "carol", CallType: "video"})
	})
}
