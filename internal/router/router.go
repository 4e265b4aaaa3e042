// Package router translates inbound call signaling events into call session
// operations. It keeps no state: the call-record id of the call in flight is
// owned by the session it belongs to.
package router

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/call"
	"github.com/matheus3301/chatsync/internal/wire"
)

// Machine is the call session surface the router drives.
type Machine interface {
	HandleIncoming(ctx context.Context, ev wire.IncomingCall) error
	HandleRemoteAccepted(ctx context.Context, from, callID string)
	HandleOffer(ctx context.Context, from string, desc wire.SessionDescription)
	HandleAnswer(ctx context.Context, from string, desc wire.SessionDescription)
	HandleCandidate(ctx context.Context, from string, c wire.ICECandidate)
	HandleRemoteMedia(ctx context.Context, from string, muted, cameraOff bool)
	End(ctx context.Context, from, callID string, outcome call.Outcome)
}

// Router implements wire.CallHandler.
type Router struct {
	machine Machine
	log     *zap.Logger
}

var _ wire.CallHandler = (*Router)(nil)

// New creates a router for machine.
func New(machine Machine, log *zap.Logger) *Router {
	return &Router{machine: machine, log: log}
}

func (r *Router) OnIncomingCall(ctx context.Context, ev wire.IncomingCall) {
	if err := r.machine.HandleIncoming(ctx, ev); err != nil {
		if errors.Is(err, call.ErrBusy) {
			r.log.Info("incoming call rejected as busy", zap.String("from", ev.From))
			return
		}
		r.log.Warn("incoming call failed", zap.String("from", ev.From), zap.Error(err))
	}
}

func (r *Router) OnCallAccepted(ctx context.Context, ev wire.CallAccepted) {
	r.machine.HandleRemoteAccepted(ctx, ev.From, ev.CallID)
}

func (r *Router) OnCallRejected(ctx context.Context, ev wire.CallRejected) {
	outcome := call.OutcomeRejected
	if ev.Reason == string(call.OutcomeBusy) {
		outcome = call.OutcomeBusy
	}
	r.log.Info("call rejected", zap.String("from", ev.From), zap.String("reason", ev.Reason))
	r.machine.End(ctx, ev.From, ev.CallID, outcome)
}

func (r *Router) OnCallEnded(ctx context.Context, ev wire.CallEnded) {
	r.machine.End(ctx, ev.From, ev.CallID, "")
}

func (r *Router) OnCallFailed(ctx context.Context, ev wire.CallFailed) {
	r.log.Warn("call failed", zap.String("from", ev.From), zap.String("reason", ev.Reason))
	r.machine.End(ctx, ev.From, ev.CallID, call.OutcomeFailed)
}

func (r *Router) OnCallBusy(ctx context.Context, ev wire.CallBusy) {
	r.machine.End(ctx, ev.From, "", call.OutcomeBusy)
}

func (r *Router) OnOffer(ctx context.Context, ev wire.Offer) {
	r.machine.HandleOffer(ctx, ev.From, ev.Description)
}

func (r *Router) OnAnswer(ctx context.Context, ev wire.Answer) {
	r.machine.HandleAnswer(ctx, ev.From, ev.Description)
}

func (r *Router) OnICECandidate(ctx context.Context, ev wire.ICECandidateEvent) {
	r.machine.HandleCandidate(ctx, ev.From, ev.Candidate)
}

func (r *Router) OnMediaState(ctx context.Context, ev wire.MediaState) {
	r.machine.HandleRemoteMedia(ctx, ev.From, ev.Muted, ev.CameraOff)
}
