package wire

import "context"

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type" validate:"required,oneof=offer answer pranswer rollback"`
	SDP  string `json:"sdp" validate:"required"`
}

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CallHandler receives every call signaling event. Adding an event type to
// this family adds a method here, so every handler must be updated.
type CallHandler interface {
	OnIncomingCall(ctx context.Context, ev IncomingCall)
	OnCallAccepted(ctx context.Context, ev CallAccepted)
	OnCallRejected(ctx context.Context, ev CallRejected)
	OnCallEnded(ctx context.Context, ev CallEnded)
	OnCallFailed(ctx context.Context, ev CallFailed)
	OnCallBusy(ctx context.Context, ev CallBusy)
	OnOffer(ctx context.Context, ev Offer)
	OnAnswer(ctx context.Context, ev Answer)
	OnICECandidate(ctx context.Context, ev ICECandidateEvent)
	OnMediaState(ctx context.Context, ev MediaState)
}

// CallEvent is an inbound event addressed to the call session.
type CallEvent interface {
	Event
	VisitCall(ctx context.Context, h CallHandler)
}

// IncomingCall announces a call from another user. CallID is the
// server-persisted call record.
type IncomingCall struct {
	From         string `json:"from" validate:"required"`
	CallType     string `json:"callType" validate:"required,oneof=audio video"`
	CallID       string `json:"callId"`
	CallerName   string `json:"callerName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
}

type CallAccepted struct {
	From   string `json:"from" validate:"required"`
	CallID string `json:"callId"`
}

type CallRejected struct {
	From   string `json:"from"`
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type CallEnded struct {
	From     string `json:"from"`
	CallID   string `json:"callId"`
	Duration int    `json:"duration"`
}

type CallFailed struct {
	From   string `json:"from"`
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type CallBusy struct {
	From string `json:"from"`
}

type Offer struct {
	From        string             `json:"from" validate:"required"`
	Description SessionDescription `json:"description"`
}

type Answer struct {
	From        string             `json:"from" validate:"required"`
	Description SessionDescription `json:"description"`
}

type ICECandidateEvent struct {
	From      string       `json:"from" validate:"required"`
	Candidate ICECandidate `json:"candidate"`
}

// MediaState carries the remote side's mute/camera flags.
type MediaState struct {
	From      string `json:"from" validate:"required"`
	Muted     bool   `json:"muted"`
	CameraOff bool   `json:"cameraOff"`
}

func (IncomingCall) Kind() Kind      { return KindIncomingCall }
func (CallAccepted) Kind() Kind      { return KindCallAccepted }
func (CallRejected) Kind() Kind      { return KindCallRejected }
func (CallEnded) Kind() Kind         { return KindCallEnded }
func (CallFailed) Kind() Kind        { return KindCallFailed }
func (CallBusy) Kind() Kind          { return KindCallBusy }
func (Offer) Kind() Kind             { return KindOffer }
func (Answer) Kind() Kind            { return KindAnswer }
func (ICECandidateEvent) Kind() Kind { return KindICECandidate }
func (MediaState) Kind() Kind        { return KindMediaState }

func (IncomingCall) isEvent()      {}
func (CallAccepted) isEvent()      {}
func (CallRejected) isEvent()      {}
func (CallEnded) isEvent()         {}
func (CallFailed) isEvent()        {}
func (CallBusy) isEvent()          {}
func (Offer) isEvent()             {}
func (Answer) isEvent()            {}
func (ICECandidateEvent) isEvent() {}
func (MediaState) isEvent()        {}

func (e IncomingCall) VisitCall(ctx context.Context, h CallHandler)      { h.OnIncomingCall(ctx, e) }
func (e CallAccepted) VisitCall(ctx context.Context, h CallHandler)      { h.OnCallAccepted(ctx, e) }
func (e CallRejected) VisitCall(ctx context.Context, h CallHandler)      { h.OnCallRejected(ctx, e) }
func (e CallEnded) VisitCall(ctx context.Context, h CallHandler)         { h.OnCallEnded(ctx, e) }
func (e CallFailed) VisitCall(ctx context.Context, h CallHandler)        { h.OnCallFailed(ctx, e) }
func (e CallBusy) VisitCall(ctx context.Context, h CallHandler)          { h.OnCallBusy(ctx, e) }
func (e Offer) VisitCall(ctx context.Context, h CallHandler)             { h.OnOffer(ctx, e) }
func (e Answer) VisitCall(ctx context.Context, h CallHandler)            { h.OnAnswer(ctx, e) }
func (e ICECandidateEvent) VisitCall(ctx context.Context, h CallHandler) { h.OnICECandidate(ctx, e) }
func (e MediaState) VisitCall(ctx context.Context, h CallHandler)        { h.OnMediaState(ctx, e) }
