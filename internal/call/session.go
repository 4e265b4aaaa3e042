package call

import (
	"time"

	"github.com/matheus3301/chatsync/internal/wire"
)

// Direction tells which side placed the call.
type Direction string

const (
	Outgoing Direction = "caller"
	Incoming Direction = "callee"
)

// Outcome is how a session ended, as recorded in the call log.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeMissed     Outcome = "missed"
	OutcomeDeclined   Outcome = "declined"
	OutcomeRejected   Outcome = "rejected"
	OutcomeBusy       Outcome = "busy"
	OutcomeFailed     Outcome = "failed"
	OutcomeMediaError Outcome = "media-error"
)

// session is the single active call. Every field is guarded by Machine.mu.
type session struct {
	epoch      uint64
	peer       string
	direction  Direction
	media      Media
	callID     string
	callerName string

	pc            PeerConnection
	local         *LocalMedia
	cancelAcquire func()
	remoteTracks  []RemoteTrack

	muted           bool
	cameraOff       bool
	remoteMuted     bool
	remoteCameraOff bool
	conn            ConnectionState

	// caller: offer generated at initiate, held until call-accepted
	localOffer *wire.SessionDescription
	announced  bool
	accepted   bool
	offerSent  bool

	// callee: newest offer received before the peer connection was ready
	pendingOffer *wire.SessionDescription
	ready        bool

	remoteSet  bool
	pendingICE []wire.ICECandidate

	// local candidates are held until our description has been signaled
	signaled bool
	localICE []wire.ICECandidate

	createdAt   time.Time
	connectedAt time.Time
}

func (s *session) duration(now time.Time) time.Duration {
	if s.connectedAt.IsZero() {
		return 0
	}
	d := now.Sub(s.connectedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Info is a point-in-time snapshot of the call session.
type Info struct {
	State             State
	Peer              string
	Direction         Direction
	Media             Media
	CallID            string
	CallerName        string
	Muted             bool
	CameraOff         bool
	RemoteMuted       bool
	RemoteCameraOff   bool
	Connection        ConnectionState
	PendingCandidates int
	RemoteTracks      []RemoteTrack
	StartedAt         time.Time
	ConnectedAt       time.Time
}

// StateChange is the payload of call.state_changed notifications.
type StateChange struct {
	From    State
	To      State
	Trigger string
	Info    Info
}

// Ended is the payload of call.ended notifications.
type Ended struct {
	Peer      string
	CallID    string
	Direction Direction
	Media     Media
	Outcome   Outcome
	Duration  time.Duration
}

// MediaNotice is published when local media cannot be acquired.
type MediaNotice struct {
	Peer   string
	Media  Media
	Reason string
}
