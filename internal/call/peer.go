package call

import (
	"context"

	"github.com/matheus3301/chatsync/internal/wire"
)

// ConnectionState mirrors RTCPeerConnectionState.
type ConnectionState string

const (
	ConnNew          ConnectionState = "new"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnFailed       ConnectionState = "failed"
	ConnClosed       ConnectionState = "closed"
)

// SignalingState mirrors RTCSignalingState.
type SignalingState string

const (
	SignalingStable         SignalingState = "stable"
	SignalingHaveLocalOffer SignalingState = "have-local-offer"
	SignalingHaveRemote     SignalingState = "have-remote-offer"
	SignalingClosed         SignalingState = "closed"
)

// PeerConnection is the subset of a WebRTC peer connection the machine drives.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (wire.SessionDescription, error)
	CreateAnswer(ctx context.Context) (wire.SessionDescription, error)
	SetLocalDescription(desc wire.SessionDescription) error
	SetRemoteDescription(desc wire.SessionDescription) error
	AddICECandidate(c wire.ICECandidate) error
	AddTracks(tracks []LocalTrack) error
	SignalingState() SignalingState
	Close() error
}

// RemoteTrack describes a track received from the peer.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
}

// PeerEvents are the callbacks a peer connection reports through. They may
// be invoked from any goroutine.
type PeerEvents struct {
	OnICECandidate    func(c wire.ICECandidate)
	OnConnectionState func(s ConnectionState)
	OnRemoteTrack     func(t RemoteTrack)
}

// PeerFactory creates peer connections.
type PeerFactory interface {
	NewPeer(ctx context.Context, events PeerEvents) (PeerConnection, error)
}

// Signaler delivers outbound envelopes to the Transport.
type Signaler interface {
	Send(ctx context.Context, env wire.Envelope) error
}
