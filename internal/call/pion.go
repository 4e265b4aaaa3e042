package call

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/matheus3301/chatsync/internal/wire"
)

// ICEServer is a STUN/TURN server handed to new peer connections.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// PionFactory creates pion peer connections.
type PionFactory struct {
	config webrtc.Configuration
}

// NewPionFactory builds a factory using the given ICE servers.
func NewPionFactory(servers []ICEServer) *PionFactory {
	iceServers := []webrtc.ICEServer{}
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		iceServers = append(iceServers, srv)
	}
	return &PionFactory{config: webrtc.Configuration{ICEServers: iceServers}}
}

// NewPeer implements PeerFactory.
func (f *PionFactory) NewPeer(_ context.Context, events PeerEvents) (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || events.OnICECandidate == nil {
			return
		}
		init := c.ToJSON()
		events.OnICECandidate(wire.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if events.OnConnectionState != nil {
			events.OnConnectionState(ConnectionState(s.String()))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if events.OnRemoteTrack != nil {
			events.OnRemoteTrack(RemoteTrack{
				ID:       track.ID(),
				StreamID: track.StreamID(),
				Kind:     track.Kind().String(),
			})
		}
	})

	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func toPion(d wire.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromPion(d webrtc.SessionDescription) wire.SessionDescription {
	return wire.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func (p *pionPeer) CreateOffer(_ context.Context) (wire.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return wire.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

func (p *pionPeer) CreateAnswer(_ context.Context) (wire.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return wire.SessionDescription{}, err
	}
	return fromPion(answer), nil
}

func (p *pionPeer) SetLocalDescription(d wire.SessionDescription) error {
	return p.pc.SetLocalDescription(toPion(d))
}

func (p *pionPeer) SetRemoteDescription(d wire.SessionDescription) error {
	return p.pc.SetRemoteDescription(toPion(d))
}

func (p *pionPeer) AddICECandidate(c wire.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// pionTrack is implemented by local tracks that can be sent over pion.
type pionTrack interface {
	TrackLocal() webrtc.TrackLocal
}

func (p *pionPeer) AddTracks(tracks []LocalTrack) error {
	for _, t := range tracks {
		pt, ok := t.(pionTrack)
		if !ok {
			return fmt.Errorf("track %s is not a pion track", t.Kind())
		}
		if _, err := p.pc.AddTrack(pt.TrackLocal()); err != nil {
			return err
		}
	}
	return nil
}

func (p *pionPeer) SignalingState() SignalingState {
	return SignalingState(p.pc.SignalingState().String())
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

// ErrTrackStopped is returned when writing to a stopped track.
var ErrTrackStopped = errors.New("track stopped")

// SampleTrack is a local track fed with encoded samples by the embedding
// application. Samples written while the track is disabled are dropped.
type SampleTrack struct {
	track   *webrtc.TrackLocalStaticSample
	kind    string
	enabled atomic.Bool
	stopped atomic.Bool
}

func newSampleTrack(kind, mimeType, streamID string) (*SampleTrack, error) {
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, kind, streamID)
	if err != nil {
		return nil, err
	}
	t := &SampleTrack{track: tr, kind: kind}
	t.enabled.Store(true)
	return t, nil
}

func (t *SampleTrack) Kind() string                  { return t.kind }
func (t *SampleTrack) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *SampleTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *SampleTrack) Stop()                         { t.stopped.Store(true) }
func (t *SampleTrack) Stopped() bool                 { return t.stopped.Load() }
func (t *SampleTrack) TrackLocal() webrtc.TrackLocal { return t.track }

// WriteSample sends one encoded sample.
func (t *SampleTrack) WriteSample(s media.Sample) error {
	if t.stopped.Load() {
		return ErrTrackStopped
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

// SampleSource hands out Opus/VP8 sample tracks. With DisableVideo set,
// camera requests fail as if permission had been denied.
type SampleSource struct {
	DisableVideo bool
}

// Acquire implements MediaSource.
func (s *SampleSource) Acquire(ctx context.Context, m Media) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m == Video && s.DisableVideo {
		return nil, ErrPermissionDenied
	}
	streamID := "chatsync-" + uuid.NewString()

	audio, err := newSampleTrack(string(Audio), webrtc.MimeTypeOpus, streamID)
	if err != nil {
		return nil, err
	}
	local := &LocalMedia{Tracks: []LocalTrack{audio}}
	if m == Video {
		video, err := newSampleTrack(string(Video), webrtc.MimeTypeVP8, streamID)
		if err != nil {
			local.Stop()
			return nil, err
		}
		local.Tracks = append(local.Tracks, video)
	}
	return local, nil
}
