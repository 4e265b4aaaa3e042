package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
)

var errNoRemote = errors.New("remote description not set")

type fakePeer struct {
	mu        sync.Mutex
	events    PeerEvents
	sig       SignalingState
	local     *wire.SessionDescription
	remote    *wire.SessionDescription
	remoteSet int
	applied   []wire.ICECandidate
	early     int
	tracks    []LocalTrack
	closed    bool
}

func (p *fakePeer) CreateOffer(context.Context) (wire.SessionDescription, error) {
	return wire.SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer(context.Context) (wire.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return wire.SessionDescription{}, errNoRemote
	}
	return wire.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetLocalDescription(d wire.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	if d.Type == "offer" {
		p.sig = SignalingHaveLocalOffer
	} else {
		p.sig = SignalingStable
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(d wire.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &d
	p.remoteSet++
	if d.Type == "offer" {
		p.sig = SignalingHaveRemote
	} else {
		p.sig = SignalingStable
	}
	return nil
}

func (p *fakePeer) AddICECandidate(c wire.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		p.early++
		return errNoRemote
	}
	p.applied = append(p.applied, c)
	return nil
}

func (p *fakePeer) AddTracks(tracks []LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, tracks...)
	return nil
}

func (p *fakePeer) SignalingState() SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sig == "" {
		return SignalingStable
	}
	return p.sig
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.sig = SignalingClosed
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.applied))
	for i, c := range p.applied {
		out[i] = c.Candidate
	}
	return out
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (f *fakeFactory) NewPeer(_ context.Context, ev PeerEvents) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{events: ev}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

type fakeTrack struct {
	mu      sync.Mutex
	kind    string
	enabled bool
	stopped bool
}

func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) SetEnabled(b bool) {
	t.mu.Lock()
	t.enabled = b
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeMedia hands out fake tracks. When gate is set, Acquire blocks until
// the gate closes or ctx is cancelled; started receives one value per call.
type fakeMedia struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	started chan struct{}
	calls   int
	tracks  []*fakeTrack
}

func (m *fakeMedia) Acquire(ctx context.Context, media Media) (*LocalMedia, error) {
	m.mu.Lock()
	m.calls++
	gate, started, err := m.gate, m.started, m.err
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	local := &LocalMedia{}
	kinds := []string{"audio"}
	if media == Video {
		kinds = append(kinds, "video")
	}
	m.mu.Lock()
	for _, k := range kinds {
		t := &fakeTrack{kind: k, enabled: true}
		m.tracks = append(m.tracks, t)
		local.Tracks = append(local.Tracks, t)
	}
	m.mu.Unlock()
	return local, nil
}

func (m *fakeMedia) acquireCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeMedia) allStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracks {
		if !t.isStopped() {
			return false
		}
	}
	return true
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []wire.Envelope
	err  error
}

func (s *fakeSignaler) Send(_ context.Context, env wire.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSignaler) kinds() []wire.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Kind, len(s.sent))
	for i, e := range s.sent {
		out[i] = e.Event
	}
	return out
}

func (s *fakeSignaler) count(kind wire.Kind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (s *fakeSignaler) last(kind wire.Kind) (wire.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].Event == kind {
			return s.sent[i], true
		}
	}
	return wire.Envelope{}, false
}

// drain removes and returns everything sent so far.
func (s *fakeSignaler) drain() []wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

type fakeCallLog struct {
	mu      sync.Mutex
	entries []store.CallEntry
}

func (l *fakeCallLog) AppendCall(_ context.Context, e store.CallEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *fakeCallLog) all() []store.CallEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.CallEntry(nil), l.entries...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
