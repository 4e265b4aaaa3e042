package call

import "context"

// Media is the kind of call.
type Media string

const (
	Audio Media = "audio"
	Video Media = "video"
)

// LocalTrack is a captured local track.
type LocalTrack interface {
	Kind() string
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
}

// LocalMedia is the set of tracks acquired for one session.
type LocalMedia struct {
	Tracks []LocalTrack
}

// Stop releases every track.
func (l *LocalMedia) Stop() {
	if l == nil {
		return
	}
	for _, t := range l.Tracks {
		t.Stop()
	}
}

// setEnabled toggles tracks of the given kind and reports whether any matched.
func (l *LocalMedia) setEnabled(kind string, enabled bool) bool {
	if l == nil {
		return false
	}
	found := false
	for _, t := range l.Tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
			found = true
		}
	}
	return found
}

// MediaSource acquires local capture tracks. Acquire must honor ctx
// cancellation and release anything it opened when it fails.
type MediaSource interface {
	Acquire(ctx context.Context, media Media) (*LocalMedia, error)
}
