package call

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleSourceTracks(t *testing.T) {
	src := &SampleSource{}

	local, err := src.Acquire(context.Background(), Video)
	require.NoError(t, err)
	require.Len(t, local.Tracks, 2)
	assert.Equal(t, "audio", local.Tracks[0].Kind())
	assert.Equal(t, "video", local.Tracks[1].Kind())

	audio := local.Tracks[0].(*SampleTrack)
	audio.SetEnabled(false)
	assert.False(t, audio.Enabled())
	assert.NoError(t, audio.WriteSample(media.Sample{Data: []byte{0}, Duration: 20 * time.Millisecond}))

	local.Stop()
	assert.True(t, audio.Stopped())
	assert.ErrorIs(t, audio.WriteSample(media.Sample{Data: []byte{0}}), ErrTrackStopped)
}

func TestSampleSourceCameraDisabled(t *testing.T) {
	src := &SampleSource{DisableVideo: true}

	_, err := src.Acquire(context.Background(), Video)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	local, err := src.Acquire(context.Background(), Audio)
	require.NoError(t, err)
	assert.Len(t, local.Tracks, 1)
}

func TestSampleSourceHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&SampleSource{}).Acquire(ctx, Audio)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPionOfferAnswerExchange(t *testing.T) {
	ctx := context.Background()
	factory := NewPionFactory(nil)
	src := &SampleSource{}

	caller, err := factory.NewPeer(ctx, PeerEvents{})
	require.NoError(t, err)
	defer caller.Close()
	callee, err := factory.NewPeer(ctx, PeerEvents{})
	require.NoError(t, err)
	defer callee.Close()

	local, err := src.Acquire(ctx, Audio)
	require.NoError(t, err)
	require.NoError(t, caller.AddTracks(local.Tracks))

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	require.NoError(t, caller.SetLocalDescription(offer))
	assert.Equal(t, SignalingHaveLocalOffer, caller.SignalingState())

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	require.NoError(t, callee.SetLocalDescription(answer))

	require.NoError(t, caller.SetRemoteDescription(answer))
	assert.Equal(t, SignalingStable, caller.SignalingState())
}

func TestPionRejectsForeignTrack(t *testing.T) {
	pc, err := NewPionFactory(nil).NewPeer(context.Background(), PeerEvents{})
	require.NoError(t, err)
	defer pc.Close()

	assert.Error(t, pc.AddTracks([]LocalTrack{&fakeTrack{kind: "audio"}}))
}
