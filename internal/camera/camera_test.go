package camera

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPatch(t *testing.T) {
	status := Status{State: StateClose}

	err := status.Patch(map[string]any{
		"state":               float64(StateCapturing),
		"perf_bias":           0.004,
		"current_frame":       42,
		"record_frames_count": float64(40),
	})
	require.NoError(t, err)

	assert.Equal(t, StateCapturing, status.State)
	assert.InDelta(t, 0.004, status.PerfBias, 1e-9)
	assert.Equal(t, 42, status.CurrentFrame)
	assert.Equal(t, 40, status.RecordFramesCount)
}

func TestStatusPatchUnknownField(t *testing.T) {
	status := Status{}
	err := status.Patch(map[string]any{"shutter": 1.0})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "standby", StateStandby.String())
	assert.Equal(t, "offline", StateOffline.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestFakeDriverLifecycle(t *testing.T) {
	drv := NewFakeDriver("CAM-001", 8, 6)
	require.NoError(t, drv.Open(context.Background()))

	drv.Burst(100, 3)

	frames := drv.Frames()
	for i := 0; i < 3; i++ {
		frame := <-frames
		assert.Equal(t, "CAM-001", frame.CameraID)
		assert.Equal(t, 100+i, frame.Number)
		require.NotNil(t, frame.Image)
		assert.Equal(t, 8, frame.Image.Bounds().Dx())
	}

	require.NoError(t, drv.SetParameter("exposure", 8000))
	v, ok := drv.Parameter("exposure")
	require.True(t, ok)
	assert.InDelta(t, 8000, v, 1e-9)

	require.NoError(t, drv.Retrigger())
	assert.Equal(t, 1, drv.Retriggers())

	require.NoError(t, drv.Close())
	_, more := <-frames
	assert.False(t, more)
}

func TestFakeDriverFail(t *testing.T) {
	drv := NewFakeDriver("CAM-002", 0, 0)
	require.NoError(t, drv.Open(context.Background()))

	frames := drv.Frames()
	drv.Fail()

	_, more := <-frames
	assert.False(t, more)
	assert.Error(t, drv.SetParameter("gain", 1))
}
