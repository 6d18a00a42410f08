package slave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/bus"
	"github.com/fourdrec/fourdrec/internal/camera"
	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/worker"
)

type messageSink struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func (s *messageSink) send(m bus.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *messageSink) byKind(kind bus.Kind) []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bus.Message
	for _, m := range s.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func newTestRuntime(t *testing.T) (*Runtime, *camera.FakeDriver, *messageSink) {
	t.Helper()
	log := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	pool := worker.NewPool(2, log)
	t.Cleanup(pool.Close)

	drive := t.TempDir()
	driver := camera.NewFakeDriver("cam-a", 16, 12)
	sink := &messageSink{}
	rt := NewRuntime(driver, RuntimeDeps{
		Log:        log,
		Send:       sink.send,
		Encoders:   pool,
		NextDrive:  func() string { return drive },
		QueueDepth: 8,
	})
	t.Cleanup(rt.Stop)
	return rt, driver, sink
}

func TestRuntimeRecordLifecycle(t *testing.T) {
	rt, driver, _ := newTestRuntime(t)
	ctx := context.Background()

	assert.Equal(t, camera.StateClose, rt.Status().State)

	require.NoError(t, rt.StartRecording(ctx, "shot-1"))
	assert.Equal(t, camera.StateStandby, rt.Status().State)
	assert.True(t, rt.Recording())

	for _, frame := range []int{10, 11, 13} {
		driver.Emit(frame)
	}
	require.Eventually(t, func() bool {
		return rt.Status().RecordFramesCount == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, camera.StateCapturing, rt.Status().State)
	assert.Equal(t, 13, rt.Status().CurrentFrame)

	report, err := rt.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, "cam-a", report.CameraID)
	assert.Equal(t, "shot-1", report.ShotID)
	assert.Equal(t, [2]int{10, 13}, report.Range)
	assert.Equal(t, []int{12}, report.Missing)
	assert.Positive(t, report.Size)
	assert.Equal(t, camera.StateStandby, rt.Status().State)
	assert.False(t, rt.Recording())
}

func TestRuntimeStopRecordingWithoutStart(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	_, err := rt.StopRecording()
	assert.Error(t, err)
}

func TestRuntimeEmptyRecordingReportsEmptyRange(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	require.NoError(t, rt.StartRecording(context.Background(), "shot-1"))

	report, err := rt.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, [2]int{0, -1}, report.Range)
	assert.Empty(t, report.Missing)
}

func TestRuntimeLiveViewEmitsPreviews(t *testing.T) {
	rt, driver, sink := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.SetLiveView(ctx, true, 70, 8))
	assert.Equal(t, camera.StateStandby, rt.Status().State)

	driver.Emit(1)
	require.Eventually(t, func() bool {
		return len(sink.byKind(bus.KindLiveViewImage)) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	preview := sink.byKind(bus.KindLiveViewImage)[0]
	assert.Equal(t, "cam-a", preview.Header[bus.HeaderCameraID])
	frame, err := preview.Header.Int(bus.HeaderFrame)
	require.NoError(t, err)
	assert.Equal(t, 1, frame)
	assert.NotEmpty(t, preview.Payload)

	// Turning live view off stops the stream without closing the camera.
	require.NoError(t, rt.SetLiveView(ctx, false, 70, 8))
	before := len(sink.byKind(bus.KindLiveViewImage))
	driver.Emit(2)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, len(sink.byKind(bus.KindLiveViewImage)))
	assert.Equal(t, camera.StateStandby, rt.Status().State)
}

func TestRuntimeDriverDeathGoesOffline(t *testing.T) {
	log := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	pool := worker.NewPool(2, log)
	t.Cleanup(pool.Close)

	faults := make(chan string, 1)
	driver := camera.NewFakeDriver("cam-a", 16, 12)
	rt := NewRuntime(driver, RuntimeDeps{
		Log:        log,
		Send:       func(bus.Message) {},
		Encoders:   pool,
		NextDrive:  t.TempDir,
		OnFault:    func(serial string, err error) { faults <- serial },
		QueueDepth: 8,
	})
	t.Cleanup(rt.Stop)
	ctx := context.Background()

	require.NoError(t, rt.SetLiveView(ctx, true, 70, 0))
	driver.Fail()

	select {
	case serial := <-faults:
		assert.Equal(t, "cam-a", serial)
	case <-time.After(2 * time.Second):
		t.Fatal("fault callback not invoked")
	}
	require.Eventually(t, func() bool {
		return rt.Status().State == camera.StateOffline
	}, 2*time.Second, 5*time.Millisecond)
}
