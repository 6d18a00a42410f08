package slave

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/bus"
	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/storage"
	"github.com/fourdrec/fourdrec/internal/worker"
)

func newTestSubmitter(t *testing.T, cfg config.SubmitConfig) (*Submitter, *storage.Sandbox, *messageSink) {
	t.Helper()
	log := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	pool := worker.NewPool(2, log)
	t.Cleanup(pool.Close)

	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	sink := &messageSink{}
	return NewSubmitter(sandbox, cfg, pool, sink.send, log), sandbox, sink
}

func buildShotReader(t *testing.T, frames ...int) *ShotReader {
	t.Helper()
	path := ShotFilePath(t.TempDir(), "shot-1", "cam-a")
	w, err := CreateShotFile(path)
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, w.Append(f, testFrame(f)))
	}
	require.NoError(t, w.Close())

	r, err := OpenShotFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSubmitterPublishesAndReports(t *testing.T) {
	sub, sandbox, sink := newTestSubmitter(t, config.SubmitConfig{JpegQuality: 85})
	reader := buildShotReader(t, 0, 1, 3, 4) // frame 2 was never captured

	order := bus.SubmitShot{
		ShotID:     "shot-1",
		JobName:    "job01",
		ShotPath:   "proj/shots/take01",
		StartFrame: 0,
		EndFrame:   4,
	}
	require.NoError(t, sub.Submit(context.Background(), order, "cam-a", reader))

	// Photos exist for captured frames only; the gap stays a gap.
	for _, frame := range []int{0, 1, 3, 4} {
		exists, err := sandbox.Exists(storage.PhotoRel(order.ShotPath, "cam-a", frame))
		require.NoError(t, err)
		assert.True(t, exists, "frame %d", frame)
	}
	exists, err := sandbox.Exists(storage.PhotoRel(order.ShotPath, "cam-a", 2))
	require.NoError(t, err)
	assert.False(t, exists)

	// One report per frame, done strictly increasing up to total.
	reports := sink.byKind(bus.KindSubmitReport)
	require.Len(t, reports, 5)
	for i, m := range reports {
		rep, err := bus.DecodeJSON[bus.SubmitReport](m)
		require.NoError(t, err)
		assert.Equal(t, i+1, rep.Done)
		assert.Equal(t, 5, rep.Total)
		assert.Equal(t, "cam-a", rep.CameraID)
		assert.Equal(t, "job01", rep.JobName)
	}
}

func TestSubmitterBypassesExistingWithinBand(t *testing.T) {
	sub, sandbox, sink := newTestSubmitter(t, config.SubmitConfig{JpegQuality: 85})
	reader := buildShotReader(t, 0)

	order := bus.SubmitShot{
		ShotID:     "shot-1",
		JobName:    "job01",
		ShotPath:   "proj/shots/take01",
		StartFrame: 0,
		EndFrame:   0,
	}
	require.NoError(t, sub.Submit(context.Background(), order, "cam-a", reader))

	rel := storage.PhotoRel(order.ShotPath, "cam-a", 0)
	info, err := sandbox.Stat(rel)
	require.NoError(t, err)

	// Re-submit with the expected size set to the real size: the file is
	// inside the band and must not be rewritten.
	sentinel := []byte("sentinel-not-a-jpeg-")
	for int64(len(sentinel)) < info.Size() {
		sentinel = append(sentinel, 'x')
	}
	sentinel = sentinel[:info.Size()]
	require.NoError(t, sandbox.WriteFile(rel, sentinel))

	sub.cfg.BypassExistSize = config.ByteSize(info.Size())
	require.NoError(t, sub.Submit(context.Background(), order, "cam-a", reader))

	data, err := sandbox.ReadFile(rel)
	require.NoError(t, err)
	assert.Equal(t, sentinel, data, "existing photo inside the band was rewritten")

	// A file far outside the band is replaced.
	require.NoError(t, sandbox.WriteFile(rel, []byte("tiny")))
	require.NoError(t, sub.Submit(context.Background(), order, "cam-a", reader))
	data, err = sandbox.ReadFile(rel)
	require.NoError(t, err)
	assert.NotEqual(t, []byte("tiny"), data)
	assert.Greater(t, len(data), 100)

	// Every pass still reported each frame.
	assert.Len(t, sink.byKind(bus.KindSubmitReport), 3)
}

func TestSubmitterEmptyRangeFails(t *testing.T) {
	sub, _, _ := newTestSubmitter(t, config.SubmitConfig{JpegQuality: 85})
	reader := buildShotReader(t, 0)

	order := bus.SubmitShot{ShotID: "shot-1", JobName: "job01", ShotPath: "p", StartFrame: 3, EndFrame: 2}
	assert.Error(t, sub.Submit(context.Background(), order, "cam-a", reader))
}
