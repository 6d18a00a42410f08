package master

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/bus"
	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/database"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/repository"
	"github.com/fourdrec/fourdrec/internal/storage"
)

func newTestLibrary(t *testing.T) *library.Library {
	t.Helper()

	cfg := config.DatabaseConfig{
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}
	db, err := database.New(cfg, nil, &database.Options{PrepareStmt: false})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	return library.New(
		repository.NewProjectRepository(db.DB),
		repository.NewShotRepository(db.DB),
		repository.NewJobRepository(db.DB),
		sandbox,
		nil,
	)
}

// broadcastSink captures recorder broadcasts.
type broadcastSink struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func (b *broadcastSink) send(m bus.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

func (b *broadcastSink) kinds() []bus.Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Kind, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = m.Kind
	}
	return out
}

type progressCall struct {
	shotID, jobName string
	done, total     int
}

type recorderFixture struct {
	lib      *library.Library
	recorder *Recorder
	sink     *broadcastSink
	shot     *models.Shot

	progMu   sync.Mutex
	progress []progressCall
}

func newRecorderFixture(t *testing.T, serials ...string) *recorderFixture {
	t.Helper()
	if len(serials) == 0 {
		serials = []string{"cam-a", "cam-b"}
	}
	f := &recorderFixture{
		lib:  newTestLibrary(t),
		sink: &broadcastSink{},
	}
	registry := NewRegistry(serials, time.Minute, testLogger())
	f.recorder = NewRecorder(f.lib, registry, f.sink.send, func(shotID, jobName string, done, total int) {
		f.progMu.Lock()
		f.progress = append(f.progress, progressCall{shotID, jobName, done, total})
		f.progMu.Unlock()
	}, testLogger())

	ctx := context.Background()
	project, err := f.lib.CreateProject(ctx, "demo")
	require.NoError(t, err)
	f.shot, err = f.lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)
	return f
}

func report(cameraID, shotID string, start, end int, missing []int, size int64) bus.RecordReport {
	return bus.RecordReport{
		CameraID: cameraID,
		ShotID:   shotID,
		Missing:  missing,
		Range:    [2]int{start, end},
		Size:     size,
	}
}

func TestRecordAggregation(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	shotID := f.shot.ID.String()

	var events []library.Event
	f.lib.RegisterCallback(func(ev library.Event) { events = append(events, ev) })

	require.NoError(t, f.recorder.StartRecording(ctx, f.shot.ID))
	assert.True(t, f.recorder.Recording())
	require.NoError(t, f.recorder.StopRecording(ctx))
	assert.Equal(t, []bus.Kind{bus.KindToggleRecording, bus.KindToggleRecording}, f.sink.kinds())

	f.recorder.HandleRecordReport(ctx, report("cam-a", shotID, 100, 109, []int{103}, 1000))

	// One camera still owes its report; the shot must stay untouched.
	mid, err := f.lib.Shot(ctx, f.shot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShotStateCreated, mid.State)
	assert.True(t, f.recorder.Recording())

	f.recorder.HandleRecordReport(ctx, report("cam-b", shotID, 100, 109, nil, 2000))

	final, err := f.lib.Shot(ctx, f.shot.ID)
	require.NoError(t, err)
	start, end, ok := final.FrameRange()
	require.True(t, ok)
	assert.Equal(t, 100, start)
	assert.Equal(t, 109, end)
	assert.Equal(t, models.MissingFrameMap{"cam-a": []int{103}}, final.MissingFrames)
	assert.Equal(t, int64(3000), final.Size)
	assert.Equal(t, models.ShotStateRecorded, final.State)
	assert.False(t, f.recorder.Recording())

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, library.EventModify, last.Kind)
	updated, ok := last.Entity.(*models.Shot)
	require.True(t, ok)
	assert.Equal(t, models.ShotStateRecorded, updated.State)
}

func TestRecordRangeIsIntersection(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	shotID := f.shot.ID.String()

	require.NoError(t, f.recorder.StartRecording(ctx, f.shot.ID))
	require.NoError(t, f.recorder.StopRecording(ctx))
	f.recorder.HandleRecordReport(ctx, report("cam-a", shotID, 100, 109, nil, 10))
	f.recorder.HandleRecordReport(ctx, report("cam-b", shotID, 102, 107, nil, 10))

	final, err := f.lib.Shot(ctx, f.shot.ID)
	require.NoError(t, err)
	start, end, ok := final.FrameRange()
	require.True(t, ok)
	assert.Equal(t, 102, start)
	assert.Equal(t, 107, end)
}

func TestRecordFirstReportPerCameraWins(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	shotID := f.shot.ID.String()

	require.NoError(t, f.recorder.StartRecording(ctx, f.shot.ID))
	require.NoError(t, f.recorder.StopRecording(ctx))
	f.recorder.HandleRecordReport(ctx, report("cam-a", shotID, 100, 109, nil, 500))
	f.recorder.HandleRecordReport(ctx, report("cam-a", shotID, 0, 9, []int{5}, 9999))
	f.recorder.HandleRecordReport(ctx, report("cam-b", shotID, 100, 109, nil, 500))

	final, err := f.lib.Shot(ctx, f.shot.ID)
	require.NoError(t, err)
	start, end, _ := final.FrameRange()
	assert.Equal(t, 100, start)
	assert.Equal(t, 109, end)
	assert.Equal(t, int64(1000), final.Size)
	assert.Empty(t, final.MissingFrames)
}

func TestRecordEmptyCameraRangeSkipped(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	shotID := f.shot.ID.String()

	require.NoError(t, f.recorder.StartRecording(ctx, f.shot.ID))
	require.NoError(t, f.recorder.StopRecording(ctx))
	f.recorder.HandleRecordReport(ctx, report("cam-a", shotID, 100, 109, nil, 500))
	f.recorder.HandleRecordReport(ctx, report("cam-b", shotID, 0, -1, nil, 0))

	final, err := f.lib.Shot(ctx, f.shot.ID)
	require.NoError(t, err)
	start, end, ok := final.FrameRange()
	require.True(t, ok)
	assert.Equal(t, 100, start)
	assert.Equal(t, 109, end)
	assert.Equal(t, models.ShotStateRecorded, final.State)
}

func TestRecordNoValidRangeLeavesShotUnrecorded(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	shotID := f.shot.ID.String()

	require.NoError(t, f.recorder.StartRecording(ctx, f.shot.ID))
	require.NoError(t, f.recorder.StopRecording(ctx))
	f.recorder.HandleRecordReport(ctx, report("cam-a", shotID, 0, -1, nil, 0))
	f.recorder.HandleRecordReport(ctx, report("cam-b", shotID, 0, -1, nil, 0))

	final, err := f.lib.Shot(ctx, f.shot.ID)
	require.NoError(t, err)
	_, _, ok := final.FrameRange()
	assert.False(t, ok)
	assert.Equal(t, models.ShotStateCreated, final.State)
	assert.False(t, f.recorder.Recording())
}

func TestRecorderSingleActiveRecording(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.recorder.StopRecording(ctx), ErrNoRecording)
	require.NoError(t, f.recorder.StartRecording(ctx, f.shot.ID))
	require.ErrorIs(t, f.recorder.StartRecording(ctx, f.shot.ID), ErrRecordingActive)
}

func TestRecorderRefusesSubmittedShot(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	start, end := 0, 9
	f.shot.StartFrame = &start
	f.shot.EndFrame = &end
	require.NoError(t, f.shot.AdvanceState(models.ShotStateSubmitted))
	require.NoError(t, f.lib.UpdateShot(ctx, f.shot))

	assert.Error(t, f.recorder.StartRecording(ctx, f.shot.ID))
}

func TestRecorderOfflineCameraUnblocksAggregation(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	shotID := f.shot.ID.String()

	require.NoError(t, f.recorder.StartRecording(ctx, f.shot.ID))
	require.NoError(t, f.recorder.StopRecording(ctx))
	f.recorder.HandleRecordReport(ctx, report("cam-a", shotID, 100, 109, nil, 500))

	assert.True(t, f.recorder.Recording())
	f.recorder.CameraOffline(ctx, "cam-b")

	final, err := f.lib.Shot(ctx, f.shot.ID)
	require.NoError(t, err)
	start, end, ok := final.FrameRange()
	require.True(t, ok)
	assert.Equal(t, 100, start)
	assert.Equal(t, 109, end)
	assert.False(t, f.recorder.Recording())
}

func TestSubmitProgressSumsCameras(t *testing.T) {
	f := newRecorderFixture(t)

	tick := func(cam string, done int) {
		f.recorder.HandleSubmitReport(bus.SubmitReport{
			CameraID: cam,
			ShotID:   "shot-1",
			JobName:  "job01",
			Done:     done,
			Total:    3,
		})
	}
	tick("cam-a", 1)
	tick("cam-b", 1)
	tick("cam-a", 2)
	tick("cam-a", 3)
	tick("cam-b", 2)
	tick("cam-b", 3)

	f.progMu.Lock()
	defer f.progMu.Unlock()
	require.Len(t, f.progress, 6)
	assert.Equal(t, progressCall{"shot-1", "job01", 1, 3}, f.progress[0])
	assert.Equal(t, progressCall{"shot-1", "job01", 2, 6}, f.progress[1])
	assert.Equal(t, progressCall{"shot-1", "job01", 6, 6}, f.progress[5])
}
