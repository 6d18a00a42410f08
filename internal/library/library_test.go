package library

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/database"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/repository"
	"github.com/fourdrec/fourdrec/internal/storage"
)

func newTestLibrary(t *testing.T) *Library {
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

	return New(
		repository.NewProjectRepository(db.DB),
		repository.NewShotRepository(db.DB),
		repository.NewJobRepository(db.DB),
		sandbox,
		nil,
	)
}

func recordShot(t *testing.T, lib *Library, shot *models.Shot, start, end int) {
	t.Helper()
	shot.StartFrame = &start
	shot.EndFrame = &end
	require.NoError(t, shot.AdvanceState(models.ShotStateRecorded))
	require.NoError(t, lib.UpdateShot(context.Background(), shot))
}

func TestCreateHierarchyMakesFolders(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "Dance Scene")
	require.NoError(t, err)
	assert.Equal(t, "Dance_Scene", project.FolderName)

	shot, err := lib.CreateShot(ctx, project.ID, "take 01", false)
	require.NoError(t, err)
	assert.Equal(t, "take_01", shot.FolderName)

	recordShot(t, lib, shot, 0, 9)
	job, err := lib.CreateJob(ctx, shot.ID, "final", 0, 9, models.DefaultJobParms())
	require.NoError(t, err)
	assert.Equal(t, 0, job.OffsetFrame)

	for _, rel := range []string{
		storage.ProjectRel("Dance_Scene"),
		storage.ShotRel("Dance_Scene", "take_01"),
		storage.JobRel("Dance_Scene", "take_01", "final"),
	} {
		exists, err := lib.Sandbox().Exists(rel)
		require.NoError(t, err)
		assert.True(t, exists, rel)
	}
}

func TestCreateShotFolderNamesStayUnique(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "demo")
	require.NoError(t, err)

	first, err := lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)
	second, err := lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)
	third, err := lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)

	assert.Equal(t, "take", first.FolderName)
	assert.Equal(t, "take_2", second.FolderName)
	assert.Equal(t, "take_3", third.FolderName)
}

func TestCreateJobTwiceMakesDistinctJobs(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "demo")
	require.NoError(t, err)
	shot, err := lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)
	recordShot(t, lib, shot, 0, 9)

	first, err := lib.CreateJob(ctx, shot.ID, "res", 0, 9, models.DefaultJobParms())
	require.NoError(t, err)
	second, err := lib.CreateJob(ctx, shot.ID, "res", 0, 9, models.DefaultJobParms())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "res", first.FolderName)
	assert.Equal(t, "res_2", second.FolderName)
}

func TestCreateJobRequiresRecordedShot(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "demo")
	require.NoError(t, err)
	shot, err := lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)

	_, err = lib.CreateJob(ctx, shot.ID, "job", 0, 9, models.DefaultJobParms())
	assert.ErrorIs(t, err, models.ErrShotNotRecorded)

	recordShot(t, lib, shot, 5, 17)

	_, err = lib.CreateJob(ctx, shot.ID, "job", 0, 9, models.DefaultJobParms())
	assert.ErrorIs(t, err, models.ErrInvalidFrameRange)

	job, err := lib.CreateJob(ctx, shot.ID, "job", 5, 17, models.DefaultJobParms())
	require.NoError(t, err)
	assert.Equal(t, 5, job.OffsetFrame)
	start, end := job.FarmFrameRange()
	assert.Equal(t, 0, start)
	assert.Equal(t, 12, end)
}

func TestRemoveProjectCascadesChildrenFirst(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "demo")
	require.NoError(t, err)
	shot, err := lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)
	recordShot(t, lib, shot, 0, 4)
	job, err := lib.CreateJob(ctx, shot.ID, "job", 0, 4, models.DefaultJobParms())
	require.NoError(t, err)

	var removed []models.ULID
	lib.RegisterCallback(func(ev Event) {
		if ev.Kind != EventRemove {
			return
		}
		switch e := ev.Entity.(type) {
		case *models.Project:
			removed = append(removed, e.ID)
		case *models.Shot:
			removed = append(removed, e.ID)
		case *models.Job:
			removed = append(removed, e.ID)
		}
	})

	require.NoError(t, lib.RemoveProject(ctx, project.ID))

	require.Equal(t, []models.ULID{job.ID, shot.ID, project.ID}, removed)

	_, err = lib.Shot(ctx, shot.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = lib.Job(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := lib.Sandbox().Exists(storage.ProjectRel(project.FolderName))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRemoveShotKeepsSiblings(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "demo")
	require.NoError(t, err)
	doomed, err := lib.CreateShot(ctx, project.ID, "doomed", false)
	require.NoError(t, err)
	kept, err := lib.CreateShot(ctx, project.ID, "kept", false)
	require.NoError(t, err)

	require.NoError(t, lib.RemoveShot(ctx, doomed.ID))

	_, err = lib.Shot(ctx, doomed.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := lib.Shot(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Name)

	exists, err := lib.Sandbox().Exists(storage.ShotRel(project.FolderName, kept.FolderName))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPanickingCallbackIsAutoRemoved(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	var sawAfterPanic, healthyCalls int
	lib.RegisterCallback(func(Event) {
		sawAfterPanic++
		panic("bad listener")
	})
	lib.RegisterCallback(func(Event) { healthyCalls++ })

	_, err := lib.CreateProject(ctx, "one")
	require.NoError(t, err)
	_, err = lib.CreateProject(ctx, "two")
	require.NoError(t, err)

	// The panicking listener ran once, then was dropped; the healthy one
	// kept receiving events.
	assert.Equal(t, 1, sawAfterPanic)
	assert.Equal(t, 2, healthyCalls)
}

func TestUnregisterCallbackStopsDelivery(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	var calls int
	id := lib.RegisterCallback(func(Event) { calls++ })

	_, err := lib.CreateProject(ctx, "one")
	require.NoError(t, err)
	lib.UnregisterCallback(id)
	_, err = lib.CreateProject(ctx, "two")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestUpdateEmitsModify(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "demo")
	require.NoError(t, err)

	var modified int
	lib.RegisterCallback(func(ev Event) {
		if ev.Kind == EventModify {
			modified++
		}
	})

	project.Name = "renamed"
	require.NoError(t, lib.UpdateProject(ctx, project))
	require.NoError(t, lib.UpdateProject(ctx, project))

	got, err := lib.Project(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "demo", got.FolderName)
	assert.Equal(t, 2, modified)
}

func TestShotCacheProgress(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "demo")
	require.NoError(t, err)
	shot, err := lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)

	var progressEvents int
	lib.RegisterCallback(func(ev Event) {
		if ev.Kind == EventProgress {
			progressEvents++
		}
	})

	lib.MarkShotFullRes(shot, "cam-a", 3)
	lib.MarkShotFullRes(shot, "cam-a", 1)
	lib.MarkShotThumbnail(shot, "cam-a", 1)
	lib.MarkShotThumbnail(shot, "cam-b", 1)
	lib.MarkShotThumbnail(shot, "cam-a", 2)

	state := lib.ShotCache(shot.ID, 4)
	assert.Equal(t, []int{1, 3}, state.FullResFrames["cam-a"])
	assert.InDelta(t, 0.5, state.ThumbnailFractions[1], 1e-9)
	assert.InDelta(t, 0.25, state.ThumbnailFractions[2], 1e-9)
	assert.Equal(t, 5, progressEvents)
}

func TestJobCacheProgress(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "demo")
	require.NoError(t, err)
	shot, err := lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)
	recordShot(t, lib, shot, 0, 9)
	job, err := lib.CreateJob(ctx, shot.ID, "job", 0, 9, models.DefaultJobParms())
	require.NoError(t, err)

	lib.MarkJobFrameCached(job, 2)
	lib.MarkJobFrameCached(job, 0)
	lib.MarkJobFrameCached(job, 2)

	assert.True(t, lib.JobFrameCached(job.ID, 0))
	assert.False(t, lib.JobFrameCached(job.ID, 1))
	assert.Equal(t, []int{0, 2}, lib.JobCachedFrames(job.ID))

	lib.ClearJobCacheProgress(job.ID)
	assert.Empty(t, lib.JobCachedFrames(job.ID))
}

func TestJobPathWalksHierarchy(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "proj")
	require.NoError(t, err)
	shot, err := lib.CreateShot(ctx, project.ID, "take", false)
	require.NoError(t, err)
	recordShot(t, lib, shot, 0, 1)
	job, err := lib.CreateJob(ctx, shot.ID, "job", 0, 1, models.DefaultJobParms())
	require.NoError(t, err)

	rel, err := lib.JobPath(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, storage.JobRel("proj", "take", "job"), rel)

	shotRel, err := lib.ShotPath(ctx, shot)
	require.NoError(t, err)
	assert.Equal(t, storage.ShotRel("proj", "take"), shotRel)
}

func TestSanitizeFolderName(t *testing.T) {
	cases := map[string]string{
		"Dance Scene":  "Dance_Scene",
		"  trimmed  ":  "trimmed",
		"a/b\\c":       "a_b_c",
		"..":           "untitled",
		"":             "untitled",
		"__ __":        "untitled",
		"ok-name.v2":   "ok-name.v2",
		"shot:42?fine": "shot_42_fine",
	}
	for input, want := range cases {
		assert.Equal(t, want, sanitizeFolderName(input), "input %q", input)
	}
}
