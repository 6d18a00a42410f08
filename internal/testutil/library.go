package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/database"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/repository"
	"github.com/fourdrec/fourdrec/internal/storage"
)

// NewLibrary builds a library over a throwaway sqlite store and sandbox.
func NewLibrary(t testing.TB) *library.Library {
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

// RecordShot marks a shot recorded over the absolute frame range [start, end].
func RecordShot(t testing.TB, lib *library.Library, shot *models.Shot, start, end int) {
	t.Helper()
	shot.StartFrame = &start
	shot.EndFrame = &end
	require.NoError(t, shot.AdvanceState(models.ShotStateRecorded))
	require.NoError(t, lib.UpdateShot(context.Background(), shot))
}

// SeedJob creates a project, a recorded shot over [start, end] and a job
// covering the whole range, returning the job.
func SeedJob(t testing.TB, lib *library.Library, start, end int) *models.Job {
	t.Helper()
	ctx := context.Background()

	project, err := lib.CreateProject(ctx, "proj")
	require.NoError(t, err)
	shot, err := lib.CreateShot(ctx, project.ID, "shot", false)
	require.NoError(t, err)
	RecordShot(t, lib, shot, start, end)

	job, err := lib.CreateJob(ctx, shot.ID, "res", start, end, models.DefaultJobParms())
	require.NoError(t, err)
	return job
}
