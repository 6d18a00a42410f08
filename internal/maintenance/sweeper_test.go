package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/testutil"
)

func newSweeper(t *testing.T, lib *library.Library, maxAge time.Duration) *Sweeper {
	t.Helper()
	s, err := NewSweeper(lib, config.MaintenanceConfig{
		Enabled:       true,
		Cron:          "0 3 * * *",
		PartialMaxAge: maxAge,
	}, nil)
	require.NoError(t, err)
	return s
}

// age backdates a file past any sweep cutoff.
func age(t *testing.T, path string) {
	t.Helper()
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestSweepRemovesStaleTempFiles(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 4)
	jobDir, err := lib.JobPath(context.Background(), job)
	require.NoError(t, err)

	frameDir := filepath.Join(jobDir, "output", "frame")
	require.NoError(t, os.MkdirAll(frameDir, 0o750))

	stalePending := filepath.Join(frameDir, "0001.frame-record1298498081")
	require.NoError(t, os.WriteFile(stalePending, []byte("x"), 0o640))
	age(t, stalePending)

	stalePayload := filepath.Join(jobDir, "output", "export.4dr.payload-42")
	require.NoError(t, os.WriteFile(stalePayload, []byte("x"), 0o640))
	age(t, stalePayload)

	freshPending := filepath.Join(frameDir, "0002.frame-record2019727887")
	require.NoError(t, os.WriteFile(freshPending, []byte("x"), 0o640))

	keeper := filepath.Join(frameDir, "0001.frame-record")
	require.NoError(t, os.WriteFile(keeper, []byte("x"), 0o640))
	age(t, keeper)

	report, err := newSweeper(t, lib, time.Hour).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.TempFiles)

	assert.NoFileExists(t, stalePending)
	assert.NoFileExists(t, stalePayload)
	assert.FileExists(t, freshPending)
	assert.FileExists(t, keeper)
}

func TestSweepRemovesOrphanJobFolders(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 4)
	jobDir, err := lib.JobPath(context.Background(), job)
	require.NoError(t, err)

	orphan := filepath.Join(filepath.Dir(jobDir), "stale_take")
	require.NoError(t, os.MkdirAll(orphan, 0o750))

	report, err := newSweeper(t, lib, time.Hour).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphanFolders)

	assert.NoDirExists(t, orphan)
	assert.DirExists(t, jobDir)
}

func TestSweepKeepsShotFoldersAndPhotos(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 4)
	jobDir, err := lib.JobPath(context.Background(), job)
	require.NoError(t, err)

	// jobs/ -> shot folder
	shotDir := filepath.Dir(filepath.Dir(jobDir))
	photo := filepath.Join(shotDir, "photos", "cam01", "0000.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(photo), 0o750))
	require.NoError(t, os.WriteFile(photo, []byte("jpeg"), 0o640))
	age(t, photo)

	report, err := newSweeper(t, lib, time.Hour).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.OrphanFolders)
	assert.FileExists(t, photo)
}

func TestNewSweeperRejectsBadCron(t *testing.T) {
	lib := testutil.NewLibrary(t)
	_, err := NewSweeper(lib, config.MaintenanceConfig{Cron: "not a cron"}, nil)
	require.Error(t, err)
}

func TestSweeperStartStop(t *testing.T) {
	lib := testutil.NewLibrary(t)
	s := newSweeper(t, lib, time.Hour)

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestIsStagingLeftover(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"export.4dr.payload-1673920", true},
		{"0004.frame-record1298498081", true},
		{"cali_archive.zip42", true},
		{"job.yml1955", true},
		{"0004.frame-record", false},
		{"export.4dr", false},
		{"audio.wav", false},
		{"0012.jpg", false},
		{"take_2", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isStagingLeftover(tc.name), tc.name)
	}
}
