package resolvecache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/storage"
	"github.com/fourdrec/fourdrec/internal/testutil"
)

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		Delay:             25 * time.Millisecond,
		Workers:           4,
		DefaultResolution: 2048,
	}
}

type emitted struct {
	fp  Fingerprint
	art *Artifact
}

func collector() (EmitFunc, chan emitted) {
	ch := make(chan emitted, 32)
	return func(fp Fingerprint, art *Artifact) { ch <- emitted{fp, art} }, ch
}

func waitEmit(t *testing.T, ch chan emitted) emitted {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an emitted frame")
		return emitted{}
	}
}

// writeRecord drops a frame record fixture into the job's output folder.
func writeRecord(t *testing.T, lib *library.Library, job *models.Job, frame, texW, texH int) {
	t.Helper()
	ctx := context.Background()
	jobRel, err := lib.JobPath(ctx, job)
	require.NoError(t, err)
	require.NoError(t, lib.Sandbox().MkdirAll(storage.FrameRecordDirRel(jobRel)))
	path, err := lib.Sandbox().ResolvePath(storage.FrameRecordRel(jobRel, frame))
	require.NoError(t, err)
	testutil.SaveRecord(t, path, testutil.Record(t, 4, texW, texH))
}

type fakeLoader struct {
	mu    sync.Mutex
	calls []int
}

func (f *fakeLoader) Load(_ context.Context, _ *models.Job, frame, resolution int) (*Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, frame)
	return &Artifact{
		Positions:  []float32{0, 0, 0},
		UVs:        []float32{0, 0},
		Texture:    []byte{1, 2, 3, 4},
		Width:      1,
		Height:     1,
		Resolution: resolution,
	}, nil
}

func (f *fakeLoader) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

func TestMissLoadsThenHitEmitsImmediately(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 4)
	writeRecord(t, lib, job, 0, 32, 16)

	emit, ch := collector()
	cache := New(lib, NewFileLoader(lib, nil), testConfig(), emit, nil)
	defer cache.Close()

	cache.Request(job, 0, 0, false)
	got := waitEmit(t, ch)
	assert.Equal(t, Fingerprint{JobID: job.ID, Frame: 0}, got.fp)
	assert.Equal(t, 32, got.art.Width)
	assert.Equal(t, 16, got.art.Height)
	assert.True(t, lib.JobFrameCached(job.ID, 0))
	assert.Equal(t, 1, cache.Len())
	assert.Greater(t, cache.Size(), int64(0))

	// Hit: decoded and emitted before Request returns.
	cache.Request(job, 0, 0, false)
	hit := waitEmit(t, ch)
	assert.Equal(t, got.fp, hit.fp)
	assert.Equal(t, got.art.Positions, hit.art.Positions)
	assert.Equal(t, got.art.Texture, hit.art.Texture)
}

func TestResolutionChangeDropsWholeCache(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 20)
	for _, f := range []int{10, 11, 12} {
		writeRecord(t, lib, job, f, 64, 32)
	}

	emit, ch := collector()
	cfg := testConfig()
	cfg.Delay = 200 * time.Millisecond
	cache := New(lib, NewFileLoader(lib, nil), cfg, emit, nil)
	defer cache.Close()

	cache.Request(job, 10, 0, false)
	waitEmit(t, ch)
	cache.Request(job, 11, 0, false)
	waitEmit(t, ch)
	require.Equal(t, 2, cache.Len())
	require.ElementsMatch(t, []int{10, 11}, lib.JobCachedFrames(job.ID))

	// A request at a new resolution empties the cache before anything loads.
	cache.Request(job, 12, 1024, true)
	assert.Equal(t, 1024, cache.Resolution())
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, int64(0), cache.Size())
	assert.Empty(t, lib.JobCachedFrames(job.ID))

	got := waitEmit(t, ch)
	assert.Equal(t, Fingerprint{JobID: job.ID, Frame: 12}, got.fp)
	assert.Equal(t, []int{12}, lib.JobCachedFrames(job.ID))
	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Cached(Fingerprint{JobID: job.ID, Frame: 12}))
}

func TestScrubBurstLoadsOnlyTheLastFrame(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 9)

	loader := &fakeLoader{}
	emit, ch := collector()
	cfg := testConfig()
	cfg.Delay = 40 * time.Millisecond
	cache := New(lib, loader, cfg, emit, nil)
	defer cache.Close()

	for f := 1; f <= 5; f++ {
		cache.Request(job, f, 0, true)
	}

	got := waitEmit(t, ch)
	assert.Equal(t, 5, got.fp.Frame)

	// Let any stray timer fire before counting loads.
	time.Sleep(3 * cfg.Delay)
	assert.Equal(t, []int{5}, loader.Calls())
	assert.Len(t, ch, 0)
}

func TestCacheWholeJobSkipsUnresolvedFrames(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 4)
	for _, f := range []int{0, 1, 3, 4} {
		writeRecord(t, lib, job, f, 32, 16)
	}

	cache := New(lib, NewFileLoader(lib, nil), testConfig(), nil, nil)
	defer cache.Close()

	n, err := cache.CacheWholeJob(context.Background(), job, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.ElementsMatch(t, []int{0, 1, 3, 4}, lib.JobCachedFrames(job.ID))
	assert.Equal(t, 4, cache.Len())

	// A second pass finds everything resident.
	n, err = cache.CacheWholeJob(context.Background(), job, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEntryRoundTrip(t *testing.T) {
	art := &Artifact{
		Positions:  []float32{1, 2, 3, 4, 5, 6},
		UVs:        []float32{0.1, 0.2, 0.3, 0.4},
		Texture:    []byte{9, 8, 7, 6, 5, 4, 3, 2},
		Width:      2,
		Height:     1,
		Resolution: 2,
	}
	e, err := newEntry(art)
	require.NoError(t, err)
	assert.Greater(t, e.size(), int64(0))

	back, err := e.decode()
	require.NoError(t, err)
	assert.Equal(t, art.Positions, back.Positions)
	assert.Equal(t, art.UVs, back.UVs)
	assert.Equal(t, art.Texture, back.Texture)
	assert.Equal(t, art.Width, back.Width)
	assert.Equal(t, art.Height, back.Height)
	assert.Equal(t, art.Resolution, back.Resolution)
}
