// Package resolvecache holds decoded resolve frames for playback. Frames are
// keyed by (job, farm frame) and stored LZ4-compressed at one preferred
// texture resolution; changing the resolution drops the whole cache rather
// than tracking mixed generations.
package resolvecache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/worker"
)

const (
	defaultDelay      = time.Second
	defaultWorkers    = 4
	defaultResolution = 2048
)

// Fingerprint identifies one cached frame. Frame is farm-relative, matching
// the on-disk record names.
type Fingerprint struct {
	JobID models.ULID
	Frame int
}

// EmitFunc receives decoded frames for display. Hits are emitted on the
// caller's goroutine, misses from the loader pool once the frame is in.
type EmitFunc func(fp Fingerprint, art *Artifact)

// Cache is the playback cache. All methods are safe for concurrent use.
type Cache struct {
	lib    *library.Library
	loader Loader
	pool   *worker.Pool
	emit   EmitFunc
	delay  time.Duration
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	prefer  int
	entries map[Fingerprint]*entry
	size    int64
	pending *time.Timer
	target  scrubTarget
	closed  bool
}

// scrubTarget is the latest coalesced miss; only the newest one loads.
type scrubTarget struct {
	job        *models.Job
	frame      int
	resolution int
}

// New builds a cache over the loader with its own loader pool. Close
// releases the pool.
func New(lib *library.Library, loader Loader, cfg config.CacheConfig, emit EmitFunc, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(Fingerprint, *Artifact) {}
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = defaultDelay
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	prefer := cfg.DefaultResolution
	if prefer <= 0 {
		prefer = defaultResolution
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		lib:     lib,
		loader:  loader,
		pool:    worker.NewPool(workers, logger),
		emit:    emit,
		delay:   delay,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		prefer:  prefer,
		entries: make(map[Fingerprint]*entry),
	}
}

// Resolution returns the preferred texture resolution.
func (c *Cache) Resolution() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefer
}

// Len returns the number of cached frames.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size returns the sum of compressed entry sizes in bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Cached reports whether a frame is resident.
func (c *Cache) Cached(fp Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fp]
	return ok
}

// Request asks for one frame at the given resolution. resolution <= 0 keeps
// the current preference; any other change drops every entry first. A hit is
// decoded and emitted before returning. A miss schedules a load: immediately
// when delayed is false, otherwise coalesced so only the newest frame of a
// scrub burst actually loads.
func (c *Cache) Request(job *models.Job, frame, resolution int, delayed bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if resolution <= 0 {
		resolution = c.prefer
	}
	dropped := c.dropLocked(resolution)

	fp := Fingerprint{JobID: job.ID, Frame: frame}
	e := c.entries[fp]
	res := c.prefer
	if e == nil {
		if delayed {
			c.target = scrubTarget{job: job, frame: frame, resolution: res}
			if c.pending == nil {
				c.pending = time.AfterFunc(c.delay, c.firePending)
			} else {
				c.pending.Reset(c.delay)
			}
			c.mu.Unlock()
			c.clearProgress(dropped)
			return
		}
		c.mu.Unlock()
		c.clearProgress(dropped)
		c.scheduleLoad(job, frame, res, true)
		return
	}
	c.mu.Unlock()
	c.clearProgress(dropped)

	art, err := e.decode()
	if err != nil {
		c.log.Error("decoding cached frame",
			"job_id", fp.JobID.String(), "frame", fp.Frame, "error", err)
		return
	}
	c.emit(fp, art)
}

// CacheWholeJob loads every not-yet-cached frame of the job in parallel at
// the given resolution, ticking the library's cached-frame set as frames
// land. It blocks until the job is fully walked and returns how many frames
// were newly cached. Frames the farm has not resolved yet are skipped.
func (c *Cache) CacheWholeJob(ctx context.Context, job *models.Job, resolution int) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, worker.ErrPoolClosed
	}
	if resolution <= 0 {
		resolution = c.prefer
	}
	dropped := c.dropLocked(resolution)
	res := c.prefer

	frames := job.FarmFrames()
	todo := make([]int, 0, len(frames))
	for _, f := range frames {
		if _, ok := c.entries[Fingerprint{JobID: job.ID, Frame: f}]; !ok {
			todo = append(todo, f)
		}
	}
	c.mu.Unlock()
	c.clearProgress(dropped)

	tasks := make([]*worker.Task[Fingerprint], 0, len(todo))
	for _, frame := range todo {
		tasks = append(tasks, c.scheduleLoad(job, frame, res, false))
	}

	cached := 0
	for t := range worker.AsCompleted(tasks) {
		select {
		case <-ctx.Done():
			return cached, ctx.Err()
		default:
		}
		fp, err := t.Value()
		switch {
		case err == nil:
			cached++
		case errors.Is(err, ErrFrameMissing):
			c.log.Debug("frame not resolved yet, skipping",
				"job_id", job.ID.String(), "frame", fp.Frame)
		case errors.Is(err, worker.ErrPoolClosed):
			return cached, err
		default:
			c.log.Warn("caching frame",
				"job_id", job.ID.String(), "frame", fp.Frame, "error", err)
		}
	}
	return cached, nil
}

// Close stops pending loads and releases the pool.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.pool.Close()
}

// dropLocked switches the preferred resolution, clearing every entry when it
// actually changes. It returns the job ids whose progress marks went stale;
// the caller clears them outside the lock.
func (c *Cache) dropLocked(resolution int) []models.ULID {
	if resolution == c.prefer {
		return nil
	}
	stale := make(map[models.ULID]struct{})
	for fp := range c.entries {
		stale[fp.JobID] = struct{}{}
	}
	old := c.prefer
	c.prefer = resolution
	c.entries = make(map[Fingerprint]*entry)
	c.size = 0

	ids := make([]models.ULID, 0, len(stale))
	for id := range stale {
		ids = append(ids, id)
	}
	c.log.Info("resolution changed, cache dropped",
		"old", old, "new", resolution, "dropped_jobs", len(ids))
	return ids
}

// clearProgress forgets the library's cached-frame marks for dropped jobs.
// Runs unlocked: the library fans events out to callbacks that may re-enter
// the cache.
func (c *Cache) clearProgress(ids []models.ULID) {
	for _, id := range ids {
		c.lib.ClearJobCacheProgress(id)
	}
}

// firePending runs when a scrub burst settles and loads its last target.
func (c *Cache) firePending() {
	c.mu.Lock()
	target := c.target
	c.pending = nil
	c.target = scrubTarget{}
	closed := c.closed
	c.mu.Unlock()

	if closed || target.job == nil {
		return
	}
	c.scheduleLoad(target.job, target.frame, target.resolution, true)
}

// scheduleLoad submits one load to the pool. The task stores the entry,
// marks library progress, and optionally emits the artifact. A load that
// finishes after the preferred resolution moved on is discarded.
func (c *Cache) scheduleLoad(job *models.Job, frame, resolution int, emit bool) *worker.Task[Fingerprint] {
	fp := Fingerprint{JobID: job.ID, Frame: frame}
	return worker.Submit(c.pool, func(context.Context) (Fingerprint, error) {
		select {
		case <-c.ctx.Done():
			return fp, c.ctx.Err()
		default:
		}
		art, err := c.loader.Load(c.ctx, job, frame, resolution)
		if err != nil {
			return fp, err
		}
		e, err := newEntry(art)
		if err != nil {
			return fp, err
		}

		c.mu.Lock()
		if c.closed || c.prefer != resolution {
			c.mu.Unlock()
			return fp, nil
		}
		if old, ok := c.entries[fp]; ok {
			c.size -= old.size()
		}
		c.entries[fp] = e
		c.size += e.size()
		c.mu.Unlock()

		c.lib.MarkJobFrameCached(job, frame)
		if emit {
			c.emit(fp, art)
		}
		return fp, nil
	})
}
