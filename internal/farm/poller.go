package farm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/observability"
)

// defaultPollInterval is how often a job's farm tasks are queried.
const defaultPollInterval = 60 * time.Second

// Poller watches unresolved jobs on the farm and folds their per-frame task
// states back into the entity store. Each watched job gets its own loop
// that polls the last batch of its chain; the loop ends when the job
// resolves, is removed, or disappears from the farm.
type Poller struct {
	mu sync.Mutex

	lib    *library.Library
	driver Driver
	log    *slog.Logger

	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cbID   library.CallbackID
	jobs   map[models.ULID]context.CancelFunc
}

// NewPoller creates a poller over the entity library and farm driver.
func NewPoller(lib *library.Library, driver Driver, cfg config.FarmConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		lib:      lib,
		driver:   driver,
		log:      observability.WithComponent(logger, "farm-poller"),
		interval: interval,
		jobs:     make(map[models.ULID]context.CancelFunc),
	}
}

// Start resumes watching every unresolved job already in the store and
// registers for entity events so later submissions are picked up as they
// land.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.ctx != nil {
		p.mu.Unlock()
		return fmt.Errorf("poller already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.cbID = p.lib.RegisterCallback(p.onEntityEvent)

	jobs, err := p.lib.UnresolvedJobs(ctx)
	if err != nil {
		p.lib.UnregisterCallback(p.cbID)
		p.mu.Lock()
		p.cancel()
		p.ctx, p.cancel = nil, nil
		p.mu.Unlock()
		return fmt.Errorf("listing unresolved jobs: %w", err)
	}
	for _, job := range jobs {
		if len(job.DeadlineIDs) > 0 {
			p.ensureWatch(job.ID)
		}
	}

	p.log.Info("farm poller started", "interval", p.interval, "resumed_jobs", len(jobs))
	return nil
}

// Stop cancels every watch loop and waits for them to exit. Loops stop at
// the next tick boundary; no poll is interrupted midway.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.cancel()
	cb := p.cbID
	p.mu.Unlock()

	p.lib.UnregisterCallback(cb)
	p.wg.Wait()

	p.mu.Lock()
	p.ctx, p.cancel = nil, nil
	p.jobs = make(map[models.ULID]context.CancelFunc)
	p.mu.Unlock()

	p.log.Info("farm poller stopped")
}

// Watching reports whether a job currently has a watch loop.
func (p *Poller) Watching(jobID models.ULID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[jobID]
	return ok
}

// onEntityEvent starts a watch when a job gains batch ids and drops it when
// the job is removed. The poller's own persists re-enter here, so ensureWatch
// must stay idempotent.
func (p *Poller) onEntityEvent(ev library.Event) {
	job, ok := ev.Entity.(*models.Job)
	if !ok {
		return
	}
	switch ev.Kind {
	case library.EventCreate, library.EventModify:
		if job.State == models.JobStateCreated && len(job.DeadlineIDs) > 0 {
			p.ensureWatch(job.ID)
		}
	case library.EventRemove:
		p.stopWatch(job.ID)
	}
}

func (p *Poller) ensureWatch(id models.ULID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return
	}
	if _, ok := p.jobs[id]; ok {
		return
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.jobs[id] = cancel
	p.wg.Add(1)
	go p.watch(ctx, id)
	p.log.Debug("watching job", "job_id", id.String())
}

func (p *Poller) stopWatch(id models.ULID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.jobs[id]; ok {
		cancel()
		delete(p.jobs, id)
	}
}

func (p *Poller) forget(id models.ULID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.jobs, id)
}

// watch polls one job until it resolves or the watch is cancelled. The
// first poll runs immediately so a restart converges without waiting a
// full interval.
func (p *Poller) watch(ctx context.Context, jobID models.ULID) {
	defer p.wg.Done()
	defer p.forget(jobID)

	select {
	case <-ctx.Done():
		return
	default:
	}
	if p.poll(ctx, jobID) {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.poll(ctx, jobID) {
				return
			}
		}
	}
}

// poll fetches the job's current farm task states and persists a changed
// map. It returns true when the watch should end.
func (p *Poller) poll(ctx context.Context, jobID models.ULID) bool {
	job, err := p.lib.Job(ctx, jobID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return true
		}
		p.log.Error("loading job for poll", "job_id", jobID.String(), "error", err)
		return false
	}
	if job.State >= models.JobStateResolved {
		return true
	}
	if len(job.DeadlineIDs) == 0 {
		return false
	}

	batchID := job.DeadlineIDs[len(job.DeadlineIDs)-1]
	raw, err := p.driver.TaskStates(ctx, batchID)
	if errors.Is(err, ErrBatchDeleted) {
		p.log.Info("farm batch removed, dropping watch", "job_id", jobID.String(), "batch_id", batchID)
		return true
	}
	if err != nil {
		p.log.Error("querying farm task states", "job_id", jobID.String(), "batch_id", batchID, "error", err)
		return false
	}

	states := make(models.TaskStateMap, len(raw))
	for frame, code := range raw {
		states[frame] = models.NormalizeTaskState(code)
	}
	if job.TaskStates.Equal(states) {
		return false
	}

	job.TaskStates = states
	done := job.AllTasksCompleted()
	if done {
		if err := job.AdvanceState(models.JobStateResolved); err != nil {
			p.log.Error("advancing job state", "job_id", jobID.String(), "error", err)
			return true
		}
	}
	if err := p.lib.UpdateJob(ctx, job); err != nil {
		p.log.Error("persisting task states", "job_id", jobID.String(), "error", err)
		return false
	}
	p.lib.NotifyJobProgress(job)

	if done {
		p.log.Info("job resolved on farm", "job_id", jobID.String(), "frames", len(states))
		return true
	}
	p.log.Debug("farm task states updated", "job_id", jobID.String(), "batch_id", batchID)
	return false
}
