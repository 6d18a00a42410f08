// Package library is the entity service shared by the control plane and the
// post-processing pipeline. It layers folder management, change events, and
// in-memory cache-progress accounting over the entity repositories.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/repository"
	"github.com/fourdrec/fourdrec/internal/storage"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Library owns entity lifecycle: records in the store, folders under the
// submit root, and change events to registered listeners. Callbacks run
// synchronously on the mutating goroutine and must not block.
type Library struct {
	projects repository.ProjectRepository
	shots    repository.ShotRepository
	jobs     repository.JobRepository
	sandbox  *storage.Sandbox
	log      *slog.Logger

	cbMu      sync.Mutex
	callbacks map[CallbackID]func(Event)
	nextCb    CallbackID

	progMu       sync.Mutex
	shotProgress map[models.ULID]*shotProgress
	jobProgress  map[models.ULID]*jobProgress
}

// New creates a Library over the given repositories and submit-root sandbox.
func New(
	projects repository.ProjectRepository,
	shots repository.ShotRepository,
	jobs repository.JobRepository,
	sandbox *storage.Sandbox,
	logger *slog.Logger,
) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		projects:     projects,
		shots:        shots,
		jobs:         jobs,
		sandbox:      sandbox,
		log:          observability.WithComponent(logger, "library"),
		callbacks:    make(map[CallbackID]func(Event)),
		shotProgress: make(map[models.ULID]*shotProgress),
		jobProgress:  make(map[models.ULID]*jobProgress),
	}
}

// Sandbox exposes the submit-root sandbox for components that write entity
// payloads (sheets, frame records, rolls) into entity folders.
func (l *Library) Sandbox() *storage.Sandbox {
	return l.sandbox
}

// RegisterCallback adds an event listener and returns its handle. Listeners
// are invoked in registration order.
func (l *Library) RegisterCallback(fn func(Event)) CallbackID {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.nextCb++
	id := l.nextCb
	l.callbacks[id] = fn
	return id
}

// UnregisterCallback removes a listener. Unknown handles are ignored.
func (l *Library) UnregisterCallback(id CallbackID) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	delete(l.callbacks, id)
}

// emit delivers an event to every registered listener. A listener that
// panics is logged and marked; marked listeners are unregistered after the
// loop so one bad subscriber cannot poison later events.
func (l *Library) emit(ev Event) {
	l.cbMu.Lock()
	ids := make([]CallbackID, 0, len(l.callbacks))
	for id := range l.callbacks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = l.callbacks[id]
	}
	l.cbMu.Unlock()

	var failed []CallbackID
	for i, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.log.Error("entity callback panicked, unregistering",
						"callback_id", uint64(ids[i]),
						"event", ev.Kind.String(),
						"panic", fmt.Sprint(r))
					failed = append(failed, ids[i])
				}
			}()
			fn(ev)
		}()
	}

	if len(failed) > 0 {
		l.cbMu.Lock()
		for _, id := range failed {
			delete(l.callbacks, id)
		}
		l.cbMu.Unlock()
	}
}

// CreateProject creates a project record and its folder under the submit
// root, then emits CREATE.
func (l *Library) CreateProject(ctx context.Context, name string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	folder, err := l.freeProjectFolder(ctx, name)
	if err != nil {
		return nil, err
	}

	project := &models.Project{Name: name, FolderName: folder}
	if err := project.Validate(); err != nil {
		return nil, err
	}
	if err := l.projects.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("creating project record: %w", err)
	}
	if err := l.sandbox.MkdirAll(storage.ProjectRel(folder)); err != nil {
		// Keep store and disk in step: a record without a folder would
		// break every path lookup below it.
		_ = l.projects.Delete(ctx, project.ID)
		return nil, fmt.Errorf("creating project folder: %w", err)
	}

	l.log.Info("project created", "project_id", project.ID.String(), "name", name, "folder", folder)
	l.emit(Event{Kind: EventCreate, Entity: project})
	return project, nil
}

// CreateShot creates a shot under a project, with a folder unique among its
// siblings, then emits CREATE.
func (l *Library) CreateShot(ctx context.Context, projectID models.ULID, name string, isCali bool) (*models.Shot, error) {
	project, err := l.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %s: %w", projectID.String(), ErrNotFound)
	}

	name = strings.TrimSpace(name)
	siblings, err := l.shots.GetByProjectID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(siblings))
	for _, s := range siblings {
		taken[s.FolderName] = true
	}
	folder := uniqueFolderName(sanitizeFolderName(name), taken)

	shot := &models.Shot{
		ProjectID:  projectID,
		Name:       name,
		FolderName: folder,
		IsCali:     isCali,
	}
	if err := shot.Validate(); err != nil {
		return nil, err
	}
	if err := l.shots.Create(ctx, shot); err != nil {
		return nil, fmt.Errorf("creating shot record: %w", err)
	}
	if err := l.sandbox.MkdirAll(storage.ShotRel(project.FolderName, folder)); err != nil {
		_ = l.shots.Delete(ctx, shot.ID)
		return nil, fmt.Errorf("creating shot folder: %w", err)
	}

	l.log.Info("shot created",
		"shot_id", shot.ID.String(),
		"project_id", projectID.String(),
		"name", name,
		"folder", folder,
		"is_cali", isCali)
	l.emit(Event{Kind: EventCreate, Entity: shot})
	return shot, nil
}

// CreateJob creates a job under a recorded shot. The job window must lie
// inside the recorded range; the offset frame is pinned to the recorded
// start so farm frames are zero-based. Emits CREATE.
func (l *Library) CreateJob(ctx context.Context, shotID models.ULID, name string, startFrame, endFrame int, parms models.JobParms) (*models.Job, error) {
	shot, err := l.shots.GetByID(ctx, shotID)
	if err != nil {
		return nil, err
	}
	if shot == nil {
		return nil, fmt.Errorf("shot %s: %w", shotID.String(), ErrNotFound)
	}
	recStart, recEnd, ok := shot.FrameRange()
	if !ok {
		return nil, models.ErrShotNotRecorded
	}
	if startFrame < recStart || endFrame > recEnd {
		return nil, fmt.Errorf("job window [%d,%d] outside recorded range [%d,%d]: %w",
			startFrame, endFrame, recStart, recEnd, models.ErrInvalidFrameRange)
	}

	project, err := l.projects.GetByID(ctx, shot.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %s: %w", shot.ProjectID.String(), ErrNotFound)
	}

	name = strings.TrimSpace(name)
	siblings, err := l.jobs.GetByShotID(ctx, shotID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(siblings))
	for _, j := range siblings {
		taken[j.FolderName] = true
	}
	folder := uniqueFolderName(sanitizeFolderName(name), taken)

	job := &models.Job{
		ShotID:      shotID,
		Name:        name,
		FolderName:  folder,
		StartFrame:  startFrame,
		EndFrame:    endFrame,
		OffsetFrame: recStart,
		Parms:       parms,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := l.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job record: %w", err)
	}
	if err := l.sandbox.MkdirAll(storage.JobRel(project.FolderName, shot.FolderName, folder)); err != nil {
		_ = l.jobs.Delete(ctx, job.ID)
		return nil, fmt.Errorf("creating job folder: %w", err)
	}

	l.log.Info("job created",
		"job_id", job.ID.String(),
		"shot_id", shotID.String(),
		"name", name,
		"folder", folder,
		"frames", fmt.Sprintf("[%d,%d]", startFrame, endFrame),
		"offset", recStart)
	l.emit(Event{Kind: EventCreate, Entity: job})
	return job, nil
}

// UpdateProject persists project changes and emits MODIFY.
func (l *Library) UpdateProject(ctx context.Context, project *models.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	if err := l.projects.Update(ctx, project); err != nil {
		return err
	}
	l.emit(Event{Kind: EventModify, Entity: project})
	return nil
}

// UpdateShot persists shot changes and emits MODIFY.
func (l *Library) UpdateShot(ctx context.Context, shot *models.Shot) error {
	if err := shot.Validate(); err != nil {
		return err
	}
	if err := l.shots.Update(ctx, shot); err != nil {
		return err
	}
	l.emit(Event{Kind: EventModify, Entity: shot})
	return nil
}

// UpdateJob persists job changes and emits MODIFY.
func (l *Library) UpdateJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := l.jobs.Update(ctx, job); err != nil {
		return err
	}
	l.emit(Event{Kind: EventModify, Entity: job})
	return nil
}

// RemoveProject removes a project, cascading through shots and jobs.
// Children are removed first so their REMOVE events precede the parent's.
func (l *Library) RemoveProject(ctx context.Context, id models.ULID) error {
	project, err := l.projects.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if project == nil {
		return fmt.Errorf("project %s: %w", id.String(), ErrNotFound)
	}
	shots, err := l.shots.GetByProjectID(ctx, id)
	if err != nil {
		return err
	}
	for _, shot := range shots {
		if err := l.removeShot(ctx, project, shot); err != nil {
			return err
		}
	}
	if err := l.projects.Delete(ctx, id); err != nil {
		return err
	}
	l.removeFolder(storage.ProjectRel(project.FolderName))
	l.log.Info("project removed", "project_id", id.String(), "folder", project.FolderName)
	l.emit(Event{Kind: EventRemove, Entity: project})
	return nil
}

// RemoveShot removes a shot, cascading through its jobs.
func (l *Library) RemoveShot(ctx context.Context, id models.ULID) error {
	shot, err := l.shots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if shot == nil {
		return fmt.Errorf("shot %s: %w", id.String(), ErrNotFound)
	}
	project, err := l.projects.GetByID(ctx, shot.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		return fmt.Errorf("project %s: %w", shot.ProjectID.String(), ErrNotFound)
	}
	return l.removeShot(ctx, project, shot)
}

// RemoveJob removes a single job.
func (l *Library) RemoveJob(ctx context.Context, id models.ULID) error {
	job, err := l.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s: %w", id.String(), ErrNotFound)
	}
	shot, err := l.shots.GetByID(ctx, job.ShotID)
	if err != nil {
		return err
	}
	if shot == nil {
		return fmt.Errorf("shot %s: %w", job.ShotID.String(), ErrNotFound)
	}
	project, err := l.projects.GetByID(ctx, shot.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		return fmt.Errorf("project %s: %w", shot.ProjectID.String(), ErrNotFound)
	}
	return l.removeJob(ctx, project, shot, job)
}

func (l *Library) removeShot(ctx context.Context, project *models.Project, shot *models.Shot) error {
	jobs, err := l.jobs.GetByShotID(ctx, shot.ID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := l.removeJob(ctx, project, shot, job); err != nil {
			return err
		}
	}
	if err := l.shots.Delete(ctx, shot.ID); err != nil {
		return err
	}
	l.clearShotProgress(shot.ID)
	l.removeFolder(storage.ShotRel(project.FolderName, shot.FolderName))
	l.log.Info("shot removed", "shot_id", shot.ID.String(), "folder", shot.FolderName)
	l.emit(Event{Kind: EventRemove, Entity: shot})
	return nil
}

func (l *Library) removeJob(ctx context.Context, project *models.Project, shot *models.Shot, job *models.Job) error {
	if err := l.jobs.Delete(ctx, job.ID); err != nil {
		return err
	}
	l.clearJobProgress(job.ID)
	l.removeFolder(storage.JobRel(project.FolderName, shot.FolderName, job.FolderName))
	l.log.Info("job removed", "job_id", job.ID.String(), "folder", job.FolderName)
	l.emit(Event{Kind: EventRemove, Entity: job})
	return nil
}

// removeFolder deletes an entity folder. The record is already gone, so a
// failure here only leaves an orphan folder for the maintenance sweep.
func (l *Library) removeFolder(rel string) {
	if err := l.sandbox.RemoveAll(rel); err != nil {
		l.log.Warn("removing entity folder", "path", rel, "error", err)
	}
}

// Project returns a project by id.
func (l *Library) Project(ctx context.Context, id models.ULID) (*models.Project, error) {
	project, err := l.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %s: %w", id.String(), ErrNotFound)
	}
	return project, nil
}

// Projects returns all projects ordered by creation time.
func (l *Library) Projects(ctx context.Context) ([]*models.Project, error) {
	return l.projects.GetAll(ctx)
}

// Shot returns a shot by id.
func (l *Library) Shot(ctx context.Context, id models.ULID) (*models.Shot, error) {
	shot, err := l.shots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if shot == nil {
		return nil, fmt.Errorf("shot %s: %w", id.String(), ErrNotFound)
	}
	return shot, nil
}

// Shots returns all shots of a project ordered by creation time.
func (l *Library) Shots(ctx context.Context, projectID models.ULID) ([]*models.Shot, error) {
	return l.shots.GetByProjectID(ctx, projectID)
}

// Job returns a job by id.
func (l *Library) Job(ctx context.Context, id models.ULID) (*models.Job, error) {
	job, err := l.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id.String(), ErrNotFound)
	}
	return job, nil
}

// Jobs returns all jobs of a shot ordered by creation time.
func (l *Library) Jobs(ctx context.Context, shotID models.ULID) ([]*models.Job, error) {
	return l.jobs.GetByShotID(ctx, shotID)
}

// UnresolvedJobs returns every job still waiting on farm tasks.
func (l *Library) UnresolvedJobs(ctx context.Context) ([]*models.Job, error) {
	return l.jobs.GetUnresolved(ctx)
}

// ShotPath returns the shot folder relative to the submit root.
func (l *Library) ShotPath(ctx context.Context, shot *models.Shot) (string, error) {
	project, err := l.projects.GetByID(ctx, shot.ProjectID)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", fmt.Errorf("project %s: %w", shot.ProjectID.String(), ErrNotFound)
	}
	return storage.ShotRel(project.FolderName, shot.FolderName), nil
}

// JobPath returns the job folder relative to the submit root.
func (l *Library) JobPath(ctx context.Context, job *models.Job) (string, error) {
	shot, err := l.shots.GetByID(ctx, job.ShotID)
	if err != nil {
		return "", err
	}
	if shot == nil {
		return "", fmt.Errorf("shot %s: %w", job.ShotID.String(), ErrNotFound)
	}
	project, err := l.projects.GetByID(ctx, shot.ProjectID)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", fmt.Errorf("project %s: %w", shot.ProjectID.String(), ErrNotFound)
	}
	return storage.JobRel(project.FolderName, shot.FolderName, job.FolderName), nil
}

func (l *Library) freeProjectFolder(ctx context.Context, name string) (string, error) {
	existing, err := l.projects.GetAll(ctx)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(existing))
	for _, p := range existing {
		taken[p.FolderName] = true
	}
	return uniqueFolderName(sanitizeFolderName(name), taken), nil
}
