package farm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/storage"
)

// ErrAlreadySubmitted reports a job that already holds farm batch ids.
var ErrAlreadySubmitted = errors.New("job already submitted to the farm")

// Submitter turns a created Job into a resolve chain on the render farm:
// it writes the parameter sheet into the job folder, then queues the stage
// batches in dependency order and stores their ids on the job.
type Submitter struct {
	lib    *library.Library
	driver Driver
	notify Notifier
	cfg    config.FarmConfig
	log    *slog.Logger
}

// NewSubmitter creates a submitter over the entity library and farm driver.
// A nil notifier disables cloud sync.
func NewSubmitter(lib *library.Library, driver Driver, notify Notifier, cfg config.FarmConfig, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = NopNotifier{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1
	}
	return &Submitter{
		lib:    lib,
		driver: driver,
		notify: notify,
		cfg:    cfg,
		log:    observability.WithComponent(logger, "farm"),
	}
}

// Submit queues the resolve chain for a job: initialize, resolve, then
// conversion and export unless the job is resolve-only. Batch ids land on
// the job in stage order and the owning shot advances to SUBMITTED. If any
// stage fails the chain is aborted: queued batches are removed, the job and
// its folder go away, and cloud sync is told FAILED.
//
// caliPath is the calibration archive resolved for this capture session,
// empty when the shot itself is a calibration take.
func (s *Submitter) Submit(ctx context.Context, jobID models.ULID, caliPath string) error {
	job, err := s.lib.Job(ctx, jobID)
	if err != nil {
		return err
	}
	if len(job.DeadlineIDs) > 0 {
		return fmt.Errorf("job %s: %w", jobID.String(), ErrAlreadySubmitted)
	}
	shot, err := s.lib.Shot(ctx, job.ShotID)
	if err != nil {
		return err
	}
	project, err := s.lib.Project(ctx, shot.ProjectID)
	if err != nil {
		return err
	}

	jobRel, err := s.lib.JobPath(ctx, job)
	if err != nil {
		return err
	}
	shotRel, err := s.lib.ShotPath(ctx, shot)
	if err != nil {
		return err
	}

	sandbox := s.lib.Sandbox()
	absJob, err := sandbox.ResolvePath(jobRel)
	if err != nil {
		return err
	}
	absPhotos, err := sandbox.ResolvePath(storage.ShotPhotosRel(shotRel))
	if err != nil {
		return err
	}
	sheetRel := storage.JobSheetRel(jobRel)
	absSheet, err := sandbox.ResolvePath(sheetRel)
	if err != nil {
		return err
	}

	sheet := NewSheet(project, shot, job, absPhotos, absJob, caliPath)
	data, err := sheet.Encode()
	if err != nil {
		return fmt.Errorf("encoding parameter sheet: %w", err)
	}
	if err := sandbox.AtomicWrite(sheetRel, data); err != nil {
		return fmt.Errorf("writing parameter sheet: %w", err)
	}

	chain := s.buildChain(project, shot, job, absJob, absSheet)
	ids := make([]string, 0, len(chain))
	for i, batch := range chain {
		if i > 0 {
			batch.DependsOn = ids[i-1]
		}
		id, err := s.driver.Submit(ctx, batch)
		if err != nil {
			s.abort(ctx, job, ids)
			return fmt.Errorf("submitting %s stage: %w", batch.Stage, err)
		}
		ids = append(ids, id)
	}

	job.DeadlineIDs = models.StringList(ids)
	if err := s.lib.UpdateJob(ctx, job); err != nil {
		s.abort(ctx, job, ids)
		return fmt.Errorf("storing batch ids: %w", err)
	}

	if shot.State < models.ShotStateSubmitted {
		if err := shot.AdvanceState(models.ShotStateSubmitted); err == nil {
			if err := s.lib.UpdateShot(ctx, shot); err != nil {
				s.log.Warn("marking shot submitted", "shot_id", shot.ID.String(), "error", err)
			}
		}
	}

	s.notifyState(ctx, job, SyncRunning)
	s.log.Info("resolve chain submitted",
		"job_id", job.ID.String(),
		"shot_id", shot.ID.String(),
		"stages", len(ids),
		"frames", chain[1].Frames,
		"resolve_only", job.Parms.ResolveOnly)
	return nil
}

// CaliArchivePath returns the absolute calibration archive of a resolved
// calibration job, suitable as the caliPath of a later Submit.
func (s *Submitter) CaliArchivePath(ctx context.Context, caliJobID models.ULID) (string, error) {
	job, err := s.lib.Job(ctx, caliJobID)
	if err != nil {
		return "", err
	}
	jobRel, err := s.lib.JobPath(ctx, job)
	if err != nil {
		return "", err
	}
	return s.lib.Sandbox().ResolvePath(storage.CaliArchiveRel(jobRel))
}

// buildChain lays out the stage batches in dependency order. Dependencies
// are filled in at submit time once the previous stage's id is known.
func (s *Submitter) buildChain(project *models.Project, shot *models.Shot, job *models.Job, absJob, absSheet string) []Batch {
	farmStart, farmEnd := job.FarmFrameRange()
	perFrame := fmt.Sprintf("%d-%d", farmStart, farmEnd)

	stage := func(st Stage, frames string, frameDependent bool) Batch {
		return Batch{
			BatchName:      fmt.Sprintf("[%s] %s - %s", project.Name, shot.Name, job.Name),
			Name:           fmt.Sprintf("%s - %s (%s)", shot.Name, job.Name, st),
			Stage:          st,
			Frames:         frames,
			ChunkSize:      s.cfg.ChunkSize,
			FrameDependent: frameDependent,
			OutputDir:      absJob,
			Pool:           s.cfg.Pool,
			Group:          s.cfg.Group,
			Priority:       s.cfg.Priority,
			ExtraInfo: map[string]string{
				ExtraKeyStage:     string(st),
				ExtraKeySheetPath: absSheet,
			},
		}
	}

	chain := []Batch{
		stage(StageInitialize, "0", false),
		stage(StageResolve, perFrame, false),
	}
	if !job.Parms.ResolveOnly {
		chain = append(chain,
			stage(StageConversion, perFrame, true),
			stage(StageExport, "0", false),
		)
	}
	return chain
}

// abort unwinds a partial submission: queued batches are removed best
// effort, the job record and folder are deleted, and cloud sync learns of
// the failure.
func (s *Submitter) abort(ctx context.Context, job *models.Job, ids []string) {
	if len(ids) > 0 {
		if err := s.driver.Remove(ctx, ids); err != nil {
			s.log.Warn("removing queued batches", "job_id", job.ID.String(), "error", err)
		}
	}
	if err := s.lib.RemoveJob(ctx, job.ID); err != nil {
		s.log.Error("removing aborted job", "job_id", job.ID.String(), "error", err)
	}
	s.notifyState(ctx, job, SyncFailed)
	s.log.Warn("resolve chain aborted", "job_id", job.ID.String(), "submitted_stages", len(ids))
}

func (s *Submitter) notifyState(ctx context.Context, job *models.Job, state SyncState) {
	if job.Parms.NoCloudSync {
		return
	}
	if err := s.notify.Notify(ctx, state, job); err != nil {
		s.log.Warn("cloud sync notify", "job_id", job.ID.String(), "state", string(state), "error", err)
	}
}
