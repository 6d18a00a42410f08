package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/fourdrec/fourdrec/internal/bus"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/observability"
)

var (
	// ErrRecordingActive means a shot is already being recorded.
	ErrRecordingActive = errors.New("a recording is already in progress")
	// ErrNoRecording means stop was requested without a running recording.
	ErrNoRecording = errors.New("no recording in progress")
)

// Recorder orchestrates one shot recording at a time across all slaves and
// aggregates their RECORD_REPORTs into the shot entity. It also folds
// per-camera SUBMIT_REPORT streams into per-job progress.
type Recorder struct {
	lib       *library.Library
	registry  *Registry
	broadcast func(bus.Message)
	progress  func(shotID, jobName string, done, total int)
	log       *slog.Logger

	mu      sync.Mutex
	active  *pendingShot
	submits map[string]*submitProgress
}

// pendingShot tracks one in-flight recording: which cameras still owe their
// first report, and the reports collected so far.
type pendingShot struct {
	shotID   models.ULID
	awaiting map[string]bool
	reports  map[string]bus.RecordReport
	stopped  bool
}

type submitProgress struct {
	perCamera map[string]bus.SubmitReport
}

// NewRecorder builds a recorder. progress may be nil; it is invoked after
// every SUBMIT_REPORT with the summed per-job counters.
func NewRecorder(lib *library.Library, registry *Registry, broadcast func(bus.Message), progress func(shotID, jobName string, done, total int), logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		lib:       lib,
		registry:  registry,
		broadcast: broadcast,
		progress:  progress,
		log:       observability.WithComponent(logger, "shot-recorder"),
		submits:   make(map[string]*submitProgress),
	}
}

// Recording reports whether a shot is currently being recorded.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// StartRecording broadcasts the start toggle for one shot. Every camera in
// the topology is expected to report when the recording stops.
func (r *Recorder) StartRecording(ctx context.Context, shotID models.ULID) error {
	shot, err := r.lib.Shot(ctx, shotID)
	if err != nil {
		return err
	}
	if shot.State > models.ShotStateRecorded {
		return fmt.Errorf("shot %s is already submitted", shotID)
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrRecordingActive
	}
	awaiting := make(map[string]bool)
	for _, serial := range r.registry.Serials() {
		awaiting[serial] = true
	}
	r.active = &pendingShot{
		shotID:   shot.ID,
		awaiting: awaiting,
		reports:  make(map[string]bus.RecordReport),
	}
	r.mu.Unlock()

	msg, err := bus.NewRecordToggle(bus.RecordToggle{IsStart: true, ShotID: shot.ID.String()})
	if err != nil {
		return err
	}
	r.broadcast(msg)
	r.log.Info("recording started",
		"shot_id", shot.ID.String(),
		"cameras", len(awaiting))
	return nil
}

// StopRecording broadcasts the stop toggle. Aggregation completes once the
// first report from every awaited camera has arrived.
func (r *Recorder) StopRecording(ctx context.Context) error {
	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return ErrNoRecording
	}
	if r.active.stopped {
		r.mu.Unlock()
		return fmt.Errorf("recording of %s is already stopping", r.active.shotID)
	}
	r.active.stopped = true
	shotID := r.active.shotID
	ready := len(r.active.awaiting) == 0
	r.mu.Unlock()

	msg, err := bus.NewRecordToggle(bus.RecordToggle{IsStart: false, ShotID: shotID.String()})
	if err != nil {
		return err
	}
	r.broadcast(msg)
	r.log.Info("recording stopping", "shot_id", shotID.String())

	if ready {
		r.tryFinalize(ctx)
	}
	return nil
}

// HandleRecordReport ingests one camera's report. The first report per
// camera wins; later duplicates are dropped.
func (r *Recorder) HandleRecordReport(ctx context.Context, report bus.RecordReport) {
	r.mu.Lock()
	if r.active == nil || r.active.shotID.String() != report.ShotID {
		r.mu.Unlock()
		r.log.Debug("stray record report",
			"shot_id", report.ShotID,
			"camera_id", report.CameraID)
		return
	}
	if !r.active.awaiting[report.CameraID] {
		r.mu.Unlock()
		r.log.Debug("duplicate record report", "camera_id", report.CameraID)
		return
	}
	delete(r.active.awaiting, report.CameraID)
	r.active.reports[report.CameraID] = report
	r.mu.Unlock()

	r.tryFinalize(ctx)
}

// CameraOffline releases a recording from waiting on a camera that died
// before reporting. The shot aggregates from the reports that did arrive.
func (r *Recorder) CameraOffline(ctx context.Context, serial string) {
	r.mu.Lock()
	if r.active == nil || !r.active.awaiting[serial] {
		r.mu.Unlock()
		return
	}
	delete(r.active.awaiting, serial)
	shotID := r.active.shotID
	r.mu.Unlock()

	r.log.Warn("camera went offline before reporting, aggregating without it",
		"camera_id", serial,
		"shot_id", shotID.String())
	r.tryFinalize(ctx)
}

// tryFinalize aggregates and clears the active recording once it is stopped
// and no camera is still owed a report.
func (r *Recorder) tryFinalize(ctx context.Context) {
	r.mu.Lock()
	if r.active == nil || !r.active.stopped || len(r.active.awaiting) > 0 {
		r.mu.Unlock()
		return
	}
	shotID := r.active.shotID
	reports := r.active.reports
	r.active = nil
	r.mu.Unlock()

	r.finalize(ctx, shotID, reports)
}

// finalize folds the per-camera reports into the shot: missing-frame sets
// are unioned per camera, sizes summed, and the final frame range is the
// intersection of the per-camera ranges.
func (r *Recorder) finalize(ctx context.Context, shotID models.ULID, reports map[string]bus.RecordReport) {
	log := observability.WithShot(r.log, shotID.String())

	shot, err := r.lib.Shot(ctx, shotID)
	if err != nil {
		log.Error("loading shot for aggregation", "error", err)
		return
	}

	var (
		size       int64
		missing    = models.MissingFrameMap{}
		start, end int
		haveRange  bool
	)
	for serial, report := range reports {
		size += report.Size
		if len(report.Missing) > 0 {
			frames := append([]int(nil), report.Missing...)
			sort.Ints(frames)
			missing[serial] = frames
		}
		if report.Range[0] > report.Range[1] {
			log.Warn("camera recorded no frames", "camera_id", serial)
			continue
		}
		if !haveRange {
			start, end = report.Range[0], report.Range[1]
			haveRange = true
			continue
		}
		if report.Range[0] > start {
			start = report.Range[0]
		}
		if report.Range[1] < end {
			end = report.Range[1]
		}
	}

	shot.Size = size
	shot.MissingFrames = missing

	if !haveRange || start > end {
		log.Warn("recording produced no common frame range",
			"cameras_reported", len(reports))
		if err := r.lib.UpdateShot(ctx, shot); err != nil {
			log.Error("updating shot after empty recording", "error", err)
		}
		return
	}

	shot.StartFrame = &start
	shot.EndFrame = &end
	if err := shot.AdvanceState(models.ShotStateRecorded); err != nil {
		log.Error("advancing shot state", "error", err)
		return
	}
	if err := r.lib.UpdateShot(ctx, shot); err != nil {
		log.Error("updating recorded shot", "error", err)
		return
	}
	log.Info("shot recorded",
		"range", [2]int{start, end},
		"missing_frames", shot.MissingTotal(),
		"size", size,
		"cameras_reported", len(reports))
}

// HandleSubmitReport folds one per-camera submit tick into the job's
// counters. done and total sum the latest value from each reporting camera,
// so the fraction moves smoothly as slaves publish in parallel.
func (r *Recorder) HandleSubmitReport(report bus.SubmitReport) {
	key := report.ShotID + "/" + report.JobName

	r.mu.Lock()
	sp, ok := r.submits[key]
	if !ok {
		sp = &submitProgress{perCamera: make(map[string]bus.SubmitReport)}
		r.submits[key] = sp
	}
	sp.perCamera[report.CameraID] = report

	var done, total int
	for _, rep := range sp.perCamera {
		done += rep.Done
		total += rep.Total
	}
	complete := total > 0 && done == total
	if complete {
		delete(r.submits, key)
	}
	r.mu.Unlock()

	if complete {
		r.log.Info("shot submit complete",
			"shot_id", report.ShotID,
			"job_name", report.JobName,
			"frames", total)
	}
	if r.progress != nil {
		r.progress(report.ShotID, report.JobName, done, total)
	}
}
