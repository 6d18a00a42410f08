package master

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fourdrec/fourdrec/internal/bus"
	"github.com/fourdrec/fourdrec/internal/camera"
	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/models"
	"github.com/fourdrec/fourdrec/internal/observability"
)

// diskPressurePercent is the record-drive usage above which a slave's
// status report escalates to a warning.
const diskPressurePercent = 90.0

// Core is the master's control plane: it consumes the hub's inbound stream,
// keeps the camera registry and shot recorder fed, relays entity removals
// to the slaves, and exposes the operator-facing operations.
type Core struct {
	cfg      *config.Config
	hub      *bus.Hub
	lib      *library.Library
	registry *Registry
	recorder *Recorder
	meter    *Meter
	log      *slog.Logger

	libCb   library.CallbackID
	stateCb ListenerID
	wg      sync.WaitGroup
}

// NewCore wires the master components over one hub and entity library.
func NewCore(cfg *config.Config, hub *bus.Hub, lib *library.Library, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	log := observability.WithComponent(logger, "master")

	c := &Core{
		cfg:      cfg,
		hub:      hub,
		lib:      lib,
		registry: NewRegistry(cfg.Slave.AllCameras(), cfg.Master.OfflineDeadline, logger),
		meter:    NewMeter(cfg.Master.MeterInterval, logger),
		log:      log,
	}
	c.recorder = NewRecorder(lib, c.registry, hub.Broadcast, c.onSubmitProgress, logger)

	// Slaves hold shot files for removed shots; tell them to clean up.
	c.libCb = lib.RegisterCallback(c.onEntityEvent)

	// A camera that dies mid-recording must not stall the aggregation.
	c.stateCb = c.registry.RegisterStateListener(func(serial string, status camera.Status) {
		if status.State == camera.StateOffline {
			c.recorder.CameraOffline(context.Background(), serial)
		}
	})
	return c
}

// Registry exposes the camera proxy registry.
func (c *Core) Registry() *Registry { return c.registry }

// Recorder exposes the shot recorder.
func (c *Core) Recorder() *Recorder { return c.recorder }

// Meter exposes the audio level meter.
func (c *Core) Meter() *Meter { return c.meter }

// Run consumes bus traffic until the context ends. The offline sweep and
// the meter run alongside the dispatch loop.
func (c *Core) Run(ctx context.Context) error {
	defer c.lib.UnregisterCallback(c.libCb)
	defer c.registry.UnregisterStateListener(c.stateCb)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.registry.Run(ctx)
	}()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.meter.Run(ctx)
	}()
	defer c.wg.Wait()

	c.log.Info("master up", "cameras", len(c.registry.Serials()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-c.hub.Inbound():
			if !ok {
				return nil
			}
			c.dispatch(ctx, env)
		}
	}
}

// dispatch routes one inbound envelope.
func (c *Core) dispatch(ctx context.Context, env bus.Envelope) {
	m := env.Message
	switch m.Kind {
	case bus.KindCameraStatus:
		report, err := bus.DecodeJSON[camera.StatusReport](m)
		if err != nil {
			c.log.Error("decoding camera status", "slave", env.From, "error", err)
			return
		}
		c.registry.Apply(report)

	case bus.KindLiveViewImage:
		c.pushImage(m, "")

	case bus.KindShotImage:
		shotID, _ := m.Header.Get(bus.HeaderShotID)
		c.pushImage(m, shotID)

	case bus.KindRecordReport:
		report, err := bus.DecodeJSON[bus.RecordReport](m)
		if err != nil {
			c.log.Error("decoding record report", "slave", env.From, "error", err)
			return
		}
		c.recorder.HandleRecordReport(ctx, report)

	case bus.KindSubmitReport:
		report, err := bus.DecodeJSON[bus.SubmitReport](m)
		if err != nil {
			c.log.Error("decoding submit report", "slave", env.From, "error", err)
			return
		}
		c.recorder.HandleSubmitReport(report)

	case bus.KindSlaveError:
		c.handleSlaveError(env)

	case bus.KindSlaveStatus:
		c.handleSlaveStatus(env)

	case bus.KindSlaveDown:
		c.log.Info("slave announced shutdown", "slave", env.From)

	default:
		c.log.Debug("unhandled message", "kind", m.Kind.String(), "slave", env.From)
	}
}

// pushImage turns an image message into a registry record, stamped with the
// camera's current proxy state.
func (c *Core) pushImage(m bus.Message, shotID string) {
	cameraID, _ := m.Header.Get(bus.HeaderCameraID)
	frame, err := m.Header.Int(bus.HeaderFrame)
	if err != nil {
		c.log.Error("image message without frame header", "kind", m.Kind.String(), "error", err)
		return
	}
	state := camera.StateClose
	if status, ok := c.registry.StatusOf(cameraID); ok {
		state = status.State
	}
	c.registry.PushImage(ImageRecord{
		CameraID: cameraID,
		ShotID:   shotID,
		Frame:    frame,
		State:    state,
		JPEG:     m.Payload,
	})
}

// handleSlaveError logs the report and honors a restart request by
// directing that slave to exit for respawn.
func (c *Core) handleSlaveError(env bus.Envelope) {
	report, err := bus.DecodeJSON[bus.SlaveError](env.Message)
	if err != nil {
		c.log.Error("decoding slave error", "slave", env.From, "error", err)
		return
	}
	if !report.RequireRestart {
		c.log.Error("slave error",
			"slave", report.SlaveName,
			"text", report.Text)
		return
	}
	c.log.Error("slave requires restart",
		"slave", report.SlaveName,
		"text", report.Text)
	if err := c.hub.SendTo(report.SlaveName, bus.NewSlaveRestart(report.SlaveName)); err != nil {
		c.log.Warn("sending slave restart", "slave", report.SlaveName, "error", err)
	}
}

// handleSlaveStatus logs resource pressure from a node's periodic report.
func (c *Core) handleSlaveStatus(env bus.Envelope) {
	status, err := bus.DecodeJSON[bus.SlaveStatus](env.Message)
	if err != nil {
		c.log.Error("decoding slave status", "slave", env.From, "error", err)
		return
	}
	for _, disk := range status.Disks {
		if disk.UsedPercent >= diskPressurePercent {
			c.log.Warn("record drive under pressure",
				"slave", status.Hostname,
				"path", disk.Path,
				"used_percent", disk.UsedPercent,
				"free_bytes", disk.FreeBytes)
		}
	}
	c.log.Debug("slave status",
		"slave", status.Hostname,
		"cpu_percent", status.CPUPercent,
		"memory_percent", status.MemoryPercent)
}

// onEntityEvent relays shot removals to the slaves so their record drives
// drop the capture files.
func (c *Core) onEntityEvent(ev library.Event) {
	if ev.Kind != library.EventRemove {
		return
	}
	shot, ok := ev.Entity.(*models.Shot)
	if !ok {
		return
	}
	c.hub.Broadcast(bus.NewRemoveShot(shot.ID.String()))
	c.log.Info("shot removal broadcast", "shot_id", shot.ID.String())
}

// onSubmitProgress surfaces per-job submit counters.
func (c *Core) onSubmitProgress(shotID, jobName string, done, total int) {
	c.log.Debug("submit progress",
		"shot_id", shotID,
		"job_name", jobName,
		"done", done,
		"total", total)
}

// ToggleLiveView starts or stops preview on the given cameras, all of them
// when the list is empty. Non-positive quality or scale fall back to the
// configured defaults.
func (c *Core) ToggleLiveView(cameraIDs []string, on bool, quality, scaleLength int) error {
	if quality <= 0 {
		quality = c.cfg.Master.LiveViewQuality
	}
	if scaleLength <= 0 {
		scaleLength = c.cfg.Master.LiveViewScale
	}
	msg, err := bus.NewLiveViewToggle(bus.LiveViewToggle{
		CameraIDs:   cameraIDs,
		Quality:     quality,
		ScaleLength: scaleLength,
		On:          on,
	})
	if err != nil {
		return err
	}
	c.hub.Broadcast(msg)
	return nil
}

// StartRecording begins recording the named shot on every slave.
func (c *Core) StartRecording(ctx context.Context, shotID models.ULID) error {
	return c.recorder.StartRecording(ctx, shotID)
}

// StopRecording ends the running recording; aggregation follows the
// incoming reports.
func (c *Core) StopRecording(ctx context.Context) error {
	return c.recorder.StopRecording(ctx)
}

// RequestShotImage asks the owning slave for one recorded frame. The
// request is broadcast; only the node driving the camera answers.
func (c *Core) RequestShotImage(cameraID string, shotID models.ULID, frame, quality, scaleLength int) error {
	if quality <= 0 {
		quality = c.cfg.Master.LiveViewQuality
	}
	msg, err := bus.NewShotImageRequest(bus.ShotImageRequest{
		CameraID:    cameraID,
		ShotID:      shotID.String(),
		Frame:       frame,
		Quality:     quality,
		ScaleLength: scaleLength,
	})
	if err != nil {
		return err
	}
	c.hub.Broadcast(msg)
	return nil
}

// SubmitShotPhotos orders every slave to publish the job's frame window as
// full-resolution JPEGs under the shot folder on the submit root.
func (c *Core) SubmitShotPhotos(ctx context.Context, jobID models.ULID) error {
	job, err := c.lib.Job(ctx, jobID)
	if err != nil {
		return err
	}
	shot, err := c.lib.Shot(ctx, job.ShotID)
	if err != nil {
		return err
	}
	if _, _, ok := shot.FrameRange(); !ok {
		return fmt.Errorf("shot %s: %w", shot.ID, models.ErrShotNotRecorded)
	}
	shotPath, err := c.lib.ShotPath(ctx, shot)
	if err != nil {
		return err
	}
	msg, err := bus.NewSubmitShot(bus.SubmitShot{
		ShotID:     shot.ID.String(),
		JobName:    job.FolderName,
		ShotPath:   shotPath,
		StartFrame: job.StartFrame,
		EndFrame:   job.EndFrame,
		IsCali:     shot.IsCali,
	})
	if err != nil {
		return err
	}
	c.hub.Broadcast(msg)
	c.log.Info("shot submit ordered",
		"shot_id", shot.ID.String(),
		"job_name", job.FolderName,
		"range", [2]int{job.StartFrame, job.EndFrame})
	return nil
}

// SetCameraParameter applies a named hardware control, on one camera when
// cameraID is set, otherwise on all of them.
func (c *Core) SetCameraParameter(cameraID, name string, value float64) error {
	msg, err := bus.NewCameraParm(name, value)
	if err != nil {
		return err
	}
	if cameraID != "" {
		msg.Header[bus.HeaderCameraID] = cameraID
	}
	c.hub.Broadcast(msg)
	return nil
}

// Retrigger re-arms hardware triggering on every camera.
func (c *Core) Retrigger() {
	c.hub.Broadcast(bus.NewRetrigger())
}

// RestartSlave directs one named slave to exit for respawn.
func (c *Core) RestartSlave(name string) error {
	return c.hub.SendTo(name, bus.NewSlaveRestart(name))
}
