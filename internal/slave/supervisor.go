// Package slave implements the capture-node daemon: one runtime per
// physical camera, the shot file writers, live-view encoding, photo
// submission, and the supervisor that ties them to the control bus.
package slave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fourdrec/fourdrec/internal/bus"
	"github.com/fourdrec/fourdrec/internal/camera"
	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/storage"
	"github.com/fourdrec/fourdrec/internal/worker"
)

const (
	// RestartExitCode is the distinguished exit code the external respawn
	// wrapper watches for.
	RestartExitCode = 4813

	// heartbeatInterval paces CAMERA_STATUS batches. It must sit well
	// under the master's offline deadline.
	heartbeatInterval = 400 * time.Millisecond
)

// ErrRestartRequested means the process should exit with RestartExitCode so
// the wrapper respawns it with a clean SDK session.
var ErrRestartRequested = errors.New("restart requested")

// Supervisor runs one capture node: it enforces the expected camera set,
// starts the per-camera runtimes, and routes bus traffic to them.
type Supervisor struct {
	cfg      *config.Config
	hostname string
	factory  camera.Factory
	client   *bus.Client
	sandbox  *storage.Sandbox
	log      *slog.Logger

	encoders  *worker.Pool
	loader    *ShotLoader
	submitter *Submitter
	stats     *StatsCollector

	mu       sync.Mutex
	runtimes map[string]*Runtime
	driveIdx int

	restartOnce sync.Once
	restartCh   chan struct{}

	wg sync.WaitGroup
}

// NewSupervisor wires a supervisor for this hostname. The client may be a
// TCP client or a local pair attached to an in-process master.
func NewSupervisor(cfg *config.Config, hostname string, factory camera.Factory, client *bus.Client, logger *slog.Logger) (*Supervisor, error) {
	if len(cfg.Slave.RecordDrives) == 0 {
		return nil, errors.New("slave.record_drives must list at least one directory")
	}
	sandbox, err := storage.NewSandbox(cfg.Storage.SubmitRoot)
	if err != nil {
		return nil, err
	}
	log := observability.WithComponent(logger, "supervisor")
	encoders := worker.NewPool(cfg.Slave.EncoderWorkers, logger)

	s := &Supervisor{
		cfg:       cfg,
		hostname:  hostname,
		factory:   factory,
		client:    client,
		sandbox:   sandbox,
		log:       log,
		encoders:  encoders,
		loader:    NewShotLoader(cfg.Slave.RecordDrives, logger),
		stats:     NewStatsCollector(hostname, cfg.Slave.RecordDrives),
		runtimes:  make(map[string]*Runtime),
		restartCh: make(chan struct{}),
	}
	s.submitter = NewSubmitter(sandbox, cfg.Slave.Submit, encoders, s.send, logger)
	return s, nil
}

// Run blocks until the context ends or the master orders a restart. A
// restart order returns ErrRestartRequested; the caller exits with
// RestartExitCode.
func (s *Supervisor) Run(ctx context.Context) error {
	expected, err := s.cfg.Slave.ExpectedCameras(s.hostname)
	if err != nil {
		return err
	}
	if err := s.enforceCameras(ctx, expected); err != nil {
		return err
	}
	if err := s.openRuntimes(expected); err != nil {
		return err
	}
	defer s.shutdown()

	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to master: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.client.Run(runCtx, s.handle); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("bus receive loop ended", "error", err)
		}
	}()
	s.wg.Add(1)
	go s.heartbeatLoop(runCtx)
	s.wg.Add(1)
	go s.statsLoop(runCtx)

	s.log.Info("slave up",
		"hostname", s.hostname,
		"cameras", len(expected),
		"drives", len(s.cfg.Slave.RecordDrives))

	select {
	case <-ctx.Done():
		return nil
	case <-s.restartCh:
		return ErrRestartRequested
	}
}

// enforceCameras retries discovery with a factory reset between attempts
// until every expected serial is present.
func (s *Supervisor) enforceCameras(ctx context.Context, expected []string) error {
	for {
		present, err := s.factory.Discover(ctx)
		if err != nil {
			return fmt.Errorf("discovering cameras: %w", err)
		}
		missing := missingSerials(expected, present)
		if len(missing) == 0 {
			return nil
		}
		s.log.Warn("camera count mismatch, resetting capture bus",
			"expected", len(expected),
			"present", len(present),
			"missing", missing)
		if err := s.factory.Reset(ctx); err != nil {
			s.log.Error("capture bus reset failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Slave.CameraRetryInterval):
		}
	}
}

func missingSerials(expected, present []string) []string {
	have := make(map[string]bool, len(present))
	for _, serial := range present {
		have[serial] = true
	}
	var missing []string
	for _, serial := range expected {
		if !have[serial] {
			missing = append(missing, serial)
		}
	}
	return missing
}

func (s *Supervisor) openRuntimes(serials []string) error {
	deps := RuntimeDeps{
		Log:        s.log,
		Send:       s.send,
		Encoders:   s.encoders,
		NextDrive:  s.nextDrive,
		OnFault:    s.onCameraFault,
		QueueDepth: s.cfg.Slave.RecordQueueDepth,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, serial := range serials {
		driver, err := s.factory.Driver(serial)
		if err != nil {
			return fmt.Errorf("building driver for %s: %w", serial, err)
		}
		s.runtimes[serial] = NewRuntime(driver, deps)
	}
	return nil
}

// nextDrive spreads consecutive shot files across the record drives.
func (s *Supervisor) nextDrive() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	drive := s.cfg.Slave.RecordDrives[s.driveIdx%len(s.cfg.Slave.RecordDrives)]
	s.driveIdx++
	return drive
}

func (s *Supervisor) runtimeList() []*Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Runtime, 0, len(s.runtimes))
	for _, r := range s.runtimes {
		list = append(list, r)
	}
	return list
}

func (s *Supervisor) runtimeFor(serial string) (*Runtime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runtimes[serial]
	return r, ok
}

// send pushes a message to the master, logging instead of failing; the
// link-level redial in the client covers transient outages.
func (s *Supervisor) send(m bus.Message) {
	if err := s.client.Send(m); err != nil {
		s.log.Warn("sending to master", "kind", m.Kind.String(), "error", err)
	}
}

// onCameraFault reports a dead SDK session as a critical error. The master
// answers with SLAVE_RESTART and the respawn wrapper gives the node a clean
// process to re-enumerate in.
func (s *Supervisor) onCameraFault(serial string, err error) {
	s.log.Error("camera fault", "camera_id", serial, "error", err)
	msg, encErr := bus.NewSlaveError(bus.SlaveError{
		SlaveName:      s.hostname,
		Text:           err.Error(),
		RequireRestart: true,
	})
	if encErr != nil {
		s.log.Error("encoding slave error", "error", encErr)
		return
	}
	s.send(msg)
}

func (s *Supervisor) requestRestart(reason string) {
	s.restartOnce.Do(func() {
		s.log.Warn("restart requested", "reason", reason, "exit_code", RestartExitCode)
		close(s.restartCh)
	})
}

// handle routes one inbound bus message.
func (s *Supervisor) handle(m bus.Message) {
	switch m.Kind {
	case bus.KindMasterDown:
		s.requestRestart("master down")

	case bus.KindSlaveRestart:
		if name := m.Header[bus.HeaderSlaveName]; name == s.hostname {
			s.requestRestart("master ordered restart")
		}

	case bus.KindToggleLiveView:
		s.handleLiveView(m)

	case bus.KindToggleRecording:
		s.handleRecordToggle(m)

	case bus.KindGetShotImage:
		s.handleShotImage(m)

	case bus.KindSubmitShot:
		s.handleSubmitShot(m)

	case bus.KindCameraParm:
		s.handleCameraParm(m)

	case bus.KindRetrigger:
		for _, r := range s.runtimeList() {
			if err := r.Retrigger(); err != nil {
				s.log.Warn("retrigger", "camera_id", r.Serial(), "error", err)
			}
		}

	case bus.KindRemoveShot:
		shotID := m.Header[bus.HeaderShotID]
		// Drop the cached read handle before deleting underneath it.
		if err := s.loader.Close(); err != nil {
			s.log.Warn("closing shot loader", "error", err)
		}
		if err := RemoveShotFiles(s.cfg.Slave.RecordDrives, shotID); err != nil {
			s.log.Warn("removing shot files", "shot_id", shotID, "error", err)
		} else {
			s.log.Info("shot files removed", "shot_id", shotID)
		}

	default:
		s.log.Debug("unhandled message", "kind", m.Kind.String())
	}
}

func (s *Supervisor) handleLiveView(m bus.Message) {
	toggle, err := bus.DecodeJSON[bus.LiveViewToggle](m)
	if err != nil {
		s.log.Error("decoding live view toggle", "error", err)
		return
	}
	for _, r := range s.targets(toggle.CameraIDs) {
		if err := r.SetLiveView(context.Background(), toggle.On, toggle.Quality, toggle.ScaleLength); err != nil {
			s.reportError(fmt.Errorf("live view on %s: %w", r.Serial(), err), false)
		}
	}
}

func (s *Supervisor) handleRecordToggle(m bus.Message) {
	toggle, err := bus.DecodeJSON[bus.RecordToggle](m)
	if err != nil {
		s.log.Error("decoding record toggle", "error", err)
		return
	}
	if toggle.IsStart {
		for _, r := range s.runtimeList() {
			if err := r.StartRecording(context.Background(), toggle.ShotID); err != nil {
				s.reportError(fmt.Errorf("start recording on %s: %w", r.Serial(), err), false)
			}
		}
		return
	}
	for _, r := range s.runtimeList() {
		if !r.Recording() {
			continue
		}
		report, err := r.StopRecording()
		if err != nil {
			s.reportError(fmt.Errorf("stop recording on %s: %w", r.Serial(), err), false)
			continue
		}
		msg, err := bus.NewRecordReport(report)
		if err != nil {
			s.log.Error("encoding record report", "error", err)
			continue
		}
		s.send(msg)
	}
}

func (s *Supervisor) handleShotImage(m bus.Message) {
	req, err := bus.DecodeJSON[bus.ShotImageRequest](m)
	if err != nil {
		s.log.Error("decoding shot image request", "error", err)
		return
	}
	if _, mine := s.runtimeFor(req.CameraID); !mine {
		return
	}
	// Served off the encoder pool; scrubbing fires these in bursts.
	worker.Submit(s.encoders, func(context.Context) (struct{}, error) {
		data, err := s.loader.FrameJPEG(req.ShotID, req.CameraID, req.Frame, req.Quality, req.ScaleLength)
		switch {
		case errors.Is(err, ErrFrameMissing):
			s.log.Warn("shot image for missing frame",
				"shot_id", req.ShotID,
				"camera_id", req.CameraID,
				"frame", req.Frame)
		case err != nil:
			s.log.Error("loading shot image",
				"shot_id", req.ShotID,
				"camera_id", req.CameraID,
				"frame", req.Frame,
				"error", err)
		default:
			s.send(bus.NewShotImage(req.CameraID, req.ShotID, req.Frame, data))
		}
		return struct{}{}, nil
	})
}

func (s *Supervisor) handleSubmitShot(m bus.Message) {
	order, err := bus.DecodeJSON[bus.SubmitShot](m)
	if err != nil {
		s.log.Error("decoding submit order", "error", err)
		return
	}
	for _, r := range s.runtimeList() {
		serial := r.Serial()
		path, ok := FindShotFile(s.cfg.Slave.RecordDrives, order.ShotID, serial)
		if !ok {
			s.log.Warn("no shot file for submit",
				"shot_id", order.ShotID,
				"camera_id", serial)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// Fresh handle per submission; the loader's cached handle
			// keeps serving scrub requests untouched.
			reader, err := OpenShotFile(path)
			if err != nil {
				s.reportError(fmt.Errorf("opening shot file for submit: %w", err), false)
				return
			}
			defer reader.Close()
			if err := s.submitter.Submit(context.Background(), order, serial, reader); err != nil {
				s.reportError(fmt.Errorf("submitting %s/%s: %w", order.ShotID, serial, err), false)
			}
		}()
	}
}

func (s *Supervisor) handleCameraParm(m bus.Message) {
	parm, err := bus.DecodeJSON[bus.CameraParm](m)
	if err != nil {
		s.log.Error("decoding camera parm", "error", err)
		return
	}
	var targets []*Runtime
	if serial, ok := m.Header.Get(bus.HeaderCameraID); ok && serial != "" {
		targets = s.targets([]string{serial})
	} else {
		targets = s.runtimeList()
	}
	for _, r := range targets {
		if err := r.SetParameter(parm.Name, parm.Value); err != nil {
			s.log.Warn("setting camera parameter",
				"camera_id", r.Serial(),
				"name", parm.Name,
				"error", err)
		}
	}
}

// targets resolves a camera id list; an empty list means every runtime.
func (s *Supervisor) targets(serials []string) []*Runtime {
	if len(serials) == 0 {
		return s.runtimeList()
	}
	var list []*Runtime
	for _, serial := range serials {
		if r, ok := s.runtimeFor(serial); ok {
			list = append(list, r)
		}
	}
	return list
}

func (s *Supervisor) reportError(err error, requireRestart bool) {
	s.log.Error("slave error", "error", err, "require_restart", requireRestart)
	msg, encErr := bus.NewSlaveError(bus.SlaveError{
		SlaveName:      s.hostname,
		Text:           err.Error(),
		RequireRestart: requireRestart,
	})
	if encErr != nil {
		s.log.Error("encoding slave error", "error", encErr)
		return
	}
	s.send(msg)
}

// heartbeatLoop publishes the per-camera status batch.
func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			list := s.runtimeList()
			report := make(camera.StatusReport, len(list))
			for _, r := range list {
				report[r.Serial()] = r.Status()
			}
			msg, err := bus.NewCameraStatus(report)
			if err != nil {
				s.log.Error("encoding camera status", "error", err)
				continue
			}
			s.send(msg)
		}
	}
}

// statsLoop publishes host resource usage.
func (s *Supervisor) statsLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Slave.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg, err := bus.NewSlaveStatus(s.stats.Collect(ctx))
			if err != nil {
				s.log.Error("encoding slave status", "error", err)
				continue
			}
			s.send(msg)
		}
	}
}

// shutdown stops runtimes and releases node resources. Runs after the bus
// loops have been cancelled.
func (s *Supervisor) shutdown() {
	for _, r := range s.runtimeList() {
		r.Stop()
	}
	if err := s.loader.Close(); err != nil {
		s.log.Warn("closing shot loader", "error", err)
	}
	s.encoders.Close()
	if err := s.client.Close(); err != nil {
		s.log.Debug("closing bus client", "error", err)
	}
	s.wg.Wait()
	s.log.Info("slave stopped", "hostname", s.hostname)
}
