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
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/worker"
)

// nominalFrameInterval is the hardware trigger period the capture rig runs
// at. PerfBias reports how far frame arrival drifts from it.
const nominalFrameInterval = time.Second / 30

// ErrAlreadyRecording is returned when a recording starts while one runs.
var ErrAlreadyRecording = errors.New("camera is already recording")

// RuntimeDeps wires a runtime into its node: where to send bus messages,
// which drive receives the next shot file, which pool encodes previews, and
// who hears about hardware faults.
type RuntimeDeps struct {
	Log       *slog.Logger
	Send      func(bus.Message)
	Encoders  *worker.Pool
	NextDrive func() string
	// OnFault is called off the capture path when the SDK session dies.
	OnFault    func(serial string, err error)
	QueueDepth int
}

// Runtime drives one physical camera: the open/standby/capturing state
// machine, the live-view mailbox, and the shot file writer.
type Runtime struct {
	serial string
	driver camera.Driver
	deps   RuntimeDeps
	log    *slog.Logger

	mailbox *Mailbox

	mu          sync.Mutex
	state       camera.State
	perfBias    float64
	current     int
	recordCount int
	lastFrameAt time.Time
	opened      bool
	closing     bool
	liveOn      bool
	liveQuality int
	liveScale   int
	recording   *recordingSession

	wg sync.WaitGroup
}

type recordingSession struct {
	shotID string
	writer *ShotWriter
	queue  chan camera.Frame
	done   chan struct{}

	// sendMu orders the last in-flight producer send against the close of
	// queue. The recorder drains without taking it, so a blocked send
	// always completes.
	sendMu  sync.Mutex
	stopped bool
}

// push delivers one frame unless the session is stopping. Blocking on a
// full queue is the backpressure the capture loop wants.
func (s *recordingSession) push(f camera.Frame) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.stopped {
		return
	}
	s.queue <- f
}

// finish closes the intake and waits for the recorder to drain.
func (s *recordingSession) finish() {
	s.sendMu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.sendMu.Unlock()
	<-s.done
}

// NewRuntime builds a runtime for one camera. The camera stays CLOSE until
// live view or recording asks for it.
func NewRuntime(driver camera.Driver, deps RuntimeDeps) *Runtime {
	if deps.QueueDepth <= 0 {
		deps.QueueDepth = 1
	}
	r := &Runtime{
		serial:  driver.ID(),
		driver:  driver,
		deps:    deps,
		log:     observability.WithCamera(observability.WithComponent(deps.Log, "runtime"), driver.ID()),
		mailbox: NewMailbox(),
		state:   camera.StateClose,
	}
	r.wg.Add(1)
	go r.liveLoop()
	return r
}

// Serial returns the camera's vendor serial.
func (r *Runtime) Serial() string { return r.serial }

// Status snapshots the camera state for the heartbeat batch.
func (r *Runtime) Status() camera.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return camera.Status{
		State:             r.state,
		PerfBias:          r.perfBias,
		CurrentFrame:      r.current,
		RecordFramesCount: r.recordCount,
	}
}

// SetLiveView turns preview encoding on or off. Turning it on opens the
// camera if needed; turning it off leaves the camera in STANDBY so a
// recording can start without re-arming the trigger.
func (r *Runtime) SetLiveView(ctx context.Context, on bool, quality, scaleLength int) error {
	if on {
		if err := r.ensureOpen(ctx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.liveOn = on
	r.liveQuality = quality
	r.liveScale = scaleLength
	r.mu.Unlock()
	r.log.Debug("live view toggled", "on", on, "quality", quality, "scale", scaleLength)
	return nil
}

// StartRecording opens the camera if needed and arms a shot file on the
// next record drive. The state stays STANDBY until the first trigger edge.
func (r *Runtime) StartRecording(ctx context.Context, shotID string) error {
	if err := r.ensureOpen(ctx); err != nil {
		return err
	}
	path := ShotFilePath(r.deps.NextDrive(), shotID, r.serial)
	writer, err := CreateShotFile(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.recording != nil {
		r.mu.Unlock()
		writer.Close()
		return fmt.Errorf("%w: shot %s", ErrAlreadyRecording, r.recording.shotID)
	}
	session := &recordingSession{
		shotID: shotID,
		writer: writer,
		queue:  make(chan camera.Frame, r.deps.QueueDepth),
		done:   make(chan struct{}),
	}
	r.recording = session
	r.recordCount = 0
	r.mu.Unlock()

	r.wg.Add(1)
	go r.recordLoop(session)
	r.log.Info("recording started", "shot_id", shotID, "path", path)
	return nil
}

// StopRecording drains the record queue, finalizes the shot file, and
// returns the per-camera report. The state drops back to STANDBY.
func (r *Runtime) StopRecording() (bus.RecordReport, error) {
	r.mu.Lock()
	session := r.recording
	r.recording = nil
	if r.state == camera.StateCapturing {
		r.state = camera.StateStandby
	}
	r.mu.Unlock()

	if session == nil {
		return bus.RecordReport{}, errors.New("no recording in progress")
	}
	session.finish()

	report := bus.RecordReport{
		CameraID: r.serial,
		ShotID:   session.shotID,
		Size:     session.writer.Size(),
	}
	rng, missing, ok := session.writer.Summary()
	if ok {
		report.Range = rng
		report.Missing = missing
	} else {
		// Nothing captured: an empty range the aggregator folds away.
		report.Range = [2]int{0, -1}
	}
	if err := session.writer.Close(); err != nil {
		return report, fmt.Errorf("closing shot file: %w", err)
	}
	r.log.Info("recording stopped",
		"shot_id", session.shotID,
		"frames", session.writer.FrameCount(),
		"missing", len(report.Missing),
		"size", report.Size)
	return report, nil
}

// Recording reports whether a shot is being written.
func (r *Runtime) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording != nil
}

// SetParameter forwards a hardware control change to the driver.
func (r *Runtime) SetParameter(name string, value float64) error {
	r.mu.Lock()
	opened := r.opened
	r.mu.Unlock()
	if !opened {
		return fmt.Errorf("camera %s is closed", r.serial)
	}
	return r.driver.SetParameter(name, value)
}

// Retrigger re-arms the hardware trigger line.
func (r *Runtime) Retrigger() error {
	r.mu.Lock()
	opened := r.opened
	r.mu.Unlock()
	if !opened {
		return fmt.Errorf("camera %s is closed", r.serial)
	}
	return r.driver.Retrigger()
}

// Stop closes the camera and ends the runtime. An in-flight recording is
// finalized without a report; the master times the camera out instead.
func (r *Runtime) Stop() {
	r.mu.Lock()
	r.closing = true
	session := r.recording
	r.recording = nil
	opened := r.opened
	r.opened = false
	r.state = camera.StateOffline
	r.mu.Unlock()

	if session != nil {
		session.finish()
		if err := session.writer.Close(); err != nil {
			r.log.Warn("closing shot file during stop", "error", err)
		}
	}
	if opened {
		if err := r.driver.Close(); err != nil {
			r.log.Warn("closing camera", "error", err)
		}
	}
	r.mailbox.Close()
	r.wg.Wait()
}

// ensureOpen opens the hardware session once and starts the capture loop.
func (r *Runtime) ensureOpen(ctx context.Context) error {
	r.mu.Lock()
	if r.opened {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.driver.Open(ctx); err != nil {
		r.mu.Lock()
		r.state = camera.StateOffline
		r.mu.Unlock()
		return fmt.Errorf("opening camera %s: %w", r.serial, err)
	}

	r.mu.Lock()
	r.opened = true
	r.state = camera.StateStandby
	r.mu.Unlock()

	r.wg.Add(1)
	go r.captureLoop(r.driver.Frames())
	r.log.Info("camera opened")
	return nil
}

// captureLoop consumes the driver's frame stream until it closes.
func (r *Runtime) captureLoop(frames <-chan camera.Frame) {
	defer r.wg.Done()
	for f := range frames {
		r.handleFrame(f)
	}

	r.mu.Lock()
	expected := r.closing
	r.opened = false
	r.state = camera.StateOffline
	r.mu.Unlock()

	if !expected {
		r.log.Error("camera stream died")
		if r.deps.OnFault != nil {
			go r.deps.OnFault(r.serial, fmt.Errorf("camera %s stream died", r.serial))
		}
	}
}

func (r *Runtime) handleFrame(f camera.Frame) {
	now := time.Now()

	r.mu.Lock()
	r.current = f.Number
	if !r.lastFrameAt.IsZero() {
		drift := (now.Sub(r.lastFrameAt) - nominalFrameInterval).Seconds()
		r.perfBias = 0.8*r.perfBias + 0.2*drift
	}
	r.lastFrameAt = now
	session := r.recording
	if session != nil && r.state == camera.StateStandby {
		// Trigger edge: frames are flowing into a recording.
		r.state = camera.StateCapturing
	}
	r.mu.Unlock()

	r.mailbox.Put(f)
	if session != nil {
		session.push(f)
	}
}

// recordLoop appends queued frames to the shot file in arrival order.
func (r *Runtime) recordLoop(session *recordingSession) {
	defer r.wg.Done()
	defer close(session.done)
	for f := range session.queue {
		if err := session.writer.Append(f.Number, f.Image); err != nil {
			r.log.Error("appending frame", "shot_id", session.shotID, "frame", f.Number, "error", err)
			continue
		}
		r.mu.Lock()
		r.recordCount++
		r.mu.Unlock()
	}
}

// liveLoop consumes the mailbox for the runtime's whole life. Encodes run
// on the shared pool so a node's concurrent encodes stay bounded, but each
// camera waits for its own result, preserving per-camera frame order.
func (r *Runtime) liveLoop() {
	defer r.wg.Done()
	for {
		f, ok := r.mailbox.Take()
		if !ok {
			return
		}
		r.mu.Lock()
		on, quality, scale := r.liveOn, r.liveQuality, r.liveScale
		r.mu.Unlock()
		if !on {
			continue
		}

		task := worker.Submit(r.deps.Encoders, func(context.Context) ([]byte, error) {
			return EncodeJPEG(f.Image, quality, scale)
		})
		data, err := task.Wait(context.Background())
		if err != nil {
			if !errors.Is(err, worker.ErrPoolClosed) {
				r.log.Warn("encoding live frame", "frame", f.Number, "error", err)
			}
			continue
		}
		r.deps.Send(bus.NewLiveViewImage(r.serial, f.Number, data))
	}
}
