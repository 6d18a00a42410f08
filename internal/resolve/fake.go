package resolve

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"

	"github.com/fourdrec/fourdrec/pkg/fourdframe"
)

// FakeEngine fabricates small deterministic meshes instead of
// reconstructing. Used by tests and the simulated dev topology. Stage state
// lives on disk like the real engine's, so separate farm tasks over the same
// workspace chain correctly.
type FakeEngine struct {
	mu sync.Mutex

	// FailInitialize, FailResolve and FailExtract script errors.
	FailInitialize error
	FailResolve    map[int]error
	FailExtract    map[int]error

	opened []Project
}

var _ Engine = (*FakeEngine)(nil)

// NewFakeEngine returns an engine with nothing scripted.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		FailResolve: make(map[int]error),
		FailExtract: make(map[int]error),
	}
}

// Opened returns every project passed to Open, in order.
func (e *FakeEngine) Opened() []Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Project(nil), e.opened...)
}

// Open records the project and binds a session to its workspace.
func (e *FakeEngine) Open(_ context.Context, proj Project) (Session, error) {
	e.mu.Lock()
	e.opened = append(e.opened, proj)
	e.mu.Unlock()
	if proj.Dir == "" {
		return nil, fmt.Errorf("fake engine: empty workspace dir")
	}
	return &fakeSession{engine: e, proj: proj}, nil
}

type fakeSession struct {
	engine *FakeEngine
	proj   Project
}

func (s *fakeSession) workDir() string  { return filepath.Join(s.proj.Dir, "engine") }
func (s *fakeSession) caliDir() string  { return filepath.Join(s.workDir(), "cali") }
func (s *fakeSession) sceneDir() string { return filepath.Join(s.workDir(), "scene") }

func (s *fakeSession) meshMarker(frame int) string {
	return filepath.Join(s.sceneDir(), fmt.Sprintf("%04d.mesh", frame))
}

func (s *fakeSession) emit(ev Event) {
	if s.proj.Events != nil {
		s.proj.Events(ev)
	}
}

// Initialize writes a calibrated-scene marker. A configured calibration
// archive must exist, mirroring the real engine's import failure.
func (s *fakeSession) Initialize(_ context.Context) error {
	s.engine.mu.Lock()
	failErr := s.engine.FailInitialize
	s.engine.mu.Unlock()
	if failErr != nil {
		return failErr
	}
	if s.proj.CaliArchive != "" {
		if _, err := os.Stat(s.proj.CaliArchive); err != nil {
			return fmt.Errorf("importing calibration archive: %w", err)
		}
	}
	if err := os.MkdirAll(s.caliDir(), 0o750); err != nil {
		return err
	}
	scene := fmt.Sprintf("aligned interval=%d region=%v\n",
		s.proj.Settings.MatchPhotosInterval, s.proj.Settings.RegionSize)
	if err := os.WriteFile(filepath.Join(s.caliDir(), "cameras.txt"), []byte(scene), 0o640); err != nil {
		return err
	}
	s.emit(Event{Kind: EventLogStdout, Message: "cameras aligned"})
	s.emit(Event{Kind: EventProgress, Percent: 100})
	return nil
}

func (s *fakeSession) CalibrationDir() string { return s.caliDir() }

// Resolve writes the frame's mesh marker.
func (s *fakeSession) Resolve(_ context.Context, frame int) error {
	s.engine.mu.Lock()
	failErr := s.engine.FailResolve[frame]
	s.engine.mu.Unlock()
	if failErr != nil {
		return failErr
	}
	if err := os.MkdirAll(s.sceneDir(), 0o750); err != nil {
		return err
	}
	s.emit(Event{Kind: EventProgress, Percent: 50})
	if err := os.WriteFile(s.meshMarker(frame), []byte("mesh"), 0o640); err != nil {
		return err
	}
	s.emit(Event{Kind: EventProgress, Percent: 100})
	return nil
}

// Extract fabricates a record for a resolved frame. Positions[0] carries the
// frame number so tests can assert ordering end to end.
func (s *fakeSession) Extract(_ context.Context, frame int) (*fourdframe.Record, error) {
	s.engine.mu.Lock()
	failErr := s.engine.FailExtract[frame]
	s.engine.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	if _, err := os.Stat(s.meshMarker(frame)); err != nil {
		return nil, fmt.Errorf("frame %d not resolved: %w", frame, err)
	}

	rec := &fourdframe.Record{
		Positions: make([]float32, 9),
		UVs:       make([]float32, 6),
	}
	for i := range rec.Positions {
		rec.Positions[i] = float32(i)
	}
	rec.Positions[0] = float32(frame)
	for i := range rec.UVs {
		rec.UVs[i] = float32(i) * 0.1
	}
	tex, err := flatJPEG(8, 8, uint8(frame*37))
	if err != nil {
		return nil, err
	}
	rec.Texture = tex
	return rec, nil
}

func (s *fakeSession) Close() error { return nil }

func flatJPEG(w, h int, shade uint8) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = shade
		img.Pix[i+1] = shade
		img.Pix[i+2] = shade
		img.Pix[i+3] = 255
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
