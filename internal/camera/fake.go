package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
)

// FakeDriver is a software stand-in for a vendor SDK. The slave test suites
// and the simulated dev topology drive it by calling Emit for each trigger
// edge, which keeps frame timing fully deterministic.
type FakeDriver struct {
	id     string
	width  int
	height int

	// OpenErr, when set, is returned by the next Open call.
	OpenErr error

	mu         sync.Mutex
	open       bool
	frames     chan Frame
	parms      map[string]float64
	retriggers int
}

// NewFakeDriver returns a driver producing width x height synthetic frames.
func NewFakeDriver(id string, width, height int) *FakeDriver {
	if width <= 0 {
		width = 64
	}
	if height <= 0 {
		height = 48
	}
	return &FakeDriver{
		id:     id,
		width:  width,
		height: height,
		parms:  make(map[string]float64),
	}
}

func (d *FakeDriver) ID() string { return d.id }

func (d *FakeDriver) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		err := d.OpenErr
		d.OpenErr = nil
		return err
	}
	if d.open {
		return fmt.Errorf("camera %s: already open", d.id)
	}
	d.open = true
	d.frames = make(chan Frame, 16)
	return nil
}

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false
	close(d.frames)
	return nil
}

func (d *FakeDriver) Frames() <-chan Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

func (d *FakeDriver) SetParameter(name string, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fmt.Errorf("camera %s: not open", d.id)
	}
	d.parms[name] = value
	return nil
}

func (d *FakeDriver) Retrigger() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fmt.Errorf("camera %s: not open", d.id)
	}
	d.retriggers++
	return nil
}

// Emit synthesizes one frame for the given frame number, simulating a
// hardware trigger edge. It blocks if the runtime has fallen 16 frames
// behind, mirroring a full ring buffer.
func (d *FakeDriver) Emit(number int) {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return
	}
	ch := d.frames
	d.mu.Unlock()
	ch <- Frame{CameraID: d.id, Number: number, Image: d.render(number)}
}

// Burst emits count consecutive frames starting at start.
func (d *FakeDriver) Burst(start, count int) {
	for i := 0; i < count; i++ {
		d.Emit(start + i)
	}
}

// Fail closes the frame stream without a clean Close, simulating the SDK
// session dying underneath the runtime.
func (d *FakeDriver) Fail() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return
	}
	d.open = false
	close(d.frames)
}

// Parameter reports the last value set for a hardware control.
func (d *FakeDriver) Parameter(name string) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.parms[name]
	return v, ok
}

// Retriggers reports how many times the trigger line was re-armed.
func (d *FakeDriver) Retriggers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.retriggers
}

// render paints a gradient that shifts with the frame number so encoded
// previews visibly change frame to frame.
func (d *FakeDriver) render(number int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + number) % 256),
				G: uint8((y + number*3) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}
