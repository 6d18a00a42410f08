package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory enumerates attached cameras and builds drivers for them. The
// supervisor uses it to enforce the expected camera count and to power-cycle
// the capture bus when cameras are missing.
type Factory interface {
	// Discover returns the serials currently visible on the capture bus.
	Discover(ctx context.Context) ([]string, error)

	// Driver builds a driver for one serial. The caller owns Open/Close.
	Driver(serial string) (Driver, error)

	// Reset power-cycles the capture bus so wedged cameras re-enumerate.
	Reset(ctx context.Context) error
}

// FakeFactory is a Factory for tests and the bench rig. Serials can change
// between Discover calls to simulate cameras dropping off the bus, and a
// Reset can be scripted to bring them back.
type FakeFactory struct {
	mu      sync.Mutex
	present map[string]bool
	drivers map[string]*FakeDriver
	resets  int

	// OnReset, when set, runs inside Reset with the lock held so tests can
	// flip camera presence at the exact reset boundary.
	OnReset func(present map[string]bool)

	width, height int
}

var _ Factory = (*FakeFactory)(nil)

// NewFakeFactory builds a factory with the given serials attached.
func NewFakeFactory(serials ...string) *FakeFactory {
	f := &FakeFactory{
		present: make(map[string]bool, len(serials)),
		drivers: make(map[string]*FakeDriver),
		width:   64,
		height:  48,
	}
	for _, s := range serials {
		f.present[s] = true
	}
	return f
}

// Discover lists the attached serials in stable order.
func (f *FakeFactory) Discover(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	serials := make([]string, 0, len(f.present))
	for s, ok := range f.present {
		if ok {
			serials = append(serials, s)
		}
	}
	sort.Strings(serials)
	return serials, nil
}

// Driver returns the fake driver for serial, creating it on first use.
func (f *FakeFactory) Driver(serial string) (Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present[serial] {
		return nil, fmt.Errorf("camera %s not attached", serial)
	}
	d, ok := f.drivers[serial]
	if !ok {
		d = NewFakeDriver(serial, f.width, f.height)
		f.drivers[serial] = d
	}
	return d, nil
}

// Reset simulates a bus power cycle.
func (f *FakeFactory) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	if f.OnReset != nil {
		f.OnReset(f.present)
	}
	return nil
}

// Resets reports how many times the bus was power-cycled.
func (f *FakeFactory) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// Detach removes a camera from the bus without closing its driver.
func (f *FakeFactory) Detach(serial string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[serial] = false
}

// FakeDrivers returns the live fake drivers keyed by serial, for tests that
// need to emit frames directly.
func (f *FakeFactory) FakeDrivers() map[string]*FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*FakeDriver, len(f.drivers))
	for s, d := range f.drivers {
		out[s] = d
	}
	return out
}
