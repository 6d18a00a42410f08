package camera

import (
	"context"
	"image"
)

// Frame is one raw capture delivered by a driver. Pixels stay in memory as
// RGBA; encoding to JPEG happens downstream in the live view encoder or the
// shot submitter so a single capture can serve both at different qualities.
type Frame struct {
	CameraID string
	Number   int
	Image    *image.RGBA
}

// Driver is the contract a vendor SDK binding must satisfy. Implementations
// own the hardware session; the runtime owns the state machine built on top.
type Driver interface {
	// ID returns the stable vendor serial.
	ID() string

	// Open acquires the hardware and arms the trigger. It must be safe to
	// call Close after a failed Open.
	Open(ctx context.Context) error

	// Close releases the hardware. Frames stops delivering afterwards.
	Close() error

	// Frames delivers captures in trigger order. The channel closes when
	// the driver is closed or the hardware session dies.
	Frames() <-chan Frame

	// SetParameter adjusts a named hardware control such as exposure or
	// gain. Unknown names return an error.
	SetParameter(name string, value float64) error

	// Retrigger re-arms the hardware trigger line after a missed edge.
	Retrigger() error
}
