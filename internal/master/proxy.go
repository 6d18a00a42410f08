// Package master implements the control-plane side of the rig: the camera
// proxy registry mirroring slave-reported state, the shot recorder that
// aggregates per-camera reports, the audio level meter, and the core that
// routes bus traffic between them.
package master

import (
	"sync"
	"time"

	"github.com/fourdrec/fourdrec/internal/camera"
)

// Proxy mirrors one physical camera on the master. It holds the latest
// slave-reported status and the deadline bookkeeping that turns silence
// into OFFLINE.
type Proxy struct {
	serial string

	mu       sync.Mutex
	status   camera.Status
	lastSeen time.Time
	seen     bool
}

// NewProxy builds a proxy in CLOSE state. The deadline clock starts at now;
// a camera whose slave never comes up sweeps to OFFLINE like any other.
func NewProxy(serial string, now time.Time) *Proxy {
	return &Proxy{
		serial:   serial,
		status:   camera.Status{State: camera.StateClose},
		lastSeen: now,
	}
}

// Serial returns the camera serial this proxy mirrors.
func (p *Proxy) Serial() string {
	return p.serial
}

// Status returns a snapshot of the mirrored status.
func (p *Proxy) Status() camera.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Apply ingests one reported status and rewinds the offline deadline.
// notify is false for a repeated non-CAPTURING state, the heartbeat steady
// state; CAPTURING always notifies because the frame counters move.
// transitioned is true when the state itself changed.
func (p *Proxy) Apply(status camera.Status, now time.Time) (notify, transitioned bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastSeen = now
	prev := p.status.State
	first := !p.seen
	p.seen = true
	p.status = status

	transitioned = first || status.State != prev
	if !transitioned && status.State != camera.StateCapturing {
		return false, false
	}
	return true, transitioned
}

// Expired reports whether the proxy has been silent past the deadline and
// is not already OFFLINE.
func (p *Proxy) Expired(now time.Time, deadline time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.State != camera.StateOffline && now.Sub(p.lastSeen) >= deadline
}

// MarkOffline forces the proxy OFFLINE. It returns the resulting status and
// whether this call performed the transition, so exactly one sweep notifies.
func (p *Proxy) MarkOffline() (camera.Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State == camera.StateOffline {
		return p.status, false
	}
	p.status.State = camera.StateOffline
	return p.status, true
}
