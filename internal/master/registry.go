package master

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fourdrec/fourdrec/internal/camera"
	"github.com/fourdrec/fourdrec/internal/observability"
)

// ImageRecord is one unit of the master's image stream: a live-view or shot
// frame from a slave, or a synthetic state-only record (JPEG nil) pushed
// when a camera changes state with no image flowing. Synthetic records are
// how a viewer learns a camera went OFFLINE mid-preview.
type ImageRecord struct {
	CameraID string
	ShotID   string
	Frame    int
	State    camera.State
	JPEG     []byte
}

// Synthetic reports whether the record carries no image payload.
func (r ImageRecord) Synthetic() bool {
	return len(r.JPEG) == 0
}

// ListenerID identifies one registered registry listener.
type ListenerID uint64

// Registry holds one proxy per expected camera for the whole master
// session. Proxies are created up front from the topology; a camera whose
// slave never connects shows up OFFLINE after the deadline.
type Registry struct {
	deadline time.Duration
	log      *slog.Logger

	proxies map[string]*Proxy
	serials []string

	cbMu     sync.Mutex
	states   map[ListenerID]func(serial string, status camera.Status)
	images   map[ListenerID]func(ImageRecord)
	nextCb   ListenerID
}

// NewRegistry builds proxies for every serial in the topology.
func NewRegistry(serials []string, deadline time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	r := &Registry{
		deadline: deadline,
		log:      observability.WithComponent(logger, "camera-registry"),
		proxies:  make(map[string]*Proxy, len(serials)),
		serials:  make([]string, 0, len(serials)),
		states:   make(map[ListenerID]func(string, camera.Status)),
		images:   make(map[ListenerID]func(ImageRecord)),
	}
	for _, serial := range serials {
		if _, dup := r.proxies[serial]; dup {
			continue
		}
		r.proxies[serial] = NewProxy(serial, now)
		r.serials = append(r.serials, serial)
	}
	sort.Strings(r.serials)
	return r
}

// Serials returns the expected camera serials in stable order.
func (r *Registry) Serials() []string {
	out := make([]string, len(r.serials))
	copy(out, r.serials)
	return out
}

// Status returns a snapshot of every proxy's mirrored status.
func (r *Registry) Status() map[string]camera.Status {
	out := make(map[string]camera.Status, len(r.proxies))
	for serial, p := range r.proxies {
		out[serial] = p.Status()
	}
	return out
}

// StatusOf returns one camera's mirrored status.
func (r *Registry) StatusOf(serial string) (camera.Status, bool) {
	p, ok := r.proxies[serial]
	if !ok {
		return camera.Status{}, false
	}
	return p.Status(), true
}

// RegisterStateListener subscribes to per-camera status notifications.
func (r *Registry) RegisterStateListener(fn func(serial string, status camera.Status)) ListenerID {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.nextCb++
	r.states[r.nextCb] = fn
	return r.nextCb
}

// UnregisterStateListener removes a state listener.
func (r *Registry) UnregisterStateListener(id ListenerID) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	delete(r.states, id)
}

// RegisterImageConsumer subscribes to the image stream.
func (r *Registry) RegisterImageConsumer(fn func(ImageRecord)) ListenerID {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.nextCb++
	r.images[r.nextCb] = fn
	return r.nextCb
}

// UnregisterImageConsumer removes an image consumer.
func (r *Registry) UnregisterImageConsumer(id ListenerID) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	delete(r.images, id)
}

// Apply ingests one CAMERA_STATUS batch. Repeated non-CAPTURING states are
// absorbed without notifying; a state change notifies listeners and pushes
// a synthetic record to image consumers.
func (r *Registry) Apply(report camera.StatusReport) {
	now := time.Now()
	for serial, status := range report {
		p, ok := r.proxies[serial]
		if !ok {
			r.log.Warn("status for camera outside topology", "camera_id", serial)
			continue
		}
		notify, transitioned := p.Apply(status, now)
		if !notify {
			continue
		}
		if transitioned {
			r.log.Info("camera state changed",
				"camera_id", serial,
				"state", status.State.String())
			r.PushImage(ImageRecord{CameraID: serial, State: status.State})
		}
		r.notifyState(serial, status)
	}
}

// PushImage fans one image record out to every consumer.
func (r *Registry) PushImage(rec ImageRecord) {
	r.cbMu.Lock()
	consumers := make([]func(ImageRecord), 0, len(r.images))
	for _, fn := range r.images {
		consumers = append(consumers, fn)
	}
	r.cbMu.Unlock()
	for _, fn := range consumers {
		fn(rec)
	}
}

func (r *Registry) notifyState(serial string, status camera.Status) {
	r.cbMu.Lock()
	listeners := make([]func(string, camera.Status), 0, len(r.states))
	for _, fn := range r.states {
		listeners = append(listeners, fn)
	}
	r.cbMu.Unlock()
	for _, fn := range listeners {
		fn(serial, status)
	}
}

// Run sweeps for expired proxies until the context ends. The sweep period
// is a quarter of the deadline so detection lands close to deadline+0.
func (r *Registry) Run(ctx context.Context) {
	period := r.deadline / 4
	if period <= 0 {
		period = 250 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep transitions every expired proxy to OFFLINE.
func (r *Registry) sweep(now time.Time) {
	for serial, p := range r.proxies {
		if !p.Expired(now, r.deadline) {
			continue
		}
		status, changed := p.MarkOffline()
		if !changed {
			continue
		}
		r.log.Warn("camera went offline", "camera_id", serial)
		r.PushImage(ImageRecord{CameraID: serial, State: camera.StateOffline})
		r.notifyState(serial, status)
	}
}
