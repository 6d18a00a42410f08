package master

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fourdrec/fourdrec/internal/observability"
)

// IdleLevel is the decibel sentinel emitted when no audio sample arrived
// during a meter tick, so level displays decay instead of freezing.
const IdleLevel = -100.0

// defaultMeterInterval caps UI decibel dispatch at one update per tick.
const defaultMeterInterval = 16 * time.Millisecond

// Meter throttles the audio capture callback's level stream down to at most
// one listener dispatch per interval, newest value wins.
type Meter struct {
	interval time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	level float64
	fresh bool

	cbMu      sync.Mutex
	listeners map[ListenerID]func(db float64)
	nextCb    ListenerID
}

// NewMeter builds a meter. A non-positive interval falls back to 16 ms.
func NewMeter(interval time.Duration, logger *slog.Logger) *Meter {
	if interval <= 0 {
		interval = defaultMeterInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		interval:  interval,
		log:       observability.WithComponent(logger, "audio-meter"),
		listeners: make(map[ListenerID]func(float64)),
	}
}

// Push stores the newest measured level. Called from the audio capture
// callback at device rate; only the latest value survives to the next tick.
func (m *Meter) Push(db float64) {
	m.mu.Lock()
	m.level = db
	m.fresh = true
	m.mu.Unlock()
}

// Subscribe registers a level listener.
func (m *Meter) Subscribe(fn func(db float64)) ListenerID {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.nextCb++
	m.listeners[m.nextCb] = fn
	return m.nextCb
}

// Unsubscribe removes a level listener.
func (m *Meter) Unsubscribe(id ListenerID) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	delete(m.listeners, id)
}

// Run dispatches one level per tick until the context ends: the newest
// pushed value, or the idle sentinel when nothing arrived since last tick.
func (m *Meter) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			db := IdleLevel
			if m.fresh {
				db = m.level
				m.fresh = false
			}
			m.mu.Unlock()
			m.dispatch(db)
		}
	}
}

func (m *Meter) dispatch(db float64) {
	m.cbMu.Lock()
	listeners := make([]func(float64), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.cbMu.Unlock()
	for _, fn := range listeners {
		fn(db)
	}
}
