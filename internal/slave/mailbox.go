package slave

import (
	"sync"

	"github.com/fourdrec/fourdrec/internal/camera"
)

// Mailbox is the single-slot handoff between a camera's capture loop and
// its live-view encoder. The producer never blocks: a new frame replaces an
// undelivered one, so a slow encoder sees the newest frame and nothing else.
// The consumer blocks while the slot is empty.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  camera.Frame
	full   bool
	closed bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put stores a frame, replacing any undelivered one. Frames put after Close
// are dropped.
func (m *Mailbox) Put(f camera.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.frame = f
	m.full = true
	m.cond.Signal()
}

// Take blocks until a frame is available and returns it. It returns
// ok=false once the mailbox is closed and drained.
func (m *Mailbox) Take() (camera.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.full && !m.closed {
		m.cond.Wait()
	}
	if !m.full {
		return camera.Frame{}, false
	}
	f := m.frame
	m.frame = camera.Frame{}
	m.full = false
	return f, true
}

// Close wakes any blocked consumer. A frame already in the slot is still
// delivered before Take reports closed.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}
