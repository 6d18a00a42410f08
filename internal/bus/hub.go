package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fourdrec/fourdrec/internal/config"
)

// inboundDepth bounds the hub's fan-in channel. Per-slave read loops block
// when the master core falls behind, which pushes backpressure onto the
// sockets instead of growing memory.
const inboundDepth = 256

// Envelope is one inbound message tagged with the slave it came from.
type Envelope struct {
	From    string
	Message Message
}

// session is one registered slave link.
type session struct {
	name string
	ep   Endpoint
}

// Hub is the master side of the bus: it accepts slave connections, performs
// the SLAVE_UP handshake and fans all inbound traffic into one channel.
type Hub struct {
	cfg config.BusConfig
	log *slog.Logger

	mu      sync.RWMutex
	slaves  map[string]*session
	closed  bool
	ln      net.Listener
	inbound chan Envelope
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// NewHub builds a hub; call Start to begin accepting.
func NewHub(cfg config.BusConfig, log *slog.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		log:     log.With(slog.String("component", "bus-hub")),
		slaves:  make(map[string]*session),
		inbound: make(chan Envelope, inboundDepth),
		done:    make(chan struct{}),
	}
}

// Start binds the listen address and begins accepting slave connections.
func (h *Hub) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", h.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("bus listen %s: %w", h.cfg.ListenAddr(), err)
	}
	h.mu.Lock()
	h.ln = ln
	h.mu.Unlock()

	h.log.Info("bus listening", slog.String("addr", ln.Addr().String()))

	h.wg.Add(1)
	go h.acceptLoop()
	return nil
}

// Addr reports the bound listen address, useful when the port was 0.
func (h *Hub) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ln == nil {
		return ""
	}
	return h.ln.Addr().String()
}

// Inbound is the fan-in of every registered slave's traffic.
func (h *Hub) Inbound() <-chan Envelope {
	return h.inbound
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()
	for {
		nc, err := h.ln.Accept()
		if err != nil {
			h.mu.RLock()
			closed := h.closed
			h.mu.RUnlock()
			if !closed {
				h.log.Error("bus accept failed", slog.String("error", err.Error()))
			}
			return
		}
		h.wg.Add(1)
		go h.handshake(nc)
	}
}

// handshake waits for the SLAVE_UP frame, registers the link and answers
// with MASTER_UP. Anything else on a fresh connection is a protocol
// violation and drops it.
func (h *Hub) handshake(nc net.Conn) {
	defer h.wg.Done()

	conn := NewConn(nc)
	if err := conn.SetReadDeadline(time.Now().Add(h.cfg.DialTimeout)); err != nil {
		conn.Close()
		return
	}
	m, err := conn.Receive()
	if err != nil || m.Kind != KindSlaveUp {
		h.log.Error("bus handshake failed",
			slog.String("remote", conn.RemoteAddr()),
			slog.Any("error", err))
		conn.Close()
		return
	}
	hostname, ok := m.Header.Get(HeaderHostname)
	if !ok || hostname == "" {
		h.log.Error("bus handshake missing hostname", slog.String("remote", conn.RemoteAddr()))
		conn.Close()
		return
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return
	}

	if err := h.register(hostname, conn); err != nil {
		h.log.Error("bus register failed",
			slog.String("slave", hostname),
			slog.String("error", err.Error()))
		conn.Close()
		return
	}
	h.log.Info("slave connected",
		slog.String("slave", hostname),
		slog.String("remote", conn.RemoteAddr()))

	if err := conn.Send(NewMasterUp()); err != nil {
		h.log.Warn("master up send failed", slog.String("slave", hostname))
	}

	h.readLoop(hostname, conn)
}

// AttachLocal registers an in-process slave and returns its endpoint. The
// framing codec is bypassed entirely; the caller uses the returned endpoint
// exactly like a dialed client connection.
func (h *Hub) AttachLocal(hostname string) (*LocalEndpoint, error) {
	remote, local := NewLocalPair()
	if err := h.register(hostname, local); err != nil {
		return nil, err
	}
	h.log.Info("slave attached locally", slog.String("slave", hostname))
	if err := local.Send(NewMasterUp()); err != nil {
		return nil, err
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.readLoop(hostname, local)
	}()
	return remote, nil
}

func (h *Hub) register(hostname string, ep Endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if old, ok := h.slaves[hostname]; ok {
		old.ep.Close()
	}
	h.slaves[hostname] = &session{name: hostname, ep: ep}
	return nil
}

func (h *Hub) unregister(hostname string, ep Endpoint) {
	h.mu.Lock()
	if s, ok := h.slaves[hostname]; ok && s.ep == ep {
		delete(h.slaves, hostname)
	}
	h.mu.Unlock()
	ep.Close()
}

// readLoop pumps one slave's traffic into the inbound channel. Unknown
// kinds are logged and dropped; transport errors end the session and the
// offline deadline takes care of the cameras.
func (h *Hub) readLoop(hostname string, ep Endpoint) {
	defer h.unregister(hostname, ep)
	for {
		m, err := ep.Receive()
		if err != nil {
			if errors.Is(err, ErrUnknownKind) {
				h.log.Error("dropping unknown message kind",
					slog.String("slave", hostname),
					slog.String("error", err.Error()))
				continue
			}
			if !errors.Is(err, ErrClosed) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.log.Warn("slave link lost",
					slog.String("slave", hostname),
					slog.String("error", err.Error()))
			} else {
				h.log.Info("slave disconnected", slog.String("slave", hostname))
			}
			return
		}
		select {
		case h.inbound <- Envelope{From: hostname, Message: m}:
		case <-h.done:
			return
		}
	}
}

// Broadcast sends m to every registered slave. Links that fail are dropped;
// their cameras will pass the offline deadline on their own.
func (h *Hub) Broadcast(m Message) {
	h.mu.RLock()
	targets := make([]*session, 0, len(h.slaves))
	for _, s := range h.slaves {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.ep.Send(m); err != nil {
			h.log.Warn("broadcast send failed",
				slog.String("slave", s.name),
				slog.String("kind", m.Kind.String()),
				slog.String("error", err.Error()))
			h.unregister(s.name, s.ep)
		}
	}
}

// SendTo delivers m to one named slave.
func (h *Hub) SendTo(hostname string, m Message) error {
	h.mu.RLock()
	s, ok := h.slaves[hostname]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlaveUnknown, hostname)
	}
	if err := s.ep.Send(m); err != nil {
		h.unregister(hostname, s.ep)
		return fmt.Errorf("send %s to %s: %w", m.Kind, hostname, err)
	}
	return nil
}

// Slaves lists the currently registered slave hostnames.
func (h *Hub) Slaves() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.slaves))
	for name := range h.slaves {
		names = append(names, name)
	}
	return names
}

// Close broadcasts MASTER_DOWN, stops accepting and tears every session
// down. It waits for the per-session loops to drain.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		h.Broadcast(NewMasterDown())

		h.mu.Lock()
		h.closed = true
		ln := h.ln
		sessions := make([]*session, 0, len(h.slaves))
		for _, s := range h.slaves {
			sessions = append(sessions, s)
		}
		h.slaves = make(map[string]*session)
		h.mu.Unlock()

		close(h.done)

		if ln != nil {
			ln.Close()
		}
		for _, s := range sessions {
			s.ep.Close()
		}
		h.wg.Wait()
		close(h.inbound)
	})
	return nil
}
