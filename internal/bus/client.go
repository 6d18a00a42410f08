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
)

// redialDelay is the pause between reconnect attempts after the master link
// drops. The slave keeps capturing while disconnected.
const redialDelay = 2 * time.Second

// Client is the slave side of the bus. It dials the master, performs the
// SLAVE_UP handshake and keeps the link alive across master restarts.
type Client struct {
	addr        string
	hostname    string
	dialTimeout time.Duration
	log         *slog.Logger

	mu   sync.Mutex
	conn *Conn
	ep   Endpoint
}

// NewClient builds a client for the master at addr, identifying as
// hostname.
func NewClient(addr, hostname string, dialTimeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		addr:        addr,
		hostname:    hostname,
		dialTimeout: dialTimeout,
		log:         log.With(slog.String("component", "bus-client")),
	}
}

// NewLocalClient wraps an endpoint obtained from Hub.AttachLocal, so an
// in-process slave drives the exact same code paths as a dialed one. The
// handshake already happened inside AttachLocal.
func NewLocalClient(ep Endpoint, hostname string, log *slog.Logger) *Client {
	return &Client{
		hostname: hostname,
		log:      log.With(slog.String("component", "bus-client")),
		ep:       ep,
	}
}

// Connect dials the master and sends the handshake. Local clients return
// immediately.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ep != nil {
		return nil
	}
	return c.dialLocked(ctx)
}

func (c *Client) dialLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: c.dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial master %s: %w", c.addr, err)
	}
	conn := NewConn(nc)
	if err := conn.Send(NewSlaveUp(c.hostname)); err != nil {
		conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	c.conn = conn
	c.log.Info("connected to master", slog.String("addr", c.addr))
	return nil
}

func (c *Client) endpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ep != nil {
		return c.ep
	}
	if c.conn != nil {
		return c.conn
	}
	return nil
}

// Send delivers one message to the master.
func (c *Client) Send(m Message) error {
	ep := c.endpoint()
	if ep == nil {
		return ErrClosed
	}
	return ep.Send(m)
}

// Run receives messages and hands them to handle until ctx is canceled.
// Unknown kinds are logged and dropped. A broken link is redialed every
// redialDelay; the cameras keep running in the meantime.
func (c *Client) Run(ctx context.Context, handle func(Message)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ep := c.endpoint()
		if ep == nil {
			c.mu.Lock()
			err := c.dialLocked(ctx)
			c.mu.Unlock()
			if err != nil {
				c.log.Warn("master dial failed, retrying",
					slog.String("error", err.Error()))
				select {
				case <-time.After(redialDelay):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		m, err := ep.Receive()
		if err != nil {
			if errors.Is(err, ErrUnknownKind) {
				c.log.Error("dropping unknown message kind",
					slog.String("error", err.Error()))
				continue
			}
			if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.log.Info("master link closed")
			} else {
				c.log.Warn("master link lost", slog.String("error", err.Error()))
			}
			c.dropEndpoint(ep)
			if c.isLocal() {
				// A local pair cannot be redialed.
				return ErrClosed
			}
			continue
		}
		handle(m)
	}
}

func (c *Client) isLocal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ep != nil
}

func (c *Client) dropEndpoint(ep Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep.Close()
	if c.conn == ep {
		c.conn = nil
	}
}

// Close announces SLAVE_DOWN best effort and closes the link.
func (c *Client) Close() error {
	ep := c.endpoint()
	if ep == nil {
		return nil
	}
	if err := ep.Send(NewSlaveDown(c.hostname)); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Debug("slave down send failed", slog.String("error", err.Error()))
	}
	return ep.Close()
}
