package bus

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// Endpoint is one side of a bus link. Both the TCP connection and the
// in-process pair satisfy it, so the hub and the handlers never care which
// transport a slave arrived on.
type Endpoint interface {
	Send(m Message) error
	Receive() (Message, error)
	Close() error
}

// Conn frames messages over one TCP connection. Sends are serialized by a
// mutex, which is what provides the per-(sender, kind) ordering guarantee.
type Conn struct {
	nc net.Conn
	br *bufio.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established network connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, br: bufio.NewReaderSize(nc, 64<<10)}
}

// Send frames m onto the connection. Safe for concurrent use.
func (c *Conn) Send(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.nc, m)
}

// Receive blocks until one frame arrives. Not safe for concurrent use;
// every connection has exactly one read loop.
func (c *Conn) Receive() (Message, error) {
	return ReadMessage(c.br)
}

// SetReadDeadline bounds the next Receive.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

// Close shuts the connection down. It unblocks a pending Receive.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

// RemoteAddr reports the peer address for logs.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}
