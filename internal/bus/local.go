package bus

import "sync"

// localBufferDepth bounds each direction of an in-process link. Deep enough
// that a burst of status reports never blocks a runtime thread.
const localBufferDepth = 64

// LocalEndpoint is one side of an in-process bus link. Messages pass by
// value without framing, which keeps a master-embedded slave (the single
// host dev topology, and most tests) off the network entirely.
type LocalEndpoint struct {
	in  chan Message
	out chan Message

	done      chan struct{}
	peerDone  chan struct{}
	closeOnce sync.Once
}

// NewLocalPair returns two connected endpoints. Whatever one sends, the
// other receives in order.
func NewLocalPair() (*LocalEndpoint, *LocalEndpoint) {
	ab := make(chan Message, localBufferDepth)
	ba := make(chan Message, localBufferDepth)
	aDone := make(chan struct{})
	bDone := make(chan struct{})
	a := &LocalEndpoint{in: ba, out: ab, done: aDone, peerDone: bDone}
	b := &LocalEndpoint{in: ab, out: ba, done: bDone, peerDone: aDone}
	return a, b
}

// Send delivers m to the peer. It blocks when the peer is slower than the
// buffer, mirroring TCP backpressure.
func (e *LocalEndpoint) Send(m Message) error {
	select {
	case <-e.done:
		return ErrClosed
	case <-e.peerDone:
		return ErrClosed
	default:
	}
	select {
	case e.out <- m:
		return nil
	case <-e.done:
		return ErrClosed
	case <-e.peerDone:
		return ErrClosed
	}
}

// Receive blocks until a message arrives. Messages buffered before the peer
// closed are still drained in order.
func (e *LocalEndpoint) Receive() (Message, error) {
	select {
	case m := <-e.in:
		return m, nil
	default:
	}
	select {
	case m := <-e.in:
		return m, nil
	case <-e.done:
		return Message{}, ErrClosed
	case <-e.peerDone:
		select {
		case m := <-e.in:
			return m, nil
		default:
			return Message{}, ErrClosed
		}
	}
}

// Close releases both directions. The peer's next Receive drains remaining
// messages, then reports ErrClosed.
func (e *LocalEndpoint) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}
