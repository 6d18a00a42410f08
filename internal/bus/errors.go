package bus

import "errors"

var (
	// ErrBadMagic means the stream is not speaking the bus protocol. The
	// connection cannot be resynchronized and must be dropped.
	ErrBadMagic = errors.New("bus: bad frame magic")
	// ErrFrameTooLarge guards against runaway length prefixes.
	ErrFrameTooLarge = errors.New("bus: frame exceeds size limit")
	// ErrUnknownKind marks a well-framed message of a kind this build does
	// not know. The frame was fully consumed; the reader may continue.
	ErrUnknownKind = errors.New("bus: unknown message kind")
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("bus: endpoint closed")
	// ErrSlaveUnknown is returned when a directed send names a slave that
	// never registered or already disconnected.
	ErrSlaveUnknown = errors.New("bus: slave not registered")
)
