package bus

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Wire layout, all integers little-endian:
//
//	offset  size  field
//	  0      4    magic "4DM1"
//	  4      4    frame length (bytes after this field)
//	  8      2    kind
//	 10     16    message id
//	 26      4    header length
//	 30      H    header JSON
//	 30+H    P    payload
var frameMagic = [4]byte{'4', 'D', 'M', '1'}

const (
	// frameFixedSize is kind + id + header length.
	frameFixedSize = 2 + 16 + 4
	// maxHeaderSize bounds the JSON header.
	maxHeaderSize = 1 << 20
	// maxFrameSize bounds a whole frame. Shot images at full sensor
	// resolution stay well under this.
	maxFrameSize = 256 << 20
)

// WriteMessage frames m onto w as a single Write call so concurrent senders
// holding the connection mutex never interleave partial frames.
func WriteMessage(w io.Writer, m Message) error {
	header := m.Header
	if header == nil {
		header = Header{}
	}
	rawHeader, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal %s header: %w", m.Kind, err)
	}
	if len(rawHeader) > maxHeaderSize {
		return fmt.Errorf("%w: header %d bytes", ErrFrameTooLarge, len(rawHeader))
	}

	frameLen := frameFixedSize + len(rawHeader) + len(m.Payload)
	if frameLen > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, frameLen)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 8+frameLen))
	buf.Write(frameMagic[:])

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(frameLen))
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint16(scratch[:2], uint16(m.Kind))
	buf.Write(scratch[:2])
	buf.Write(m.ID[:])
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(rawHeader)))
	buf.Write(scratch[:])
	buf.Write(rawHeader)
	buf.Write(m.Payload)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s frame: %w", m.Kind, err)
	}
	return nil
}

// ReadMessage consumes one frame from r. A nil error means a known, well
// formed message. ErrUnknownKind means the frame was consumed but the kind
// is not recognized; the stream remains usable. Any other error means the
// stream is broken.
func ReadMessage(r io.Reader) (Message, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, err
	}
	if !bytes.Equal(prefix[:4], frameMagic[:]) {
		return Message{}, ErrBadMagic
	}
	frameLen := binary.LittleEndian.Uint32(prefix[4:])
	if frameLen < frameFixedSize {
		return Message{}, fmt.Errorf("%w: frame length %d below fixed part", ErrBadMagic, frameLen)
	}
	if frameLen > maxFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, frameLen)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(r, frame); err != nil {
		return Message{}, fmt.Errorf("read frame body: %w", err)
	}

	m := Message{Kind: Kind(binary.LittleEndian.Uint16(frame[:2]))}
	copy(m.ID[:], frame[2:18])
	headerLen := binary.LittleEndian.Uint32(frame[18:22])
	if headerLen > maxHeaderSize || frameFixedSize+int(headerLen) > int(frameLen) {
		return Message{}, fmt.Errorf("%w: header length %d", ErrFrameTooLarge, headerLen)
	}

	rawHeader := frame[frameFixedSize : frameFixedSize+int(headerLen)]
	if err := json.Unmarshal(rawHeader, &m.Header); err != nil {
		return Message{}, fmt.Errorf("decode frame header: %w", err)
	}
	if payload := frame[frameFixedSize+int(headerLen):]; len(payload) > 0 {
		m.Payload = payload
	}

	if !m.Kind.IsValid() {
		return m, fmt.Errorf("%w: %d", ErrUnknownKind, uint16(m.Kind))
	}
	return m, nil
}
