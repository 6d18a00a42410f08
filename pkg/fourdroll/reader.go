package fourdroll

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// maxHeaderSize bounds the JSON document so a corrupt size prefix cannot
// trigger a giant allocation.
const maxHeaderSize = 16 << 20

// Roll is an open roll file. Frame reads are independent and safe for
// concurrent use; each read allocates its own buffer.
type Roll struct {
	Header Header

	src        io.ReaderAt
	closer     io.Closer
	payloadOff int64
}

// Open opens the roll at path and validates its header.
func Open(path string) (*Roll, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	roll, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	roll.closer = f
	return roll, nil
}

// NewReader opens a roll from any random-access source of the given total
// size.
func NewReader(src io.ReaderAt, size int64) (*Roll, error) {
	var head [8]byte
	if _, err := src.ReadAt(head[:], 0); err != nil {
		return nil, fmt.Errorf("read roll head: %w", err)
	}
	if !bytes.Equal(head[:4], magic[:]) {
		return nil, ErrLegacyLayout
	}
	headerSize := binary.LittleEndian.Uint32(head[4:8])
	if headerSize == 0 || headerSize > maxHeaderSize {
		return nil, fmt.Errorf("%w: header size %d", ErrCorrupt, headerSize)
	}

	rawHeader := make([]byte, headerSize)
	if _, err := src.ReadAt(rawHeader, 8); err != nil {
		return nil, fmt.Errorf("%w: header truncated: %v", ErrCorrupt, err)
	}

	roll := &Roll{src: src, payloadOff: 8 + int64(headerSize)}
	if err := json.Unmarshal(rawHeader, &roll.Header); err != nil {
		return nil, fmt.Errorf("%w: header json: %v", ErrCorrupt, err)
	}
	if err := roll.Header.Validate(size - roll.payloadOff); err != nil {
		return nil, err
	}
	return roll, nil
}

// Close releases the underlying file, if Open provided one.
func (r *Roll) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// FrameCount returns the number of frames in the roll.
func (r *Roll) FrameCount() int { return r.Header.FrameCount }

func (r *Roll) readRegion(start, end int64) ([]byte, error) {
	buf := make([]byte, end-start)
	if _, err := r.src.ReadAt(buf, r.payloadOff+start); err != nil {
		return nil, fmt.Errorf("%w: payload read [%d,%d): %v", ErrCorrupt, start, end, err)
	}
	return buf, nil
}

func (r *Roll) readFrameAt(positions []int64, i int) (geo, jpeg []byte, err error) {
	if i < 0 || i >= len(positions)-1 {
		return nil, nil, fmt.Errorf("fourdroll: frame %d out of range [0,%d)", i, len(positions)-1)
	}
	blob, err := r.readRegion(positions[i], positions[i+1])
	if err != nil {
		return nil, nil, err
	}
	return splitFrameBlob(blob)
}

// ReadFrame returns the geometry and JPEG bytes of frame i.
func (r *Roll) ReadFrame(i int) (geo, jpeg []byte, err error) {
	return r.readFrameAt(r.Header.Positions.Frame, i)
}

// ReadHDFrame returns frame i from the hd texture tier.
func (r *Roll) ReadHDFrame(i int) (geo, jpeg []byte, err error) {
	if !r.Header.HasHD() {
		return nil, nil, ErrNoHD
	}
	return r.readFrameAt(r.Header.Positions.HDFrame, i)
}

// ReadAudio returns the audio blob.
func (r *Roll) ReadAudio() ([]byte, error) {
	if !r.Header.HasAudio() {
		return nil, ErrNoAudio
	}
	return r.readRegion(r.Header.Positions.Audio[0], r.Header.Positions.Audio[1])
}
