package fourdroll

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Meta carries the caller-owned header fields of a new roll.
type Meta struct {
	Name               string
	ID                 string
	FPS                float64
	GeoFormat          string
	TextureFormat      string
	TextureResolutions []int
}

// Writer streams a roll to disk. The header size depends on offsets known
// only at the end, so the payload is staged in a sibling temp file and
// stitched behind the final header on Close. Abandoning the writer (error
// or Abort) leaves nothing behind at the destination.
//
// Append order is fixed: frames, then hd frames, then audio.
type Writer struct {
	path string
	meta Meta

	payload   *os.File
	offset    int64
	positions Positions
	stage     int // 0 frames, 1 hd frames, 2 audio, 3 done
	hdCount   int
}

// NewWriter starts a roll at path.
func NewWriter(path string, meta Meta) (*Writer, error) {
	payload, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".payload-*")
	if err != nil {
		return nil, fmt.Errorf("stage roll payload: %w", err)
	}
	return &Writer{
		path:      path,
		meta:      meta,
		payload:   payload,
		positions: Positions{Frame: []int64{0}},
	}, nil
}

func (w *Writer) writeBlob(geo, jpeg []byte) error {
	var geoSize [4]byte
	binary.LittleEndian.PutUint32(geoSize[:], uint32(len(geo)))
	for _, chunk := range [][]byte{geoSize[:], geo, jpeg} {
		n, err := w.payload.Write(chunk)
		w.offset += int64(n)
		if err != nil {
			return fmt.Errorf("stage frame blob: %w", err)
		}
	}
	return nil
}

// AppendFrame appends one frame blob to the primary tier.
func (w *Writer) AppendFrame(geo, jpeg []byte) error {
	if w.stage != 0 {
		return fmt.Errorf("fourdroll: frames must precede hd frames and audio")
	}
	if err := w.writeBlob(geo, jpeg); err != nil {
		return err
	}
	w.positions.Frame = append(w.positions.Frame, w.offset)
	return nil
}

// AppendHDFrame appends one frame blob to the hd tier. The tier must end up
// with exactly as many frames as the primary tier.
func (w *Writer) AppendHDFrame(geo, jpeg []byte) error {
	if w.stage > 1 {
		return fmt.Errorf("fourdroll: hd frames must precede audio")
	}
	if w.stage == 0 {
		w.stage = 1
		w.positions.HDFrame = []int64{w.offset}
	}
	if err := w.writeBlob(geo, jpeg); err != nil {
		return err
	}
	w.positions.HDFrame = append(w.positions.HDFrame, w.offset)
	w.hdCount++
	return nil
}

// SetAudio appends the audio blob. At most one per roll.
func (w *Writer) SetAudio(r io.Reader) error {
	if w.stage > 2 {
		return fmt.Errorf("fourdroll: writer already closed")
	}
	if len(w.positions.Audio) != 0 {
		return fmt.Errorf("fourdroll: audio already set")
	}
	w.stage = 2
	start := w.offset
	n, err := io.Copy(w.payload, r)
	w.offset += n
	if err != nil {
		return fmt.Errorf("stage audio: %w", err)
	}
	w.positions.Audio = []int64{start, w.offset}
	return nil
}

// Abort discards everything staged so far.
func (w *Writer) Abort() {
	if w.payload == nil {
		return
	}
	name := w.payload.Name()
	w.payload.Close()
	os.Remove(name)
	w.payload = nil
	w.stage = 3
}

// Close finalizes the roll: header first, then the staged payload, renamed
// into place atomically. On any error the destination stays untouched.
func (w *Writer) Close() error {
	if w.payload == nil {
		return fmt.Errorf("fourdroll: writer already closed")
	}
	defer w.Abort()

	frameCount := len(w.positions.Frame) - 1
	if w.hdCount != 0 && w.hdCount != frameCount {
		return fmt.Errorf("%w: %d hd frames for %d frames", ErrCorrupt, w.hdCount, frameCount)
	}

	header := Header{
		Version:            Version,
		Name:               w.meta.Name,
		ID:                 w.meta.ID,
		FrameCount:         frameCount,
		FPS:                w.meta.FPS,
		GeoFormat:          w.meta.GeoFormat,
		TextureFormat:      w.meta.TextureFormat,
		TextureResolutions: w.meta.TextureResolutions,
		Positions:          w.positions,
	}
	if err := header.Validate(w.offset); err != nil {
		return err
	}
	head, err := encodeHead(&header)
	if err != nil {
		return err
	}

	if _, err := w.payload.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind staged payload: %w", err)
	}

	pending, err := renameio.NewPendingFile(w.path)
	if err != nil {
		return fmt.Errorf("create pending roll: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(head); err != nil {
		return fmt.Errorf("write roll header: %w", err)
	}
	if _, err := io.Copy(pending, w.payload); err != nil {
		return fmt.Errorf("write roll payload: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace roll: %w", err)
	}
	return nil
}

// FrameBlob is one in-memory frame for Pack.
type FrameBlob struct {
	Geo  []byte
	JPEG []byte
}

// Pack writes a whole roll in one call. Audio may be nil.
func Pack(path string, meta Meta, frames []FrameBlob, audio []byte) error {
	w, err := NewWriter(path, meta)
	if err != nil {
		return err
	}
	defer w.Abort()

	for _, f := range frames {
		if err := w.AppendFrame(f.Geo, f.JPEG); err != nil {
			return err
		}
	}
	if len(audio) > 0 {
		if err := w.SetAudio(bytes.NewReader(audio)); err != nil {
			return err
		}
	}
	return w.Close()
}
