package slave

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// Shot files are the opaque per-camera capture containers: one file per
// (shot, camera), append-only while recording, indexed by frame number.
// Layout is a 4-byte magic followed by records of
//
//	uint32 frame | uint32 width | uint32 height | uint32 comp_size | zlib(RGBA)
//
// all little-endian. The index is rebuilt by scanning on open, so a crash
// mid-record costs at most the partial tail.
const (
	shotFileMagic  = "4DS1"
	shotFileSuffix = ".rec"

	recordHeaderSize = 16

	// maxRecordSize guards the scanner against a corrupt length field.
	maxRecordSize = 512 << 20
)

// ErrFrameMissing is returned when a requested frame is not in the file.
var ErrFrameMissing = errors.New("frame not in shot file")

// ShotFilePath returns the container path for (shot, camera) on a drive.
func ShotFilePath(drive, shotID, serial string) string {
	return filepath.Join(drive, shotID, serial+shotFileSuffix)
}

// FindShotFile locates an existing container across the record drives.
func FindShotFile(drives []string, shotID, serial string) (string, bool) {
	for _, drive := range drives {
		path := ShotFilePath(drive, shotID, serial)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// RemoveShotFiles deletes a shot's capture directories from every drive.
func RemoveShotFiles(drives []string, shotID string) error {
	var firstErr error
	for _, drive := range drives {
		dir := filepath.Join(drive, shotID)
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return firstErr
}

// ShotWriter appends frames to one container. It is owned by a single
// recorder goroutine; the camera that records a shot is its only writer.
type ShotWriter struct {
	path   string
	f      *os.File
	w      *bufio.Writer
	zbuf   bytes.Buffer
	frames map[int]struct{}
	size   int64
}

// CreateShotFile creates the container and writes the magic.
func CreateShotFile(path string) (*ShotWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating shot dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating shot file: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.WriteString(shotFileMagic); err != nil {
		f.Close()
		return nil, err
	}
	return &ShotWriter{
		path:   path,
		f:      f,
		w:      w,
		frames: make(map[int]struct{}),
		size:   int64(len(shotFileMagic)),
	}, nil
}

// Path returns the container location.
func (w *ShotWriter) Path() string { return w.path }

// Append writes one frame. Frames arrive in trigger order; duplicates
// overwrite nothing and are skipped.
func (w *ShotWriter) Append(frame int, img *image.RGBA) error {
	if _, dup := w.frames[frame]; dup {
		return nil
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	w.zbuf.Reset()
	zw, err := zlib.NewWriterLevel(&w.zbuf, zlib.BestSpeed)
	if err != nil {
		return err
	}
	rowLen := 4 * width
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+rowLen]
		if _, err := zw.Write(row); err != nil {
			return fmt.Errorf("compressing frame %d: %w", frame, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing frame %d: %w", frame, err)
	}

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(frame))
	binary.LittleEndian.PutUint32(header[4:8], uint32(width))
	binary.LittleEndian.PutUint32(header[8:12], uint32(height))
	binary.LittleEndian.PutUint32(header[12:16], uint32(w.zbuf.Len()))
	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame %d: %w", frame, err)
	}
	if _, err := w.w.Write(w.zbuf.Bytes()); err != nil {
		return fmt.Errorf("writing frame %d: %w", frame, err)
	}

	w.frames[frame] = struct{}{}
	w.size += int64(recordHeaderSize + w.zbuf.Len())
	return nil
}

// FrameCount returns the number of frames written so far.
func (w *ShotWriter) FrameCount() int { return len(w.frames) }

// Size returns the bytes written so far.
func (w *ShotWriter) Size() int64 { return w.size }

// Summary reports the written range and the gaps inside it. ok is false
// when nothing was written.
func (w *ShotWriter) Summary() (rng [2]int, missing []int, ok bool) {
	return summarize(w.frames)
}

// Close flushes and syncs the container.
func (w *ShotWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

func summarize(frames map[int]struct{}) (rng [2]int, missing []int, ok bool) {
	if len(frames) == 0 {
		return rng, nil, false
	}
	first := true
	for f := range frames {
		if first {
			rng[0], rng[1] = f, f
			first = false
			continue
		}
		if f < rng[0] {
			rng[0] = f
		}
		if f > rng[1] {
			rng[1] = f
		}
	}
	for f := rng[0]; f <= rng[1]; f++ {
		if _, present := frames[f]; !present {
			missing = append(missing, f)
		}
	}
	return rng, missing, true
}

type recordSpan struct {
	offset        int64
	compSize      uint32
	width, height int
}

// ShotReader serves random-access frame reads from a container. One reader
// may be shared: the handle is guarded by a mutex per the cached-handle
// policy of the shot loader.
type ShotReader struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	index map[int]recordSpan
}

// OpenShotFile opens a container and rebuilds the frame index by scanning.
// A truncated final record, left by a crash mid-append, is ignored.
func OpenShotFile(path string) (*ShotReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	index, err := scanShotFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("indexing %s: %w", path, err)
	}
	return &ShotReader{path: path, f: f, index: index}, nil
}

func scanShotFile(f *os.File) (map[int]recordSpan, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic[:]) != shotFileMagic {
		return nil, fmt.Errorf("bad shot file magic %q", magic)
	}

	index := make(map[int]recordSpan)
	offset := int64(len(shotFileMagic))
	var header [recordHeaderSize]byte
	for offset+recordHeaderSize <= size {
		if _, err := f.ReadAt(header[:], offset); err != nil {
			return nil, err
		}
		frame := int(binary.LittleEndian.Uint32(header[0:4]))
		width := int(binary.LittleEndian.Uint32(header[4:8]))
		height := int(binary.LittleEndian.Uint32(header[8:12]))
		compSize := binary.LittleEndian.Uint32(header[12:16])
		if compSize > maxRecordSize {
			return nil, fmt.Errorf("frame %d: implausible record size %d", frame, compSize)
		}
		next := offset + recordHeaderSize + int64(compSize)
		if next > size {
			// Partial tail from an interrupted append.
			break
		}
		index[frame] = recordSpan{
			offset:   offset + recordHeaderSize,
			compSize: compSize,
			width:    width,
			height:   height,
		}
		offset = next
	}
	return index, nil
}

// Path returns the container location backing this reader.
func (r *ShotReader) Path() string { return r.path }

// Frames lists the indexed frame numbers in ascending order.
func (r *ShotReader) Frames() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := make([]int, 0, len(r.index))
	for f := range r.index {
		frames = append(frames, f)
	}
	sort.Ints(frames)
	return frames
}

// HasFrame reports whether the container holds the given frame.
func (r *ShotReader) HasFrame(frame int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[frame]
	return ok
}

// Frame decodes one frame back into an RGBA image.
func (r *ShotReader) Frame(frame int) (*image.RGBA, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	span, ok := r.index[frame]
	if !ok {
		return nil, fmt.Errorf("frame %d: %w", frame, ErrFrameMissing)
	}
	comp := make([]byte, span.compSize)
	if _, err := r.f.ReadAt(comp, span.offset); err != nil {
		return nil, fmt.Errorf("reading frame %d: %w", frame, err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(comp))
	if err != nil {
		return nil, fmt.Errorf("decoding frame %d: %w", frame, err)
	}
	defer zr.Close()

	img := image.NewRGBA(image.Rect(0, 0, span.width, span.height))
	if _, err := io.ReadFull(zr, img.Pix); err != nil {
		return nil, fmt.Errorf("decoding frame %d: %w", frame, err)
	}
	return img, nil
}

// Close releases the handle.
func (r *ShotReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
