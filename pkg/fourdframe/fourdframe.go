// Package fourdframe reads and writes the per-frame container produced by
// the resolve pipeline: a point count, zlib-compressed float32 position and
// UV buffers, and a trailing JPEG texture.
//
// Layout, all integers little-endian:
//
//	offset      size      field
//	  0           4       point_count (uint32)
//	  4           4       pos_size    (uint32, compressed byte length)
//	  8           4       uv_size     (uint32, compressed byte length)
//	 12           pos_size  positions (zlib of point_count x 3 float32)
//	 12+pos_size  uv_size   uvs       (zlib of point_count x 2 float32)
//	 ...          rest      texture   (JPEG, remainder of the file)
package fourdframe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zlib"
)

// Suffix is the conventional file suffix for frame records.
const Suffix = ".frame-record"

// headerSize covers point_count, pos_size and uv_size.
const headerSize = 12

// ErrCorrupt marks a record whose buffers do not match its header.
var ErrCorrupt = errors.New("fourdframe: corrupt record")

// Record is one decoded frame: positions are x,y,z triplets, UVs are u,v
// pairs, texture is the raw JPEG.
type Record struct {
	Positions []float32
	UVs       []float32
	Texture   []byte
}

// PointCount returns the number of vertices.
func (r *Record) PointCount() int {
	return len(r.Positions) / 3
}

// Validate checks the internal consistency of the buffers.
func (r *Record) Validate() error {
	if len(r.Positions)%3 != 0 {
		return fmt.Errorf("%w: positions length %d not a multiple of 3", ErrCorrupt, len(r.Positions))
	}
	if len(r.UVs)%2 != 0 {
		return fmt.Errorf("%w: uvs length %d not a multiple of 2", ErrCorrupt, len(r.UVs))
	}
	if len(r.Positions)/3 != len(r.UVs)/2 {
		return fmt.Errorf("%w: %d points but %d uv pairs",
			ErrCorrupt, len(r.Positions)/3, len(r.UVs)/2)
	}
	return nil
}

// Encode writes the record to w.
func Encode(w io.Writer, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	pos, err := compressFloats(r.Positions)
	if err != nil {
		return fmt.Errorf("compress positions: %w", err)
	}
	uv, err := compressFloats(r.UVs)
	if err != nil {
		return fmt.Errorf("compress uvs: %w", err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(r.PointCount()))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(pos)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(uv)))

	for _, chunk := range [][]byte{header[:], pos, uv, r.Texture} {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}

// Decode reads one record from r until EOF. The remainder after the two
// compressed buffers is the texture.
func Decode(r io.Reader) (*Record, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read record header: %w", err)
	}
	pointCount := binary.LittleEndian.Uint32(header[0:4])
	posSize := binary.LittleEndian.Uint32(header[4:8])
	uvSize := binary.LittleEndian.Uint32(header[8:12])

	pos := make([]byte, posSize)
	if _, err := io.ReadFull(r, pos); err != nil {
		return nil, fmt.Errorf("%w: positions truncated: %v", ErrCorrupt, err)
	}
	uv := make([]byte, uvSize)
	if _, err := io.ReadFull(r, uv); err != nil {
		return nil, fmt.Errorf("%w: uvs truncated: %v", ErrCorrupt, err)
	}
	texture, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read texture: %w", err)
	}

	rec := &Record{Texture: texture}
	if rec.Positions, err = decompressFloats(pos, int(pointCount)*3); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if rec.UVs, err = decompressFloats(uv, int(pointCount)*2); err != nil {
		return nil, fmt.Errorf("uvs: %w", err)
	}
	return rec, nil
}

// Load reads the record at path.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rec, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// Save writes the record to path atomically, so a farm task killed mid
// write never leaves a half record for the playback cache to trip on.
func Save(path string, r *Record) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending record: %w", err)
	}
	defer pending.Cleanup()

	if err := Encode(pending, r); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}

func compressFloats(values []float32) ([]byte, error) {
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressFloats(compressed []byte, count int) ([]float32, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) != 4*count {
		return nil, fmt.Errorf("%w: expected %d float32 values, got %d bytes",
			ErrCorrupt, count, len(raw))
	}
	values := make([]float32, count)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return values, nil
}
