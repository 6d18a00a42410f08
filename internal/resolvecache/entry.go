package resolvecache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pierrec/lz4/v4"
)

// Artifact is one decoded playback frame. Buffers are never shared: every
// cache read decompresses fresh copies, so the GUI can hand them to the
// renderer without copy-on-write games.
type Artifact struct {
	Positions []float32
	UVs       []float32

	// Texture is the decoded RGBA pixel buffer, Width*Height*4 bytes.
	Texture []byte
	Width   int
	Height  int

	// Resolution is the stored texture width. It tracks the preferred
	// display resolution but downgrades to the source width when the
	// record's texture is smaller.
	Resolution int
}

// buffer is one LZ4-frame compressed array plus enough shape to rebuild it.
type buffer struct {
	data   []byte
	rawLen int
}

func (b buffer) size() int64 { return int64(len(b.data)) }

// entry is a cached frame: three compressed buffers and the texture shape.
type entry struct {
	positions buffer
	uvs       buffer
	texture   buffer

	width      int
	height     int
	resolution int
}

// size is the sum of compressed sizes; the cache's accounting unit.
func (e *entry) size() int64 {
	return e.positions.size() + e.uvs.size() + e.texture.size()
}

// newEntry compresses an artifact into its cached form.
func newEntry(art *Artifact) (*entry, error) {
	pos, err := compress(floatBytes(art.Positions))
	if err != nil {
		return nil, fmt.Errorf("compressing positions: %w", err)
	}
	uv, err := compress(floatBytes(art.UVs))
	if err != nil {
		return nil, fmt.Errorf("compressing uvs: %w", err)
	}
	tex, err := compress(art.Texture)
	if err != nil {
		return nil, fmt.Errorf("compressing texture: %w", err)
	}
	return &entry{
		positions:  pos,
		uvs:        uv,
		texture:    tex,
		width:      art.Width,
		height:     art.Height,
		resolution: art.Resolution,
	}, nil
}

// decode rebuilds the artifact from the compressed buffers.
func (e *entry) decode() (*Artifact, error) {
	pos, err := decompress(e.positions)
	if err != nil {
		return nil, fmt.Errorf("decompressing positions: %w", err)
	}
	uv, err := decompress(e.uvs)
	if err != nil {
		return nil, fmt.Errorf("decompressing uvs: %w", err)
	}
	tex, err := decompress(e.texture)
	if err != nil {
		return nil, fmt.Errorf("decompressing texture: %w", err)
	}
	return &Artifact{
		Positions:  bytesFloats(pos),
		UVs:        bytesFloats(uv),
		Texture:    tex,
		Width:      e.width,
		Height:     e.height,
		Resolution: e.resolution,
	}, nil
}

func compress(raw []byte) (buffer, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return buffer{}, err
	}
	if err := zw.Close(); err != nil {
		return buffer{}, err
	}
	return buffer{data: buf.Bytes(), rawLen: len(raw)}, nil
}

func decompress(b buffer) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(b.data))
	out := make([]byte, b.rawLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, err
	}
	return out, nil
}

func floatBytes(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesFloats(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
