// Package fourdroll reads and writes 4DR1 roll files: a JSON header at the
// head followed by concatenated frame blobs and an optional audio blob.
//
// Layout, all integers little-endian:
//
//	offset  size  field
//	  0      4    magic "4DR1"
//	  4      4    header_size (uint32)
//	  8      N    header JSON (exactly header_size bytes)
//	  ...         payload: frame blobs, optional hd frame blobs, optional audio
//
// Every frame blob is `uint32 geo_size || geometry || JPEG`. The positional
// index arrays in the header are byte offsets into the payload region, each
// strictly increasing, each region starting where the previous ended, the
// final offset equal to the payload size.
//
// Older rolls carried the header as a trailer with a back pointer at the
// tail. Those are rejected with ErrLegacyLayout.
package fourdroll

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the roll format revision written into headers.
const Version = "1"

// Suffix is the conventional file suffix for rolls.
const Suffix = ".4dr"

var magic = [4]byte{'4', 'D', 'R', '1'}

var (
	// ErrLegacyLayout marks a file that does not open with the 4DR1 magic.
	// Rolls written by older packers kept the header at the tail; they are
	// not readable by this package.
	ErrLegacyLayout = errors.New("fourdroll: no 4DR1 magic at head (legacy tail-header rolls are unsupported)")
	// ErrCorrupt marks a roll whose header and payload disagree.
	ErrCorrupt = errors.New("fourdroll: corrupt roll")
	// ErrNoAudio is returned when reading audio from a roll without any.
	ErrNoAudio = errors.New("fourdroll: roll has no audio")
	// ErrNoHD is returned when reading an hd frame from a roll without an
	// hd tier.
	ErrNoHD = errors.New("fourdroll: roll has no hd frames")
)

// Positions are the payload-relative byte offsets of each region. Frame has
// frame_count+1 entries; HDFrame is empty or frame_count+1; Audio is empty
// or exactly [start, end].
type Positions struct {
	Frame   []int64 `json:"frame_buffer_positions"`
	HDFrame []int64 `json:"hd_frame_buffer_positions"`
	Audio   []int64 `json:"audio_buffer_positions"`
}

// Header is the JSON document at the head of every roll.
type Header struct {
	Version            string    `json:"version"`
	Name               string    `json:"name"`
	ID                 string    `json:"id"`
	FrameCount         int       `json:"frame_count"`
	FPS                float64   `json:"fps"`
	GeoFormat          string    `json:"geo_format"`
	TextureFormat      string    `json:"texture_format"`
	TextureResolutions []int     `json:"texture_resolutions"`
	Positions          Positions `json:"positions"`
}

// Validate checks the header invariants against the payload size.
func (h *Header) Validate(payloadSize int64) error {
	if h.Version != Version {
		return fmt.Errorf("%w: unsupported version %q", ErrCorrupt, h.Version)
	}
	if len(h.Positions.Frame) != h.FrameCount+1 {
		return fmt.Errorf("%w: frame_count %d but %d frame positions",
			ErrCorrupt, h.FrameCount, len(h.Positions.Frame))
	}
	if n := len(h.Positions.HDFrame); n != 0 && n != h.FrameCount+1 {
		return fmt.Errorf("%w: hd tier has %d positions, want 0 or %d",
			ErrCorrupt, n, h.FrameCount+1)
	}
	if n := len(h.Positions.Audio); n != 0 && n != 2 {
		return fmt.Errorf("%w: audio has %d positions, want 0 or 2", ErrCorrupt, n)
	}

	regions := [][]int64{h.Positions.Frame, h.Positions.HDFrame, h.Positions.Audio}
	cursor := int64(0)
	for _, region := range regions {
		if len(region) == 0 {
			continue
		}
		if region[0] != cursor {
			return fmt.Errorf("%w: region starts at %d, previous ended at %d",
				ErrCorrupt, region[0], cursor)
		}
		for i := 1; i < len(region); i++ {
			if region[i] <= region[i-1] {
				return fmt.Errorf("%w: positions not strictly increasing at index %d", ErrCorrupt, i)
			}
		}
		cursor = region[len(region)-1]
	}
	if cursor != payloadSize {
		return fmt.Errorf("%w: last position %d but payload is %d bytes",
			ErrCorrupt, cursor, payloadSize)
	}
	return nil
}

// HasHD reports whether the roll carries a second texture tier.
func (h *Header) HasHD() bool { return len(h.Positions.HDFrame) > 0 }

// HasAudio reports whether the roll carries an audio blob.
func (h *Header) HasAudio() bool { return len(h.Positions.Audio) == 2 }

// encodeHead renders magic + header_size + header JSON.
func encodeHead(h *Header) ([]byte, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal roll header: %w", err)
	}
	head := make([]byte, 8+len(raw))
	copy(head[0:4], magic[:])
	binary.LittleEndian.PutUint32(head[4:8], uint32(len(raw)))
	copy(head[8:], raw)
	return head, nil
}

// splitFrameBlob takes one `uint32 geo_size || geometry || JPEG` blob apart.
func splitFrameBlob(blob []byte) (geo, jpeg []byte, err error) {
	if len(blob) < 4 {
		return nil, nil, fmt.Errorf("%w: frame blob of %d bytes", ErrCorrupt, len(blob))
	}
	geoSize := binary.LittleEndian.Uint32(blob[:4])
	if int(geoSize) > len(blob)-4 {
		return nil, nil, fmt.Errorf("%w: geo_size %d exceeds blob of %d bytes",
			ErrCorrupt, geoSize, len(blob))
	}
	return blob[4 : 4+geoSize], blob[4+geoSize:], nil
}
