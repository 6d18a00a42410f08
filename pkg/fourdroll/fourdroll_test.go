package fourdroll

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(size int, b byte) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func testMeta() Meta {
	return Meta{
		Name:               "sh010_take3",
		ID:                 "01JC4D8QZX6M9W1N2P3R4S5T6V",
		FPS:                30,
		GeoFormat:          "geo-zlib",
		TextureFormat:      "jpeg",
		TextureResolutions: []int{1024},
	}
}

func TestPackThreeFramesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export"+Suffix)

	frames := []FrameBlob{
		{Geo: fill(100, 0xA0), JPEG: fill(200, 0xB0)},
		{Geo: fill(120, 0xA1), JPEG: fill(180, 0xB1)},
		{Geo: fill(90, 0xA2), JPEG: fill(220, 0xB2)},
	}
	require.NoError(t, Pack(path, testMeta(), frames, nil))

	roll, err := Open(path)
	require.NoError(t, err)
	defer roll.Close()

	assert.Equal(t, 3, roll.Header.FrameCount)
	assert.Len(t, roll.Header.Positions.Frame, 4)
	assert.False(t, roll.Header.HasAudio())
	assert.False(t, roll.Header.HasHD())

	geo, jpeg, err := roll.ReadFrame(1)
	require.NoError(t, err)
	assert.Equal(t, frames[1].Geo, geo)
	assert.Equal(t, frames[1].JPEG, jpeg)

	// Every frame survives, in order.
	for i, want := range frames {
		geo, jpeg, err := roll.ReadFrame(i)
		require.NoError(t, err)
		assert.Equal(t, want.Geo, geo)
		assert.Equal(t, want.JPEG, jpeg)
	}
}

func TestPackWithAudioAndHD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export"+Suffix)

	w, err := NewWriter(path, testMeta())
	require.NoError(t, err)
	require.NoError(t, w.AppendFrame(fill(10, 1), fill(20, 2)))
	require.NoError(t, w.AppendFrame(fill(11, 3), fill(21, 4)))
	require.NoError(t, w.AppendHDFrame(fill(10, 1), fill(400, 5)))
	require.NoError(t, w.AppendHDFrame(fill(11, 3), fill(410, 6)))
	audio := fill(64, 7)
	require.NoError(t, w.SetAudio(bytes.NewReader(audio)))
	require.NoError(t, w.Close())

	roll, err := Open(path)
	require.NoError(t, err)
	defer roll.Close()

	assert.Equal(t, 2, roll.Header.FrameCount)
	assert.True(t, roll.Header.HasHD())
	assert.True(t, roll.Header.HasAudio())

	_, jpeg, err := roll.ReadHDFrame(1)
	require.NoError(t, err)
	assert.Equal(t, fill(410, 6), jpeg)

	got, err := roll.ReadAudio()
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestAppendOrderEnforced(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "x"+Suffix), testMeta())
	require.NoError(t, err)
	defer w.Abort()

	require.NoError(t, w.AppendHDFrame(fill(4, 1), fill(4, 2)))
	assert.Error(t, w.AppendFrame(fill(4, 1), fill(4, 2)))
}

func TestHDCountMustMatch(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "x"+Suffix), testMeta())
	require.NoError(t, err)
	defer w.Abort()

	require.NoError(t, w.AppendFrame(fill(4, 1), fill(4, 2)))
	require.NoError(t, w.AppendFrame(fill(4, 1), fill(4, 2)))
	require.NoError(t, w.AppendHDFrame(fill(4, 1), fill(4, 2)))
	assert.ErrorIs(t, w.Close(), ErrCorrupt)
}

func TestAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export"+Suffix)

	w, err := NewWriter(path, testMeta())
	require.NoError(t, err)
	require.NoError(t, w.AppendFrame(fill(32, 1), fill(32, 2)))
	w.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCloseCleansStagingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export"+Suffix)

	require.NoError(t, Pack(path, testMeta(), []FrameBlob{{Geo: fill(4, 1), JPEG: fill(4, 2)}}, nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())
}

func TestOpenRejectsLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old"+Suffix)
	// A legacy roll starts with raw frame data, not the magic.
	require.NoError(t, os.WriteFile(path, append(fill(64, 9), "4DR1"...), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrLegacyLayout)
}

func TestOpenRejectsBadPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export"+Suffix)
	require.NoError(t, Pack(path, testMeta(), []FrameBlob{
		{Geo: fill(8, 1), JPEG: fill(8, 2)},
	}, nil))

	// Truncate the payload; the final position no longer matches.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-4], 0o644))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReadFrameOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export"+Suffix)
	require.NoError(t, Pack(path, testMeta(), []FrameBlob{
		{Geo: fill(8, 1), JPEG: fill(8, 2)},
	}, nil))

	roll, err := Open(path)
	require.NoError(t, err)
	defer roll.Close()

	_, _, err = roll.ReadFrame(1)
	assert.Error(t, err)
	_, _, err = roll.ReadFrame(-1)
	assert.Error(t, err)
	_, err = roll.ReadAudio()
	assert.ErrorIs(t, err, ErrNoAudio)
	_, _, err = roll.ReadHDFrame(0)
	assert.ErrorIs(t, err, ErrNoHD)
}

func TestEmptyRoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export"+Suffix)
	require.NoError(t, Pack(path, testMeta(), nil, nil))

	roll, err := Open(path)
	require.NoError(t, err)
	defer roll.Close()
	assert.Equal(t, 0, roll.FrameCount())
}
