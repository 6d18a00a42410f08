package slave

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(seed int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(seed * 20),
				G: uint8(x * 30),
				B: uint8(y * 40),
				A: 255,
			})
		}
	}
	return img
}

func TestShotFileRoundTrip(t *testing.T) {
	path := ShotFilePath(t.TempDir(), "shot-1", "cam-a")

	w, err := CreateShotFile(path)
	require.NoError(t, err)
	for _, frame := range []int{1, 2, 4, 5} {
		require.NoError(t, w.Append(frame, testFrame(frame)))
	}

	rng, missing, ok := w.Summary()
	require.True(t, ok)
	assert.Equal(t, [2]int{1, 5}, rng)
	assert.Equal(t, []int{3}, missing)
	assert.Equal(t, 4, w.FrameCount())
	assert.Positive(t, w.Size())
	require.NoError(t, w.Close())

	r, err := OpenShotFile(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []int{1, 2, 4, 5}, r.Frames())
	assert.True(t, r.HasFrame(4))
	assert.False(t, r.HasFrame(3))

	img, err := r.Frame(2)
	require.NoError(t, err)
	assert.Equal(t, testFrame(2).Pix, img.Pix)

	_, err = r.Frame(3)
	assert.ErrorIs(t, err, ErrFrameMissing)
}

func TestShotFileDuplicateAppendIgnored(t *testing.T) {
	path := ShotFilePath(t.TempDir(), "shot-1", "cam-a")

	w, err := CreateShotFile(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(1, testFrame(1)))
	sizeAfterFirst := w.Size()
	require.NoError(t, w.Append(1, testFrame(9)))
	assert.Equal(t, sizeAfterFirst, w.Size())
	assert.Equal(t, 1, w.FrameCount())
	require.NoError(t, w.Close())
}

func TestShotFileTruncatedTailTolerated(t *testing.T) {
	path := ShotFilePath(t.TempDir(), "shot-1", "cam-a")

	w, err := CreateShotFile(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(1, testFrame(1)))
	require.NoError(t, w.Append(2, testFrame(2)))
	require.NoError(t, w.Close())

	// Chop bytes off the final record, as a crash mid-append would.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-5))

	r, err := OpenShotFile(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []int{1}, r.Frames())
	img, err := r.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, testFrame(1).Pix, img.Pix)
}

func TestShotFileBadMagicRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-shot.rec")
	require.NoError(t, os.WriteFile(path, []byte("JUNKJUNKJUNK"), 0o644))

	_, err := OpenShotFile(path)
	assert.Error(t, err)
}

func TestFindAndRemoveShotFiles(t *testing.T) {
	driveA := t.TempDir()
	driveB := t.TempDir()
	drives := []string{driveA, driveB}

	path := ShotFilePath(driveB, "shot-9", "cam-a")
	w, err := CreateShotFile(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(0, testFrame(0)))
	require.NoError(t, w.Close())

	found, ok := FindShotFile(drives, "shot-9", "cam-a")
	require.True(t, ok)
	assert.Equal(t, path, found)

	_, ok = FindShotFile(drives, "shot-9", "cam-b")
	assert.False(t, ok)

	require.NoError(t, RemoveShotFiles(drives, "shot-9"))
	_, ok = FindShotFile(drives, "shot-9", "cam-a")
	assert.False(t, ok)
}

func TestSummarizeEmpty(t *testing.T) {
	_, _, ok := summarize(map[int]struct{}{})
	assert.False(t, ok)
}
