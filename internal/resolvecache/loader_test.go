package resolvecache

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/storage"
	"github.com/fourdrec/fourdrec/internal/testutil"
	"github.com/fourdrec/fourdrec/pkg/fourdframe"
	"github.com/fourdrec/fourdrec/pkg/fourdroll"
)

func TestLoaderDownscalesWideTexture(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 4)
	writeRecord(t, lib, job, 0, 64, 32)

	loader := NewFileLoader(lib, nil)
	defer loader.Close()

	art, err := loader.Load(context.Background(), job, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, 16, art.Width)
	assert.Equal(t, 8, art.Height)
	assert.Equal(t, 16, art.Resolution)
	assert.Len(t, art.Texture, 16*8*4)
	assert.Len(t, art.Positions, 4*3*3)
	assert.Len(t, art.UVs, 4*3*2)
}

func TestLoaderDowngradesToNativeWidth(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 4)
	writeRecord(t, lib, job, 0, 64, 32)

	loader := NewFileLoader(lib, nil)
	defer loader.Close()

	art, err := loader.Load(context.Background(), job, 0, 2048)
	require.NoError(t, err)
	assert.Equal(t, 64, art.Width)
	assert.Equal(t, 64, art.Resolution)
	assert.Len(t, art.Texture, 64*32*4)
}

func TestLoaderFallsBackToPackedRoll(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 4)
	ctx := context.Background()

	jobRel, err := lib.JobPath(ctx, job)
	require.NoError(t, err)
	require.NoError(t, lib.Sandbox().MkdirAll(storage.OutputRel(jobRel)))
	rollPath, err := lib.Sandbox().ResolvePath(storage.ExportRollRel(jobRel))
	require.NoError(t, err)

	rec := testutil.Record(t, 2, 16, 8)
	var geo bytes.Buffer
	require.NoError(t, fourdframe.Encode(&geo, &fourdframe.Record{
		Positions: rec.Positions,
		UVs:       rec.UVs,
	}))
	frames := []fourdroll.FrameBlob{
		{Geo: geo.Bytes(), JPEG: rec.Texture},
		{Geo: geo.Bytes(), JPEG: rec.Texture},
	}
	meta := fourdroll.Meta{
		Name:          "res",
		ID:            job.ID.String(),
		FPS:           30,
		GeoFormat:     "geo-zlib",
		TextureFormat: "jpeg",
	}
	require.NoError(t, fourdroll.Pack(rollPath, meta, frames, nil))

	loader := NewFileLoader(lib, nil)
	defer loader.Close()

	art, err := loader.Load(ctx, job, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, rec.Positions, art.Positions)
	assert.Equal(t, rec.UVs, art.UVs)
	assert.Equal(t, 16, art.Width)

	// Past the packed range is still a missing frame.
	_, err = loader.Load(ctx, job, 3, 0)
	assert.ErrorIs(t, err, ErrFrameMissing)
}

func TestLoaderReportsMissingFrame(t *testing.T) {
	lib := testutil.NewLibrary(t)
	job := testutil.SeedJob(t, lib, 0, 4)

	loader := NewFileLoader(lib, nil)
	defer loader.Close()

	_, err := loader.Load(context.Background(), job, 2, 0)
	assert.ErrorIs(t, err, ErrFrameMissing)
}
