package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/internal/farm"
)

func TestApplySheetKeepsDefaultsForZeroValues(t *testing.T) {
	s := DefaultSettings()
	s.ApplySheet(farm.Sheet{TextureSize: 2048, SkipMasks: true})

	assert.Equal(t, 2048, s.TextureSize)
	assert.True(t, s.SkipMasks)
	assert.Equal(t, 5, s.MatchPhotosInterval)
	assert.Equal(t, 10000, s.MeshCleanFacesThreshold)
	assert.Equal(t, 1.0, s.SmoothModel)
	assert.Equal(t, [3]float64{0.5, 0.5, 0.5}, s.RegionSize)
	assert.Equal(t, "output", s.OutputFolderName)
	assert.Equal(t, float64(30), s.FPS)
}

func TestApplySheetOverridesEverySetValue(t *testing.T) {
	s := DefaultSettings()
	s.ApplySheet(farm.Sheet{
		MatchPhotosInterval:     2,
		MeshCleanFacesThreshold: 500,
		SmoothModel:             0.25,
		TextureSize:             1024,
		RegionSize:              [3]float64{1, 2, 3},
	})

	assert.Equal(t, 2, s.MatchPhotosInterval)
	assert.Equal(t, 500, s.MeshCleanFacesThreshold)
	assert.Equal(t, 0.25, s.SmoothModel)
	assert.Equal(t, 1024, s.TextureSize)
	assert.Equal(t, [3]float64{1, 2, 3}, s.RegionSize)
}

func TestApplyJSONMergesOverSheet(t *testing.T) {
	s := DefaultSettings()
	s.ApplySheet(farm.Sheet{TextureSize: 2048})
	require.NoError(t, s.ApplyJSON(`{"texture_size":512,"fps":24}`))

	assert.Equal(t, 512, s.TextureSize)
	assert.Equal(t, float64(24), s.FPS)
	assert.Equal(t, 5, s.MatchPhotosInterval)
}

func TestApplyJSONEmptyIsNoop(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.ApplyJSON("  "))
	assert.Equal(t, DefaultSettings(), s)
}

func TestApplyJSONRejectsMalformedDocument(t *testing.T) {
	s := DefaultSettings()
	err := s.ApplyJSON(`{"texture_size":`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extra settings")
}
