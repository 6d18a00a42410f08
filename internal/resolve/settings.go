package resolve

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fourdrec/fourdrec/internal/farm"
)

// Settings tunes the photogrammetry engine for one job. Defaults match the
// studio rig; the job sheet overrides per job and --extra_settings JSON
// overrides both for one-off reruns.
type Settings struct {
	// MatchPhotosInterval is the frame stride used when aligning cameras.
	MatchPhotosInterval int `json:"match_photos_interval"`
	// MeshCleanFacesThreshold drops disconnected fragments below this face
	// count after reconstruction.
	MeshCleanFacesThreshold int `json:"mesh_clean_faces_threshold"`
	// SmoothModel is the smoothing strength applied to the mesh.
	SmoothModel float64 `json:"smooth_model"`
	// TextureSize is the baked texture width in pixels.
	TextureSize int `json:"texture_size"`
	// RegionSize bounds the reconstruction volume in meters.
	RegionSize [3]float64 `json:"region_size"`
	// OutputFolderName is the job-folder subdirectory records land in.
	OutputFolderName string `json:"output_folder_name"`
	// SkipMasks disables background masking.
	SkipMasks bool `json:"skip_masks"`
	// FPS is the capture rate stamped into packed rolls.
	FPS float64 `json:"fps"`
}

// DefaultSettings returns the studio defaults.
func DefaultSettings() Settings {
	return Settings{
		MatchPhotosInterval:     5,
		MeshCleanFacesThreshold: 10000,
		SmoothModel:             1.0,
		TextureSize:             8192,
		RegionSize:              [3]float64{0.5, 0.5, 0.5},
		OutputFolderName:        "output",
		FPS:                     30,
	}
}

// ApplySheet folds the job sheet's parameters over the settings. Zero values
// keep what is there, so sheets written by older masters stay loadable.
func (s *Settings) ApplySheet(sheet farm.Sheet) {
	if sheet.MatchPhotosInterval > 0 {
		s.MatchPhotosInterval = sheet.MatchPhotosInterval
	}
	if sheet.MeshCleanFacesThreshold > 0 {
		s.MeshCleanFacesThreshold = sheet.MeshCleanFacesThreshold
	}
	if sheet.SmoothModel > 0 {
		s.SmoothModel = sheet.SmoothModel
	}
	if sheet.TextureSize > 0 {
		s.TextureSize = sheet.TextureSize
	}
	if sheet.RegionSize != ([3]float64{}) {
		s.RegionSize = sheet.RegionSize
	}
	s.SkipMasks = sheet.SkipMasks
}

// ApplyJSON merges an extra-settings JSON document over the settings.
// Absent keys keep their current values.
func (s *Settings) ApplyJSON(extra string) error {
	if strings.TrimSpace(extra) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(extra), s); err != nil {
		return fmt.Errorf("parsing extra settings: %w", err)
	}
	return nil
}
