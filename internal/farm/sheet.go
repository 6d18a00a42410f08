package farm

import (
	"gopkg.in/yaml.v3"

	"github.com/fourdrec/fourdrec/internal/models"
)

// sheetVersion tags the sheet schema for farm-side compatibility checks.
const sheetVersion = 1

// Sheet is the parameter document written as job.yml inside the job folder.
// Stage runners load it over their setting defaults, so the keys follow the
// runner's setting names.
type Sheet struct {
	Version int `yaml:"version"`

	// StartFrame and EndFrame bound the farm frame window. OffsetFrame
	// recovers absolute shot frames: shot frame = farm frame + offset.
	StartFrame  int `yaml:"start_frame"`
	EndFrame    int `yaml:"end_frame"`
	OffsetFrame int `yaml:"offset_frame"`

	// ShotPath is the published photo root of the shot. JobPath is the job
	// folder. CaliPath points at the calibration archive of a previously
	// resolved calibration job, empty for calibration shots themselves.
	// All three are absolute so workers can open them from any mount.
	ShotPath string `yaml:"shot_path"`
	JobPath  string `yaml:"job_path"`
	CaliPath string `yaml:"cali_path"`

	ProjectName string `yaml:"project_name"`
	ProjectID   string `yaml:"project_id"`
	ShotName    string `yaml:"shot_name"`
	ShotID      string `yaml:"shot_id"`
	JobName     string `yaml:"job_name"`
	JobID       string `yaml:"job_id"`

	NoCloudSync bool `yaml:"no_cloud_sync"`

	TextureSize             int        `yaml:"texture_size"`
	RegionSize              [3]float64 `yaml:"region_size"`
	SmoothModel             float64    `yaml:"smooth_model"`
	MatchPhotosInterval     int        `yaml:"match_photos_interval"`
	MeshCleanFacesThreshold int        `yaml:"mesh_clean_faces_threshold"`
	SkipMasks               bool       `yaml:"skip_masks"`
}

// NewSheet assembles the sheet for one job submission.
func NewSheet(project *models.Project, shot *models.Shot, job *models.Job, shotPhotosPath, jobPath, caliPath string) Sheet {
	start, end := job.FarmFrameRange()
	return Sheet{
		Version:     sheetVersion,
		StartFrame:  start,
		EndFrame:    end,
		OffsetFrame: job.OffsetFrame,
		ShotPath:    shotPhotosPath,
		JobPath:     jobPath,
		CaliPath:    caliPath,
		ProjectName: project.Name,
		ProjectID:   project.ID.String(),
		ShotName:    shot.Name,
		ShotID:      shot.ID.String(),
		JobName:     job.Name,
		JobID:       job.ID.String(),
		NoCloudSync: job.Parms.NoCloudSync,

		TextureSize:             job.Parms.TextureSize,
		RegionSize:              job.Parms.RegionSize,
		SmoothModel:             job.Parms.SmoothModel,
		MatchPhotosInterval:     job.Parms.MatchPhotosInterval,
		MeshCleanFacesThreshold: job.Parms.MeshCleanFacesThreshold,
		SkipMasks:               job.Parms.SkipMasks,
	}
}

// Encode renders the sheet as YAML.
func (s Sheet) Encode() ([]byte, error) {
	return yaml.Marshal(s)
}

// ParseSheet decodes a sheet document.
func ParseSheet(data []byte) (Sheet, error) {
	var s Sheet
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Sheet{}, err
	}
	return s, nil
}
