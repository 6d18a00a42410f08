package models

import "gorm.io/gorm"

// JobState tracks the lifecycle of a job. States only move forward.
type JobState int

const (
	// JobStateCreated is a submitted job whose farm tasks are still running.
	JobStateCreated JobState = 0
	// JobStateResolved means every frame task on the farm completed.
	JobStateResolved JobState = 1
)

// TaskState is the per-frame status reported by the render farm. The numeric
// values follow the farm's own task encoding; unrecognized values fold to
// TaskStateUnknown instead of failing the poll.
type TaskState int

const (
	// TaskStateUnknown is the fold target for unrecognized farm values.
	TaskStateUnknown TaskState = 0
	// TaskStateQueued means the task is waiting for a worker.
	TaskStateQueued TaskState = 2
	// TaskStateSuspended means the task was paused on the farm.
	TaskStateSuspended TaskState = 3
	// TaskStateRendering means a worker is executing the task.
	TaskStateRendering TaskState = 4
	// TaskStateCompleted means the task finished successfully.
	TaskStateCompleted TaskState = 5
	// TaskStateFailed means the task errored out.
	TaskStateFailed TaskState = 6
	// TaskStatePending means the task waits on an unfinished dependency.
	TaskStatePending TaskState = 8
)

// String returns the farm-facing name of the state.
func (s TaskState) String() string {
	switch s {
	case TaskStateQueued:
		return "QUEUED"
	case TaskStateSuspended:
		return "SUSPENDED"
	case TaskStateRendering:
		return "RENDERING"
	case TaskStateCompleted:
		return "COMPLETED"
	case TaskStateFailed:
		return "FAILED"
	case TaskStatePending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// NormalizeTaskState folds values outside the known set to TaskStateUnknown.
func NormalizeTaskState(v int) TaskState {
	switch TaskState(v) {
	case TaskStateQueued, TaskStateSuspended, TaskStateRendering,
		TaskStateCompleted, TaskStateFailed, TaskStatePending:
		return TaskState(v)
	default:
		return TaskStateUnknown
	}
}

// TaskStateMap maps a farm-relative frame number to its last known state.
type TaskStateMap map[int]TaskState

// Equal reports whether two maps hold exactly the same entries.
func (m TaskStateMap) Equal(other TaskStateMap) bool {
	if len(m) != len(other) {
		return false
	}
	for frame, state := range m {
		if got, ok := other[frame]; !ok || got != state {
			return false
		}
	}
	return true
}

// StringList is a JSON-serialized ordered list of external batch ids.
type StringList []string

// JobParms is the reconstruction parameter set captured at submit time and
// echoed into the submission sheet.
type JobParms struct {
	TextureSize             int        `json:"texture_size"`
	RegionSize              [3]float64 `json:"region_size"`
	SmoothModel             float64    `json:"smooth_model"`
	MatchPhotosInterval     int        `json:"match_photos_interval"`
	MeshCleanFacesThreshold int        `json:"mesh_clean_faces_threshold"`
	SkipMasks               bool       `json:"skip_masks"`
	ResolveOnly             bool       `json:"resolve_only"`
	NoCloudSync             bool       `json:"no_cloud_sync"`
}

// DefaultJobParms returns the studio defaults for a new submission.
func DefaultJobParms() JobParms {
	return JobParms{
		TextureSize:             8192,
		RegionSize:              [3]float64{0.5, 0.5, 0.5},
		SmoothModel:             1.0,
		MatchPhotosInterval:     5,
		MeshCleanFacesThreshold: 10000,
	}
}

// Job is one farm submission derived from a shot.
type Job struct {
	BaseModel

	ShotID ULID `gorm:"type:varchar(26);not null;index;uniqueIndex:idx_jobs_shot_folder" json:"shot_id"`

	// Name is the operator-facing display name.
	Name string `gorm:"not null;size:255" json:"name"`

	// FolderName is the on-disk folder under <shot>/jobs/, unique per shot
	// and stable across renames.
	FolderName string `gorm:"not null;size:255;uniqueIndex:idx_jobs_shot_folder" json:"folder_name"`

	// StartFrame/EndFrame are absolute shot frames selected for this job.
	StartFrame int `json:"start_frame"`
	EndFrame   int `json:"end_frame"`

	// OffsetFrame rebases shot frames onto the farm's zero-based numbering:
	// farm frame = shot frame - OffsetFrame.
	OffsetFrame int `json:"offset_frame"`

	Parms JobParms `gorm:"type:text;serializer:json" json:"parms"`

	State JobState `gorm:"not null;default:0" json:"state"`

	// DeadlineIDs holds the external batch ids in stage order:
	// initialize, resolve, then conversion and export unless resolve-only.
	DeadlineIDs StringList `gorm:"type:text;serializer:json" json:"deadline_ids"`

	// TaskStates is the last known per-frame farm status, keyed by farm frame.
	TaskStates TaskStateMap `gorm:"type:text;serializer:json" json:"task_states"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// BeforeCreate initializes serialized maps so JSON round-trips do not
// produce null.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if j.TaskStates == nil {
		j.TaskStates = TaskStateMap{}
	}
	if j.DeadlineIDs == nil {
		j.DeadlineIDs = StringList{}
	}
	return nil
}

// Validate checks the job fields.
func (j *Job) Validate() error {
	if j.Name == "" {
		return ErrNameRequired
	}
	if j.ShotID.IsZero() {
		return ErrShotIDRequired
	}
	if j.EndFrame < j.StartFrame {
		return ErrInvalidFrameRange
	}
	return nil
}

// FarmFrameRange returns the zero-based frame window submitted to the farm.
func (j *Job) FarmFrameRange() (start, end int) {
	return j.StartFrame - j.OffsetFrame, j.EndFrame - j.OffsetFrame
}

// FarmFrames lists every farm-relative frame of the job in order.
func (j *Job) FarmFrames() []int {
	start, end := j.FarmFrameRange()
	frames := make([]int, 0, end-start+1)
	for f := start; f <= end; f++ {
		frames = append(frames, f)
	}
	return frames
}

// FrameCount returns the number of frames in the job window.
func (j *Job) FrameCount() int {
	return j.EndFrame - j.StartFrame + 1
}

// AllTasksCompleted reports whether every frame of the job window has a
// COMPLETED task state. Frames with no report yet count as incomplete.
func (j *Job) AllTasksCompleted() bool {
	start, end := j.FarmFrameRange()
	for f := start; f <= end; f++ {
		if j.TaskStates[f] != TaskStateCompleted {
			return false
		}
	}
	return true
}

// AdvanceState moves the job state forward, rejecting regressions.
func (j *Job) AdvanceState(state JobState) error {
	if state < j.State {
		return ErrStateRegression
	}
	j.State = state
	return nil
}
