package models

import "gorm.io/gorm"

// ShotState tracks the lifecycle of a shot. States only move forward.
type ShotState int

const (
	// ShotStateCreated is a shot that exists but has not recorded yet.
	ShotStateCreated ShotState = 0
	// ShotStateRecorded is a shot with an aggregated frame range on disk.
	ShotStateRecorded ShotState = 1
	// ShotStateSubmitted is a shot with at least one job sent to the farm.
	ShotStateSubmitted ShotState = 2
)

// MissingFrameMap records, per camera serial, the frames that camera failed
// to deliver during recording.
type MissingFrameMap map[string][]int

// Shot is one recording take across all cameras, owned by a Project.
type Shot struct {
	BaseModel

	ProjectID ULID `gorm:"type:varchar(26);not null;index;uniqueIndex:idx_shots_project_folder" json:"project_id"`

	// Name is the operator-facing display name.
	Name string `gorm:"not null;size:255" json:"name"`

	// FolderName is the on-disk folder under <project>/shots/, unique per
	// project and stable across renames.
	FolderName string `gorm:"not null;size:255;uniqueIndex:idx_shots_project_folder" json:"folder_name"`

	// StartFrame/EndFrame are nil until recording finishes; afterwards they
	// hold the intersection of per-camera reported ranges.
	StartFrame *int `json:"start_frame,omitempty"`
	EndFrame   *int `json:"end_frame,omitempty"`

	// Size is the total on-disk size of the recording, summed over cameras.
	Size int64 `json:"size"`

	// MissingFrames unions per-camera gaps reported by RECORD_REPORT.
	MissingFrames MissingFrameMap `gorm:"type:text;serializer:json" json:"missing_frames"`

	// IsCali marks a calibration take.
	IsCali bool `json:"is_cali"`

	State ShotState `gorm:"not null;default:0" json:"state"`
}

// TableName returns the table name for Shot.
func (Shot) TableName() string {
	return "shots"
}

// BeforeCreate initializes the missing-frame map so JSON round-trips do not
// produce null.
func (s *Shot) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.MissingFrames == nil {
		s.MissingFrames = MissingFrameMap{}
	}
	return nil
}

// Validate checks the shot fields.
func (s *Shot) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.ProjectID.IsZero() {
		return ErrProjectIDRequired
	}
	if s.StartFrame != nil && s.EndFrame != nil && *s.EndFrame < *s.StartFrame {
		return ErrInvalidFrameRange
	}
	return nil
}

// FrameRange returns the recorded range. ok is false before recording.
func (s *Shot) FrameRange() (start, end int, ok bool) {
	if s.StartFrame == nil || s.EndFrame == nil {
		return 0, 0, false
	}
	return *s.StartFrame, *s.EndFrame, true
}

// FrameCount returns the number of recorded frames, zero before recording.
func (s *Shot) FrameCount() int {
	start, end, ok := s.FrameRange()
	if !ok {
		return 0
	}
	return end - start + 1
}

// AdvanceState moves the shot state forward. Regressions are rejected so the
// monotonicity invariant holds no matter which listener asks for the change.
func (s *Shot) AdvanceState(state ShotState) error {
	if state < s.State {
		return ErrStateRegression
	}
	s.State = state
	return nil
}

// MissingTotal counts missing frames across all cameras.
func (s *Shot) MissingTotal() int {
	total := 0
	for _, frames := range s.MissingFrames {
		total += len(frames)
	}
	return total
}
