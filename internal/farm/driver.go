// Package farm submits resolve chains to the render farm and folds the
// per-frame task progress back into the entity store.
package farm

import (
	"context"
	"errors"
)

// Stage labels one step of a resolve chain. The stage runner on the farm
// reads the label from ExtraInfo and selects the matching processor.
type Stage string

const (
	// StageInitialize builds the photogrammetry project and, for
	// calibration shots, archives the calibrated scene.
	StageInitialize Stage = "initialize"
	// StageResolve reconstructs geometry for each frame.
	StageResolve Stage = "resolve"
	// StageConversion converts resolved geometry into frame records.
	StageConversion Stage = "conversion"
	// StageExport packs the frame records into a roll.
	StageExport Stage = "export"
)

// ErrBatchDeleted reports that a polled batch no longer exists on the farm.
// The poller treats it as an instruction to stop watching the job.
var ErrBatchDeleted = errors.New("farm batch deleted")

// ExtraInfo keys every stage carries to the farm-side runner.
const (
	ExtraKeyStage     = "resolve_stage"
	ExtraKeySheetPath = "yaml_path"
)

// Batch is one stage submission handed to the farm driver.
type Batch struct {
	// BatchName groups the stages of one chain in the farm queue.
	BatchName string
	// Name is the stage-specific display name.
	Name string
	// Stage selects the runner's processor.
	Stage Stage
	// Frames is the farm frame expression: "0" for single-frame stages,
	// "A-B" for per-frame ones. Frame numbers are farm-relative.
	Frames string
	// ChunkSize is the number of frames per farm task.
	ChunkSize int
	// FrameDependent makes each task wait on the matching frame of the
	// DependsOn batch instead of the whole batch.
	FrameDependent bool
	// DependsOn is the batch id of the previous stage, empty for the first.
	DependsOn string
	// OutputDir is the folder the stage writes into.
	OutputDir string

	Pool     string
	Group    string
	Priority int

	// ExtraInfo carries resolve_stage and yaml_path to the runner.
	ExtraInfo map[string]string
}

// Driver is the render-farm binding.
type Driver interface {
	// Submit queues a batch and returns its external batch id.
	Submit(ctx context.Context, batch Batch) (string, error)

	// TaskStates returns the farm-native per-frame state codes of a batch,
	// keyed by farm frame. It returns ErrBatchDeleted when the batch has
	// been removed on the farm side.
	TaskStates(ctx context.Context, batchID string) (map[int]int, error)

	// Remove deletes batches from the farm queue. Used when a chain is
	// aborted partway through submission.
	Remove(ctx context.Context, batchIDs []string) error
}
