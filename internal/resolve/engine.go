package resolve

import (
	"context"

	"github.com/fourdrec/fourdrec/pkg/fourdframe"
)

// Engine is the photogrammetry binding. The production implementation wraps
// the vendor SDK on the farm workers; tests and the simulated topology use
// FakeEngine.
type Engine interface {
	// Open loads or creates the engine project for one job. The session is
	// stateful on disk: a later Open over the same workspace resumes where
	// the previous farm task left off.
	Open(ctx context.Context, proj Project) (Session, error)
}

// Project describes the engine workspace of one job.
type Project struct {
	// Dir is the engine workspace, the job folder itself.
	Dir string
	// PhotosDir is the published photo root of the shot.
	PhotosDir string
	// CaliArchive is a calibration archive to import, empty when the shot
	// calibrates itself.
	CaliArchive string
	// Settings tune the reconstruction.
	Settings Settings
	// Events receives engine progress and log lines.
	Events Callback
}

// Session is an open engine project.
type Session interface {
	// Initialize ingests photos, imports the calibration archive when one
	// is given, and aligns cameras.
	Initialize(ctx context.Context) error

	// CalibrationDir is the folder holding the calibrated scene. Valid
	// after Initialize.
	CalibrationDir() string

	// Resolve reconstructs one frame's mesh inside the workspace.
	Resolve(ctx context.Context, frame int) error

	// Extract converts one resolved frame into a frame record.
	Extract(ctx context.Context, frame int) (*fourdframe.Record, error)

	Close() error
}
