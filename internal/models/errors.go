package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrProjectIDRequired indicates a shot is missing its owning project.
	ErrProjectIDRequired = errors.New("project_id is required")

	// ErrShotIDRequired indicates a job is missing its owning shot.
	ErrShotIDRequired = errors.New("shot_id is required")

	// ErrInvalidFrameRange indicates end frame precedes start frame.
	ErrInvalidFrameRange = errors.New("end frame must not precede start frame")

	// ErrStateRegression indicates an attempt to move an entity state backwards.
	ErrStateRegression = errors.New("entity state must not decrease")

	// ErrShotNotRecorded indicates an operation that needs a recorded frame range.
	ErrShotNotRecorded = errors.New("shot has no recorded frame range")
)
