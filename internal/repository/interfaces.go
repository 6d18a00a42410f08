// Package repository defines data access interfaces for fourdrec entities.
// All database access goes through these interfaces, enabling easy testing.
package repository

import (
	"context"

	"github.com/fourdrec/fourdrec/internal/models"
)

// ProjectRepository defines operations for project persistence.
type ProjectRepository interface {
	// Create creates a new project.
	Create(ctx context.Context, project *models.Project) error
	// GetByID retrieves a project by ID. Returns nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.Project, error)
	// GetByFolderName retrieves a project by its folder name. Returns nil when absent.
	GetByFolderName(ctx context.Context, folderName string) (*models.Project, error)
	// GetAll retrieves all projects ordered by creation time.
	GetAll(ctx context.Context) ([]*models.Project, error)
	// Update updates an existing project.
	Update(ctx context.Context, project *models.Project) error
	// Delete deletes a project by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// ShotRepository defines operations for shot persistence.
type ShotRepository interface {
	// Create creates a new shot.
	Create(ctx context.Context, shot *models.Shot) error
	// GetByID retrieves a shot by ID. Returns nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.Shot, error)
	// GetByProjectID retrieves all shots of a project ordered by creation time.
	GetByProjectID(ctx context.Context, projectID models.ULID) ([]*models.Shot, error)
	// Update updates an existing shot.
	Update(ctx context.Context, shot *models.Shot) error
	// Delete deletes a shot by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// JobRepository defines operations for job persistence.
type JobRepository interface {
	// Create creates a new job.
	Create(ctx context.Context, job *models.Job) error
	// GetByID retrieves a job by ID. Returns nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	// GetByShotID retrieves all jobs of a shot ordered by creation time.
	GetByShotID(ctx context.Context, shotID models.ULID) ([]*models.Job, error)
	// GetUnresolved retrieves every job still waiting on farm tasks.
	GetUnresolved(ctx context.Context) ([]*models.Job, error)
	// Update updates an existing job.
	Update(ctx context.Context, job *models.Job) error
	// Delete deletes a job by ID.
	Delete(ctx context.Context, id models.ULID) error
}
