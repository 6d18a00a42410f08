package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fourdrec/fourdrec/internal/models"
)

// projectRepo implements ProjectRepository using GORM.
type projectRepo struct {
	db *gorm.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepo{db: db}
}

// Create creates a new project.
func (r *projectRepo) Create(ctx context.Context, project *models.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	return nil
}

// GetByID retrieves a project by ID.
func (r *projectRepo) GetByID(ctx context.Context, id models.ULID) (*models.Project, error) {
	var project models.Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting project by ID: %w", err)
	}
	return &project, nil
}

// GetByFolderName retrieves a project by its folder name.
func (r *projectRepo) GetByFolderName(ctx context.Context, folderName string) (*models.Project, error) {
	var project models.Project
	if err := r.db.WithContext(ctx).Where("folder_name = ?", folderName).First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting project by folder name: %w", err)
	}
	return &project, nil
}

// GetAll retrieves all projects ordered by creation time.
func (r *projectRepo) GetAll(ctx context.Context) ([]*models.Project, error) {
	var projects []*models.Project
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("getting all projects: %w", err)
	}
	return projects, nil
}

// Update updates an existing project.
func (r *projectRepo) Update(ctx context.Context, project *models.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(project).Error; err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	return nil
}

// Delete deletes a project by ID.
func (r *projectRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Delete(&models.Project{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return nil
}
