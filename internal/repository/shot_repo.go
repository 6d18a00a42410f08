package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fourdrec/fourdrec/internal/models"
)

// shotRepo implements ShotRepository using GORM.
type shotRepo struct {
	db *gorm.DB
}

// NewShotRepository creates a new ShotRepository.
func NewShotRepository(db *gorm.DB) ShotRepository {
	return &shotRepo{db: db}
}

// Create creates a new shot.
func (r *shotRepo) Create(ctx context.Context, shot *models.Shot) error {
	if err := shot.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(shot).Error; err != nil {
		return fmt.Errorf("creating shot: %w", err)
	}
	return nil
}

// GetByID retrieves a shot by ID.
func (r *shotRepo) GetByID(ctx context.Context, id models.ULID) (*models.Shot, error) {
	var shot models.Shot
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&shot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting shot by ID: %w", err)
	}
	return &shot, nil
}

// GetByProjectID retrieves all shots of a project ordered by creation time.
func (r *shotRepo) GetByProjectID(ctx context.Context, projectID models.ULID) ([]*models.Shot, error) {
	var shots []*models.Shot
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at ASC").Find(&shots).Error; err != nil {
		return nil, fmt.Errorf("getting shots by project ID: %w", err)
	}
	return shots, nil
}

// Update updates an existing shot.
func (r *shotRepo) Update(ctx context.Context, shot *models.Shot) error {
	if err := shot.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(shot).Error; err != nil {
		return fmt.Errorf("updating shot: %w", err)
	}
	return nil
}

// Delete deletes a shot by ID.
func (r *shotRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Delete(&models.Shot{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting shot: %w", err)
	}
	return nil
}
