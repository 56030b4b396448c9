package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/br00tm/infrawatch/internal/models"
)

type HealthRepository struct {
	db *gorm.DB
}

func NewHealthRepository(db *gorm.DB) *HealthRepository {
	return &HealthRepository{db: db}
}

func (r *HealthRepository) Insert(ctx context.Context, rec *models.HealthRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to store health record: %w", err)
	}
	return nil
}

func (r *HealthRepository) Latest(ctx context.Context) (*models.HealthRecord, error) {
	var rec models.HealthRecord
	if err := r.db.WithContext(ctx).Order("timestamp desc").First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}
