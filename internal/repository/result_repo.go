package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipsight/clipsight/internal/database"
	"github.com/clipsight/clipsight/internal/models"
)

type usageRepo struct {
	db *database.DB
}

func (r *usageRepo) Append(ctx context.Context, record *models.ModelUsageRecord) error {
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

func (r *usageRepo) SumCostByJobID(ctx context.Context, jobID string) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&models.ModelUsageRecord{}).
		Where("job_id = ?", jobID).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&total).Error
	return total, err
}

func (r *usageRepo) ListByJobID(ctx context.Context, jobID string) ([]*models.ModelUsageRecord, error) {
	var records []*models.ModelUsageRecord
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

type resultRepo struct {
	db *database.DB
}

func (r *resultRepo) Upsert(ctx context.Context, result *models.ProcessingResult) error {
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"summary", "total_frames", "total_scenes", "total_objects",
				"has_metadata", "has_transcription", "has_classification",
				"total_cost", "processing_time", "payload_json", "updated_at",
			}),
		}).Create(result).Error
	})
}

func (r *resultRepo) GetByJobID(ctx context.Context, jobID string) (*models.ProcessingResult, error) {
	var result models.ProcessingResult
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
