package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipsight/clipsight/internal/database"
	"github.com/clipsight/clipsight/internal/models"
)

// NewStore builds the repository bundle over one database handle.
func NewStore(db *database.DB) *Store {
	return &Store{
		Jobs:            &jobRepo{db: db},
		Metadata:        &metadataRepo{db: db},
		Frames:          &frameRepo{db: db},
		Scenes:          &sceneRepo{db: db},
		Audio:           &audioRepo{db: db},
		Classifications: &classificationRepo{db: db},
		Usage:           &usageRepo{db: db},
		Results:         &resultRepo{db: db},
	}
}

type jobRepo struct {
	db *database.DB
}

func (r *jobRepo) Upsert(ctx context.Context, job *models.AnalysisJob) error {
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "attempt", "started_at", "completed_at",
				"error", "options_json", "updated_at",
			}),
		}).Create(job).Error
	})
}

func (r *jobRepo) GetByJobID(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Delete removes the job and every entity derived from it. Frame children
// are removed through the frame ids since they reference frames, not jobs.
func (r *jobRepo) Delete(ctx context.Context, jobID string) error {
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			frameIDs := tx.Model(&models.Frame{}).Select("id").Where("job_id = ?", jobID)
			if err := tx.Where("frame_id IN (?)", frameIDs).Delete(&models.DetectedObject{}).Error; err != nil {
				return err
			}
			if err := tx.Where("frame_id IN (?)", frameIDs).Delete(&models.TextRegion{}).Error; err != nil {
				return err
			}
			analysisIDs := tx.Model(&models.AudioAnalysis{}).Select("id").Where("job_id = ?", jobID)
			if err := tx.Where("analysis_id IN (?)", analysisIDs).Delete(&models.SpeakerSegment{}).Error; err != nil {
				return err
			}
			for _, m := range []any{
				&models.Frame{}, &models.Scene{}, &models.AudioAnalysis{},
				&models.Classification{}, &models.ModelUsageRecord{},
				&models.ProcessingResult{}, &models.VideoMetadata{},
				&models.AnalysisJob{},
			} {
				if err := tx.Where("job_id = ?", jobID).Delete(m).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
}
