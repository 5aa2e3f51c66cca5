package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipsight/clipsight/internal/database"
	"github.com/clipsight/clipsight/internal/models"
)

type audioRepo struct {
	db *database.DB
}

func (r *audioRepo) Upsert(ctx context.Context, analysis *models.AudioAnalysis) error {
	segments := analysis.Segments
	analysis.Segments = nil
	defer func() { analysis.Segments = segments }()

	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "job_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"transcription", "language", "confidence", "sentiment",
					"topics_json", "keywords_json", "audio_path", "model_id",
					"updated_at",
				}),
			}).Create(analysis).Error; err != nil {
				return err
			}

			var persisted models.AudioAnalysis
			if err := tx.Select("id").
				Where("job_id = ?", analysis.JobID).
				First(&persisted).Error; err != nil {
				return err
			}
			analysis.ID = persisted.ID

			if err := tx.Where("analysis_id = ?", analysis.ID).Delete(&models.SpeakerSegment{}).Error; err != nil {
				return err
			}
			if len(segments) == 0 {
				return nil
			}
			for i := range segments {
				segments[i].AnalysisID = analysis.ID
			}
			return tx.Create(&segments).Error
		})
	})
}

func (r *audioRepo) GetByJobID(ctx context.Context, jobID string) (*models.AudioAnalysis, error) {
	var analysis models.AudioAnalysis
	err := r.db.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("start ASC") }).
		Where("job_id = ?", jobID).
		First(&analysis).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

type classificationRepo struct {
	db *database.DB
}

func (r *classificationRepo) Upsert(ctx context.Context, c *models.Classification) error {
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"primary_category", "scores_json", "tags_json", "rating",
				"is_nsfw", "confidence", "model_id", "updated_at",
			}),
		}).Create(c).Error
	})
}

func (r *classificationRepo) GetByJobID(ctx context.Context, jobID string) (*models.Classification, error) {
	var c models.Classification
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
