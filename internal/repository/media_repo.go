package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipsight/clipsight/internal/database"
	"github.com/clipsight/clipsight/internal/models"
)

type metadataRepo struct {
	db *database.DB
}

func (r *metadataRepo) Upsert(ctx context.Context, meta *models.VideoMetadata) error {
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"duration", "width", "height", "frame_rate", "codec",
				"audio_codec", "audio_track_count", "has_subtitles",
				"bitrate", "size", "quality", "updated_at",
			}),
		}).Create(meta).Error
	})
}

func (r *metadataRepo) GetByJobID(ctx context.Context, jobID string) (*models.VideoMetadata, error) {
	var meta models.VideoMetadata
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

type frameRepo struct {
	db *database.DB
}

// UpsertWithDetections writes the frame row, then replaces its objects and
// text regions, all in one transaction. Re-running the frame analysis stage
// therefore converges instead of duplicating detections.
func (r *frameRepo) UpsertWithDetections(ctx context.Context, frame *models.Frame) error {
	objects := frame.Objects
	texts := frame.Texts
	frame.Objects = nil
	frame.Texts = nil
	defer func() {
		frame.Objects = objects
		frame.Texts = texts
	}()

	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "job_id"}, {Name: "frame_number"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"timestamp", "path", "description", "confidence",
					"model_id", "updated_at",
				}),
			}).Create(frame).Error; err != nil {
				return err
			}

			// The upsert does not report which id won the conflict, so
			// resolve it before attaching children.
			var persisted models.Frame
			if err := tx.Select("id").
				Where("job_id = ? AND frame_number = ?", frame.JobID, frame.FrameNumber).
				First(&persisted).Error; err != nil {
				return err
			}
			frame.ID = persisted.ID

			if err := tx.Where("frame_id = ?", frame.ID).Delete(&models.DetectedObject{}).Error; err != nil {
				return err
			}
			if err := tx.Where("frame_id = ?", frame.ID).Delete(&models.TextRegion{}).Error; err != nil {
				return err
			}
			for i := range objects {
				objects[i].FrameID = frame.ID
			}
			for i := range texts {
				texts[i].FrameID = frame.ID
			}
			if len(objects) > 0 {
				if err := tx.Create(&objects).Error; err != nil {
					return err
				}
			}
			if len(texts) > 0 {
				if err := tx.Create(&texts).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (r *frameRepo) GetByJobID(ctx context.Context, jobID string) ([]*models.Frame, error) {
	var frames []*models.Frame
	err := r.db.WithContext(ctx).
		Preload("Objects").
		Preload("Texts").
		Where("job_id = ?", jobID).
		Order("frame_number ASC").
		Find(&frames).Error
	if err != nil {
		return nil, err
	}
	return frames, nil
}

func (r *frameRepo) CountByJobID(ctx context.Context, jobID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Frame{}).
		Where("job_id = ?", jobID).Count(&count).Error
	return count, err
}

type sceneRepo struct {
	db *database.DB
}

// ReplaceForJob swaps the job's scene set atomically. Scene boundaries
// shift whenever the sampled frame set changes, so partial upserts would
// leave stale rows behind.
func (r *sceneRepo) ReplaceForJob(ctx context.Context, jobID string, scenes []*models.Scene) error {
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("job_id = ?", jobID).Delete(&models.Scene{}).Error; err != nil {
				return err
			}
			if len(scenes) == 0 {
				return nil
			}
			for _, s := range scenes {
				s.JobID = jobID
			}
			return tx.Create(&scenes).Error
		})
	})
}

func (r *sceneRepo) GetByJobID(ctx context.Context, jobID string) ([]*models.Scene, error) {
	var scenes []*models.Scene
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("start_frame ASC").
		Find(&scenes).Error
	if err != nil {
		return nil, err
	}
	return scenes, nil
}
