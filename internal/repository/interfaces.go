// Package repository provides GORM-backed persistence for clipsight
// entities. All writes are idempotent upserts keyed by the job id and the
// natural key of each entity, so re-processing a job converges to the same
// rows.
package repository

import (
	"context"

	"github.com/clipsight/clipsight/internal/models"
)

// JobRepository persists analysis job rows.
type JobRepository interface {
	Upsert(ctx context.Context, job *models.AnalysisJob) error
	GetByJobID(ctx context.Context, jobID string) (*models.AnalysisJob, error)
	// Delete removes the job row and cascades to all owned entities.
	Delete(ctx context.Context, jobID string) error
}

// MetadataRepository persists probed video metadata.
type MetadataRepository interface {
	Upsert(ctx context.Context, meta *models.VideoMetadata) error
	GetByJobID(ctx context.Context, jobID string) (*models.VideoMetadata, error)
}

// FrameRepository persists frames with their objects and text regions.
type FrameRepository interface {
	// UpsertWithDetections writes the frame and its detections in one
	// transaction.
	UpsertWithDetections(ctx context.Context, frame *models.Frame) error
	GetByJobID(ctx context.Context, jobID string) ([]*models.Frame, error)
	CountByJobID(ctx context.Context, jobID string) (int64, error)
}

// SceneRepository persists detected scenes.
type SceneRepository interface {
	ReplaceForJob(ctx context.Context, jobID string, scenes []*models.Scene) error
	GetByJobID(ctx context.Context, jobID string) ([]*models.Scene, error)
}

// AudioRepository persists audio analyses with speaker segments.
type AudioRepository interface {
	Upsert(ctx context.Context, analysis *models.AudioAnalysis) error
	GetByJobID(ctx context.Context, jobID string) (*models.AudioAnalysis, error)
}

// ClassificationRepository persists content classifications.
type ClassificationRepository interface {
	Upsert(ctx context.Context, c *models.Classification) error
	GetByJobID(ctx context.Context, jobID string) (*models.Classification, error)
}

// UsageRepository appends immutable model usage records.
type UsageRepository interface {
	Append(ctx context.Context, record *models.ModelUsageRecord) error
	SumCostByJobID(ctx context.Context, jobID string) (float64, error)
	ListByJobID(ctx context.Context, jobID string) ([]*models.ModelUsageRecord, error)
}

// ResultRepository persists the final processing result.
type ResultRepository interface {
	Upsert(ctx context.Context, result *models.ProcessingResult) error
	GetByJobID(ctx context.Context, jobID string) (*models.ProcessingResult, error)
}

// Store bundles all repositories over one database handle.
type Store struct {
	Jobs            JobRepository
	Metadata        MetadataRepository
	Frames          FrameRepository
	Scenes          SceneRepository
	Audio           AudioRepository
	Classifications ClassificationRepository
	Usage           UsageRepository
	Results         ResultRepository
}
