// Package metadata implements the metadata extraction stage. It is the
// only mandatory stage; its failure fails the job.
package metadata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/shared"
	"github.com/clipsight/clipsight/internal/repository"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "metadata_extraction"
	// StageName is the human-readable name for this stage.
	StageName = "Metadata Extraction"
)

// Stage probes the source file and persists its technical metadata.
type Stage struct {
	shared.BaseStage
	media  core.MediaToolkit
	meta   repository.MetadataRepository
	logger *slog.Logger
}

// New creates the metadata extraction stage.
func New(deps *core.Dependencies) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, nil, false),
		media:     deps.Media,
		meta:      deps.Store.Metadata,
		logger:    deps.Logger.With("stage", StageID),
	}
}

// Execute probes the video and records the metadata.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	meta, err := s.media.Probe(ctx, state.Job.JobID, state.VideoPath)
	if err != nil {
		return result, fmt.Errorf("probing video: %w", err)
	}
	if err := s.meta.Upsert(ctx, meta); err != nil {
		return result, fmt.Errorf("persisting metadata: %w", err)
	}
	state.Metadata = meta

	s.logger.InfoContext(ctx, "metadata extracted",
		slog.String("job_id", state.Job.JobID),
		slog.Float64("duration_s", meta.Duration),
		slog.String("quality", string(meta.Quality)),
	)

	result.ItemsProcessed = 1
	result.Message = fmt.Sprintf("%dx%d %s, %.1fs", meta.Width, meta.Height, meta.Codec, meta.Duration)
	return result, nil
}

var _ core.Stage = (*Stage)(nil)
