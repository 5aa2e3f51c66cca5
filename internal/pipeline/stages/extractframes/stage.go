// Package extractframes implements the frame extraction stage.
package extractframes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clipsight/clipsight/internal/media"
	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/shared"
	"github.com/clipsight/clipsight/internal/pipeline/stages/metadata"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "frame_extraction"
	// StageName is the human-readable name for this stage.
	StageName = "Frame Extraction"
)

// Stage samples frames from the source video per the job's options.
type Stage struct {
	shared.BaseStage
	media  core.MediaToolkit
	logger *slog.Logger
}

// New creates the frame extraction stage.
func New(deps *core.Dependencies) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, []string{metadata.StageID}, true),
		media:     deps.Media,
		logger:    deps.Logger.With("stage", StageID),
	}
}

// Execute extracts frames into the job workspace.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	if state.Metadata == nil {
		return result, fmt.Errorf("metadata unavailable")
	}

	opts := state.Job.Options
	frames, err := s.media.ExtractFrames(ctx, state.Job.JobID, state.VideoPath, media.FrameParams{
		Mode:      opts.FrameSamplingMode,
		Rate:      opts.FrameSampleRate,
		MaxFrames: opts.MaxFrames,
		Interval:  opts.FrameInterval,
		Duration:  state.Metadata.Duration,
	})
	if err != nil {
		return result, fmt.Errorf("extracting frames: %w", err)
	}
	state.Extracted = frames

	s.logger.InfoContext(ctx, "frames extracted",
		slog.String("job_id", state.Job.JobID),
		slog.String("mode", opts.FrameSamplingMode),
		slog.Int("count", len(frames)),
	)

	result.ItemsProcessed = len(frames)
	result.Message = fmt.Sprintf("%d frames via %s sampling", len(frames), opts.FrameSamplingMode)
	return result, nil
}

var _ core.Stage = (*Stage)(nil)
