// Package summarize implements the summary generation stage. It runs last
// and synthesises a video summary from everything the job produced.
package summarize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/shared"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "summary_generation"
	// StageName is the human-readable name for this stage.
	StageName = "Summary Generation"
)

// transcriptionExcerpt bounds how much raw transcription enters the
// synthesis context.
const transcriptionExcerpt = 8_000

// Stage generates the final summary.
type Stage struct {
	shared.BaseStage
	deps   *core.Dependencies
	logger *slog.Logger
}

// New creates the summary generation stage. It depends on every other
// enabled stage, so the builder passes the dependency list in.
func New(deps *core.Dependencies, stageDeps []string) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, stageDeps, true),
		deps:      deps,
		logger:    deps.Logger.With("stage", StageID),
	}
}

// Execute synthesises the summary from the curated context bundle and
// stores it as long-term memory for the job.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	sources := contextBundle(state)
	if len(sources) == 0 {
		return result, core.ErrNoSignals
	}

	summary, err := s.deps.Models.Synthesize(ctx, sources, "detailed", "video summary")
	if err != nil {
		return result, fmt.Errorf("synthesising summary: %w", err)
	}
	state.Summary = summary

	s.deps.Models.StoreMemory(ctx, state.Job.JobID, summary, map[string]any{
		"type":     "video_summary",
		"filename": state.Job.Filename,
	})

	s.logger.InfoContext(ctx, "summary generated",
		slog.String("job_id", state.Job.JobID),
		slog.Int("source_count", len(sources)),
	)

	result.ItemsProcessed = 1
	return result, nil
}

// contextBundle curates the synthesis input: metadata line, scene
// descriptions, frame descriptions, transcription excerpt, and the
// classification verdict, in that order.
func contextBundle(state *core.State) []string {
	var sources []string

	if state.Metadata != nil {
		sources = append(sources, fmt.Sprintf(
			"Video: %.1f seconds, %dx%d, quality %s",
			state.Metadata.Duration, state.Metadata.Width, state.Metadata.Height, state.Metadata.Quality,
		))
	}
	for _, scene := range state.Scenes {
		if scene.Description != "" {
			sources = append(sources, "Scene: "+scene.Description)
		}
	}
	if len(state.Scenes) == 0 {
		for _, description := range state.FrameDescriptions() {
			sources = append(sources, "Frame: "+description)
		}
	}
	if state.Audio != nil && state.Audio.Transcription != "" {
		excerpt := state.Audio.Transcription
		if len(excerpt) > transcriptionExcerpt {
			excerpt = excerpt[:transcriptionExcerpt]
		}
		sources = append(sources, "Transcript: "+excerpt)
	}
	if state.Classification != nil && state.Classification.PrimaryCategory != "" {
		sources = append(sources, "Category: "+state.Classification.PrimaryCategory)
	}

	return sources
}

var _ core.Stage = (*Stage)(nil)
