// Package classify implements the content classification stage. It works
// off whatever signals earlier stages produced: transcription, frame
// descriptions, or both.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/shared"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "content_classification"
	// StageName is the human-readable name for this stage.
	StageName = "Content Classification"
)

// maxContentLength bounds the classification payload.
const maxContentLength = 32_000

// Stage classifies the job's content and derives topics and sentiment.
type Stage struct {
	shared.BaseStage
	deps   *core.Dependencies
	logger *slog.Logger
}

// New creates the classification stage. Its dependencies vary with the
// enabled signal stages, so the builder passes them in.
func New(deps *core.Dependencies, stageDeps []string) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, stageDeps, true),
		deps:      deps,
		logger:    deps.Logger.With("stage", StageID),
	}
}

// Execute classifies the available content. Topic and sentiment failures
// degrade; only a failed primary classification fails the stage.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	content := contentBundle(state)
	if content == "" {
		return result, core.ErrNoSignals
	}

	classified, err := s.deps.Models.Classify(ctx, content, nil)
	if err != nil {
		return result, fmt.Errorf("classifying content: %w", err)
	}

	classification := &models.Classification{
		JobID:           state.Job.JobID,
		PrimaryCategory: classified.PrimaryCategory,
		Rating:          classified.Rating,
		IsNSFW:          classified.IsNSFW,
		Confidence:      classified.Confidence,
		ScoresJSON:      marshalOrEmpty(classified.Scores),
		TagsJSON:        marshalOrEmpty(classified.Tags),
	}
	if err := s.deps.Store.Classifications.Upsert(ctx, classification); err != nil {
		return result, fmt.Errorf("persisting classification: %w", err)
	}
	state.Classification = classification

	s.enrichAudio(ctx, state, content)

	s.logger.InfoContext(ctx, "content classified",
		slog.String("job_id", state.Job.JobID),
		slog.String("category", classified.PrimaryCategory),
		slog.Bool("nsfw", classified.IsNSFW),
	)

	result.ItemsProcessed = 1
	result.Message = fmt.Sprintf("category %s", classified.PrimaryCategory)
	return result, nil
}

// enrichAudio attaches topics, keywords, and sentiment to the audio
// analysis when one exists. Best-effort.
func (s *Stage) enrichAudio(ctx context.Context, state *core.State, content string) {
	if state.Audio == nil {
		return
	}

	changed := false
	if topics, err := s.deps.Models.ExtractTopics(ctx, content); err != nil {
		s.logger.DebugContext(ctx, "topic extraction failed",
			slog.String("job_id", state.Job.JobID),
			slog.String("error", err.Error()),
		)
	} else {
		state.Audio.TopicsJSON = marshalOrEmpty(topics.Topics)
		state.Audio.KeywordsJSON = marshalOrEmpty(topics.Keywords)
		changed = true
	}

	if sentiment, err := s.deps.Models.Sentiment(ctx, state.Audio.Transcription); err != nil {
		s.logger.DebugContext(ctx, "sentiment analysis failed",
			slog.String("job_id", state.Job.JobID),
			slog.String("error", err.Error()),
		)
	} else {
		state.Audio.Sentiment = sentiment.Sentiment
		changed = true
	}

	if changed {
		if err := s.deps.Store.Audio.Upsert(ctx, state.Audio); err != nil {
			s.logger.WarnContext(ctx, "audio enrichment not persisted",
				slog.String("job_id", state.Job.JobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// contentBundle concatenates the available signals, transcription first,
// capped to the payload bound.
func contentBundle(state *core.State) string {
	var parts []string
	if state.Audio != nil && state.Audio.Transcription != "" {
		parts = append(parts, state.Audio.Transcription)
	}
	parts = append(parts, state.FrameDescriptions()...)

	content := strings.Join(parts, "\n")
	if len(content) > maxContentLength {
		content = content[:maxContentLength]
	}
	return content
}

func marshalOrEmpty(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

var _ core.Stage = (*Stage)(nil)
