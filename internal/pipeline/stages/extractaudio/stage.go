// Package extractaudio implements the audio extraction stage.
package extractaudio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/shared"
	"github.com/clipsight/clipsight/internal/pipeline/stages/metadata"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "audio_extraction"
	// StageName is the human-readable name for this stage.
	StageName = "Audio Extraction"
)

// Stage extracts the audio track as 16 kHz mono WAV.
type Stage struct {
	shared.BaseStage
	media  core.MediaToolkit
	logger *slog.Logger
}

// New creates the audio extraction stage.
func New(deps *core.Dependencies) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, []string{metadata.StageID}, true),
		media:     deps.Media,
		logger:    deps.Logger.With("stage", StageID),
	}
}

// Execute extracts audio into the job workspace. Videos without an audio
// track fail the stage; downstream stages degrade per their own policy.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	if state.Metadata == nil {
		return result, fmt.Errorf("metadata unavailable")
	}
	if !state.Metadata.HasAudio() {
		return result, core.ErrNoAudio
	}

	audioPath, err := s.media.ExtractAudio(ctx, state.Job.JobID, state.VideoPath)
	if err != nil {
		return result, fmt.Errorf("extracting audio: %w", err)
	}
	state.AudioPath = audioPath

	s.logger.InfoContext(ctx, "audio extracted", slog.String("job_id", state.Job.JobID))

	result.ItemsProcessed = 1
	return result, nil
}

var _ core.Stage = (*Stage)(nil)
