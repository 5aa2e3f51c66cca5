// Package transcribe implements the audio transcription stage. Long audio
// is split into overlapping chunks transcribed in parallel and merged back
// in chunk order.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/clipsight/clipsight/internal/media"
	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/modelservice"
	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/shared"
	"github.com/clipsight/clipsight/internal/pipeline/stages/extractaudio"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "audio_transcription"
	// StageName is the human-readable name for this stage.
	StageName = "Audio Transcription"
)

const defaultChunkConcurrency = 4

// Stage transcribes the extracted audio with speaker diarization.
type Stage struct {
	shared.BaseStage
	deps   *core.Dependencies
	logger *slog.Logger
}

// New creates the audio transcription stage.
func New(deps *core.Dependencies) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, []string{extractaudio.StageID}, true),
		deps:      deps,
		logger:    deps.Logger.With("stage", StageID),
	}
}

// Execute chunks the audio, transcribes chunks in parallel, and merges
// them in index order.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	if state.AudioPath == "" {
		return result, core.ErrNoAudio
	}

	opts := state.Job.Options
	var duration float64
	if state.Metadata != nil {
		duration = state.Metadata.Duration
	}
	complexity := core.TranscriptionComplexity(opts, duration)

	selection, err := s.deps.Models.SelectModel(ctx, modelservice.SelectionRequest{
		TaskType:          "transcription",
		Complexity:        complexity,
		QualityPreference: opts.QualityPreference,
	})
	if err != nil {
		return result, fmt.Errorf("selecting transcription model: %w", err)
	}

	chunks, err := s.deps.Media.ChunkAudio(ctx, state.Job.JobID, state.AudioPath, duration)
	if err != nil {
		return result, fmt.Errorf("chunking audio: %w", err)
	}

	language := ""
	if len(opts.TargetLanguages) > 0 {
		language = opts.TargetLanguages[0]
	}

	limit := s.deps.FrameConcurrency
	if limit <= 0 {
		limit = defaultChunkConcurrency
	}
	sem := semaphore.NewWeighted(limit)

	transcripts := make([]*modelservice.Transcription, len(chunks))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			encoded, err := s.deps.Media.EncodeFileBase64(chunk.Path)
			if err != nil {
				return fmt.Errorf("encoding chunk %d: %w", chunk.Index, err)
			}

			callStart := time.Now()
			transcript, err := s.deps.Models.Transcribe(groupCtx, modelservice.TranscribeRequest{
				AudioBase64:       encoded,
				Language:          language,
				ModelID:           selection.ModelID,
				EnableDiarization: true,
			})
			s.recordUsage(groupCtx, state.Job.JobID, selection, complexity, time.Since(callStart), err == nil)
			if err != nil {
				return fmt.Errorf("transcribing chunk %d: %w", chunk.Index, err)
			}
			transcripts[i] = transcript

			if state.Progress != nil {
				state.Progress.ReportItemProgress(groupCtx, StageID, i+1, len(chunks), chunk.Path)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}

	analysis := mergeTranscripts(state.Job.JobID, state.AudioPath, selection.ModelID, chunks, transcripts)
	if err := s.deps.Store.Audio.Upsert(ctx, analysis); err != nil {
		return result, fmt.Errorf("persisting transcription: %w", err)
	}
	state.Audio = analysis

	s.logger.InfoContext(ctx, "audio transcribed",
		slog.String("job_id", state.Job.JobID),
		slog.Int("chunks", len(chunks)),
		slog.String("language", analysis.Language),
	)

	result.ItemsProcessed = len(chunks)
	result.Message = fmt.Sprintf("%d chunks transcribed with %s", len(chunks), selection.ModelID)
	return result, nil
}

func (s *Stage) recordUsage(ctx context.Context, jobID string, selection *modelservice.ModelSelection, complexity float64, duration time.Duration, success bool) {
	record := &models.ModelUsageRecord{
		JobID:         jobID,
		TaskType:      "transcription",
		ModelID:       selection.ModelID,
		ModelProvider: selection.Provider,
		Complexity:    complexity,
		Cost:          selection.EstimatedCost,
		Duration:      duration,
		Success:       success,
	}
	if err := s.deps.Store.Usage.Append(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "usage record not persisted",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	s.deps.Models.TrackUsage(ctx, modelservice.UsageEvent{
		JobID:      jobID,
		TaskType:   "transcription",
		ModelID:    selection.ModelID,
		Complexity: complexity,
		Cost:       selection.EstimatedCost,
		DurationMS: duration.Milliseconds(),
		Success:    success,
	})
}

// mergeTranscripts joins chunk transcriptions in index order. Speaker
// segment timestamps shift by the chunk's offset into the full track; the
// language comes from the first chunk and the confidence is the mean.
func mergeTranscripts(jobID, audioPath, modelID string, chunks []media.AudioChunk, transcripts []*modelservice.Transcription) *models.AudioAnalysis {
	analysis := &models.AudioAnalysis{
		JobID:     jobID,
		AudioPath: audioPath,
		ModelID:   modelID,
	}

	text := ""
	confidenceSum := 0.0
	counted := 0
	for i, transcript := range transcripts {
		if transcript == nil {
			continue
		}
		if text != "" && transcript.Transcription != "" {
			text += " "
		}
		text += transcript.Transcription

		if analysis.Language == "" {
			analysis.Language = transcript.Language
		}
		confidenceSum += transcript.Confidence
		counted++

		offset := chunks[i].Start
		for _, speaker := range transcript.Speakers {
			analysis.Segments = append(analysis.Segments, models.SpeakerSegment{
				SpeakerID: speaker.ID,
				Start:     speaker.Start + offset,
				End:       speaker.End + offset,
				Text:      speaker.Text,
			})
		}
	}

	analysis.Transcription = text
	if counted > 0 {
		analysis.Confidence = confidenceSum / float64(counted)
	}
	return analysis
}

var _ core.Stage = (*Stage)(nil)
