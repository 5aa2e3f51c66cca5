// Package analyzeframes implements the frame analysis stage: per-frame AI
// descriptions, object and text detection, and optional embeddings. This
// is a fan-out stage; frames are analysed in parallel bounded by the
// shared concurrency budget.
package analyzeframes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/modelservice"
	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/shared"
	"github.com/clipsight/clipsight/internal/pipeline/stages/extractframes"
	"github.com/clipsight/clipsight/internal/vectorstore"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "frame_analysis"
	// StageName is the human-readable name for this stage.
	StageName = "Frame Analysis"
)

const defaultFrameConcurrency = 4

// Stage analyses extracted frames through the model service.
type Stage struct {
	shared.BaseStage
	deps   *core.Dependencies
	logger *slog.Logger
}

// New creates the frame analysis stage.
func New(deps *core.Dependencies) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, []string{extractframes.StageID}, true),
		deps:      deps,
		logger:    deps.Logger.With("stage", StageID),
	}
}

// Execute fans out across extracted frames. Individual frame failures are
// skipped; the stage fails only when no frame could be analysed. Results
// are gathered by frame number so the final order is deterministic
// regardless of completion order.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	if len(state.Extracted) == 0 {
		return result, core.ErrNoFrames
	}

	opts := state.Job.Options
	var quality models.VideoQuality
	if state.Metadata != nil {
		quality = state.Metadata.Quality
	}
	complexity := core.VisionComplexity(opts, quality)

	selection, err := s.deps.Models.SelectModel(ctx, modelservice.SelectionRequest{
		TaskType:          "vision",
		Complexity:        complexity,
		QualityPreference: opts.QualityPreference,
	})
	if err != nil {
		return result, fmt.Errorf("selecting vision model: %w", err)
	}

	wantEmbeddings := s.deps.Vectors != nil || opts.DetectScenes
	prompt := buildPrompt(opts)

	limit := s.deps.FrameConcurrency
	if limit <= 0 {
		limit = defaultFrameConcurrency
	}
	sem := semaphore.NewWeighted(limit)

	analysed := make([]*models.Frame, len(state.Extracted))
	frameErrs := make([]error, len(state.Extracted))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, extracted := range state.Extracted {
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			frame, err := s.analyseOne(groupCtx, state, extracted.Index, extracted.Path, extracted.Timestamp, selection, prompt, complexity, wantEmbeddings)
			if err != nil {
				frameErrs[i] = err
				s.logger.WarnContext(groupCtx, "frame analysis failed",
					slog.String("job_id", state.Job.JobID),
					slog.Int("frame_number", extracted.Index),
					slog.String("error", err.Error()),
				)
				return nil
			}
			analysed[i] = frame

			if state.Progress != nil {
				state.Progress.ReportItemProgress(groupCtx, StageID, i+1, len(state.Extracted), extracted.Path)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}

	frames := make([]*models.Frame, 0, len(analysed))
	for _, frame := range analysed {
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	if len(frames) == 0 {
		return result, fmt.Errorf("all %d frames failed analysis: %w", len(state.Extracted), firstError(frameErrs))
	}

	for _, frame := range frames {
		if err := s.deps.Store.Frames.UpsertWithDetections(ctx, frame); err != nil {
			return result, fmt.Errorf("persisting frame %d: %w", frame.FrameNumber, err)
		}
	}
	state.Frames = frames

	if s.deps.Vectors != nil {
		if err := s.indexEmbeddings(ctx, state.Job.JobID, frames); err != nil {
			// Vector indexing is best-effort; the relational record is
			// already complete.
			s.logger.WarnContext(ctx, "embedding indexing failed",
				slog.String("job_id", state.Job.JobID),
				slog.String("error", err.Error()),
			)
		}
	}

	result.ItemsProcessed = len(frames)
	result.Message = fmt.Sprintf("%d/%d frames analysed with %s", len(frames), len(state.Extracted), selection.ModelID)
	return result, nil
}

func (s *Stage) analyseOne(ctx context.Context, state *core.State, frameNumber int, path string, timestamp float64, selection *modelservice.ModelSelection, prompt string, complexity float64, wantEmbedding bool) (*models.Frame, error) {
	encoded, err := s.deps.Media.EncodeFileBase64(path)
	if err != nil {
		return nil, err
	}

	callStart := time.Now()
	analysis, err := s.deps.Models.AnalyzeFrame(ctx, modelservice.FrameAnalysisRequest{
		ImageBase64: encoded,
		Prompt:      prompt,
		ModelID:     selection.ModelID,
	})
	s.recordUsage(ctx, state.Job.JobID, "vision", selection, complexity, time.Since(callStart), err == nil)
	if err != nil {
		return nil, err
	}

	frame := &models.Frame{
		JobID:       state.Job.JobID,
		FrameNumber: frameNumber,
		Timestamp:   timestamp,
		Path:        path,
		Description: analysis.Description,
		Confidence:  analysis.Confidence,
		ModelID:     selection.ModelID,
		Objects:     convertObjects(analysis.Objects),
		Texts:       convertTexts(analysis.Text),
	}

	if wantEmbedding && analysis.Description != "" {
		embedding, err := s.deps.Models.GenerateEmbedding(ctx, analysis.Description)
		if err != nil {
			s.logger.DebugContext(ctx, "embedding generation failed",
				slog.String("job_id", state.Job.JobID),
				slog.Int("frame_number", frameNumber),
				slog.String("error", err.Error()),
			)
		} else {
			frame.Embedding = embedding
		}
	}
	return frame, nil
}

func (s *Stage) indexEmbeddings(ctx context.Context, jobID string, frames []*models.Frame) error {
	var vectors []vectorstore.FrameVector
	for _, frame := range frames {
		if len(frame.Embedding) == 0 {
			continue
		}
		vectors = append(vectors, vectorstore.FrameVector{
			FrameID:     frame.ID.String(),
			JobID:       jobID,
			FrameNumber: frame.FrameNumber,
			Timestamp:   frame.Timestamp,
			Description: frame.Description,
			Embedding:   frame.Embedding,
		})
	}
	return s.deps.Vectors.UpsertFrameVectors(ctx, vectors)
}

func (s *Stage) recordUsage(ctx context.Context, jobID, taskType string, selection *modelservice.ModelSelection, complexity float64, duration time.Duration, success bool) {
	record := &models.ModelUsageRecord{
		JobID:         jobID,
		TaskType:      taskType,
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
		TaskType:   taskType,
		ModelID:    selection.ModelID,
		Complexity: complexity,
		Cost:       selection.EstimatedCost,
		DurationMS: duration.Milliseconds(),
		Success:    success,
	})
}

// buildPrompt composes the analysis prompt from the requested signals.
func buildPrompt(opts models.Options) string {
	parts := []string{"Describe this video frame."}
	if opts.DetectObjects {
		parts = append(parts, "List all visible objects with bounding boxes and confidence.")
	}
	if opts.ExtractText {
		parts = append(parts, "Extract any visible text with its location.")
	}
	if opts.CustomAnalysis != "" {
		parts = append(parts, opts.CustomAnalysis)
	}
	return strings.Join(parts, " ")
}

func convertObjects(items []modelservice.DetectedItem) []models.DetectedObject {
	out := make([]models.DetectedObject, 0, len(items))
	for _, item := range items {
		out = append(out, models.DetectedObject{
			Label:      item.Label,
			Confidence: item.Confidence,
			BoxX:       item.X,
			BoxY:       item.Y,
			BoxWidth:   item.Width,
			BoxHeight:  item.Height,
		})
	}
	return out
}

func convertTexts(items []modelservice.DetectedItem) []models.TextRegion {
	out := make([]models.TextRegion, 0, len(items))
	for _, item := range items {
		out = append(out, models.TextRegion{
			Text:       item.Label,
			Confidence: item.Confidence,
			BoxX:       item.X,
			BoxY:       item.Y,
			BoxWidth:   item.Width,
			BoxHeight:  item.Height,
		})
	}
	return out
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

var _ core.Stage = (*Stage)(nil)
