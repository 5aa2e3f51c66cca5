// Package pipeline executes the analysis for one reserved job: source
// acquisition, the stage DAG, and result assembly.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clipsight/clipsight/internal/media"
	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/observability"
	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/stages/analyzeframes"
	"github.com/clipsight/clipsight/internal/pipeline/stages/classify"
	"github.com/clipsight/clipsight/internal/pipeline/stages/detectscenes"
	"github.com/clipsight/clipsight/internal/pipeline/stages/extractaudio"
	"github.com/clipsight/clipsight/internal/pipeline/stages/extractframes"
	"github.com/clipsight/clipsight/internal/pipeline/stages/metadata"
	"github.com/clipsight/clipsight/internal/pipeline/stages/summarize"
	"github.com/clipsight/clipsight/internal/pipeline/stages/transcribe"
)

// ErrCancelled marks a job aborted by deadline or shutdown. Partial
// outputs are never surfaced as a successful result.
var ErrCancelled = errors.New("cancelled")

// Engine runs analysis jobs end to end.
type Engine struct {
	deps     *core.Dependencies
	executor *core.Executor
	logger   *slog.Logger
}

// New creates an Engine over the given dependencies.
func New(deps *core.Dependencies) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := observability.WithComponent(deps.Logger, "pipeline")
	deps.Logger = logger
	return &Engine{
		deps:     deps,
		executor: core.NewExecutor(logger),
		logger:   logger,
	}
}

// Process executes one job: acquire the source, run the stage DAG, and
// assemble the processing result. The returned result is nil on failure;
// the job row reflects the terminal outcome either way.
func (e *Engine) Process(ctx context.Context, job models.JobData, attempt int, reporter core.ProgressReporter) (*models.ProcessingResult, error) {
	job.Options.ApplyDefaults()

	row := &models.AnalysisJob{
		JobID:    job.JobID,
		UserID:   job.UserID,
		Source:   job.Source,
		VideoURL: job.VideoURL,
		Filename: job.Filename,
	}
	if optionsJSON, err := json.Marshal(job.Options); err == nil {
		row.OptionsJSON = string(optionsJSON)
	}
	if !job.EnqueuedAt.IsZero() {
		enqueued := job.EnqueuedAt
		row.EnqueuedAt = &enqueued
	}
	row.MarkStarted(attempt)
	if err := e.deps.Store.Jobs.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("recording job start: %w", err)
	}

	result, err := e.process(ctx, job, attempt, reporter)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrCancelled, err)
			row.MarkCancelled()
		} else {
			row.MarkFailed(err)
		}
		if upsertErr := e.deps.Store.Jobs.Upsert(context.WithoutCancel(ctx), row); upsertErr != nil {
			e.logger.Error("terminal job state not persisted",
				slog.String("job_id", job.JobID),
				slog.String("error", upsertErr.Error()),
			)
		}
		return nil, err
	}

	row.MarkCompleted()
	if err := e.deps.Store.Jobs.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("recording job completion: %w", err)
	}
	return result, nil
}

func (e *Engine) process(ctx context.Context, job models.JobData, attempt int, reporter core.ProgressReporter) (*models.ProcessingResult, error) {
	stages := BuildStages(e.deps, job.Options)
	if err := e.executor.Validate(stages); err != nil {
		return nil, err
	}

	state := core.NewState(job, attempt)
	state.Progress = reporter

	videoPath, err := e.deps.Media.Acquire(ctx, job.JobID, media.Source{
		Kind:       job.Source,
		URL:        job.VideoURL,
		Filename:   job.Filename,
		DriveToken: job.DriveToken,
	})
	if err != nil {
		return nil, fmt.Errorf("acquiring source: %w", err)
	}
	state.VideoPath = videoPath

	runResult, err := e.executor.Run(ctx, state, stages)
	if err != nil {
		return nil, err
	}

	return e.assemble(ctx, state, runResult)
}

// assemble builds and persists the ProcessingResult for a successful run.
func (e *Engine) assemble(ctx context.Context, state *core.State, runResult *core.Result) (*models.ProcessingResult, error) {
	totalCost, err := e.deps.Store.Usage.SumCostByJobID(ctx, state.Job.JobID)
	if err != nil {
		return nil, fmt.Errorf("summing model costs: %w", err)
	}

	result := &models.ProcessingResult{
		JobID:             state.Job.JobID,
		Summary:           state.Summary,
		TotalFrames:       len(state.Frames),
		TotalScenes:       len(state.Scenes),
		TotalObjects:      state.TotalObjects(),
		HasMetadata:       state.Metadata != nil,
		HasTranscription:  state.Audio != nil,
		HasClassification: state.Classification != nil,
		TotalCost:         totalCost,
		ProcessingTime:    state.Duration(),
	}

	payload := resultPayload{
		JobID:          state.Job.JobID,
		Summary:        state.Summary,
		TotalFrames:    result.TotalFrames,
		TotalScenes:    result.TotalScenes,
		TotalObjects:   result.TotalObjects,
		TotalCost:      totalCost,
		ProcessingTime: state.Duration().Milliseconds(),
		StageErrors:    make(map[string]string, len(state.StageErrors)),
	}
	if state.Audio != nil {
		payload.Language = state.Audio.Language
	}
	if state.Classification != nil {
		payload.PrimaryCategory = state.Classification.PrimaryCategory
	}
	for stageID, stageErr := range state.StageErrors {
		payload.StageErrors[stageID] = stageErr.Error()
	}
	if data, err := json.Marshal(payload); err == nil {
		result.PayloadJSON = string(data)
	}

	if err := e.deps.Store.Results.Upsert(ctx, result); err != nil {
		return nil, fmt.Errorf("persisting result: %w", err)
	}

	e.logger.InfoContext(ctx, "job analysis complete",
		slog.String("job_id", state.Job.JobID),
		slog.Int("frames", result.TotalFrames),
		slog.Int("scenes", result.TotalScenes),
		slog.Float64("total_cost", totalCost),
		slog.Duration("processing_time", runResult.Duration),
		slog.Int("tolerated_errors", len(state.StageErrors)),
	)
	return result, nil
}

// resultPayload is the assembled document returned by the status API.
type resultPayload struct {
	JobID           string            `json:"jobId"`
	Summary         string            `json:"summary,omitempty"`
	TotalFrames     int               `json:"totalFrames"`
	TotalScenes     int               `json:"totalScenes"`
	TotalObjects    int               `json:"totalObjects"`
	Language        string            `json:"language,omitempty"`
	PrimaryCategory string            `json:"primaryCategory,omitempty"`
	TotalCost       float64           `json:"totalCost"`
	ProcessingTime  int64             `json:"processingTimeMs"`
	StageErrors     map[string]string `json:"stageErrors,omitempty"`
}

// BuildStages constructs the enabled stage list in dependency order.
// Metadata extraction is always present; everything else follows the
// job's options. Enabled-but-unsatisfiable dependencies are caught by the
// executor before any side effect.
func BuildStages(deps *core.Dependencies, opts models.Options) []core.Stage {
	stages := []core.Stage{metadata.New(deps)}

	if opts.ExtractFrames {
		stages = append(stages, extractframes.New(deps))
	}
	if opts.ExtractAudio {
		stages = append(stages, extractaudio.New(deps))
	}
	if opts.WantsFrameAnalysis() {
		stages = append(stages, analyzeframes.New(deps))
	}
	if opts.TranscribeAudio {
		stages = append(stages, transcribe.New(deps))
	}
	if opts.DetectScenes {
		stages = append(stages, detectscenes.New(deps))
	}
	if opts.ClassifyContent {
		var stageDeps []string
		if opts.WantsFrameAnalysis() {
			stageDeps = append(stageDeps, analyzeframes.StageID)
		}
		if opts.TranscribeAudio {
			stageDeps = append(stageDeps, transcribe.StageID)
		}
		stages = append(stages, classify.New(deps, stageDeps))
	}
	if opts.GenerateSummary {
		stageDeps := make([]string, 0, len(stages))
		for _, stage := range stages {
			stageDeps = append(stageDeps, stage.ID())
		}
		stages = append(stages, summarize.New(deps, stageDeps))
	}
	return stages
}
