package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Executor runs a topologically ordered stage list for one job.
// Stages serialise; parallelism lives inside the fan-out stages.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Validate checks that every stage's dependencies are enabled and appear
// earlier in the list. Called before any side effect.
func (e *Executor) Validate(stages []Stage) error {
	seen := make(map[string]bool, len(stages))
	for _, stage := range stages {
		for _, dep := range stage.Deps() {
			if !seen[dep] {
				return fmt.Errorf("%w: stage %s requires %s", ErrDependencyUnmet, stage.ID(), dep)
			}
		}
		seen[stage.ID()] = true
	}
	return nil
}

// Run executes the stages in order. A tolerant stage failure is recorded
// in the state and execution continues; an intolerant failure or context
// cancellation aborts immediately.
func (e *Executor) Run(ctx context.Context, state *State, stages []Stage) (*Result, error) {
	result := &Result{
		StageResults: make(map[string]*StageResult),
		StageErrors:  state.StageErrors,
	}
	start := time.Now()

	if err := e.Validate(stages); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		stageResult, err := e.executeStage(ctx, i, len(stages), stage, state)
		result.StageResults[stage.ID()] = stageResult

		if err != nil {
			// Cancellation is never tolerated; partial output must not
			// surface as success.
			if ctx.Err() != nil {
				result.Duration = time.Since(start)
				return result, ctx.Err()
			}
			if !stage.Tolerant() {
				result.Duration = time.Since(start)
				return result, NewStageError(stage.ID(), stage.Name(), err)
			}
			state.StageErrors[stage.ID()] = err
			e.logger.WarnContext(ctx, "stage failed, continuing",
				slog.String("job_id", state.Job.JobID),
				slog.String("stage_id", stage.ID()),
				slog.String("error", err.Error()),
			)
		}
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Executor) executeStage(ctx context.Context, index, total int, stage Stage, state *State) (*StageResult, error) {
	stageStart := time.Now()

	e.logger.InfoContext(ctx, "executing stage",
		slog.String("job_id", state.Job.JobID),
		slog.Int("stage_num", index+1),
		slog.Int("total_stages", total),
		slog.String("stage_id", stage.ID()),
	)
	if state.Progress != nil {
		state.Progress.ReportProgress(ctx, stage.ID(), float64(index)/float64(total), "starting")
	}

	stageResult, err := stage.Execute(ctx, state)
	if stageResult == nil {
		stageResult = &StageResult{}
	}
	stageResult.Duration = time.Since(stageStart)

	if err != nil {
		return stageResult, err
	}

	e.logger.InfoContext(ctx, "stage completed",
		slog.String("job_id", state.Job.JobID),
		slog.String("stage_id", stage.ID()),
		slog.Duration("duration", stageResult.Duration),
		slog.Int("items_processed", stageResult.ItemsProcessed),
	)
	if state.Progress != nil {
		state.Progress.ReportProgress(ctx, stage.ID(), float64(index+1)/float64(total), "complete")
	}
	return stageResult, nil
}
