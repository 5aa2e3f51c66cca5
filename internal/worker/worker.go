// Package worker runs the dispatch loop: reserve jobs from the queue up
// to the configured concurrency, execute the analysis pipeline for each,
// and translate the outcome into an ack or a retry.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clipsight/clipsight/internal/config"
	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/observability"
	"github.com/clipsight/clipsight/internal/pipeline"
	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/shared"
	"github.com/clipsight/clipsight/internal/queue"
)

// ErrDrainTimeout means in-flight jobs did not finish within the
// shutdown timeout.
var ErrDrainTimeout = errors.New("worker: in-flight jobs did not drain in time")

// JobQueue is the queue surface the dispatcher consumes.
type JobQueue interface {
	Reserve(ctx context.Context, workerID string) (*queue.Job, error)
	RenewLease(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	Ack(ctx context.Context, jobID string, result any) error
	Nack(ctx context.Context, jobID string, jobErr error) error
	Ping(ctx context.Context) error
}

// Processor executes the analysis for one reserved job.
type Processor interface {
	Process(ctx context.Context, job models.JobData, attempt int, reporter core.ProgressReporter) (*models.ProcessingResult, error)
}

// HealthChecker gates job reservation on model service availability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Workspace is the temp-dir surface the dispatcher cleans up.
type Workspace interface {
	Cleanup(jobID string) error
	SweepOrphans(maxAge time.Duration, active map[string]bool) (int, error)
}

// Worker reserves and processes jobs until its context is cancelled.
type Worker struct {
	id        string
	cfg       config.WorkerConfig
	queueCfg  config.QueueConfig
	queue     JobQueue
	engine    Processor
	models    HealthChecker
	workspace Workspace
	logger    *slog.Logger

	// pollInterval paces reservation when the queue is empty.
	pollInterval time.Duration

	mu       sync.Mutex
	active   map[string]bool
	inflight sync.WaitGroup
}

// New creates a Worker. The worker ID combines the hostname with a ULID
// so leases are attributable across a fleet.
func New(cfg config.WorkerConfig, queueCfg config.QueueConfig, q JobQueue, engine Processor, health HealthChecker, workspace Workspace, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	id := fmt.Sprintf("%s-%s", hostname, ulid.Make().String())

	return &Worker{
		id:           id,
		cfg:          cfg,
		queueCfg:     queueCfg,
		queue:        q,
		engine:       engine,
		models:       health,
		workspace:    workspace,
		logger:       observability.WithComponent(log, "worker").With(slog.String("worker_id", id)),
		pollInterval: time.Second,
		active:       make(map[string]bool),
	}
}

// ID returns the worker identifier used for queue leases.
func (w *Worker) ID() string { return w.id }

// Run blocks until ctx is cancelled, then waits up to the shutdown
// timeout for in-flight jobs to drain. Returns ErrDrainTimeout when they
// do not.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.waitReady(ctx); err != nil {
		return err
	}

	stopMaintenance := w.startMaintenance()
	defer stopMaintenance()

	w.logger.Info("worker started",
		slog.Int("concurrency", w.concurrency()),
		slog.Duration("job_timeout", w.jobTimeout()),
	)

	slots := make(chan struct{}, w.concurrency())
	reserveBackoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return w.drain()
		case slots <- struct{}{}:
		}

		job, err := w.queue.Reserve(ctx, w.id)
		if err != nil {
			<-slots
			if ctx.Err() != nil || errors.Is(err, queue.ErrShuttingDown) {
				return w.drain()
			}
			w.logger.Error("reservation failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("backoff", reserveBackoff),
			)
			if !sleepCtx(ctx, reserveBackoff) {
				return w.drain()
			}
			if reserveBackoff *= 2; reserveBackoff > 30*time.Second {
				reserveBackoff = 30 * time.Second
			}
			continue
		}
		reserveBackoff = time.Second

		if job == nil {
			<-slots
			if !sleepCtx(ctx, w.pollInterval) {
				return w.drain()
			}
			continue
		}

		w.setActive(job.ID, true)
		w.inflight.Add(1)
		go func() {
			defer func() {
				w.setActive(job.ID, false)
				w.inflight.Done()
				<-slots
			}()
			w.runJob(job)
		}()
	}
}

// runJob executes one reserved job on a detached context so graceful
// shutdown can drain it. The job workspace is removed on every exit path.
func (w *Worker) runJob(job *queue.Job) {
	logger := w.logger.With(slog.String("job_id", job.ID))
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(context.Background(), w.timeoutFor(job))
	defer cancel()

	defer func() {
		if err := w.workspace.Cleanup(job.ID); err != nil {
			logger.Warn("workspace cleanup failed", slog.String("error", err.Error()))
		}
	}()

	stopRenewal := w.startLeaseRenewal(jobCtx, cancel, job.ID, logger)
	defer stopRenewal()

	reporter := w.progressReporter(cancel, job.ID, logger)

	result, err := w.engine.Process(jobCtx, job.Data, job.AttemptsMade, reporter)

	// Terminal queue calls must not be lost to the job deadline.
	finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finishCancel()

	switch {
	case err == nil:
		payload := json.RawMessage(result.PayloadJSON)
		if ackErr := w.queue.Ack(finishCtx, job.ID, payload); ackErr != nil {
			logger.Error("ack failed", slog.String("error", ackErr.Error()))
			return
		}
		logger.Info("job completed",
			slog.Duration("duration", time.Since(start)),
			slog.Int("frames", result.TotalFrames),
			slog.Float64("total_cost", result.TotalCost),
		)

	case errors.Is(err, pipeline.ErrCancelled) && jobCtx.Err() != context.DeadlineExceeded:
		// Cancelled by the submitter or by shutdown; the queue record is
		// already terminal or will be recovered by the stall sweep.
		logger.Info("job cancelled", slog.Duration("duration", time.Since(start)))

	default:
		reason := err
		if jobCtx.Err() == context.DeadlineExceeded {
			reason = fmt.Errorf("job timeout after %s", w.timeoutFor(job))
		}
		if nackErr := w.queue.Nack(finishCtx, job.ID, reason); nackErr != nil {
			logger.Error("nack failed", slog.String("error", nackErr.Error()))
		}
		logger.Error("job failed",
			slog.Duration("duration", time.Since(start)),
			slog.Int("attempt", job.AttemptsMade),
			slog.String("error", err.Error()),
		)
	}
}

// startLeaseRenewal renews the job lease at half the lease duration. A
// renewal that reports the job cancelled or evicted cancels the job
// context so the pipeline observes it.
func (w *Worker) startLeaseRenewal(ctx context.Context, cancel context.CancelFunc, jobID string, logger *slog.Logger) func() {
	interval := w.queueCfg.LeaseDuration / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := w.queue.RenewLease(ctx, jobID)
				switch {
				case err == nil:
				case errors.Is(err, queue.ErrJobCancelled), errors.Is(err, queue.ErrJobNotFound):
					logger.Info("lease renewal observed cancellation")
					cancel()
					return
				default:
					logger.Warn("lease renewal failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return stop
}

// queueReporter relays overall pipeline progress to the queue while
// keeping per-item detail local. Only ReportProgress carries the overall
// fraction; item updates are within-stage and would skew the percentage.
type queueReporter struct {
	*shared.ProgressManager

	queue  JobQueue
	jobID  string
	cancel context.CancelFunc
	logger *slog.Logger
}

func (r *queueReporter) ReportProgress(ctx context.Context, stageID string, progress float64, message string) {
	r.ProgressManager.ReportProgress(ctx, stageID, progress, message)

	err := r.queue.UpdateProgress(ctx, r.jobID, int(progress*100))
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrJobCancelled):
		r.logger.Info("progress update observed cancellation")
		r.cancel()
	default:
		r.logger.Debug("progress update failed", slog.String("error", err.Error()))
	}
}

func (w *Worker) progressReporter(cancel context.CancelFunc, jobID string, logger *slog.Logger) core.ProgressReporter {
	return &queueReporter{
		ProgressManager: shared.NewProgressManager(nil),
		queue:           w.queue,
		jobID:           jobID,
		cancel:          cancel,
		logger:          logger,
	}
}

// waitReady blocks until both the queue and the model service respond,
// backing off between probes. Reservation must not start while a
// dependency is down.
func (w *Worker) waitReady(ctx context.Context) error {
	backoff := time.Second
	for {
		queueErr := w.queue.Ping(ctx)
		var modelErr error
		if w.models != nil {
			modelErr = w.models.Health(ctx)
		}
		if queueErr == nil && modelErr == nil {
			return nil
		}

		w.logger.Warn("dependencies not ready",
			slog.Any("queue_error", errString(queueErr)),
			slog.Any("model_service_error", errString(modelErr)),
			slog.Duration("retry_in", backoff),
		)
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// drain waits for in-flight jobs up to the shutdown timeout.
func (w *Worker) drain() error {
	timeout := w.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker drained")
		return nil
	case <-time.After(timeout):
		w.logger.Error("worker drain timed out", slog.Duration("timeout", timeout))
		return ErrDrainTimeout
	}
}

func (w *Worker) setActive(jobID string, on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if on {
		w.active[jobID] = true
	} else {
		delete(w.active, jobID)
	}
}

// activeJobs snapshots the in-flight job IDs.
func (w *Worker) activeJobs() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]bool, len(w.active))
	for id := range w.active {
		out[id] = true
	}
	return out
}

func (w *Worker) concurrency() int {
	if w.cfg.Concurrency <= 0 {
		return 3
	}
	return w.cfg.Concurrency
}

func (w *Worker) jobTimeout() time.Duration {
	if w.cfg.JobTimeout <= 0 {
		return time.Hour
	}
	return w.cfg.JobTimeout
}

// timeoutFor prefers the job's own timeout over the worker default.
func (w *Worker) timeoutFor(job *queue.Job) time.Duration {
	if job.Timeout > 0 {
		return job.Timeout
	}
	return w.jobTimeout()
}

// sleepCtx sleeps for d, returning false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
