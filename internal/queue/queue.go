// Package queue is the Redis-backed job queue for clipsight. It delivers
// JobData from submitters to workers at-least-once, with strict priority
// ordering, FIFO within a priority class, delayed scheduling, per-job retry
// with backoff, lease-based stall recovery, and bounded history retention.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clipsight/clipsight/internal/config"
)

// Priority bounds. 1 is the most urgent class, 10 the least.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

// Sentinel errors returned by queue operations.
var (
	// ErrShuttingDown rejects new work once Shutdown has begun.
	ErrShuttingDown = errors.New("queue: shutting_down")
	// ErrJobNotFound means the job hash no longer exists.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrInvalidProgress means the progress value was outside [0,100].
	ErrInvalidProgress = errors.New("queue: progress must be between 0 and 100")
	// ErrJobCancelled is returned by UpdateProgress and RenewLease when the
	// job was cancelled mid-flight, so workers can abandon it.
	ErrJobCancelled = errors.New("queue: job cancelled")
)

// Backoff kinds for retry scheduling.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// EnqueueOptions tune scheduling and retention for one job.
type EnqueueOptions struct {
	// Priority class, 1 (highest) to 10 (lowest). 0 means PriorityDefault.
	Priority int
	// Delay postpones first delivery.
	Delay time.Duration
	// Attempts is the total delivery budget including the first. 0 means
	// the configured default.
	Attempts int
	// BackoffKind is "fixed" or "exponential".
	BackoffKind string
	// BackoffDelay is the base delay between retries. Exponential backoff
	// scales it by the square of the attempts already made.
	BackoffDelay time.Duration
	// Timeout is carried to the worker as the per-job processing budget.
	Timeout time.Duration
	// KeepCompleted / KeepFailed bound history retention. 0 means the
	// configured default; negative keeps everything.
	KeepCompleted int
	KeepFailed    int
}

// Queue is the Redis-backed queue adapter. All methods are safe for
// concurrent use.
type Queue struct {
	client *redis.Client
	cfg    config.QueueConfig
	logger *slog.Logger

	shuttingDown atomic.Bool
	paused       atomic.Bool

	sweepStop chan struct{}
	sweepDone sync.WaitGroup
}

// New connects to Redis, verifies the connection, and starts the stalled
// job sweeper.
func New(ctx context.Context, cfg config.QueueConfig, log *slog.Logger) (*Queue, error) {
	if log == nil {
		log = slog.Default()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("queue: redis connection failed: %w", err)
	}

	q := newWithClient(client, cfg, log)
	q.startSweeper()

	log.Info("queue ready",
		slog.String("queue", cfg.Name),
		slog.Duration("lease", cfg.LeaseDuration),
		slog.Duration("stalled_interval", cfg.StalledInterval),
	)
	return q, nil
}

// newWithClient wires a Queue over an existing client without starting the
// sweeper. Tests drive the sweep directly.
func newWithClient(client *redis.Client, cfg config.QueueConfig, log *slog.Logger) *Queue {
	return &Queue{
		client:    client,
		cfg:       cfg,
		logger:    log.With(slog.String("component", "queue"), slog.String("queue", cfg.Name)),
		sweepStop: make(chan struct{}),
	}
}

// Key layout. Everything lives under the queue name prefix so multiple
// queues can share one Redis database.
func (q *Queue) keyWaiting(priority int) string {
	return fmt.Sprintf("%s:waiting:%d", q.cfg.Name, priority)
}
func (q *Queue) keyDelayed() string   { return q.cfg.Name + ":delayed" }
func (q *Queue) keyActive() string    { return q.cfg.Name + ":active" }
func (q *Queue) keyCompleted() string { return q.cfg.Name + ":completed" }
func (q *Queue) keyFailed() string    { return q.cfg.Name + ":failed" }
func (q *Queue) keyJob(jobID string) string {
	return q.cfg.Name + ":job:" + jobID
}

// Pause stops Reserve from handing out jobs until Resume is called.
// Already-reserved jobs are unaffected.
func (q *Queue) Pause()  { q.paused.Store(true) }
func (q *Queue) Resume() { q.paused.Store(false) }

// Paused reports whether the queue is paused.
func (q *Queue) Paused() bool { return q.paused.Load() }

// Ping verifies the broker is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Shutdown stops new reservations and the sweeper, waits up to timeout for
// in-flight jobs to drain, then closes the connection. After Shutdown,
// Enqueue and Reserve fail with ErrShuttingDown.
func (q *Queue) Shutdown(ctx context.Context, timeout time.Duration) error {
	if !q.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	q.stopSweeper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		active, err := q.client.ZCard(ctx, q.keyActive()).Result()
		if err == nil && active == 0 {
			break
		}
		if time.Now().After(deadline) {
			q.logger.Warn("shutdown timeout, forcing connection closure",
				slog.Int64("active_jobs", active))
			break
		}
		select {
		case <-ctx.Done():
			_ = q.client.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return q.client.Close()
}

// Close releases the connection without draining. Intended for tests and
// submitter-side use where no jobs are in flight.
func (q *Queue) Close() error {
	q.shuttingDown.Store(true)
	q.stopSweeper()
	return q.client.Close()
}

// retryDelay computes the reschedule delay after attemptsMade failed
// attempts. Exponential backoff grows with the square of the attempt count
// so repeated failures back off quickly without a multiplier table.
func retryDelay(kind string, base time.Duration, attemptsMade int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	switch kind {
	case BackoffExponential:
		return time.Duration(attemptsMade*attemptsMade) * base
	default:
		return base
	}
}

// normalize fills option defaults from the queue configuration.
func (q *Queue) normalize(opts *EnqueueOptions) EnqueueOptions {
	var o EnqueueOptions
	if opts != nil {
		o = *opts
	}
	if o.Priority < PriorityHighest || o.Priority > PriorityLowest {
		o.Priority = PriorityDefault
	}
	if o.Attempts <= 0 {
		o.Attempts = q.cfg.Attempts
	}
	if o.BackoffKind == "" {
		o.BackoffKind = BackoffExponential
	}
	if o.BackoffDelay <= 0 {
		o.BackoffDelay = q.cfg.BackoffDelay
	}
	if o.KeepCompleted == 0 {
		o.KeepCompleted = q.cfg.KeepCompleted
	}
	if o.KeepFailed == 0 {
		o.KeepFailed = q.cfg.KeepFailed
	}
	return o
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
