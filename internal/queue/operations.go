package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clipsight/clipsight/internal/models"
)

// Enqueue registers the job and places it in its priority class, or in the
// delayed set when a delay was requested. The job id comes from the payload.
func (q *Queue) Enqueue(ctx context.Context, data models.JobData, opts *EnqueueOptions) (string, error) {
	if q.shuttingDown.Load() {
		return "", ErrShuttingDown
	}
	if data.JobID == "" {
		return "", fmt.Errorf("queue: job id is required")
	}
	o := q.normalize(opts)

	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("queue: encode job payload: %w", err)
	}

	now := time.Now()
	status := models.JobStatusWaiting
	if o.Delay > 0 {
		status = models.JobStatusDelayed
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.keyJob(data.JobID), map[string]any{
		fieldData:         string(payload),
		fieldStatus:       string(status),
		fieldPriority:     o.Priority,
		fieldAttempts:     o.Attempts,
		fieldAttemptsMade: 0,
		fieldProgress:     0,
		fieldBackoffKind:  o.BackoffKind,
		fieldBackoffDelay: o.BackoffDelay.Milliseconds(),
		fieldTimeout:      o.Timeout.Milliseconds(),
		fieldStalledCount: 0,
		fieldKeepComplete: o.KeepCompleted,
		fieldKeepFailed:   o.KeepFailed,
		fieldCreatedAt:    now.UnixMilli(),
	})
	if o.Delay > 0 {
		pipe.ZAdd(ctx, q.keyDelayed(), redis.Z{
			Score:  float64(now.Add(o.Delay).UnixMilli()),
			Member: data.JobID,
		})
	} else {
		pipe.RPush(ctx, q.keyWaiting(o.Priority), data.JobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", data.JobID, err)
	}

	q.logger.Info("job enqueued",
		slog.String("job_id", data.JobID),
		slog.Int("priority", o.Priority),
		slog.Duration("delay", o.Delay),
	)
	return data.JobID, nil
}

// Reserve hands out the next eligible job to workerID under a lease of the
// configured duration. Due delayed jobs are promoted first. Priorities are
// scanned from most to least urgent; within a class delivery is FIFO.
// Returns (nil, nil) when no job is eligible.
func (q *Queue) Reserve(ctx context.Context, workerID string) (*Job, error) {
	if q.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}
	if q.paused.Load() {
		return nil, nil
	}
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	for prio := PriorityHighest; prio <= PriorityLowest; prio++ {
		jobID, err := q.client.LPop(ctx, q.keyWaiting(prio)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queue: reserve: %w", err)
		}

		job, err := q.activate(ctx, jobID, workerID)
		if err != nil {
			return nil, err
		}
		if job == nil {
			// Cancelled or evicted while waiting; try the next one.
			prio--
			continue
		}
		return job, nil
	}
	return nil, nil
}

// activate transitions a popped job to active and builds the worker view.
// Returns (nil, nil) when the job should be skipped.
func (q *Queue) activate(ctx context.Context, jobID, workerID string) (*Job, error) {
	key := q.keyJob(jobID)
	fields, err := q.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: load job %s: %w", jobID, err)
	}
	if len(fields) == 0 || models.JobStatus(fields[fieldStatus]) == models.JobStatusCancelled {
		return nil, nil
	}

	var data models.JobData
	if err := json.Unmarshal([]byte(fields[fieldData]), &data); err != nil {
		return nil, fmt.Errorf("queue: decode job %s payload: %w", jobID, err)
	}

	now := time.Now()
	expiry := now.Add(q.cfg.LeaseDuration)
	attemptsMade := atoiDefault(fields[fieldAttemptsMade], 0) + 1

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldStatus:       string(models.JobStatusActive),
		fieldAttemptsMade: attemptsMade,
		fieldProcessedOn:  now.UnixMilli(),
		fieldWorkerID:     workerID,
	})
	pipe.ZAdd(ctx, q.keyActive(), redis.Z{
		Score:  float64(expiry.UnixMilli()),
		Member: jobID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: activate job %s: %w", jobID, err)
	}

	return &Job{
		ID:           jobID,
		Data:         data,
		Priority:     atoiDefault(fields[fieldPriority], PriorityDefault),
		Attempts:     atoiDefault(fields[fieldAttempts], q.cfg.Attempts),
		AttemptsMade: attemptsMade,
		Timeout:      time.Duration(atoiDefault(fields[fieldTimeout], 0)) * time.Millisecond,
		LeaseExpiry:  expiry,
	}, nil
}

// promoteDelayed moves due jobs from the delayed set into their priority
// class.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := time.Now().UnixMilli()
	due, err := q.client.ZRangeByScore(ctx, q.keyDelayed(), &redis.ZRangeBy{
		Min: "-inf",
		Max: itoa(now),
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: scan delayed: %w", err)
	}

	for _, jobID := range due {
		// Only the remover promotes; other workers racing here lose the
		// ZRem and skip the job.
		removed, err := q.client.ZRem(ctx, q.keyDelayed(), jobID).Result()
		if err != nil {
			return fmt.Errorf("queue: promote %s: %w", jobID, err)
		}
		if removed == 0 {
			continue
		}
		prio, err := q.client.HGet(ctx, q.keyJob(jobID), fieldPriority).Int()
		if err != nil {
			prio = PriorityDefault
		}
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.keyJob(jobID), fieldStatus, string(models.JobStatusWaiting))
		pipe.RPush(ctx, q.keyWaiting(prio), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("queue: promote %s: %w", jobID, err)
		}
	}
	return nil
}

// RenewLease extends the reservation of an active job. Workers call this
// at half the lease duration. Returns ErrJobCancelled when the job was
// cancelled so the worker can abandon processing.
func (q *Queue) RenewLease(ctx context.Context, jobID string) error {
	status, err := q.status(ctx, jobID)
	if err != nil {
		return fmt.Errorf("queue: renew lease %s: %w", jobID, err)
	}
	switch status {
	case "":
		return ErrJobNotFound
	case models.JobStatusCancelled:
		return ErrJobCancelled
	}

	expiry := time.Now().Add(q.cfg.LeaseDuration)
	err = q.client.ZAddXX(ctx, q.keyActive(), redis.Z{
		Score:  float64(expiry.UnixMilli()),
		Member: jobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: renew lease %s: %w", jobID, err)
	}
	return nil
}

// UpdateProgress records completion progress in [0,100]. Returns
// ErrJobCancelled when the job was cancelled mid-flight.
func (q *Queue) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 || progress > 100 {
		return ErrInvalidProgress
	}
	status, err := q.status(ctx, jobID)
	if err != nil {
		return fmt.Errorf("queue: update progress %s: %w", jobID, err)
	}
	switch status {
	case "":
		return ErrJobNotFound
	case models.JobStatusCancelled:
		return ErrJobCancelled
	}
	if err := q.client.HSet(ctx, q.keyJob(jobID), fieldProgress, progress).Err(); err != nil {
		return fmt.Errorf("queue: update progress %s: %w", jobID, err)
	}
	return nil
}

// Ack marks the job completed, stores its result, and applies completed
// history retention.
func (q *Queue) Ack(ctx context.Context, jobID string, result any) error {
	key := q.keyJob(jobID)
	keep, err := q.client.HGet(ctx, key, fieldKeepComplete).Int()
	if err != nil {
		if err == redis.Nil {
			return ErrJobNotFound
		}
		return fmt.Errorf("queue: ack %s: %w", jobID, err)
	}

	encoded := ""
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("queue: encode result for %s: %w", jobID, err)
		}
		encoded = string(raw)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldStatus:     string(models.JobStatusCompleted),
		fieldProgress:   100,
		fieldResult:     encoded,
		fieldFinishedOn: time.Now().UnixMilli(),
	})
	pipe.ZRem(ctx, q.keyActive(), jobID)
	pipe.LPush(ctx, q.keyCompleted(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: ack %s: %w", jobID, err)
	}

	if err := q.trimHistory(ctx, q.keyCompleted(), keep); err != nil {
		return err
	}
	q.logger.Info("job completed", slog.String("job_id", jobID))
	return nil
}

// Nack records a failed attempt. When the delivery budget is not yet
// exhausted the job is rescheduled after the backoff delay; otherwise it
// becomes terminally failed and failed history retention applies.
func (q *Queue) Nack(ctx context.Context, jobID string, jobErr error) error {
	key := q.keyJob(jobID)
	fields, err := q.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("queue: nack %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return ErrJobNotFound
	}

	reason := "unknown error"
	if jobErr != nil {
		reason = jobErr.Error()
	}
	attempts := atoiDefault(fields[fieldAttempts], q.cfg.Attempts)
	attemptsMade := atoiDefault(fields[fieldAttemptsMade], 0)

	if attemptsMade < attempts {
		delay := retryDelay(fields[fieldBackoffKind],
			time.Duration(atoiDefault(fields[fieldBackoffDelay], 0))*time.Millisecond,
			attemptsMade)

		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, key, map[string]any{
			fieldStatus:       string(models.JobStatusDelayed),
			fieldFailedReason: reason,
		})
		pipe.ZRem(ctx, q.keyActive(), jobID)
		pipe.ZAdd(ctx, q.keyDelayed(), redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: jobID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("queue: reschedule %s: %w", jobID, err)
		}
		q.logger.Warn("job attempt failed, rescheduled",
			slog.String("job_id", jobID),
			slog.Int("attempts_made", attemptsMade),
			slog.Duration("retry_in", delay),
			slog.String("reason", reason),
		)
		return nil
	}

	return q.failJob(ctx, jobID, reason)
}

// failJob moves a job to terminal failed state and trims failed history.
func (q *Queue) failJob(ctx context.Context, jobID, reason string) error {
	key := q.keyJob(jobID)
	keep, err := q.client.HGet(ctx, key, fieldKeepFailed).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("queue: fail %s: %w", jobID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldStatus:       string(models.JobStatusFailed),
		fieldFailedReason: reason,
		fieldFinishedOn:   time.Now().UnixMilli(),
	})
	pipe.ZRem(ctx, q.keyActive(), jobID)
	pipe.LPush(ctx, q.keyFailed(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: fail %s: %w", jobID, err)
	}

	if err := q.trimHistory(ctx, q.keyFailed(), keep); err != nil {
		return err
	}
	q.logger.Error("job failed",
		slog.String("job_id", jobID),
		slog.String("reason", reason),
	)
	return nil
}

// Cancel aborts a job that has not yet finished. Returns false when the
// job is unknown or already terminal. Active jobs keep running until the
// worker observes the cancellation via RenewLease or UpdateProgress.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	key := q.keyJob(jobID)
	fields, err := q.client.HGetAll(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("queue: cancel %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return false, nil
	}
	status := models.JobStatus(fields[fieldStatus])
	if status.IsTerminal() {
		return false, nil
	}
	prio := atoiDefault(fields[fieldPriority], PriorityDefault)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldStatus:       string(models.JobStatusCancelled),
		fieldFailedReason: "cancelled",
		fieldFinishedOn:   time.Now().UnixMilli(),
	})
	pipe.LRem(ctx, q.keyWaiting(prio), 0, jobID)
	pipe.ZRem(ctx, q.keyDelayed(), jobID)
	pipe.ZRem(ctx, q.keyActive(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("queue: cancel %s: %w", jobID, err)
	}

	q.logger.Info("job cancelled", slog.String("job_id", jobID))
	return true, nil
}

// Metrics holds per-state job counts.
type Metrics struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    int64 `json:"paused"`
}

// Metrics returns queue depth counts. When the queue is paused, waiting
// jobs are reported under Paused.
func (q *Queue) Metrics(ctx context.Context) (Metrics, error) {
	var m Metrics

	pipe := q.client.Pipeline()
	waiting := make([]*redis.IntCmd, 0, PriorityLowest)
	for prio := PriorityHighest; prio <= PriorityLowest; prio++ {
		waiting = append(waiting, pipe.LLen(ctx, q.keyWaiting(prio)))
	}
	active := pipe.ZCard(ctx, q.keyActive())
	delayed := pipe.ZCard(ctx, q.keyDelayed())
	completed := pipe.LLen(ctx, q.keyCompleted())
	failed := pipe.LLen(ctx, q.keyFailed())
	if _, err := pipe.Exec(ctx); err != nil {
		return m, fmt.Errorf("queue: metrics: %w", err)
	}

	for _, cmd := range waiting {
		m.Waiting += cmd.Val()
	}
	m.Active = active.Val()
	m.Delayed = delayed.Val()
	m.Completed = completed.Val()
	m.Failed = failed.Val()

	if q.paused.Load() {
		m.Paused = m.Waiting
		m.Waiting = 0
	}
	return m, nil
}

// trimHistory bounds a history list to keep entries, deleting the hashes
// of evicted jobs. keep < 0 keeps everything.
func (q *Queue) trimHistory(ctx context.Context, listKey string, keep int) error {
	if keep < 0 {
		return nil
	}
	evicted, err := q.client.LRange(ctx, listKey, int64(keep), -1).Result()
	if err != nil {
		return fmt.Errorf("queue: trim %s: %w", listKey, err)
	}
	if len(evicted) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	if keep == 0 {
		pipe.Del(ctx, listKey)
	} else {
		pipe.LTrim(ctx, listKey, 0, int64(keep)-1)
	}
	for _, jobID := range evicted {
		pipe.Del(ctx, q.keyJob(jobID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: trim %s: %w", listKey, err)
	}
	return nil
}
