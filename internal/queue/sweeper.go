package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clipsight/clipsight/internal/models"
)

// startSweeper launches the stalled-job sweep loop. Jobs whose lease has
// expired without renewal are returned to their priority class; a job that
// stalls more than MaxStalledCount times is failed with reason "stalled".
func (q *Queue) startSweeper() {
	interval := q.cfg.StalledInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	q.sweepDone.Add(1)
	go func() {
		defer q.sweepDone.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-q.sweepStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := q.sweepStalled(ctx); err != nil {
					q.logger.Warn("stalled sweep failed", slog.Any("error", err))
				}
				cancel()
			}
		}
	}()
}

func (q *Queue) stopSweeper() {
	select {
	case <-q.sweepStop:
	default:
		close(q.sweepStop)
	}
	q.sweepDone.Wait()
}

// sweepStalled processes every active job whose lease expired.
func (q *Queue) sweepStalled(ctx context.Context) error {
	now := time.Now().UnixMilli()
	expired, err := q.client.ZRangeByScore(ctx, q.keyActive(), &redis.ZRangeBy{
		Min: "-inf",
		Max: itoa(now),
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: scan stalled: %w", err)
	}

	for _, jobID := range expired {
		// The remover owns recovery; a worker renewing concurrently keeps
		// its lease because ZRem only matches the expired entry we saw.
		removed, err := q.client.ZRem(ctx, q.keyActive(), jobID).Result()
		if err != nil {
			return fmt.Errorf("queue: recover %s: %w", jobID, err)
		}
		if removed == 0 {
			continue
		}
		if err := q.recoverStalled(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

// recoverStalled re-queues one expired job or fails it when it has stalled
// too often.
func (q *Queue) recoverStalled(ctx context.Context, jobID string) error {
	key := q.keyJob(jobID)

	status, err := q.status(ctx, jobID)
	if err != nil {
		return fmt.Errorf("queue: recover %s: %w", jobID, err)
	}
	if status == "" || status.IsTerminal() {
		return nil
	}

	stalls, err := q.client.HIncrBy(ctx, key, fieldStalledCount, 1).Result()
	if err != nil {
		return fmt.Errorf("queue: recover %s: %w", jobID, err)
	}
	// Terminal once the stall count reaches the cap.
	if stalls >= int64(q.cfg.MaxStalledCount) {
		return q.failJob(ctx, jobID, "stalled")
	}

	prio, err := q.client.HGet(ctx, key, fieldPriority).Int()
	if err != nil {
		prio = PriorityDefault
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, fieldStatus, string(models.JobStatusWaiting))
	pipe.RPush(ctx, q.keyWaiting(prio), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: requeue %s: %w", jobID, err)
	}

	q.logger.Warn("stalled job returned to queue",
		slog.String("job_id", jobID),
		slog.Int64("stall_count", stalls),
	)
	return nil
}
