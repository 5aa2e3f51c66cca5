package queue

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsight/clipsight/internal/config"
	"github.com/clipsight/clipsight/internal/models"
)

func newTestQueue(t *testing.T, mutate func(*config.QueueConfig)) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.QueueConfig{
		RedisURL:        "redis://" + mr.Addr(),
		Name:            "clipsight-test",
		Attempts:        3,
		BackoffDelay:    time.Second,
		LeaseDuration:   time.Minute,
		StalledInterval: 30 * time.Second,
		MaxStalledCount: 3,
		KeepCompleted:   100,
		KeepFailed:      500,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := newWithClient(client, cfg, slog.Default())
	t.Cleanup(func() { _ = client.Close() })
	return q
}

func jobData(id string) models.JobData {
	return models.JobData{
		JobID:    id,
		UserID:   "user-1",
		Source:   models.SourceURL,
		VideoURL: "https://example.com/" + id + ".mp4",
		Filename: id + ".mp4",
	}
}

func TestEnqueueReserveFIFO(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, jobData(id), nil)
		require.NoError(t, err)
	}

	for _, want := range []string{"a", "b", "c"} {
		job, err := q.Reserve(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
		assert.Equal(t, 1, job.AttemptsMade)
	}

	job, err := q.Reserve(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("low"), &EnqueueOptions{Priority: 9})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, jobData("high"), &EnqueueOptions{Priority: 1})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, jobData("mid"), &EnqueueOptions{Priority: 5})
	require.NoError(t, err)

	for _, want := range []string{"high", "mid", "low"} {
		job, err := q.Reserve(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
	}
}

func TestDelayedPromotion(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("later"), &EnqueueOptions{Delay: 30 * time.Millisecond})
	require.NoError(t, err)

	job, err := q.Reserve(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, job)

	info, err := q.GetJob(ctx, "later")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, models.JobStatusDelayed, info.Status)

	time.Sleep(50 * time.Millisecond)
	job, err = q.Reserve(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "later", job.ID)
}

func TestAckStoresResultAndTrims(t *testing.T) {
	q := newTestQueue(t, func(cfg *config.QueueConfig) { cfg.KeepCompleted = 2 })
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, jobData(id), nil)
		require.NoError(t, err)
		job, err := q.Reserve(ctx, "w1")
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, job.ID, map[string]any{"summary": "ok"}))
	}

	// Oldest completed job was evicted along with its hash.
	info, err := q.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, info)

	info, err = q.GetJob(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, models.JobStatusCompleted, info.Status)
	assert.Equal(t, 100, info.Progress)
	assert.JSONEq(t, `{"summary":"ok"}`, string(info.Result))

	m, err := q.Metrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.Completed)
}

func TestNackReschedulesThenFails(t *testing.T) {
	q := newTestQueue(t, func(cfg *config.QueueConfig) {
		cfg.Attempts = 2
		cfg.BackoffDelay = 10 * time.Millisecond
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("flaky"), nil)
	require.NoError(t, err)

	job, err := q.Reserve(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, job.ID, errors.New("model service unavailable")))

	info, err := q.GetJob(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDelayed, info.Status)
	assert.Equal(t, "model service unavailable", info.FailedReason)

	time.Sleep(30 * time.Millisecond)
	job, err = q.Reserve(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.AttemptsMade)

	// Delivery budget exhausted: the second failure is terminal.
	require.NoError(t, q.Nack(ctx, job.ID, errors.New("still broken")))
	info, err = q.GetJob(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, info.Status)
	assert.Equal(t, "still broken", info.FailedReason)

	m, err := q.Metrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Failed)
}

func TestUpdateProgress(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("p"), nil)
	require.NoError(t, err)
	_, err = q.Reserve(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.UpdateProgress(ctx, "p", 40))
	info, err := q.GetJob(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 40, info.Progress)

	assert.ErrorIs(t, q.UpdateProgress(ctx, "p", 101), ErrInvalidProgress)
	assert.ErrorIs(t, q.UpdateProgress(ctx, "p", -1), ErrInvalidProgress)
	assert.ErrorIs(t, q.UpdateProgress(ctx, "nope", 10), ErrJobNotFound)
}

func TestCancelWaitingJob(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("doomed"), nil)
	require.NoError(t, err)

	ok, err := q.Cancel(ctx, "doomed")
	require.NoError(t, err)
	assert.True(t, ok)

	// A cancelled job is never handed to a worker.
	job, err := q.Reserve(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, job)

	// Terminal: a second cancel reports false.
	ok, err = q.Cancel(ctx, "doomed")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = q.Cancel(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelActiveJobSurfacesToWorker(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("running"), nil)
	require.NoError(t, err)
	_, err = q.Reserve(ctx, "w1")
	require.NoError(t, err)

	ok, err := q.Cancel(ctx, "running")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, q.UpdateProgress(ctx, "running", 50), ErrJobCancelled)
	assert.ErrorIs(t, q.RenewLease(ctx, "running"), ErrJobCancelled)
}

func TestStallRecoveryAndStalledFailure(t *testing.T) {
	// Negative lease duration makes every reservation expire immediately,
	// so each sweep sees the job as stalled.
	q := newTestQueue(t, func(cfg *config.QueueConfig) {
		cfg.LeaseDuration = -time.Second
		cfg.MaxStalledCount = 2
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("sticky"), nil)
	require.NoError(t, err)
	_, err = q.Reserve(ctx, "w1")
	require.NoError(t, err)

	// First sweep: count below the cap, back to waiting.
	require.NoError(t, q.sweepStalled(ctx))
	info, err := q.GetJob(ctx, "sticky")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaiting, info.Status)

	job, err := q.Reserve(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, job)

	// Second sweep reaches maxStalledCount: terminal failure.
	require.NoError(t, q.sweepStalled(ctx))
	info, err = q.GetJob(ctx, "sticky")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, info.Status)
	assert.Equal(t, "stalled", info.FailedReason)
}

func TestStalledFailureAtCap(t *testing.T) {
	// With maxStalledCount=1 the first expiry already reaches the cap, so
	// the job must fail without another requeue.
	q := newTestQueue(t, func(cfg *config.QueueConfig) {
		cfg.LeaseDuration = -time.Second
		cfg.MaxStalledCount = 1
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("sticky"), nil)
	require.NoError(t, err)
	_, err = q.Reserve(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.sweepStalled(ctx))
	info, err := q.GetJob(ctx, "sticky")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, info.Status)
	assert.Equal(t, "stalled", info.FailedReason)
}

func TestRenewLeaseExtendsExpiry(t *testing.T) {
	q := newTestQueue(t, func(cfg *config.QueueConfig) {
		cfg.LeaseDuration = time.Minute
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("leased"), nil)
	require.NoError(t, err)
	job, err := q.Reserve(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.RenewLease(ctx, job.ID))

	score, err := q.client.ZScore(ctx, q.keyActive(), job.ID).Result()
	require.NoError(t, err)
	assert.Greater(t, int64(score), time.Now().Add(30*time.Second).UnixMilli())
}

func TestShutdownRejectsNewWork(t *testing.T) {
	q := newTestQueue(t, nil)
	q.shuttingDown.Store(true)

	_, err := q.Enqueue(context.Background(), jobData("late"), nil)
	assert.ErrorIs(t, err, ErrShuttingDown)

	_, err = q.Reserve(context.Background(), "w1")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestPausedQueueReservesNothing(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("held"), nil)
	require.NoError(t, err)

	q.Pause()
	job, err := q.Reserve(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, job)

	m, err := q.Metrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Paused)
	assert.EqualValues(t, 0, m.Waiting)

	q.Resume()
	job, err = q.Reserve(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "held", job.ID)
}

func TestMetricsCounts(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobData("w"), nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, jobData("d"), &EnqueueOptions{Delay: time.Hour})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, jobData("a"), &EnqueueOptions{Priority: 1})
	require.NoError(t, err)
	_, err = q.Reserve(ctx, "w1")
	require.NoError(t, err)

	m, err := q.Metrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Waiting)
	assert.EqualValues(t, 1, m.Active)
	assert.EqualValues(t, 1, m.Delayed)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(BackoffFixed, 2*time.Second, 3))
	assert.Equal(t, 1*time.Second, retryDelay(BackoffExponential, time.Second, 1))
	assert.Equal(t, 4*time.Second, retryDelay(BackoffExponential, time.Second, 2))
	assert.Equal(t, 9*time.Second, retryDelay(BackoffExponential, time.Second, 3))
	// Zero base falls back to one second.
	assert.Equal(t, 4*time.Second, retryDelay(BackoffExponential, 0, 2))
}
