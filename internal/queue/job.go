package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clipsight/clipsight/internal/models"
)

// Job hash field names.
const (
	fieldData         = "data"
	fieldStatus       = "status"
	fieldPriority     = "priority"
	fieldAttempts     = "attempts"
	fieldAttemptsMade = "attempts_made"
	fieldProgress     = "progress"
	fieldFailedReason = "failed_reason"
	fieldBackoffKind  = "backoff_kind"
	fieldBackoffDelay = "backoff_delay_ms"
	fieldTimeout      = "timeout_ms"
	fieldStalledCount = "stalled_count"
	fieldKeepComplete = "keep_completed"
	fieldKeepFailed   = "keep_failed"
	fieldCreatedAt    = "created_at"
	fieldProcessedOn  = "processed_on"
	fieldFinishedOn   = "finished_on"
	fieldWorkerID     = "worker_id"
	fieldResult       = "result"
)

// Job is one reserved unit of work handed to a worker.
type Job struct {
	ID           string
	Data         models.JobData
	Priority     int
	Attempts     int
	AttemptsMade int
	Timeout      time.Duration
	// LeaseExpiry is when the reservation lapses unless renewed.
	LeaseExpiry time.Time
}

// JobInfo is the externally visible state of a job, served by the status
// API. A nil JobInfo means the job is unknown (never enqueued or already
// evicted by retention).
type JobInfo struct {
	ID           string           `json:"id"`
	Status       models.JobStatus `json:"status"`
	Progress     int              `json:"progress"`
	Attempts     int              `json:"attempts"`
	AttemptsMade int              `json:"attemptsMade"`
	FailedReason string           `json:"failedReason,omitempty"`
	Data         models.JobData   `json:"data"`
	Result       json.RawMessage  `json:"result,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	ProcessedOn  *time.Time       `json:"processedOn,omitempty"`
	FinishedOn   *time.Time       `json:"finishedOn,omitempty"`
}

// GetJob loads the externally visible job state. Returns (nil, nil) when
// the job hash does not exist.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*JobInfo, error) {
	fields, err := q.client.HGetAll(ctx, q.keyJob(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: load job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	info := &JobInfo{
		ID:           jobID,
		Status:       models.JobStatus(fields[fieldStatus]),
		Progress:     atoiDefault(fields[fieldProgress], 0),
		Attempts:     atoiDefault(fields[fieldAttempts], 0),
		AttemptsMade: atoiDefault(fields[fieldAttemptsMade], 0),
		FailedReason: fields[fieldFailedReason],
		CreatedAt:    msToTime(fields[fieldCreatedAt]),
	}
	if raw := fields[fieldData]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &info.Data); err != nil {
			return nil, fmt.Errorf("queue: decode job %s payload: %w", jobID, err)
		}
	}
	if raw := fields[fieldResult]; raw != "" {
		info.Result = json.RawMessage(raw)
	}
	if t := fields[fieldProcessedOn]; t != "" {
		ts := msToTime(t)
		info.ProcessedOn = &ts
	}
	if t := fields[fieldFinishedOn]; t != "" {
		ts := msToTime(t)
		info.FinishedOn = &ts
	}
	return info, nil
}

// status reads just the status field. Empty string means not found.
func (q *Queue) status(ctx context.Context, jobID string) (models.JobStatus, error) {
	s, err := q.client.HGet(ctx, q.keyJob(jobID), fieldStatus).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return models.JobStatus(s), nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func msToTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
