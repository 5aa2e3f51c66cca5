package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/queue"
)

type fakeJobQueue struct {
	enqueued    []models.JobData
	enqueueOpts []*queue.EnqueueOptions
	enqueueErr  error

	jobs      map[string]*queue.JobInfo
	cancelled map[string]bool
}

func newFakeJobQueue() *fakeJobQueue {
	return &fakeJobQueue{
		jobs:      make(map[string]*queue.JobInfo),
		cancelled: make(map[string]bool),
	}
}

func (q *fakeJobQueue) Enqueue(ctx context.Context, data models.JobData, opts *queue.EnqueueOptions) (string, error) {
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	q.enqueued = append(q.enqueued, data)
	q.enqueueOpts = append(q.enqueueOpts, opts)
	q.jobs[data.JobID] = &queue.JobInfo{ID: data.JobID, Status: models.JobStatusWaiting, Data: data}
	return data.JobID, nil
}

func (q *fakeJobQueue) GetJob(ctx context.Context, jobID string) (*queue.JobInfo, error) {
	return q.jobs[jobID], nil
}

func (q *fakeJobQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	info, ok := q.jobs[jobID]
	if !ok || info.Status.IsTerminal() {
		return false, nil
	}
	info.Status = models.JobStatusCancelled
	q.cancelled[jobID] = true
	return true, nil
}

func newTestJobHandler(q JobQueue) *JobHandler {
	return NewJobHandler(q, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func validSubmit() *SubmitJobInput {
	return &SubmitJobInput{
		Body: SubmitJobRequest{
			UserID:   "user-1",
			VideoURL: "https://example.com/video.mp4",
			Filename: "video.mp4",
			Options:  models.Options{ExtractFrames: true, MaxFrames: 5},
		},
	}
}

func TestSubmitEnqueuesJob(t *testing.T) {
	q := newFakeJobQueue()
	h := newTestJobHandler(q)

	out, err := h.Submit(context.Background(), validSubmit())
	require.NoError(t, err)

	assert.NotEmpty(t, out.Body.JobID, "job id is generated when the caller omits one")
	assert.Equal(t, "waiting", out.Body.Status)

	require.Len(t, q.enqueued, 1)
	data := q.enqueued[0]
	assert.Equal(t, "user-1", data.UserID)
	assert.Equal(t, models.SourceURL, data.Source)
	assert.False(t, data.EnqueuedAt.IsZero())
}

func TestSubmitHonoursCallerJobIDAndPriority(t *testing.T) {
	q := newFakeJobQueue()
	h := newTestJobHandler(q)

	input := validSubmit()
	input.Body.JobID = "job-42"
	input.Body.Priority = 2
	input.Body.Options.Timeout = 120_000

	out, err := h.Submit(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "job-42", out.Body.JobID)

	require.Len(t, q.enqueueOpts, 1)
	assert.Equal(t, 2, q.enqueueOpts[0].Priority)
	assert.Equal(t, 2*time.Minute, q.enqueueOpts[0].Timeout)
}

func TestSubmitDetectsYouTubeSource(t *testing.T) {
	q := newFakeJobQueue()
	h := newTestJobHandler(q)

	input := validSubmit()
	input.Body.VideoURL = "https://www.youtube.com/watch?v=abc123"
	input.Body.Filename = ""

	_, err := h.Submit(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, models.SourceYouTube, q.enqueued[0].Source)
}

func TestSubmitRejectsPrivateAddress(t *testing.T) {
	h := newTestJobHandler(newFakeJobQueue())

	for _, url := range []string{
		"https://localhost/video.mp4",
		"http://127.0.0.1/video.mp4",
		"http://169.254.169.254/latest/meta-data",
		"ftp://example.com/video.mp4",
	} {
		input := validSubmit()
		input.Body.VideoURL = url
		_, err := h.Submit(context.Background(), input)
		require.Error(t, err, url)
		assert.Equal(t, http.StatusBadRequest, statusOf(t, err), url)
	}
}

func TestSubmitRejectsTraversalFilename(t *testing.T) {
	h := newTestJobHandler(newFakeJobQueue())

	input := validSubmit()
	input.Body.Filename = "../../etc/passwd"

	_, err := h.Submit(context.Background(), input)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestSubmitRejectsInvalidOptions(t *testing.T) {
	h := newTestJobHandler(newFakeJobQueue())

	input := validSubmit()
	input.Body.Options.FrameSamplingMode = "random"

	_, err := h.Submit(context.Background(), input)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestSubmitDuringShutdownReturns503(t *testing.T) {
	q := newFakeJobQueue()
	q.enqueueErr = queue.ErrShuttingDown
	h := newTestJobHandler(q)

	_, err := h.Submit(context.Background(), validSubmit())
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(t, err))
}

func TestSubmitEnqueueFailureReturns500(t *testing.T) {
	q := newFakeJobQueue()
	q.enqueueErr = errors.New("broker down")
	h := newTestJobHandler(q)

	_, err := h.Submit(context.Background(), validSubmit())
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))
}

func TestGetReturnsJobInfo(t *testing.T) {
	q := newFakeJobQueue()
	h := newTestJobHandler(q)

	out, err := h.Submit(context.Background(), validSubmit())
	require.NoError(t, err)

	got, err := h.Get(context.Background(), &GetJobInput{ID: out.Body.JobID})
	require.NoError(t, err)
	assert.Equal(t, out.Body.JobID, got.Body.ID)
	assert.Equal(t, models.JobStatusWaiting, got.Body.Status)
}

func TestGetUnknownJobReturns404(t *testing.T) {
	h := newTestJobHandler(newFakeJobQueue())

	_, err := h.Get(context.Background(), &GetJobInput{ID: "missing"})
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestCancelPendingJob(t *testing.T) {
	q := newFakeJobQueue()
	h := newTestJobHandler(q)

	out, err := h.Submit(context.Background(), validSubmit())
	require.NoError(t, err)

	cancelled, err := h.Cancel(context.Background(), &CancelJobInput{ID: out.Body.JobID})
	require.NoError(t, err)
	assert.True(t, cancelled.Body.Cancelled)
	assert.True(t, q.cancelled[out.Body.JobID])
}

func TestCancelTerminalJobReturns409(t *testing.T) {
	q := newFakeJobQueue()
	h := newTestJobHandler(q)

	q.jobs["done"] = &queue.JobInfo{ID: "done", Status: models.JobStatusCompleted}

	_, err := h.Cancel(context.Background(), &CancelJobInput{ID: "done"})
	assert.Equal(t, http.StatusConflict, statusOf(t, err))
}

func TestCancelUnknownJobReturns404(t *testing.T) {
	h := newTestJobHandler(newFakeJobQueue())

	_, err := h.Cancel(context.Background(), &CancelJobInput{ID: "missing"})
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}
