// Package handlers provides the submitter API handlers for clipsight.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/queue"
	"github.com/clipsight/clipsight/internal/urlutil"
)

// JobQueue is the queue surface the submitter API needs.
type JobQueue interface {
	Enqueue(ctx context.Context, data models.JobData, opts *queue.EnqueueOptions) (string, error)
	GetJob(ctx context.Context, jobID string) (*queue.JobInfo, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
}

// JobHandler handles job submission, status, and cancellation.
type JobHandler struct {
	queue  JobQueue
	logger *slog.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(q JobQueue, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{queue: q, logger: logger}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "submitJob",
		Method:        http.MethodPost,
		Path:          "/api/v1/jobs",
		Summary:       "Submit analysis job",
		Description:   "Validates and enqueues a video analysis job",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusAccepted,
	}, h.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job status",
		Description: "Returns scheduling state, progress, and the result payload once complete",
		Tags:        []string{"Jobs"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      http.MethodDelete,
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Cancel job",
		Description: "Aborts a job that has not yet reached a terminal state",
		Tags:        []string{"Jobs"},
	}, h.Cancel)
}

// SubmitJobRequest is the enqueue request body.
type SubmitJobRequest struct {
	JobID    string `json:"jobId,omitempty" doc:"Caller-assigned job ID; generated when empty"`
	UserID   string `json:"userId" required:"true" minLength:"1" maxLength:"64"`
	VideoURL string `json:"videoUrl" required:"true" maxLength:"2048"`
	Filename string `json:"filename,omitempty" maxLength:"255"`
	Source   string `json:"source,omitempty" enum:",url,buffer,youtube,drive" doc:"Acquisition path; inferred from the URL when empty"`

	Options models.Options `json:"options"`

	Priority int `json:"priority,omitempty" minimum:"0" maximum:"10" doc:"1 highest to 10 lowest; 0 means default"`

	DriveToken string `json:"driveToken,omitempty" doc:"OAuth token for cloud-drive sources"`
}

// SubmitJobInput is the input for the submit endpoint.
type SubmitJobInput struct {
	Body SubmitJobRequest
}

// SubmitJobOutput is the output for the submit endpoint.
type SubmitJobOutput struct {
	Body SubmitJobResponse
}

// SubmitJobResponse acknowledges an accepted job.
type SubmitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// Submit validates the request and enqueues the job.
func (h *JobHandler) Submit(ctx context.Context, input *SubmitJobInput) (*SubmitJobOutput, error) {
	body := input.Body

	if err := urlutil.ValidateVideoURL(body.VideoURL); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if body.Filename != "" {
		if err := urlutil.ValidateFilename(body.Filename); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
	}
	if err := body.Options.Validate(); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	jobID := body.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	source := models.SourceKind(body.Source)
	if source == "" {
		source = models.DetectSourceKind(body.VideoURL)
	}

	data := models.JobData{
		JobID:      jobID,
		UserID:     body.UserID,
		Source:     source,
		VideoURL:   body.VideoURL,
		Filename:   body.Filename,
		Options:    body.Options,
		EnqueuedAt: time.Now().UTC(),
		DriveToken: body.DriveToken,
	}

	opts := &queue.EnqueueOptions{
		Priority: body.Priority,
		Timeout:  time.Duration(body.Options.Timeout) * time.Millisecond,
	}

	if _, err := h.queue.Enqueue(ctx, data, opts); err != nil {
		if errors.Is(err, queue.ErrShuttingDown) {
			return nil, huma.Error503ServiceUnavailable("service is shutting down")
		}
		h.logger.Error("enqueue failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return nil, huma.Error500InternalServerError("failed to enqueue job")
	}

	h.logger.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("user_id", body.UserID),
		slog.String("source", string(source)),
	)

	return &SubmitJobOutput{
		Body: SubmitJobResponse{
			JobID:  jobID,
			Status: string(models.JobStatusWaiting),
		},
	}, nil
}

// GetJobInput is the input for the status endpoint.
type GetJobInput struct {
	ID string `path:"id" maxLength:"64"`
}

// GetJobOutput is the output for the status endpoint.
type GetJobOutput struct {
	Body queue.JobInfo
}

// Get returns the externally visible state of a job.
func (h *JobHandler) Get(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	info, err := h.queue.GetJob(ctx, input.ID)
	if err != nil {
		h.logger.Error("job lookup failed",
			slog.String("job_id", input.ID),
			slog.String("error", err.Error()),
		)
		return nil, huma.Error500InternalServerError("failed to load job")
	}
	if info == nil {
		return nil, huma.Error404NotFound("job not found")
	}
	return &GetJobOutput{Body: *info}, nil
}

// CancelJobInput is the input for the cancel endpoint.
type CancelJobInput struct {
	ID string `path:"id" maxLength:"64"`
}

// CancelJobOutput is the output for the cancel endpoint.
type CancelJobOutput struct {
	Body CancelJobResponse
}

// CancelJobResponse reports the cancellation outcome.
type CancelJobResponse struct {
	JobID     string `json:"jobId"`
	Cancelled bool   `json:"cancelled"`
	Status    string `json:"status"`
}

// Cancel aborts a non-terminal job. Active jobs keep running until the
// worker observes the cancellation.
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	info, err := h.queue.GetJob(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load job")
	}
	if info == nil {
		return nil, huma.Error404NotFound("job not found")
	}

	cancelled, err := h.queue.Cancel(ctx, input.ID)
	if err != nil {
		h.logger.Error("cancel failed",
			slog.String("job_id", input.ID),
			slog.String("error", err.Error()),
		)
		return nil, huma.Error500InternalServerError("failed to cancel job")
	}
	if !cancelled {
		return nil, huma.Error409Conflict("job is already in a terminal state")
	}

	h.logger.Info("job cancelled via API", slog.String("job_id", input.ID))

	return &CancelJobOutput{
		Body: CancelJobResponse{
			JobID:     input.ID,
			Cancelled: true,
			Status:    string(models.JobStatusCancelled),
		},
	}, nil
}
