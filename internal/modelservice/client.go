// Package modelservice is the client for the external AI model service.
// Every operation looks synchronous to callers, but the service may answer
// a submission with either an immediate result (200) or a task ticket
// (202). On a ticket the client polls the task endpoint until the task
// reaches a terminal status.
package modelservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clipsight/clipsight/internal/config"
	"github.com/clipsight/clipsight/internal/httpclient"
	"github.com/clipsight/clipsight/internal/observability"
	"github.com/clipsight/clipsight/internal/urlutil"
)

// Service endpoints.
const (
	pathHealth      = "/health"
	pathTasks       = "/tasks/"
	pathSelectModel = "/api/v1/models/select"
	pathAnalyze     = "/api/v1/analyze/frame"
	pathTranscribe  = "/api/v1/transcribe"
	pathSynthesize  = "/api/v1/synthesize"
	pathOrchestrate = "/api/v1/orchestrate"
	pathClassify    = "/api/v1/classify"
	pathTopics      = "/api/v1/topics"
	pathSentiment   = "/api/v1/sentiment"
	pathEmbeddings  = "/api/v1/embeddings"
	pathMemory      = "/api/v1/memory"
	pathUsage       = "/api/v1/usage"
)

// Task statuses reported by the polling endpoint.
const (
	taskStatusCompleted = "completed"
	taskStatusFailed    = "failed"
	taskStatusTimeout   = "timeout"
)

const correlationHeader = "X-Correlation-ID"

// Client talks to the model service. All methods are safe for concurrent
// use.
type Client struct {
	baseURL string
	cfg     config.ModelServiceConfig
	http    *httpclient.Client
	logger  *slog.Logger
	cache   *selectionCache
}

// New builds a client from configuration. The underlying transport retries
// transient failures and 5xx on submission with quadratic backoff.
func New(cfg config.ModelServiceConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	log = observability.WithComponent(log, "modelservice")

	return &Client{
		baseURL: urlutil.NormalizeBaseURL(cfg.URL),
		cfg:     cfg,
		http:    newTransport(cfg, log, httpclient.DefaultRetryUnit),
		logger:  log,
		cache:   newSelectionCache(cfg.SelectionCacheTTL),
	}
}

// newTransport builds the resilient HTTP transport. retryUnit scales the
// quadratic submit backoff.
func newTransport(cfg config.ModelServiceConfig, log *slog.Logger, retryUnit time.Duration) *httpclient.Client {
	hc := httpclient.DefaultConfig()
	hc.RetryAttempts = cfg.MaxRetries
	hc.RetryUnit = retryUnit
	hc.RetryOnServerError = true
	hc.Timeout = cfg.TaskTimeout
	hc.Logger = log
	return httpclient.New(hc)
}

// Health checks service availability.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.Get(ctx, c.baseURL+pathHealth)
	if err != nil {
		return newError(CodeNetworkError, "health", "service unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return newError(CodeNetworkError, "health",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	return nil
}

// envelope is the outer response shape every endpoint uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// taskTicket is the 202 response payload.
type taskTicket struct {
	TaskID string `json:"taskId"`
}

// taskState is the nested task document returned while polling.
type taskState struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// call submits an operation and resolves it to a raw result payload,
// polling when the service answers with a task ticket. timeout bounds the
// whole operation including polling.
func (c *Client) call(ctx context.Context, op, path string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.cfg.TaskTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newError(CodeInvalidResponse, op, "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, newError(CodeNetworkError, op, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(correlationHeader, c.correlationID(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(CodeNetworkError, op, "submit failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		env, err := decodeEnvelope(resp.Body)
		if err != nil {
			return nil, newError(CodeInvalidResponse, op, "decoding response", err)
		}
		if !env.Success {
			return nil, newError(CodeTaskFailed, op, env.Error, nil)
		}
		return env.Data, nil

	case resp.StatusCode == http.StatusAccepted:
		env, err := decodeEnvelope(resp.Body)
		if err != nil {
			return nil, newError(CodeInvalidResponse, op, "decoding ticket", err)
		}
		var ticket taskTicket
		if err := json.Unmarshal(env.Data, &ticket); err != nil || ticket.TaskID == "" {
			return nil, newError(CodeInvalidResponse, op, "ticket missing taskId", err)
		}
		return c.poll(ctx, op, ticket.TaskID)

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, newError(CodeAuthError, op,
			fmt.Sprintf("status %d", resp.StatusCode), nil)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, newError(CodeRateLimited, op, "rate limited after retries", nil)

	default:
		return nil, newError(CodeTaskFailed, op,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

// poll drives a task ticket to completion. Consecutive polling errors are
// counted and reset on any successful poll; too many in a row fail the
// operation as systemic.
func (c *Client) poll(ctx context.Context, op, taskID string) (json.RawMessage, error) {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxAttempts := c.cfg.MaxPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	maxConsecutive := c.cfg.MaxConsecutiveErrors
	if maxConsecutive <= 0 {
		maxConsecutive = 5
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveErrors := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, newError(CodeTaskTimeout, op, "task "+taskID+" did not finish in time", nil)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}

		task, err := c.fetchTask(ctx, op, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, newError(CodeTaskTimeout, op, "task "+taskID+" did not finish in time", nil)
			}
			consecutiveErrors++
			c.logger.Warn("task poll failed",
				slog.String("task_id", taskID),
				slog.Int("consecutive_errors", consecutiveErrors),
				slog.Any("error", err),
			)
			if consecutiveErrors >= maxConsecutive {
				return nil, newError(CodeNetworkError, op,
					fmt.Sprintf("polling failed %d times in a row", consecutiveErrors), err)
			}
			continue
		}
		consecutiveErrors = 0

		switch task.Status {
		case taskStatusCompleted:
			return task.Result, nil
		case taskStatusFailed:
			return nil, newError(CodeTaskFailed, op, task.Error, nil)
		case taskStatusTimeout:
			return nil, newError(CodeTaskTimeout, op, "task "+taskID+" timed out server-side", nil)
		}
	}
	return nil, newError(CodeTaskTimeout, op,
		fmt.Sprintf("task %s still pending after %d polls", taskID, maxAttempts), nil)
}

// fetchTask performs one poll with defensive response validation.
func (c *Client) fetchTask(ctx context.Context, op, taskID string) (*taskState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathTasks+taskID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(correlationHeader, c.correlationID(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll status %d", resp.StatusCode)
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, newError(CodeInvalidResponse, op, "decoding poll response", err)
	}
	if !env.Success {
		return nil, newError(CodeInvalidResponse, op, "poll reported failure: "+env.Error, nil)
	}

	var wrapper struct {
		Task *taskState `json:"task"`
	}
	if err := json.Unmarshal(env.Data, &wrapper); err != nil {
		return nil, newError(CodeInvalidResponse, op, "decoding task document", err)
	}
	if wrapper.Task == nil || wrapper.Task.ID == "" || wrapper.Task.Status == "" {
		return nil, newError(CodeInvalidResponse, op, "task document missing id or status", nil)
	}
	return wrapper.Task, nil
}

func (c *Client) correlationID(ctx context.Context) string {
	if id := observability.CorrelationIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func decodeEnvelope(r io.Reader) (*envelope, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// decodeResult unmarshals a result payload into out, mapping failures to
// invalid_response.
func decodeResult(op string, raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return newError(CodeInvalidResponse, op, "empty result payload", nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(CodeInvalidResponse, op, "decoding result", err)
	}
	return nil
}
