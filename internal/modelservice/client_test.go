package modelservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsight/clipsight/internal/config"
)

func newTestClient(t *testing.T, url string, mutate func(*config.ModelServiceConfig)) *Client {
	t.Helper()
	cfg := config.ModelServiceConfig{
		URL:                  url,
		PollInterval:         5 * time.Millisecond,
		TaskTimeout:          2 * time.Second,
		OrchestrateTimeout:   2 * time.Second,
		MaxPollAttempts:      60,
		MaxConsecutiveErrors: 5,
		MaxRetries:           3,
		SelectionCacheTTL:    5 * time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := New(cfg, nil)
	// Millisecond backoff unit so retry tests run instantly.
	c.http = newTransport(c.cfg, c.logger, time.Millisecond)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func okEnvelope(data any) map[string]any {
	return map[string]any{"success": true, "data": data}
}

func TestSelectModelDirectResult(t *testing.T) {
	var gotCorrelation atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathSelectModel, r.URL.Path)
		gotCorrelation.Store(r.Header.Get("X-Correlation-ID"))
		writeJSON(w, http.StatusOK, okEnvelope(map[string]any{
			"modelId":       "vision-large",
			"provider":      "acme",
			"estimatedCost": 0.004,
		}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	sel, err := c.SelectModel(context.Background(), SelectionRequest{
		TaskType:   "frame_analysis",
		Complexity: 0.55,
	})
	require.NoError(t, err)
	assert.Equal(t, "vision-large", sel.ModelID)
	assert.Equal(t, "acme", sel.Provider)
	assert.InDelta(t, 0.004, sel.EstimatedCost, 1e-9)
	assert.NotEmpty(t, gotCorrelation.Load())
}

func TestSelectModelCachesByBand(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, okEnvelope(map[string]any{"modelId": "m1", "provider": "p"}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	// 0.52 and 0.58 share the 0.5 band; 0.72 does not.
	_, err := c.SelectModel(ctx, SelectionRequest{TaskType: "transcription", Complexity: 0.52})
	require.NoError(t, err)
	_, err = c.SelectModel(ctx, SelectionRequest{TaskType: "transcription", Complexity: 0.58})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	_, err = c.SelectModel(ctx, SelectionRequest{TaskType: "transcription", Complexity: 0.72})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestSelectModelUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, okEnvelope(map[string]any{"provider": "acme"}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.SelectModel(context.Background(), SelectionRequest{TaskType: "summary"})
	require.Error(t, err)
	assert.Equal(t, CodeSelectionUnavailable, CodeOf(err))
}

func TestTicketPollingToCompletion(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathTranscribe:
			writeJSON(w, http.StatusAccepted, okEnvelope(map[string]any{"taskId": "t-1"}))
		case pathTasks + "t-1":
			n := polls.Add(1)
			status := "processing"
			var result any
			if n >= 3 {
				status = "completed"
				result = map[string]any{
					"transcription": "hello world",
					"language":      "en",
					"confidence":    0.93,
				}
			}
			writeJSON(w, http.StatusOK, okEnvelope(map[string]any{
				"task": map[string]any{"id": "t-1", "status": status, "result": result},
			}))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	tr, err := c.Transcribe(context.Background(), TranscribeRequest{AudioBase64: "AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", tr.Transcription)
	assert.Equal(t, "en", tr.Language)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestRateLimitedSubmitIsRetried(t *testing.T) {
	var submits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathClassify:
			if submits.Add(1) <= 2 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeJSON(w, http.StatusAccepted, okEnvelope(map[string]any{"taskId": "t-2"}))
		case pathTasks + "t-2":
			writeJSON(w, http.StatusOK, okEnvelope(map[string]any{
				"task": map[string]any{
					"id":     "t-2",
					"status": "completed",
					"result": map[string]any{"primaryCategory": "sports", "confidence": 0.8},
				},
			}))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *config.ModelServiceConfig) {
		cfg.TaskTimeout = 30 * time.Second
	})

	result, err := c.Classify(context.Background(), "a match recap", nil)
	require.NoError(t, err)
	assert.Equal(t, "sports", result.PrimaryCategory)
	assert.EqualValues(t, 3, submits.Load(), "two rate-limited attempts then success")
}

func TestTaskFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathSynthesize:
			writeJSON(w, http.StatusAccepted, okEnvelope(map[string]any{"taskId": "t-3"}))
		default:
			writeJSON(w, http.StatusOK, okEnvelope(map[string]any{
				"task": map[string]any{"id": "t-3", "status": "failed", "error": "model crashed"},
			}))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Synthesize(context.Background(), []string{"a"}, "paragraph", "")
	require.Error(t, err)
	assert.Equal(t, CodeTaskFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "model crashed")
}

func TestTaskTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathSentiment:
			writeJSON(w, http.StatusAccepted, okEnvelope(map[string]any{"taskId": "t-4"}))
		default:
			writeJSON(w, http.StatusOK, okEnvelope(map[string]any{
				"task": map[string]any{"id": "t-4", "status": "processing"},
			}))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *config.ModelServiceConfig) {
		cfg.TaskTimeout = 50 * time.Millisecond
	})
	_, err := c.Sentiment(context.Background(), "fine")
	require.Error(t, err)
	assert.Equal(t, CodeTaskTimeout, CodeOf(err))
}

func TestPollInvalidResponsesBecomeSystemic(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathTopics:
			writeJSON(w, http.StatusAccepted, okEnvelope(map[string]any{"taskId": "t-5"}))
		default:
			polls.Add(1)
			// Missing the task document entirely.
			writeJSON(w, http.StatusOK, okEnvelope(map[string]any{}))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *config.ModelServiceConfig) {
		cfg.MaxConsecutiveErrors = 3
	})
	_, err := c.ExtractTopics(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, CodeNetworkError, CodeOf(err))
	assert.EqualValues(t, 3, polls.Load())
}

func TestAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.GenerateEmbedding(context.Background(), "content")
	require.Error(t, err)
	assert.Equal(t, CodeAuthError, CodeOf(err))
}

func TestCancellationStopsPolling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathOrchestrate:
			writeJSON(w, http.StatusAccepted, okEnvelope(map[string]any{"taskId": "t-6"}))
		default:
			writeJSON(w, http.StatusOK, okEnvelope(map[string]any{
				"task": map[string]any{"id": "t-6", "status": "processing"},
			}))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Orchestrate(ctx, "summarise everything", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeFrameAnalysisTextual(t *testing.T) {
	analysis, err := normalizeFrameAnalysis(json.RawMessage(`"a cat on a sofa"`))
	require.NoError(t, err)
	assert.Equal(t, "a cat on a sofa", analysis.Description)
	assert.Empty(t, analysis.Objects)
	assert.Greater(t, analysis.Confidence, 0.0)
}

func TestNormalizeFrameAnalysisStructured(t *testing.T) {
	raw := json.RawMessage(`{
		"objects": [{"label": "cat", "confidence": 0.97, "x": 0.1, "y": 0.2, "width": 0.3, "height": 0.4}],
		"text": [],
		"description": "a cat on a sofa",
		"confidence": 0.91
	}`)
	analysis, err := normalizeFrameAnalysis(raw)
	require.NoError(t, err)
	require.Len(t, analysis.Objects, 1)
	assert.Equal(t, "cat", analysis.Objects[0].Label)
	assert.Equal(t, 0.91, analysis.Confidence)
}

func TestHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathHealth, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	defer healthy.Close()
	c := newTestClient(t, healthy.URL, nil)
	assert.NoError(t, c.Health(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	down.Close()
	c = newTestClient(t, down.URL, nil)
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeNetworkError, CodeOf(err))
}
