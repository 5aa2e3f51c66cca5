package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/clipsight/clipsight/internal/queue"
)

// Pinger verifies the queue broker is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
	Metrics(ctx context.Context) (queue.Metrics, error)
}

// Checker verifies a downstream dependency responds.
type Checker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	queue     Pinger
	models    Checker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, q Pinger, models Checker) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		queue:     q,
		models:    models,
	}
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status        string            `json:"status" enum:"healthy,degraded"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptimeSeconds"`
	Checks        map[string]string `json:"checks"`
	Queue         *queue.Metrics    `json:"queue,omitempty"`
	System        SystemInfo        `json:"system"`
}

// SystemInfo carries host telemetry.
type SystemInfo struct {
	Cores          int     `json:"cores"`
	Load1          float64 `json:"load1"`
	MemoryUsedPct  float64 `json:"memoryUsedPct"`
	MemoryTotalMiB uint64  `json:"memoryTotalMiB"`
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports dependency reachability, queue depth, and host load",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth reports overall service health. The endpoint itself always
// answers 200; degraded dependencies show up in the body so orchestrators
// can distinguish "down" from "struggling".
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	checks := make(map[string]string)
	status := "healthy"

	var metrics *queue.Metrics
	if h.queue != nil {
		if err := h.queue.Ping(ctx); err != nil {
			checks["queue"] = err.Error()
			status = "degraded"
		} else {
			checks["queue"] = "ok"
			if m, err := h.queue.Metrics(ctx); err == nil {
				metrics = &m
			}
		}
	}

	if h.models != nil {
		if err := h.models.Health(ctx); err != nil {
			checks["model_service"] = err.Error()
			status = "degraded"
		} else {
			checks["model_service"] = "ok"
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			UptimeSeconds: now.Sub(h.startTime).Seconds(),
			Checks:        checks,
			Queue:         metrics,
			System:        hostInfo(ctx),
		},
	}, nil
}

// hostInfo collects best-effort host telemetry. Failures leave zero
// values rather than degrading the health status.
func hostInfo(ctx context.Context) SystemInfo {
	info := SystemInfo{Cores: runtime.NumCPU()}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryUsedPct = vm.UsedPercent
		info.MemoryTotalMiB = vm.Total / (1 << 20)
	}
	return info
}
