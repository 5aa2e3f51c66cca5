package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsight/clipsight/internal/queue"
)

type fakePinger struct {
	pingErr error
	metrics queue.Metrics
}

func (p *fakePinger) Ping(ctx context.Context) error { return p.pingErr }

func (p *fakePinger) Metrics(ctx context.Context) (queue.Metrics, error) {
	return p.metrics, nil
}

type fakeChecker struct{ err error }

func (c *fakeChecker) Health(ctx context.Context) error { return c.err }

func TestGetHealthHealthy(t *testing.T) {
	p := &fakePinger{metrics: queue.Metrics{Waiting: 4, Active: 1}}
	h := NewHealthHandler("1.2.3", p, &fakeChecker{})

	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.Equal(t, "ok", out.Body.Checks["queue"])
	assert.Equal(t, "ok", out.Body.Checks["model_service"])
	require.NotNil(t, out.Body.Queue)
	assert.Equal(t, int64(4), out.Body.Queue.Waiting)
	assert.Positive(t, out.Body.System.Cores)
}

func TestGetHealthDegradedOnQueueFailure(t *testing.T) {
	p := &fakePinger{pingErr: errors.New("connection refused")}
	h := NewHealthHandler("dev", p, &fakeChecker{})

	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "degraded", out.Body.Status)
	assert.Contains(t, out.Body.Checks["queue"], "connection refused")
	assert.Nil(t, out.Body.Queue)
}

func TestGetHealthDegradedOnModelServiceFailure(t *testing.T) {
	h := NewHealthHandler("dev", &fakePinger{}, &fakeChecker{err: errors.New("503")})

	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "degraded", out.Body.Status)
	assert.Equal(t, "ok", out.Body.Checks["queue"])
}
