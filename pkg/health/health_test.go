package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(t *testing.T, fn http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	var down atomic.Bool
	h.AddReadinessCheck("postgres", time.Second, PingCheck(pingerFunc(func(context.Context) error {
		if down.Load() {
			return errors.New("connection refused")
		}
		return nil
	})))

	w := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())

	h.SetReady(true)
	w = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.True(t, h.IsReady())

	down.Store(true)
	ctx := context.Background()
	for range FailureThreshold - 1 {
		h.RunOnce(ctx)
	}
	assert.True(t, h.IsReady(), "below threshold")

	h.RunOnce(ctx)
	assert.False(t, h.IsReady())
	w = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"postgres":"ping: connection refused"}}`, w.Body.String())

	down.Store(false)
	h.RunOnce(ctx)
	assert.True(t, h.IsReady())
}

func TestLiveEndpoint_IgnoresReadiness(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(1_000_000))
	h.AddReadinessCheck("redis", time.Second, func(context.Context) error { return errors.New("down") })
	for range FailureThreshold {
		h.RunOnce(context.Background())
	}

	w := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGoroutineCountCheck(t *testing.T) {
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddLivenessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	for range FailureThreshold {
		h.RunOnce(context.Background())
	}

	w := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}

func TestStartStop(t *testing.T) {
	h := New()
	var runs atomic.Int32
	h.AddLivenessCheck("count", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	h.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
	h.Stop()
}
