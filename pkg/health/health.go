// Package health serves liveness and readiness probes backed by periodic
// checks. A check flips to unhealthy after FailureThreshold consecutive
// failures and back after one success.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// FailureThreshold is the number of consecutive failures before a check is
// reported unhealthy.
const FailureThreshold = 3

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

type kind int

const (
	liveness kind = iota
	readiness
)

type check struct {
	name    string
	kind    kind
	timeout time.Duration
	fn      CheckFunc

	fails   int
	healthy bool
	lastErr error
}

// Health holds registered checks and the manual readiness flag.
type Health struct {
	mu     sync.RWMutex
	checks []*check
	ready  bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

func (h *Health) add(k kind, name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, &check{name: name, kind: k, timeout: timeout, fn: fn, healthy: true})
}

// AddLivenessCheck registers a check reported by /livez.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(liveness, name, timeout, fn)
}

// AddReadinessCheck registers a check reported by /readyz.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(readiness, name, timeout, fn)
}

// RunOnce executes every check once, sequentially.
func (h *Health) RunOnce(ctx context.Context) {
	h.mu.RLock()
	checks := append([]*check(nil), h.checks...)
	h.mu.RUnlock()

	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.fn(cctx)
		cancel()

		h.mu.Lock()
		wasHealthy := c.healthy
		c.lastErr = err
		if err != nil {
			c.fails++
			if c.fails >= FailureThreshold {
				c.healthy = false
			}
		} else {
			c.fails = 0
			c.healthy = true
		}
		changed := wasHealthy != c.healthy
		h.mu.Unlock()

		if changed {
			lg := zctx.From(ctx).With(zap.String("check", c.name))
			if err != nil {
				lg.Warn("Health check became unhealthy", zap.Error(err))
			} else {
				lg.Info("Health check recovered")
			}
		}
	}
}

// Start runs all checks immediately and then every interval until Stop or
// ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.mu.Lock()
	h.cancel, h.done = cancel, done
	h.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			h.RunOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

// Stop halts background checks and waits for the loop to exit.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// SetReady sets the manual readiness flag, cleared during shutdown.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return len(h.failures(readiness, true)) == 0
}

func (h *Health) failures(k kind, withReadyFlag bool) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	if withReadyFlag && !h.ready {
		out["_readiness"] = "service is not ready"
	}
	for _, c := range h.checks {
		if c.kind != k || c.healthy {
			continue
		}
		msg := "check is unhealthy"
		if c.lastErr != nil {
			msg = c.lastErr.Error()
		}
		out[c.name] = msg
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(liveness, false))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(readiness, true))
}

// writeStatus responds {"status":"ok"} or 503 with the failing checks.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.ObjStart()
	e.FieldStart("status")
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")

		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
