package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client limiter.
type RateLimitConfig struct {
	// Max requests per Window. Zero disables limiting.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client; defaults to the RemoteAddr host. Put
	// chi's RealIP in front to honour proxy headers.
	KeyFunc func(*http.Request) string
}

// counter approximates a sliding window from the current and previous
// fixed windows.
type counter struct {
	start time.Time
	curr  int
	prev  int
}

type limiter struct {
	max     int
	window  time.Duration
	keyFunc func(*http.Request) string

	mu       sync.Mutex
	counters map[string]*counter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		max:      cfg.Max,
		window:   cfg.Window,
		keyFunc:  cfg.KeyFunc,
		counters: make(map[string]*counter),
	}
	if l.keyFunc == nil {
		l.keyFunc = remoteHost
	}
	if l.window <= 0 {
		l.window = time.Minute
	}
	return l
}

// take records a hit for key. It reports the remaining budget, when the
// current window ends, and whether the hit is allowed.
func (l *limiter) take(key string, now time.Time) (int, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.window)
	c, ok := l.counters[key]
	switch {
	case !ok:
		c = &counter{start: start}
		l.counters[key] = c
	case start.Sub(c.start) == l.window:
		c.prev, c.curr, c.start = c.curr, 0, start
	case start.Sub(c.start) > l.window:
		c.prev, c.curr, c.start = 0, 0, start
	}

	weight := 1 - float64(now.Sub(start))/float64(l.window)
	used := int(float64(c.prev)*weight) + c.curr
	reset := start.Add(l.window)
	if used >= l.max {
		return 0, reset, false
	}
	c.curr++
	return max(l.max-used-1, 0), reset, true
}

func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if now.Sub(c.start) >= 2*l.window {
			delete(l.counters, key)
		}
	}
}

func (l *limiter) handler(next http.Handler) http.Handler {
	limit := strconv.Itoa(l.max)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		remaining, reset, ok := l.take(l.keyFunc(r), now)

		h := w.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			wait := max(reset.Sub(now), time.Second)
			h.Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit limits each client to cfg.Max requests per cfg.Window. State is
// kept in process and evicted every two windows until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg)
	go func() {
		t := time.NewTicker(2 * l.window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.evict(now)
			}
		}
	}()
	return l.handler
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
