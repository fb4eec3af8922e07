package boundary

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSecond = 5.0
	defaultBurst             = 5

	// defaultRetryAfter applies when a 429 carries no usable Retry-After header.
	defaultRetryAfter = 10 * time.Second
	maxRetryAfter     = 2 * time.Minute
)

// hostLimiter throttles requests to one remote host with a token bucket and
// an optional backoff window set after a 429 response.
type hostLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// Wait blocks until a request can be made without exceeding the rate limit.
// It also respects any backoff period set by Backoff.
func (h *hostLimiter) Wait(ctx context.Context) error {
	h.mu.Lock()
	retryAt := h.retryAt
	h.mu.Unlock()

	if time.Now().Before(retryAt) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(retryAt)):
		}
	}

	return h.limiter.Wait(ctx)
}

// Backoff pauses the host for d, clamped to a sane window.
func (h *hostLimiter) Backoff(d time.Duration) {
	if d <= 0 {
		d = defaultRetryAfter
	}
	d = min(d, maxRetryAfter)

	h.mu.Lock()
	defer h.mu.Unlock()
	if until := time.Now().Add(d); until.After(h.retryAt) {
		h.retryAt = until
	}
}

// hostLimiters hands out one limiter per remote host.
type hostLimiters struct {
	mu       sync.Mutex
	limiters map[string]*hostLimiter
	rps      float64
	burst    int
}

func newHostLimiters(rps float64, burst int) *hostLimiters {
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &hostLimiters{
		limiters: make(map[string]*hostLimiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *hostLimiters) For(host string) *hostLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.limiters[host]
	if !ok {
		h = &hostLimiter{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.limiters[host] = h
	}
	return h
}
