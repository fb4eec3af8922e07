package boundary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultFetchTimeout is the default timeout for one geometry fetch.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts per request.
	DefaultMaxRetries = 2

	// DefaultMaxConcurrency bounds simultaneous outstanding HTTP requests.
	DefaultMaxConcurrency = 10

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20

	defaultPageSize = 1000
	defaultMaxPages = 20
)

// FetchOption configures a Fetcher.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout        time.Duration
	maxRetries     int
	baseBackoff    time.Duration
	client         *http.Client
	maxConcurrency int
	disabled       bool
	pageSize       int
	maxPages       int
	rps            float64
	burst          int
	cache          GeometryCache
	logger         *slog.Logger
	metrics        *Metrics
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:        DefaultFetchTimeout,
		maxRetries:     DefaultMaxRetries,
		baseBackoff:    defaultBaseBackoff,
		maxConcurrency: DefaultMaxConcurrency,
		pageSize:       defaultPageSize,
		maxPages:       defaultMaxPages,
		rps:            defaultRequestsPerSecond,
		burst:          defaultBurst,
	}
}

// WithTimeout sets the overall timeout of one fetch, paging included.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts per request.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// WithMaxConcurrency caps simultaneous outstanding HTTP requests.
func WithMaxConcurrency(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxConcurrency = n
	}
}

// WithFetchDisabled turns every fetch into an immediate "unavailable" result.
func WithFetchDisabled(disabled bool) FetchOption {
	return func(c *fetchConfig) {
		c.disabled = disabled
	}
}

// WithPaging sets the page size and the maximum number of pages per layer.
func WithPaging(pageSize, maxPages int) FetchOption {
	return func(c *fetchConfig) {
		c.pageSize = pageSize
		c.maxPages = maxPages
	}
}

// WithRateLimit sets the per-host token bucket.
func WithRateLimit(rps float64, burst int) FetchOption {
	return func(c *fetchConfig) {
		c.rps = rps
		c.burst = burst
	}
}

// WithCache sets the geometry cache. The default is an in-memory cache.
func WithCache(cache GeometryCache) FetchOption {
	return func(c *fetchConfig) {
		c.cache = cache
	}
}

// WithLogger sets the fetcher's logger.
func WithLogger(logger *slog.Logger) FetchOption {
	return func(c *fetchConfig) {
		c.logger = logger
	}
}

// WithMetrics records fetch outcomes in m.
func WithMetrics(m *Metrics) FetchOption {
	return func(c *fetchConfig) {
		c.metrics = m
	}
}

// statusError is a non-2xx response.
type statusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP GET %s: status %d", e.URL, e.StatusCode)
}

// retryable reports whether the failure may succeed on another attempt.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{
			URL:        url,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// getWithRetry issues a GET through the host limiter and concurrency cap,
// retrying transient failures with exponential backoff.
func (f *Fetcher) getWithRetry(ctx context.Context, host, url string) ([]byte, error) {
	limiter := f.limiters.For(host)
	attempts := max(1, f.cfg.maxRetries)

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			backoff := f.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrFetch, ctx.Err())
			case <-time.After(backoff):
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrFetch, err)
		}
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		f.stats.requests.Add(1)
		f.cfg.metrics.observeRequest()
		body, err := doFetch(ctx, f.client, url)
		f.sem.Release(1)
		if err == nil {
			return body, nil
		}

		lastErr = err
		var se *statusError
		if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
			limiter.Backoff(se.RetryAfter)
		}
		if !retryable(err) {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrFetch, lastErr)
}
