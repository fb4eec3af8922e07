package boundary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const reasonFetchDisabled = "fetching disabled"

// Sample is the result of a validation-path fetch: up to n individual
// feature geometries of a layer.
type Sample struct {
	Geometries []orb.MultiPolygon
	Skipped    int  // malformed or non-polygonal features
	Available  bool // false when the fetch itself failed
	Disabled   bool // fetching is turned off for this run
	Reason     string
}

// Boundary is the result of a dedup-path fetch: every feature of a layer
// unioned into one geometry.
type Boundary struct {
	Geometry  orb.MultiPolygon
	Available bool
	Disabled  bool
	Reason    string
}

// BoundarySource supplies layer geometry. Implementations never return an
// error: failures resolve to an unavailable result.
type BoundarySource interface {
	FetchSample(ctx context.Context, layerURL string, n int) Sample
	FetchBoundary(ctx context.Context, layerURL string) Boundary
}

// FetchStats counts fetch activity for the run report.
type FetchStats struct {
	Requests        int64 `json:"requests"`
	Failures        int64 `json:"failures"`
	Timeouts        int64 `json:"timeouts"`
	CacheHits       int64 `json:"cache_hits"`
	Coalesced       int64 `json:"coalesced"`
	SkippedFeatures int64 `json:"skipped_features"`
}

type fetchCounters struct {
	requests, failures, timeouts, cacheHits, coalesced, skipped atomic.Int64
}

// Fetcher retrieves layer geometry from ArcGIS-style query endpoints.
// Concurrent requests for the same layer share one in-flight fetch, and
// outstanding HTTP requests are capped by a weighted semaphore.
type Fetcher struct {
	cfg      fetchConfig
	client   *http.Client
	sem      *semaphore.Weighted
	limiters *hostLimiters
	cache    GeometryCache
	logger   *slog.Logger

	group    singleflight.Group
	failures sync.Map // key -> reason; unavailable results are remembered for the run only
	stats    fetchCounters
}

// NewFetcher creates a Fetcher with the given options.
func NewFetcher(opts ...FetchOption) *Fetcher {
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	cache := cfg.cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Fetcher{
		cfg:      cfg,
		client:   client,
		sem:      semaphore.NewWeighted(int64(max(1, cfg.maxConcurrency))),
		limiters: newHostLimiters(cfg.rps, cfg.burst),
		cache:    cache,
		logger:   logger,
	}
}

// Stats returns a snapshot of the fetch counters.
func (f *Fetcher) Stats() FetchStats {
	return FetchStats{
		Requests:        f.stats.requests.Load(),
		Failures:        f.stats.failures.Load(),
		Timeouts:        f.stats.timeouts.Load(),
		CacheHits:       f.stats.cacheHits.Load(),
		Coalesced:       f.stats.coalesced.Load(),
		SkippedFeatures: f.stats.skipped.Load(),
	}
}

// queryURL builds the GeoJSON query URL for a layer endpoint.
func queryURL(layerURL string, offset, count int) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(layerURL))
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid layer URL: %v", ErrFetch, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("%w: unsupported URL scheme %q", ErrFetch, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/query"

	q := u.Query()
	q.Set("where", "1=1")
	q.Set("outFields", "")
	q.Set("returnGeometry", "true")
	q.Set("outSR", "4326")
	q.Set("f", "geojson")
	q.Set("resultOffset", strconv.Itoa(offset))
	q.Set("resultRecordCount", strconv.Itoa(count))
	u.RawQuery = q.Encode()
	return u.String(), u.Host, nil
}

// fetchPage requests and parses one page of features.
func (f *Fetcher) fetchPage(ctx context.Context, layerURL string, offset, count int) (featurePage, error) {
	q, host, err := queryURL(layerURL, offset, count)
	if err != nil {
		return featurePage{}, err
	}
	body, err := f.getWithRetry(ctx, host, q)
	if err != nil {
		return featurePage{}, err
	}
	return parseQueryPage(body)
}

// recordFailure counts a failed fetch and returns its reason string.
func (f *Fetcher) recordFailure(layerURL string, err error) string {
	f.stats.failures.Add(1)
	f.cfg.metrics.observeFetchFailure()
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		f.stats.timeouts.Add(1)
	}
	f.logger.Warn("geometry unavailable", "layer", layerURL, "error", err)
	return err.Error()
}

// FetchSample fetches up to n features of a layer for validation.
func (f *Fetcher) FetchSample(ctx context.Context, layerURL string, n int) Sample {
	if f.cfg.disabled {
		return Sample{Disabled: true, Reason: reasonFetchDisabled}
	}
	n = max(1, min(n, MaxSampleSize))
	key := "sample:" + strconv.Itoa(n) + ":" + layerURL
	if reason, ok := f.failures.Load(key); ok {
		return Sample{Reason: reason.(string)}
	}

	v, err, shared := f.group.Do(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.timeout)
		defer cancel()
		page, err := f.fetchPage(fctx, layerURL, 0, n)
		if err != nil {
			f.failures.Store(key, f.recordFailure(layerURL, err))
			return nil, err
		}
		f.stats.skipped.Add(int64(page.Skipped))
		if len(page.Polygons) > n {
			page.Polygons = page.Polygons[:n]
		}
		return page, nil
	})
	if shared {
		f.stats.coalesced.Add(1)
	}
	if err != nil {
		return Sample{Reason: err.Error()}
	}

	page := v.(featurePage)
	return Sample{Geometries: page.Polygons, Skipped: page.Skipped, Available: true}
}

// FetchBoundary fetches every feature of a layer and unions them into one
// boundary. Results are cached by layer URL.
func (f *Fetcher) FetchBoundary(ctx context.Context, layerURL string) Boundary {
	if f.cfg.disabled {
		return Boundary{Disabled: true, Reason: reasonFetchDisabled}
	}
	if g, ok, err := f.cache.Get(ctx, layerURL); err != nil {
		f.logger.Warn("geometry cache read failed", "layer", layerURL, "error", err)
	} else if ok {
		f.stats.cacheHits.Add(1)
		f.cfg.metrics.observeCacheHit()
		return Boundary{Geometry: g, Available: true}
	}
	if reason, ok := f.failures.Load(layerURL); ok {
		return Boundary{Reason: reason.(string)}
	}

	v, err, shared := f.group.Do(layerURL, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.timeout)
		defer cancel()

		g, err := f.fetchAll(fctx, layerURL)
		if err != nil {
			f.failures.Store(layerURL, f.recordFailure(layerURL, err))
			return nil, err
		}
		if err := f.cache.Put(fctx, layerURL, g); err != nil {
			f.logger.Warn("geometry cache write failed", "layer", layerURL, "error", err)
		}
		return g, nil
	})
	if shared {
		f.stats.coalesced.Add(1)
	}
	if err != nil {
		return Boundary{Reason: err.Error()}
	}
	return Boundary{Geometry: v.(orb.MultiPolygon), Available: true}
}

// fetchAll pages through a layer's features and unions them.
func (f *Fetcher) fetchAll(ctx context.Context, layerURL string) (orb.MultiPolygon, error) {
	pageSize := max(1, f.cfg.pageSize)
	maxPages := max(1, f.cfg.maxPages)

	var parts []orb.MultiPolygon
	offset := 0
	for page := 0; ; page++ {
		if page == maxPages {
			f.logger.Warn("layer truncated at page limit", "layer", layerURL, "pages", maxPages)
			break
		}
		p, err := f.fetchPage(ctx, layerURL, offset, pageSize)
		if err != nil {
			return nil, err
		}
		f.stats.skipped.Add(int64(p.Skipped))
		parts = append(parts, p.Polygons...)

		received := len(p.Polygons) + p.Skipped
		if !p.HasMore || received == 0 {
			break
		}
		offset += received
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no valid polygon features", ErrFetch)
	}

	cleaned := make([]orb.MultiPolygon, 0, len(parts))
	for _, p := range parts {
		closed, _ := closeRings(p)
		cleaned = append(cleaned, closed)
	}
	g, err := unionAll(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: union failed: %v", ErrFetch, err)
	}
	if len(g) == 0 {
		return nil, fmt.Errorf("%w: union produced an empty geometry", ErrFetch)
	}
	return g, nil
}
