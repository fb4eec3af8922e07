package boundary

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the run's Prometheus collectors in a private registry.
// All methods are safe on a nil receiver so metrics stay optional.
type Metrics struct {
	registry *prometheus.Registry

	FetchRequests  prometheus.Counter
	FetchFailures  prometheus.Counter
	CacheHits      prometheus.Counter
	LayersByTier   *prometheus.CounterVec
	Comparisons    *prometheus.CounterVec
	MergedLayers   prometheus.Counter
	CatalogSize    prometheus.Gauge
	RunDurationSec prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boundarymerge_fetch_requests_total",
			Help: "Total HTTP requests issued to layer query endpoints",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boundarymerge_fetch_failures_total",
			Help: "Total geometry fetches resolved as unavailable",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boundarymerge_cache_hits_total",
			Help: "Total geometry cache hits",
		}),
		LayersByTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boundarymerge_layers_validated_total",
			Help: "Layers validated, by quality tier",
		}, []string{"tier"}),
		Comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boundarymerge_comparisons_total",
			Help: "Pairwise comparisons, by classification",
		}, []string{"classification"}),
		MergedLayers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boundarymerge_merged_layers_total",
			Help: "Layers merged into a higher-priority duplicate",
		}),
		CatalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boundarymerge_catalog_layers",
			Help: "Layers in the deduplicated catalog",
		}),
		RunDurationSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boundarymerge_run_duration_seconds",
			Help: "Wall-clock duration of the last run",
		}),
	}
	m.registry.MustRegister(
		m.FetchRequests, m.FetchFailures, m.CacheHits, m.LayersByTier,
		m.Comparisons, m.MergedLayers, m.CatalogSize, m.RunDurationSec,
	)
	return m
}

func (m *Metrics) observeRequest() {
	if m != nil {
		m.FetchRequests.Inc()
	}
}

func (m *Metrics) observeFetchFailure() {
	if m != nil {
		m.FetchFailures.Inc()
	}
}

func (m *Metrics) observeCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) observeTier(t QualityTier) {
	if m != nil {
		m.LayersByTier.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) observeComparison(c Classification) {
	if m != nil {
		m.Comparisons.WithLabelValues(string(c)).Inc()
	}
}

func (m *Metrics) observeRun(merged, catalog int, seconds float64) {
	if m == nil {
		return
	}
	m.MergedLayers.Add(float64(merged))
	m.CatalogSize.Set(float64(catalog))
	m.RunDurationSec.Set(seconds)
}

// WriteTextfile writes all metrics in Prometheus text format to path, for the
// node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
