package boundary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics()
	m.observeRequest()
	m.observeRequest()
	m.observeFetchFailure()
	m.observeTier(TierHigh)
	m.observeTier(TierHigh)
	m.observeTier(TierRejected)
	m.observeComparison(Duplicate)
	m.observeRun(3, 10, 1.25)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LayersByTier.WithLabelValues(string(TierHigh))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LayersByTier.WithLabelValues(string(TierRejected))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Comparisons.WithLabelValues(string(Duplicate))))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MergedLayers))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.CatalogSize))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.observeRequest()
	m.observeTier(TierLow)
	m.observeRun(1, 1, 1)
	assert.NoError(t, m.WriteTextfile("ignored.prom"))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.observeRun(0, 4, 0.5)
	path := filepath.Join(t.TempDir(), "boundarymerge.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "boundarymerge_catalog_layers 4"), string(data))
}
