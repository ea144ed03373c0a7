package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyindex/polyindex/polyindex/metrics"
)

func TestRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ReindexDocuments.WithLabelValues(metrics.ResultIndexed).Add(3)
	m.ReindexFlushes.Inc()
	m.SyncDocTypes.WithLabelValues(metrics.ResultInstalled).Inc()
	m.BulkFlushSeconds.Observe(0.01)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ReindexDocuments.WithLabelValues(metrics.ResultIndexed)))
}

func TestNilRegistererIsAllowed(t *testing.T) {
	m := metrics.New(nil)
	m.ReindexFlushes.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReindexFlushes))
}
