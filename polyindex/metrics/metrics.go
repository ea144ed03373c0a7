// Package metrics holds the prometheus collectors of schema sync and reindex runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "polyindex"

	ResultIndexed  = "indexed"
	ResultRejected = "rejected"

	ResultInstalled = "installed"
	ResultFailed    = "failed"
)

type Metrics struct {
	ReindexDocuments *prometheus.CounterVec
	ReindexFlushes   prometheus.Counter
	SyncDocTypes     *prometheus.CounterVec
	BulkFlushSeconds prometheus.Histogram
}

// New builds the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests and one-shot CLI runs want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReindexDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reindex",
			Name:      "documents_total",
			Help:      "Documents submitted by bulk reindex runs, by item result.",
		}, []string{"result"}),
		ReindexFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reindex",
			Name:      "flushes_total",
			Help:      "Bulk requests issued by reindex runs.",
		}),
		SyncDocTypes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "doctypes_total",
			Help:      "Document type mappings installed by schema sync, by result.",
		}, []string{"result"}),
		BulkFlushSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_flush_seconds",
			Help:      "Latency of bulk requests.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ReindexDocuments, m.ReindexFlushes, m.SyncDocTypes, m.BulkFlushSeconds)
	}
	return m
}
