// Package metrics exposes prometheus collectors for ingestion runs and the index.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "knowledgescanner"

var (
	// RunsTotal counts ingestion passes by result (ok, fatal).
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion passes by result",
		},
		[]string{"result"},
	)

	// RunDuration observes wall-clock time of ingestion passes.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion passes",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// ItemsTotal counts items leaving each pipeline stage by outcome.
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items processed per stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	// SourceFailuresTotal counts isolated source fetch failures.
	SourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Source fetch failures by source name",
		},
		[]string{"source"},
	)

	// IndexOperationsTotal counts index status transitions.
	IndexOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_operations_total",
			Help:      "Index status transitions by resulting status",
		},
		[]string{"status"},
	)
)

// ObserveItems adds n to the stage/outcome counter when n is positive.
func ObserveItems(stage, outcome string, n int) {
	if n > 0 {
		ItemsTotal.WithLabelValues(stage, outcome).Add(float64(n))
	}
}
