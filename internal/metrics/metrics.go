package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "firewatch"

var (
	// RowsDropped counts stored rows that could not be turned into entities.
	RowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Rows skipped during aggregation because a field failed coercion",
		},
		[]string{"kind", "reason"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Latency of spatial store queries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"query"},
	)

	ZonesImported = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zones_imported_total",
			Help:      "Zones newly inserted by bulk imports",
		},
	)

	AreaCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "territory_area_cache_total",
			Help:      "Territory area cache lookups by result",
		},
		[]string{"result"},
	)

	IngestThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_throttled_total",
			Help:      "Telemetry writes rejected by the ingest rate limit",
		},
		[]string{"kind"},
	)
)

// DropRow records one skipped row.
func DropRow(kind, reason string) {
	RowsDropped.WithLabelValues(kind, reason).Inc()
}

// ObserveQuery starts a timer for the named query; call the returned func
// when the query is done.
func ObserveQuery(name string) func() {
	start := time.Now()
	return func() {
		QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}
