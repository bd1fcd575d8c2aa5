// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProjectionUpserts counts projector writes by kind (node|edge), type and outcome
	ProjectionUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "projection",
			Name:      "upserts_total",
			Help:      "Total number of graph projection writes by outcome",
		},
		[]string{"kind", "type", "outcome"},
	)

	// FanOutDeliveries counts per-recipient feed writes
	FanOutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "fanout",
			Name:      "deliveries_total",
			Help:      "Total number of feed record deliveries by outcome",
		},
		[]string{"outcome"},
	)

	FanOutPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "fanout",
			Name:      "publish_duration_seconds",
			Help:      "Duration of a publish including fan-out",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// FanOutRedeliveries counts retry worker outcomes (delivered|requeued|dropped)
	FanOutRedeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "fanout",
			Name:      "redeliveries_total",
			Help:      "Total number of queued redeliveries by outcome",
		},
		[]string{"outcome"},
	)

	// ReconcileDrift is graph count minus canonical count per type from the last run
	ReconcileDrift = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "reconcile",
			Name:      "drift",
			Help:      "Graph minus canonical count per entity or edge type",
		},
		[]string{"kind", "type"},
	)
)

func RecordProjection(kind, typ, outcome string) {
	ProjectionUpserts.WithLabelValues(kind, typ, outcome).Inc()
}

func RecordDelivery(outcome string) {
	FanOutDeliveries.WithLabelValues(outcome).Inc()
}

func RecordPublish(durationSeconds float64) {
	FanOutPublishDuration.Observe(durationSeconds)
}

func RecordRedelivery(outcome string) {
	FanOutRedeliveries.WithLabelValues(outcome).Inc()
}

func RecordDrift(kind, typ string, delta int64) {
	ReconcileDrift.WithLabelValues(kind, typ).Set(float64(delta))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
