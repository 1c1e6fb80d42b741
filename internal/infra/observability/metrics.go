// Package observability exposes Prometheus metrics for the oracle network.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsSubmitted counts data requests accepted by the coordinator.
	RequestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_requests_submitted_total",
			Help: "Total data requests submitted to the oracle network",
		},
		[]string{"data_type"},
	)

	// ResponsesTotal counts provider responses by outcome.
	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_responses_total",
			Help: "Total provider responses by outcome (accepted/rejected)",
		},
		[]string{"outcome"},
	)

	// RequestsCompleted counts terminal request transitions by status.
	RequestsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_requests_completed_total",
			Help: "Total requests reaching a terminal status",
		},
		[]string{"status"},
	)

	// AggregationDuration observes aggregation latency per strategy.
	AggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_aggregation_duration_seconds",
			Help:    "Duration of response aggregation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// ProvidersRegistered gauges the current provider count.
	ProvidersRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oracle_providers_registered",
			Help: "Number of registered data providers",
		},
	)

	// ProviderReputation gauges each provider's current trust score.
	ProviderReputation = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oracle_provider_reputation",
			Help: "Current reputation score per provider",
		},
		[]string{"provider"},
	)

	// PublishesTotal counts on-chain publish attempts by outcome.
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_publishes_total",
			Help: "Total result publish attempts by outcome",
		},
		[]string{"chain", "outcome"},
	)
)

// RecordAggregation observes one aggregation run.
func RecordAggregation(strategy string, d time.Duration) {
	AggregationDuration.WithLabelValues(strategy).Observe(d.Seconds())
}
