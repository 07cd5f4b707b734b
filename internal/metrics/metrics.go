// Package metrics registers the Prometheus collectors shared across the
// pipeline. Exposed via promhttp on the ops HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheRequests counts tier lookups by outcome (hit/miss).
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maverick_cache_requests_total",
		Help: "Cache lookups by tier and outcome",
	}, []string{"tier", "result"})

	// ProviderFetches counts provider calls by outcome
	// (ok/error/no_data/breaker_open).
	ProviderFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maverick_provider_fetches_total",
		Help: "Provider bar fetches by provider and outcome",
	}, []string{"provider", "result"})

	// BreakerState tracks circuit state per provider
	// (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "maverick_breaker_state",
		Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
	}, []string{"provider"})

	// AlgorithmRuns counts screening runs by terminal status.
	AlgorithmRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maverick_algorithm_runs_total",
		Help: "Screening algorithm runs by status",
	}, []string{"algorithm", "status"})

	// CycleDuration observes full scheduler cycle durations.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "maverick_cycle_duration_seconds",
		Help:    "Scheduler cycle duration",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// BarsUpserted counts bar rows written during refresh.
	BarsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maverick_bars_upserted_total",
		Help: "Daily bar rows upserted",
	})
)
