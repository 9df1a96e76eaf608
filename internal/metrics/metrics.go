// Package metrics holds the Prometheus collectors for upstream fetches,
// mosaics and the inbound HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tile fetch outcomes.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
)

var (
	// Upstream tile provider
	TileFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_tile_fetches_total",
			Help: "Upstream tile fetches by outcome",
		},
		[]string{"outcome"}, // hit, miss, failure, rejected, skipped
	)

	TileFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upstream_tile_fetch_duration_seconds",
			Help:    "Duration of upstream tile requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
	)

	// Mosaic compositor
	MosaicTiles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mosaic_tiles",
			Help:    "Number of tiles requested per mosaic",
			Buckets: []float64{1, 2, 4, 9, 16, 25, 36, 64, 128, 256},
		},
	)

	MosaicDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mosaic_duration_seconds",
			Help:    "Time spent composing a mosaic, fetches included",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Inbound HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Inbound HTTP requests by route pattern and status",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Inbound HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

// RecordTileFetch counts one fetch outcome; duration is ignored for outcomes
// that never reached the network.
func RecordTileFetch(outcome string, duration time.Duration) {
	TileFetches.WithLabelValues(outcome).Inc()
	if outcome == OutcomeRejected || outcome == OutcomeSkipped {
		return
	}
	TileFetchDuration.Observe(duration.Seconds())
}

// RecordMosaic records the fan-out size and total time of one mosaic.
func RecordMosaic(tiles int, duration time.Duration) {
	MosaicTiles.Observe(float64(tiles))
	MosaicDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records one inbound request.
func RecordHTTPRequest(method, route, statusCode string, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
