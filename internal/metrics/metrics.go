// Package metrics exposes Prometheus metrics for the coordination core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all coordinator Prometheus metrics.
type Metrics struct {
	// Claim metrics
	ClaimsTotal    prometheus.Counter
	ClaimsEmpty    prometheus.Counter
	ItemsClaimed   prometheus.Counter
	ClaimBatchSize prometheus.Histogram

	// Terminal and retry metrics
	ItemsTerminal *prometheus.CounterVec
	ItemsRequeued prometheus.Counter
	Heartbeats    prometheus.Counter

	// Recovery metrics
	LeasesRecovered  prometheus.Counter
	LeasesExhausted  prometheus.Counter
	StuckResolutions prometheus.Counter

	// Circuit breaker state (0 closed, 1 open)
	BreakerState prometheus.Gauge
	BreakerTrips prometheus.Counter
}

// New initializes all coordinator metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith initializes all coordinator metrics on the given registry.
// Tests use a fresh registry to avoid duplicate registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	factory := promauto.With(reg)

	m.ClaimsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_claims_total",
		Help: "Total claim calls issued against the work queue",
	})
	m.ClaimsEmpty = factory.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_claims_empty_total",
		Help: "Claim calls that returned no items",
	})
	m.ItemsClaimed = factory.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_items_claimed_total",
		Help: "Total work items claimed",
	})
	m.ClaimBatchSize = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "coordinator_claim_batch_size",
		Help:    "Number of items returned per claim",
		Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
	})

	m.ItemsTerminal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_items_terminal_total",
		Help: "Work items marked terminal, by final status",
	}, []string{"status"})
	m.ItemsRequeued = factory.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_items_requeued_total",
		Help: "Work items requeued with backoff after a business failure",
	})
	m.Heartbeats = factory.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_heartbeats_total",
		Help: "Lease refresh writes that reached the store",
	})

	m.LeasesRecovered = factory.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_leases_recovered_total",
		Help: "Expired leases returned to pending by stale recovery",
	})
	m.LeasesExhausted = factory.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_leases_exhausted_total",
		Help: "Expired leases marked failed because attempts were exhausted",
	})
	m.StuckResolutions = factory.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_stuck_resolutions_total",
		Help: "Stuck-near-completion force resolutions",
	})

	m.BreakerState = factory.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open)",
	})
	m.BreakerTrips = factory.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_breaker_trips_total",
		Help: "Times the circuit breaker opened",
	})

	return m
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
