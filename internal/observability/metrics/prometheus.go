// Package metrics provides Prometheus metrics for the blood engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestsCreated     *prometheus.CounterVec
	RequestsFulfilled   prometheus.Counter
	RequestsCancelled   prometheus.Counter
	RoutingAssignments  prometheus.Counter
	RoutingEmptyPasses  prometheus.Counter
	ReserveFailures     prometheus.Counter
	DonationsRecorded   prometheus.Counter
	DonationsRejected   prometheus.Counter
	ProcessingDuration  prometheus.Histogram
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		RequestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blood_requests_created_total",
			Help: "Total blood requests created",
		}, []string{"priority"}),
		RequestsFulfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blood_requests_fulfilled_total",
			Help: "Total blood requests fulfilled or partially fulfilled",
		}),
		RequestsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blood_requests_cancelled_total",
			Help: "Total blood requests cancelled",
		}),
		RoutingAssignments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routing_assignments_created_total",
			Help: "Total routing assignments created by the policy engine",
		}),
		RoutingEmptyPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routing_empty_passes_total",
			Help: "Routing passes that found zero candidate banks",
		}),
		ReserveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_reserve_failures_total",
			Help: "Reservations rejected for insufficient stock",
		}),
		DonationsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donations_recorded_total",
			Help: "Total donations recorded",
		}),
		DonationsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donations_rejected_total",
			Help: "Donations rejected by the eligibility gate",
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_processing_duration_seconds",
			Help:    "Request operation processing duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.RequestsCreated,
		m.RequestsFulfilled,
		m.RequestsCancelled,
		m.RoutingAssignments,
		m.RoutingEmptyPasses,
		m.ReserveFailures,
		m.DonationsRecorded,
		m.DonationsRejected,
		m.ProcessingDuration,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
