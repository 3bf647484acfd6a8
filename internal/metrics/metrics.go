// Package metrics defines the counters and gauges the admin server
// exposes at /metrics (spec §A "ambient" plumbing; SPEC_FULL §B). It is
// bundled on the AppContext rather than kept as package-level state, per
// spec §9 "No process-wide singletons": a deployment that builds more
// than one AppContext (e.g. in tests) gets independent registries.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge the federator updates during
// request processing.
type Metrics struct {
	RoutesResolved     *prometheus.CounterVec
	WorkerFetchesTotal *prometheus.CounterVec
	RetryBudgetCutoffs *prometheus.CounterVec
	DrainBackpressure  *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	CacheResult        *prometheus.CounterVec
	ActiveRequests     prometheus.Gauge
}

// New constructs a Metrics bundle and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoutesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "federator_routes_resolved_total",
			Help: "Total number of routes resolved per service and level.",
		}, []string{"service", "level"}),

		WorkerFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "federator_worker_fetches_total",
			Help: "Total number of upstream endpoint fetches by outcome.",
		}, []string{"service", "outcome"}),

		RetryBudgetCutoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "federator_retry_budget_cutoffs_total",
			Help: "Total number of requests short-circuited by the retry budget.",
		}, []string{"service"}),

		DrainBackpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "federator_drain_backpressure_total",
			Help: "Total number of times a worker blocked on drain backpressure.",
		}, []string{"service"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "federator_request_duration_seconds",
			Help:    "Client-facing request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "status"}),

		CacheResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "federator_cache_result_total",
			Help: "Total number of cache lookups by result (hit/miss).",
		}, []string{"service", "result"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "federator_active_requests",
			Help: "Number of client requests currently being processed.",
		}),
	}

	reg.MustRegister(
		m.RoutesResolved,
		m.WorkerFetchesTotal,
		m.RetryBudgetCutoffs,
		m.DrainBackpressure,
		m.RequestDuration,
		m.CacheResult,
		m.ActiveRequests,
	)
	return m
}
