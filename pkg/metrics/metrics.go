// Package metrics defines the Prometheus collectors of the rewrite service and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RewritesTotal        *prometheus.CounterVec
	RewriteLatency       prometheus.Histogram
	RewriteChildren      prometheus.Histogram
	StatsCacheHitsTotal  prometheus.Counter
	StatsCacheMisses     prometheus.Counter
	ExternalTableLoads   *prometheus.CounterVec
	ExternalTableEntries *prometheus.GaugeVec
	ExternalLoadWarnings *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RewritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rwsdm_rewrites_total",
				Help: "Rewritten operators by outcome (assembled, rejected).",
			},
			[]string{"outcome"},
		),
		RewriteLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rwsdm_rewrite_latency_seconds",
				Help:    "Time to rewrite one operator, statistics lookups included.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		RewriteChildren: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rwsdm_rewrite_children",
				Help:    "Children of each assembled #combine.",
				Buckets: []float64{1, 3, 5, 10, 20, 40, 80},
			},
		),
		StatsCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rwsdm_stats_cache_hits_total",
				Help: "Statistics lookups served from the per-rewrite cache.",
			},
		),
		StatsCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rwsdm_stats_cache_misses_total",
				Help: "Statistics lookups that reached the provider.",
			},
		),
		ExternalTableLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rwsdm_external_table_loads_total",
				Help: "External value tables read from disk.",
			},
			[]string{"path"},
		),
		ExternalTableEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rwsdm_external_table_entries",
				Help: "Entries held by each loaded external value table.",
			},
			[]string{"path"},
		),
		ExternalLoadWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rwsdm_external_load_warnings_total",
				Help: "Malformed lines skipped while loading external value tables.",
			},
			[]string{"path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RewritesTotal,
		m.RewriteLatency,
		m.RewriteChildren,
		m.StatsCacheHitsTotal,
		m.StatsCacheMisses,
		m.ExternalTableLoads,
		m.ExternalTableEntries,
		m.ExternalLoadWarnings,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveRewrite records one rewritten operator.
func (m *Metrics) ObserveRewrite(outcome string, children, cacheHits, cacheMisses int, elapsed time.Duration) {
	m.RewritesTotal.WithLabelValues(outcome).Inc()
	m.RewriteLatency.Observe(elapsed.Seconds())
	if children > 0 {
		m.RewriteChildren.Observe(float64(children))
	}
	m.StatsCacheHitsTotal.Add(float64(cacheHits))
	m.StatsCacheMisses.Add(float64(cacheMisses))
}

// ObserveTableLoad records one external value table read.
func (m *Metrics) ObserveTableLoad(path string, entries, warnings int, _ time.Duration) {
	m.ExternalTableLoads.WithLabelValues(path).Inc()
	m.ExternalTableEntries.WithLabelValues(path).Set(float64(entries))
	m.ExternalLoadWarnings.WithLabelValues(path).Add(float64(warnings))
}

// SetBreakerState records a circuit breaker transition. state follows the
// breaker's own numbering.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
