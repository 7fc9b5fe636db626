// Package metrics exposes Prometheus instrumentation for the resilience
// layer: breaker states, recovery outcomes, service fleet health, and HTTP
// request statistics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// breakerStateValue maps breaker state names onto a gauge scale so
// dashboards can alert on anything above zero.
func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

// Recorder holds every collector the application registers.
type Recorder struct {
	breakerState      *prometheus.GaugeVec
	breakerTransition *prometheus.CounterVec

	recoveryTotal   *prometheus.CounterVec
	recoveryFailed  prometheus.Counter
	serviceHealth   *prometheus.GaugeVec
	serviceFallback prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder registers all collectors on the default registry.
func NewRecorder() *Recorder {
	return &Recorder{
		breakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		}, []string{"dependency"}),
		breakerTransition: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		}, []string{"dependency", "state"}),
		recoveryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "error_recovery_total",
			Help: "Error recoveries by strategy",
		}, []string{"strategy"}),
		recoveryFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "error_recovery_failed_total",
			Help: "Errors that fell through to the static fallback",
		}),
		serviceHealth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_healthy",
			Help: "Per-service health (1=healthy, 0=not)",
		}, []string{"service"}),
		serviceFallback: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "service_fallback_count",
			Help: "Services currently running on fallback implementations",
		}),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path, and status code",
		}, []string{"method", "path", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// RecordBreakerState satisfies the breaker Metrics interface.
func (r *Recorder) RecordBreakerState(dependency, state string) {
	r.breakerState.WithLabelValues(dependency).Set(breakerStateValue(state))
	r.breakerTransition.WithLabelValues(dependency, state).Inc()
}

// RecordRecovery counts one successful recovery by strategy.
func (r *Recorder) RecordRecovery(strategy string) {
	r.recoveryTotal.WithLabelValues(strategy).Inc()
}

// RecordRecoveryFailure counts one static-fallback recovery.
func (r *Recorder) RecordRecoveryFailure() {
	r.recoveryFailed.Inc()
}

// SetServiceHealth publishes one service's health flag.
func (r *Recorder) SetServiceHealth(service string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.serviceHealth.WithLabelValues(service).Set(v)
}

// SetFallbackCount publishes how many services run on fallbacks.
func (r *Recorder) SetFallbackCount(n int) {
	r.serviceFallback.Set(float64(n))
}

// RecordHTTPRequest counts one request and its latency.
func (r *Recorder) RecordHTTPRequest(method, path, status string, seconds float64) {
	r.httpRequests.WithLabelValues(method, path, status).Inc()
	r.httpDuration.WithLabelValues(method, path).Observe(seconds)
}
