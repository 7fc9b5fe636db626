package circuitbreaker

// Metrics records breaker state for monitoring backends. The concrete
// Prometheus implementation lives in internal/observability/metrics so the
// breaker itself stays free of registry wiring.
type Metrics interface {
	// RecordBreakerState records the current state of the named breaker.
	RecordBreakerState(name, state string)
}

// NoopMetrics discards all recordings.
type NoopMetrics struct{}

// RecordBreakerState does nothing.
func (NoopMetrics) RecordBreakerState(name, state string) {}
