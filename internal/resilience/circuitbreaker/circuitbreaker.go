// Package circuitbreaker provides per-dependency failure isolation for
// external service calls. A breaker stops calling a failing dependency
// after a run of consecutive failures and probes it again after a cooldown,
// protecting both the caller and the struggling dependency.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"grant-scout/internal/apperr"
)

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed is the normal operating state; calls pass through.
	StateClosed State = iota

	// StateOpen means the dependency is considered down; calls fail fast
	// without invoking the wrapped operation.
	StateOpen

	// StateHalfOpen means the cooldown elapsed and probe calls are allowed
	// through to test recovery.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker is open and not yet eligible
// to probe. The wrapped operation is not invoked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Config holds the settings for one breaker.
type Config struct {
	// Name identifies the protected dependency in logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens
	// the circuit from closed.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// call transitions it to half-open. The transition is call-triggered,
	// not timer-driven: with no traffic the breaker stays open.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit.
	SuccessThreshold int

	// CallTimeout bounds each wrapped call independently of the breaker's
	// own timers. Expiry counts as a failure.
	CallTimeout time.Duration

	// Clock provides time abstraction for testing. Defaults to SystemClock.
	Clock Clock

	// Metrics records state transitions. Defaults to NoopMetrics.
	Metrics Metrics
}

// DefaultConfig returns breaker settings suitable for most dependencies.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		CallTimeout:      10 * time.Second,
	}
}

// DocStoreConfig returns settings tuned for the primary data store:
// fast per-call timeout, quick recovery probing.
func DocStoreConfig() Config {
	return Config{
		Name:             "docstore",
		FailureThreshold: 5,
		RecoveryTimeout:  15 * time.Second,
		SuccessThreshold: 2,
		CallTimeout:      5 * time.Second,
	}
}

// VectorSearchConfig returns settings for the embedding/vector search path.
func VectorSearchConfig() Config {
	return Config{
		Name:             "vector-search",
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		CallTimeout:      15 * time.Second,
	}
}

// ResearchAPIConfig returns settings for the research/search API. Longer
// call timeout because model responses are slow; longer cooldown because
// provider outages tend to last minutes.
func ResearchAPIConfig() Config {
	return Config{
		Name:             "research-api",
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 1,
		CallTimeout:      45 * time.Second,
	}
}

// NotifierConfig returns settings for the notification webhook.
func NotifierConfig() Config {
	return Config{
		Name:             "notifier",
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
		CallTimeout:      10 * time.Second,
	}
}

// CircuitBreaker is a per-dependency failure-isolation state machine.
// All state mutation is serialized behind a single mutex; concurrent
// callers racing on the counters would otherwise corrupt transitions.
type CircuitBreaker struct {
	config Config

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastSuccessTime time.Time
}

// New creates a breaker with the given configuration, applying defaults
// for zero-valued thresholds.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}

	cb := &CircuitBreaker{
		config: cfg,
		state:  StateClosed,
	}
	cfg.Metrics.RecordBreakerState(cfg.Name, StateClosed.String())
	return cb
}

// Execute runs op under the breaker's call timeout. When the circuit is
// open and the cooldown has not elapsed, it returns ErrCircuitOpen without
// invoking op. A call that exceeds CallTimeout counts as a failure; a call
// aborted by the caller's own context counts as neither success nor
// failure, because it says nothing about the dependency. Not-found and
// validation results count as successes: the dependency answered.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	err := op(callCtx)

	if err != nil && ctx.Err() != nil {
		// External abort: the caller's own context ended, so the outcome
		// says nothing about the dependency.
		return err
	}

	if err != nil && isDependencyFailure(err) {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return err
}

// isDependencyFailure reports whether the error says anything bad about
// the dependency. Caller mistakes get a well-formed answer from a healthy
// dependency and must not trip the circuit.
func isDependencyFailure(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindValidation:
		return false
	default:
		return true
	}
}

// beforeCall enforces the open-state fast-fail and performs the lazy
// open-to-half-open transition once the cooldown has elapsed.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}

	now := cb.config.Clock.Now()
	if now.Sub(cb.lastFailureTime) < cb.config.RecoveryTimeout {
		return ErrCircuitOpen
	}

	cb.transition(StateHalfOpen)
	return nil
}

// recordSuccess updates counters and closes the circuit after enough
// consecutive half-open successes.
func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastSuccessTime = cb.config.Clock.Now()

	switch cb.state {
	case StateClosed:
		// A success while closed clears the failure run without a full reset.
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		cb.failureCount = 0
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	case StateOpen:
		// Unreachable through Execute; left as-is for direct recorders.
	}
}

// recordFailure updates counters and opens the circuit when the failure
// threshold is reached, or immediately on any half-open failure.
func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.config.Clock.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		cb.successCount = 0
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// Single strike: no partial credit for earlier probe successes.
		cb.failureCount++
		cb.successCount = 0
		cb.transition(StateOpen)
	case StateOpen:
		cb.failureCount++
	}
}

// transition changes state, resets the counter the new state does not use,
// and logs the change. Callers must hold cb.mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
	case StateHalfOpen:
		cb.successCount = 0
	case StateOpen:
		cb.successCount = 0
	}

	cb.config.Metrics.RecordBreakerState(cb.config.Name, to.String())

	slog.Warn("circuit breaker state changed",
		slog.String("circuit", cb.config.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("failure_count", cb.failureCount),
		slog.Duration("recovery_timeout", cb.config.RecoveryTimeout))
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker's dependency name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// Reset forces the breaker back to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transition(StateClosed)
	} else {
		cb.failureCount = 0
		cb.successCount = 0
	}
}

// Stats is a point-in-time snapshot of one breaker.
type Stats struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	FailureCount     int       `json:"failure_count"`
	SuccessCount     int       `json:"success_count"`
	LastFailureTime  time.Time `json:"last_failure_time"`
	LastSuccessTime  time.Time `json:"last_success_time"`
	FailureThreshold int       `json:"failure_threshold"`
	RecoveryTimeout  string    `json:"recovery_timeout"`
	SuccessThreshold int       `json:"success_threshold"`
	CallTimeout      string    `json:"call_timeout"`
}

// Stats returns the current snapshot.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:             cb.config.Name,
		State:            cb.state.String(),
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		LastFailureTime:  cb.lastFailureTime,
		LastSuccessTime:  cb.lastSuccessTime,
		FailureThreshold: cb.config.FailureThreshold,
		RecoveryTimeout:  cb.config.RecoveryTimeout.String(),
		SuccessThreshold: cb.config.SuccessThreshold,
		CallTimeout:      cb.config.CallTimeout.String(),
	}
}
