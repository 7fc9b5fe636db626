package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grant-scout/internal/apperr"
)

// fakeClock is a manually advanced clock for deterministic transitions.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func failingOp(context.Context) error { return errBoom }

func testConfig(clock Clock) Config {
	return Config{
		Name:             "test",
		FailureThreshold: 3,
		RecoveryTimeout:  time.Second,
		SuccessThreshold: 2,
		CallTimeout:      time.Second,
		Clock:            clock,
	}
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig(newFakeClock()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failingOp); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected errBoom, got %v", i, err)
		}
	}

	if got := cb.State(); got != StateOpen {
		t.Fatalf("expected open after threshold failures, got %s", got)
	}
}

func TestExecute_FastFailsWhileOpen(t *testing.T) {
	cb := New(testConfig(newFakeClock()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failingOp)
	}

	// Hundreds of calls while open: the operation must never be invoked.
	invoked := 0
	for i := 0; i < 200; i++ {
		err := cb.Execute(ctx, func(context.Context) error {
			invoked++
			return nil
		})
		if !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: expected ErrCircuitOpen, got %v", i, err)
		}
	}
	if invoked != 0 {
		t.Fatalf("operation invoked %d times while open", invoked)
	}
}

func TestExecute_ProbesAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	cb := New(testConfig(clock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failingOp)
	}

	clock.Advance(1100 * time.Millisecond)

	invoked := 0
	err := cb.Execute(ctx, func(context.Context) error {
		invoked++
		return nil
	})
	if err != nil {
		t.Fatalf("expected probe success, got %v", err)
	}
	if invoked != 1 {
		t.Fatalf("expected exactly one invocation, got %d", invoked)
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("expected half_open after one probe success, got %s", got)
	}
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := New(testConfig(clock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failingOp)
	}
	clock.Advance(1100 * time.Millisecond)

	// One probe success, then a failure: no partial credit.
	if err := cb.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	_ = cb.Execute(ctx, failingOp)

	if got := cb.State(); got != StateOpen {
		t.Fatalf("expected open after half-open failure, got %s", got)
	}
}

func TestExecute_ClosesAfterSuccessThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := New(testConfig(clock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failingOp)
	}
	clock.Advance(1100 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}

	if got := cb.State(); got != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", got)
	}

	stats := cb.Stats()
	if stats.FailureCount != 0 || stats.SuccessCount != 0 {
		t.Fatalf("expected counters reset, got failures=%d successes=%d",
			stats.FailureCount, stats.SuccessCount)
	}
}

func TestExecute_SuccessWhileClosedResetsFailureRun(t *testing.T) {
	cb := New(testConfig(newFakeClock()))
	ctx := context.Background()

	_ = cb.Execute(ctx, failingOp)
	_ = cb.Execute(ctx, failingOp)
	if err := cb.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("success call: %v", err)
	}

	if stats := cb.Stats(); stats.FailureCount != 0 {
		t.Fatalf("expected failure count reset, got %d", stats.FailureCount)
	}
	// Two more failures must not open the breaker (threshold is 3).
	_ = cb.Execute(ctx, failingOp)
	_ = cb.Execute(ctx, failingOp)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestExecute_CallTimeoutCountsAsFailure(t *testing.T) {
	cfg := testConfig(newFakeClock())
	cfg.FailureThreshold = 1
	cfg.CallTimeout = 20 * time.Millisecond
	cb := New(cfg)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(500 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("expected internal timeout to count as failure, got %s", got)
	}
}

func TestExecute_NotFoundDoesNotTripBreaker(t *testing.T) {
	cfg := testConfig(newFakeClock())
	cfg.FailureThreshold = 2
	cb := New(cfg)
	ctx := context.Background()

	// Lookups for missing entities are caller mistakes answered by a
	// healthy dependency; a run of them must not open the circuit.
	notFound := apperr.New(apperr.KindNotFound, "no such grant")
	for i := 0; i < 10; i++ {
		err := cb.Execute(ctx, func(context.Context) error { return notFound })
		if !errors.Is(err, notFound) {
			t.Fatalf("call %d: expected the lookup error back, got %v", i, err)
		}
	}

	if got := cb.State(); got != StateClosed {
		t.Fatalf("expected closed after not-found run, got %s", got)
	}
	if stats := cb.Stats(); stats.FailureCount != 0 {
		t.Fatalf("not-found recorded as failure: count=%d", stats.FailureCount)
	}
}

func TestExecute_ValidationErrorResetsFailureRun(t *testing.T) {
	cfg := testConfig(newFakeClock())
	cb := New(cfg)
	ctx := context.Background()

	_ = cb.Execute(ctx, failingOp)
	_ = cb.Execute(ctx, failingOp)

	vErr := apperr.New(apperr.KindValidation, "bad filter")
	_ = cb.Execute(ctx, func(context.Context) error { return vErr })

	// The validation answer counts as a success while closed.
	if stats := cb.Stats(); stats.FailureCount != 0 {
		t.Fatalf("expected failure run cleared, got %d", stats.FailureCount)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestExecute_CallerCancellationNotCounted(t *testing.T) {
	cfg := testConfig(newFakeClock())
	cfg.FailureThreshold = 1
	cb := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Execute(ctx, func(opCtx context.Context) error {
		cancel()
		<-opCtx.Done()
		return opCtx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}

	stats := cb.Stats()
	if stats.FailureCount != 0 {
		t.Fatalf("cancelled call recorded as failure: count=%d", stats.FailureCount)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

// Scenario from the operations runbook: threshold 2, recovery 1s, success
// threshold 1. Fail, fail, fast-fail, wait, succeed, closed.
func TestExecute_RecoveryScenario(t *testing.T) {
	clock := newFakeClock()
	cb := New(Config{
		Name:             "scenario",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Second,
		SuccessThreshold: 1,
		CallTimeout:      time.Second,
		Clock:            clock,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failingOp)
	_ = cb.Execute(ctx, failingOp)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	invoked := false
	err := cb.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) || invoked {
		t.Fatalf("expected fast-fail without invocation, err=%v invoked=%v", err, invoked)
	}

	clock.Advance(1100 * time.Millisecond)
	if err := cb.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("recovery probe: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("expected closed after recovery, got %s", got)
	}
}

func TestReset(t *testing.T) {
	cb := New(testConfig(newFakeClock()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failingOp)
	}
	cb.Reset()

	if got := cb.State(); got != StateClosed {
		t.Fatalf("expected closed after reset, got %s", got)
	}
	if err := cb.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}
