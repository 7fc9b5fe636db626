package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grant-scout/internal/apperr"
	"grant-scout/pkg/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
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

func budget(minute, daily int) config.BudgetConfig {
	return config.BudgetConfig{
		MinuteLimit: minute,
		DailyLimit:  daily,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
	}
}

func TestDo_SixthCallDelayedNotRejected(t *testing.T) {
	// Shrink the rolling window to 500ms so the refill delay is testable.
	g := newGuard("test-api", budget(5, 100), 500*time.Millisecond, newFakeClock())
	ctx := context.Background()

	calls := 0
	op := func(context.Context) error {
		calls++
		return nil
	}

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := g.Do(ctx, op); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	burstElapsed := time.Since(start)
	if burstElapsed > 200*time.Millisecond {
		t.Fatalf("first 5 calls should pass immediately, took %s", burstElapsed)
	}

	// The 6th call must wait for a token (≈100ms refill) rather than fail.
	start = time.Now()
	if err := g.Do(ctx, op); err != nil {
		t.Fatalf("6th call should be delayed, not rejected: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("6th call was not delayed (took %s)", elapsed)
	}
	if calls != 6 {
		t.Fatalf("expected 6 operation invocations, got %d", calls)
	}
}

func TestDo_DailyQuotaFailsFast(t *testing.T) {
	clock := newFakeClock()
	g := newGuard("test-api", budget(100, 3), 10*time.Millisecond, clock)
	ctx := context.Background()

	op := func(context.Context) error { return nil }
	for i := 0; i < 3; i++ {
		if err := g.Do(ctx, op); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	invoked := false
	err := g.Do(ctx, func(context.Context) error {
		invoked = true
		return nil
	})

	var quotaErr *apperr.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if invoked {
		t.Fatal("operation must not run once the daily quota is exhausted")
	}
	if apperr.KindOf(err) != apperr.KindQuotaExceeded {
		t.Fatalf("expected quota kind, got %s", apperr.KindOf(err))
	}
}

func TestDo_DailyQuotaResetsAtMidnightUTC(t *testing.T) {
	clock := newFakeClock()
	g := newGuard("test-api", budget(100, 2), 10*time.Millisecond, clock)
	ctx := context.Background()

	op := func(context.Context) error { return nil }
	_ = g.Do(ctx, op)
	_ = g.Do(ctx, op)

	var quotaErr *apperr.QuotaError
	if err := g.Do(ctx, op); !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}

	clock.Advance(24 * time.Hour)
	if err := g.Do(ctx, op); err != nil {
		t.Fatalf("expected quota reset after day rollover, got %v", err)
	}
}

func TestDo_RetriesOnServerHint(t *testing.T) {
	g := newGuard("test-api", budget(100, 100), 10*time.Millisecond, newFakeClock())
	ctx := context.Background()

	calls := 0
	err := g.Do(ctx, func(context.Context) error {
		calls++
		if calls == 1 {
			return &apperr.RateLimitError{ResetAfter: 15 * time.Millisecond}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected recovery after hint wait, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDo_BacksOffWithoutHint(t *testing.T) {
	g := newGuard("test-api", budget(100, 100), 10*time.Millisecond, newFakeClock())
	ctx := context.Background()

	calls := 0
	err := g.Do(ctx, func(context.Context) error {
		calls++
		return &apperr.RateLimitError{}
	})

	var rle *apperr.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected rate-limit error after exhausted retries, got %v", err)
	}
	if calls != maxRateLimitRetries {
		t.Fatalf("expected %d attempts, got %d", maxRateLimitRetries, calls)
	}
}

func TestDo_NonRateLimitErrorReturnedImmediately(t *testing.T) {
	g := newGuard("test-api", budget(100, 100), 10*time.Millisecond, newFakeClock())

	boom := errors.New("boom")
	calls := 0
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestStats(t *testing.T) {
	g := newGuard("test-api", budget(5, 10), 10*time.Millisecond, newFakeClock())
	_ = g.Do(context.Background(), func(context.Context) error { return nil })

	s := g.Stats()
	if s.UsedToday != 1 || s.Remaining != 9 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}
