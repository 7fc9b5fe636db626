// Package ratelimit guards a single external-API call path with request
// budget tracking. Calls over the rolling minute budget are delayed, not
// rejected; calls past the daily quota fail fast until the next UTC day;
// provider rate-limit signals are absorbed with a wait-and-retry that
// honors the server-supplied reset hint when one is available.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"grant-scout/internal/apperr"
	"grant-scout/pkg/config"
)

// Clock abstracts time for testing the daily quota window.
type Clock interface {
	Now() time.Time
}

// systemClock is the production clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// maxRateLimitRetries bounds the wait-and-retry loop for provider
// rate-limit responses within one guarded call.
const maxRateLimitRetries = 3

// Guard wraps one external API call path with budget tracking.
type Guard struct {
	name    string
	cfg     config.BudgetConfig
	limiter *rate.Limiter
	clock   Clock

	mu        sync.Mutex
	windowDay time.Time
	usedToday int
}

// New creates a guard for the named API using its budget configuration.
func New(name string, cfg config.BudgetConfig) *Guard {
	return newGuard(name, cfg, time.Minute, systemClock{})
}

// newGuard allows tests to shrink the rolling window and inject a clock.
func newGuard(name string, cfg config.BudgetConfig, window time.Duration, clock Clock) *Guard {
	if cfg.MinuteLimit <= 0 {
		cfg.MinuteLimit = 50
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 1000
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 60 * time.Second
	}

	// Token bucket sized to the per-window budget: the first MinuteLimit
	// calls pass immediately, further calls wait for refill.
	perToken := window / time.Duration(cfg.MinuteLimit)
	limiter := rate.NewLimiter(rate.Every(perToken), cfg.MinuteLimit)

	return &Guard{
		name:    name,
		cfg:     cfg,
		limiter: limiter,
		clock:   clock,
	}
}

// Do executes fn under the guard. The daily quota is checked first and
// fails fast with a QuotaError; the minute budget then delays the call as
// needed. Provider rate-limit errors are retried after the reset hint (or
// exponential backoff without one), up to a bounded number of attempts.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.consumeDailyQuota(); err != nil {
		return err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	delay := g.cfg.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= maxRateLimitRetries; attempt++ {
		lastErr = fn(ctx)

		var rle *apperr.RateLimitError
		if !errors.As(lastErr, &rle) {
			return lastErr
		}

		wait := rle.ResetAfter
		if wait <= 0 {
			wait = delay
			delay *= 2
			if delay > g.cfg.BackoffMax {
				delay = g.cfg.BackoffMax
			}
		}

		slog.Warn("api rate limited, waiting before retry",
			slog.String("api", g.name),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Bool("server_hint", rle.ResetAfter > 0))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// consumeDailyQuota reserves one call against the daily budget, rolling
// the window at UTC midnight. Exhaustion is a quota error, not a per-call
// transient: it must not feed retry loops or breaker failure counts.
func (g *Guard) consumeDailyQuota() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.clock.Now().UTC().Truncate(24 * time.Hour)
	if !g.windowDay.Equal(today) {
		g.windowDay = today
		g.usedToday = 0
	}

	if g.usedToday >= g.cfg.DailyLimit {
		return &apperr.QuotaError{ResetAt: today.Add(24 * time.Hour)}
	}

	g.usedToday++
	return nil
}

// Stats is a snapshot of the guard's budget consumption.
type Stats struct {
	Name        string `json:"name"`
	MinuteLimit int    `json:"minute_limit"`
	DailyLimit  int    `json:"daily_limit"`
	UsedToday   int    `json:"used_today"`
	Remaining   int    `json:"remaining_today"`
}

// Stats returns the current budget snapshot.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.cfg.DailyLimit - g.usedToday
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		Name:        g.name,
		MinuteLimit: g.cfg.MinuteLimit,
		DailyLimit:  g.cfg.DailyLimit,
		UsedToday:   g.usedToday,
		Remaining:   remaining,
	}
}
