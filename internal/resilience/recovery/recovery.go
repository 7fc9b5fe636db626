// Package recovery turns request-boundary errors into usable results where
// possible. A manager runs an ordered chain of (predicate, handler) pairs
// over the closed error taxonomy: retry for transient failures, stale
// cached results, registered degraded behaviors, and finally a static
// labeled fallback. Validation and not-found errors bypass the chain.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"grant-scout/internal/apperr"
	"grant-scout/internal/resilience/retry"
)

// OpContext describes the failed operation to the recovery chain.
type OpContext struct {
	// Operation names the failed operation ("grant_search", "research", ...).
	// Degraded behaviors are registered against this name.
	Operation string

	// CacheKey identifies prior successful results usable as stale
	// fallbacks. Empty disables the cache strategy.
	CacheKey string

	// Attempt re-invokes the original operation. Nil disables the retry
	// strategy.
	Attempt func(context.Context) (any, error)
}

// Result is a recovered response. Strategy names which handler produced
// it; Stale and Fallback let callers and logs distinguish degraded answers
// from real ones.
type Result struct {
	Value    any    `json:"value,omitempty"`
	Strategy string `json:"strategy"`
	Stale    bool   `json:"stale,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	Message  string `json:"message,omitempty"`
}

// attemptKey identifies a recovery attempt stream.
type attemptKey struct {
	kind apperr.Kind
	ctx  string
}

// attemptRecord tracks repeated recovery attempts for one key.
type attemptRecord struct {
	count        int
	successCount int
	lastAttempt  time.Time
}

const (
	// attemptSaturation is the per-key attempt count past which the retry
	// strategy stands down until the cooldown elapses.
	attemptSaturation = 10

	// attemptCooldown is how long a saturated record rests before its
	// counter resets.
	attemptCooldown = 5 * time.Minute
)

// handler is one link of the chain: a predicate over (kind, context) and
// the recovery function it gates.
type handler struct {
	name    string
	applies func(kind apperr.Kind, oc OpContext) bool
	recover func(ctx context.Context, kind apperr.Kind, oc OpContext) (*Result, error)
}

// Metrics receives recovery outcomes. Implemented by the Prometheus
// recorder; the default is a no-op.
type Metrics interface {
	RecordRecovery(strategy string)
	RecordRecoveryFailure()
}

type noopMetrics struct{}

func (noopMetrics) RecordRecovery(string)  {}
func (noopMetrics) RecordRecoveryFailure() {}

// Stats aggregates recovery outcomes for monitoring.
type Stats struct {
	TotalErrors      int64            `json:"total_errors"`
	Recovered        int64            `json:"recovered"`
	FailedRecoveries int64            `json:"failed_recoveries"`
	ByStrategy       map[string]int64 `json:"by_strategy"`
}

// Manager runs the recovery chain and tracks attempt records and counters.
type Manager struct {
	retryCfg retry.Config
	cache    *lru.Cache[string, any]
	group    singleflight.Group

	mu       sync.Mutex
	attempts map[attemptKey]*attemptRecord
	degraded map[string]func(context.Context, OpContext) (any, error)
	stats    Stats
	metrics  Metrics

	chain []handler
}

// SetMetrics installs a metrics sink. Call before serving traffic.
func (m *Manager) SetMetrics(metrics Metrics) {
	if metrics != nil {
		m.metrics = metrics
	}
}

// NewManager creates a recovery manager. cacheSize bounds the last-good
// result cache; retryCfg drives the retry strategy.
func NewManager(retryCfg retry.Config, cacheSize int) (*Manager, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, any](cacheSize)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		retryCfg: retryCfg,
		cache:    cache,
		attempts: make(map[attemptKey]*attemptRecord),
		degraded: make(map[string]func(context.Context, OpContext) (any, error)),
		metrics:  noopMetrics{},
	}
	m.stats.ByStrategy = make(map[string]int64)

	// Order matters: first match wins.
	m.chain = []handler{
		{name: "retry", applies: m.retryApplies, recover: m.retryRecover},
		{name: "cache", applies: m.cacheApplies, recover: m.cacheRecover},
		{name: "degraded", applies: m.degradedApplies, recover: m.degradedRecover},
	}

	return m, nil
}

// RegisterDegraded registers a degraded behavior for an operation name,
// e.g. an empty grant list with an explanatory message for search.
func (m *Manager) RegisterDegraded(operation string, fn func(context.Context, OpContext) (any, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded[operation] = fn
}

// RecordSuccess stores a last-good result for later stale fallback.
func (m *Manager) RecordSuccess(cacheKey string, value any) {
	if cacheKey == "" {
		return
	}
	m.cache.Add(cacheKey, value)
}

// Recover attempts to produce a usable result for err. Validation and
// not-found errors are returned unchanged: they are caller mistakes, not
// dependency failures. Every other error walks the chain; a handler that
// itself fails is skipped. The static fallback always terminates the
// chain with a labeled generic result and counts as a failed recovery.
func (m *Manager) Recover(ctx context.Context, err error, oc OpContext) (*Result, error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindValidation || kind == apperr.KindNotFound {
		return nil, err
	}

	m.mu.Lock()
	m.stats.TotalErrors++
	rec := m.touchAttempt(kind, oc)
	m.mu.Unlock()

	for _, h := range m.chain {
		if !h.applies(kind, oc) {
			continue
		}

		res, hErr := h.recover(ctx, kind, oc)
		if hErr != nil {
			slog.Warn("recovery handler failed, trying next",
				slog.String("handler", h.name),
				slog.String("operation", oc.Operation),
				slog.String("error_kind", kind.String()),
				slog.Any("error", hErr))
			continue
		}

		m.mu.Lock()
		m.stats.Recovered++
		m.stats.ByStrategy[h.name]++
		rec.successCount++
		rec.count = 0
		m.mu.Unlock()
		m.metrics.RecordRecovery(h.name)

		slog.Info("error recovered",
			slog.String("handler", h.name),
			slog.String("operation", oc.Operation),
			slog.String("error_kind", kind.String()))
		return res, nil
	}

	// Catch-all: never raises, always a labeled generic response.
	m.mu.Lock()
	m.stats.FailedRecoveries++
	m.stats.ByStrategy["static"]++
	m.mu.Unlock()
	m.metrics.RecordRecoveryFailure()

	return &Result{
		Strategy: "static",
		Fallback: true,
		Message:  "service temporarily unavailable, please retry later",
	}, nil
}

// touchAttempt updates the attempt record for (kind, context key), resetting
// a saturated record once the cooldown has elapsed. Callers hold m.mu.
func (m *Manager) touchAttempt(kind apperr.Kind, oc OpContext) *attemptRecord {
	key := attemptKey{kind: kind, ctx: oc.Operation + "|" + oc.CacheKey}
	rec, ok := m.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		m.attempts[key] = rec
	}

	if rec.count >= attemptSaturation && time.Since(rec.lastAttempt) >= attemptCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastAttempt = time.Now()
	return rec
}

// Stats returns a copy of the aggregate counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Stats{
		TotalErrors:      m.stats.TotalErrors,
		Recovered:        m.stats.Recovered,
		FailedRecoveries: m.stats.FailedRecoveries,
		ByStrategy:       make(map[string]int64, len(m.stats.ByStrategy)),
	}
	for k, v := range m.stats.ByStrategy {
		out.ByStrategy[k] = v
	}
	return out
}
