package recovery

import (
	"context"

	"grant-scout/internal/apperr"
	"grant-scout/internal/resilience/retry"
)

// retryApplies gates the retry strategy: transient error classes only,
// with a re-invokable operation, and not while the attempt record for the
// stream is saturated.
func (m *Manager) retryApplies(kind apperr.Kind, oc OpContext) bool {
	if !kind.Retryable() || oc.Attempt == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := attemptKey{kind: kind, ctx: oc.Operation + "|" + oc.CacheKey}
	if rec, ok := m.attempts[key]; ok && rec.count > attemptSaturation {
		return false
	}
	return true
}

// retryRecover re-invokes the original operation under bounded backoff.
// Attempts are single-flighted per operation so concurrent failures do not
// hammer a struggling dependency with parallel retries.
func (m *Manager) retryRecover(ctx context.Context, kind apperr.Kind, oc OpContext) (*Result, error) {
	value, err, _ := m.group.Do(oc.Operation, func() (any, error) {
		var v any
		retryErr := retry.WithBackoff(ctx, m.retryCfg, func() error {
			var opErr error
			v, opErr = oc.Attempt(ctx)
			return opErr
		})
		return v, retryErr
	})
	if err != nil {
		return nil, err
	}

	// A fresh success is also the next stale fallback.
	m.RecordSuccess(oc.CacheKey, value)

	return &Result{Value: value, Strategy: "retry"}, nil
}

// cacheApplies gates the stale-cache strategy on a prior successful result.
func (m *Manager) cacheApplies(kind apperr.Kind, oc OpContext) bool {
	if oc.CacheKey == "" {
		return false
	}
	return m.cache.Contains(oc.CacheKey)
}

// cacheRecover returns the last-good result, explicitly marked stale.
func (m *Manager) cacheRecover(ctx context.Context, kind apperr.Kind, oc OpContext) (*Result, error) {
	value, ok := m.cache.Get(oc.CacheKey)
	if !ok {
		// Evicted between Contains and Get; let the next handler try.
		return nil, apperr.ErrNotFound
	}

	return &Result{
		Value:    value,
		Strategy: "cache",
		Stale:    true,
		Message:  "serving cached result, live data temporarily unavailable",
	}, nil
}

// degradedApplies gates the graceful-degradation strategy on a registered
// behavior for the operation.
func (m *Manager) degradedApplies(kind apperr.Kind, oc OpContext) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.degraded[oc.Operation]
	return ok
}

// degradedRecover invokes the registered degraded behavior.
func (m *Manager) degradedRecover(ctx context.Context, kind apperr.Kind, oc OpContext) (*Result, error) {
	m.mu.Lock()
	fn := m.degraded[oc.Operation]
	m.mu.Unlock()

	value, err := fn(ctx, oc)
	if err != nil {
		return nil, err
	}

	return &Result{
		Value:    value,
		Strategy: "degraded",
		Fallback: true,
		Message:  "degraded response, some features unavailable",
	}, nil
}
