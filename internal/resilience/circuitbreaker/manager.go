package circuitbreaker

import (
	"sync"
)

// Manager is a name-to-breaker registry with lazy creation. Breakers are
// created on first use from the per-name config override, or from the
// default config, and live for the process lifetime.
type Manager struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	overrides map[string]Config
	defaults  Config
	metrics   Metrics
}

// NewManager creates a registry using defaults for unnamed dependencies and
// the given per-dependency overrides.
func NewManager(defaults Config, overrides map[string]Config, metrics Metrics) *Manager {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Manager{
		breakers:  make(map[string]*CircuitBreaker),
		overrides: overrides,
		defaults:  defaults,
		metrics:   metrics,
	}
}

// Get returns the breaker for name, creating it on first use.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	cfg, ok := m.overrides[name]
	if !ok {
		cfg = m.defaults
	}
	cfg.Name = name
	if cfg.Metrics == nil {
		cfg.Metrics = m.metrics
	}

	cb = New(cfg)
	m.breakers[name] = cb
	return cb
}

// Summary aggregates breaker state across the registry.
type Summary struct {
	Total       int              `json:"total"`
	Closed      int              `json:"closed"`
	Open        int              `json:"open"`
	HalfOpen    int              `json:"half_open"`
	HealthRatio float64          `json:"health_ratio"`
	Breakers    map[string]Stats `json:"breakers"`
}

// Snapshot returns a point-in-time summary of every registered breaker.
// An empty registry reports a health ratio of 1.0.
func (m *Manager) Snapshot() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{Breakers: make(map[string]Stats, len(m.breakers))}
	for name, cb := range m.breakers {
		stats := cb.Stats()
		s.Breakers[name] = stats
		s.Total++
		switch stats.State {
		case StateClosed.String():
			s.Closed++
		case StateOpen.String():
			s.Open++
		default:
			s.HalfOpen++
		}
	}

	if s.Total == 0 {
		s.HealthRatio = 1.0
	} else {
		s.HealthRatio = float64(s.Closed) / float64(s.Total)
	}
	return s
}

// ResetAll forces every registered breaker back to closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cb := range m.breakers {
		cb.Reset()
	}
}
