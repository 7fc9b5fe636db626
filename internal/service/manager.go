// Package service orchestrates application service startup and supervision.
// Required services initialize sequentially and abort startup when their
// retry budget is exhausted; optional services initialize concurrently and
// fall back to degraded substitutes instead of failing the process.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the lifecycle state of a managed service.
type Status string

const (
	StatusUninitialized Status = "UNINITIALIZED"
	StatusInitializing  Status = "INITIALIZING"
	StatusHealthy       Status = "HEALTHY"
	StatusDegraded      Status = "DEGRADED"
	StatusFailed        Status = "FAILED"
	StatusFallback      Status = "FALLBACK"
)

// Service is anything the manager can bring up and supervise.
type Service interface {
	Initialize(ctx context.Context) error
	CheckHealth(ctx context.Context) error
}

// Policy controls how one service is initialized and supervised.
type Policy struct {
	MaxRetryAttempts    int
	RetryDelay          time.Duration
	CallTimeout         time.Duration
	EnableFallback      bool
	RequiredForStartup  bool
	HealthCheckInterval time.Duration
}

// DefaultPolicy is a sane optional-service policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetryAttempts:    3,
		RetryDelay:          time.Second,
		CallTimeout:         10 * time.Second,
		EnableFallback:      true,
		RequiredForStartup:  false,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RequiredPolicy marks a service as startup-critical with no fallback.
func RequiredPolicy() Policy {
	p := DefaultPolicy()
	p.RequiredForStartup = true
	p.EnableFallback = false
	return p
}

// Declaration registers a service with its optional fallback substitute.
type Declaration struct {
	Name     string
	Service  Service
	Fallback Service
	Policy   Policy
}

// Health is the externally visible state of one managed service.
type Health struct {
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	UsingFallback bool      `json:"using_fallback"`
	Attempts      int       `json:"attempts"`
	ErrorCount    int64     `json:"error_count"`
	LastCheck     time.Time `json:"last_check,omitempty"`
	LastLatencyMs float64   `json:"last_latency_ms,omitempty"`
	AvgLatencyMs  float64   `json:"avg_latency_ms,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Summary aggregates the fleet for the monitoring surface.
type Summary struct {
	Total       int               `json:"total"`
	Healthy     int               `json:"healthy"`
	Degraded    int               `json:"degraded"`
	Failed      int               `json:"failed"`
	Fallback    int               `json:"fallback"`
	HealthRatio float64           `json:"health_ratio"`
	Services    map[string]Health `json:"services"`
}

// latencySampleCap bounds the per-service rolling latency window.
const latencySampleCap = 20

type managed struct {
	decl      Declaration
	status    Status
	active    Service
	attempts  int
	errCount  int64
	lastErr   string
	lastChk   time.Time
	lastLat   time.Duration
	lats      []time.Duration
	latCursor int
}

// recordLatency appends a health-check latency sample to the bounded ring.
// Callers hold m.mu.
func (s *managed) recordLatency(d time.Duration) {
	s.lastLat = d
	if len(s.lats) < latencySampleCap {
		s.lats = append(s.lats, d)
		return
	}
	s.lats[s.latCursor] = d
	s.latCursor = (s.latCursor + 1) % latencySampleCap
}

// avgLatency returns the rolling average. Callers hold m.mu.
func (s *managed) avgLatency() time.Duration {
	if len(s.lats) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.lats {
		total += d
	}
	return total / time.Duration(len(s.lats))
}

// Manager owns the service fleet.
type Manager struct {
	mu       sync.Mutex
	order    []string
	services map[string]*managed
}

// NewManager creates an empty service manager.
func NewManager() *Manager {
	return &Manager{services: make(map[string]*managed)}
}

// Register adds a service declaration. Registration order is preserved for
// required-service initialization.
func (m *Manager) Register(decl Declaration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.services[decl.Name]; exists {
		return
	}
	m.order = append(m.order, decl.Name)
	m.services[decl.Name] = &managed{decl: decl, status: StatusUninitialized}
}

// InitializeAll brings the fleet up. Required services go first, one at a
// time, and an exhausted retry budget on any of them aborts startup before
// optional work begins. Optional services then initialize concurrently;
// each failure either substitutes the declared fallback or records FAILED.
// The returned map reports per-service availability, counting a substituted
// fallback as available.
func (m *Manager) InitializeAll(ctx context.Context) (map[string]bool, error) {
	m.mu.Lock()
	var required, optional []*managed
	for _, name := range m.order {
		svc := m.services[name]
		if svc.decl.Policy.RequiredForStartup {
			required = append(required, svc)
		} else {
			optional = append(optional, svc)
		}
	}
	m.mu.Unlock()

	for _, svc := range required {
		if err := m.initOne(ctx, svc); err != nil {
			m.setStatus(svc, StatusFailed, err)
			return m.availability(), fmt.Errorf("required service %q failed to initialize: %w", svc.decl.Name, err)
		}
		m.setStatus(svc, StatusHealthy, nil)
		slog.Info("required service initialized", slog.String("service", svc.decl.Name))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range optional {
		svc := svc
		g.Go(func() error {
			if err := m.initOne(gctx, svc); err != nil {
				m.substituteOrFail(gctx, svc, err)
				return nil
			}
			m.setStatus(svc, StatusHealthy, nil)
			slog.Info("optional service initialized", slog.String("service", svc.decl.Name))
			return nil
		})
	}
	// Optional failures never propagate; the group error is only context
	// cancellation.
	if err := g.Wait(); err != nil {
		return m.availability(), err
	}

	return m.availability(), nil
}

// initOne runs Initialize under the policy's retry budget, time-boxing each
// attempt with the call timeout.
func (m *Manager) initOne(ctx context.Context, svc *managed) error {
	m.mu.Lock()
	svc.status = StatusInitializing
	svc.active = svc.decl.Service
	pol := svc.decl.Policy
	m.mu.Unlock()

	attempts := pol.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		m.mu.Lock()
		svc.attempts = attempt
		m.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, pol.CallTimeout)
		lastErr = svc.decl.Service.Initialize(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		slog.Warn("service initialization attempt failed",
			slog.String("service", svc.decl.Name),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", lastErr))

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pol.RetryDelay):
			}
		}
	}
	return lastErr
}

// substituteOrFail swaps in the declared fallback after an optional
// service's retry budget is spent, or records the service as failed when no
// fallback is allowed.
func (m *Manager) substituteOrFail(ctx context.Context, svc *managed, cause error) {
	if svc.decl.Policy.EnableFallback && svc.decl.Fallback != nil {
		if err := svc.decl.Fallback.Initialize(ctx); err == nil {
			m.mu.Lock()
			svc.status = StatusFallback
			svc.active = svc.decl.Fallback
			svc.errCount++
			svc.lastErr = cause.Error()
			m.mu.Unlock()
			slog.Warn("service degraded to fallback",
				slog.String("service", svc.decl.Name),
				slog.Any("cause", cause))
			return
		}
	}
	m.setStatus(svc, StatusFailed, cause)
	slog.Error("optional service failed without fallback",
		slog.String("service", svc.decl.Name),
		slog.Any("error", cause))
}

func (m *Manager) setStatus(svc *managed, s Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc.status = s
	if err != nil {
		svc.errCount++
		svc.lastErr = err.Error()
	} else {
		svc.lastErr = ""
	}
}

// availability reports each service as usable or not. FALLBACK counts as
// usable: callers still get answers, just degraded ones.
func (m *Manager) availability() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.services))
	for name, svc := range m.services {
		out[name] = svc.status == StatusHealthy || svc.status == StatusFallback || svc.status == StatusDegraded
	}
	return out
}

// RequiredHealthy reports whether every startup-required service is
// currently healthy. Used by the readiness probe: the process must not
// accept traffic while a required dependency is missing.
func (m *Manager) RequiredHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.services {
		if svc.decl.Policy.RequiredForStartup && svc.status != StatusHealthy {
			return false
		}
	}
	return true
}

// Get returns the active instance for a service name. When a fallback has
// been substituted, the fallback is returned.
func (m *Manager) Get(name string) (Service, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[name]
	if !ok || svc.active == nil {
		return nil, false
	}
	return svc.active, true
}

// Snapshot returns the fleet summary. The health ratio counts only fully
// healthy services, so a fleet running on fallbacks reads below 1.0.
func (m *Manager) Snapshot() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := Summary{
		Total:    len(m.services),
		Services: make(map[string]Health, len(m.services)),
	}
	for name, svc := range m.services {
		switch svc.status {
		case StatusHealthy:
			sum.Healthy++
		case StatusDegraded:
			sum.Degraded++
		case StatusFailed:
			sum.Failed++
		case StatusFallback:
			sum.Fallback++
		}
		sum.Services[name] = Health{
			Name:          name,
			Status:        svc.status,
			UsingFallback: svc.status == StatusFallback,
			Attempts:      svc.attempts,
			ErrorCount:    svc.errCount,
			LastCheck:     svc.lastChk,
			LastLatencyMs: float64(svc.lastLat.Microseconds()) / 1000.0,
			AvgLatencyMs:  float64(svc.avgLatency().Microseconds()) / 1000.0,
			LastError:     svc.lastErr,
		}
	}
	if sum.Total == 0 {
		sum.HealthRatio = 1.0
	} else {
		sum.HealthRatio = float64(sum.Healthy) / float64(sum.Total)
	}
	return sum
}

// RestartServices retries initialization for every service that is not
// currently healthy, promoting fallback-backed services back to their real
// implementation when it comes up. Healthy services are left alone.
func (m *Manager) RestartServices(ctx context.Context) map[string]bool {
	m.mu.Lock()
	var stale []*managed
	for _, name := range m.order {
		svc := m.services[name]
		if svc.status != StatusHealthy {
			stale = append(stale, svc)
		}
	}
	m.mu.Unlock()

	for _, svc := range stale {
		if err := m.initOne(ctx, svc); err != nil {
			m.substituteOrFail(ctx, svc, err)
			continue
		}
		m.setStatus(svc, StatusHealthy, nil)
		slog.Info("service restarted", slog.String("service", svc.decl.Name))
	}
	return m.availability()
}

// StartHealthLoop supervises the fleet until ctx is cancelled. Each cycle
// checks the active instance of every initialized service; a failed check
// demotes HEALTHY to DEGRADED and a later success promotes it back.
func (m *Manager) StartHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("service health loop stopped")
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Manager) checkAll(ctx context.Context) {
	m.mu.Lock()
	var active []*managed
	for _, name := range m.order {
		svc := m.services[name]
		if svc.active != nil && (svc.status == StatusHealthy || svc.status == StatusDegraded || svc.status == StatusFallback) {
			active = append(active, svc)
		}
	}
	m.mu.Unlock()

	for _, svc := range active {
		callCtx, cancel := context.WithTimeout(ctx, svc.decl.Policy.CallTimeout)
		start := time.Now()
		err := svc.active.CheckHealth(callCtx)
		cancel()

		m.mu.Lock()
		svc.lastChk = time.Now()
		svc.recordLatency(time.Since(start))
		switch {
		case err != nil && svc.status == StatusHealthy:
			svc.status = StatusDegraded
			svc.errCount++
			svc.lastErr = err.Error()
			slog.Warn("service health check failed",
				slog.String("service", svc.decl.Name),
				slog.Any("error", err))
		case err == nil && svc.status == StatusDegraded:
			svc.status = StatusHealthy
			svc.lastErr = ""
			slog.Info("service recovered", slog.String("service", svc.decl.Name))
		case err != nil:
			svc.errCount++
			svc.lastErr = err.Error()
		}
		m.mu.Unlock()
	}
}
