// Package db owns the lifecycle of the primary data-store connection pool:
// bounded-retry initialization, scoped sessions with guaranteed release,
// interval health checks, and single-flight self-recovery.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// Postgres driver registration for database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/singleflight"

	"grant-scout/internal/apperr"
	"grant-scout/internal/resilience/retry"
	"grant-scout/pkg/config"
)

// responseSampleCap bounds the rolling response-time window.
const responseSampleCap = 100

// Health is a snapshot of connection health for the monitoring surface.
type Health struct {
	IsHealthy           bool      `json:"is_healthy"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenConnections     int       `json:"open_connections"`
	InUse               int       `json:"in_use"`
	Idle                int       `json:"idle"`
	ErrorCount          int64     `json:"error_count"`
	LastError           string    `json:"last_error,omitempty"`
	AvgResponseMs       float64   `json:"avg_response_ms"`
	ResponseSamples     int       `json:"response_samples"`
}

// Manager is the robust connection manager for the primary data store.
type Manager struct {
	dsn            string
	poolCfg        config.PoolConfig
	retryCfg       retry.Config
	healthInterval time.Duration

	// openFn is injectable for tests; production uses sql.Open("pgx", dsn).
	openFn func(dsn string) (*sql.DB, error)

	group singleflight.Group

	mu          sync.Mutex
	db          *sql.DB
	initialized bool

	healthy      bool
	lastCheck    time.Time
	consecFails  int
	errorCount   int64
	lastError    string
	samples      []time.Duration
	sampleCursor int
}

// NewManager creates a manager for the given DSN. Initialize must be
// called before sessions are handed out.
func NewManager(dsn string, poolCfg config.PoolConfig, retryCfg retry.Config, healthInterval time.Duration) *Manager {
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	return &Manager{
		dsn:            dsn,
		poolCfg:        poolCfg,
		retryCfg:       retryCfg,
		healthInterval: healthInterval,
		openFn: func(dsn string) (*sql.DB, error) {
			return sql.Open("pgx", dsn)
		},
	}
}

// Initialize opens and verifies the pool with bounded retry and backoff.
// It is idempotent: a second call while initialized is a no-op success.
// Exhausting every attempt is a hard failure; this dependency is required
// for startup.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	err := retry.WithBackoff(ctx, m.retryCfg, func() error {
		if openErr := m.openAndVerify(ctx); openErr != nil {
			// Force retryability: during startup every open failure is
			// worth another attempt up to the configured bound.
			return apperr.Wrap(apperr.KindTransient, "open data store", openErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("data store initialization failed: %w", err)
	}

	slog.Info("data store connection pool initialized",
		slog.Int("pool_size", m.poolCfg.PoolSize),
		slog.Int("max_overflow", m.poolCfg.MaxOverflow),
		slog.Duration("recycle_interval", m.poolCfg.RecycleInterval))
	return nil
}

// openAndVerify opens a pool, applies sizing, and pings it.
func (m *Manager) openAndVerify(ctx context.Context) error {
	db, err := m.openFn(m.dsn)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(m.poolCfg.PoolSize + m.poolCfg.MaxOverflow)
	db.SetMaxIdleConns(m.poolCfg.PoolSize)
	db.SetConnMaxLifetime(m.poolCfg.RecycleInterval)

	pingCtx, cancel := context.WithTimeout(ctx, m.poolCfg.PoolTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return err
	}

	m.mu.Lock()
	m.db = db
	m.initialized = true
	m.healthy = true
	m.consecFails = 0
	m.lastCheck = time.Now()
	m.mu.Unlock()
	return nil
}

// WithSession hands a pooled connection to fn with release guaranteed on
// every exit path, including panic and cancellation. Before checkout it
// runs a time-boxed health check at most once per interval; an unhealthy
// connection gets one recovery cycle before the session is refused.
func (m *Manager) WithSession(ctx context.Context, fn func(context.Context, *sql.Conn) error) error {
	if err := m.ensureUsable(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	db := m.db
	m.mu.Unlock()
	if db == nil {
		// An in-flight recovery disposed the pool between the health gate
		// and checkout.
		return apperr.New(apperr.KindUnavailable, "data store recovering, try again")
	}

	connCtx, cancel := context.WithTimeout(ctx, m.poolCfg.PoolTimeout)
	conn, err := db.Conn(connCtx)
	cancel()
	if err != nil {
		m.observeFailure(err)
		return apperr.Wrap(apperr.KindUnavailable, "data store session unavailable", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Debug("session release failed", slog.Any("error", closeErr))
		}
	}()

	start := time.Now()
	err = fn(ctx, conn)
	m.recordResponseTime(time.Since(start))

	if err != nil && apperr.IsConnectivity(err) {
		m.observeFailure(err)
		// Fire-and-forget: later callers benefit, this one is not blocked.
		go m.recover(context.Background())
	}
	return err
}

// WithTx runs fn inside a transaction on a scoped session. The transaction
// is rolled back on error or panic and committed otherwise.
func (m *Manager) WithTx(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return m.WithSession(ctx, func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		done := false
		defer func() {
			if !done {
				_ = tx.Rollback()
			}
		}()

		if err := fn(ctx, tx); err != nil {
			return err
		}

		done = true
		return tx.Commit()
	})
}

// ensureUsable runs the interval health check and, when the last check
// marked the connection unhealthy, attempts one recovery cycle before
// either succeeding or refusing the session.
func (m *Manager) ensureUsable(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return apperr.New(apperr.KindUnavailable, "data store not initialized")
	}
	due := time.Since(m.lastCheck) >= m.healthInterval
	healthy := m.healthy
	m.mu.Unlock()

	if due {
		healthy = m.runHealthCheck(ctx)
	}

	if !healthy {
		if err := m.recover(ctx); err != nil {
			return apperr.Wrap(apperr.KindUnavailable, "data store unavailable", err)
		}
	}
	return nil
}

// runHealthCheck pings the pool with a time-boxed context and updates the
// health record. Returns the resulting health flag.
func (m *Manager) runHealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	db := m.db
	m.mu.Unlock()
	if db == nil {
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.poolCfg.PoolTimeout)
	defer cancel()

	start := time.Now()
	err := db.PingContext(pingCtx)
	m.recordResponseTime(time.Since(start))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheck = time.Now()
	if err != nil {
		m.healthy = false
		m.consecFails++
		m.errorCount++
		m.lastError = err.Error()
		slog.Warn("data store health check failed",
			slog.Int("consecutive_failures", m.consecFails),
			slog.Any("error", err))
		return false
	}
	m.healthy = true
	m.consecFails = 0
	return true
}

// recover disposes the current pool and reinitializes it. Concurrent
// callers share a single in-flight attempt; parallel reconnect storms
// would only deepen an outage.
func (m *Manager) recover(ctx context.Context) error {
	_, err, _ := m.group.Do("recover", func() (any, error) {
		m.mu.Lock()
		old := m.db
		m.db = nil
		m.initialized = false
		m.mu.Unlock()

		if old != nil {
			_ = old.Close()
		}

		slog.Info("attempting data store recovery")
		if err := m.openAndVerify(ctx); err != nil {
			m.observeFailure(err)
			return nil, err
		}
		slog.Info("data store recovered")
		return nil, nil
	})
	return err
}

// observeFailure marks the connection unhealthy and records the error.
func (m *Manager) observeFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = false
	m.consecFails++
	m.errorCount++
	m.lastError = err.Error()
}

// recordResponseTime appends a sample to the bounded ring buffer.
func (m *Manager) recordResponseTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) < responseSampleCap {
		m.samples = append(m.samples, d)
		return
	}
	m.samples[m.sampleCursor] = d
	m.sampleCursor = (m.sampleCursor + 1) % responseSampleCap
}

// HealthSnapshot returns the current connection health.
func (m *Manager) HealthSnapshot() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{
		IsHealthy:           m.healthy && m.initialized,
		LastCheck:           m.lastCheck,
		ConsecutiveFailures: m.consecFails,
		ErrorCount:          m.errorCount,
		LastError:           m.lastError,
		ResponseSamples:     len(m.samples),
	}

	if m.db != nil {
		stats := m.db.Stats()
		h.OpenConnections = stats.OpenConnections
		h.InUse = stats.InUse
		h.Idle = stats.Idle
	}

	if len(m.samples) > 0 {
		var total time.Duration
		for _, s := range m.samples {
			total += s
		}
		h.AvgResponseMs = float64(total.Milliseconds()) / float64(len(m.samples))
	}
	return h
}

// StartHealthLoop runs periodic health checks until ctx is cancelled,
// triggering recovery whenever a check fails. It sleeps between checks
// rather than busy-polling.
func (m *Manager) StartHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("data store health loop stopped")
			return
		case <-ticker.C:
			if !m.runHealthCheck(ctx) {
				if err := m.recover(ctx); err != nil {
					slog.Warn("background data store recovery failed", slog.Any("error", err))
				}
			}
		}
	}
}

// Close disposes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}
