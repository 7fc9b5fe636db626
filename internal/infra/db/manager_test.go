package db

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grant-scout/internal/apperr"
	"grant-scout/internal/resilience/retry"
	"grant-scout/pkg/config"
)

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		PoolSize:        5,
		MaxOverflow:     5,
		PoolTimeout:     time.Second,
		RecycleInterval: time.Hour,
	}
}

func testRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

// newTestManager wires a manager to a sqlmock-backed openFn. Each call to
// openFn produces a fresh mock pool with ping monitoring on.
func newTestManager(t *testing.T, pingErrs ...error) (*Manager, *int32) {
	t.Helper()

	var opens int32
	m := NewManager("postgres://test", testPoolConfig(), testRetryConfig(), time.Minute)
	m.openFn = func(string) (*sql.DB, error) {
		n := atomic.AddInt32(&opens, 1)
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		if int(n) <= len(pingErrs) && pingErrs[n-1] != nil {
			mock.ExpectPing().WillReturnError(pingErrs[n-1])
			mock.ExpectClose()
		} else {
			mock.ExpectPing()
			// Allow later health checks and sessions on the surviving pool.
			mock.MatchExpectationsInOrder(false)
			mock.ExpectPing()
			mock.ExpectPing()
			mock.ExpectClose()
		}
		return db, nil
	}
	return m, &opens
}

func TestInitialize_Succeeds(t *testing.T) {
	m, opens := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	assert.EqualValues(t, 1, atomic.LoadInt32(opens))
	assert.True(t, m.HealthSnapshot().IsHealthy)
}

func TestInitialize_Idempotent(t *testing.T) {
	m, opens := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	assert.EqualValues(t, 1, atomic.LoadInt32(opens), "second Initialize must be a no-op")
}

func TestInitialize_RetriesThenSucceeds(t *testing.T) {
	m, opens := newTestManager(t, errors.New("connection refused"))
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	assert.EqualValues(t, 2, atomic.LoadInt32(opens), "first attempt fails, second succeeds")
}

func TestInitialize_ExhaustedAttemptsIsHardFailure(t *testing.T) {
	down := errors.New("connection refused")
	m, opens := newTestManager(t, down, down, down)

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(opens))
	assert.False(t, m.HealthSnapshot().IsHealthy)
}

func TestWithSession_RefusedBeforeInitialize(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.WithSession(context.Background(), func(context.Context, *sql.Conn) error {
		t.Fatal("session must not run before Initialize")
		return nil
	})
	require.Error(t, err)
}

func TestWithSession_RunsAndReleases(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	ran := false
	err := m.WithSession(context.Background(), func(ctx context.Context, conn *sql.Conn) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	h := m.HealthSnapshot()
	assert.Equal(t, 0, h.InUse, "connection must be returned to the pool")
	assert.GreaterOrEqual(t, h.ResponseSamples, 1)
}

func TestWithSession_RefusedWhileRecoveryInFlight(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	// A recovery cycle disposes the pool before reopening it. A caller
	// landing in that window must get an unavailable error, not a panic.
	m.mu.Lock()
	m.db = nil
	m.mu.Unlock()

	err := m.WithSession(context.Background(), func(context.Context, *sql.Conn) error {
		t.Fatal("session must not run while the pool is disposed")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func TestWithSession_ConnectivityErrorMarksUnhealthy(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	err := m.WithSession(context.Background(), func(context.Context, *sql.Conn) error {
		return context.DeadlineExceeded
	})
	require.Error(t, err)

	// The snapshot may briefly race the async recovery; error bookkeeping
	// must still reflect the failure.
	h := m.HealthSnapshot()
	assert.GreaterOrEqual(t, h.ErrorCount, int64(1))
}

func TestWithSession_NonConnectivityErrorKeepsHealth(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Close()

	appErr := errors.New("row not found")
	err := m.WithSession(context.Background(), func(context.Context, *sql.Conn) error {
		return appErr
	})
	require.ErrorIs(t, err, appErr)
	assert.True(t, m.HealthSnapshot().IsHealthy)
	assert.EqualValues(t, 0, m.HealthSnapshot().ErrorCount)
}

func TestResponseTimeRingBufferBounded(t *testing.T) {
	m, _ := newTestManager(t)
	for i := 0; i < responseSampleCap*2; i++ {
		m.recordResponseTime(time.Millisecond)
	}
	assert.Equal(t, responseSampleCap, m.HealthSnapshot().ResponseSamples)
}

func TestClose_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
