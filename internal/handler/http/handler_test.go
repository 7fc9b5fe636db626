package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grant-scout/internal/infra/db"
	"grant-scout/internal/infra/grantstore"
	"grant-scout/internal/resilience/circuitbreaker"
	"grant-scout/internal/resilience/recovery"
	"grant-scout/internal/resilience/retry"
	"grant-scout/internal/service"
	"grant-scout/pkg/config"
)

// newTestRouter builds a full router over a fallback grant store and an
// uninitialized data store, which is enough to exercise routing, the error
// boundary, and the degraded health reporting paths.
func newTestRouter(t *testing.T) (http.Handler, *HealthHandler, *circuitbreaker.Manager) {
	t.Helper()

	dbManager := db.NewManager("postgres://unused", config.PoolConfig{
		PoolSize: 1, MaxOverflow: 0, PoolTimeout: time.Second, RecycleInterval: time.Hour,
	}, retry.DBConfig(), time.Minute)

	services := service.NewManager()
	services.Register(service.Declaration{
		Name:    ServiceGrantStore,
		Service: grantstore.NewFallbackStore(time.Millisecond),
		Policy: service.Policy{
			MaxRetryAttempts: 1,
			RetryDelay:       time.Millisecond,
			CallTimeout:      time.Second,
		},
	})
	_, err := services.InitializeAll(context.Background())
	require.NoError(t, err)

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig("default"), nil, nil)
	recoveryMgr, err := recovery.NewManager(retry.Config{
		MaxAttempts: 1, InitialDelay: time.Millisecond,
		MaxDelay: time.Millisecond, Multiplier: 1, JitterFraction: 0,
	}, 16)
	require.NoError(t, err)

	api := NewAPIHandler(services, breakers, recoveryMgr)
	health := NewHealthHandler(dbManager, services, breakers, recoveryMgr)
	return NewRouter(api, health, nil), health, breakers
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestHealth_UnhealthyDataStoreReportedInBody(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// Status lives in the body; probes use readiness/liveness for codes.
	rec := doRequest(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestHealth_DetailedIncludesAllSubsystems(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/health/detailed", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	for _, key := range []string{"database", "services", "circuit_breakers", "recovery_stats", "metrics"} {
		assert.Contains(t, body, key)
	}
	assert.NotEmpty(t, body["errors"], "unhealthy data store must appear in the errors array")
}

func TestHealth_DatabaseEndpointReportsErrorInBody(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/health/database", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", decodeBody(t, rec)["status"])
}

func TestHealth_LivenessAlwaysOK(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/health/liveness", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_ReadinessGatedOnStartup(t *testing.T) {
	router, health, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/health/readiness", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/health/startup", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	health.MarkReady()
	rec = doRequest(t, router, http.MethodGet, "/health/startup", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Readiness additionally requires a usable data store.
	rec = doRequest(t, router, http.MethodGet, "/health/readiness", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth_ResetCircuitBreakers(t *testing.T) {
	router, _, breakers := newTestRouter(t)

	// Force one breaker open.
	cb := breakers.Get("grantstore")
	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			return context.DeadlineExceeded
		})
	}
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	rec := doRequest(t, router, http.MethodPost, "/health/reset-circuit-breakers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}

func TestSearchGrants_FallbackStoreServesLabeledEmpty(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/grants?q=solar", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["fallback"])
}

func TestSearchGrants_InvalidLimitIsValidationError(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/grants?limit=lots", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "validation_error", body["error_type"])
	assert.NotEmpty(t, body["error_id"])
}

func TestSimilarGrants_MissingTextIsValidationError(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/grants/similar", `{"text":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestNotify_MissingNotifierIsUnavailable(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/notifications",
		`{"subject":"s","body":"b"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecover_PanicBecomesSanitized500(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom: secret internal detail")
	}))

	rec := doRequest(t, h, http.MethodGet, "/anything", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["error_id"])
	assert.NotContains(t, rec.Body.String(), "secret internal detail",
		"panic values must not leak to clients")
}

func TestRequestIDHeaderPropagated(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/health/liveness", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
