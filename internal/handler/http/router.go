package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grant-scout/internal/handler/http/requestid"
	"grant-scout/internal/observability/metrics"
)

// NewRouter assembles the full HTTP surface: the grant API, the health and
// monitoring endpoints, and the Prometheus scrape endpoint, wrapped in the
// request-id, logging, metrics, and panic-recovery middleware.
func NewRouter(api *APIHandler, health *HealthHandler, recorder *metrics.Recorder) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/grants", api.SearchGrants)
	mux.HandleFunc("GET /api/grants/{id}", api.GetGrant)
	mux.HandleFunc("POST /api/grants/similar", api.SimilarGrants)
	mux.HandleFunc("POST /api/grants/{id}/research", api.ResearchGrant)
	mux.HandleFunc("POST /api/notifications", api.Notify)

	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("GET /health/detailed", health.Detailed)
	mux.HandleFunc("GET /health/database", health.Database)
	mux.HandleFunc("GET /health/services", health.Services)
	mux.HandleFunc("GET /health/circuit-breakers", health.CircuitBreakers)
	mux.HandleFunc("POST /health/reset-circuit-breakers", health.ResetCircuitBreakers)
	mux.HandleFunc("POST /health/services/restart", health.RestartServices)
	mux.HandleFunc("GET /health/liveness", health.Liveness)
	mux.HandleFunc("GET /health/readiness", health.Readiness)
	mux.HandleFunc("GET /health/startup", health.Startup)

	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if recorder != nil {
		handler = Instrument(recorder, handler)
	}
	handler = Logging(handler)
	handler = Recover(handler)
	handler = requestid.Middleware(handler)
	return handler
}
