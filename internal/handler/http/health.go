package http

import (
	"net/http"
	"sync/atomic"
	"time"

	"grant-scout/internal/handler/http/respond"
	"grant-scout/internal/infra/db"
	"grant-scout/internal/resilience/circuitbreaker"
	"grant-scout/internal/resilience/recovery"
	"grant-scout/internal/service"
)

// HealthHandler serves the monitoring surface over the resilience layer.
type HealthHandler struct {
	db       *db.Manager
	services *service.Manager
	breakers *circuitbreaker.Manager
	recovery *recovery.Manager

	startedAt time.Time
	ready     atomic.Bool
}

// NewHealthHandler wires the monitoring surface to the live managers.
func NewHealthHandler(dbm *db.Manager, svc *service.Manager, brk *circuitbreaker.Manager, rec *recovery.Manager) *HealthHandler {
	return &HealthHandler{
		db:        dbm,
		services:  svc,
		breakers:  brk,
		recovery:  rec,
		startedAt: time.Now(),
	}
}

// MarkReady flips the readiness gate once startup has completed.
func (h *HealthHandler) MarkReady() { h.ready.Store(true) }

// overall distills the fleet and data-store state into one word plus the
// list of problems behind it.
func (h *HealthHandler) overall() (string, []string) {
	sum := h.services.Snapshot()
	dbSnap := h.db.HealthSnapshot()

	var problems []string
	if !dbSnap.IsHealthy {
		problems = append(problems, "data store unhealthy")
	}
	for name, svc := range sum.Services {
		switch svc.Status {
		case service.StatusFailed:
			problems = append(problems, "service failed: "+name)
		case service.StatusDegraded:
			problems = append(problems, "service degraded: "+name)
		case service.StatusFallback:
			problems = append(problems, "service on fallback: "+name)
		}
	}

	switch {
	case !dbSnap.IsHealthy || sum.Failed > 0:
		return "error", problems
	case sum.Fallback > 0 || sum.Degraded > 0 || sum.HealthRatio < 1.0:
		return "degraded", problems
	default:
		return "healthy", problems
	}
}

// Health is the summary endpoint used by load balancers and dashboards.
// Problems are reported in the body, not the status code; orchestration
// probes use the readiness and liveness endpoints instead.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	overall, _ := h.overall()
	msg := "all systems operational"
	if overall != "healthy" {
		msg = "one or more subsystems degraded, see /health/detailed"
	}
	respond.JSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":    overall,
		"message":   msg,
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// Detailed aggregates every subsystem snapshot in one payload.
func (h *HealthHandler) Detailed(w http.ResponseWriter, r *http.Request) {
	overall, problems := h.overall()
	dbSnap := h.db.HealthSnapshot()
	svcSum := h.services.Snapshot()
	brkSum := h.breakers.Snapshot()

	body := map[string]any{
		"status":           overall,
		"uptime":           time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp":        time.Now().UTC(),
		"database":         dbSnap,
		"services":         svcSum,
		"circuit_breakers": brkSum,
		"recovery_stats":   h.recovery.Stats(),
		"metrics": map[string]any{
			"service_health_ratio": svcSum.HealthRatio,
			"breaker_health_ratio": brkSum.HealthRatio,
			"db_avg_response_ms":   dbSnap.AvgResponseMs,
		},
	}
	if len(problems) > 0 {
		body["errors"] = problems
	}
	respond.JSON(r.Context(), w, http.StatusOK, body)
}

// Database exposes the connection manager's health record. An unhealthy
// store is still a 200: the body carries the state.
func (h *HealthHandler) Database(w http.ResponseWriter, r *http.Request) {
	snap := h.db.HealthSnapshot()
	status := "ok"
	if !snap.IsHealthy {
		status = "error"
	}
	respond.JSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":   status,
		"database": snap,
	})
}

// Services exposes the fleet summary.
func (h *HealthHandler) Services(w http.ResponseWriter, r *http.Request) {
	respond.JSON(r.Context(), w, http.StatusOK, h.services.Snapshot())
}

// CircuitBreakers exposes every breaker's live state.
func (h *HealthHandler) CircuitBreakers(w http.ResponseWriter, r *http.Request) {
	respond.JSON(r.Context(), w, http.StatusOK, h.breakers.Snapshot())
}

// ResetCircuitBreakers force-closes every breaker. Operator action after a
// confirmed dependency recovery.
func (h *HealthHandler) ResetCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	h.breakers.ResetAll()
	respond.JSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":           "reset",
		"circuit_breakers": h.breakers.Snapshot(),
	})
}

// RestartServices retries initialization for every non-healthy service.
func (h *HealthHandler) RestartServices(w http.ResponseWriter, r *http.Request) {
	avail := h.services.RestartServices(r.Context())
	respond.JSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":   "restarted",
		"services": avail,
		"summary":  h.services.Snapshot(),
	})
}

// Liveness only proves the process is serving requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respond.JSON(r.Context(), w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness gates traffic on completed startup, every required service
// being healthy, and a usable data store.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() || !h.services.RequiredHealthy() || !h.db.HealthSnapshot().IsHealthy {
		respond.JSON(r.Context(), w, http.StatusServiceUnavailable,
			map[string]string{"status": "not ready"})
		return
	}
	respond.JSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}

// Startup reports whether initialization has finished, for startup probes
// that allow a longer grace period than readiness.
func (h *HealthHandler) Startup(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		respond.JSON(r.Context(), w, http.StatusServiceUnavailable,
			map[string]string{"status": "starting"})
		return
	}
	respond.JSON(r.Context(), w, http.StatusOK, map[string]string{"status": "started"})
}
