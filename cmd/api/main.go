// Command api runs the grant discovery HTTP service. It builds the
// resilience layer once, brings the service fleet up through the graceful
// initialization orchestrator, and serves the API with health and metrics
// surfaces until shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	hhttp "grant-scout/internal/handler/http"
	"grant-scout/internal/infra/db"
	"grant-scout/internal/infra/grantstore"
	"grant-scout/internal/infra/notifier"
	"grant-scout/internal/infra/research"
	"grant-scout/internal/infra/vector"
	"grant-scout/internal/observability/logging"
	"grant-scout/internal/observability/metrics"
	"grant-scout/internal/resilience/circuitbreaker"
	"grant-scout/internal/resilience/recovery"
	"grant-scout/internal/resilience/retry"
	"grant-scout/internal/service"
	"grant-scout/pkg/config"
)

var version = "dev"

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := metrics.NewRecorder()

	// Data store.
	dsn := config.GetEnvString("DATABASE_URL", "postgres://localhost:5432/grantscout?sslmode=disable")
	dbManager := db.NewManager(dsn, config.DefaultPoolConfig(), retry.DBConfig(),
		config.GetEnvDuration("DB_HEALTH_INTERVAL", 30*time.Second))

	// Circuit breakers, one per dependency, with per-dependency tuning.
	// The default breaker is tunable from the environment.
	defBrk := config.DefaultBreakerConfig()
	breakers := circuitbreaker.NewManager(
		circuitbreaker.Config{
			Name:             "default",
			FailureThreshold: defBrk.FailureThreshold,
			RecoveryTimeout:  defBrk.RecoveryTimeout,
			SuccessThreshold: defBrk.SuccessThreshold,
			CallTimeout:      defBrk.CallTimeout,
		},
		map[string]circuitbreaker.Config{
			hhttp.ServiceGrantStore: circuitbreaker.DocStoreConfig(),
			hhttp.ServiceVector:     circuitbreaker.VectorSearchConfig(),
			hhttp.ServiceResearch:   circuitbreaker.ResearchAPIConfig(),
			hhttp.ServiceNotifier:   circuitbreaker.NotifierConfig(),
		},
		recorder)

	// Error recovery chain.
	recoveryMgr, err := recovery.NewManager(retry.FromPolicy(config.DefaultRetryPolicy()),
		config.GetEnvInt("RECOVERY_CACHE_SIZE", 256))
	if err != nil {
		logger.Error("failed to build recovery manager", slog.Any("error", err))
		os.Exit(1)
	}
	recoveryMgr.SetMetrics(recorder)
	registerDegradedBehaviors(recoveryMgr)

	// Service fleet: the grant store is required for startup, everything
	// else degrades to a fallback.
	fallbackDelay := config.GetEnvDuration("FALLBACK_DELAY", 50*time.Millisecond)
	services := service.NewManager()
	services.Register(service.Declaration{
		Name:    hhttp.ServiceGrantStore,
		Service: grantstore.NewPostgresStore(dbManager),
		Policy:  service.RequiredPolicy(),
	})
	services.Register(service.Declaration{
		Name: hhttp.ServiceVector,
		Service: vector.NewPostgresSearcher(dbManager,
			vector.NewOpenAIEmbedder(config.GetEnvString("OPENAI_API_KEY", ""), "")),
		Fallback: vector.NewFallbackSearcher(fallbackDelay),
		Policy:   service.DefaultPolicy(),
	})
	services.Register(service.Declaration{
		Name: hhttp.ServiceResearch,
		Service: research.NewClaudeResearcher(
			config.GetEnvString("ANTHROPIC_API_KEY", ""),
			config.DefaultBudgetConfig("RESEARCH")),
		Fallback: research.NewFallbackResearcher(fallbackDelay),
		Policy:   service.DefaultPolicy(),
	})
	services.Register(service.Declaration{
		Name:     hhttp.ServiceNotifier,
		Service:  notifier.NewWebhookNotifier(notifier.LoadWebhookConfig()),
		Fallback: notifier.NewFallbackNotifier(fallbackDelay),
		Policy:   service.DefaultPolicy(),
	})

	availability, err := services.InitializeAll(ctx)
	if err != nil {
		logger.Error("startup aborted", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("service fleet initialized", slog.Any("availability", availability))
	publishFleetMetrics(recorder, services)

	// Background supervision.
	go dbManager.StartHealthLoop(ctx)
	go services.StartHealthLoop(ctx, config.GetEnvDuration("SERVICE_HEALTH_INTERVAL", 30*time.Second))

	// HTTP surface.
	api := hhttp.NewAPIHandler(services, breakers, recoveryMgr)
	health := hhttp.NewHealthHandler(dbManager, services, breakers, recoveryMgr)
	handler := hhttp.NewRouter(api, health, recorder)
	health.MarkReady()

	runServer(ctx, cancel, logger, handler, dbManager)
}

// registerDegradedBehaviors installs per-operation degraded responses used
// by the recovery chain when retry and cache both come up empty.
func registerDegradedBehaviors(m *recovery.Manager) {
	m.RegisterDegraded("grant_search", func(context.Context, recovery.OpContext) (any, error) {
		return map[string]any{
			"grants":  []any{},
			"total":   0,
			"message": "grant search is temporarily limited",
		}, nil
	})
	m.RegisterDegraded("similar_grants", func(context.Context, recovery.OpContext) (any, error) {
		return map[string]any{
			"matches": []any{},
			"message": "semantic search is temporarily limited, try keyword search",
		}, nil
	})
}

// publishFleetMetrics pushes the post-startup fleet state to Prometheus.
func publishFleetMetrics(recorder *metrics.Recorder, services *service.Manager) {
	sum := services.Snapshot()
	for name, h := range sum.Services {
		recorder.SetServiceHealth(name, h.Status == service.StatusHealthy)
	}
	recorder.SetFallbackCount(sum.Fallback)
}

// runServer serves until SIGINT or SIGTERM, then drains connections and
// releases the pool.
func runServer(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, handler http.Handler, dbManager *db.Manager) {
	addr := config.GetEnvString("LISTEN_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	// Stop background supervision loops.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}
	if err := dbManager.Close(); err != nil {
		logger.Error("data store close failed", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
