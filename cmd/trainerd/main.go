// trainerd is the training coordinator: it exposes the trainings API,
// queues and executes jobs, and tracks registered training nodes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trainforge/internal/api"
	"trainforge/internal/config"
	"trainforge/internal/health"
	"trainforge/internal/nodeclient"
	"trainforge/internal/observability"
	"trainforge/internal/queue"
	"trainforge/internal/record"
	"trainforge/internal/registry"
	"trainforge/internal/sandbox"
	"trainforge/internal/strategy"
	"trainforge/internal/trainer"
	"trainforge/internal/training"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	logger := slog.Default()

	cfg := config.LoadServiceConfig()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Durable job records: postgres when configured, in-memory otherwise.
	var records record.Store
	healthChecks := map[string]health.ReadinessCheck{}
	if cfg.DatabaseURL != "" {
		pg, err := record.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		records = pg
		healthChecks["records"] = health.ReadinessFunc(pg.Ping)
		slog.Info("Connected to postgres")
	} else {
		records = record.NewMemory()
		slog.Warn("No DATABASE_URL configured - job records will not survive restarts")
	}
	defer records.Close()

	// Execution strategies. Each target is optional: a strategy that cannot
	// be constructed stays nil and the selector rejects jobs asking for it.
	agentClient := nodeclient.NewClient(cfg.NodeAPIKey, logger)
	selector := &strategy.Selector{
		Local:   strategy.NewLocal(trainer.NewPython(cfg.PythonBin, logger)),
		Sandbox: strategy.NewSandbox(sandbox.NewRuntime(), logger),
		Remote:  strategy.NewRemote(agentClient, logger),
	}
	container, err := strategy.NewContainer(logger)
	if err != nil {
		slog.Warn("Docker unavailable - container target disabled", "error", err)
	} else {
		defer container.Close()
		selector.Container = container
		healthChecks["docker"] = health.ReadinessFunc(container.Ready)
	}

	// Core orchestration stack
	statuses := training.NewStatusStore()
	orchestrator := training.NewOrchestrator(selector, statuses, records, logger)
	bridge := queue.NewBridge(queue.Config{
		Workers: cfg.MaxConcurrentJobs,
		Buffer:  cfg.QueueBuffer,
	}, orchestrator, statuses, records, metrics, logger)
	service := training.NewService(statuses, orchestrator, bridge, logger)

	nodes := registry.NewRegistry()
	healthChecker := health.NewChecker(healthChecks)

	handler := api.NewHandler(api.HandlerConfig{
		Service:       service,
		Registry:      nodes,
		NodeAPIKey:    cfg.NodeAPIKey,
		DefaultDistro: cfg.SandboxDistro,
		DefaultImage:  cfg.TrainerImage,
		OutputDir:     cfg.ModelsDir,
		Metrics:       metrics,
		HealthChecker: healthChecker,
	})
	router := api.NewRouter(api.RouterConfig{
		Handler:    handler,
		Metrics:    metrics,
		APIKey:     cfg.APIKey,
		NodeAPIKey: cfg.NodeAPIKey,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Periodic sweep of finished jobs past the retention window.
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if n := statuses.ClearFinished(cfg.JobRetention); n > 0 {
					slog.Info("Cleared finished jobs", "count", n, "retention", cfg.JobRetention)
				}
			}
		}
	}()

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain the queue bridge. Workers finish in-flight and queued
	// jobs before Close returns.
	slog.Info("Draining job queue", "depth", bridge.Depth(), "active", orchestrator.ActiveCount())
	bridge.Close()

	stats := bridge.Stats()
	slog.Info("Queue bridge stats",
		"enqueued", stats.Enqueued,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled,
		"retried", stats.Retried,
		"dropped", stats.Dropped,
	)

	slog.Info("Shutdown complete")
	return nil
}
