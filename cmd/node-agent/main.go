// node-agent runs on a training machine. It registers with the coordinator,
// heartbeats its load, and executes dispatched jobs through its local
// sandbox runtime.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"trainforge/internal/api"
	"trainforge/internal/apperrors"
	"trainforge/internal/config"
	"trainforge/internal/health"
	"trainforge/internal/nodeclient"
	"trainforge/internal/queue"
	"trainforge/internal/record"
	"trainforge/internal/registry"
	"trainforge/internal/sandbox"
	"trainforge/internal/strategy"
	"trainforge/internal/training"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Agent failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.Default()

	cfg := config.LoadAgentConfig()
	if cfg.NodeName == "" {
		return fmt.Errorf("NODE_NAME is required")
	}

	// Jobs arrive pre-validated from the coordinator and the agent is
	// restart-cheap, so records stay in memory.
	statuses := training.NewStatusStore()
	records := record.NewMemory()
	defer records.Close()

	sandboxRuntime := sandbox.NewRuntime()
	selector := &strategy.Selector{
		Sandbox: strategy.NewSandbox(sandboxRuntime, logger),
	}
	target := training.ExecutionTarget{Kind: training.TargetSandbox, Distro: cfg.SandboxDistro}

	orchestrator := training.NewOrchestrator(selector, statuses, records, logger)
	bridge := queue.NewBridge(queue.Config{
		Workers: cfg.MaxConcurrentJobs,
		Buffer:  cfg.MaxConcurrentJobs * 2,
	}, orchestrator, statuses, records, nil, logger)
	service := training.NewService(statuses, orchestrator, bridge, logger)

	healthChecker := health.NewChecker(map[string]health.ReadinessCheck{
		"sandbox": health.ReadinessFunc(func(ctx context.Context) error {
			return sandboxRuntime.Check(ctx, cfg.SandboxDistro)
		}),
	})

	handler := api.NewAgentHandler(service, target, cfg.ModelsDir, healthChecker)
	router := api.NewAgentRouter(handler, cfg.NodeAPIKey)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting agent server", "port", cfg.Port, "node", cfg.NodeName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Registration and heartbeat loop. The coordinator forgets nodes it has
	// not heard from; a 404 on heartbeat means we must re-register.
	heartbeatCtx, stopHeartbeats := context.WithCancel(context.Background())
	defer stopHeartbeats()
	if cfg.CoordinatorURL != "" {
		client := nodeclient.NewClient(cfg.NodeAPIKey, logger)
		go heartbeatLoop(heartbeatCtx, client, cfg, orchestrator)
	} else {
		slog.Warn("No COORDINATOR_URL configured - agent will not receive dispatched jobs")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		return err
	}

	// Stop heartbeating first so the coordinator marks this node stale and
	// routes new jobs elsewhere.
	stopHeartbeats()
	healthChecker.SetShuttingDown()

	slog.Info("Starting graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Draining job queue", "depth", bridge.Depth(), "active", orchestrator.ActiveCount())
	bridge.Close()

	slog.Info("Shutdown complete")
	return nil
}

// heartbeatLoop registers the node and reports load until ctx is cancelled.
// Registration failures are retried on the heartbeat cadence.
func heartbeatLoop(ctx context.Context, client *nodeclient.Client, cfg *config.AgentConfig, orchestrator *training.Orchestrator) {
	node := registry.Node{
		Name:        cfg.NodeName,
		BaseURL:     cfg.AdvertiseAddr,
		HasGPU:      cfg.HasGPU,
		GPUName:     cfg.GPUName,
		VRAMTotalGB: cfg.VRAMTotalGB,
	}

	registered := false
	register := func() {
		if err := client.Register(ctx, cfg.CoordinatorURL, node); err != nil {
			slog.Warn("Node registration failed", "coordinator", cfg.CoordinatorURL, "error", err)
			return
		}
		registered = true
		slog.Info("Registered with coordinator", "coordinator", cfg.CoordinatorURL, "node", cfg.NodeName)
	}
	register()

	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !registered {
			register()
			continue
		}

		err := client.SendHeartbeat(ctx, cfg.CoordinatorURL, cfg.NodeName, buildHeartbeat(cfg, orchestrator))
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrNotFound):
			// Coordinator restarted and lost us.
			slog.Info("Coordinator forgot this node, re-registering")
			registered = false
			register()
		default:
			slog.Warn("Heartbeat failed", "error", err)
		}
	}
}

func buildHeartbeat(cfg *config.AgentConfig, orchestrator *training.Orchestrator) registry.Heartbeat {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	active := orchestrator.ActiveCount()
	load := 0.0
	if cfg.MaxConcurrentJobs > 0 {
		load = float64(active) / float64(cfg.MaxConcurrentJobs) * 100
	}

	return registry.Heartbeat{
		MemoryUsed:  float64(mem.Sys) / (1 << 30),
		LoadPercent: load,
		ActiveJobs:  active,
	}
}
