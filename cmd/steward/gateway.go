package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/gateway/httpapi"
	"github.com/stewardhq/steward/internal/ratelimit"
)

var (
	gatewayConfigPath string
	gatewayAddr       string
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the HTTP gateway with the scheduler and event dispatcher",
	RunE:  runGateway,
}

func init() {
	// Register flags on both root and gateway so that
	// `steward --config path` and `steward gateway --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, gatewayCmd} {
		cmd.Flags().StringVar(&gatewayConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&gatewayAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runGateway starts Steward in gateway mode: the HTTP API plus the cron
// scheduler and event dispatcher loops.
func runGateway(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if gatewayAddr != "" {
		cfg.Gateway.ListenAddr = gatewayAddr
	}

	logger.Info("starting in gateway mode", slog.String("config", gatewayConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the background loops.
	if sc.Dispatcher != nil {
		cancelDispatcher := sc.Dispatcher.Start(ctx)
		defer cancelDispatcher()
	}
	if sc.Scheduler != nil {
		cancelScheduler := sc.Scheduler.Start(ctx)
		defer cancelScheduler()
	}

	gw := buildGateway(cfg, sc)
	logger.Info("gateway configured",
		slog.String("addr", cfg.Gateway.Addr()),
		slog.Bool("scheduler", sc.Scheduler != nil),
		slog.Bool("dispatcher", sc.Dispatcher != nil),
	)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}

	return nil
}

// buildGateway wires the HTTP gateway from shared components.
func buildGateway(cfg *config.Config, sc *SharedComponents) *httpapi.Gateway {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
		BurstSize:         cfg.Gateway.BurstSize,
	})

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Gateway.Addr(),
		EnableDocs:     cfg.Gateway.EnableDocs,
		APIKeys:        cfg.Gateway.APIKeys,
		MaxRequestSize: cfg.Gateway.MaxRequestSize(),
	}
	if sc.Obs != nil {
		httpCfg.Metrics = sc.Obs.Metrics
		httpCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if sc.Obs.Tracer != nil {
			httpCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	gw := httpapi.NewGateway(httpCfg, sc.TenantID, limiter, sc.Logger).
		WithOrchestration(sc.Orchestrator, sc.Selector).
		WithGovernance(sc.Gate, sc.Controller, sc.Store.SelfImprove()).
		WithBudget(sc.Guard, sc.Store.Budgets(), sc.Store.Ledger()).
		WithControl(sc.Control)
	if sc.Scheduler != nil {
		gw.WithCronJobs(sc.Store.CronJobs(), sc.Scheduler, sc.Publisher)
	}
	if sc.Dispatcher != nil {
		gw.WithQueue(sc.Store.Events(), sc.Dispatcher)
	}
	if cfg.Gateway.EnableDocs {
		gw.WithOpenAPIDocs()
	}
	return gw
}

// loadConfig reads the config file, falling back to runnable defaults when
// the default path does not exist.
func loadConfig() (*config.Config, error) {
	path := goutils.Env("STEWARD_CONFIG", gatewayConfigPath)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path == config.DefaultConfigPath() {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return config.Load(path)
}
