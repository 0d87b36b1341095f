package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
)

var tickDrain bool

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler pass and exit",
	Long: `Fires every due cron job definition once and exits. With --drain,
also processes the queued events before exiting. Intended for cron-driven
deployments that run Steward as a periodic command instead of a daemon.`,
	RunE: runTick,
}

func init() {
	tickCmd.Flags().StringVar(&gatewayConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	tickCmd.Flags().BoolVar(&tickDrain, "drain", false, "process queued events after the scheduler pass")
}

func runTick(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	if sc.Scheduler == nil {
		return fmt.Errorf("scheduler is disabled in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fired := sc.Scheduler.Tick(ctx)
	logger.Info("scheduler pass completed", slog.Int("fired", fired))

	if tickDrain {
		if sc.Dispatcher == nil {
			return fmt.Errorf("queue is disabled in config")
		}
		var processed int
		for {
			n := sc.Dispatcher.Drain(ctx)
			processed += n
			if n == 0 || ctx.Err() != nil {
				break
			}
		}
		logger.Info("queue drained", slog.Int("processed", processed))
	}

	return nil
}
