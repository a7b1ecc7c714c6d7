package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/config"
	"github.com/raaihank/txn-sentinel/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and live dashboard",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting txn-sentinel",
		zap.String("version", resolvedVersion()),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	svc, err := initializeServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	srv, err := server.New(cfg, log, server.Deps{
		Engine:   svc.engine,
		Stats:    svc.stats,
		Learning: svc.learning,
	})
	if err != nil {
		return err
	}

	// Threshold changes apply without a restart; other sections need one.
	if err := config.Watch(log.Logger, func(next *config.Config) {
		svc.engine.SetThresholds(next.Thresholds())
	}); err != nil {
		log.Warn("Config hot reload disabled", zap.Error(err))
	}

	scheduler := cron.New()
	if spec := cfg.Stats.FlushSchedule; spec != "" {
		if _, err := scheduler.AddFunc(spec, func() {
			if err := svc.stats.Flush(); err != nil {
				log.Warn("Scheduled stats flush failed", zap.Error(err))
			}
			srv.BroadcastStatus()
			sum := svc.summary()
			log.Info("Processing summary",
				zap.Int64("total_processed", sum.TotalProcessed),
				zap.Float64("average_confidence", sum.AverageConfidence),
				zap.Int64("uncertain_cases", sum.UncertainCases),
			)
		}); err != nil {
			return fmt.Errorf("invalid stats.flush_schedule %q: %w", spec, err)
		}
	}
	if _, err := scheduler.AddFunc("@every 30m", srv.CleanupIdleClients); err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(ctx)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("Shutdown signal received")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		log.Info("Server shutdown complete")
		return nil
	}
}
