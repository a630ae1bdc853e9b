package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/upb/staffing-erp/app"
	"github.com/upb/staffing-erp/config"
	"github.com/upb/staffing-erp/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// The dispatcher drains the webhook outbox. Several instances may run side
// by side; claimed messages are leased so each attempt is sent once.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("webhook dispatcher stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Error("failed to close dependencies", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	logger.Info("webhook dispatcher starting",
		zap.Int("workers", cfg.Webhooks.WorkerCount),
		zap.Duration("poll_interval", cfg.Webhooks.PollInterval))
	g.Go(func() error {
		return deps.NewDispatcher().Run(gctx, cfg.Server.ShutdownTimeout)
	})

	if cfg.Observability.MetricsEnabled {
		metrics := observability.NewMetricsServer(cfg.Observability.DispatcherMetricsAddress())
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", metrics.Addr))
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metrics.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
