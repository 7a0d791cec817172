package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/loss-signal-fusion/internal/adapter/http"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
	"github.com/couchcryptid/loss-signal-fusion/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fusion API and run scheduled passes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending schema migrations before starting")
	return cmd
}

func serve(parent context.Context, migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer a.close(logger)

	if migrate {
		if err := a.db.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema migrations applied")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Runner:     a.engine,
		Clusters:   a.db,
		Ready:      a.engine,
		Secret:     cfg.APISecret,
		RunTimeout: cfg.RunTimeout,
	}, logger)

	scheduler := fusion.NewScheduler(a.engine, fusion.SchedulerConfig{
		Interval:   cfg.ScheduleInterval,
		RunTimeout: cfg.RunTimeout,
		RunOnStart: cfg.RunOnStart,
	}, clockwork.NewRealClock(), logger, metrics)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start scheduler.
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before shutdown timeout")
	}

	logger.Info("shutdown complete")
	return nil
}
