package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/loss-signal-fusion/internal/observability"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a single fusion pass and print the result as JSON",
		Long: `run executes one fusion pass against the configured database and writes
the result object to stdout. Logs go to stderr. The exit status is non-zero
when the pass fails fatally or another pass holds the run lock; per-candidate
failures are reported in the result's errors list.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := observability.NewLoggerTo(cmd.ErrOrStderr(), cfg)
			metrics := observability.NewMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if cfg.RunTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
				defer cancel()
			}

			a, err := newApp(ctx, cfg, logger, metrics)
			if err != nil {
				return err
			}
			defer a.close(logger)

			res, err := a.engine.RunPass(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
