package fusion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/observability"
	"github.com/jonboulle/clockwork"
)

// PassRunner runs a single fusion pass.
type PassRunner interface {
	RunPass(ctx context.Context) (Result, error)
}

// SchedulerConfig controls periodic passes.
type SchedulerConfig struct {
	Interval    time.Duration // zero disables the scheduler
	RunTimeout  time.Duration
	RunOnStart  bool
	MaxAttempts int // attempts per tick for fatal failures; defaults to 3
}

// Scheduler triggers a fusion pass on a fixed interval.
type Scheduler struct {
	runner  PassRunner
	cfg     SchedulerConfig
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewScheduler creates a Scheduler for the given runner.
func NewScheduler(runner PassRunner, cfg SchedulerConfig, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Scheduler{runner: runner, cfg: cfg, clock: clock, logger: logger, metrics: metrics}
}

// Run blocks until ctx is cancelled, triggering a pass every interval.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		s.logger.Info("fusion scheduler disabled")
		return nil
	}
	s.logger.Info("fusion scheduler started", "interval", s.cfg.Interval, "run_timeout", s.cfg.RunTimeout)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("fusion scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

// tick runs one scheduled pass, retrying fatal failures with exponential
// backoff. Per-candidate failures are not retried; they are reported in the
// result and the affected signals are picked up again by the next pass.
func (s *Scheduler) tick(ctx context.Context) {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		err := s.runOnce(ctx)
		if err == nil || errors.Is(err, domain.ErrRunInProgress) {
			return
		}
		if ctx.Err() != nil || attempt == s.cfg.MaxAttempts {
			return
		}
		s.logger.Warn("scheduled fusion pass failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if !s.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	res, err := s.runner.RunPass(runCtx)
	if errors.Is(err, domain.ErrRunInProgress) {
		s.logger.Info("fusion pass already running, skipping tick")
		return err
	}
	if err != nil {
		return err
	}
	s.logger.Info("scheduled fusion pass complete",
		"clusters_created", res.ClustersCreated,
		"clusters_updated", res.ClustersUpdated,
		"signals_clustered", res.SignalsClustered,
		"errors", len(res.Errors),
	)
	return nil
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
