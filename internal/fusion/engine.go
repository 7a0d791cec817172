package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Result is the structured outcome of one fusion pass.
type Result struct {
	Success           bool     `json:"success"`
	ClustersCreated   int      `json:"clustersCreated"`
	ClustersUpdated   int      `json:"clustersUpdated"`
	SignalsClustered  int      `json:"signalsClustered"`
	SignalsSuppressed int      `json:"signalsSuppressed"`
	Errors            []string `json:"errors"`
}

// RunStatus records the last finished pass for readiness reporting.
type RunStatus struct {
	FinishedAt time.Time
	Result     Result
	Err        error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker adds a cross-process run lock.
func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// WithPublisher publishes cluster change events after each pass.
func WithPublisher(p EventPublisher) Option { return func(e *Engine) { e.publisher = p } }

// WithGeocoder enables locality backfill for new clusters.
func WithGeocoder(g domain.ReverseGeocoder) Option { return func(e *Engine) { e.geocoder = g } }

// WithMatchOptions overrides the distance and time tolerances.
func WithMatchOptions(o domain.MatchOptions) Option { return func(e *Engine) { e.match = o } }

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

// Engine runs fusion passes: fetch unclustered signals, build candidates,
// merge each into cluster state.
type Engine struct {
	signals   SignalStore
	clusters  ClusterStore
	locker    Locker
	publisher EventPublisher
	geocoder  domain.ReverseGeocoder
	match     domain.MatchOptions
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	merger  *Merger
	running sync.Mutex
	last    atomic.Pointer[RunStatus]
}

// New creates an Engine over the given stores.
func New(signals SignalStore, clusters ClusterStore, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Engine {
	e := &Engine{
		signals:  signals,
		clusters: clusters,
		match:    domain.DefaultMatchOptions(),
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.merger = NewMerger(clusters, e.geocoder, e.match, e.clock, logger)
	return e
}

// LastRun returns the status of the most recent finished pass, or nil.
func (e *Engine) LastRun() *RunStatus {
	return e.last.Load()
}

// CheckReadiness returns nil when the cluster store is reachable and the most
// recent pass, if any, was not fatal.
func (e *Engine) CheckReadiness(ctx context.Context) error {
	if p, ok := e.clusters.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("cluster store unreachable: %w", err)
		}
	}
	if last := e.LastRun(); last != nil && last.Err != nil {
		return fmt.Errorf("last fusion pass at %s failed: %w", last.FinishedAt.Format(time.RFC3339), last.Err)
	}
	return nil
}

// RunPass executes one full fusion pass. A failure to fetch signals is fatal
// and returned as a *domain.FetchError. Failures while merging a candidate are
// recorded in Result.Errors and do not stop the pass. If another pass is
// running, domain.ErrRunInProgress is returned without doing any work.
func (e *Engine) RunPass(ctx context.Context) (Result, error) {
	if !e.running.TryLock() {
		e.metrics.Runs.WithLabelValues("skipped").Inc()
		return Result{}, domain.ErrRunInProgress
	}
	defer e.running.Unlock()

	if e.locker != nil {
		release, acquired, err := e.locker.TryLock(ctx)
		if err != nil {
			e.metrics.Runs.WithLabelValues("fatal").Inc()
			return Result{}, fmt.Errorf("acquire run lock: %w", err)
		}
		if !acquired {
			e.metrics.Runs.WithLabelValues("skipped").Inc()
			return Result{}, domain.ErrRunInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("release run lock failed", "error", err)
			}
		}()
	}

	start := e.clock.Now()
	res, err := e.runPass(ctx)
	e.metrics.RunDuration.Observe(e.clock.Since(start).Seconds())
	e.last.Store(&RunStatus{FinishedAt: e.clock.Now(), Result: res, Err: err})

	switch {
	case err != nil:
		e.metrics.Runs.WithLabelValues("fatal").Inc()
		e.logger.Error("fusion pass failed", "error", err)
	case len(res.Errors) > 0:
		e.metrics.Runs.WithLabelValues("partial").Inc()
		e.metrics.LastSuccessTime.Set(float64(e.clock.Now().Unix()))
	default:
		e.metrics.Runs.WithLabelValues("success").Inc()
		e.metrics.LastSuccessTime.Set(float64(e.clock.Now().Unix()))
	}
	return res, err
}

func (e *Engine) runPass(ctx context.Context) (Result, error) {
	signals, err := e.signals.FetchUnclustered(ctx)
	if err != nil {
		return Result{}, &domain.FetchError{Err: err}
	}

	candidates, stats := domain.BuildCandidates(signals, e.match)
	e.metrics.SignalsSuppressed.Add(float64(stats.SuppressedSignals))
	e.metrics.SignalsSkipped.Add(float64(stats.Skipped))
	e.logger.Info("fusion pass started",
		"unclustered", len(signals),
		"candidates", len(candidates),
		"suppressed_candidates", stats.SuppressedCandidates,
		"skipped_no_location", stats.Skipped,
	)

	res := Result{
		Success:           true,
		SignalsSuppressed: stats.SuppressedSignals,
		Errors:            []string{},
	}
	events := make([]domain.ClusterEvent, 0, len(candidates))

	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("pass interrupted with %d candidates not processed: %v", len(candidates)-i, err))
			e.logger.Warn("fusion pass interrupted", "remaining", len(candidates)-i, "error", err)
			break
		}

		e.metrics.CandidateSize.Observe(float64(len(cand.Signals)))
		out, err := e.merger.Merge(ctx, cand)
		if err != nil {
			cerr := &domain.CandidateError{Candidate: cand.String(), Err: err}
			e.logger.Warn("merge candidate failed, continuing", "error", cerr)
			e.metrics.CandidateErrors.Inc()
			res.Errors = append(res.Errors, cerr.Error())
			continue
		}

		switch out.Action {
		case domain.ClusterCreated:
			res.ClustersCreated++
			e.metrics.ClustersCreated.Inc()
		case domain.ClusterUpdated:
			res.ClustersUpdated++
			e.metrics.ClustersUpdated.Inc()
		default:
			continue
		}
		res.SignalsClustered += len(out.Linked)
		e.metrics.SignalsClustered.Add(float64(len(out.Linked)))
		e.logger.Debug("candidate merged",
			"action", out.Action,
			"cluster_id", out.Cluster.ID,
			"event_type", out.Cluster.EventType,
			"signals", len(out.Linked),
			"confidence", out.Cluster.ConfidenceScore,
			"status", out.Cluster.VerificationStatus,
		)
		events = append(events, domain.ClusterEvent{
			Action:     out.Action,
			Cluster:    out.Cluster,
			Linked:     out.Linked,
			OccurredAt: out.Cluster.UpdatedAt,
		})
	}

	e.publish(ctx, events)

	e.logger.Info("fusion pass finished",
		"clusters_created", res.ClustersCreated,
		"clusters_updated", res.ClustersUpdated,
		"signals_clustered", res.SignalsClustered,
		"signals_suppressed", res.SignalsSuppressed,
		"errors", len(res.Errors),
	)
	return res, nil
}

// publish sends change events. Delivery is best-effort: the clusters are
// already committed, so failures are logged and counted only.
func (e *Engine) publish(ctx context.Context, events []domain.ClusterEvent) {
	if e.publisher == nil || len(events) == 0 {
		return
	}
	if err := e.publisher.PublishClusterEvents(context.WithoutCancel(ctx), events); err != nil {
		e.metrics.EventPublishErrors.Inc()
		e.logger.Error("publish cluster events failed", "error", err, "events", len(events))
	}
}

// IsFatal reports whether err from RunPass aborted the pass before any write.
func IsFatal(err error) bool {
	var fetchErr *domain.FetchError
	return errors.As(err, &fetchErr)
}
