package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MergeOutcome describes what a merge did with a candidate.
type MergeOutcome struct {
	Action  domain.ClusterAction // empty when nothing was linked
	Cluster domain.Cluster
	Linked  []string
}

// Merger folds candidates into persisted cluster state.
type Merger struct {
	clusters ClusterStore
	geocoder domain.ReverseGeocoder
	match    domain.MatchOptions
	clock    clockwork.Clock
	logger   *slog.Logger
	newID    func() string
}

// NewMerger creates a Merger. Pass a nil geocoder to disable locality backfill.
func NewMerger(clusters ClusterStore, geocoder domain.ReverseGeocoder, match domain.MatchOptions, clock clockwork.Clock, logger *slog.Logger) *Merger {
	return &Merger{
		clusters: clusters,
		geocoder: geocoder,
		match:    match,
		clock:    clock,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Merge updates the first nearby overlapping cluster with the candidate, or
// creates a new cluster when none exists, and links the candidate's signals.
// The cluster write and the membership inserts commit together.
func (m *Merger) Merge(ctx context.Context, cand domain.Candidate) (MergeOutcome, error) {
	target, found, err := m.findTarget(ctx, cand)
	if err != nil {
		return MergeOutcome{}, err
	}

	var out MergeOutcome
	if found {
		out, err = m.update(ctx, target.ID, cand)
	} else {
		out, err = m.create(ctx, cand)
	}
	if errors.Is(err, domain.ErrNothingLinked) {
		m.logger.Info("candidate signals already clustered, skipping", "candidate", cand.String())
		return MergeOutcome{}, nil
	}
	return out, err
}

// findTarget returns the oldest cluster of the same event type whose window
// overlaps the candidate window widened by the time tolerance and whose
// centroid is within the distance tolerance of the candidate centroid.
func (m *Merger) findTarget(ctx context.Context, cand domain.Candidate) (domain.Cluster, bool, error) {
	window := cand.Window.Extend(m.match.TimeWindow())
	existing, err := m.clusters.FindClusters(ctx, cand.EventType, window)
	if err != nil {
		return domain.Cluster{}, false, fmt.Errorf("find clusters: %w", err)
	}
	for _, c := range existing {
		if c.EventType != cand.EventType {
			continue
		}
		if domain.DistanceKm(c.Center, cand.Centroid) <= m.match.MaxDistanceKm {
			return c, true, nil
		}
	}
	return domain.Cluster{}, false, nil
}

func (m *Merger) update(ctx context.Context, clusterID string, cand domain.Candidate) (MergeOutcome, error) {
	var out MergeOutcome
	err := m.clusters.InTx(ctx, func(ctx context.Context, tx ClusterTx) error {
		current, err := tx.LockCluster(ctx, clusterID)
		if err != nil {
			return fmt.Errorf("lock cluster %s: %w", clusterID, err)
		}
		linked, err := tx.LinkSignals(ctx, clusterID, cand.SignalIDs())
		if err != nil {
			return fmt.Errorf("link signals to cluster %s: %w", clusterID, err)
		}
		if len(linked) == 0 {
			return domain.ErrNothingLinked
		}

		updated := current.Absorb(cand.Subset(linked), m.clock.Now())
		if err := tx.UpdateCluster(ctx, updated); err != nil {
			return fmt.Errorf("update cluster %s: %w", clusterID, err)
		}
		out = MergeOutcome{Action: domain.ClusterUpdated, Cluster: updated, Linked: linked}
		return nil
	})
	return out, err
}

func (m *Merger) create(ctx context.Context, cand domain.Candidate) (MergeOutcome, error) {
	cluster := domain.NewCluster(m.newID(), cand, m.clock.Now())
	var out MergeOutcome
	err := m.clusters.InTx(ctx, func(ctx context.Context, tx ClusterTx) error {
		if err := tx.InsertCluster(ctx, cluster); err != nil {
			return fmt.Errorf("insert cluster: %w", err)
		}
		linked, err := tx.LinkSignals(ctx, cluster.ID, cand.SignalIDs())
		if err != nil {
			return fmt.Errorf("link signals to cluster %s: %w", cluster.ID, err)
		}
		if len(linked) == 0 {
			return domain.ErrNothingLinked
		}

		// Geocode only once the cluster is known to survive, and from the
		// members actually linked.
		sub, changed := cand, false
		if len(linked) < len(cand.Signals) {
			// Some members were claimed concurrently; rebuild from the rest.
			sub, changed = cand.Subset(linked), true
		}
		addr := domain.BackfillLocality(ctx, sub.Address, sub.Centroid, m.geocoder, m.logger)
		if addr != sub.Address {
			sub.Address, changed = addr, true
		}
		if changed {
			cluster = domain.NewCluster(cluster.ID, sub, cluster.CreatedAt)
			if err := tx.UpdateCluster(ctx, cluster); err != nil {
				return fmt.Errorf("update cluster %s: %w", cluster.ID, err)
			}
		}
		out = MergeOutcome{Action: domain.ClusterCreated, Cluster: cluster, Linked: linked}
		return nil
	})
	return out, err
}
