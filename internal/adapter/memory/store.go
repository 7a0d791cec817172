// Package memory provides an in-process signal and cluster store. It backs
// engine tests and local runs without Postgres; data is lost on exit.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
)

// Store implements fusion.SignalStore, fusion.ClusterStore and the cluster
// read API. Transactions are serialized by a single mutex.
type Store struct {
	mu       sync.Mutex
	signals  map[string]domain.Signal
	clusters map[string]domain.Cluster
	order    []string          // cluster IDs in creation order
	members  map[string]string // signal ID -> cluster ID
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		signals:  make(map[string]domain.Signal),
		clusters: make(map[string]domain.Cluster),
		members:  make(map[string]string),
	}
}

// InsertSignals adds signals, ignoring IDs that already exist.
func (s *Store) InsertSignals(_ context.Context, signals ...domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range signals {
		if _, ok := s.signals[sig.ID]; !ok {
			s.signals[sig.ID] = sig
		}
	}
	return nil
}

// FetchUnclustered returns signals without a membership, ordered by
// occurred_at then ID.
func (s *Store) FetchUnclustered(_ context.Context) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Signal, 0, len(s.signals))
	for id, sig := range s.signals {
		if _, ok := s.members[id]; !ok {
			out = append(out, sig)
		}
	}
	slices.SortFunc(out, func(a, b domain.Signal) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// FindClusters returns clusters of eventType whose window overlaps window,
// ordered by creation time then ID.
func (s *Store) FindClusters(_ context.Context, eventType domain.EventType, window domain.TimeWindow) ([]domain.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Cluster
	for _, id := range s.order {
		c := s.clusters[id]
		if c.EventType == eventType && c.Window.Overlaps(window) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Cluster) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// InTx runs fn against a private copy of the cluster state and commits it
// only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx fusion.ClusterTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{
		signals:  s.signals,
		clusters: maps.Clone(s.clusters),
		order:    slices.Clone(s.order),
		members:  maps.Clone(s.members),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.clusters, s.order, s.members = tx.clusters, tx.order, tx.members
	return nil
}

// ListClusters returns clusters matching the filter, most recently updated first.
func (s *Store) ListClusters(_ context.Context, f domain.ClusterFilter) ([]domain.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Cluster
	for _, c := range s.clusters {
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Cluster) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if f.Offset >= len(out) {
		return []domain.Cluster{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// GetCluster returns a cluster and its member signals ordered by occurred_at.
func (s *Store) GetCluster(_ context.Context, id string) (domain.ClusterDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[id]
	if !ok {
		return domain.ClusterDetail{}, domain.ErrClusterNotFound
	}
	detail := domain.ClusterDetail{Cluster: c, Signals: []domain.Signal{}}
	for sigID, clusterID := range s.members {
		if clusterID == id {
			detail.Signals = append(detail.Signals, s.signals[sigID])
		}
	}
	slices.SortFunc(detail.Signals, func(a, b domain.Signal) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return detail, nil
}

// Memberships returns the number of membership rows.
func (s *Store) Memberships() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// ClusterOf returns the cluster a signal is linked to.
func (s *Store) ClusterOf(signalID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.members[signalID]
	return id, ok
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type tx struct {
	signals  map[string]domain.Signal
	clusters map[string]domain.Cluster
	order    []string
	members  map[string]string
}

func (t *tx) LockCluster(_ context.Context, id string) (domain.Cluster, error) {
	c, ok := t.clusters[id]
	if !ok {
		return domain.Cluster{}, domain.ErrClusterNotFound
	}
	return c, nil
}

func (t *tx) InsertCluster(_ context.Context, c domain.Cluster) error {
	if _, ok := t.clusters[c.ID]; ok {
		return fmt.Errorf("cluster %s already exists", c.ID)
	}
	t.clusters[c.ID] = c
	t.order = append(t.order, c.ID)
	return nil
}

func (t *tx) UpdateCluster(_ context.Context, c domain.Cluster) error {
	if _, ok := t.clusters[c.ID]; !ok {
		return domain.ErrClusterNotFound
	}
	t.clusters[c.ID] = c
	return nil
}

func (t *tx) LinkSignals(_ context.Context, clusterID string, signalIDs []string) ([]string, error) {
	if _, ok := t.clusters[clusterID]; !ok {
		return nil, domain.ErrClusterNotFound
	}
	linked := make([]string, 0, len(signalIDs))
	for _, id := range signalIDs {
		if _, ok := t.signals[id]; !ok {
			return nil, fmt.Errorf("unknown signal %s", id)
		}
		if _, taken := t.members[id]; taken {
			continue
		}
		t.members[id] = clusterID
		linked = append(linked, id)
	}
	return linked, nil
}
