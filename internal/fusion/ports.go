package fusion

import (
	"context"

	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
)

// SignalStore reads the signals that have no cluster membership yet.
type SignalStore interface {
	FetchUnclustered(ctx context.Context) ([]domain.Signal, error)
}

// ClusterStore looks up and mutates persisted clusters.
type ClusterStore interface {
	// FindClusters returns clusters of the given event type whose time window
	// overlaps window, oldest first.
	FindClusters(ctx context.Context, eventType domain.EventType, window domain.TimeWindow) ([]domain.Cluster, error)

	// InTx runs fn in a single transaction. If fn returns an error, every
	// write made through tx is rolled back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx ClusterTx) error) error
}

// ClusterTx is the set of writes available inside a ClusterStore transaction.
type ClusterTx interface {
	// LockCluster re-reads a cluster and holds it against concurrent updates
	// until the transaction ends.
	LockCluster(ctx context.Context, id string) (domain.Cluster, error)
	InsertCluster(ctx context.Context, c domain.Cluster) error
	UpdateCluster(ctx context.Context, c domain.Cluster) error

	// LinkSignals inserts memberships and returns the IDs that were newly
	// linked. Signals that already belong to a cluster are skipped silently.
	LinkSignals(ctx context.Context, clusterID string, signalIDs []string) ([]string, error)
}

// Locker provides mutual exclusion across processes for a fusion pass.
type Locker interface {
	// TryLock attempts to take the run lock without waiting. When acquired is
	// true, release must be called once the pass ends.
	TryLock(ctx context.Context) (release func(ctx context.Context) error, acquired bool, err error)
}

// EventPublisher delivers cluster change events to downstream consumers.
type EventPublisher interface {
	PublishClusterEvents(ctx context.Context, events []domain.ClusterEvent) error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
