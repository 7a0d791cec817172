package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/loss-signal-fusion/internal/adapter/memory"
	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

func sig(id string, at time.Time) domain.Signal {
	return domain.Signal{
		ID:         id,
		EventType:  domain.EventHail,
		OccurredAt: at,
		Location:   &domain.Point{Lat: 32.75, Lng: -97.33},
		SourceType: domain.SourceWeather,
	}
}

func cluster(id string, updated time.Time) domain.Cluster {
	return domain.Cluster{
		ID:                 id,
		EventType:          domain.EventHail,
		Window:             domain.TimeWindow{Start: t0, End: t0.Add(time.Hour)},
		ConfidenceScore:    40,
		VerificationStatus: domain.StatusProbable,
		SourceTypes:        domain.NewSourceSet(domain.SourceWeather),
		CreatedAt:          t0,
		UpdatedAt:          updated,
	}
}

func insertCluster(t *testing.T, s *memory.Store, c domain.Cluster, signalIDs ...string) {
	t.Helper()
	err := s.InTx(context.Background(), func(ctx context.Context, tx fusion.ClusterTx) error {
		if err := tx.InsertCluster(ctx, c); err != nil {
			return err
		}
		_, err := tx.LinkSignals(ctx, c.ID, signalIDs)
		return err
	})
	require.NoError(t, err)
}

func TestStore_FetchUnclusteredOrder(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertSignals(ctx, sig("b", t0), sig("c", t0.Add(-time.Hour)), sig("a", t0), sig("d", t0)))
	insertCluster(t, s, cluster("c-1", t0), "d")

	got, err := s.FetchUnclustered(ctx)

	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, g := range got {
		ids[i] = g.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestStore_InsertSignalsKeepsFirstCopy(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertSignals(ctx, sig("a", t0)))
	require.NoError(t, s.InsertSignals(ctx, sig("a", t0.Add(time.Hour))))

	got, err := s.FetchUnclustered(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, t0, got[0].OccurredAt)
}

func TestStore_InTxRollsBackOnError(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertSignals(ctx, sig("a", t0)))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx fusion.ClusterTx) error {
		require.NoError(t, tx.InsertCluster(ctx, cluster("c-1", t0)))
		_, err := tx.LinkSignals(ctx, "c-1", []string{"a"})
		require.NoError(t, err)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, s.Memberships())
	_, err = s.GetCluster(ctx, "c-1")
	assert.ErrorIs(t, err, domain.ErrClusterNotFound)
}

func TestStore_LinkSignalsSkipsTakenSignals(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertSignals(ctx, sig("a", t0), sig("b", t0)))
	insertCluster(t, s, cluster("c-1", t0), "a")

	var linked []string
	err := s.InTx(ctx, func(ctx context.Context, tx fusion.ClusterTx) error {
		if err := tx.InsertCluster(ctx, cluster("c-2", t0)); err != nil {
			return err
		}
		var err error
		linked, err = tx.LinkSignals(ctx, "c-2", []string{"a", "b"})
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, linked)
	owner, _ := s.ClusterOf("a")
	assert.Equal(t, "c-1", owner)
}

func TestStore_TxErrors(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	insertCluster(t, s, cluster("c-1", t0))

	err := s.InTx(ctx, func(ctx context.Context, tx fusion.ClusterTx) error {
		_, err := tx.LockCluster(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrClusterNotFound)
		assert.ErrorIs(t, tx.UpdateCluster(ctx, cluster("missing", t0)), domain.ErrClusterNotFound)
		assert.Error(t, tx.InsertCluster(ctx, cluster("c-1", t0)))
		_, err = tx.LinkSignals(ctx, "c-1", []string{"ghost"})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_FindClusters(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	insertCluster(t, s, cluster("first", t0))
	insertCluster(t, s, cluster("second", t0))
	wind := cluster("wind", t0)
	wind.EventType = domain.EventWind
	insertCluster(t, s, wind)

	got, err := s.FindClusters(ctx, domain.EventHail, domain.TimeWindow{Start: t0.Add(30 * time.Minute), End: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, "second", got[1].ID)

	got, err = s.FindClusters(ctx, domain.EventHail, domain.TimeWindow{Start: t0.Add(2 * time.Hour), End: t0.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_FindClustersOrdersByCreation(t *testing.T) {
	s := memory.NewStore()
	late := cluster("late", t0)
	late.CreatedAt = t0.Add(time.Hour)
	insertCluster(t, s, late)
	insertCluster(t, s, cluster("early-b", t0))
	insertCluster(t, s, cluster("early-a", t0))

	got, err := s.FindClusters(context.Background(), domain.EventHail, domain.TimeWindow{Start: t0, End: t0.Add(time.Hour)})
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"early-a", "early-b", "late"}, ids)
}

func TestStore_ListClustersPaginates(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		insertCluster(t, s, cluster(id, t0.Add(time.Duration(i)*time.Hour)))
	}

	page, err := s.ListClusters(ctx, domain.ClusterFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, err = s.ListClusters(ctx, domain.ClusterFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)

	page, err = s.ListClusters(ctx, domain.ClusterFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestStore_GetClusterSignalsInTimeOrder(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertSignals(ctx, sig("late", t0.Add(time.Hour)), sig("early", t0)))
	insertCluster(t, s, cluster("c-1", t0), "late", "early")

	detail, err := s.GetCluster(ctx, "c-1")

	require.NoError(t, err)
	assert.Equal(t, "c-1", detail.Cluster.ID)
	require.Len(t, detail.Signals, 2)
	assert.Equal(t, "early", detail.Signals[0].ID)
	assert.Equal(t, "late", detail.Signals[1].ID)
}
