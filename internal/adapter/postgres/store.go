package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
	"github.com/jackc/pgx/v5"
)

const signalColumns = `s.id, s.event_type, s.occurred_at, s.lat, s.lng, s.address, s.city, s.state, s.zip,
	s.source_type, s.severity_raw, s.confidence_raw, s.created_at`

const clusterColumns = `id, event_type, center_lat, center_lng, time_window_start, time_window_end,
	confidence_score, verification_status, signal_count, source_types, address, city, state, zip,
	created_at, updated_at`

// FetchUnclustered returns every signal without a membership row, ordered by
// occurred_at then ID so candidate grouping is reproducible.
func (db *DB) FetchUnclustered(ctx context.Context) ([]domain.Signal, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+signalColumns+`
		FROM loss_signals s
		WHERE NOT EXISTS (SELECT 1 FROM loss_cluster_signals m WHERE m.signal_id = s.id)
		ORDER BY s.occurred_at, s.id
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSignal)
}

// FindClusters returns clusters of eventType whose window overlaps window,
// oldest first.
func (db *DB) FindClusters(ctx context.Context, eventType domain.EventType, window domain.TimeWindow) ([]domain.Cluster, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+clusterColumns+`
		FROM loss_clusters
		WHERE event_type = $1 AND time_window_start <= $3 AND time_window_end >= $2
		ORDER BY created_at, id
	`, string(eventType), window.Start, window.End)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, collectCluster)
}

// InTx runs fn inside a database transaction, committing only when fn
// returns nil.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx fusion.ClusterTx) error) error {
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		return fn(ctx, clusterTx{tx: tx})
	})
}

// ListClusters returns clusters matching f, most recently updated first.
func (db *DB) ListClusters(ctx context.Context, f domain.ClusterFilter) ([]domain.Cluster, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v ...any) {
		for _, arg := range v {
			args = append(args, arg)
			cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(args)), 1)
		}
		where = append(where, cond)
	}

	if f.EventType != "" {
		add("event_type = ?", string(f.EventType))
	}
	if f.Status != "" {
		add("verification_status = ?", string(f.Status))
	}
	// The status bound narrows the score range so the score index applies.
	if n := f.EffectiveMinConfidence(); n > 0 {
		add("confidence_score >= ?", n)
	}
	if f.State != "" {
		add("state = ?", f.State)
	}
	if f.BBox != nil {
		add("center_lat BETWEEN ? AND ? AND center_lng BETWEEN ? AND ?",
			f.BBox.MinLat, f.BBox.MaxLat, f.BBox.MinLng, f.BBox.MaxLng)
	}

	query := `SELECT ` + clusterColumns + ` FROM loss_clusters`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = domain.DefaultClusterLimit
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY updated_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, collectCluster)
}

// GetCluster returns a cluster and its member signals.
func (db *DB) GetCluster(ctx context.Context, id string) (domain.ClusterDetail, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+clusterColumns+` FROM loss_clusters WHERE id = $1`, id)
	c, err := scanCluster(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClusterDetail{}, domain.ErrClusterNotFound
	}
	if err != nil {
		return domain.ClusterDetail{}, err
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+signalColumns+`
		FROM loss_signals s
		JOIN loss_cluster_signals m ON m.signal_id = s.id
		WHERE m.cluster_id = $1
		ORDER BY s.occurred_at, s.id
	`, id)
	if err != nil {
		return domain.ClusterDetail{}, err
	}
	signals, err := pgx.CollectRows(rows, scanSignal)
	if err != nil {
		return domain.ClusterDetail{}, err
	}
	return domain.ClusterDetail{Cluster: c, Signals: signals}, nil
}

// InsertSignals writes signals in one batch, skipping IDs that already exist.
func (db *DB) InsertSignals(ctx context.Context, signals ...domain.Signal) error {
	batch := &pgx.Batch{}
	for _, s := range signals {
		var lat, lng *float64
		if s.Location != nil {
			lat, lng = &s.Location.Lat, &s.Location.Lng
		}
		batch.Queue(`
			INSERT INTO loss_signals (id, event_type, occurred_at, lat, lng, address, city, state, zip,
				source_type, severity_raw, confidence_raw, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, now()))
			ON CONFLICT (id) DO NOTHING
		`, s.ID, string(s.EventType), s.OccurredAt, lat, lng, s.Address.Street, s.Address.City,
			s.Address.State, s.Address.Zip, string(s.SourceType), s.SeverityRaw, s.ConfidenceRaw,
			nullTime(s.CreatedAt))
	}
	if err := db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert signals: %w", err)
	}
	return nil
}

type clusterTx struct {
	tx pgx.Tx
}

func (t clusterTx) LockCluster(ctx context.Context, id string) (domain.Cluster, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+clusterColumns+` FROM loss_clusters WHERE id = $1 FOR UPDATE`, id)
	c, err := scanCluster(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cluster{}, domain.ErrClusterNotFound
	}
	return c, err
}

func (t clusterTx) InsertCluster(ctx context.Context, c domain.Cluster) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO loss_clusters (`+clusterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, clusterArgs(c)...)
	return err
}

func (t clusterTx) UpdateCluster(ctx context.Context, c domain.Cluster) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE loss_clusters SET
			center_lat = $3, center_lng = $4,
			time_window_start = $5, time_window_end = $6,
			confidence_score = $7, verification_status = $8,
			signal_count = $9, source_types = $10,
			address = $11, city = $12, state = $13, zip = $14,
			updated_at = $15
		WHERE id = $1 AND event_type = $2
	`, c.ID, string(c.EventType), c.Center.Lat, c.Center.Lng, c.Window.Start, c.Window.End,
		c.ConfidenceScore, string(c.VerificationStatus), c.SignalCount, c.SourceTypes.Strings(),
		c.Address.Street, c.Address.City, c.Address.State, c.Address.Zip, c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrClusterNotFound
	}
	return nil
}

func (t clusterTx) LinkSignals(ctx context.Context, clusterID string, signalIDs []string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		INSERT INTO loss_cluster_signals (cluster_id, signal_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
		RETURNING signal_id
	`, clusterID, signalIDs)
	if err != nil {
		return nil, err
	}
	linked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return inOrder(signalIDs, linked), nil
}

// inOrder returns the members of subset in the order they appear in ids.
func inOrder(ids, subset []string) []string {
	keep := make(map[string]struct{}, len(subset))
	for _, id := range subset {
		keep[id] = struct{}{}
	}
	out := make([]string, 0, len(subset))
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
