package postgres

import (
	"time"

	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/jackc/pgx/v5"
)

func scanSignal(row pgx.CollectableRow) (domain.Signal, error) {
	var (
		s                     domain.Signal
		eventType, sourceType string
		lat, lng              *float64
	)
	err := row.Scan(&s.ID, &eventType, &s.OccurredAt, &lat, &lng,
		&s.Address.Street, &s.Address.City, &s.Address.State, &s.Address.Zip,
		&sourceType, &s.SeverityRaw, &s.ConfidenceRaw, &s.CreatedAt)
	if err != nil {
		return domain.Signal{}, err
	}
	s.EventType = domain.EventType(eventType)
	s.SourceType = domain.SourceType(sourceType)
	if lat != nil && lng != nil {
		s.Location = &domain.Point{Lat: *lat, Lng: *lng}
	}
	return s, nil
}

func collectCluster(row pgx.CollectableRow) (domain.Cluster, error) { return scanCluster(row) }

func scanCluster(row pgx.Row) (domain.Cluster, error) {
	var (
		c                 domain.Cluster
		eventType, status string
		sources           []string
	)
	err := row.Scan(&c.ID, &eventType, &c.Center.Lat, &c.Center.Lng, &c.Window.Start, &c.Window.End,
		&c.ConfidenceScore, &status, &c.SignalCount, &sources,
		&c.Address.Street, &c.Address.City, &c.Address.State, &c.Address.Zip,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Cluster{}, err
	}
	c.EventType = domain.EventType(eventType)
	c.VerificationStatus = domain.VerificationStatus(status)
	c.SourceTypes = domain.SourceSetFromStrings(sources)
	return c, nil
}

// clusterArgs orders a cluster's fields to match clusterColumns.
func clusterArgs(c domain.Cluster) []any {
	return []any{
		c.ID, string(c.EventType), c.Center.Lat, c.Center.Lng, c.Window.Start, c.Window.End,
		c.ConfidenceScore, string(c.VerificationStatus), c.SignalCount, c.SourceTypes.Strings(),
		c.Address.Street, c.Address.City, c.Address.State, c.Address.Zip,
		c.CreatedAt, c.UpdatedAt,
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
