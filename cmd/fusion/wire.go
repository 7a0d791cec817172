package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/loss-signal-fusion/internal/adapter/kafka"
	"github.com/couchcryptid/loss-signal-fusion/internal/adapter/mapbox"
	"github.com/couchcryptid/loss-signal-fusion/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/loss-signal-fusion/internal/adapter/redis"
	"github.com/couchcryptid/loss-signal-fusion/internal/config"
	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
	"github.com/couchcryptid/loss-signal-fusion/internal/observability"
)

// app holds the wired engine and everything that must be closed on exit.
type app struct {
	db      *postgres.DB
	engine  *fusion.Engine
	closers []func() error
}

// newApp connects to Postgres and the optional lock, event and geocoding
// backends, and builds the fusion engine over them.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*app, error) {
	db, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}
	a.closers = append(a.closers, func() error { db.Close(); return nil })

	opts := []fusion.Option{
		fusion.WithMatchOptions(domain.MatchOptions{
			MaxDistanceKm:   cfg.MaxDistanceKm,
			TimeWindowHours: cfg.TimeWindowHours,
		}),
	}

	switch cfg.LockBackend {
	case config.LockPostgres:
		opts = append(opts, fusion.WithLocker(postgres.NewLocker(db)))
	case config.LockRedis:
		client, err := redisadapter.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.close(logger)
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		opts = append(opts, fusion.WithLocker(redisadapter.NewLocker(client, redisadapter.DefaultLockKey, cfg.LockTTL)))
	}
	logger.Info("run lock configured", "backend", cfg.LockBackend)

	if cfg.ClusterEventsEnabled {
		pub := kafka.NewPublisher(cfg, logger)
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, fusion.WithPublisher(pub))
		logger.Info("cluster events enabled", "topic", cfg.KafkaClusterTopic, "brokers", cfg.KafkaBrokers)
	}

	// Locality backfill is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, cfg.MapboxRatePerSec, metrics, logger)
		opts = append(opts, fusion.WithGeocoder(mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)))
		logger.Info("mapbox locality backfill enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox locality backfill disabled")
	}

	a.engine = fusion.New(db, db, logger, metrics, opts...)
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Error("close error", "error", err)
		}
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
