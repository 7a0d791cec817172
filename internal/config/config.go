package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Lock backends for cross-run exclusion.
const (
	LockNone     = "none"
	LockPostgres = "postgres"
	LockRedis    = "redis"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Shared secret expected as a bearer token on /api routes.
	APISecret string

	// Fusion pass scheduling and matching.
	ScheduleInterval time.Duration
	RunTimeout       time.Duration
	RunOnStart       bool
	MaxDistanceKm    float64
	TimeWindowHours  float64

	// Cross-run lock.
	LockBackend   string
	LockTTL       time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Cluster change events.
	ClusterEventsEnabled bool
	KafkaBrokers         []string
	KafkaClusterTopic    string

	// Mapbox reverse geocoding for cluster locality backfill.
	MapboxToken      string
	MapboxEnabled    bool
	MapboxTimeout    time.Duration
	MapboxCacheSize  int
	MapboxRatePerSec float64
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is loaded first if present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	scheduleInterval, err := parseDuration("FUSION_SCHEDULE_INTERVAL", "24h", true)
	if err != nil {
		return nil, err
	}
	runTimeout, err := parseDuration("FUSION_RUN_TIMEOUT", "10m", false)
	if err != nil {
		return nil, err
	}
	lockTTL, err := parseDuration("LOCK_TTL", "30m", false)
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s", false)
	if err != nil {
		return nil, err
	}

	maxDistance, err := parsePositiveFloat("MAX_DISTANCE_KM", 5)
	if err != nil {
		return nil, err
	}
	timeWindow, err := parsePositiveFloat("TIME_WINDOW_HOURS", 24)
	if err != nil {
		return nil, err
	}
	mapboxRate, err := parsePositiveFloat("MAPBOX_RATE_PER_SEC", 5)
	if err != nil {
		return nil, err
	}

	redisDB, err := strconv.Atoi(sharedcfg.EnvOrDefault("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return nil, errors.New("invalid REDIS_DB")
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		APISecret:       os.Getenv("FUSION_API_SECRET"),

		ScheduleInterval: scheduleInterval,
		RunTimeout:       runTimeout,
		RunOnStart:       os.Getenv("FUSION_RUN_ON_START") == "true",
		MaxDistanceKm:    maxDistance,
		TimeWindowHours:  timeWindow,

		LockBackend:   sharedcfg.EnvOrDefault("LOCK_BACKEND", LockPostgres),
		LockTTL:       lockTTL,
		RedisAddr:     sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		ClusterEventsEnabled: os.Getenv("CLUSTER_EVENTS_ENABLED") == "true",
		KafkaBrokers:         sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaClusterTopic:    sharedcfg.EnvOrDefault("KAFKA_CLUSTER_TOPIC", "loss-clusters"),

		MapboxToken:      mapboxToken,
		MapboxEnabled:    mapboxEnabled,
		MapboxTimeout:    mapboxTimeout,
		MapboxCacheSize:  parseMapboxCacheSize(),
		MapboxRatePerSec: mapboxRate,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.APISecret == "" {
		return errors.New("FUSION_API_SECRET is required")
	}
	switch c.LockBackend {
	case LockNone, LockPostgres, LockRedis:
	default:
		return fmt.Errorf("invalid LOCK_BACKEND %q: want none, postgres or redis", c.LockBackend)
	}
	// The Redis key expires on its own; it must outlive the longest pass.
	if c.LockBackend == LockRedis && c.LockTTL <= c.RunTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must exceed FUSION_RUN_TIMEOUT (%s) when LOCK_BACKEND is redis", c.LockTTL, c.RunTimeout)
	}
	if c.ClusterEventsEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when CLUSTER_EVENTS_ENABLED is true")
		}
		if c.KafkaClusterTopic == "" {
			return errors.New("KAFKA_CLUSTER_TOPIC is required when CLUSTER_EVENTS_ENABLED is true")
		}
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

// parseDuration reads a duration variable. Zero is accepted only when
// allowZero is set; negative values are always rejected.
func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

// LoadDatabaseURL reads only DATABASE_URL, for commands such as schema
// migration that do not need the rest of the service settings.
func LoadDatabaseURL() (string, error) {
	_ = godotenv.Load()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return "", errors.New("DATABASE_URL is required")
	}
	return url, nil
}
