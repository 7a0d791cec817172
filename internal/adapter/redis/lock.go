// Package redis provides a Redis-backed fusion run lock for deployments that
// run several fusion processes against one database.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockKey is the key holding the run lock token.
const DefaultLockKey = "loss_fusion:run_lock"

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements the fusion run lock with SET NX PX.
type Locker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewLocker returns a Locker using key with the given expiry. The TTL bounds
// how long a crashed process can block others.
func NewLocker(client *redis.Client, key string, ttl time.Duration) *Locker {
	if key == "" {
		key = DefaultLockKey
	}
	return &Locker{client: client, key: key, ttl: ttl}
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// TryLock sets the lock key if absent.
func (l *Locker) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("set lock key: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lock key: %w", err)
		}
		return nil
	}
	return release, true, nil
}
