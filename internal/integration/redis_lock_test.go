//go:build integration

package integration_test

import (
	"context"
	"testing"
	"time"

	redisadapter "github.com/couchcryptid/loss-signal-fusion/internal/adapter/redis"
	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRunLock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := startRedis(ctx, t)
	const key = "loss_fusion:test_lock"
	locker := redisadapter.NewLocker(client, key, time.Minute)

	t.Run("held lock blocks a second holder", func(t *testing.T) {
		release, ok, err := locker.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		ttl, err := client.PTTL(ctx, key).Result()
		require.NoError(t, err)
		assert.Positive(t, ttl, "lock key carries an expiry")

		_, ok, err = redisadapter.NewLocker(client, key, time.Minute).TryLock(ctx)
		require.NoError(t, err)
		assert.False(t, ok, "second process must not take the lock")

		require.NoError(t, release(ctx))
		n, err := client.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.Zero(t, n)

		release, ok, err = locker.TryLock(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, release(ctx))
	})

	t.Run("release leaves a lock taken by another process", func(t *testing.T) {
		release, ok, err := locker.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		// Simulate expiry followed by another process acquiring the key.
		require.NoError(t, client.Set(ctx, key, "other-token", time.Minute).Err())

		require.NoError(t, release(ctx))
		got, err := client.Get(ctx, key).Result()
		require.NoError(t, err)
		assert.Equal(t, "other-token", got)
		require.NoError(t, client.Del(ctx, key).Err())
	})

	t.Run("expired lock can be retaken", func(t *testing.T) {
		short := redisadapter.NewLocker(client, key, 200*time.Millisecond)
		_, ok, err := short.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		require.Eventually(t, func() bool {
			release, ok, err := short.TryLock(ctx)
			if err != nil || !ok {
				return false
			}
			return release(ctx) == nil
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("engine skips a pass while the lock is held", func(t *testing.T) {
		db := startPostgres(ctx, t)
		release, ok, err := locker.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		defer func() { require.NoError(t, release(ctx)) }()

		_, err = newEngine(db, fusion.WithLocker(redisadapter.NewLocker(client, key, time.Minute))).RunPass(ctx)
		assert.ErrorIs(t, err, domain.ErrRunInProgress)
	})
}
