package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-service/internal/client"
	"kyc-service/internal/repository"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *client.RedisClient) {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		m.Close()
	})
	return m, client.WrapRedisClient(rdb)
}

func TestLockCacheAcquireRelease(t *testing.T) {
	m, c := newTestClient(t)
	ctx := context.Background()
	locks := NewLockCache(c)

	lock, err := locks.Acquire(ctx, "user:u1", time.Minute)
	require.NoError(t, err)
	assert.True(t, m.Exists(lockPrefix+"user:u1"))

	_, err = locks.Acquire(ctx, "user:u1", time.Minute)
	assert.ErrorIs(t, err, repository.ErrLockHeld)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, m.Exists(lockPrefix+"user:u1"))

	_, err = locks.Acquire(ctx, "user:u1", time.Minute)
	assert.NoError(t, err)
}

func TestLockCacheReleaseKeepsForeignLock(t *testing.T) {
	m, c := newTestClient(t)
	ctx := context.Background()
	locks := NewLockCache(c)

	stale, err := locks.Acquire(ctx, "ref:R1", time.Second)
	require.NoError(t, err)
	m.FastForward(2 * time.Second)

	_, err = locks.Acquire(ctx, "ref:R1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, m.Exists(lockPrefix+"ref:R1"), "expired owner must not delete the new lock")
}

func TestWebhookCache(t *testing.T) {
	m, c := newTestClient(t)
	ctx := context.Background()
	cache := NewWebhookCache(c)

	seen, err := cache.Seen(ctx, "digest")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, cache.Mark(ctx, "digest", time.Hour))
	seen, err = cache.Seen(ctx, "digest")
	require.NoError(t, err)
	assert.True(t, seen)

	m.FastForward(2 * time.Hour)
	seen, _ = cache.Seen(ctx, "digest")
	assert.False(t, seen)
}

func TestRateLimitCache(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()
	limiter := NewRateLimitCache(c, 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "start", "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "start", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = limiter.Allow(ctx, "start", "u2")
	assert.True(t, ok)
}

func TestLockCacheBackendError(t *testing.T) {
	m, c := newTestClient(t)
	m.SetError("LOADING server is loading")

	_, err := NewLockCache(c).Acquire(context.Background(), "user:u1", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrLockHeld)
}
