package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kyc-service/internal/client"
	"kyc-service/internal/repository"
	"kyc-service/internal/util"
)

const lockPrefix = "kyc_lock:"

// releaseScript deletes the key only if the caller still owns it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// LockCache implements repository.Locker with SET NX PX and a token-checked release.
type LockCache struct {
	client *client.RedisClient
}

func NewLockCache(client *client.RedisClient) *LockCache {
	return &LockCache{client: client}
}

func (c *LockCache) Acquire(ctx context.Context, key string, ttl time.Duration) (repository.Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := uuid.NewString()
	lockKey := lockPrefix + key
	ok, err := c.client.SetNX(ctx, lockKey, token, ttl)
	if err != nil {
		util.Error("Failed to acquire lock", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, repository.ErrLockHeld
	}

	util.Debug("Lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))
	return &redisLock{client: c.client, key: lockKey, token: token}, nil
}

type redisLock struct {
	client *client.RedisClient
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token); err != nil && !errors.Is(err, context.Canceled) {
		util.Warn("Failed to release lock", zap.String("key", l.key), zap.Error(err))
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
