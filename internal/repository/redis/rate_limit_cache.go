package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/client"
	"kyc-service/internal/util"
)

const userRateLimitPrefix = "kyc_rate_limit:"

// RateLimitCache counts requests per user and action. Each hit pushes the
// window expiry forward, so a burst keeps the user limited until it stops.
type RateLimitCache struct {
	client *client.RedisClient
	limit  int64
	window time.Duration
}

func NewRateLimitCache(client *client.RedisClient, limit int, window time.Duration) *RateLimitCache {
	return &RateLimitCache{client: client, limit: int64(limit), window: window}
}

// Allow counts one request and reports whether it is within the window limit.
func (c *RateLimitCache) Allow(ctx context.Context, action, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := fmt.Sprintf("%s%s:%s", userRateLimitPrefix, action, userID)
	count, err := c.client.IncrWithExpire(ctx, key, c.window)
	if err != nil {
		util.Error("Failed to increment rate limit", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count > c.limit {
		util.Warn("Rate limit exceeded",
			zap.String("action", action),
			zap.String("user_id", userID),
			zap.Int64("count", count))
		return false, nil
	}
	return true, nil
}
