package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/client"
	"kyc-service/internal/util"
)

const webhookSeenPrefix = "kyc_webhook_seen:"

// WebhookCache remembers processed deliveries by payload digest so provider
// redeliveries short-circuit before touching the store.
type WebhookCache struct {
	client *client.RedisClient
}

func NewWebhookCache(client *client.RedisClient) *WebhookCache {
	return &WebhookCache{client: client}
}

func (c *WebhookCache) Seen(ctx context.Context, digest string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := c.client.Exists(ctx, webhookSeenPrefix+digest)
	if err != nil {
		util.Error("Failed to check webhook digest", zap.String("digest", digest), zap.Error(err))
		return false, fmt.Errorf("failed to check webhook digest: %w", err)
	}
	return exists, nil
}

func (c *WebhookCache) Mark(ctx context.Context, digest string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, webhookSeenPrefix+digest, time.Now().UTC().Format(time.RFC3339), ttl); err != nil {
		util.Error("Failed to mark webhook digest", zap.String("digest", digest), zap.Error(err))
		return fmt.Errorf("failed to mark webhook digest: %w", err)
	}
	return nil
}
