package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

const seenKeyPrefix = "carnil:webhook:seen:"

// DedupeGuard drops webhook events already seen within ttl. Providers
// redeliver on timeouts, so the same event id can arrive more than once.
// Placed first among dispatcher sinks it stops delivery of duplicates.
type DedupeGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupeGuard(client *redis.Client, ttl time.Duration) *DedupeGuard {
	return &DedupeGuard{client: client, ttl: ttl}
}

func (g *DedupeGuard) Handle(ctx context.Context, evt *event.WebhookEvent) error {
	key := seenKeyPrefix + evt.Provider + ":" + evt.ID
	first, err := g.client.SetNX(ctx, key, evt.ReceivedAt.UnixMilli(), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to record webhook event %s: %w", evt.ID, err)
	}
	if !first {
		return fmt.Errorf("webhook event %s: %w", evt.ID, domainErrors.ErrDuplicateEvent)
	}
	return nil
}

// Forget removes the seen marker so a redelivery is processed again.
func (g *DedupeGuard) Forget(ctx context.Context, evt *event.WebhookEvent) error {
	return g.client.Del(ctx, seenKeyPrefix+evt.Provider+":"+evt.ID).Err()
}
