package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const projectionKeyPrefix = "carnil:projection:"

// ProjectionStore keeps the latest projected state per customer as JSON.
// The worker writes it; the API reads it.
type ProjectionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProjectionStore(client *redis.Client, ttl time.Duration) *ProjectionStore {
	return &ProjectionStore{client: client, ttl: ttl}
}

func (s *ProjectionStore) Put(ctx context.Context, customerID string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode projection: %w", err)
	}
	if err := s.client.Set(ctx, projectionKeyPrefix+customerID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store projection for %s: %w", customerID, err)
	}
	return nil
}

// Get decodes the projection for customerID into v and reports whether one
// was stored.
func (s *ProjectionStore) Get(ctx context.Context, customerID string, v any) (bool, error) {
	raw, err := s.client.Get(ctx, projectionKeyPrefix+customerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get projection for %s: %w", customerID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode projection for %s: %w", customerID, err)
	}
	return true, nil
}
