package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carnil/carnil/pkg/retry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockHeld    = errors.New("lock held by another owner")
	ErrLockNotHeld = errors.New("lock not held")
)

// Only the owner may release
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock is a single-owner Redis lock with a TTL.
type DistributedLock struct {
	client   *redis.Client
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    "carnil:lock:" + key,
		value:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire tries once to take the lock.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.acquired = ok
	return ok, nil
}

// AcquireWithRetry keeps trying while the lock is held elsewhere. It returns
// ErrLockHeld once cfg.MaxAttempts is exhausted.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, cfg retry.Config) error {
	return retry.Do(ctx, cfg, func() error {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLockHeld
		}
		return nil
	}, retry.If(func(err error) bool { return errors.Is(err, ErrLockHeld) }))
}

func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	if err := l.release(ctx); err != nil {
		return err
	}
	l.acquired = false
	return nil
}

func (l *DistributedLock) release(ctx context.Context) error {
	res, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("release %s: %w", l.key, ErrLockNotHeld)
	}
	return nil
}
