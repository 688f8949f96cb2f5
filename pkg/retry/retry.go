package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Config holds retry configuration
type Config struct {
	// MaxAttempts bounds the total number of calls, first attempt included.
	MaxAttempts  uint          `mapstructure:"max_attempts" validate:"min=1"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

type options struct {
	retryIf func(error) bool
	onRetry func(attempt uint, err error)
}

type Option func(*options)

// If restricts retries to errors for which fn returns true. By default every
// error is retried.
func If(fn func(error) bool) Option {
	return func(o *options) { o.retryIf = fn }
}

// OnRetry is called after each failed attempt that will be retried.
// attempt is zero-based.
func OnRetry(fn func(attempt uint, err error)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do executes a function with exponential backoff retry
func Do(ctx context.Context, cfg Config, fn func() error, opts ...Option) error {
	o := options{
		retryIf: func(error) bool { return true },
		onRetry: func(uint, error) {},
	}
	for _, opt := range opts {
		opt(&o)
	}

	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.InitialDelay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(o.retryIf),
		retry.OnRetry(func(n uint, err error) {
			if n+1 < attempts {
				o.onRetry(n, err)
			}
		}),
	)
}

// DoWithResult executes a function with exponential backoff retry and returns a result
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error), opts ...Option) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	}, opts...)
	return result, err
}
