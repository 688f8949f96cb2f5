package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carnil/carnil/internal/domain/customer"
	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
	"github.com/carnil/carnil/internal/infrastructure/observability"
	"github.com/carnil/carnil/internal/providers"
	"github.com/carnil/carnil/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is the envelope every successful client operation returns.
type Result[T any] struct {
	Data T `json:"data"`
}

// Client is the provider-agnostic entry point. It is bound to exactly one
// adapter at construction and never fails over to another provider.
type Client struct {
	cfg     providers.Config
	adapter providers.Adapter
	caps    providers.Capabilities

	retry   retry.Config
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[any]

	logger  zerolog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewClient validates cfg and resolves its adapter from registry.
func NewClient(cfg providers.Config, registry *providers.Registry, opts ...Option) (*Client, error) {
	if err := validateStruct(cfg); err != nil {
		return nil, err
	}

	adapter, err := registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		cfg:     cfg,
		adapter: adapter,
		caps:    adapter.Capabilities(),
		retry:   o.retry,
		timeout: o.timeout,
		logger:  o.logger.With().Str("provider", string(cfg.Provider)).Logger(),
		metrics: o.metrics,
		tracer:  o.tracer,
	}
	c.breaker = c.newBreaker(o.breaker)
	return c, nil
}

// Provider returns the bound provider name.
func (c *Client) Provider() providers.Name { return c.cfg.Provider }

// Config returns a copy of the bound config.
func (c *Client) Config() providers.Config { return c.cfg }

func (c *Client) newBreaker(bc BreakerConfig) *gobreaker.CircuitBreaker[any] {
	name := "carnil-" + string(c.cfg.Provider)
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= bc.MinRequests && failureRatio >= bc.FailureRatio
		},
		// Only transient provider failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !domainErrors.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			if c.metrics != nil {
				c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
}

func (c *Client) CreateCustomer(ctx context.Context, req customer.CreateRequest) (Result[*customer.Customer], error) {
	if err := validateStruct(req); err != nil {
		return Result[*customer.Customer]{}, err
	}
	retryable := c.prepareIdempotencyKey(&req.IdempotencyKey)
	return call(ctx, c, "create_customer", retryable, func(ctx context.Context) (*customer.Customer, error) {
		return c.adapter.CreateCustomer(ctx, req)
	})
}

func (c *Client) UpdateCustomer(ctx context.Context, req customer.UpdateRequest) (Result[*customer.Customer], error) {
	if err := validateStruct(req); err != nil {
		return Result[*customer.Customer]{}, err
	}
	return call(ctx, c, "update_customer", true, func(ctx context.Context) (*customer.Customer, error) {
		return c.adapter.UpdateCustomer(ctx, req)
	})
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req payment.CreateRequest) (Result[*payment.PaymentIntent], error) {
	if err := validateStruct(req); err != nil {
		return Result[*payment.PaymentIntent]{}, err
	}
	if err := (payment.Amount{MinorUnits: req.Amount, Currency: req.Currency}).Validate(c.caps.Currencies); err != nil {
		return Result[*payment.PaymentIntent]{}, err
	}
	req.Currency = payment.NormalizeCurrency(req.Currency)
	retryable := c.prepareIdempotencyKey(&req.IdempotencyKey)
	return call(ctx, c, "create_payment_intent", retryable, func(ctx context.Context) (*payment.PaymentIntent, error) {
		return c.adapter.CreatePaymentIntent(ctx, req)
	})
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (Result[*payment.PaymentIntent], error) {
	if id == "" {
		return Result[*payment.PaymentIntent]{}, domainErrors.NewValidationError("paymentIntentId", "is required")
	}
	return call(ctx, c, "get_payment_intent", true, func(ctx context.Context) (*payment.PaymentIntent, error) {
		return c.adapter.GetPaymentIntent(ctx, id)
	})
}

func (c *Client) ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (Result[*payment.PaymentIntent], error) {
	if err := validateStruct(req); err != nil {
		return Result[*payment.PaymentIntent]{}, err
	}
	return call(ctx, c, "confirm_payment", true, func(ctx context.Context) (*payment.PaymentIntent, error) {
		return c.adapter.ConfirmPayment(ctx, req)
	})
}

func (c *Client) CreateSubscription(ctx context.Context, req subscription.CreateRequest) (Result[*subscription.Subscription], error) {
	if err := validateStruct(req); err != nil {
		return Result[*subscription.Subscription]{}, err
	}
	retryable := c.prepareIdempotencyKey(&req.IdempotencyKey)
	return call(ctx, c, "create_subscription", retryable, func(ctx context.Context) (*subscription.Subscription, error) {
		return c.adapter.CreateSubscription(ctx, req)
	})
}

func (c *Client) GetSubscription(ctx context.Context, id string) (Result[*subscription.Subscription], error) {
	if id == "" {
		return Result[*subscription.Subscription]{}, domainErrors.NewValidationError("subscriptionId", "is required")
	}
	return call(ctx, c, "get_subscription", true, func(ctx context.Context) (*subscription.Subscription, error) {
		return c.adapter.GetSubscription(ctx, id)
	})
}

func (c *Client) CancelSubscription(ctx context.Context, req subscription.CancelRequest) (Result[*subscription.Subscription], error) {
	if err := validateStruct(req); err != nil {
		return Result[*subscription.Subscription]{}, err
	}
	return call(ctx, c, "cancel_subscription", true, func(ctx context.Context) (*subscription.Subscription, error) {
		return c.adapter.CancelSubscription(ctx, req)
	})
}

// prepareIdempotencyKey reports whether a create call may be retried. Creates
// are only retried when the provider deduplicates them by key; a key is
// generated if the caller supplied none so every attempt shares it.
func (c *Client) prepareIdempotencyKey(key *string) bool {
	if !c.caps.IdempotencyKeys {
		return false
	}
	if *key == "" {
		*key = uuid.NewString()
	}
	return true
}

// call runs one client operation: span, bounded retries of transient errors,
// per-attempt timeout and the circuit breaker.
func call[T any](ctx context.Context, c *Client, op string, retryable bool, fn func(context.Context) (T, error)) (Result[T], error) {
	provider := string(c.cfg.Provider)
	ctx, span := c.tracer.Start(ctx, "carnil."+op, trace.WithAttributes(
		attribute.String("carnil.provider", provider),
		attribute.String("carnil.op", op),
	))
	defer span.End()

	policy := c.retry
	if !retryable {
		policy.MaxAttempts = 1
	}

	start := time.Now()
	attempts := 0
	do := func() (T, error) {
		attempts++
		return attempt(ctx, c, op, fn)
	}
	onRetry := func(n uint, err error) {
		c.logger.Warn().Err(err).Str("op", op).Uint("attempt", n+1).Msg("Retrying provider call")
		if c.metrics != nil {
			c.metrics.ProviderRetries.WithLabelValues(provider, op).Inc()
		}
	}
	data, err := retry.DoWithResult(ctx, policy, do, retry.If(domainErrors.IsTransient), retry.OnRetry(onRetry))
	if err != nil && ctx.Err() != nil && !errors.Is(err, domainErrors.ErrCanceled) {
		err = canceled(ctx)
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("carnil.attempts", attempts))
	if c.metrics != nil {
		c.metrics.ProviderCallDuration.WithLabelValues(provider, op).Observe(elapsed.Seconds())
	}

	if err != nil {
		kind := errorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		if c.metrics != nil {
			c.metrics.ProviderCallsTotal.WithLabelValues(provider, op, "error").Inc()
			c.metrics.ProviderErrors.WithLabelValues(provider, op, kind).Inc()
		}
		c.logger.Error().Err(err).Str("op", op).Str("kind", kind).Int("attempts", attempts).Dur("duration", elapsed).Msg("Provider call failed")
		return Result[T]{}, err
	}

	if c.metrics != nil {
		c.metrics.ProviderCallsTotal.WithLabelValues(provider, op, "success").Inc()
	}
	c.logger.Debug().Str("op", op).Int("attempts", attempts).Dur("duration", elapsed).Msg("Provider call succeeded")
	return Result[T]{Data: data}, nil
}

// attempt makes one bounded call through the breaker.
func attempt[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, canceled(ctx)
	}

	actx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	v, err := c.breaker.Execute(func() (any, error) {
		v, err := fn(actx)
		return v, c.classify(ctx, op, err)
	})
	if c.metrics != nil {
		c.metrics.CircuitBreakerRequests.WithLabelValues("carnil-"+string(c.cfg.Provider), breakerResult(err)).Inc()
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%s %s: %w", c.cfg.Provider, op, domainErrors.ErrProviderUnavailable)
	}
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// classify normalizes context failures. Caller cancellation is never
// transient; an attempt that ran out of time is.
func (c *Client) classify(parent context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return canceled(parent)
	}
	if errors.Is(err, context.DeadlineExceeded) && !domainErrors.IsTransient(err) {
		return domainErrors.NewTransientError(string(c.cfg.Provider), op, http.StatusGatewayTimeout, err)
	}
	return err
}

func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", domainErrors.ErrCanceled, ctx.Err())
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domainErrors.ErrCanceled):
		return "canceled"
	case errors.Is(err, domainErrors.ErrValidationFailed):
		return "validation"
	case errors.Is(err, domainErrors.ErrProviderUnavailable):
		return "circuit_open"
	case errors.Is(err, domainErrors.ErrProviderTransient):
		return "transient"
	case errors.Is(err, domainErrors.ErrProviderRequest):
		return "request"
	}
	return "unknown"
}

func breakerResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	}
	return "failure"
}
