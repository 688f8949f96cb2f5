package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/carnil/carnil/internal/domain/customer"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
)

// Name identifies a payment provider backend.
type Name string

const (
	Stripe   Name = "stripe"
	Razorpay Name = "razorpay"
	Mock     Name = "mock"
)

// Config binds a client to one provider. It is immutable once bound.
type Config struct {
	Provider      Name   `mapstructure:"provider" json:"provider" validate:"required"`
	APIKey        string `mapstructure:"api_key" json:"-" validate:"required"`
	WebhookSecret string `mapstructure:"webhook_secret" json:"-"`
	// BaseURL overrides the provider API endpoint (sandboxes, tests).
	BaseURL string `mapstructure:"base_url" json:"baseUrl,omitempty" validate:"omitempty,url"`
}

// String redacts the secrets.
func (c Config) String() string {
	return fmt.Sprintf("providers.Config{Provider: %s, APIKey: %s, WebhookSecret: %s, BaseURL: %q}",
		c.Provider, redact(c.APIKey), redact(c.WebhookSecret), c.BaseURL)
}

func redact(s string) string {
	if s == "" {
		return `""`
	}
	return "[redacted]"
}

// Capabilities describes provider behavior the client policy depends on.
type Capabilities struct {
	// IdempotencyKeys is true when create calls can be safely retried with a
	// caller-supplied key.
	IdempotencyKeys bool
	// Currencies is the lower-case ISO-4217 set accepted; empty means any.
	Currencies []string
}

// Adapter translates the normalized API to one provider's native API. Every
// error it returns is already converted to the domain error taxonomy.
type Adapter interface {
	// Name returns the provider name.
	Name() Name
	// Capabilities reports idempotency and currency support.
	Capabilities() Capabilities

	CreateCustomer(ctx context.Context, req customer.CreateRequest) (*customer.Customer, error)
	UpdateCustomer(ctx context.Context, req customer.UpdateRequest) (*customer.Customer, error)

	CreatePaymentIntent(ctx context.Context, req payment.CreateRequest) (*payment.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*payment.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (*payment.PaymentIntent, error)

	CreateSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error)
	CancelSubscription(ctx context.Context, req subscription.CancelRequest) (*subscription.Subscription, error)

	// VerifyWebhookSignature checks the signature over the raw, unparsed body.
	VerifyWebhookSignature(raw []byte, headers http.Header, secret string) error
	// ParseWebhookEvent decodes a verified body into a normalized event.
	ParseWebhookEvent(raw []byte) (*event.WebhookEvent, error)
}

// EventIDReader is implemented by adapters whose provider sends the event id
// in a delivery header instead of the body.
type EventIDReader interface {
	EventIDFromHeaders(headers http.Header) string
}

// Factory constructs an adapter for a config.
type Factory func(cfg Config) (Adapter, error)
