// Package stripe adapts the Stripe API to the normalized provider interface.
package stripe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/carnil/carnil/internal/domain/customer"
	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
	"github.com/carnil/carnil/internal/providers"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const name = string(providers.Stripe)

// currencies is the subset of Stripe presentment currencies we accept.
var currencies = []string{
	"usd", "eur", "gbp", "inr", "cad", "aud", "jpy", "sgd", "chf", "sek",
	"nok", "dkk", "nzd", "hkd", "mxn", "brl", "pln", "czk", "aed", "zar",
}

// Adapter talks to Stripe through stripe-go with SDK retries disabled.
type Adapter struct {
	api       *client.API
	tolerance time.Duration
}

type Option func(*Adapter)

// WithTolerance sets the maximum accepted age of a webhook signature.
func WithTolerance(d time.Duration) Option {
	return func(a *Adapter) { a.tolerance = d }
}

// New builds an adapter bound to cfg.APIKey. cfg.BaseURL overrides the API host.
func New(cfg providers.Config, opts ...Option) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, domainErrors.NewValidationError("apiKey", "stripe secret key is required")
	}

	backendCfg := &stripeapi.BackendConfig{
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
		HTTPClient:        &http.Client{Timeout: 80 * time.Second},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(cfg.BaseURL)
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg)

	a := &Adapter{
		api: client.New(cfg.APIKey, &stripeapi.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
		tolerance: DefaultTolerance,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// NewFactory adapts New to the registry.
func NewFactory(opts ...Option) providers.Factory {
	return func(cfg providers.Config) (providers.Adapter, error) {
		return New(cfg, opts...)
	}
}

func (a *Adapter) Name() providers.Name { return providers.Stripe }

func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{IdempotencyKeys: true, Currencies: currencies}
}

func (a *Adapter) CreateCustomer(ctx context.Context, req customer.CreateRequest) (*customer.Customer, error) {
	params := &stripeapi.CustomerParams{}
	params.Context = ctx
	if req.Email != "" {
		params.Email = stripeapi.String(req.Email)
	}
	if req.Name != "" {
		params.Name = stripeapi.String(req.Name)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	c, err := a.api.Customers.New(params)
	if err != nil {
		return nil, convertError("create_customer", err)
	}
	return toCustomer(c), nil
}

func (a *Adapter) UpdateCustomer(ctx context.Context, req customer.UpdateRequest) (*customer.Customer, error) {
	params := &stripeapi.CustomerParams{}
	params.Context = ctx
	params.Email = req.Email
	params.Name = req.Name
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	c, err := a.api.Customers.Update(req.ID, params)
	if err != nil {
		return nil, convertError("update_customer", err)
	}
	return toCustomer(c), nil
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, req payment.CreateRequest) (*payment.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(req.Amount),
		Currency: stripeapi.String(payment.NormalizeCurrency(req.Currency)),
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripeapi.String(req.CustomerID)
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	if req.PaymentMethod != "" {
		params.PaymentMethod = stripeapi.String(req.PaymentMethod)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := a.api.PaymentIntents.New(params)
	if err != nil {
		return nil, convertError("create_payment_intent", err)
	}
	return toPaymentIntent(pi), nil
}

func (a *Adapter) GetPaymentIntent(ctx context.Context, id string) (*payment.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx

	pi, err := a.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, convertError("get_payment_intent", err)
	}
	return toPaymentIntent(pi), nil
}

func (a *Adapter) ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (*payment.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentConfirmParams{}
	params.Context = ctx
	if req.PaymentMethod != "" {
		params.PaymentMethod = stripeapi.String(req.PaymentMethod)
	}
	if req.ReturnURL != "" {
		params.ReturnURL = stripeapi.String(req.ReturnURL)
	}

	pi, err := a.api.PaymentIntents.Confirm(req.PaymentIntentID, params)
	if err != nil {
		return nil, convertError("confirm_payment", err)
	}
	return toPaymentIntent(pi), nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.Subscription, error) {
	params := &stripeapi.SubscriptionParams{
		Customer: stripeapi.String(req.CustomerID),
		Items: []*stripeapi.SubscriptionItemsParams{
			{Price: stripeapi.String(req.PriceID)},
		},
	}
	params.Context = ctx
	if req.PaymentMethod != "" {
		params.DefaultPaymentMethod = stripeapi.String(req.PaymentMethod)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := a.api.Subscriptions.New(params)
	if err != nil {
		return nil, convertError("create_subscription", err)
	}
	return toSubscription(s), nil
}

func (a *Adapter) GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	params := &stripeapi.SubscriptionParams{}
	params.Context = ctx

	s, err := a.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, convertError("get_subscription", err)
	}
	return toSubscription(s), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, req subscription.CancelRequest) (*subscription.Subscription, error) {
	params := &stripeapi.SubscriptionCancelParams{}
	params.Context = ctx

	s, err := a.api.Subscriptions.Cancel(req.SubscriptionID, params)
	if err != nil {
		return nil, convertError("cancel_subscription", err)
	}
	return toSubscription(s), nil
}

// convertError maps stripe-go failures into the domain taxonomy. Anything
// that is not an API error response is a transport failure.
func convertError(op string, err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		return domainErrors.ClassifyStatus(name, op, se.HTTPStatusCode, string(se.Code), se.Msg)
	}
	return domainErrors.NewTransientError(name, op, 0, err)
}

func toCustomer(c *stripeapi.Customer) *customer.Customer {
	return &customer.Customer{
		ID:       c.ID,
		Email:    c.Email,
		Name:     c.Name,
		Metadata: c.Metadata,
	}
}

func toPaymentIntent(pi *stripeapi.PaymentIntent) *payment.PaymentIntent {
	out := &payment.PaymentIntent{
		ID:          pi.ID,
		Amount:      pi.Amount,
		Currency:    string(pi.Currency),
		Status:      paymentStatus(pi.Status),
		Description: pi.Description,
		Metadata:    pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	return out
}

func paymentStatus(s stripeapi.PaymentIntentStatus) payment.Status {
	switch s {
	case stripeapi.PaymentIntentStatusRequiresPaymentMethod:
		return payment.StatusRequiresPaymentMethod
	case stripeapi.PaymentIntentStatusRequiresConfirmation, stripeapi.PaymentIntentStatusRequiresAction:
		return payment.StatusRequiresConfirmation
	case stripeapi.PaymentIntentStatusProcessing, stripeapi.PaymentIntentStatusRequiresCapture:
		return payment.StatusProcessing
	case stripeapi.PaymentIntentStatusSucceeded:
		return payment.StatusSucceeded
	case stripeapi.PaymentIntentStatusCanceled:
		return payment.StatusCanceled
	}
	return payment.StatusRequiresPaymentMethod
}

func toSubscription(s *stripeapi.Subscription) *subscription.Subscription {
	out := &subscription.Subscription{
		ID:       s.ID,
		Status:   subscriptionStatus(s.Status),
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.DefaultPaymentMethod != nil {
		out.PaymentMethod = s.DefaultPaymentMethod.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		out.PriceID = s.Items.Data[0].Price.ID
	}
	return out
}

func subscriptionStatus(s stripeapi.SubscriptionStatus) subscription.Status {
	switch s {
	case stripeapi.SubscriptionStatusActive, stripeapi.SubscriptionStatusTrialing:
		return subscription.StatusActive
	case stripeapi.SubscriptionStatusPastDue, stripeapi.SubscriptionStatusUnpaid, stripeapi.SubscriptionStatusPaused:
		return subscription.StatusPastDue
	case stripeapi.SubscriptionStatusCanceled, stripeapi.SubscriptionStatusIncompleteExpired:
		return subscription.StatusCanceled
	}
	return subscription.StatusIncomplete
}
