package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/carnil/carnil/internal/domain/customer"
	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
	"github.com/google/uuid"
)

// MockSignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const MockSignatureHeader = "X-Mock-Signature"

// Payment methods with special behavior on the mock provider.
const (
	MockCardDeclined   = "pm_card_declined"
	MockCardProcessing = "pm_card_processing"
)

// mockEvents is the identity table: the mock emits normalized names.
var mockEvents = event.Table{
	"customer.created":       event.TypeCustomerCreated,
	"customer.updated":       event.TypeCustomerUpdated,
	"payment.created":        event.TypePaymentCreated,
	"payment.processing":     event.TypePaymentProcessing,
	"payment.succeeded":      event.TypePaymentSucceeded,
	"payment.failed":         event.TypePaymentFailed,
	"payment.canceled":       event.TypePaymentCanceled,
	"subscription.created":   event.TypeSubscriptionCreated,
	"subscription.updated":   event.TypeSubscriptionUpdated,
	"subscription.canceled":  event.TypeSubscriptionCanceled,
	"invoice.paid":           event.TypeInvoicePaid,
	"invoice.payment_failed": event.TypeInvoicePaymentFailed,
}

// MockProvider is an in-memory provider for local development and tests.
// Failures are injected as transient provider errors.
type MockProvider struct {
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0
	currencies  []string

	mu            sync.Mutex
	customers     map[string]customer.Customer
	intents       map[string]payment.PaymentIntent
	subscriptions map[string]subscription.Subscription
	idempotent    map[string]any
	calls         map[string]int
	failNext      map[string][]error
}

type MockProviderOption func(*MockProvider)

func WithFailureRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.failureRate = rate }
}

func WithLatency(d time.Duration) MockProviderOption {
	return func(p *MockProvider) { p.latency = d }
}

func WithTimeoutRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.timeoutRate = rate }
}

// WithCurrencies restricts the currencies the mock accepts.
func WithCurrencies(codes ...string) MockProviderOption {
	return func(p *MockProvider) { p.currencies = codes }
}

func NewMockProvider(opts ...MockProviderOption) *MockProvider {
	p := &MockProvider{
		customers:     make(map[string]customer.Customer),
		intents:       make(map[string]payment.PaymentIntent),
		subscriptions: make(map[string]subscription.Subscription),
		idempotent:    make(map[string]any),
		calls:         make(map[string]int),
		failNext:      make(map[string][]error),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// NewMockFactory adapts NewMockProvider to the registry.
func NewMockFactory(opts ...MockProviderOption) Factory {
	return func(Config) (Adapter, error) {
		return NewMockProvider(opts...), nil
	}
}

func (p *MockProvider) Name() Name { return Mock }

func (p *MockProvider) Capabilities() Capabilities {
	return Capabilities{IdempotencyKeys: true, Currencies: p.currencies}
}

// FailNext queues errors returned by the next calls to op, one per call.
func (p *MockProvider) FailNext(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = append(p.failNext[op], errs...)
}

// Calls returns how many times op reached the provider.
func (p *MockProvider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// simulate applies latency and failure injection for one call.
func (p *MockProvider) simulate(ctx context.Context, op string) error {
	p.mu.Lock()
	p.calls[op]++
	var queued error
	if q := p.failNext[op]; len(q) > 0 {
		queued, p.failNext[op] = q[0], q[1:]
	}
	p.mu.Unlock()

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if queued != nil {
		return queued
	}
	if rand.Float64() < p.timeoutRate {
		return domainErrors.NewTransientError(string(Mock), op, http.StatusGatewayTimeout, context.DeadlineExceeded)
	}
	if rand.Float64() < p.failureRate {
		return domainErrors.NewTransientError(string(Mock), op, http.StatusServiceUnavailable,
			fmt.Errorf("simulated processing failure"))
	}
	return nil
}

// replay returns the stored result for an idempotency key, if any.
func (p *MockProvider) replay(op, key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	v, ok := p.idempotent[op+":"+key]
	return v, ok
}

func (p *MockProvider) remember(op, key string, v any) {
	if key != "" {
		p.idempotent[op+":"+key] = v
	}
}

func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

func (p *MockProvider) CreateCustomer(ctx context.Context, req customer.CreateRequest) (*customer.Customer, error) {
	const op = "create_customer"
	if err := p.simulate(ctx, op); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.replay(op, req.IdempotencyKey); ok {
		c := v.(customer.Customer)
		return &c, nil
	}
	c := customer.Customer{ID: newID("cus"), Email: req.Email, Name: req.Name, Metadata: req.Metadata}
	p.customers[c.ID] = c
	p.remember(op, req.IdempotencyKey, c)
	return &c, nil
}

func (p *MockProvider) UpdateCustomer(ctx context.Context, req customer.UpdateRequest) (*customer.Customer, error) {
	const op = "update_customer"
	if err := p.simulate(ctx, op); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.customers[req.ID]
	if !ok {
		return nil, mockNotFound(op, "customer", req.ID)
	}
	if req.Email != nil {
		c.Email = *req.Email
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Metadata != nil {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string, len(req.Metadata))
		}
		for k, v := range req.Metadata {
			c.Metadata[k] = v
		}
	}
	p.customers[c.ID] = c
	return &c, nil
}

func (p *MockProvider) CreatePaymentIntent(ctx context.Context, req payment.CreateRequest) (*payment.PaymentIntent, error) {
	const op = "create_payment_intent"
	if err := p.simulate(ctx, op); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.replay(op, req.IdempotencyKey); ok {
		pi := v.(payment.PaymentIntent)
		return &pi, nil
	}
	if req.CustomerID != "" {
		if _, ok := p.customers[req.CustomerID]; !ok {
			return nil, mockNotFound(op, "customer", req.CustomerID)
		}
	}
	status := payment.StatusRequiresPaymentMethod
	if req.PaymentMethod != "" {
		status = payment.StatusRequiresConfirmation
	}
	pi := payment.PaymentIntent{
		ID:          newID("pi"),
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		Currency:    payment.NormalizeCurrency(req.Currency),
		Status:      status,
		Description: req.Description,
		Metadata:    req.Metadata,
	}
	p.intents[pi.ID] = pi
	p.remember(op, req.IdempotencyKey, pi)
	return &pi, nil
}

func (p *MockProvider) GetPaymentIntent(ctx context.Context, id string) (*payment.PaymentIntent, error) {
	const op = "get_payment_intent"
	if err := p.simulate(ctx, op); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pi, ok := p.intents[id]
	if !ok {
		return nil, mockNotFound(op, "payment_intent", id)
	}
	return &pi, nil
}

func (p *MockProvider) ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (*payment.PaymentIntent, error) {
	const op = "confirm_payment"
	if err := p.simulate(ctx, op); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pi, ok := p.intents[req.PaymentIntentID]
	if !ok {
		return nil, mockNotFound(op, "payment_intent", req.PaymentIntentID)
	}

	var to payment.Status
	switch req.PaymentMethod {
	case MockCardDeclined:
		to = payment.StatusFailed
	case MockCardProcessing:
		to = payment.StatusProcessing
	default:
		to = payment.StatusSucceeded
	}
	if err := pi.TransitionTo(to); err != nil {
		return nil, domainErrors.NewRequestError(string(Mock), op, http.StatusBadRequest, "payment_intent_unexpected_state", err.Error())
	}
	p.intents[pi.ID] = pi
	return &pi, nil
}

func (p *MockProvider) CreateSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.Subscription, error) {
	const op = "create_subscription"
	if err := p.simulate(ctx, op); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.replay(op, req.IdempotencyKey); ok {
		s := v.(subscription.Subscription)
		return &s, nil
	}
	if _, ok := p.customers[req.CustomerID]; !ok {
		return nil, mockNotFound(op, "customer", req.CustomerID)
	}
	status := subscription.StatusIncomplete
	if req.PaymentMethod != "" {
		status = subscription.StatusActive
	}
	s := subscription.Subscription{
		ID:            newID("sub"),
		CustomerID:    req.CustomerID,
		PriceID:       req.PriceID,
		Status:        status,
		PaymentMethod: req.PaymentMethod,
		Metadata:      req.Metadata,
	}
	p.subscriptions[s.ID] = s
	p.remember(op, req.IdempotencyKey, s)
	return &s, nil
}

func (p *MockProvider) GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	const op = "get_subscription"
	if err := p.simulate(ctx, op); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.subscriptions[id]
	if !ok {
		return nil, mockNotFound(op, "subscription", id)
	}
	return &s, nil
}

func (p *MockProvider) CancelSubscription(ctx context.Context, req subscription.CancelRequest) (*subscription.Subscription, error) {
	const op = "cancel_subscription"
	if err := p.simulate(ctx, op); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.subscriptions[req.SubscriptionID]
	if !ok {
		return nil, mockNotFound(op, "subscription", req.SubscriptionID)
	}
	if err := s.TransitionTo(subscription.StatusCanceled); err != nil {
		return nil, domainErrors.NewRequestError(string(Mock), op, http.StatusBadRequest, "subscription_unexpected_state", err.Error())
	}
	p.subscriptions[s.ID] = s
	return &s, nil
}

// mockEnvelope is the webhook body format emitted by the mock provider.
type mockEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Customer      *customer.Customer         `json:"customer,omitempty"`
		PaymentIntent *payment.PaymentIntent     `json:"paymentIntent,omitempty"`
		Subscription  *subscription.Subscription `json:"subscription,omitempty"`
	} `json:"data"`
}

// SignMockPayload returns the X-Mock-Signature value for raw.
func SignMockPayload(raw []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *MockProvider) VerifyWebhookSignature(raw []byte, headers http.Header, secret string) error {
	sig := headers.Get(MockSignatureHeader)
	if sig == "" || secret == "" {
		return domainErrors.ErrInvalidSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return domainErrors.ErrInvalidSignature
	}
	want, _ := hex.DecodeString(SignMockPayload(raw, secret))
	if !hmac.Equal(got, want) {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

func (p *MockProvider) ParseWebhookEvent(raw []byte) (*event.WebhookEvent, error) {
	var env mockEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domainErrors.NewValidationError("body", "malformed mock event: "+err.Error())
	}
	if env.ID == "" || env.Type == "" {
		return nil, domainErrors.NewValidationError("body", "mock event requires id and type")
	}

	evt := &event.WebhookEvent{
		ID:            env.ID,
		Type:          mockEvents.Classify(env.Type),
		Provider:      string(Mock),
		ProviderType:  env.Type,
		ProviderRaw:   json.RawMessage(raw),
		Customer:      env.Data.Customer,
		PaymentIntent: env.Data.PaymentIntent,
		Subscription:  env.Data.Subscription,
	}
	if env.Created > 0 {
		evt.OccurredAt = time.Unix(env.Created, 0).UTC()
	}
	return evt, nil
}

func mockNotFound(op, resource, id string) error {
	return &domainErrors.ProviderError{
		Provider:   string(Mock),
		Op:         op,
		StatusCode: http.StatusNotFound,
		Code:       "resource_missing",
		Message:    fmt.Sprintf("no such %s: %s", resource, id),
		Err:        domainErrors.ErrNotFound,
	}
}
