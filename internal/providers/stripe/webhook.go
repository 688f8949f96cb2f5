package stripe

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/carnil/carnil/internal/domain/customer"
	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	SignatureHeader  = "Stripe-Signature"
	DefaultTolerance = webhook.DefaultTolerance
)

var events = event.Table{
	"customer.created":               event.TypeCustomerCreated,
	"customer.updated":               event.TypeCustomerUpdated,
	"payment_intent.created":         event.TypePaymentCreated,
	"payment_intent.processing":      event.TypePaymentProcessing,
	"payment_intent.requires_action": event.TypePaymentRequiresAction,
	"payment_intent.succeeded":       event.TypePaymentSucceeded,
	"payment_intent.payment_failed":  event.TypePaymentFailed,
	"payment_intent.canceled":        event.TypePaymentCanceled,
	"customer.subscription.created":  event.TypeSubscriptionCreated,
	"customer.subscription.updated":  event.TypeSubscriptionUpdated,
	"customer.subscription.deleted":  event.TypeSubscriptionCanceled,
	"invoice.paid":                   event.TypeInvoicePaid,
	"invoice.payment_failed":         event.TypeInvoicePaymentFailed,
}

// VerifyWebhookSignature checks the Stripe-Signature header against raw. The
// event API version is not checked.
func (a *Adapter) VerifyWebhookSignature(raw []byte, headers http.Header, secret string) error {
	sig := headers.Get(SignatureHeader)
	if sig == "" || secret == "" {
		return domainErrors.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(raw, sig, secret, a.tolerance); err != nil {
		return domainErrors.NewDomainError("invalid_signature", err.Error(), domainErrors.ErrInvalidSignature)
	}
	return nil
}

func (a *Adapter) ParseWebhookEvent(raw []byte) (*event.WebhookEvent, error) {
	var e stripeapi.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, domainErrors.NewValidationError("body", "malformed stripe event: "+err.Error())
	}
	if e.ID == "" || e.Type == "" {
		return nil, domainErrors.NewValidationError("body", "stripe event requires id and type")
	}

	evt := &event.WebhookEvent{
		ID:           e.ID,
		Type:         events.Classify(string(e.Type)),
		Provider:     name,
		ProviderType: string(e.Type),
		ProviderRaw:  json.RawMessage(raw),
	}
	if e.Created > 0 {
		evt.OccurredAt = time.Unix(e.Created, 0).UTC()
	}
	if e.Data == nil || len(e.Data.Raw) == 0 {
		return evt, nil
	}

	var err error
	switch evt.Type {
	case event.TypeCustomerCreated, event.TypeCustomerUpdated:
		evt.Customer, err = decodeCustomer(e.Data.Raw)
	case event.TypePaymentCreated, event.TypePaymentProcessing, event.TypePaymentRequiresAction,
		event.TypePaymentSucceeded, event.TypePaymentFailed, event.TypePaymentCanceled:
		evt.PaymentIntent, err = decodePaymentIntent(e.Data.Raw, evt.Type)
	case event.TypeSubscriptionCreated, event.TypeSubscriptionUpdated, event.TypeSubscriptionCanceled:
		evt.Subscription, err = decodeSubscription(e.Data.Raw)
	}
	if err != nil {
		return nil, domainErrors.NewValidationError("data.object", err.Error())
	}
	return evt, nil
}

func decodeCustomer(raw json.RawMessage) (*customer.Customer, error) {
	var c stripeapi.Customer
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return toCustomer(&c), nil
}

func decodePaymentIntent(raw json.RawMessage, typ event.Type) (*payment.PaymentIntent, error) {
	var pi stripeapi.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, err
	}
	out := toPaymentIntent(&pi)
	// Stripe moves a failed intent back to requires_payment_method; the event
	// itself is the failure signal.
	if typ == event.TypePaymentFailed {
		out.Status = payment.StatusFailed
	}
	return out, nil
}

func decodeSubscription(raw json.RawMessage) (*subscription.Subscription, error) {
	var s stripeapi.Subscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return toSubscription(&s), nil
}
