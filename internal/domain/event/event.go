package event

import (
	"encoding/json"
	"time"

	"github.com/carnil/carnil/internal/domain/customer"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
)

// Type is the normalized webhook event type.
type Type string

const (
	TypeCustomerCreated       Type = "customer.created"
	TypeCustomerUpdated       Type = "customer.updated"
	TypePaymentCreated        Type = "payment.created"
	TypePaymentProcessing     Type = "payment.processing"
	TypePaymentRequiresAction Type = "payment.requires_action"
	TypePaymentSucceeded      Type = "payment.succeeded"
	TypePaymentFailed         Type = "payment.failed"
	TypePaymentCanceled       Type = "payment.canceled"
	TypeSubscriptionCreated   Type = "subscription.created"
	TypeSubscriptionUpdated   Type = "subscription.updated"
	TypeSubscriptionCanceled  Type = "subscription.canceled"
	TypeInvoicePaid           Type = "invoice.paid"
	TypeInvoicePaymentFailed  Type = "invoice.payment_failed"
	TypeUnknown               Type = "unknown"
)

// Table maps provider event names to normalized types. Names absent from the
// table classify as TypeUnknown.
type Table map[string]Type

// Classify returns the normalized type for a provider event name.
func (t Table) Classify(providerType string) Type {
	if typ, ok := t[providerType]; ok {
		return typ
	}
	return TypeUnknown
}

// WebhookEvent is one verified, normalized webhook delivery. It is never
// mutated after the processor returns it.
type WebhookEvent struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	Provider       string          `json:"provider"`
	ProviderType   string          `json:"providerType"`
	ProviderRaw    json.RawMessage `json:"providerRaw"`
	ReceivedAt     time.Time       `json:"receivedAt"`
	OccurredAt     time.Time       `json:"occurredAt,omitempty"`
	SignatureValid bool            `json:"signatureValid"`

	Customer      *customer.Customer         `json:"customer,omitempty"`
	PaymentIntent *payment.PaymentIntent     `json:"paymentIntent,omitempty"`
	Subscription  *subscription.Subscription `json:"subscription,omitempty"`
}

// CustomerID returns the customer the event refers to, if any.
func (e *WebhookEvent) CustomerID() string {
	switch {
	case e.Customer != nil:
		return e.Customer.ID
	case e.PaymentIntent != nil:
		return e.PaymentIntent.CustomerID
	case e.Subscription != nil:
		return e.Subscription.CustomerID
	}
	return ""
}
