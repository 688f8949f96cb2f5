package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/domain/payment"
)

const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"
)

var events = event.Table{
	"order.paid":             event.TypePaymentSucceeded,
	"payment.captured":       event.TypePaymentSucceeded,
	"payment.authorized":     event.TypePaymentProcessing,
	"payment.failed":         event.TypePaymentFailed,
	"subscription.activated": event.TypeSubscriptionUpdated,
	"subscription.charged":   event.TypeSubscriptionUpdated,
	"subscription.pending":   event.TypeSubscriptionUpdated,
	"subscription.halted":    event.TypeSubscriptionUpdated,
	"subscription.cancelled": event.TypeSubscriptionCanceled,
	"subscription.completed": event.TypeSubscriptionCanceled,
	"invoice.paid":           event.TypeInvoicePaid,
}

// Sign returns the X-Razorpay-Signature value for raw.
func Sign(raw []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) VerifyWebhookSignature(raw []byte, headers http.Header, secret string) error {
	sig := headers.Get(SignatureHeader)
	if sig == "" || secret == "" {
		return domainErrors.ErrInvalidSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return domainErrors.ErrInvalidSignature
	}
	want, _ := hex.DecodeString(Sign(raw, secret))
	if !hmac.Equal(got, want) {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

// EventIDFromHeaders returns the delivery's X-Razorpay-Event-Id. Redeliveries
// of one event carry the same id.
func (a *Adapter) EventIDFromHeaders(headers http.Header) string {
	return strings.TrimSpace(headers.Get(EventIDHeader))
}

type envelope struct {
	Entity    string `json:"entity"`
	AccountID string `json:"account_id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
		Subscription *struct {
			Entity subscriptionEntity `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

// ParseWebhookEvent decodes a Razorpay webhook body. The body carries no event
// id, so the id is derived from the content until the processor replaces it
// with the EventIDHeader value.
func (a *Adapter) ParseWebhookEvent(raw []byte) (*event.WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domainErrors.NewValidationError("body", "malformed razorpay event: "+err.Error())
	}
	if env.Event == "" {
		return nil, domainErrors.NewValidationError("event", "razorpay event name is required")
	}

	sum := sha256.Sum256(raw)
	evt := &event.WebhookEvent{
		ID:           "evt_" + hex.EncodeToString(sum[:12]),
		Type:         events.Classify(env.Event),
		Provider:     name,
		ProviderType: env.Event,
		ProviderRaw:  json.RawMessage(raw),
	}
	if env.CreatedAt > 0 {
		evt.OccurredAt = time.Unix(env.CreatedAt, 0).UTC()
	}

	switch evt.Type {
	case event.TypePaymentSucceeded, event.TypePaymentProcessing, event.TypePaymentFailed:
		evt.PaymentIntent = intentFromPayload(env, evt.Type)
	case event.TypeSubscriptionUpdated, event.TypeSubscriptionCanceled:
		if env.Payload.Subscription != nil {
			evt.Subscription = env.Payload.Subscription.Entity.normalize()
		}
	}
	return evt, nil
}

// intentFromPayload builds the order-backed intent. Payment-level events are
// keyed by their order so they merge with the intent returned at creation.
func intentFromPayload(env envelope, typ event.Type) *payment.PaymentIntent {
	var pi *payment.PaymentIntent
	if env.Payload.Order != nil {
		pi = env.Payload.Order.Entity.normalize()
	}
	if env.Payload.Payment != nil {
		p := env.Payload.Payment.Entity
		if pi == nil {
			id := p.OrderID
			if id == "" {
				id = p.ID
			}
			pi = &payment.PaymentIntent{
				ID:         id,
				CustomerID: p.CustomerID,
				Amount:     p.Amount,
				Currency:   payment.NormalizeCurrency(p.Currency),
			}
		}
		if len(p.Notes) > 0 && pi.CustomerID == "" {
			pi.CustomerID = p.Notes[noteCustomerID]
		}
	}
	if pi == nil {
		return nil
	}

	switch typ {
	case event.TypePaymentSucceeded:
		pi.Status = payment.StatusSucceeded
	case event.TypePaymentProcessing:
		pi.Status = payment.StatusProcessing
	case event.TypePaymentFailed:
		pi.Status = payment.StatusFailed
	}
	return pi
}
