package testutil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/carnil/carnil/internal/domain/customer"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
	"github.com/carnil/carnil/internal/providers"
	"github.com/google/uuid"
)

const MockWebhookSecret = "whsec_test"

// MockConfig is a client config bound to the mock adapter.
var MockConfig = providers.Config{Provider: providers.Mock, APIKey: "mock_key", WebhookSecret: MockWebhookSecret}

// MockEventData is the data object of a mock webhook envelope.
type MockEventData struct {
	Customer      *customer.Customer         `json:"customer,omitempty"`
	PaymentIntent *payment.PaymentIntent     `json:"paymentIntent,omitempty"`
	Subscription  *subscription.Subscription `json:"subscription,omitempty"`
}

// MockEventPayload builds the raw body the mock adapter parses.
func MockEventPayload(typ string, data MockEventData) []byte {
	raw, err := json.Marshal(map[string]any{
		"id":      "evt_" + uuid.NewString()[:8],
		"type":    typ,
		"created": time.Now().Unix(),
		"data":    data,
	})
	if err != nil {
		panic(err)
	}
	return raw
}

// SignedMockHeaders returns headers carrying a valid mock signature for raw.
func SignedMockHeaders(raw []byte, secret string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(providers.MockSignatureHeader, providers.SignMockPayload(raw, secret))
	return h
}

// VerifiedEvent returns a verified mock-provider event of typ.
func VerifiedEvent(typ event.Type) *event.WebhookEvent {
	return &event.WebhookEvent{
		ID:             "evt_" + uuid.NewString()[:8],
		Type:           typ,
		Provider:       string(providers.Mock),
		ReceivedAt:     time.Now().UTC(),
		SignatureValid: true,
	}
}

func NewTestPaymentIntent(status payment.Status) *payment.PaymentIntent {
	return &payment.PaymentIntent{
		ID:       "pi_" + uuid.NewString()[:8],
		Amount:   2000,
		Currency: "usd",
		Status:   status,
	}
}
