package controller

import (
	"encoding/json"

	"github.com/carnil/carnil/internal/domain/event"
)

// Action names accepted by POST /api/carnil.
const (
	ActionCreateCustomer      = "createCustomer"
	ActionUpdateCustomer      = "updateCustomer"
	ActionCreatePaymentIntent = "createPaymentIntent"
	ActionGetPaymentIntent    = "getPaymentIntent"
	ActionConfirmPayment      = "confirmPayment"
	ActionCreateSubscription  = "createSubscription"
	ActionCancelSubscription  = "cancelSubscription"
	ActionGetCustomerState    = "getCustomerState"
)

// ActionRequest is the body of POST /api/carnil. Data is decoded according
// to Action.
type ActionRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// GetPaymentIntentRequest is the data of getPaymentIntent.
type GetPaymentIntentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

// GetCustomerStateRequest is the data of getCustomerState. The caller
// identity fills a missing customer id.
type GetCustomerStateRequest struct {
	CustomerID string `json:"customerId"`
}

// WebhookResponse acknowledges a verified delivery.
type WebhookResponse struct {
	Received  bool       `json:"received"`
	Type      event.Type `json:"type"`
	Duplicate bool       `json:"duplicate,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	Field        string `json:"field,omitempty"`
	ProviderCode string `json:"providerCode,omitempty"`
}
