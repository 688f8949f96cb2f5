package payment

import (
	"fmt"
	"strings"

	"github.com/carnil/carnil/internal/domain/errors"
)

// Status represents the normalized payment intent status
type Status string

const (
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresConfirmation  Status = "requires_confirmation"
	StatusProcessing            Status = "processing"
	StatusSucceeded             Status = "succeeded"
	StatusCanceled              Status = "canceled"
	StatusFailed                Status = "failed"
)

// rank orders statuses along the lifecycle. Terminal statuses rank above
// every non-terminal one; among terminals, succeeded wins.
var rank = map[Status]int{
	StatusRequiresPaymentMethod: 0,
	StatusRequiresConfirmation:  1,
	StatusProcessing:            2,
	StatusFailed:                3,
	StatusCanceled:              4,
	StatusSucceeded:             5,
}

// Valid reports whether s is one of the normalized statuses.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// IsTerminal checks if the status is a terminal state
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusCanceled || s == StatusFailed
}

// Rank returns the lifecycle position of s, or -1 for unknown statuses.
func (s Status) Rank() int {
	r, ok := rank[s]
	if !ok {
		return -1
	}
	return r
}

// PaymentIntent is the provider-agnostic payment intent.
type PaymentIntent struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customerId,omitempty"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      Status            `json:"status"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IsTerminal checks if the payment intent is in a terminal state
func (p *PaymentIntent) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// Merge returns whichever of current and incoming is further along the
// lifecycle. It is commutative for differing statuses, so webhook deliveries
// can be applied in any order. On equal rank incoming wins.
func Merge(current, incoming PaymentIntent) PaymentIntent {
	if incoming.Status.Rank() >= current.Status.Rank() {
		if incoming.CustomerID == "" {
			incoming.CustomerID = current.CustomerID
		}
		return incoming
	}
	if current.CustomerID == "" {
		current.CustomerID = incoming.CustomerID
	}
	return current
}

// CreateRequest is the normalized input of CreatePaymentIntent.
type CreateRequest struct {
	CustomerID     string            `json:"customerId,omitempty"`
	Amount         int64             `json:"amount" validate:"gte=0"`
	Currency       string            `json:"currency" validate:"required,len=3"`
	Description    string            `json:"description,omitempty" validate:"max=1000"`
	PaymentMethod  string            `json:"paymentMethod,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// ConfirmRequest is the normalized input of ConfirmPayment.
type ConfirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
	PaymentMethod   string `json:"paymentMethod,omitempty"`
	ReturnURL       string `json:"returnUrl,omitempty" validate:"omitempty,url"`
}

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	MinorUnits int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.MinorUnits / 100
	frac := a.MinorUnits % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, strings.ToUpper(a.Currency))
}

// Validate checks that the amount is a non-negative minor-unit integer in one
// of the supported currencies. An empty supported set accepts any ISO code.
func (a Amount) Validate(supported []string) error {
	if a.MinorUnits < 0 {
		return errors.NewValidationError("amount", "must be a non-negative integer in minor units")
	}
	if a.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if len(supported) == 0 {
		return nil
	}
	cur := NormalizeCurrency(a.Currency)
	for _, s := range supported {
		if NormalizeCurrency(s) == cur {
			return nil
		}
	}
	return errors.NewValidationError("currency", fmt.Sprintf("%s is not supported by the active provider", cur))
}

// NormalizeCurrency lower-cases an ISO-4217 code.
func NormalizeCurrency(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
