package subscription

import (
	"context"
	"time"

	"github.com/carnil/carnil/internal/domain/errors"
	"github.com/qmuntal/stateless"
)

// Status represents the normalized subscription status
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
)

// Subscription is the provider-agnostic subscription.
type Subscription struct {
	ID            string            `json:"id"`
	CustomerID    string            `json:"customerId"`
	PriceID       string            `json:"priceId"`
	Status        Status            `json:"status"`
	PaymentMethod string            `json:"paymentMethod,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CreateRequest is the normalized input of CreateSubscription.
type CreateRequest struct {
	CustomerID     string            `json:"customerId" validate:"required"`
	PriceID        string            `json:"priceId" validate:"required"`
	PaymentMethod  string            `json:"paymentMethod,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// CancelRequest is the normalized input of CancelSubscription.
type CancelRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
}

// Valid reports whether s is one of the normalized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal checks if the status is a terminal state
func (s Status) IsTerminal() bool {
	return s == StatusCanceled
}

func newMachine(from Status) *stateless.StateMachine {
	sm := stateless.NewStateMachine(from)

	sm.Configure(StatusIncomplete).
		Permit(StatusActive, StatusActive).
		Permit(StatusPastDue, StatusPastDue).
		Permit(StatusCanceled, StatusCanceled).
		PermitReentry(StatusIncomplete)

	sm.Configure(StatusActive).
		Permit(StatusPastDue, StatusPastDue).
		Permit(StatusCanceled, StatusCanceled).
		PermitReentry(StatusActive)

	sm.Configure(StatusPastDue).
		Permit(StatusActive, StatusActive).
		Permit(StatusCanceled, StatusCanceled).
		PermitReentry(StatusPastDue)

	sm.Configure(StatusCanceled)

	return sm
}

// CanTransition reports whether a subscription may move between statuses.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	ok, err := newMachine(from).CanFireCtx(context.Background(), to)
	return err == nil && ok
}

// TransitionTo moves the subscription to a new status.
func (s *Subscription) TransitionTo(to Status) error {
	if err := newMachine(s.Status).Fire(to); err != nil {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition subscription from "+string(s.Status)+" to "+string(to),
			errors.ErrInvalidStateTransition,
		)
	}
	s.Status = to
	return nil
}

// Merge combines two observations of the same subscription. Cancellation is
// absorbing and incomplete never overrides a later status. Between active and
// past_due the later observation wins; an incoming observation older than the
// current one is ignored, and a zero time counts as older than any other.
func Merge(current, incoming Subscription, currentAt, incomingAt time.Time) Subscription {
	switch {
	case current.Status.IsTerminal() && !incoming.Status.IsTerminal():
		return fill(current, incoming)
	case incoming.Status.IsTerminal():
		return fill(incoming, current)
	case current.Status == StatusIncomplete && incoming.Status != StatusIncomplete:
		return fill(incoming, current)
	case incoming.Status == StatusIncomplete && current.Status != StatusIncomplete:
		return fill(current, incoming)
	case incomingAt.Before(currentAt):
		return fill(current, incoming)
	}
	return fill(incoming, current)
}

func fill(winner, other Subscription) Subscription {
	if winner.CustomerID == "" {
		winner.CustomerID = other.CustomerID
	}
	if winner.PriceID == "" {
		winner.PriceID = other.PriceID
	}
	if winner.PaymentMethod == "" {
		winner.PaymentMethod = other.PaymentMethod
	}
	return winner
}
