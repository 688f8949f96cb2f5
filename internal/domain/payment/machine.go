package payment

import (
	"context"

	"github.com/carnil/carnil/internal/domain/errors"
	"github.com/qmuntal/stateless"
)

// newMachine builds the forward-only lifecycle machine starting at from.
// Triggers are the destination statuses themselves.
func newMachine(from Status) *stateless.StateMachine {
	sm := stateless.NewStateMachine(from)

	for _, s := range []Status{StatusRequiresPaymentMethod, StatusRequiresConfirmation, StatusProcessing} {
		cfg := sm.Configure(s)
		for _, to := range []Status{StatusRequiresConfirmation, StatusProcessing, StatusSucceeded, StatusCanceled, StatusFailed} {
			if to.Rank() > s.Rank() {
				cfg.Permit(to, to)
			}
		}
		cfg.PermitReentry(s)
	}

	sm.Configure(StatusSucceeded)
	sm.Configure(StatusCanceled)
	sm.Configure(StatusFailed)

	return sm
}

// CanTransition reports whether a payment intent may move from one status to
// another. Staying in the same non-terminal status is allowed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	ok, err := newMachine(from).CanFireCtx(context.Background(), to)
	return err == nil && ok
}

// TransitionTo moves the intent to a new status, refusing backward moves and
// any move out of a terminal state.
func (p *PaymentIntent) TransitionTo(to Status) error {
	if err := newMachine(p.Status).Fire(to); err != nil {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(p.Status)+" to "+string(to),
			errors.ErrInvalidStateTransition,
		)
	}
	p.Status = to
	return nil
}
