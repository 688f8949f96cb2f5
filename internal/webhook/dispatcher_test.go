package webhook

import (
	"context"
	"errors"
	"testing"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []*event.WebhookEvent
	err    error
}

func (r *recordingSink) Handle(_ context.Context, evt *event.WebhookEvent) error {
	r.events = append(r.events, evt)
	return r.err
}

func verified(typ event.Type) *event.WebhookEvent {
	return &event.WebhookEvent{ID: "evt_1", Type: typ, Provider: "mock", SignatureValid: true}
}

func TestDispatcher_RejectsUnverifiedEvents(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(zerolog.Nop(), sink)

	err := d.Dispatch(context.Background(), &event.WebhookEvent{ID: "evt_1", Type: event.TypePaymentSucceeded})
	assert.ErrorIs(t, err, domainErrors.ErrInvalidSignature)
	assert.ErrorIs(t, d.Dispatch(context.Background(), nil), domainErrors.ErrInvalidSignature)
	assert.Empty(t, sink.events)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	var order []string
	first := SinkFunc(func(context.Context, *event.WebhookEvent) error { order = append(order, "first"); return nil })
	second := SinkFunc(func(context.Context, *event.WebhookEvent) error { order = append(order, "second"); return nil })

	require.NoError(t, NewDispatcher(zerolog.Nop(), first, second).Dispatch(context.Background(), verified(event.TypeInvoicePaid)))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcher_DuplicateStopsDelivery(t *testing.T) {
	dedupe := &recordingSink{err: domainErrors.ErrDuplicateEvent}
	downstream := &recordingSink{}

	err := NewDispatcher(zerolog.Nop(), dedupe, downstream).Dispatch(context.Background(), verified(event.TypePaymentSucceeded))
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateEvent)
	assert.Empty(t, downstream.events)
}

func TestDispatcher_CollectsSinkErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := &recordingSink{err: boom}
	after := &recordingSink{}

	err := NewDispatcher(zerolog.Nop(), failing, after).Dispatch(context.Background(), verified(event.TypePaymentSucceeded))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, after.events, 1)
}

func TestRouter(t *testing.T) {
	var got []string
	r := NewRouter().
		On(event.TypePaymentSucceeded, func(_ context.Context, e *event.WebhookEvent) error {
			got = append(got, "paid:"+e.ID)
			return nil
		}).
		Otherwise(func(_ context.Context, e *event.WebhookEvent) error {
			got = append(got, "other:"+string(e.Type))
			return nil
		})

	require.NoError(t, r.Handle(context.Background(), verified(event.TypePaymentSucceeded)))
	require.NoError(t, r.Handle(context.Background(), verified(event.TypeUnknown)))
	assert.Equal(t, []string{"paid:evt_1", "other:unknown"}, got)
}

func TestRouter_NoFallback(t *testing.T) {
	assert.NoError(t, NewRouter().Handle(context.Background(), verified(event.TypeUnknown)))
}
