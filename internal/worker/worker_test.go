package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/infrastructure/observability"
	infraRedis "github.com/carnil/carnil/internal/infrastructure/redis"
	"github.com/carnil/carnil/internal/providers"
	"github.com/carnil/carnil/internal/service"
	"github.com/carnil/carnil/internal/state"
	"github.com/carnil/carnil/internal/testutil"
	"github.com/carnil/carnil/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stream = "carnil:test-events"
	group  = "test-group"
)

type fixture struct {
	rc        *redis.Client
	publisher *infraRedis.EventPublisher
	consumer  *infraRedis.StreamConsumer
	metrics   *observability.Metrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	consumer := infraRedis.NewStreamConsumer(rc, stream, group, "worker-1", 10, 10*time.Millisecond)
	require.NoError(t, consumer.CreateGroup(context.Background()))

	return &fixture{
		rc:        rc,
		publisher: infraRedis.NewEventPublisher(rc, stream, 100),
		consumer:  consumer,
		metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
	}
}

func (f *fixture) pending(t *testing.T) int64 {
	t.Helper()
	p, err := f.rc.XPending(context.Background(), stream, group).Result()
	require.NoError(t, err)
	return p.Count
}

func newProjector(t *testing.T) *Projector {
	t.Helper()
	registry := providers.NewRegistry()
	registry.MustRegister(providers.Mock, providers.NewMockFactory())
	client, err := service.NewClient(testutil.MockConfig, registry)
	require.NoError(t, err)
	return NewProjector(client, zerolog.Nop())
}

func paymentEvent(typ event.Type, status payment.Status, at time.Time) *event.WebhookEvent {
	evt := testutil.VerifiedEvent(typ)
	evt.OccurredAt = at
	evt.PaymentIntent = &payment.PaymentIntent{ID: "pi_1", CustomerID: "cus_1", Amount: 2000, Currency: "usd", Status: status}
	return evt
}

func TestWorker_ProjectsEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	projector := newProjector(t)
	w := New(f.consumer, projector, f.metrics, zerolog.Nop())

	now := time.Now().UTC()
	// Published out of order.
	require.NoError(t, f.publisher.Handle(ctx, paymentEvent(event.TypePaymentSucceeded, payment.StatusSucceeded, now)))
	require.NoError(t, f.publisher.Handle(ctx, paymentEvent(event.TypePaymentCreated, payment.StatusRequiresPaymentMethod, now.Add(-time.Minute))))

	acked, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, acked)
	assert.Zero(t, f.pending(t))

	snap, ok := projector.Snapshot("cus_1")
	require.True(t, ok)
	assert.Equal(t, payment.StatusSucceeded, snap.PaymentIntents["pi_1"].Status)

	_, ok = projector.Snapshot("cus_other")
	assert.False(t, ok)

	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.WorkerMessagesProcessed.WithLabelValues(stream, "success")))
}

func TestWorker_SkipsEventsWithoutCustomer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sink := &testutil.RecordingSink{}
	projector := newProjector(t)
	w := New(f.consumer, webhook.SinkFunc(webhook.NewDispatcher(zerolog.Nop(), projector, sink).Dispatch), f.metrics, zerolog.Nop())

	require.NoError(t, f.publisher.Handle(ctx, testutil.VerifiedEvent(event.TypeInvoicePaid)))

	acked, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	assert.Len(t, sink.Events(), 1)
}

func TestWorker_DropsUndecodableMessages(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	w := New(f.consumer, &testutil.RecordingSink{}, f.metrics, zerolog.Nop())

	require.NoError(t, f.rc.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]any{"junk": "1"}}).Err())

	acked, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	assert.Zero(t, f.pending(t))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.WorkerMessagesProcessed.WithLabelValues(stream, "invalid")))
}

func TestWorker_FailedMessagesAreReclaimed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sink := &testutil.RecordingSink{Err: assert.AnError}
	w := New(f.consumer, sink, f.metrics, zerolog.Nop(), WithClaim(time.Hour, 0))

	require.NoError(t, f.publisher.Handle(ctx, testutil.VerifiedEvent(event.TypePaymentFailed)))

	acked, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, acked)
	assert.Equal(t, int64(1), f.pending(t))

	sink.Err = nil
	acked, err = w.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	assert.Zero(t, f.pending(t))
	assert.Len(t, sink.Events(), 2)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	w := New(f.consumer, &testutil.RecordingSink{}, f.metrics, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func customerPayment(customerID, intentID string, status payment.Status) *event.WebhookEvent {
	evt := testutil.VerifiedEvent(event.TypePaymentSucceeded)
	evt.ID = "evt_" + intentID
	evt.OccurredAt = time.Now().UTC()
	evt.PaymentIntent = &payment.PaymentIntent{ID: intentID, CustomerID: customerID, Amount: 100, Currency: "usd", Status: status}
	return evt
}

func TestProjector_EvictsLeastRecentlyTouched(t *testing.T) {
	ctx := context.Background()
	registry := providers.NewRegistry()
	registry.MustRegister(providers.Mock, providers.NewMockFactory())
	client, err := service.NewClient(testutil.MockConfig, registry)
	require.NoError(t, err)
	projector := NewProjector(client, zerolog.Nop(), WithCapacity(2))

	require.NoError(t, projector.Handle(ctx, customerPayment("cus_1", "pi_1", payment.StatusSucceeded)))
	require.NoError(t, projector.Handle(ctx, customerPayment("cus_2", "pi_2", payment.StatusSucceeded)))
	require.NoError(t, projector.Handle(ctx, customerPayment("cus_1", "pi_3", payment.StatusProcessing)))
	require.NoError(t, projector.Handle(ctx, customerPayment("cus_3", "pi_4", payment.StatusSucceeded)))

	assert.Equal(t, 2, projector.Len())
	_, ok := projector.Snapshot("cus_2")
	assert.False(t, ok)
	snap, ok := projector.Snapshot("cus_1")
	require.True(t, ok)
	assert.Len(t, snap.PaymentIntents, 2)
}

func TestProjector_PublishesAndRestoresSnapshots(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	registry := providers.NewRegistry()
	registry.MustRegister(providers.Mock, providers.NewMockFactory())
	client, err := service.NewClient(testutil.MockConfig, registry)
	require.NoError(t, err)
	projections := infraRedis.NewProjectionStore(f.rc, time.Hour)
	projector := NewProjector(client, zerolog.Nop(), WithCapacity(1), WithSnapshots(projections))

	require.NoError(t, projector.Handle(ctx, customerPayment("cus_1", "pi_1", payment.StatusSucceeded)))

	var stored state.Snapshot
	found, err := projections.Get(ctx, "cus_1", &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payment.StatusSucceeded, stored.PaymentIntents["pi_1"].Status)

	// cus_2 evicts cus_1; the next cus_1 event starts from the stored snapshot.
	require.NoError(t, projector.Handle(ctx, customerPayment("cus_2", "pi_2", payment.StatusSucceeded)))
	_, ok := projector.Snapshot("cus_1")
	require.False(t, ok)

	require.NoError(t, projector.Handle(ctx, customerPayment("cus_1", "pi_3", payment.StatusProcessing)))
	snap, ok := projector.Snapshot("cus_1")
	require.True(t, ok)
	assert.Equal(t, payment.StatusSucceeded, snap.PaymentIntents["pi_1"].Status)
	assert.Equal(t, payment.StatusProcessing, snap.PaymentIntents["pi_3"].Status)

	found, err = projections.Get(ctx, "cus_1", &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, stored.PaymentIntents, 2)
}
