package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/carnil/carnil/internal/domain/customer"
	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockProvider(t *testing.T) {
	provider := NewMockProvider(WithCurrencies("usd"))

	assert.Equal(t, Mock, provider.Name())
	assert.True(t, provider.Capabilities().IdempotencyKeys)
	assert.Equal(t, []string{"usd"}, provider.Capabilities().Currencies)
}

func TestMockProvider_PaymentLifecycle(t *testing.T) {
	provider := NewMockProvider()
	ctx := context.Background()

	cus, err := provider.CreateCustomer(ctx, customer.CreateRequest{Email: "a@example.com"})
	require.NoError(t, err)
	assert.Contains(t, cus.ID, "cus_")

	pi, err := provider.CreatePaymentIntent(ctx, payment.CreateRequest{CustomerID: cus.ID, Amount: 2000, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRequiresPaymentMethod, pi.Status)
	assert.Equal(t, "usd", pi.Currency)

	confirmed, err := provider.ConfirmPayment(ctx, payment.ConfirmRequest{PaymentIntentID: pi.ID, PaymentMethod: "pm_card_visa"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, confirmed.Status)

	_, err = provider.ConfirmPayment(ctx, payment.ConfirmRequest{PaymentIntentID: pi.ID})
	assert.ErrorIs(t, err, domainErrors.ErrProviderRequest)
	assert.False(t, domainErrors.IsTransient(err))
}

func TestMockProvider_DeclinedCard(t *testing.T) {
	provider := NewMockProvider()
	ctx := context.Background()

	pi, err := provider.CreatePaymentIntent(ctx, payment.CreateRequest{Amount: 500, Currency: "eur"})
	require.NoError(t, err)

	res, err := provider.ConfirmPayment(ctx, payment.ConfirmRequest{PaymentIntentID: pi.ID, PaymentMethod: MockCardDeclined})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, res.Status)
}

func TestMockProvider_IdempotencyKeyReplays(t *testing.T) {
	provider := NewMockProvider()
	ctx := context.Background()

	req := payment.CreateRequest{Amount: 2000, Currency: "usd", IdempotencyKey: "key-1"}
	first, err := provider.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)
	second, err := provider.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestMockProvider_NotFound(t *testing.T) {
	provider := NewMockProvider()

	_, err := provider.GetPaymentIntent(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, domainErrors.ErrNotFound)

	_, err = provider.CreateSubscription(context.Background(), subscription.CreateRequest{CustomerID: "cus_missing", PriceID: "price_1"})
	assert.ErrorIs(t, err, domainErrors.ErrNotFound)
}

func TestMockProvider_SubscriptionCancel(t *testing.T) {
	provider := NewMockProvider()
	ctx := context.Background()

	cus, err := provider.CreateCustomer(ctx, customer.CreateRequest{Name: "Ada"})
	require.NoError(t, err)
	sub, err := provider.CreateSubscription(ctx, subscription.CreateRequest{CustomerID: cus.ID, PriceID: "price_1", PaymentMethod: "pm_card_visa"})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)

	canceled, err := provider.CancelSubscription(ctx, subscription.CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, canceled.Status)

	_, err = provider.CancelSubscription(ctx, subscription.CancelRequest{SubscriptionID: sub.ID})
	assert.ErrorIs(t, err, domainErrors.ErrProviderRequest)
}

func TestMockProvider_FailureRate(t *testing.T) {
	provider := NewMockProvider(WithFailureRate(1.0))

	_, err := provider.CreateCustomer(context.Background(), customer.CreateRequest{})
	assert.True(t, domainErrors.IsTransient(err))
	assert.Equal(t, 1, provider.Calls("create_customer"))
}

func TestMockProvider_FailNext(t *testing.T) {
	provider := NewMockProvider()
	boom := errors.New("boom")
	provider.FailNext("get_payment_intent", boom)

	_, err := provider.GetPaymentIntent(context.Background(), "pi_x")
	assert.ErrorIs(t, err, boom)

	_, err = provider.GetPaymentIntent(context.Background(), "pi_x")
	assert.ErrorIs(t, err, domainErrors.ErrNotFound)
	assert.Equal(t, 2, provider.Calls("get_payment_intent"))
}

func TestMockProvider_Latency(t *testing.T) {
	latency := 50 * time.Millisecond
	provider := NewMockProvider(WithLatency(latency))

	start := time.Now()
	_, err := provider.CreateCustomer(context.Background(), customer.CreateRequest{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), latency)
}

func TestMockProvider_LatencyHonorsContext(t *testing.T) {
	provider := NewMockProvider(WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := provider.CreateCustomer(ctx, customer.CreateRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockProvider_Webhook(t *testing.T) {
	provider := NewMockProvider()
	raw := []byte(`{"id":"evt_1","type":"payment.succeeded","created":1700000000,"data":{"paymentIntent":{"id":"pi_1","amount":2000,"currency":"usd","status":"succeeded"}}}`)

	headers := http.Header{}
	headers.Set(MockSignatureHeader, SignMockPayload(raw, "whsec"))
	require.NoError(t, provider.VerifyWebhookSignature(raw, headers, "whsec"))

	evt, err := provider.ParseWebhookEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, event.TypePaymentSucceeded, evt.Type)
	assert.Equal(t, "pi_1", evt.PaymentIntent.ID)
	assert.Equal(t, int64(1700000000), evt.OccurredAt.Unix())

	tampered := append([]byte{}, raw...)
	tampered[len(tampered)-3] = '9'
	assert.ErrorIs(t, provider.VerifyWebhookSignature(tampered, headers, "whsec"), domainErrors.ErrInvalidSignature)
	assert.ErrorIs(t, provider.VerifyWebhookSignature(raw, headers, "other"), domainErrors.ErrInvalidSignature)
	assert.ErrorIs(t, provider.VerifyWebhookSignature(raw, http.Header{}, "whsec"), domainErrors.ErrInvalidSignature)
}

func TestMockProvider_UnknownEventType(t *testing.T) {
	evt, err := NewMockProvider().ParseWebhookEvent([]byte(`{"id":"evt_2","type":"payout.paid","data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, event.TypeUnknown, evt.Type)
	assert.Equal(t, "payout.paid", evt.ProviderType)
}
