package builtin

import (
	"testing"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []providers.Name{providers.Mock, providers.Razorpay, providers.Stripe}, r.Names())

	for _, cfg := range []providers.Config{
		{Provider: providers.Stripe, APIKey: "sk_test_1"},
		{Provider: providers.Razorpay, APIKey: "rzp_test:secret"},
		{Provider: providers.Mock, APIKey: "anything"},
	} {
		a, err := r.Resolve(cfg)
		require.NoError(t, err)
		assert.Equal(t, cfg.Provider, a.Name())
	}
}

func TestNewRegistry_IsAppendOnly(t *testing.T) {
	r := NewRegistry()
	err := r.Register(providers.Stripe, providers.NewMockFactory())
	assert.ErrorIs(t, err, domainErrors.ErrProviderAlreadyRegistered)
}

func TestNewRegistry_Isolated(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	require.NoError(t, a.Register("paypal", providers.NewMockFactory()))

	_, err := b.Resolve(providers.Config{Provider: "paypal"})
	assert.ErrorIs(t, err, domainErrors.ErrUnknownProvider)
}
