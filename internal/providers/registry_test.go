package providers

import (
	"errors"
	"sync"
	"testing"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Mock, NewMockFactory()))

	a, err := r.Resolve(Config{Provider: Mock, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, Mock, a.Name())
}

func TestRegistry_RegisterTwiceFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Mock, NewMockFactory()))

	err := r.Register(Mock, NewMockFactory())
	assert.ErrorIs(t, err, domainErrors.ErrProviderAlreadyRegistered)
}

func TestRegistry_RegisterRequiresFactory(t *testing.T) {
	assert.ErrorIs(t, NewRegistry().Register("x", nil), domainErrors.ErrValidationFailed)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	_, err := NewRegistry().Resolve(Config{Provider: "paypal", APIKey: "k"})
	assert.ErrorIs(t, err, domainErrors.ErrUnknownProvider)
}

func TestRegistry_ResolveCachesPerConfig(t *testing.T) {
	r := NewRegistry()
	built := 0
	r.MustRegister(Mock, func(Config) (Adapter, error) {
		built++
		return NewMockProvider(), nil
	})

	cfg := Config{Provider: Mock, APIKey: "k"}
	a1, err := r.Resolve(cfg)
	require.NoError(t, err)
	a2, err := r.Resolve(cfg)
	require.NoError(t, err)
	a3, err := r.Resolve(Config{Provider: Mock, APIKey: "other"})
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, a3)
	assert.Equal(t, 2, built)
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("bad key")
	r.MustRegister(Mock, func(Config) (Adapter, error) { return nil, boom })

	_, err := r.Resolve(Config{Provider: Mock})
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Mock, NewMockFactory())
	cfg := Config{Provider: Mock, APIKey: "k"}

	var wg sync.WaitGroup
	results := make([]Adapter, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.Resolve(cfg)
			assert.NoError(t, err)
			results[i] = a
		}(i)
	}
	wg.Wait()

	for _, a := range results {
		assert.Same(t, results[0], a)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Stripe, NewMockFactory())
	r.MustRegister(Mock, NewMockFactory())

	assert.Equal(t, []Name{Mock, Stripe}, r.Names())
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := Config{Provider: Stripe, APIKey: "sk_live_123", WebhookSecret: "whsec_abc"}
	s := cfg.String()
	assert.NotContains(t, s, "sk_live_123")
	assert.NotContains(t, s, "whsec_abc")
	assert.Contains(t, s, "stripe")
}
