// Package builtin wires the providers shipped with carnil into a registry.
package builtin

import (
	"github.com/carnil/carnil/internal/providers"
	"github.com/carnil/carnil/internal/providers/razorpay"
	"github.com/carnil/carnil/internal/providers/stripe"
)

// NewRegistry returns a registry with stripe, razorpay and mock registered.
// Mock options apply to the mock provider only.
func NewRegistry(mockOpts ...providers.MockProviderOption) *providers.Registry {
	r := providers.NewRegistry()
	r.MustRegister(providers.Stripe, stripe.NewFactory())
	r.MustRegister(providers.Razorpay, razorpay.NewFactory())
	r.MustRegister(providers.Mock, providers.NewMockFactory(mockOpts...))
	return r
}
