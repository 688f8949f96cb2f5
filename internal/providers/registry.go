package providers

import (
	"fmt"
	"sort"
	"sync"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
)

// Registry maps provider names to adapter factories. Registration is
// append-only so adapters already handed to clients stay valid. Resolved
// adapters are cached per identical Config.
type Registry struct {
	mu        sync.RWMutex
	factories map[Name]Factory
	adapters  map[Config]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Name]Factory),
		adapters:  make(map[Config]Adapter),
	}
}

// Register associates name with factory. Names cannot be re-registered.
func (r *Registry) Register(name Name, factory Factory) error {
	if name == "" || factory == nil {
		return domainErrors.NewValidationError("provider", "name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register %q: %w", name, domainErrors.ErrProviderAlreadyRegistered)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register for process start-up wiring.
func (r *Registry) MustRegister(name Name, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Resolve returns the adapter for cfg.Provider, constructing it on first use.
func (r *Registry) Resolve(cfg Config) (Adapter, error) {
	r.mu.RLock()
	if a, ok := r.adapters[cfg]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	factory, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", cfg.Provider, domainErrors.ErrUnknownProvider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[cfg]; ok {
		return a, nil
	}
	a, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("construct %q adapter: %w", cfg.Provider, err)
	}
	r.adapters[cfg] = a
	return a, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]Name, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
