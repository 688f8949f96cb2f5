package worker

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/state"
	"github.com/rs/zerolog"
)

const defaultCapacity = 10000

// SnapshotStore persists projected state outside the worker process.
type SnapshotStore interface {
	Put(ctx context.Context, customerID string, v any) error
	Get(ctx context.Context, customerID string, v any) (bool, error)
}

type ProjectorOption func(*Projector)

// WithCapacity bounds the customers held in memory. The least recently
// touched customer is evicted first.
func WithCapacity(n int) ProjectorOption {
	return func(p *Projector) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithSnapshots writes every projected change to s and reloads evicted
// customers from it.
func WithSnapshots(s SnapshotStore) ProjectorOption {
	return func(p *Projector) { p.snapshots = s }
}

type projection struct {
	customerID string
	store      *state.Store
}

// Projector keeps one state.Store per customer and folds stream events into
// it. Events that name no customer are skipped.
type Projector struct {
	client    state.Client
	logger    zerolog.Logger
	capacity  int
	snapshots SnapshotStore

	mu     sync.Mutex
	lru    *list.List
	stores map[string]*list.Element
}

func NewProjector(client state.Client, logger zerolog.Logger, opts ...ProjectorOption) *Projector {
	p := &Projector{
		client:   client,
		logger:   logger,
		capacity: defaultCapacity,
		lru:      list.New(),
		stores:   make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Projector) Handle(ctx context.Context, evt *event.WebhookEvent) error {
	id := evt.CustomerID()
	if id == "" {
		p.logger.Debug().Str("event_id", evt.ID).Str("type", string(evt.Type)).Msg("Event names no customer, not projected")
		return nil
	}

	s, err := p.store(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Apply(ctx, evt); err != nil {
		return err
	}
	if p.snapshots != nil {
		if err := p.snapshots.Put(ctx, id, s.Snapshot()); err != nil {
			return fmt.Errorf("publish projection: %w", err)
		}
	}
	return nil
}

// Snapshot returns the in-memory projected state for a customer.
func (p *Projector) Snapshot(customerID string) (state.Snapshot, bool) {
	p.mu.Lock()
	el, ok := p.stores[customerID]
	p.mu.Unlock()
	if !ok {
		return state.Snapshot{}, false
	}
	return el.Value.(*projection).store.Snapshot(), true
}

// Len returns the number of customers held in memory.
func (p *Projector) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

func (p *Projector) store(ctx context.Context, customerID string) (*state.Store, error) {
	p.mu.Lock()
	if el, ok := p.stores[customerID]; ok {
		p.lru.MoveToFront(el)
		p.mu.Unlock()
		return el.Value.(*projection).store, nil
	}
	p.mu.Unlock()

	s := state.New(p.client, p.logger.With().Str("customer_id", customerID).Logger())
	if p.snapshots != nil {
		var prev state.Snapshot
		found, err := p.snapshots.Get(ctx, customerID, &prev)
		if err != nil {
			return nil, fmt.Errorf("load projection: %w", err)
		}
		if found {
			s.Restore(prev)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.stores[customerID]; ok {
		p.lru.MoveToFront(el)
		return el.Value.(*projection).store, nil
	}
	p.stores[customerID] = p.lru.PushFront(&projection{customerID: customerID, store: s})
	for p.lru.Len() > p.capacity {
		oldest := p.lru.Back()
		p.lru.Remove(oldest)
		delete(p.stores, oldest.Value.(*projection).customerID)
	}
	return s, nil
}
