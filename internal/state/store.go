// Package state mirrors provider-confirmed entities for one consumer
// session and notifies observers on change.
package state

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/carnil/carnil/internal/domain/customer"
	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
	"github.com/carnil/carnil/internal/providers"
	"github.com/carnil/carnil/internal/service"
	"github.com/rs/zerolog"
)

// Client is the subset of service.Client the store drives.
type Client interface {
	Provider() providers.Name
	CreateCustomer(ctx context.Context, req customer.CreateRequest) (service.Result[*customer.Customer], error)
	UpdateCustomer(ctx context.Context, req customer.UpdateRequest) (service.Result[*customer.Customer], error)
	CreatePaymentIntent(ctx context.Context, req payment.CreateRequest) (service.Result[*payment.PaymentIntent], error)
	ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (service.Result[*payment.PaymentIntent], error)
	CreateSubscription(ctx context.Context, req subscription.CreateRequest) (service.Result[*subscription.Subscription], error)
	CancelSubscription(ctx context.Context, req subscription.CancelRequest) (service.Result[*subscription.Subscription], error)
}

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	Customer       *customer.Customer                   `json:"customer,omitempty"`
	PaymentIntents map[string]payment.PaymentIntent     `json:"paymentIntents"`
	Subscriptions  map[string]subscription.Subscription `json:"subscriptions"`
	IsLoading      bool                                 `json:"isLoading"`
	Error          string                               `json:"error,omitempty"`
}

// Store only changes through its mutation entry points and Apply. Entities
// are replaced with what the provider returned, never with request fields.
type Store struct {
	client   Client
	provider string
	logger   zerolog.Logger

	mu         sync.Mutex
	customer   *customer.Customer
	customerAt time.Time
	intents    map[string]payment.PaymentIntent
	subs       map[string]subscription.Subscription
	subsAt     map[string]time.Time
	inflight   int
	lastErr    string
	observers  map[int]func(Snapshot)
	nextID     int
}

func New(client Client, logger zerolog.Logger) *Store {
	return &Store{
		client:    client,
		provider:  string(client.Provider()),
		logger:    logger,
		intents:   make(map[string]payment.PaymentIntent),
		subs:      make(map[string]subscription.Subscription),
		subsAt:    make(map[string]time.Time),
		observers: make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		PaymentIntents: maps.Clone(s.intents),
		Subscriptions:  maps.Clone(s.subs),
		IsLoading:      s.inflight > 0,
		Error:          s.lastErr,
	}
	if s.customer != nil {
		c := *s.customer
		c.Metadata = maps.Clone(c.Metadata)
		snap.Customer = &c
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every change. Observers
// are called outside the store lock.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// update runs fn under the lock and then notifies observers, unless fn
// reports that nothing changed.
func (s *Store) update(fn func() bool) {
	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

func (s *Store) begin() {
	s.update(func() bool {
		s.inflight++
		return true
	})
}

// finish ends a mutation. On failure prior entities stay untouched.
func (s *Store) finish(err error, commit func(at time.Time)) {
	at := time.Now().UTC()
	s.update(func() bool {
		s.inflight--
		if err != nil {
			s.lastErr = err.Error()
			return true
		}
		s.lastErr = ""
		commit(at)
		return true
	})
}

func (s *Store) CreateCustomer(ctx context.Context, req customer.CreateRequest) (*customer.Customer, error) {
	s.begin()
	res, err := s.client.CreateCustomer(ctx, req)
	s.finish(err, func(at time.Time) { s.replaceCustomer(res.Data, at) })
	return res.Data, err
}

func (s *Store) UpdateCustomer(ctx context.Context, req customer.UpdateRequest) (*customer.Customer, error) {
	s.begin()
	res, err := s.client.UpdateCustomer(ctx, req)
	s.finish(err, func(at time.Time) { s.replaceCustomer(res.Data, at) })
	return res.Data, err
}

func (s *Store) CreatePaymentIntent(ctx context.Context, req payment.CreateRequest) (*payment.PaymentIntent, error) {
	s.begin()
	res, err := s.client.CreatePaymentIntent(ctx, req)
	s.finish(err, func(time.Time) { s.mergeIntent(*res.Data) })
	return res.Data, err
}

func (s *Store) ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (*payment.PaymentIntent, error) {
	s.begin()
	res, err := s.client.ConfirmPayment(ctx, req)
	s.finish(err, func(time.Time) { s.mergeIntent(*res.Data) })
	return res.Data, err
}

func (s *Store) CreateSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.Subscription, error) {
	s.begin()
	res, err := s.client.CreateSubscription(ctx, req)
	s.finish(err, func(at time.Time) { s.mergeSubscription(*res.Data, at) })
	return res.Data, err
}

func (s *Store) CancelSubscription(ctx context.Context, req subscription.CancelRequest) (*subscription.Subscription, error) {
	s.begin()
	res, err := s.client.CancelSubscription(ctx, req)
	s.finish(err, func(at time.Time) { s.mergeSubscription(*res.Data, at) })
	return res.Data, err
}

// Apply folds a verified webhook event into the store. Deliveries may arrive
// in any order; payment and subscription statuses merge order-independently
// and customer updates are last-writer-wins by OccurredAt. Events from
// another provider or for another customer are ignored.
func (s *Store) Apply(_ context.Context, evt *event.WebhookEvent) error {
	if evt == nil || !evt.SignatureValid {
		return fmt.Errorf("apply unverified event: %w", domainErrors.ErrInvalidSignature)
	}
	if evt.Provider != s.provider {
		s.logger.Debug().Str("event_id", evt.ID).Str("provider", evt.Provider).Msg("Ignoring event from another provider")
		return nil
	}

	if evt.Customer == nil && evt.PaymentIntent == nil && evt.Subscription == nil {
		return nil
	}

	s.update(func() bool {
		if s.customer != nil && evt.CustomerID() != "" && evt.CustomerID() != s.customer.ID {
			return false
		}
		switch {
		case evt.Customer != nil:
			return s.applyCustomer(evt.Customer, evt.OccurredAt)
		case evt.PaymentIntent != nil:
			s.mergeIntent(*evt.PaymentIntent)
		case evt.Subscription != nil:
			s.mergeSubscription(*evt.Subscription, evt.OccurredAt)
		}
		return true
	})
	return nil
}

// Restore seeds the store from an earlier snapshot. Restored entities merge
// with what the store holds and carry no observation time, so any dated event
// supersedes them.
func (s *Store) Restore(snap Snapshot) {
	s.update(func() bool {
		if snap.Customer != nil && s.customer == nil {
			s.replaceCustomer(snap.Customer, time.Time{})
		}
		for _, pi := range snap.PaymentIntents {
			s.mergeIntent(pi)
		}
		for _, sub := range snap.Subscriptions {
			s.mergeSubscription(sub, time.Time{})
		}
		return true
	})
}

// Handle lets the store act as a webhook sink.
func (s *Store) Handle(ctx context.Context, evt *event.WebhookEvent) error {
	return s.Apply(ctx, evt)
}

// replaceCustomer commits a provider-confirmed customer observed at at.
func (s *Store) replaceCustomer(c *customer.Customer, at time.Time) {
	if c == nil {
		return
	}
	cp := *c
	cp.Metadata = maps.Clone(c.Metadata)
	s.customer = &cp
	s.customerAt = at
}

// applyCustomer folds a webhook customer in unless it is older than what the
// store already holds. Undated events only seed an empty store.
func (s *Store) applyCustomer(c *customer.Customer, at time.Time) bool {
	if s.customer != nil {
		if s.customer.ID != c.ID || at.IsZero() || at.Before(s.customerAt) {
			return false
		}
	}
	s.replaceCustomer(c, at)
	return true
}

func (s *Store) mergeIntent(pi payment.PaymentIntent) {
	if cur, ok := s.intents[pi.ID]; ok {
		pi = payment.Merge(cur, pi)
	}
	s.intents[pi.ID] = pi
}

func (s *Store) mergeSubscription(sub subscription.Subscription, at time.Time) {
	if cur, ok := s.subs[sub.ID]; ok {
		curAt := s.subsAt[sub.ID]
		sub = subscription.Merge(cur, sub, curAt, at)
		if at.Before(curAt) {
			at = curAt
		}
	}
	s.subs[sub.ID] = sub
	s.subsAt[sub.ID] = at
}
