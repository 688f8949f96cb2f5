package webhook

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/rs/zerolog"
)

// Sink consumes verified events.
type Sink interface {
	Handle(ctx context.Context, evt *event.WebhookEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt *event.WebhookEvent) error

func (f SinkFunc) Handle(ctx context.Context, evt *event.WebhookEvent) error { return f(ctx, evt) }

// Dispatcher hands verified events to sinks in registration order. A sink
// returning ErrDuplicateEvent stops delivery to the remaining sinks; other
// sink errors are collected and delivery continues.
type Dispatcher struct {
	sinks  []Sink
	logger zerolog.Logger
}

func NewDispatcher(logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, evt *event.WebhookEvent) error {
	if evt == nil || !evt.SignatureValid {
		return fmt.Errorf("dispatch unverified event: %w", domainErrors.ErrInvalidSignature)
	}

	var errs []error
	for i, s := range d.sinks {
		err := s.Handle(ctx, evt)
		if err == nil {
			continue
		}
		if errors.Is(err, domainErrors.ErrDuplicateEvent) {
			d.logger.Info().Str("event_id", evt.ID).Msg("Skipping duplicate webhook event")
			return err
		}
		d.logger.Error().Err(err).Str("event_id", evt.ID).Int("sink", i).Msg("Webhook sink failed")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Router is a Sink that calls per-type handlers. Events without a handler go
// to the fallback, so unknown types are never dropped silently.
type Router struct {
	handlers map[event.Type][]SinkFunc
	fallback SinkFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[event.Type][]SinkFunc)}
}

// On registers fn for typ. Not safe to call concurrently with Handle.
func (r *Router) On(typ event.Type, fn SinkFunc) *Router {
	r.handlers[typ] = append(r.handlers[typ], fn)
	return r
}

// Otherwise sets the handler for types with no registered handler.
func (r *Router) Otherwise(fn SinkFunc) *Router {
	r.fallback = fn
	return r
}

func (r *Router) Handle(ctx context.Context, evt *event.WebhookEvent) error {
	hs, ok := r.handlers[evt.Type]
	if !ok {
		if r.fallback == nil {
			return nil
		}
		return r.fallback(ctx, evt)
	}
	var errs []error
	for _, h := range hs {
		if err := h(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
