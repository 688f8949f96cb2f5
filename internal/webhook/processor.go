// Package webhook verifies, normalizes and fans out provider webhook
// deliveries.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/infrastructure/observability"
	"github.com/carnil/carnil/internal/providers"
	"github.com/rs/zerolog"
)

// Processor turns a raw delivery into a verified WebhookEvent. It keeps no
// state between calls.
type Processor struct {
	registry *providers.Registry
	now      func() time.Time
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

type ProcessorOption func(*Processor)

// WithClock overrides the source of ReceivedAt.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

func WithLogger(l zerolog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

func WithMetrics(m *observability.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

func NewProcessor(registry *providers.Registry, opts ...ProcessorOption) *Processor {
	p := &Processor{
		registry: registry,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Handle verifies the signature over raw before anything else. On failure it
// returns an error wrapping ErrInvalidSignature and does not parse the body.
// Event names the provider table does not map come back as TypeUnknown.
func (p *Processor) Handle(ctx context.Context, raw []byte, headers http.Header, cfg providers.Config) (*event.WebhookEvent, error) {
	adapter, err := p.registry.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	provider := string(adapter.Name())

	if err := adapter.VerifyWebhookSignature(raw, headers, cfg.WebhookSecret); err != nil {
		p.record(provider, "", "invalid_signature")
		p.logger.Warn().Err(err).Str("provider", provider).Int("bytes", len(raw)).Msg("Rejected webhook with invalid signature")
		if !errors.Is(err, domainErrors.ErrInvalidSignature) {
			err = fmt.Errorf("%w: %w", domainErrors.ErrInvalidSignature, err)
		}
		return nil, err
	}

	evt, err := adapter.ParseWebhookEvent(raw)
	if err != nil {
		p.record(provider, "", "malformed")
		return nil, err
	}
	if r, ok := adapter.(providers.EventIDReader); ok {
		if id := r.EventIDFromHeaders(headers); id != "" {
			evt.ID = id
		}
	}
	evt.SignatureValid = true
	evt.ReceivedAt = p.now().UTC()

	p.record(provider, string(evt.Type), "accepted")
	p.logger.Info().
		Str("provider", provider).
		Str("event_id", evt.ID).
		Str("type", string(evt.Type)).
		Str("provider_type", evt.ProviderType).
		Msg("Webhook verified")
	return evt, nil
}

func (p *Processor) record(provider, typ, outcome string) {
	if p.metrics == nil {
		return
	}
	if typ == "" {
		typ = "none"
	}
	p.metrics.WebhookEventsTotal.WithLabelValues(provider, typ, outcome).Inc()
}
