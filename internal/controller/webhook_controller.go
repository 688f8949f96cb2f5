package controller

import (
	"context"
	"errors"
	"net/http"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/event"
	"github.com/carnil/carnil/internal/providers"
	"github.com/carnil/carnil/internal/webhook"
	"github.com/rs/zerolog"
)

// Forgetter undoes a dedupe mark so a provider redelivery is processed.
type Forgetter interface {
	Forget(ctx context.Context, evt *event.WebhookEvent) error
}

// WebhookController receives provider deliveries. The body is read raw and
// verified before anything else looks at it.
type WebhookController struct {
	processor  *webhook.Processor
	dispatcher *webhook.Dispatcher
	cfg        providers.Config
	dedupe     Forgetter
	maxBody    int64
	logger     zerolog.Logger
}

func NewWebhookController(
	processor *webhook.Processor,
	dispatcher *webhook.Dispatcher,
	cfg providers.Config,
	dedupe Forgetter,
	maxBody int64,
	logger zerolog.Logger,
) *WebhookController {
	return &WebhookController{
		processor:  processor,
		dispatcher: dispatcher,
		cfg:        cfg,
		dedupe:     dedupe,
		maxBody:    maxBody,
		logger:     logger,
	}
}

func (h *WebhookController) Handle(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	evt, err := h.processor.Handle(r.Context(), raw, r.Header, h.cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), evt); err != nil {
		if errors.Is(err, domainErrors.ErrDuplicateEvent) {
			writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Type: evt.Type, Duplicate: true})
			return
		}
		// Let the provider redeliver.
		if h.dedupe != nil {
			if ferr := h.dedupe.Forget(r.Context(), evt); ferr != nil {
				h.logger.Error().Err(ferr).Str("event_id", evt.ID).Msg("Failed to clear dedupe mark")
			}
		}
		h.logger.Error().Err(err).Str("event_id", evt.ID).Str("type", string(evt.Type)).Msg("Webhook dispatch failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "webhook processing failed", Code: "dispatch_failed"})
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Type: evt.Type})
}
