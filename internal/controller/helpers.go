package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 1 << 20

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: more specific sentinels wrap the general ones below them.
var errorMappings = []errorMapping{
	{domainErrors.ErrCanceled, http.StatusGatewayTimeout, "canceled"},
	{domainErrors.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{domainErrors.ErrValidationFailed, http.StatusBadRequest, "validation_error"},
	{domainErrors.ErrUnknownProvider, http.StatusInternalServerError, "unknown_provider"},
	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
	{domainErrors.ErrNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrProviderRequest, http.StatusUnprocessableEntity, "provider_request"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		resp.Field = validationErr.Field
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	var providerErr *domainErrors.ProviderError
	if errors.As(err, &providerErr) {
		resp.ProviderCode = providerErr.Code
	}

	// Transient provider failures: timeouts are 504, the rest 502.
	if domainErrors.IsTransient(err) && !errors.Is(err, domainErrors.ErrProviderUnavailable) {
		status, code := http.StatusBadGateway, "provider_transient"
		if errors.Is(err, context.DeadlineExceeded) {
			status, code = http.StatusGatewayTimeout, "provider_timeout"
		}
		resp.Code = code
		writeJSON(w, status, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

// decodeData decodes an action payload. A missing payload decodes as {}.
func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domainErrors.NewValidationError("data", "invalid JSON: "+err.Error())
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = maxBodySize
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domainErrors.NewValidationError("body", "request body too large")
		}
		return nil, domainErrors.NewValidationError("body", "failed to read body: "+err.Error())
	}
	return body, nil
}
