package errors

import (
	"errors"
	"fmt"
)

var (
	// Request errors
	ErrValidationFailed = errors.New("validation failed")

	// State errors
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// Registry errors
	ErrUnknownProvider           = errors.New("unknown payment provider")
	ErrProviderAlreadyRegistered = errors.New("payment provider already registered")

	// Provider errors
	ErrProviderRequest     = errors.New("provider rejected request")
	ErrProviderTransient   = errors.New("provider temporarily unavailable")
	ErrProviderUnavailable = fmt.Errorf("circuit open: %w", ErrProviderTransient)
	ErrNotFound            = fmt.Errorf("resource not found: %w", ErrProviderRequest)

	// Webhook errors
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrDuplicateEvent   = errors.New("webhook event already processed")

	// Caller errors
	ErrCanceled                = errors.New("request canceled")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrForbidden               = errors.New("forbidden")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a malformed normalized request. It is raised
// before any network call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// ProviderError is the normalized form of any failure reported by a payment
// provider. It unwraps to ErrProviderRequest or ErrProviderTransient so callers
// never need to inspect provider-native error shapes.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Code       string
	Message    string
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	kind := ErrProviderRequest
	if e.Transient {
		kind = ErrProviderTransient
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// NewRequestError builds a non-retryable provider error (business-level 4xx).
func NewRequestError(provider, op string, status int, code, message string) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, StatusCode: status, Code: code, Message: message}
}

// NewTransientError builds a retryable provider error (network failure or 5xx).
func NewTransientError(provider, op string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, StatusCode: status, Transient: true, Err: err}
}

// ClassifyStatus maps an HTTP status returned by a provider into the taxonomy.
func ClassifyStatus(provider, op string, status int, code, message string) *ProviderError {
	if status >= 500 || status == 429 || status == 408 {
		return &ProviderError{Provider: provider, Op: op, StatusCode: status, Code: code, Message: message, Transient: true}
	}
	pe := NewRequestError(provider, op, status, code, message)
	if status == 404 {
		pe.Err = ErrNotFound
	}
	return pe
}

// IsTransient reports whether err may succeed if retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderTransient) && !errors.Is(err, ErrCanceled)
}
