package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name: "with wrapped error",
			err: &DomainError{
				Code:    "confirm_failed",
				Message: "payment confirmation failed",
				Err:     errors.New("provider timeout"),
			},
			expected: "payment confirmation failed: provider timeout",
		},
		{
			name: "without wrapped error",
			err: &DomainError{
				Code:    "invalid_state",
				Message: "cannot confirm payment in current state",
			},
			expected: "cannot confirm payment in current state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNewDomainError(t *testing.T) {
	originalErr := errors.New("underlying error")
	err := NewDomainError("test_code", "test message", originalErr)

	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "test message", err.Message)
	assert.ErrorIs(t, err, originalErr)
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("email", "must be a valid email address")

	assert.Equal(t, "validation failed for field email: must be a valid email address", err.Error())
	assert.ErrorIs(t, err, ErrValidationFailed)

	var ve *ValidationError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &ve))
	assert.Equal(t, "email", ve.Field)
}

func TestProviderError_Unwrap(t *testing.T) {
	tests := []struct {
		name      string
		err       *ProviderError
		transient bool
	}{
		{"request error", NewRequestError("stripe", "create_customer", 400, "parameter_missing", "email required"), false},
		{"transient error", NewTransientError("stripe", "get_payment_intent", 503, errors.New("upstream down")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, errors.Is(tt.err, ErrProviderTransient))
			assert.Equal(t, !tt.transient, errors.Is(tt.err, ErrProviderRequest))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func TestProviderError_Error(t *testing.T) {
	err := NewRequestError("razorpay", "create_order", 400, "BAD_REQUEST_ERROR", "amount too small")
	assert.Equal(t, "razorpay create_order (status 400): amount too small", err.Error())

	wrapped := NewTransientError("stripe", "confirm_payment", 0, context.DeadlineExceeded)
	assert.Contains(t, wrapped.Error(), "deadline exceeded")
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{400, false},
		{402, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := ClassifyStatus("stripe", "op", tt.status, "", "")
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestClassifyStatus_NotFound(t *testing.T) {
	err := ClassifyStatus("razorpay", "fetch_order", 404, "BAD_REQUEST_ERROR", "id does not exist")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrProviderRequest)
}

func TestSentinelWrapping(t *testing.T) {
	assert.ErrorIs(t, ErrProviderUnavailable, ErrProviderTransient)
	assert.ErrorIs(t, ErrNotFound, ErrProviderRequest)
	assert.False(t, IsTransient(fmt.Errorf("%w: %w", ErrCanceled, ErrProviderTransient)))
}
