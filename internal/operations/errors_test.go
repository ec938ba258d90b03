package operations_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "ipocli/internal/errors"
	"ipocli/internal/operations"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", apperrors.NewTransientError("reset", nil), true},
		{"quota", apperrors.NewQuotaExceededError("daily_trade", 1, 1), false},
		{"authentication", apperrors.NewAuthenticationError("bad key", nil), false},
		{"plain", errors.New("boom"), false},
		{"timeout", operations.NewTimeoutError("collection", "1s"), false},
		{"retryable operation error", &operations.OperationError{Type: operations.ErrorTypeExecution, Retryable: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, operations.IsRetryable(tt.err))
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, operations.WrapError(nil, "step", "msg"))

	quota := apperrors.NewQuotaExceededError("daily_trade", 10, 10)
	wrapped := operations.WrapError(quota, "collection", "step execution failed")

	var opErr *operations.OperationError
	assert.True(t, errors.As(wrapped, &opErr))
	assert.Equal(t, operations.ErrorTypeFatal, opErr.Type)
	assert.Equal(t, "collection", opErr.Step)
	assert.ErrorIs(t, wrapped, apperrors.ErrQuotaExceeded)

	cancelled := operations.WrapError(context.Canceled, "collection", "step execution failed")
	assert.ErrorIs(t, cancelled, context.Canceled)

	existing := operations.NewValidationError("", "bad input")
	assert.Same(t, existing, operations.WrapError(existing, "export", "ignored"))
	assert.Equal(t, "export", existing.Step)
}
