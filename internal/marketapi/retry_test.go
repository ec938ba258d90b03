package marketapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ipocli/internal/errors"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	tests := []struct {
		name        string
		failures    []error
		wantCalls   int
		wantDelays  []time.Duration
		wantErrType apperrors.ErrorType
		wantSuccess bool
	}{
		{
			name:        "succeeds first time",
			wantCalls:   1,
			wantSuccess: true,
		},
		{
			name:        "recovers after transient failures",
			failures:    []error{apperrors.NewTransientError("503", nil), apperrors.NewTransientError("timeout", nil)},
			wantCalls:   3,
			wantDelays:  []time.Duration{2 * time.Second, 4 * time.Second},
			wantSuccess: true,
		},
		{
			name: "exhausts attempts",
			failures: []error{
				apperrors.NewTransientError("503", nil),
				apperrors.NewTransientError("503", nil),
				apperrors.NewTransientError("503", nil),
			},
			wantCalls:   3,
			wantDelays:  []time.Duration{2 * time.Second, 4 * time.Second},
			wantErrType: apperrors.ErrTypeTransient,
		},
		{
			name:        "application error is not retried",
			failures:    []error{apperrors.NewApplicationError("1", "bad")},
			wantCalls:   1,
			wantErrType: apperrors.ErrTypeApplication,
		},
		{
			name:        "authentication error is not retried",
			failures:    []error{apperrors.NewAuthenticationError("denied", nil)},
			wantCalls:   1,
			wantErrType: apperrors.ErrTypeAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &fakeSleeper{}
			p := RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Sleep: sleeper.Sleep}

			calls := 0
			err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			}, nil)

			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantDelays, sleeper.Delays())
			if tt.wantSuccess {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantErrType, apperrors.TypeOf(err))
			}
		})
	}
}

func TestRetryPolicy_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, Sleep: SleepContext}

	calls := 0
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return apperrors.NewTransientError("503", nil)
	}, nil)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}
