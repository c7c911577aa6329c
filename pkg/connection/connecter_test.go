package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	var retried []int

	cfg := RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		OnRetry: func(attempt int, _ time.Duration, _ error) {
			retried = append(retried, attempt)
		},
	}

	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	cause := errors.New("refused")
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func(context.Context) error {
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, DefaultRetryConfig(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelay_CappedByMaxDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, calculateDelay(1, cfg))
	assert.Equal(t, 2*time.Second, calculateDelay(2, cfg))
	assert.Equal(t, 3*time.Second, calculateDelay(5, cfg))
}
