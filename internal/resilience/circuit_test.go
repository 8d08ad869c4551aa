package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(context.Context) (int, error) {
	return 0, NewTransientError(errors.New("unavailable"), 503)
}

func ok(context.Context) (int, error) {
	return 1, nil
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("directions", BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Call(ctx, b, failing)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	_, err := Call(ctx, b, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
	assert.Equal(t, int64(1), b.Stats().Rejected)
}

func TestBreaker_PermanentErrorsDoNotCount(t *testing.T) {
	b := NewBreaker("directions", BreakerConfig{FailureThreshold: 2})
	for i := 0; i < 5; i++ {
		_, _ = Call(context.Background(), b, func(context.Context) (int, error) {
			return 0, errors.New("no route")
		})
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Stats().Failures)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("directions", BreakerConfig{FailureThreshold: 3})
	ctx := context.Background()
	_, _ = Call(ctx, b, failing)
	_, _ = Call(ctx, b, failing)
	assert.Equal(t, 2, b.Stats().Failures)

	_, err := Call(ctx, b, ok)
	require.NoError(t, err)
	assert.Zero(t, b.Stats().Failures)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	b := NewBreaker("directions", BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	b.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_, _ = Call(ctx, b, failing)
	require.Equal(t, StateOpen, b.State())

	b.nowFunc = func() time.Time { return now.Add(2 * time.Second) }
	assert.Equal(t, StateHalfOpen, b.State())

	// A failed probe reopens.
	_, _ = Call(ctx, b, failing)
	assert.Equal(t, StateOpen, b.State())

	b.nowFunc = func() time.Time { return now.Add(5 * time.Second) }
	_, err := Call(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("places", BreakerConfig{FailureThreshold: 1})
	_, _ = Call(context.Background(), b, failing)
	require.Equal(t, StateOpen, b.State())
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.Stats().State)
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(7).String())
}
