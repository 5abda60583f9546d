package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("api down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	b := New("test",
		WithFailureThreshold(3),
		WithCoolDown(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	b := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithCoolDown(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	require.Equal(t, StateOpen, b.State())

	now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	b := New("test",
		WithFailureThreshold(1),
		WithCoolDown(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	now = now.Add(2 * time.Minute)
	require.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_IgnoresClassifiedErrors(t *testing.T) {
	b := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, errDown) }),
	)

	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, StateClosed, b.State())

	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return context.Canceled }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := New("test", WithFailureThreshold(1))
	require.Error(t, b.Execute(context.Background(), fail))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}
