package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func testBreakers() *BreakerManager {
	return NewBreakerManager(&BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
	})
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	m := testBreakers()
	ctx := context.Background()
	calls := 0
	fail := func() (any, error) {
		calls++
		return nil, errBackend
	}

	for i := 0; i < 3; i++ {
		_, err := m.Execute(ctx, "dedup", fail)
		assert.ErrorIs(t, err, errBackend)
	}
	assert.True(t, m.IsOpen("dedup"))

	_, err := m.Execute(ctx, "dedup", fail)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls, "open breaker must not call through")

	status := m.Status("dedup")
	require.NotNil(t, status)
	assert.Equal(t, BreakerStateOpen, status.State)
}

func TestBreaker_RecoversAfterTimeout(t *testing.T) {
	m := testBreakers()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = m.Execute(ctx, "window", func() (any, error) { return nil, errBackend })
	}
	require.True(t, m.IsOpen("window"))

	time.Sleep(80 * time.Millisecond)

	res, err := m.Execute(ctx, "window", func() (any, error) { return int64(7), nil })
	require.NoError(t, err)
	assert.Equal(t, int64(7), res)
	assert.False(t, m.IsOpen("window"))
	assert.Equal(t, BreakerStateClosed, m.Status("window").State)
}

func TestBreaker_CancelledContextDoesNotTrip(t *testing.T) {
	m := testBreakers()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_, err := m.Execute(ctx, "window", func() (any, error) { return nil, nil })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.False(t, m.IsOpen("window"))
}

func TestBreaker_IndependentNames(t *testing.T) {
	m := testBreakers()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = m.Execute(ctx, "a", func() (any, error) { return nil, errBackend })
	}
	_, err := m.Execute(ctx, "b", func() (any, error) { return "ok", nil })
	require.NoError(t, err)

	assert.True(t, m.IsOpen("a"))
	assert.False(t, m.IsOpen("b"))
	assert.Len(t, m.AllStatus(), 2)
	assert.Nil(t, m.Status("never-used"))
}
