package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitSpacesRequests(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 10, Burst: 1})
	ctx := context.Background()

	_, err := l.Wait(ctx)
	require.NoError(t, err)

	waited, err := l.Wait(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, waited, 80*time.Millisecond)
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.True(t, l.Unlimited())
	for range 100 {
		waited, err := l.Wait(context.Background())
		require.NoError(t, err)
		require.Less(t, waited, 10*time.Millisecond)
	}

	var nilLimiter *Limiter
	require.True(t, nilLimiter.Unlimited())
	_, err := nilLimiter.Wait(context.Background())
	require.NoError(t, err)
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 0.001, Burst: 1})
	_, err := l.Wait(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}
