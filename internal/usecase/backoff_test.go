package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	require.Equal(t, time.Second, b.Delay(1))
	require.Equal(t, 2*time.Second, b.Delay(2))
	require.Equal(t, 4*time.Second, b.Delay(3))
	require.Equal(t, 5*time.Second, b.Delay(4))

	require.Zero(t, Backoff{}.Delay(3))
	require.Equal(t, time.Second, Backoff{Initial: time.Second, Multiplier: 0.5}.Delay(3))
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
	require.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Minute), context.Canceled)
}
