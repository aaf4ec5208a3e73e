package usecase

import (
	"context"
	"math"
	"time"
)

// Backoff spaces restarts of the session lifecycle.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before restart number n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	if n <= 1 {
		return b.Initial
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(b.Initial) * math.Pow(mult, float64(n-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
