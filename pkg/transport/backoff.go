package transport

import (
	"context"
	"math/rand"
	"time"
)

// Backoff paces reconnect attempts: Base·Factor^attempt, capped at Max,
// spread by ±Jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // 0.0 to 1.0
}

// DefaultBackoff starts at 100ms and caps at 5s with 20% jitter.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Base:   100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait before the given 0-based attempt.
func (b *Backoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		return b.Base
	}
	delay := float64(b.Base)
	for i := 0; i < attempt && delay < float64(b.Max); i++ {
		delay *= b.Factor
	}
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		delay += delay * (rand.Float64()*2 - 1) * b.Jitter
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// Wait sleeps for Next(attempt) or until ctx is done.
func (b *Backoff) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.Next(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
