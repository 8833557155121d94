package engine

import (
	"context"
	"math/rand/v2"
	"runtime"
	"time"
)

// Backoff decides how long to wait before the next attempt after a conflict.
type Backoff interface {
	// Delay returns the wait before attempt (2 for the first rerun).
	Delay(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay per attempt, from Min up to Max, with
// random jitter over the upper half.
type ExponentialBackoff struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBackoff returns ExponentialBackoff{Min: 100ns, Max: 10ms}.
func DefaultBackoff() Backoff {
	return ExponentialBackoff{Min: 100 * time.Nanosecond, Max: 10 * time.Millisecond}
}

// Delay implements Backoff.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if b.Min <= 0 || attempt < 2 {
		return 0
	}
	shift := attempt - 2
	if shift > 30 {
		shift = 30
	}
	d := b.Min << shift
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d-half)+1))
}

// NoBackoff reruns immediately.
type NoBackoff struct{}

// Delay implements Backoff.
func (NoBackoff) Delay(int) time.Duration { return 0 }

// sleep waits for d or until ctx is done. A zero delay only yields.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		runtime.Gosched()
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
