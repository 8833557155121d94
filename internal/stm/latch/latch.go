// Package latch implements the era-counted gate behind blocking transaction retry.
//
// A transaction that retries registers its Latch, together with the era it observed,
// on every reference it has read. A committing writer later opens the latch with the
// registered era. Reset starts a new era, so registrations left over from earlier
// retries can no longer wake the owner.
package latch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Await when the timeout elapses before the latch opens.
var ErrTimeout = errors.New("latch: await timed out")

// Latch is a reusable one-shot gate. Opening is idempotent within an era.
//
// Thread Safety: Open may be called from any goroutine. Await and Reset are meant
// for the owning goroutine.
type Latch struct {
	mu   sync.Mutex
	era  int64
	open bool
	ch   chan struct{}
}

// New creates a closed latch at era 0.
func New() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Era returns the current era.
func (l *Latch) Era() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.era
}

// IsOpen reports whether the latch is open in the current era.
func (l *Latch) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Open opens the latch if era is still the current era. Opens for older eras are
// ignored.
func (l *Latch) Open(era int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.era != era || l.open {
		return
	}
	l.open = true
	close(l.ch)
}

// Reset closes the latch and moves it to the next era.
func (l *Latch) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		l.ch = make(chan struct{})
		l.open = false
	}
	l.era++
}

// Await blocks until the latch is opened for era, the era has moved on, the timeout
// elapses or ctx is done.
//
// A negative timeout waits without limit. The returned duration is the part of the
// timeout that is left (the input unchanged when there is no limit).
//
// Errors: ErrTimeout, or ctx.Err() when ctx is done first.
func (l *Latch) Await(ctx context.Context, era int64, timeout time.Duration) (time.Duration, error) {
	l.mu.Lock()
	if l.era != era || l.open {
		l.mu.Unlock()
		return timeout, nil
	}
	ch := l.ch
	l.mu.Unlock()

	if timeout < 0 {
		select {
		case <-ch:
			return timeout, nil
		case <-ctx.Done():
			return timeout, ctx.Err()
		}
	}
	if timeout == 0 {
		return 0, ErrTimeout
	}

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return remaining(start, timeout), nil
	case <-timer.C:
		return 0, ErrTimeout
	case <-ctx.Done():
		return remaining(start, timeout), ctx.Err()
	}
}

func remaining(start time.Time, timeout time.Duration) time.Duration {
	left := timeout - time.Since(start)
	if left < 0 {
		return 0
	}
	return left
}
