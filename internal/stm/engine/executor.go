package engine

import (
	"context"
	"errors"

	"github.com/kolkov/gostm/internal/stm/latch"
)

// Execute runs fn in a transaction and commits it, rerunning as needed:
//
//   - ErrSpeculativeConfiguration: rerun at once on the variant the family hints
//     now ask for. This does not count as an attempt. A forced Kind is only the
//     first variant tried: when it lacks a feature fn uses, the rerun is on
//     FatVariable.
//   - ErrRetry: block until a reference the transaction read is written (or the
//     timeout elapses), then rerun.
//   - ErrReadWriteConflict: back off and rerun.
//
// Conflicts and blocking retries are bounded by MaxRetries, after which
// ErrTooManyRetries is returned. Any other error from fn aborts the transaction
// and is returned unchanged. A panic in fn aborts the transaction and is
// re-raised.
func (f *TxnFactory) Execute(ctx context.Context, fn func(tx *Txn) error) error {
	if fn == nil {
		return &TxnError{Kind: IllegalArgument, Op: "Execute", Family: f.config.FamilyName}
	}

	s := f.stm
	pool := s.takePool()
	tx := f.newTxn(pool, f.startKind())
	defer func() {
		pool.putTxn(tx)
		s.putPool(pool)
	}()

	for {
		err := f.attempt(tx, fn)
		if err == nil {
			return nil
		}

		switch KindOf(err) {
		case SpeculativeConfiguration:
			next := f.hints.Kind(s.config.MaxFixedLength)
			if !f.speculative() || next == tx.kind {
				if tx.kind == FatVariable {
					return err
				}
				next = FatVariable
				f.log.Debug("forced kind upgraded", "from", tx.kind, "to", next, "reason", err)
			} else {
				f.log.Debug("speculative upgrade", "from", tx.kind, "to", next, "hints", f.hints)
			}
			s.stats.speculativeUpgrades.Add(1)
			tx = f.upgrade(pool, tx, next)
			continue

		case RetryRequested:
			if err := f.awaitRetry(ctx, tx); err != nil {
				return err
			}

		case ReadWriteConflict:
			s.stats.readWriteConflicts.Add(1)

		default:
			return err
		}

		tx.attempt++
		if tx.attempt > f.config.MaxRetries+1 {
			s.stats.tooManyRetries.Add(1)
			f.log.Warn("too many retries", "attempts", tx.attempt-1, "kind", tx.kind)
			return &TxnError{Kind: TooManyRetries, Op: "Execute", Family: f.config.FamilyName, Cause: err}
		}
		if KindOf(err) == ReadWriteConflict {
			if err := sleep(ctx, f.config.Backoff.Delay(tx.attempt)); err != nil {
				return err
			}
		}
		tx.begin()
	}
}

// attempt runs fn once and commits.
func (f *TxnFactory) attempt(tx *Txn, fn func(tx *Txn) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			tx.abort()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.abort()
		return err
	}
	return tx.Commit()
}

// upgrade replaces tx with a fresh transaction of kind that continues the same
// logical operation.
func (f *TxnFactory) upgrade(pool *Pool, tx *Txn, kind TxnKind) *Txn {
	attempt, remaining := tx.attempt, tx.remainingTimeout
	pool.putTxn(tx)

	next := f.newTxn(pool, kind)
	next.attempt = attempt
	next.remainingTimeout = remaining
	return next
}

// awaitRetry blocks until the retry latch of tx opens. The latch registrations are
// always removed afterwards.
func (f *TxnFactory) awaitRetry(ctx context.Context, tx *Txn) error {
	s := f.stm
	s.stats.blockingRetries.Add(1)

	waitCtx := ctx
	if !f.config.Interruptible {
		waitCtx = context.WithoutCancel(ctx)
	}

	f.log.Debug("blocking retry", "kind", tx.kind, "refs", len(tx.listenedRefs), "timeout", tx.remainingTimeout)
	left, err := tx.retryLatch.Await(waitCtx, tx.retryEra, tx.remainingTimeout)
	tx.unregisterListeners()
	if tx.remainingTimeout != NoTimeout {
		tx.remainingTimeout = left
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, latch.ErrTimeout):
		f.log.Warn("retry timed out", "kind", tx.kind, "timeout", f.config.Timeout)
		return &TxnError{Kind: RetryTimeout, Op: "Retry", Family: f.config.FamilyName, Cause: err}
	default:
		return &TxnError{Kind: RetryInterrupted, Op: "Retry", Family: f.config.FamilyName, Cause: err}
	}
}
