// Package engine implements the transactional memory: references, transactions,
// the executor loop and the per-worker object pool.
//
// # Model
//
// Every reference carries an ownership record (package orec) and a committed
// value. A transaction keeps a tranlocal per reference it touches: the value it
// read, the value it will write and the lock it holds. Reads are optimistic unless
// a lock is asked for; commit locks the written references exclusively, checks
// that nothing changed underneath and publishes by bumping the version.
//
// # Variants
//
// One Txn type covers all five variants. Storage decides capacity (one
// reference, a fixed array, or an unbounded array with a B-tree index); the lean
// flag removes commute, ensure, locks, listeners and OrElse. Speculative factories
// start at LeanMono and move up when a transaction needs more, remembering the
// shape per family name.
//
// # Blocking
//
// Retry registers the transaction's latch on every reference it read and returns
// ErrRetry; the executor waits on the latch and reruns once one of those
// references is written.
//
// Usage:
//
//	s, _ := engine.New(engine.DefaultStmConfig())
//	from, to := engine.NewLongRef(s, 100), engine.NewLongRef(s, 0)
//	err := s.Atomic(ctx, func(tx *engine.Txn) error {
//		if err := from.Await(tx, func(v int64) bool { return v >= 10 }); err != nil {
//			return err
//		}
//		if _, err := from.IncrementAndGet(tx, -10); err != nil {
//			return err
//		}
//		return to.Increment(tx, 10)
//	})
package engine
