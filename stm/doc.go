// Package stm provides software transactional memory for Go.
//
// Shared state lives in transactional references. Code that reads and writes
// several references runs inside a transaction and either commits all of its
// writes at once or none of them. Conflicting transactions are detected and rerun
// automatically; nothing needs to be locked by hand.
//
// # Quick Start
//
//	s := stm.MustNew(stm.DefaultConfig())
//	defer s.Close()
//
//	from := stm.NewLongRef(s, 100)
//	to := stm.NewLongRef(s, 0)
//
//	err := s.Atomic(ctx, func(tx *stm.Txn) error {
//		if _, err := from.IncrementAndGet(tx, -10); err != nil {
//			return err
//		}
//		_, err := to.IncrementAndGet(tx, 10)
//		return err
//	})
//
// The function passed to Atomic may run more than once. It must return the
// errors of the transactional calls it makes unchanged, so that the executor can
// tell a conflict from a failure, and it must not have side effects outside the
// references.
//
// # API Overview
//
// The package provides:
//   - Instances and configuration: [New], [MustNew], [DefaultConfig], [Config], [TxnConfig]
//   - References: [NewLongRef], [NewIntRef], [NewDoubleRef], [NewBoolRef], [NewRef], [NewRefWithEqual]
//   - Transactions: [Stm.Atomic], [Stm.Begin], [Stm.NewTxnFactory], [TxnFactory.Execute]
//   - Blocking: [Txn.Retry], the Await helpers of every reference, [Txn.OrElse]
//   - Commit barriers: [NewCountDownBarrier], [NewVetoBarrier], [RunParties]
//   - Errors: [TxnError], [KindOf], [IsRetryable] and the Err* sentinels
//   - Version information: [GetInfo], [Version], [Compatible]
//
// # Isolation
//
// Transactions read a consistent snapshot. The default [Snapshot] level validates
// only written references at commit, so two transactions that each read one
// reference and write the other can both commit (write skew). [Serializable]
// validates every read reference as well. Pessimistic locks ([LockRead],
// [LockWrite], [LockExclusive]) can be taken per reference or configured for all
// reads and writes of a factory.
//
// # Commuting Updates
//
// Increment and Commute record a function instead of reading the reference. The
// function is applied at commit, so concurrent increments of a counter do not
// conflict with each other.
//
// # Performance Characteristics
//
// Factories are speculative by default: a transaction family starts on the
// cheapest variant (one reference, no optional features) and is upgraded the
// first time it needs more. The upgrade is remembered per [TxnConfig.FamilyName],
// so name the families of hot transactions. Transaction objects are pooled per
// worker and reused across attempts.
package stm
