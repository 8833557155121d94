// Package orec implements the ownership record that guards every transactional reference.
//
// An Orec packs the concurrency-control state of one reference into a single 64-bit word
// that is only ever changed through compare-and-swap loops. Transactions never touch the
// bits directly; they go through the arrive/lock/depart transitions exported here.
//
// # Layout
//
//	bit  63     read biased
//	bit  62     exclusive lock
//	bit  61     write lock
//	bits 40-60  read lock count   (21 bits)
//	bits 30-39  readonly streak   (10 bits)
//	bits  0-29  surplus           (30 bits)
//
// The committed version lives next to the word in its own atomic so that optimistic
// readers can validate a value read with two version loads around it.
//
// # Protocol
//
// A transaction that wants to read a reference first arrives. Arrival increments the
// surplus unless the orec is read biased, in which case the reader is "unregistered" and
// owes no depart. Locks are taken on top of an arrival (LockAfterArrive) or together with
// it (ArriveAndLock). Every arrival is balanced by exactly one depart variant:
//
//	DepartAfterReading           read-only, no lock held
//	DepartAfterReadingAndUnlock  read-only, lock held
//	DepartAfterFailure           abort, no lock held
//	DepartAfterFailureAndUnlock  abort, lock held
//	DepartAfterUpdateAndUnlock   successful write, exclusive lock held (bumps the version)
//	UnlockByUnregistered         any lock taken by an unregistered arrival
//
// # Lock compatibility
//
// A Read lock admits other Read locks and optimistic (lock-free) readers. Write and
// Exclusive admit nothing: a plain Arrive spins against them and fails once its budget
// is gone. They differ for the holder only: Write can still be upgraded to Exclusive
// without waiting, and Exclusive is what a commit publishes under.
//
// # Read bias
//
// After a configurable number of consecutive read-only departs the orec flips to read
// biased. From then on arrivals are free (no surplus), and writers must assume there are
// unknown readers, so every write reports a conflict. The first successful update clears
// the flag.
package orec
