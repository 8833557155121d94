package engine

import "github.com/kolkov/gostm/internal/stm/orec"

// LockMode is the pessimistic lock a transaction holds on a reference.
type LockMode = orec.LockMode

const (
	LockNone      = orec.LockNone
	LockRead      = orec.LockRead
	LockWrite     = orec.LockWrite
	LockExclusive = orec.LockExclusive
)

// RefLock exposes the pessimistic lock of one reference.
//
// Locks are only acquired through a transaction and released when it commits or
// aborts. They can be raised but never lowered.
type RefLock struct {
	ref *baseRef
}

// Acquire makes tx hold at least mode on the reference. The reference is read into
// tx if it was not already.
func (l RefLock) Acquire(tx *Txn, mode LockMode) error {
	_, err := tx.openForRead(l.ref, mode)
	return err
}

// AtomicLockMode returns the strongest lock currently held on the reference by any
// transaction.
func (l RefLock) AtomicLockMode() LockMode {
	return l.ref.orec.Load().LockMode()
}

// LockMode returns the lock tx holds on the reference.
func (l RefLock) LockMode(tx *Txn) (LockMode, error) {
	return tx.lockModeOf(l.ref)
}
