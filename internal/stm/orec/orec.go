package orec

import (
	"runtime"
	"sync/atomic"
)

// ArriveStatus is the outcome of an arrive or lock transition.
//
// It is a small bit set: ArriveFailure is the zero value, a successful transition
// always carries ArriveSuccess, optionally combined with ArriveUnregistered and
// ArriveConflict.
type ArriveStatus uint8

const (
	// ArriveFailure means the orec was locked incompatibly for longer than the spin budget.
	ArriveFailure ArriveStatus = 0

	// ArriveSuccess means the transition happened.
	ArriveSuccess ArriveStatus = 1 << 0

	// ArriveUnregistered means the orec was read biased: no surplus was taken and the
	// caller owes no depart.
	ArriveUnregistered ArriveStatus = 1 << 1

	// ArriveConflict means other readers may hold snapshots that the caller's pending
	// write will invalidate, so the global conflict counter must be signalled on commit.
	ArriveConflict ArriveStatus = 1 << 2
)

// Failed reports whether the transition did not happen.
//
//go:nosplit
func (s ArriveStatus) Failed() bool {
	return s&ArriveSuccess == 0
}

// Unregistered reports whether the arrival took no surplus.
//
//go:nosplit
func (s ArriveStatus) Unregistered() bool {
	return s&ArriveUnregistered != 0
}

// Conflict reports whether the conflict flag is set.
//
//go:nosplit
func (s ArriveStatus) Conflict() bool {
	return s&ArriveConflict != 0
}

// yieldEvery controls how often a spinning caller hands the processor back.
const yieldEvery = 16

// Orec is the ownership record of one transactional reference.
//
// The zero value is an unlocked orec at version 0 with read bias disabled; Init
// sets the read-bias threshold. An Orec must not be copied after first use.
type Orec struct {
	state     atomic.Uint64
	version   atomic.Int64
	threshold uint64
}

// Init prepares the orec. threshold is the number of consecutive read-only departs
// after which the orec becomes read biased; 0 disables read bias.
func (o *Orec) Init(threshold int) {
	o.threshold = clampThreshold(threshold)
}

// InitLocked prepares an orec for a reference that is being constructed inside a
// transaction: the constructing transaction is registered and holds the exclusive
// lock until it commits or aborts.
func (o *Orec) InitLocked(threshold int) {
	o.threshold = clampThreshold(threshold)
	o.state.Store(uint64(Word(0).withSurplus(1).withLock(LockExclusive)))
}

func clampThreshold(threshold int) uint64 {
	switch {
	case threshold <= 0:
		return 0
	case threshold > MaxReadBiasedThreshold:
		return MaxReadBiasedThreshold
	default:
		return uint64(threshold)
	}
}

// Load returns a snapshot of the packed state.
//
//go:nosplit
func (o *Orec) Load() Word {
	return Word(o.state.Load())
}

// Version returns the committed version.
//
//go:nosplit
func (o *Orec) Version() int64 {
	return o.version.Load()
}

// HasExclusiveLock reports whether somebody holds the exclusive lock right now.
//
//go:nosplit
func (o *Orec) HasExclusiveLock() bool {
	return o.Load().HasExclusiveLock()
}

// HasUpdateLock reports whether somebody holds a write or exclusive lock right now.
//
//go:nosplit
func (o *Orec) HasUpdateLock() bool {
	w := o.Load()
	return w.HasWriteLock() || w.HasExclusiveLock()
}

// Threshold returns the read-bias threshold (0 when disabled).
func (o *Orec) Threshold() int {
	return int(o.threshold)
}

// spin consumes one unit of the spin budget. It returns false once the budget is gone.
func spin(spinCount *int) bool {
	*spinCount--
	if *spinCount < 0 {
		return false
	}
	if *spinCount%yieldEvery == 0 {
		runtime.Gosched()
	}
	return true
}

// Arrive registers optimistic read interest.
//
// It spins while another transaction holds a write or exclusive lock and fails
// once spinCount is used up. On a read-biased orec the arrival is unregistered and
// the state is untouched.
func (o *Orec) Arrive(spinCount int) ArriveStatus {
	for {
		current := o.Load()
		if current.HasWriteLock() || current.HasExclusiveLock() {
			if !spin(&spinCount) {
				return ArriveFailure
			}
			continue
		}

		if current.IsReadBiased() {
			return ArriveSuccess | ArriveUnregistered
		}

		next := current.withSurplus(current.Surplus() + 1)
		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			return ArriveSuccess
		}
	}
}

// ArriveAndLock arrives and acquires mode in a single transition.
//
// With LockNone it behaves exactly like Arrive. For Write and Exclusive the conflict
// flag is reported when other readers are present or the orec is read biased.
func (o *Orec) ArriveAndLock(spinCount int, mode LockMode) ArriveStatus {
	if mode == LockNone {
		return o.Arrive(spinCount)
	}

	for {
		current := o.Load()
		if !current.canLock(mode) {
			if !spin(&spinCount) {
				return ArriveFailure
			}
			continue
		}

		unregistered := current.IsReadBiased()
		next := current
		if !unregistered {
			next = next.withSurplus(current.Surplus() + 1)
		}
		next = next.withLock(mode)

		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			status := ArriveSuccess
			if unregistered {
				status |= ArriveUnregistered
			}
			if mode >= LockWrite && (unregistered || current.Surplus() > 0) {
				status |= ArriveConflict
			}
			return status
		}
	}
}

// LockAfterArrive acquires mode for a caller that has already arrived and holds
// no lock.
func (o *Orec) LockAfterArrive(spinCount int, mode LockMode) ArriveStatus {
	if mode == LockNone {
		return ArriveSuccess
	}

	for {
		current := o.Load()
		if !current.canLock(mode) {
			if !spin(&spinCount) {
				return ArriveFailure
			}
			continue
		}

		next := current.withLock(mode)
		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			status := ArriveSuccess
			if mode >= LockWrite && (current.IsReadBiased() || current.Surplus() > 1) {
				status |= ArriveConflict
			}
			return status
		}
	}
}

// UpgradeReadLock turns the caller's read lock into a write lock, or an exclusive
// lock when exclusive is true. It waits for the other read locks to drain and fails
// once spinCount is used up.
func (o *Orec) UpgradeReadLock(spinCount int, exclusive bool) ArriveStatus {
	for {
		current := o.Load()
		if current.ReadLockCount() == 0 {
			panic(&PanicError{Msg: "read lock upgrade without read lock", Word: current})
		}
		if current.ReadLockCount() > 1 {
			if !spin(&spinCount) {
				return ArriveFailure
			}
			continue
		}

		next := current.withReadLockCount(0)
		if exclusive {
			next = next.withLock(LockExclusive)
		} else {
			next = next.withLock(LockWrite)
		}

		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			status := ArriveSuccess
			if current.IsReadBiased() || current.Surplus() > 1 {
				status |= ArriveConflict
			}
			return status
		}
	}
}

// UpgradeWriteLock turns the caller's write lock into an exclusive lock. It cannot
// fail: the write lock already keeps every other lock out.
func (o *Orec) UpgradeWriteLock() ArriveStatus {
	for {
		current := o.Load()
		if !current.HasWriteLock() {
			panic(&PanicError{Msg: "write lock upgrade without write lock", Word: current})
		}

		next := Word(uint64(current)&^writeLockBit | exclusiveLockBit)
		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			status := ArriveSuccess
			if current.IsReadBiased() || current.Surplus() > 1 {
				status |= ArriveConflict
			}
			return status
		}
	}
}

// DepartAfterReading ends a registered read-only arrival that holds no lock.
func (o *Orec) DepartAfterReading() {
	o.departReadonly(false)
}

// DepartAfterReadingAndUnlock ends a registered read-only arrival and releases the
// caller's lock.
func (o *Orec) DepartAfterReadingAndUnlock() {
	o.departReadonly(true)
}

func (o *Orec) departReadonly(unlock bool) {
	for {
		current := o.Load()
		surplus := current.Surplus()
		if surplus == 0 {
			panic(&PanicError{Msg: "depart without surplus", Word: current})
		}

		next := current.withSurplus(surplus - 1)
		if unlock {
			next = next.withoutLock()
		}
		if !next.IsReadBiased() {
			streak := next.ReadonlyCount() + 1
			if o.threshold > 0 && streak >= o.threshold && next.Surplus() == 0 && next.LockMode() == LockNone {
				next = next.withReadBiased(true).withReadonlyCount(0)
			} else {
				next = next.withReadonlyCount(streak)
			}
		}

		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			return
		}
	}
}

// DepartAfterFailure ends a registered arrival that holds no lock without counting
// it as a read.
func (o *Orec) DepartAfterFailure() {
	for {
		current := o.Load()
		surplus := current.Surplus()
		if surplus == 0 {
			panic(&PanicError{Msg: "depart without surplus", Word: current})
		}
		next := current.withSurplus(surplus - 1)
		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			return
		}
	}
}

// DepartAfterFailureAndUnlock ends a registered arrival and releases the caller's
// lock without publishing anything.
func (o *Orec) DepartAfterFailureAndUnlock() {
	for {
		current := o.Load()
		surplus := current.Surplus()
		if surplus == 0 {
			panic(&PanicError{Msg: "depart without surplus", Word: current})
		}
		next := current.withSurplus(surplus - 1).withoutLock()
		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			return
		}
	}
}

// DepartAfterUpdateAndUnlock publishes a write. The caller holds the exclusive lock
// and has already stored the new value. The version is bumped before the lock is
// released, the readonly streak is reset and read bias is cleared.
//
// It reports whether other readers were present (or the orec was read biased), in
// which case their snapshots are now stale.
func (o *Orec) DepartAfterUpdateAndUnlock() bool {
	o.version.Add(1)

	for {
		current := o.Load()
		if !current.HasExclusiveLock() {
			panic(&PanicError{Msg: "update without exclusive lock", Word: current})
		}

		biased := current.IsReadBiased()
		surplus := current.Surplus()
		if !biased {
			if surplus == 0 {
				panic(&PanicError{Msg: "depart without surplus", Word: current})
			}
			surplus--
		}

		next := current.withSurplus(surplus).
			withoutLock().
			withReadBiased(false).
			withReadonlyCount(0)

		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			return biased || surplus > 0
		}
	}
}

// UnlockByUnregistered releases a lock that was taken by an unregistered arrival.
func (o *Orec) UnlockByUnregistered() {
	for {
		current := o.Load()
		next := current.withoutLock()
		if o.state.CompareAndSwap(uint64(current), uint64(next)) {
			return
		}
	}
}
