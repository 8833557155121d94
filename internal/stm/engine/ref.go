package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kolkov/gostm/internal/stm/latch"
	"github.com/kolkov/gostm/internal/stm/orec"
)

// refKind is the value representation of a reference.
type refKind uint8

const (
	kindRef refKind = iota
	kindLong
	kindInt
	kindDouble
	kindBool
)

// refBox holds the committed value of a generic reference.
type refBox struct {
	v any
}

// registration is the outcome of registerChangeListener.
type registration uint8

const (
	registrationDone registration = iota
	registrationNotNeeded
	registrationNone
)

// baseRef is the shared core of every transactional reference: the orec, the
// committed value and the list of latches waiting for the next write.
//
// Layout:
//   - orec: ownership record (lock word + version)
//   - long / ref: committed value (numeric kinds use long, generic uses ref)
//   - listeners: retry latches, guarded by listenersMu for writers of the list;
//     the atomic head gives publishers a lock-free empty check
//   - lockWaiters: latches of atomic operations parked on a lock, opened whenever
//     a lock on the reference is released; same guard as listeners
type baseRef struct {
	orec orec.Orec

	long atomic.Int64
	ref  atomic.Pointer[refBox]

	listenersMu sync.Mutex
	listeners   atomic.Pointer[latch.Listeners]
	lockWaiters atomic.Pointer[latch.Listeners]

	stm      *Stm
	identity uint64
	kind     refKind
	equal    func(a, b any) bool
}

func (r *baseRef) init(s *Stm, kind refKind) {
	r.stm = s
	r.kind = kind
	r.identity = s.nextIdentity()
	r.orec.Init(s.config.ReadBiasedThreshold)
}

func (r *baseRef) initLocked(s *Stm, kind refKind) {
	r.stm = s
	r.kind = kind
	r.identity = s.nextIdentity()
	r.orec.InitLocked(s.config.ReadBiasedThreshold)
}

// Version returns the committed version of the reference.
func (r *baseRef) Version() int64 {
	return r.orec.Version()
}

// snapshot copies the committed value into tl.
func (r *baseRef) snapshot(tl *tranlocal) {
	if r.kind == kindRef {
		var v any
		if box := r.ref.Load(); box != nil {
			v = box.v
		}
		tl.ref, tl.oldRef = v, v
		return
	}
	v := r.long.Load()
	tl.long, tl.oldLong = v, v
}

// store makes a new value visible. The caller holds the exclusive lock.
func (r *baseRef) store(long int64, ref any) {
	if r.kind == kindRef {
		r.ref.Store(&refBox{v: ref})
		return
	}
	r.long.Store(long)
}

// load arrives on the orec with mode and reads the committed value into tl.
//
// Without a lock the read is optimistic: the version is read before and after the
// value and the read is repeated, within the spin budget, until no write or
// exclusive lock was visible and the version did not move. With a lock the value
// cannot change.
//
// On failure nothing is held.
func (r *baseRef) load(tl *tranlocal, spinCount int, mode orec.LockMode) orec.ArriveStatus {
	if mode != orec.LockNone {
		status := r.orec.ArriveAndLock(spinCount, mode)
		if status.Failed() {
			return status
		}
		tl.version = r.orec.Version()
		r.snapshot(tl)
		tl.lockMode = mode
		tl.hasDepartObligation = !status.Unregistered()
		tl.conflict = status.Conflict() && mode >= orec.LockWrite
		return status
	}

	for {
		status := r.orec.Arrive(spinCount)
		if status.Failed() {
			return status
		}

		version := r.orec.Version()
		r.snapshot(tl)
		if !r.orec.HasUpdateLock() && r.orec.Version() == version {
			tl.version = version
			tl.lockMode = orec.LockNone
			tl.hasDepartObligation = !status.Unregistered()
			return status
		}

		if !status.Unregistered() {
			r.orec.DepartAfterFailure()
		}
		spinCount--
		if spinCount < 0 {
			return orec.ArriveFailure
		}
	}
}

// upgradeLock raises the lock held through tl to mode. The caller checks the
// version afterwards when tl was read without a lock.
func (r *baseRef) upgradeLock(tl *tranlocal, spinCount int, mode orec.LockMode) orec.ArriveStatus {
	if mode <= tl.lockMode {
		return orec.ArriveSuccess
	}

	var status orec.ArriveStatus
	switch tl.lockMode {
	case orec.LockNone:
		status = r.orec.LockAfterArrive(spinCount, mode)
	case orec.LockRead:
		status = r.orec.UpgradeReadLock(spinCount, mode == orec.LockExclusive)
	default:
		status = r.orec.UpgradeWriteLock()
	}
	if status.Failed() {
		return status
	}

	tl.lockMode = mode
	if status.Conflict() {
		tl.conflict = true
	}
	return status
}

// hasReadConflict reports whether the snapshot in tl may be stale: the version
// moved or another transaction holds a write or exclusive lock and is about to move
// it. References locked by the transaction itself cannot change and are never in
// conflict.
func (r *baseRef) hasReadConflict(tl *tranlocal) bool {
	if tl.lockMode != orec.LockNone || tl.mode == modeCommuting {
		return false
	}
	return r.orec.HasUpdateLock() || r.orec.Version() != tl.version
}

// releaseAfterReading ends the transaction's interest after a commit that did not
// change the value.
func (r *baseRef) releaseAfterReading(tl *tranlocal) {
	switch {
	case tl.lockMode != orec.LockNone && tl.hasDepartObligation:
		r.orec.DepartAfterReadingAndUnlock()
		r.notifyUnlocked()
	case tl.lockMode != orec.LockNone:
		r.orec.UnlockByUnregistered()
		r.notifyUnlocked()
	case tl.hasDepartObligation:
		r.orec.DepartAfterReading()
	}
}

// releaseAfterFailure ends the transaction's interest without publishing.
func (r *baseRef) releaseAfterFailure(tl *tranlocal) {
	switch {
	case tl.lockMode != orec.LockNone && tl.hasDepartObligation:
		r.orec.DepartAfterFailureAndUnlock()
		r.notifyUnlocked()
	case tl.lockMode != orec.LockNone:
		r.orec.UnlockByUnregistered()
		r.notifyUnlocked()
	case tl.hasDepartObligation:
		r.orec.DepartAfterFailure()
	}
}

// publish makes the value in tl the committed value, bumps the version, releases
// the exclusive lock and wakes the registered latches. The caller holds the
// exclusive lock.
func (r *baseRef) publish(tl *tranlocal, pool *Pool) {
	r.store(tl.long, tl.ref)
	r.orec.DepartAfterUpdateAndUnlock()
	r.notifyUnlocked()
	r.notifyListeners(pool)
}

// notifyListeners opens every latch registered on the reference.
func (r *baseRef) notifyListeners(pool *Pool) {
	if r.listeners.Load() == nil {
		return
	}
	r.listenersMu.Lock()
	head := r.listeners.Swap(nil)
	r.listenersMu.Unlock()
	if head == nil {
		return
	}
	if pool == nil {
		head.OpenAll(nil)
		return
	}
	head.OpenAll(pool)
}

// registerChangeListener attaches l to the reference so that the next write opens
// it with era.
//
// The version is checked after the node is visible: a writer that bumped the
// version earlier may already have drained the list, in which case the change has
// happened and waiting is pointless.
func (r *baseRef) registerChangeListener(l *latch.Latch, tl *tranlocal, pool *Pool, era int64) registration {
	if tl.mode == modeConstructing || tl.mode == modeCommuting {
		return registrationNone
	}

	node := pool.takeListeners()
	if node == nil {
		node = &latch.Listeners{}
	}
	node.Latch = l
	node.Era = era

	r.listenersMu.Lock()
	node.Next = r.listeners.Load()
	r.listeners.Store(node)
	r.listenersMu.Unlock()

	if r.orec.Version() != tl.version {
		return registrationNotNeeded
	}
	return registrationDone
}

// unregisterChangeListener removes every node of l from the reference.
func (r *baseRef) unregisterChangeListener(l *latch.Latch, pool *Pool) {
	if r.listeners.Load() == nil {
		return
	}

	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	var prev *latch.Listeners
	for node := r.listeners.Load(); node != nil; {
		next := node.Next
		if node.Latch != l {
			prev = node
			node = next
			continue
		}
		if prev == nil {
			r.listeners.Store(next)
		} else {
			prev.Next = next
		}
		pool.PutListeners(node)
		node = next
	}
}

// listenerCount returns the number of registered latches.
func (r *baseRef) listenerCount() int {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	return r.listeners.Load().Len()
}

// spinYield hands the processor back while spinning on a busy orec.
func spinYield() {
	runtime.Gosched()
}

// readBlocked reports whether w keeps a plain read out.
func readBlocked(w orec.Word) bool {
	return w.HasWriteLock() || w.HasExclusiveLock()
}

// updateBlocked reports whether w keeps the exclusive lock of an atomic update out.
func updateBlocked(w orec.Word) bool {
	return w.LockMode() != orec.LockNone
}

// awaitUnlock parks the caller until a lock on the reference is released. The
// waiter is visible before blocked is checked again, so a release that happens in
// between still opens the latch.
func (r *baseRef) awaitUnlock(blocked func(orec.Word) bool) {
	l := latch.New()
	node := &latch.Listeners{Latch: l, Era: l.Era()}

	r.listenersMu.Lock()
	node.Next = r.lockWaiters.Load()
	r.lockWaiters.Store(node)
	r.listenersMu.Unlock()

	if blocked(r.orec.Load()) {
		_, _ = l.Await(context.Background(), node.Era, -1)
		return
	}

	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	var prev *latch.Listeners
	for n := r.lockWaiters.Load(); n != nil; prev, n = n, n.Next {
		if n != node {
			continue
		}
		if prev == nil {
			r.lockWaiters.Store(n.Next)
		} else {
			prev.Next = n.Next
		}
		return
	}
}

// notifyUnlocked opens the latches of parked atomic operations. Callers have just
// released a lock.
func (r *baseRef) notifyUnlocked() {
	if r.lockWaiters.Load() == nil {
		return
	}
	r.listenersMu.Lock()
	head := r.lockWaiters.Swap(nil)
	r.listenersMu.Unlock()
	if head != nil {
		head.OpenAll(nil)
	}
}

// lockWaiterCount returns the number of parked atomic operations.
func (r *baseRef) lockWaiterCount() int {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	return r.lockWaiters.Load().Len()
}

// awaitLockable spins, within the spin budget of the Stm, while blocked holds for
// the orec and then parks until a lock is released. It returns once blocked did
// not hold.
//
// An atomic operation on a reference locked by a transaction of the calling
// goroutine therefore waits for good, just like locking a held sync.Mutex.
func (r *baseRef) awaitLockable(blocked func(orec.Word) bool) {
	spin := r.stm.config.SpinCount
	for blocked(r.orec.Load()) {
		if spin > 0 {
			spin--
			spinYield()
			continue
		}
		r.awaitUnlock(blocked)
	}
}

// atomicLoadLong returns the committed numeric value with optimistic validation.
func (r *baseRef) atomicLoadLong() int64 {
	for {
		r.awaitLockable(readBlocked)
		version := r.orec.Version()
		v := r.long.Load()
		if !r.orec.HasUpdateLock() && r.orec.Version() == version {
			return v
		}
	}
}

// atomicLoadRef returns the committed generic value with optimistic validation.
func (r *baseRef) atomicLoadRef() any {
	for {
		r.awaitLockable(readBlocked)
		version := r.orec.Version()
		box := r.ref.Load()
		if !r.orec.HasUpdateLock() && r.orec.Version() == version {
			if box == nil {
				return nil
			}
			return box.v
		}
	}
}

// atomicUpdate runs a one-reference transaction inline: it takes the exclusive
// lock, applies fn to the committed value and publishes the result when it
// differs. It returns the old and new values.
//
// While another transaction holds any lock on the reference it spins within the
// spin budget and then parks until that lock is released.
func (r *baseRef) atomicUpdate(fn function) (oldLong int64, oldRef any, newLong int64, newRef any) {
	s := r.stm
	var status orec.ArriveStatus
	for {
		status = r.orec.ArriveAndLock(s.config.SpinCount, orec.LockExclusive)
		if !status.Failed() {
			break
		}
		r.awaitUnlock(updateBlocked)
	}

	var tl tranlocal
	r.snapshot(&tl)
	oldLong, oldRef = tl.long, tl.ref
	newLong, newRef = fn(tl.long, tl.ref)
	tl.long, tl.ref = newLong, newRef
	tl.mode = modeWrite
	tl.owner = r

	if !tl.calculateDirty(true) {
		if status.Unregistered() {
			r.orec.UnlockByUnregistered()
		} else {
			r.orec.DepartAfterFailureAndUnlock()
		}
		r.notifyUnlocked()
		return oldLong, oldRef, newLong, newRef
	}

	if status.Conflict() {
		s.signalConflict()
	}
	r.store(newLong, newRef)
	r.orec.DepartAfterUpdateAndUnlock()
	r.notifyUnlocked()
	r.notifyListeners(nil)
	s.stats.atomicUpdates.Add(1)
	return oldLong, oldRef, newLong, newRef
}
