package orec

import "strconv"

// LockMode is the level of pessimistic lock a transaction holds on a reference.
//
// Modes are ordered: a stronger mode implies every weaker one, so the effective
// lock for a sequence of requests is simply the maximum.
type LockMode uint8

const (
	// LockNone means no lock: reads are optimistic and validated.
	LockNone LockMode = iota

	// LockRead is a shared lock. Other transactions may read-lock too but cannot
	// write-lock or exclusively lock the reference.
	LockRead

	// LockWrite prevents any other lock. Optimistic readers still see the last
	// committed value.
	LockWrite

	// LockExclusive prevents any other lock and any optimistic read.
	LockExclusive
)

// String returns the name of the lock mode.
func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "None"
	case LockRead:
		return "Read"
	case LockWrite:
		return "Write"
	case LockExclusive:
		return "Exclusive"
	default:
		return "LockMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Valid reports whether m is one of the four defined modes.
func (m LockMode) Valid() bool {
	return m <= LockExclusive
}

// MaxLockMode returns the stronger of two lock modes.
//
//go:nosplit
func MaxLockMode(a, b LockMode) LockMode {
	if a > b {
		return a
	}
	return b
}

// Bit layout of the orec word. See the package documentation for a picture.
const (
	// SurplusBits is the width of the surplus counter.
	SurplusBits = 30

	// ReadonlyBits is the width of the readonly streak counter.
	ReadonlyBits = 10

	// ReadLockBits is the width of the read lock counter.
	ReadLockBits = 21

	surplusShift  = 0
	readonlyShift = surplusShift + SurplusBits
	readLockShift = readonlyShift + ReadonlyBits

	surplusMask  = uint64(1<<SurplusBits-1) << surplusShift
	readonlyMask = uint64(1<<ReadonlyBits-1) << readonlyShift
	readLockMask = uint64(1<<ReadLockBits-1) << readLockShift

	writeLockBit     = uint64(1) << 61
	exclusiveLockBit = uint64(1) << 62
	readBiasedBit    = uint64(1) << 63

	// MaxSurplus is the largest surplus the word can hold.
	MaxSurplus = 1<<SurplusBits - 1

	// MaxReadLocks is the largest number of concurrent read locks.
	MaxReadLocks = 1<<ReadLockBits - 1

	// MaxReadBiasedThreshold is the largest usable readonly streak threshold.
	MaxReadBiasedThreshold = 1<<ReadonlyBits - 1
)

// Word is a snapshot of the packed orec state.
//
// Word values are immutable; the with* helpers return modified copies that are
// then installed with a compare-and-swap.
type Word uint64

// Surplus returns the number of registered arrivals.
//
//go:nosplit
func (w Word) Surplus() uint64 {
	return (uint64(w) & surplusMask) >> surplusShift
}

// ReadonlyCount returns the current streak of read-only departs.
//
//go:nosplit
func (w Word) ReadonlyCount() uint64 {
	return (uint64(w) & readonlyMask) >> readonlyShift
}

// ReadLockCount returns the number of read locks held.
//
//go:nosplit
func (w Word) ReadLockCount() uint64 {
	return (uint64(w) & readLockMask) >> readLockShift
}

// HasWriteLock reports whether a write lock is held.
//
//go:nosplit
func (w Word) HasWriteLock() bool {
	return uint64(w)&writeLockBit != 0
}

// HasExclusiveLock reports whether an exclusive lock is held.
//
//go:nosplit
func (w Word) HasExclusiveLock() bool {
	return uint64(w)&exclusiveLockBit != 0
}

// IsReadBiased reports whether the read-bias flag is set.
//
//go:nosplit
func (w Word) IsReadBiased() bool {
	return uint64(w)&readBiasedBit != 0
}

// LockMode returns the strongest lock currently held by anybody.
func (w Word) LockMode() LockMode {
	switch {
	case w.HasExclusiveLock():
		return LockExclusive
	case w.HasWriteLock():
		return LockWrite
	case w.ReadLockCount() > 0:
		return LockRead
	default:
		return LockNone
	}
}

// canLock reports whether a transaction holding no lock may acquire mode.
func (w Word) canLock(mode LockMode) bool {
	if w.HasExclusiveLock() || w.HasWriteLock() {
		return false
	}
	switch mode {
	case LockRead:
		return w.ReadLockCount() < MaxReadLocks
	case LockWrite, LockExclusive:
		return w.ReadLockCount() == 0
	default:
		return true
	}
}

func (w Word) withSurplus(surplus uint64) Word {
	if surplus > MaxSurplus {
		panic(&PanicError{Msg: "surplus overflow", Word: w})
	}
	return Word(uint64(w)&^surplusMask | surplus<<surplusShift)
}

func (w Word) withReadonlyCount(count uint64) Word {
	if count > MaxReadBiasedThreshold {
		count = MaxReadBiasedThreshold
	}
	return Word(uint64(w)&^readonlyMask | count<<readonlyShift)
}

func (w Word) withReadLockCount(count uint64) Word {
	return Word(uint64(w)&^readLockMask | count<<readLockShift)
}

func (w Word) withReadBiased(biased bool) Word {
	if biased {
		return Word(uint64(w) | readBiasedBit)
	}
	return Word(uint64(w) &^ readBiasedBit)
}

// withLock adds mode on top of w. The caller has checked canLock.
func (w Word) withLock(mode LockMode) Word {
	switch mode {
	case LockRead:
		return w.withReadLockCount(w.ReadLockCount() + 1)
	case LockWrite:
		return Word(uint64(w) | writeLockBit)
	case LockExclusive:
		return Word(uint64(w) | exclusiveLockBit)
	default:
		return w
	}
}

// withoutLock releases the single lock the caller holds.
func (w Word) withoutLock() Word {
	switch {
	case w.HasExclusiveLock():
		return Word(uint64(w) &^ exclusiveLockBit)
	case w.HasWriteLock():
		return Word(uint64(w) &^ writeLockBit)
	case w.ReadLockCount() > 0:
		return w.withReadLockCount(w.ReadLockCount() - 1)
	default:
		panic(&PanicError{Msg: "unlock without lock", Word: w})
	}
}

// String renders the word for debugging.
//
// Format: "surplus=2 readonly=5 readLocks=0 lock=Write biased=false".
func (w Word) String() string {
	return "surplus=" + strconv.FormatUint(w.Surplus(), 10) +
		" readonly=" + strconv.FormatUint(w.ReadonlyCount(), 10) +
		" readLocks=" + strconv.FormatUint(w.ReadLockCount(), 10) +
		" lock=" + w.LockMode().String() +
		" biased=" + strconv.FormatBool(w.IsReadBiased())
}

// PanicError reports a corrupted orec transition. It indicates a bug in the caller's
// arrive/depart bookkeeping and is always raised with panic.
type PanicError struct {
	Msg  string
	Word Word
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return "orec: " + e.Msg + " (" + e.Word.String() + ")"
}
