package engine

import "github.com/kolkov/gostm/internal/stm/orec"

// tranlocalMode is what a transaction does with a reference.
type tranlocalMode uint8

const (
	modeRead tranlocalMode = iota
	modeWrite
	modeCommuting
	modeConstructing
)

// String returns the name of the mode.
func (m tranlocalMode) String() string {
	switch m {
	case modeRead:
		return "Read"
	case modeWrite:
		return "Write"
	case modeCommuting:
		return "Commuting"
	case modeConstructing:
		return "Constructing"
	default:
		return "Unknown"
	}
}

// function transforms a reference value. Numeric references use long, generic
// references use ref; the unused half is ignored.
type function func(long int64, ref any) (int64, any)

// callable is a node of the commuting function list.
type callable struct {
	fn   function
	next *callable
}

// tranlocal is the snapshot of one reference inside one transaction.
//
// The transaction owns the tranlocal exclusively: no field is ever touched by
// another goroutine. A tranlocal is created on the first open of a reference,
// escalated in place by later opens and recycled through the Pool on release.
type tranlocal struct {
	owner *baseRef
	mode  tranlocalMode

	// Numeric references use long; generic references use ref.
	long    int64
	oldLong int64
	ref     any
	oldRef  any

	// version is the committed version the snapshot was read at.
	version int64

	// lockMode is the lock this transaction holds on owner.
	lockMode orec.LockMode

	// hasDepartObligation is set when the arrival was registered and must be
	// undone on release.
	hasDepartObligation bool

	// conflict is set when a lock acquisition saw other readers.
	conflict bool

	// ensured asks prepare to write-lock and validate the reference.
	ensured bool

	// dirty is computed by prepare.
	dirty bool

	// headCallable is the most recently added commuting function.
	headCallable *callable
}

// addCommutingFunction pushes fn on top of the commuting list.
func (tl *tranlocal) addCommutingFunction(pool *Pool, fn function) {
	c := pool.takeCallable()
	if c == nil {
		c = &callable{}
	}
	c.fn = fn
	c.next = tl.headCallable
	tl.headCallable = c
}

// evaluateCommutingFunctions applies the pending functions to the current value,
// most recent first, and returns the nodes to pool.
func (tl *tranlocal) evaluateCommutingFunctions(pool *Pool) {
	c := tl.headCallable
	tl.headCallable = nil
	for c != nil {
		tl.long, tl.ref = c.fn(tl.long, tl.ref)
		next := c.next
		pool.putCallable(c)
		c = next
	}
}

// calculateDirty decides whether the write changes the committed value.
func (tl *tranlocal) calculateDirty(dirtyCheck bool) bool {
	switch {
	case tl.mode == modeRead:
		tl.dirty = false
	case tl.mode == modeConstructing || !dirtyCheck:
		tl.dirty = true
	case tl.owner.kind == kindRef:
		tl.dirty = tl.owner.equal == nil || !tl.owner.equal(tl.oldRef, tl.ref)
	default:
		tl.dirty = tl.long != tl.oldLong
	}
	return tl.dirty
}

// reset clears every field so that the tranlocal retains no application value.
func (tl *tranlocal) reset() {
	*tl = tranlocal{}
}
