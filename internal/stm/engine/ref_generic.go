package engine

// Ref is a transactional reference to a value of any type.
//
// The value is published as is: a Ref holding a pointer or a slice shares the
// pointee between transactions. Store immutable values, or copy before mutating.
type Ref[T any] struct {
	baseRef
}

func valueAs[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}

func equalFunc[T any](equal func(a, b T) bool) func(a, b any) bool {
	if equal == nil {
		return nil
	}
	return func(a, b any) bool {
		return equal(valueAs[T](a), valueAs[T](b))
	}
}

func liftRef[T any](fn func(T) T) function {
	return func(long int64, ref any) (int64, any) {
		return long, fn(valueAs[T](ref))
	}
}

// NewRef creates a committed reference holding v. Writes of an equal value are not
// published.
func NewRef[T comparable](s *Stm, v T) *Ref[T] {
	return NewRefWithEqual(s, v, func(a, b T) bool { return a == b })
}

// NewRefWithEqual creates a committed reference holding v that uses equal to skip
// publishing unchanged values. A nil equal publishes every write.
func NewRefWithEqual[T any](s *Stm, v T, equal func(a, b T) bool) *Ref[T] {
	r := &Ref[T]{}
	r.init(s, kindRef)
	r.equal = equalFunc(equal)
	r.ref.Store(&refBox{v: v})
	return r
}

// NewRefTx creates a reference inside tx. Other transactions see it only once tx
// commits.
func NewRefTx[T comparable](tx *Txn, v T) (*Ref[T], error) {
	if tx == nil {
		return nil, ErrIllegalArgument
	}
	if tx.status != Active {
		return nil, tx.checkActive("NewRef")
	}
	r := &Ref[T]{}
	r.initLocked(tx.stm, kindRef)
	r.equal = equalFunc(func(a, b T) bool { return a == b })
	if err := tx.openForConstruction(&r.baseRef, 0, v); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the value seen by tx.
func (r *Ref[T]) Get(tx *Txn) (T, error) {
	return r.GetAndLock(tx, LockNone)
}

// GetAndLock returns the value seen by tx and holds at least mode on the reference
// until tx ends.
func (r *Ref[T]) GetAndLock(tx *Txn, mode LockMode) (T, error) {
	tl, err := tx.openForRead(&r.baseRef, mode)
	if err != nil {
		var zero T
		return zero, err
	}
	return valueAs[T](tl.ref), nil
}

// Set stores v in tx.
func (r *Ref[T]) Set(tx *Txn, v T) error {
	return r.SetAndLock(tx, v, LockNone)
}

// SetAndLock stores v in tx and holds at least mode on the reference until tx ends.
func (r *Ref[T]) SetAndLock(tx *Txn, v T, mode LockMode) error {
	tl, err := tx.openForWrite(&r.baseRef, mode)
	if err != nil {
		return err
	}
	tl.ref = v
	return nil
}

// GetAndSet stores v in tx and returns the previous value.
func (r *Ref[T]) GetAndSet(tx *Txn, v T) (T, error) {
	tl, err := tx.openForWrite(&r.baseRef, LockNone)
	if err != nil {
		var zero T
		return zero, err
	}
	old := valueAs[T](tl.ref)
	tl.ref = v
	return old, nil
}

// Alter replaces the value with fn(value).
func (r *Ref[T]) Alter(tx *Txn, fn func(T) T) error {
	_, _, err := r.alter(tx, fn)
	return err
}

// AlterAndGet replaces the value with fn(value) and returns the new value.
func (r *Ref[T]) AlterAndGet(tx *Txn, fn func(T) T) (T, error) {
	_, v, err := r.alter(tx, fn)
	return v, err
}

// GetAndAlter replaces the value with fn(value) and returns the old value.
func (r *Ref[T]) GetAndAlter(tx *Txn, fn func(T) T) (T, error) {
	v, _, err := r.alter(tx, fn)
	return v, err
}

func (r *Ref[T]) alter(tx *Txn, fn func(T) T) (old, updated T, err error) {
	if fn == nil {
		tx.abort()
		return old, updated, tx.newError(IllegalArgument, "Alter")
	}
	tl, err := tx.openForWrite(&r.baseRef, LockNone)
	if err != nil {
		return old, updated, err
	}
	old = valueAs[T](tl.ref)
	updated = fn(old)
	tl.ref = updated
	return old, updated, nil
}

// Commute applies fn to the value at commit time without reading it now.
//
// fn must not access references.
func (r *Ref[T]) Commute(tx *Txn, fn func(T) T) error {
	if fn == nil {
		return tx.commute(&r.baseRef, nil)
	}
	return tx.commute(&r.baseRef, liftRef(fn))
}

// Ensure makes tx fail at commit if somebody else wrote the reference since tx read
// it.
func (r *Ref[T]) Ensure(tx *Txn) error {
	return tx.ensure(&r.baseRef)
}

// Await retries tx until pred holds for the value.
func (r *Ref[T]) Await(tx *Txn, pred func(T) bool) error {
	v, err := r.Get(tx)
	if err != nil {
		return err
	}
	if !pred(v) {
		return tx.Retry()
	}
	return nil
}

// Lock returns the lock handle of the reference.
func (r *Ref[T]) Lock() RefLock {
	return RefLock{ref: &r.baseRef}
}

// AtomicGet returns the committed value. While another transaction holds a write
// or exclusive lock it spins within the spin budget and then parks until the lock
// is released.
func (r *Ref[T]) AtomicGet() T {
	return valueAs[T](r.atomicLoadRef())
}

// AtomicWeakGet returns the committed value without waiting.
func (r *Ref[T]) AtomicWeakGet() T {
	if box := r.ref.Load(); box != nil {
		return valueAs[T](box.v)
	}
	var zero T
	return zero
}

// AtomicSet commits v. Like every atomic update it waits, spinning and then
// parked, while a transaction holds any lock on the reference.
func (r *Ref[T]) AtomicSet(v T) {
	r.AtomicGetAndSet(v)
}

// AtomicGetAndSet commits v and returns the value it replaced.
func (r *Ref[T]) AtomicGetAndSet(v T) T {
	_, old, _, _ := r.atomicUpdate(func(long int64, _ any) (int64, any) { return long, v })
	return valueAs[T](old)
}

// AtomicCompareAndSet commits update if the value equals expected. A reference
// created without an equality function never matches.
func (r *Ref[T]) AtomicCompareAndSet(expected, update T) bool {
	if r.equal == nil {
		return false
	}
	swapped := false
	r.atomicUpdate(func(long int64, ref any) (int64, any) {
		if !r.equal(ref, expected) {
			return long, ref
		}
		swapped = true
		return long, update
	})
	return swapped
}

// AtomicAlterAndGet commits fn(value) and returns it.
func (r *Ref[T]) AtomicAlterAndGet(fn func(T) T) T {
	_, _, _, v := r.atomicUpdate(liftRef(fn))
	return valueAs[T](v)
}

// AtomicGetAndAlter commits fn(value) and returns the value it replaced.
func (r *Ref[T]) AtomicGetAndAlter(fn func(T) T) T {
	_, v, _, _ := r.atomicUpdate(liftRef(fn))
	return valueAs[T](v)
}
