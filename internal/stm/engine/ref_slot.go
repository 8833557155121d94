package engine

import "math"

// slot is a value type that fits in the 64-bit committed word of a reference.
type slot interface {
	int64 | int32 | float64 | bool
}

// number is a slot type with arithmetic.
type number interface {
	int64 | int32 | float64
}

func encode[T slot](v T) int64 {
	switch x := any(v).(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case float64:
		return int64(math.Float64bits(x))
	case bool:
		if x {
			return 1
		}
		return 0
	}
	panic("unreachable")
}

func decode[T slot](long int64) T {
	var zero T
	switch any(zero).(type) {
	case int64:
		return any(long).(T)
	case int32:
		return any(int32(long)).(T)
	case float64:
		return any(math.Float64frombits(uint64(long))).(T)
	case bool:
		return any(long != 0).(T)
	}
	panic("unreachable")
}

func slotKind[T slot]() refKind {
	var zero T
	switch any(zero).(type) {
	case int64:
		return kindLong
	case int32:
		return kindInt
	case float64:
		return kindDouble
	default:
		return kindBool
	}
}

// lift turns a typed function into a function over the committed word.
func lift[T slot](fn func(T) T) function {
	return func(long int64, ref any) (int64, any) {
		return encode(fn(decode[T](long))), ref
	}
}

// slotRef is the shared implementation of the references whose value is stored in
// the 64-bit committed word.
type slotRef[T slot] struct {
	baseRef
}

func (r *slotRef[T]) initCommitted(s *Stm, v T) {
	r.init(s, slotKind[T]())
	r.long.Store(encode(v))
}

// construct creates the reference inside tx. It stays exclusively locked, and so
// invisible, until tx commits.
func (r *slotRef[T]) construct(tx *Txn, v T) error {
	if tx == nil {
		return ErrIllegalArgument
	}
	if tx.status != Active {
		return tx.checkActive("NewRef")
	}
	r.initLocked(tx.stm, slotKind[T]())
	return tx.openForConstruction(&r.baseRef, encode(v), nil)
}

// Get returns the value seen by tx.
func (r *slotRef[T]) Get(tx *Txn) (T, error) {
	return r.GetAndLock(tx, LockNone)
}

// GetAndLock returns the value seen by tx and holds at least mode on the reference
// until tx ends.
func (r *slotRef[T]) GetAndLock(tx *Txn, mode LockMode) (T, error) {
	tl, err := tx.openForRead(&r.baseRef, mode)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](tl.long), nil
}

// Set stores v in tx.
func (r *slotRef[T]) Set(tx *Txn, v T) error {
	return r.SetAndLock(tx, v, LockNone)
}

// SetAndLock stores v in tx and holds at least mode on the reference until tx ends.
func (r *slotRef[T]) SetAndLock(tx *Txn, v T, mode LockMode) error {
	tl, err := tx.openForWrite(&r.baseRef, mode)
	if err != nil {
		return err
	}
	tl.long = encode(v)
	return nil
}

// GetAndSet stores v in tx and returns the previous value.
func (r *slotRef[T]) GetAndSet(tx *Txn, v T) (T, error) {
	tl, err := tx.openForWrite(&r.baseRef, LockNone)
	if err != nil {
		var zero T
		return zero, err
	}
	old := decode[T](tl.long)
	tl.long = encode(v)
	return old, nil
}

// Alter replaces the value with fn(value).
func (r *slotRef[T]) Alter(tx *Txn, fn func(T) T) error {
	_, err := r.AlterAndGet(tx, fn)
	return err
}

// AlterAndGet replaces the value with fn(value) and returns the new value.
func (r *slotRef[T]) AlterAndGet(tx *Txn, fn func(T) T) (T, error) {
	_, v, err := r.alter(tx, fn)
	return v, err
}

// GetAndAlter replaces the value with fn(value) and returns the old value.
func (r *slotRef[T]) GetAndAlter(tx *Txn, fn func(T) T) (T, error) {
	v, _, err := r.alter(tx, fn)
	return v, err
}

func (r *slotRef[T]) alter(tx *Txn, fn func(T) T) (old, updated T, err error) {
	if fn == nil {
		tx.abort()
		return old, updated, tx.newError(IllegalArgument, "Alter")
	}
	tl, err := tx.openForWrite(&r.baseRef, LockNone)
	if err != nil {
		return old, updated, err
	}
	old = decode[T](tl.long)
	updated = fn(old)
	tl.long = encode(updated)
	return old, updated, nil
}

// Commute applies fn to the value at commit time without reading it now. Concurrent
// commuting transactions on the same reference do not conflict with each other.
//
// fn must not access references.
func (r *slotRef[T]) Commute(tx *Txn, fn func(T) T) error {
	if fn == nil {
		return tx.commute(&r.baseRef, nil)
	}
	return tx.commute(&r.baseRef, lift(fn))
}

// Ensure makes tx fail at commit if somebody else wrote the reference since tx read
// it, even when tx does not write it.
func (r *slotRef[T]) Ensure(tx *Txn) error {
	return tx.ensure(&r.baseRef)
}

// Await retries tx until pred holds for the value.
func (r *slotRef[T]) Await(tx *Txn, pred func(T) bool) error {
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
func (r *slotRef[T]) Lock() RefLock {
	return RefLock{ref: &r.baseRef}
}

// AtomicGet returns the committed value. While another transaction holds a write
// or exclusive lock it spins within the spin budget and then parks until the lock
// is released.
func (r *slotRef[T]) AtomicGet() T {
	return decode[T](r.atomicLoadLong())
}

// AtomicWeakGet returns the committed value without waiting. It may observe a
// value that a commit in progress is about to replace.
func (r *slotRef[T]) AtomicWeakGet() T {
	return decode[T](r.long.Load())
}

// AtomicSet commits v. Like every atomic update it waits, spinning and then
// parked, while a transaction holds any lock on the reference.
func (r *slotRef[T]) AtomicSet(v T) {
	r.AtomicGetAndSet(v)
}

// AtomicGetAndSet commits v and returns the value it replaced.
func (r *slotRef[T]) AtomicGetAndSet(v T) T {
	long := encode(v)
	old, _, _, _ := r.atomicUpdate(func(int64, any) (int64, any) { return long, nil })
	return decode[T](old)
}

// AtomicCompareAndSet commits update if the value equals expected.
func (r *slotRef[T]) AtomicCompareAndSet(expected, update T) bool {
	want, next := encode(expected), encode(update)
	swapped := false
	r.atomicUpdate(func(long int64, ref any) (int64, any) {
		if long != want {
			return long, ref
		}
		swapped = true
		return next, ref
	})
	return swapped
}

// AtomicAlterAndGet commits fn(value) and returns it.
func (r *slotRef[T]) AtomicAlterAndGet(fn func(T) T) T {
	_, _, v, _ := r.atomicUpdate(lift(fn))
	return decode[T](v)
}

// AtomicGetAndAlter commits fn(value) and returns the value it replaced.
func (r *slotRef[T]) AtomicGetAndAlter(fn func(T) T) T {
	v, _, _, _ := r.atomicUpdate(lift(fn))
	return decode[T](v)
}

// numberRef adds arithmetic to slotRef.
type numberRef[T number] struct {
	slotRef[T]
}

func add[T number](delta T) func(T) T {
	return func(v T) T { return v + delta }
}

// IncrementAndGet adds delta and returns the new value.
func (r *numberRef[T]) IncrementAndGet(tx *Txn, delta T) (T, error) {
	return r.AlterAndGet(tx, add(delta))
}

// GetAndIncrement adds delta and returns the old value.
func (r *numberRef[T]) GetAndIncrement(tx *Txn, delta T) (T, error) {
	return r.GetAndAlter(tx, add(delta))
}

// Increment adds delta at commit time. See Commute.
func (r *numberRef[T]) Increment(tx *Txn, delta T) error {
	return r.Commute(tx, add(delta))
}

// AtomicIncrementAndGet commits value+delta and returns it.
func (r *numberRef[T]) AtomicIncrementAndGet(delta T) T {
	return r.AtomicAlterAndGet(add(delta))
}

// AtomicGetAndIncrement commits value+delta and returns the old value.
func (r *numberRef[T]) AtomicGetAndIncrement(delta T) T {
	return r.AtomicGetAndAlter(add(delta))
}

// LongRef is a transactional int64.
type LongRef struct {
	numberRef[int64]
}

// NewLongRef creates a committed reference holding v.
func NewLongRef(s *Stm, v int64) *LongRef {
	r := &LongRef{}
	r.initCommitted(s, v)
	return r
}

// NewLongRefTx creates a reference inside tx. Other transactions see it only once tx
// commits.
func NewLongRefTx(tx *Txn, v int64) (*LongRef, error) {
	r := &LongRef{}
	if err := r.construct(tx, v); err != nil {
		return nil, err
	}
	return r, nil
}

// IntRef is a transactional int32.
type IntRef struct {
	numberRef[int32]
}

// NewIntRef creates a committed reference holding v.
func NewIntRef(s *Stm, v int32) *IntRef {
	r := &IntRef{}
	r.initCommitted(s, v)
	return r
}

// NewIntRefTx creates a reference inside tx.
func NewIntRefTx(tx *Txn, v int32) (*IntRef, error) {
	r := &IntRef{}
	if err := r.construct(tx, v); err != nil {
		return nil, err
	}
	return r, nil
}

// DoubleRef is a transactional float64. Values are compared bit by bit.
type DoubleRef struct {
	numberRef[float64]
}

// NewDoubleRef creates a committed reference holding v.
func NewDoubleRef(s *Stm, v float64) *DoubleRef {
	r := &DoubleRef{}
	r.initCommitted(s, v)
	return r
}

// NewDoubleRefTx creates a reference inside tx.
func NewDoubleRefTx(tx *Txn, v float64) (*DoubleRef, error) {
	r := &DoubleRef{}
	if err := r.construct(tx, v); err != nil {
		return nil, err
	}
	return r, nil
}

// BoolRef is a transactional bool.
type BoolRef struct {
	slotRef[bool]
}

// NewBoolRef creates a committed reference holding v.
func NewBoolRef(s *Stm, v bool) *BoolRef {
	r := &BoolRef{}
	r.initCommitted(s, v)
	return r
}

// NewBoolRefTx creates a reference inside tx.
func NewBoolRefTx(tx *Txn, v bool) (*BoolRef, error) {
	r := &BoolRef{}
	if err := r.construct(tx, v); err != nil {
		return nil, err
	}
	return r, nil
}

// Toggle flips the value in tx and returns the new value.
func (r *BoolRef) Toggle(tx *Txn) (bool, error) {
	return r.AlterAndGet(tx, func(v bool) bool { return !v })
}
