package engine

import (
	"errors"
	"strconv"
	"time"

	"github.com/kolkov/gostm/internal/stm/latch"
	"github.com/kolkov/gostm/internal/stm/orec"
)

// Status is the lifecycle state of a transaction.
//
// Active moves to Prepared, Aborted or Committed; Prepared moves to Aborted or
// Committed. Aborted and Committed are terminal.
type Status uint8

const (
	// Active accepts reads, writes and OrElse. Every attempt starts here.
	Active Status = iota
	// Prepared holds the locks on everything it writes and only accepts Commit or
	// Abort. Any other operation aborts it.
	Prepared
	// Aborted released its locks without publishing. The attempt is over.
	Aborted
	// Committed published its writes. The attempt is over.
	Committed
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Prepared:
		return "Prepared"
	case Aborted:
		return "Aborted"
	case Committed:
		return "Committed"
	default:
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
}

// TxnEvent is a lifecycle event delivered to a TxnListener.
type TxnEvent uint8

const (
	// PrePrepare fires before Prepare validates and locks, while the transaction
	// is still Active.
	PrePrepare TxnEvent = iota
	// PostAbort fires after an attempt aborted and released its locks. It fires
	// once per failed attempt, including the ones Execute reruns.
	PostAbort
	// PostCommit fires after the writes are published and the locks released.
	PostCommit
)

// String returns the name of the event.
func (e TxnEvent) String() string {
	switch e {
	case PrePrepare:
		return "PrePrepare"
	case PostAbort:
		return "PostAbort"
	case PostCommit:
		return "PostCommit"
	default:
		return "TxnEvent(" + strconv.Itoa(int(e)) + ")"
	}
}

// TxnListener observes the lifecycle of a transaction.
type TxnListener func(tx *Txn, event TxnEvent)

// Txn is a transaction.
//
// One type implements every variant: the storage strategy (mono, fixed or
// variable) sets the capacity and the lean flag switches off the features that
// only the fat variants have. A lean transaction that meets such a feature fails
// with ErrSpeculativeConfiguration and the executor reruns it on a richer variant.
//
// Thread Safety: a Txn is confined to one goroutine. Only commit barriers hand a
// prepared transaction across goroutines, through their own synchronization.
type Txn struct {
	stm     *Stm
	factory *TxnFactory
	config  *TxnConfig
	pool    *Pool

	kind    TxnKind
	lean    bool
	storage storage

	mono     *monoStorage
	fixed    *fixedStorage
	variable *variableStorage

	status           Status
	attempt          int
	remainingTimeout time.Duration

	hasWrites         bool
	commitConflict    bool
	abortOnly         bool
	evaluatingCommute bool
	commuteViolation  bool
	manual            bool
	orElseDepth       int

	// localConflictCount is the global conflict count the read set was last
	// validated against.
	localConflictCount int64

	retryLatch   *latch.Latch
	retryEra     int64
	listenedRefs []*baseRef

	listeners []TxnListener
}

func (tx *Txn) initStorage() {
	switch tx.kind {
	case LeanMono, FatMono:
		if tx.mono == nil {
			tx.mono = &monoStorage{}
		}
		tx.storage = tx.mono
	case LeanFixed, FatFixed:
		if tx.fixed != nil && tx.fixed.limit != tx.stm.config.MaxFixedLength {
			tx.fixed.release(tx.pool)
			tx.fixed = nil
		}
		if tx.fixed == nil {
			tx.fixed = newFixedStorage(tx.pool, tx.stm.config.MaxFixedLength)
		}
		tx.storage = tx.fixed
	default:
		if tx.variable == nil {
			tx.variable = &variableStorage{}
		}
		tx.storage = tx.variable
	}
}

// begin resets the per-attempt state.
func (tx *Txn) begin() {
	tx.status = Active
	tx.hasWrites = false
	tx.commitConflict = false
	tx.abortOnly = false
	tx.evaluatingCommute = false
	tx.commuteViolation = false
	tx.orElseDepth = 0
	clear(tx.listeners)
	tx.listeners = tx.listeners[:0]
	tx.localConflictCount = tx.stm.counter.Count()
	tx.stm.stats.starts.Add(1)
}

// clearForPool drops every reference to the Stm and to application state.
func (tx *Txn) clearForPool() {
	if tx.storage != nil && tx.pool != nil {
		tx.storage.clear(tx.pool)
	}
	clear(tx.listenedRefs)
	tx.listenedRefs = tx.listenedRefs[:0]
	clear(tx.listeners)
	tx.listeners = tx.listeners[:0]
	tx.stm = nil
	tx.factory = nil
	tx.config = nil
	tx.pool = nil
	tx.storage = nil
	tx.status = Aborted
	tx.attempt = 0
	tx.manual = false
}

// Status returns the lifecycle state.
func (tx *Txn) Status() Status { return tx.status }

// Kind returns the variant.
func (tx *Txn) Kind() TxnKind { return tx.kind }

// Attempt returns the 1-based attempt number of the logical operation.
func (tx *Txn) Attempt() int { return tx.attempt }

// Config returns a copy of the configuration.
func (tx *Txn) Config() TxnConfig { return *tx.config }

// RemainingTimeout returns the blocking time left, or NoTimeout.
func (tx *Txn) RemainingTimeout() time.Duration { return tx.remainingTimeout }

// Size returns the number of references the transaction tracks.
func (tx *Txn) Size() int { return tx.storage.size() }

// SetAbortOnly makes the next Prepare or Commit fail with ErrReadWriteConflict.
func (tx *Txn) SetAbortOnly() error {
	if tx.status != Active {
		return tx.checkActive("SetAbortOnly")
	}
	tx.abortOnly = true
	return nil
}

// IsAbortOnly reports whether SetAbortOnly was called.
func (tx *Txn) IsAbortOnly() bool { return tx.abortOnly }

// Register adds a lifecycle listener for the rest of this attempt.
func (tx *Txn) Register(l TxnListener) error {
	const op = "Register"
	if tx.status != Active {
		return tx.checkActive(op)
	}
	if l == nil {
		tx.abort()
		return tx.newError(IllegalArgument, op)
	}
	if tx.lean {
		return tx.speculativeFailure(op, reasonListeners)
	}
	tx.listeners = append(tx.listeners, l)
	return nil
}

func (tx *Txn) fire(event TxnEvent) {
	for _, l := range tx.config.PermanentListeners {
		l(tx, event)
	}
	for _, l := range tx.listeners {
		l(tx, event)
	}
}

func (tx *Txn) newError(kind ErrorKind, op string) *TxnError {
	return &TxnError{Kind: kind, Op: op, Family: tx.config.FamilyName}
}

// checkActive builds the error for an operation on a transaction that is not
// Active. A prepared transaction is aborted first.
func (tx *Txn) checkActive(op string) error {
	switch tx.status {
	case Active:
		return nil
	case Prepared:
		tx.abort()
		return tx.newError(PreparedTxn, op)
	default:
		return tx.newError(DeadTxn, op)
	}
}

// conflict aborts and returns a ReadWriteConflict.
func (tx *Txn) conflict(op string) error {
	tx.abort()
	s := tx.stm
	if !s.config.ConflictStackTraces {
		return ErrReadWriteConflict
	}
	err := tx.newError(ReadWriteConflict, op)
	err.Stack = s.depot.Capture(1)
	err.depot = s.depot
	return err
}

// speculativeFailure records the missing feature in the family hints, aborts and
// asks for a richer variant.
func (tx *Txn) speculativeFailure(op string, reason speculativeReason) error {
	hints := tx.factory.hints
	switch reason {
	case reasonSize:
		hints.signalSize(tx.storage.size() + 1)
	case reasonBlocking:
		hints.signalBlocking()
	default:
		hints.signalFat()
	}
	tx.abort()
	return tx.newError(SpeculativeConfiguration, op+" ("+reason.String()+")")
}

// precheck runs the checks shared by every open operation.
func (tx *Txn) precheck(r *baseRef, op string, write bool) error {
	if tx.status != Active {
		return tx.checkActive(op)
	}
	if tx.evaluatingCommute {
		tx.commuteViolation = true
		return tx.newError(IllegalCommute, op)
	}
	if r == nil || r.stm != tx.stm {
		tx.abort()
		return tx.newError(IllegalArgument, op)
	}
	if write && tx.config.Readonly {
		tx.abort()
		return tx.newError(Readonly, op)
	}
	return nil
}

// openForRead returns the tranlocal of r, reading it with at least mode.
func (tx *Txn) openForRead(r *baseRef, mode orec.LockMode) (*tranlocal, error) {
	const op = "OpenForRead"
	if err := tx.precheck(r, op, false); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		tx.abort()
		return nil, tx.newError(IllegalArgument, op)
	}
	mode = orec.MaxLockMode(mode, tx.config.ReadLockMode)
	if tx.lean && mode != orec.LockNone {
		return nil, tx.speculativeFailure(op, reasonLocks)
	}

	if tl := tx.storage.find(r); tl != nil {
		if err := tx.reopen(tl, mode, op); err != nil {
			return nil, err
		}
		return tl, nil
	}
	return tx.openNew(r, mode, modeRead, op)
}

// openForWrite returns the tranlocal of r in write mode, locked with at least mode.
func (tx *Txn) openForWrite(r *baseRef, mode orec.LockMode) (*tranlocal, error) {
	const op = "OpenForWrite"
	if err := tx.precheck(r, op, true); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		tx.abort()
		return nil, tx.newError(IllegalArgument, op)
	}
	mode = orec.MaxLockMode(mode, tx.config.WriteLockMode)
	if tx.lean && mode != orec.LockNone {
		return nil, tx.speculativeFailure(op, reasonLocks)
	}

	tl := tx.storage.find(r)
	if tl != nil {
		if err := tx.reopen(tl, mode, op); err != nil {
			return nil, err
		}
		if tl.mode == modeRead {
			tl.mode = modeWrite
		}
	} else {
		var err error
		if tl, err = tx.openNew(r, mode, modeWrite, op); err != nil {
			return nil, err
		}
	}
	tx.hasWrites = true
	return tl, nil
}

// reopen brings an existing tranlocal up to mode. A commuting tranlocal is
// flattened; an unlocked one is revalidated when locked or under Serializable.
func (tx *Txn) reopen(tl *tranlocal, mode orec.LockMode, op string) error {
	r := tl.owner
	switch {
	case tl.mode == modeCommuting:
		return tx.flatten(tl, mode, op)
	case mode > tl.lockMode:
		unlocked := tl.lockMode == orec.LockNone
		if r.upgradeLock(tl, tx.config.SpinCount, mode).Failed() {
			return tx.conflict(op)
		}
		if unlocked && r.orec.Version() != tl.version {
			return tx.conflict(op)
		}
	case tx.config.Isolation == Serializable:
		if r.hasReadConflict(tl) {
			return tx.conflict(op)
		}
	}
	return nil
}

// openNew reads r for the first time in this transaction.
func (tx *Txn) openNew(r *baseRef, mode orec.LockMode, tlMode tranlocalMode, op string) (*tranlocal, error) {
	if tx.storage.size() == tx.storage.capacity() {
		return nil, tx.speculativeFailure(op, reasonSize)
	}

	tl := tx.pool.takeTranlocal()
	if tl == nil {
		tl = &tranlocal{}
	}
	tl.owner = r
	tl.mode = tlMode

	if r.load(tl, tx.config.SpinCount, mode).Failed() {
		tx.pool.putTranlocal(tl)
		return nil, tx.conflict(op)
	}
	tx.storage.add(tl)

	if tx.readSetConflicts() {
		return nil, tx.conflict(op)
	}
	return tl, nil
}

// flatten turns a commuting tranlocal into a write: it loads the committed value
// with mode and applies the pending functions to it.
func (tx *Txn) flatten(tl *tranlocal, mode orec.LockMode, op string) error {
	head := tl.headCallable
	tl.headCallable = nil

	if tl.owner.load(tl, tx.config.SpinCount, mode).Failed() {
		return tx.conflict(op)
	}
	tl.mode = modeWrite
	tl.headCallable = head
	if err := tx.evaluateCommuting(tl, op); err != nil {
		return err
	}

	if tx.readSetConflicts() {
		return tx.conflict(op)
	}
	return nil
}

// evaluateCommuting applies the pending functions of tl. A commuting function
// that touched the transaction leaves it aborted with ErrIllegalCommute.
func (tx *Txn) evaluateCommuting(tl *tranlocal, op string) error {
	tx.evaluatingCommute = true
	tl.evaluateCommutingFunctions(tx.pool)
	tx.evaluatingCommute = false
	if tx.commuteViolation {
		tx.abort()
		return tx.newError(IllegalCommute, op)
	}
	return nil
}

// useRichmansScan reports whether the read set is validated against the global
// conflict counter first.
func (tx *Txn) useRichmansScan() bool {
	switch tx.config.ConflictScan {
	case ScanRichman:
		return true
	case ScanPoorman:
		return false
	default:
		return tx.storage.size() > tx.config.MaxPoorMansConflictScanLength
	}
}

// readSetConflicts checks, after a new read, that every earlier snapshot is still
// current. The counter is sampled before the scan, so a conflict signalled during
// the scan is seen by the next check.
func (tx *Txn) readSetConflicts() bool {
	if tx.storage.size() <= 1 {
		return false
	}
	count := tx.stm.counter.Count()
	if tx.useRichmansScan() && count == tx.localConflictCount {
		return false
	}
	tx.localConflictCount = count

	for _, tl := range tx.storage.all() {
		if tl.owner.hasReadConflict(tl) {
			return true
		}
	}
	return false
}

// commute defers fn until commit, or applies it at once when the transaction
// already holds the value.
func (tx *Txn) commute(r *baseRef, fn function) error {
	const op = "Commute"
	if err := tx.precheck(r, op, true); err != nil {
		return err
	}
	if fn == nil {
		tx.abort()
		return tx.newError(IllegalArgument, op)
	}
	if tx.lean {
		return tx.speculativeFailure(op, reasonCommute)
	}

	if tl := tx.storage.find(r); tl != nil {
		if tl.mode == modeCommuting {
			tl.addCommutingFunction(tx.pool, fn)
			tx.hasWrites = true
			return nil
		}
		if err := tx.reopen(tl, tx.config.WriteLockMode, op); err != nil {
			return err
		}
		tl.addCommutingFunction(tx.pool, fn)
		if err := tx.evaluateCommuting(tl, op); err != nil {
			return err
		}
		if tl.mode == modeRead {
			tl.mode = modeWrite
		}
		tx.hasWrites = true
		return nil
	}

	if tx.storage.size() == tx.storage.capacity() {
		return tx.speculativeFailure(op, reasonSize)
	}
	tl := tx.pool.takeTranlocal()
	if tl == nil {
		tl = &tranlocal{}
	}
	tl.owner = r
	tl.mode = modeCommuting
	tl.addCommutingFunction(tx.pool, fn)
	tx.storage.add(tl)
	tx.hasWrites = true
	return nil
}

// ensure makes prepare write-lock r and check that it did not change.
func (tx *Txn) ensure(r *baseRef) error {
	const op = "Ensure"
	if err := tx.precheck(r, op, false); err != nil {
		return err
	}
	if tx.lean {
		return tx.speculativeFailure(op, reasonEnsure)
	}
	tl, err := tx.openForRead(r, orec.LockNone)
	if err != nil {
		return err
	}
	tl.ensured = true
	return nil
}

// openForConstruction tracks a reference created inside the transaction. The
// orec was initialized locked, so nobody else can see the reference before the
// commit publishes its initial value.
func (tx *Txn) openForConstruction(r *baseRef, long int64, ref any) error {
	const op = "NewRef"
	if err := tx.precheck(r, op, true); err != nil {
		r.orec.DepartAfterFailureAndUnlock()
		return err
	}
	if tx.storage.size() == tx.storage.capacity() {
		r.orec.DepartAfterFailureAndUnlock()
		return tx.speculativeFailure(op, reasonSize)
	}

	tl := tx.pool.takeTranlocal()
	if tl == nil {
		tl = &tranlocal{}
	}
	tl.owner = r
	tl.mode = modeConstructing
	tl.long = long
	tl.ref = ref
	tl.lockMode = orec.LockExclusive
	tl.hasDepartObligation = true
	tx.storage.add(tl)
	tx.hasWrites = true
	return nil
}

// lockModeOf returns the lock the transaction holds on r.
func (tx *Txn) lockModeOf(r *baseRef) (orec.LockMode, error) {
	if tx.status != Active && tx.status != Prepared {
		return orec.LockNone, tx.newError(DeadTxn, "LockMode")
	}
	if tl := tx.storage.find(r); tl != nil {
		return tl.lockMode, nil
	}
	return orec.LockNone, nil
}

// Prepare validates and locks everything the transaction writes without
// publishing. After a successful Prepare only Commit or Abort are allowed.
func (tx *Txn) Prepare() error {
	const op = "Prepare"
	switch tx.status {
	case Prepared:
		return nil
	case Aborted, Committed:
		return tx.newError(DeadTxn, op)
	}
	if tx.abortOnly {
		return tx.conflict(op)
	}

	tx.fire(PrePrepare)

	spin := tx.config.SpinCount
	for _, tl := range tx.storage.all() {
		r := tl.owner
		switch tl.mode {
		case modeConstructing:
			tl.dirty = true
			continue

		case modeCommuting:
			if tl.headCallable == nil {
				continue
			}
			head := tl.headCallable
			tl.headCallable = nil
			if r.load(tl, spin, orec.LockExclusive).Failed() {
				return tx.conflict(op)
			}
			tl.mode = modeWrite
			tl.headCallable = head
			if err := tx.evaluateCommuting(tl, op); err != nil {
				return err
			}
			if tl.calculateDirty(tx.config.DirtyCheck) && tl.conflict {
				tx.commitConflict = true
			}
			continue

		case modeWrite:
			if tl.calculateDirty(tx.config.DirtyCheck) {
				if r.upgradeLock(tl, spin, orec.LockExclusive).Failed() {
					return tx.conflict(op)
				}
				if r.orec.Version() != tl.version {
					return tx.conflict(op)
				}
				if tl.conflict {
					tx.commitConflict = true
				}
				continue
			}
		}

		if err := tx.prepareRead(tl, op); err != nil {
			return err
		}
	}

	tx.status = Prepared
	return nil
}

// prepareRead validates a tranlocal that will not be published.
func (tx *Txn) prepareRead(tl *tranlocal, op string) error {
	r := tl.owner
	if tl.ensured && tl.lockMode < orec.LockWrite {
		unlocked := tl.lockMode == orec.LockNone
		if r.upgradeLock(tl, tx.config.SpinCount, orec.LockWrite).Failed() {
			return tx.conflict(op)
		}
		if unlocked && r.orec.Version() != tl.version {
			return tx.conflict(op)
		}
		return nil
	}
	if tx.config.Isolation == Serializable && r.hasReadConflict(tl) {
		return tx.conflict(op)
	}
	return nil
}

// Commit prepares the transaction if needed and publishes its writes. Committing a
// committed transaction is a no-op.
func (tx *Txn) Commit() error {
	const op = "Commit"
	switch tx.status {
	case Committed:
		return nil
	case Aborted:
		return tx.newError(DeadTxn, op)
	case Active:
		if err := tx.Prepare(); err != nil {
			return err
		}
	}

	// Readers of the written references must learn about the conflict before any
	// new value becomes visible.
	if tx.commitConflict {
		tx.stm.signalConflict()
	}

	for _, tl := range tx.storage.all() {
		if tl.dirty {
			tl.owner.publish(tl, tx.pool)
		} else {
			tl.owner.releaseAfterReading(tl)
		}
	}
	tx.storage.clear(tx.pool)
	tx.status = Committed
	tx.stm.stats.commits.Add(1)
	tx.fire(PostCommit)
	tx.finish()
	return nil
}

// Abort releases everything the transaction holds without publishing. Aborting an
// aborted transaction is a no-op; aborting a committed one fails with ErrDeadTxn.
func (tx *Txn) Abort() error {
	switch tx.status {
	case Aborted:
		return nil
	case Committed:
		return tx.newError(DeadTxn, "Abort")
	}
	tx.abort()
	return nil
}

func (tx *Txn) abort() {
	if tx.status == Aborted || tx.status == Committed {
		return
	}
	for _, tl := range tx.storage.all() {
		tl.owner.releaseAfterFailure(tl)
	}
	tx.storage.clear(tx.pool)
	tx.status = Aborted
	tx.stm.stats.aborts.Add(1)
	tx.fire(PostAbort)
	tx.finish()
}

// finish returns the pool of a manually driven transaction once it is done. The
// transaction itself is not reused, so its fixed array goes back as well.
func (tx *Txn) finish() {
	if tx.manual && tx.pool != nil {
		if tx.fixed != nil {
			tx.fixed.release(tx.pool)
			tx.fixed = nil
		}
		tx.stm.putPool(tx.pool)
		tx.pool = nil
	}
}

// Retry aborts the transaction and returns ErrRetry. Inside an executor the
// transaction then blocks until a reference it read is written by somebody else
// and runs again.
func (tx *Txn) Retry() error {
	const op = "Retry"
	if tx.status != Active {
		return tx.checkActive(op)
	}
	if tx.evaluatingCommute {
		tx.commuteViolation = true
		return tx.newError(IllegalCommute, op)
	}
	if !tx.config.BlockingAllowed {
		tx.abort()
		return tx.newError(RetryNotAllowed, op)
	}
	if tx.orElseDepth > 0 {
		return ErrRetry
	}
	if tx.kind == LeanMono {
		return tx.speculativeFailure(op, reasonBlocking)
	}
	if tx.storage.size() == 0 {
		tx.abort()
		return tx.newError(RetryNotPossible, op)
	}
	if tx.manual {
		tx.abort()
		return ErrRetry
	}

	if tx.retryLatch == nil {
		tx.retryLatch = latch.New()
	}
	tx.retryLatch.Reset()
	era := tx.retryLatch.Era()
	tx.retryEra = era

	registered := false
register:
	for _, tl := range tx.storage.all() {
		switch tl.owner.registerChangeListener(tx.retryLatch, tl, tx.pool, era) {
		case registrationDone:
			tx.listenedRefs = append(tx.listenedRefs, tl.owner)
			registered = true
		case registrationNotNeeded:
			tx.listenedRefs = append(tx.listenedRefs, tl.owner)
			tx.retryLatch.Open(era)
			registered = true
			break register
		}
	}

	tx.abort()
	if !registered {
		return tx.newError(RetryNotPossible, op)
	}
	return ErrRetry
}

// unregisterListeners removes the retry latch from every reference it was
// registered on.
func (tx *Txn) unregisterListeners() {
	for i, r := range tx.listenedRefs {
		r.unregisterChangeListener(tx.retryLatch, tx.pool)
		tx.listenedRefs[i] = nil
	}
	tx.listenedRefs = tx.listenedRefs[:0]
}

// tranlocalState is what OrElse restores when its first branch retries.
type tranlocalState struct {
	mode    tranlocalMode
	long    int64
	ref     any
	ensured bool
	fns     []function // commuting functions, most recent first
}

// OrElse runs either and, if it retries, undoes its effects on the transaction and
// runs orelse instead. If orelse retries as well, the whole transaction retries
// and waits for any reference read by either branch.
//
// Locks taken by either are kept.
func (tx *Txn) OrElse(either, orelse func(tx *Txn) error) error {
	const op = "OrElse"
	if tx.status != Active {
		return tx.checkActive(op)
	}
	if either == nil || orelse == nil {
		tx.abort()
		return tx.newError(IllegalArgument, op)
	}
	if tx.lean {
		return tx.speculativeFailure(op, reasonOrElse)
	}

	mark := tx.storage.size()
	saved := make([]tranlocalState, mark)
	for i, tl := range tx.storage.all() {
		saved[i] = tranlocalState{mode: tl.mode, long: tl.long, ref: tl.ref, ensured: tl.ensured}
		for c := tl.headCallable; c != nil; c = c.next {
			saved[i].fns = append(saved[i].fns, c.fn)
		}
	}

	err := tx.runNested(either)
	if !errors.Is(err, ErrRetry) || tx.status != Active {
		return err
	}

	for i, tl := range tx.storage.all() {
		if i < mark {
			if err := tx.restore(tl, &saved[i]); err != nil {
				return err
			}
			continue
		}
		switch tl.mode {
		case modeCommuting:
			tl.headCallable = nil
		case modeWrite:
			tl.mode = modeRead
			tl.long, tl.ref = tl.oldLong, tl.oldRef
		case modeConstructing:
			tx.discardConstruction(tl)
		}
		tl.ensured = false
	}
	return orelse(tx)
}

// discardConstruction undoes a reference created by a branch that retried. The
// reference ends up as after an aborted construction: unlocked at version 0 with
// the zero value. The tranlocal stays behind as a plain read of that state.
func (tx *Txn) discardConstruction(tl *tranlocal) {
	tl.owner.releaseAfterFailure(tl)
	tl.mode = modeRead
	tl.lockMode = orec.LockNone
	tl.hasDepartObligation = false
	tl.version = 0
	tl.long, tl.oldLong = 0, 0
	tl.ref, tl.oldRef = nil, nil
}

// restore puts tl back into the saved state. A commuting tranlocal that was
// flattened in the meantime stays loaded and gets its saved functions applied to
// the loaded value again.
func (tx *Txn) restore(tl *tranlocal, s *tranlocalState) error {
	tl.ensured = s.ensured
	tl.headCallable = nil
	for i := len(s.fns) - 1; i >= 0; i-- {
		tl.addCommutingFunction(tx.pool, s.fns[i])
	}

	if s.mode == modeCommuting && tl.mode != modeCommuting {
		tl.long, tl.ref = tl.oldLong, tl.oldRef
		return tx.evaluateCommuting(tl, "OrElse")
	}
	tl.mode, tl.long, tl.ref = s.mode, s.long, s.ref
	return nil
}

func (tx *Txn) runNested(fn func(tx *Txn) error) error {
	tx.orElseDepth++
	defer func() { tx.orElseDepth-- }()
	return fn(tx)
}
