package stm

import (
	"context"

	"github.com/kolkov/gostm/internal/stm/barrier"
	"github.com/kolkov/gostm/internal/stm/engine"
)

// Core types.
type (
	// Stm is one transactional memory instance. References and transactions of
	// different instances must not be mixed.
	Stm = engine.Stm

	// Config configures an Stm.
	Config = engine.StmConfig

	// TxnConfig configures the transactions of a factory.
	TxnConfig = engine.TxnConfig

	// Txn is a transaction. It is confined to the goroutine that runs it.
	Txn = engine.Txn

	// TxnFactory creates and executes transactions with one configuration.
	TxnFactory = engine.TxnFactory

	// TxnListener receives lifecycle events of a transaction.
	TxnListener = engine.TxnListener

	// TxnEvent is a lifecycle event.
	TxnEvent = engine.TxnEvent

	// Status is the lifecycle state of a transaction.
	Status = engine.Status

	// Stats is a snapshot of the counters of an Stm.
	Stats = engine.Stats
)

// References.
type (
	LongRef   = engine.LongRef
	IntRef    = engine.IntRef
	DoubleRef = engine.DoubleRef
	BoolRef   = engine.BoolRef

	// Ref holds a value of any type.
	Ref[T any] = engine.Ref[T]

	// RefLock exposes the pessimistic lock of a reference.
	RefLock = engine.RefLock
)

// Configuration enums.
type (
	Isolation    = engine.Isolation
	ConflictScan = engine.ConflictScan
	LockMode     = engine.LockMode
	TxnKind      = engine.TxnKind

	Backoff            = engine.Backoff
	ExponentialBackoff = engine.ExponentialBackoff
	NoBackoff          = engine.NoBackoff
)

const (
	Snapshot     = engine.Snapshot
	Serializable = engine.Serializable

	ScanAuto    = engine.ScanAuto
	ScanRichman = engine.ScanRichman
	ScanPoorman = engine.ScanPoorman

	LockNone      = engine.LockNone
	LockRead      = engine.LockRead
	LockWrite     = engine.LockWrite
	LockExclusive = engine.LockExclusive

	KindAuto    = engine.KindAuto
	LeanMono    = engine.LeanMono
	LeanFixed   = engine.LeanFixed
	FatMono     = engine.FatMono
	FatFixed    = engine.FatFixed
	FatVariable = engine.FatVariable

	PrePrepare = engine.PrePrepare
	PostAbort  = engine.PostAbort
	PostCommit = engine.PostCommit

	Active    = engine.Active
	Prepared  = engine.Prepared
	Aborted   = engine.Aborted
	Committed = engine.Committed

	// NoTimeout disables the blocking retry timeout.
	NoTimeout = engine.NoTimeout
)

// New creates an Stm. It fails when cfg does not validate.
func New(cfg Config) (*Stm, error) {
	return engine.New(cfg)
}

// MustNew is like New but panics on an invalid configuration.
func MustNew(cfg Config) *Stm {
	return engine.MustNew(cfg)
}

// DefaultConfig returns the default Stm configuration.
func DefaultConfig() Config {
	return engine.DefaultStmConfig()
}

// DefaultTxnConfig returns the default transaction configuration.
func DefaultTxnConfig() TxnConfig {
	return engine.DefaultTxnConfig()
}

// DefaultBackoff returns the backoff used by default after a conflict.
func DefaultBackoff() Backoff {
	return engine.DefaultBackoff()
}

// NewLongRef creates a committed int64 reference.
func NewLongRef(s *Stm, v int64) *LongRef { return engine.NewLongRef(s, v) }

// NewIntRef creates a committed int32 reference.
func NewIntRef(s *Stm, v int32) *IntRef { return engine.NewIntRef(s, v) }

// NewDoubleRef creates a committed float64 reference.
func NewDoubleRef(s *Stm, v float64) *DoubleRef { return engine.NewDoubleRef(s, v) }

// NewBoolRef creates a committed bool reference.
func NewBoolRef(s *Stm, v bool) *BoolRef { return engine.NewBoolRef(s, v) }

// NewRef creates a committed reference. Writes of a value equal to the current one
// (by ==) publish nothing.
func NewRef[T comparable](s *Stm, v T) *Ref[T] {
	return engine.NewRef(s, v)
}

// NewRefWithEqual creates a committed reference for a type that is not comparable.
// A nil equal makes every write publish.
func NewRefWithEqual[T any](s *Stm, v T, equal func(a, b T) bool) *Ref[T] {
	return engine.NewRefWithEqual(s, v, equal)
}

// NewLongRefTx creates an int64 reference inside tx. It becomes visible to other
// transactions when tx commits.
func NewLongRefTx(tx *Txn, v int64) (*LongRef, error) { return engine.NewLongRefTx(tx, v) }

// NewRefTx creates a reference inside tx. It becomes visible to other transactions
// when tx commits.
func NewRefTx[T comparable](tx *Txn, v T) (*Ref[T], error) {
	return engine.NewRefTx(tx, v)
}

// Commit barriers.
type (
	// CountDownBarrier commits its parties once a number of them have arrived.
	CountDownBarrier = barrier.CountDown

	// VetoBarrier commits its parties once any of them calls VetoCommit.
	VetoBarrier = barrier.Veto

	// Barrier is implemented by every commit barrier.
	Barrier = barrier.Barrier

	// BarrierState is the lifecycle state of a commit barrier.
	BarrierState = barrier.State
)

// ErrBarrierAborted is returned by JoinCommit when the barrier aborts.
var ErrBarrierAborted = barrier.ErrAborted

// NewCountDownBarrier creates a barrier waiting for parties arrivals.
func NewCountDownBarrier(parties int) *CountDownBarrier {
	return barrier.NewCountDown(parties)
}

// NewVetoBarrier creates an open veto barrier.
func NewVetoBarrier() *VetoBarrier {
	return barrier.NewVeto()
}

// RunParties runs every party on its own goroutine. The first failure aborts b.
func RunParties(ctx context.Context, b Barrier, parties ...func(ctx context.Context) error) error {
	return barrier.RunParties(ctx, b, parties...)
}

// Errors.
type (
	// TxnError is returned by failing transactional operations.
	TxnError = engine.TxnError

	// ErrorKind classifies a TxnError.
	ErrorKind = engine.ErrorKind
)

// Sentinels for errors.Is.
var (
	ErrReadWriteConflict        = engine.ErrReadWriteConflict
	ErrRetry                    = engine.ErrRetry
	ErrSpeculativeConfiguration = engine.ErrSpeculativeConfiguration
	ErrRetryTimeout             = engine.ErrRetryTimeout
	ErrRetryInterrupted         = engine.ErrRetryInterrupted
	ErrRetryNotPossible         = engine.ErrRetryNotPossible
	ErrRetryNotAllowed          = engine.ErrRetryNotAllowed
	ErrTooManyRetries           = engine.ErrTooManyRetries
	ErrDeadTxn                  = engine.ErrDeadTxn
	ErrPreparedTxn              = engine.ErrPreparedTxn
	ErrReadonly                 = engine.ErrReadonly
	ErrIllegalCommute           = engine.ErrIllegalCommute
	ErrIllegalArgument          = engine.ErrIllegalArgument
	ErrIllegalTxnState          = engine.ErrIllegalTxnState
	ErrCommitBarrierOpen        = engine.ErrCommitBarrierOpen
)

// KindOf returns the kind of err, or 0 when err is not a *TxnError.
func KindOf(err error) ErrorKind { return engine.KindOf(err) }

// IsRetryable reports whether the executor recovers from err by rerunning.
func IsRetryable(err error) bool { return engine.IsRetryable(err) }
