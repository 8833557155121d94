package engine

import (
	"errors"
	"strings"

	"github.com/kolkov/gostm/internal/stm/stackdepot"
)

// ErrorKind classifies a transaction failure.
type ErrorKind uint8

const (
	// ReadWriteConflict means optimistic validation or lock acquisition failed.
	// The whole transaction can be retried.
	ReadWriteConflict ErrorKind = iota + 1

	// RetryRequested is the control-flow signal raised by Txn.Retry.
	RetryRequested

	// SpeculativeConfiguration asks the executor to rerun on a richer variant.
	SpeculativeConfiguration

	// RetryTimeout means a blocking retry ran out of time.
	RetryTimeout

	// RetryInterrupted means a blocking retry was cancelled through its context.
	RetryInterrupted

	// RetryNotPossible means Retry was called on a transaction that read nothing it
	// could wait for.
	RetryNotPossible

	// RetryNotAllowed means Retry was called with blocking disabled.
	RetryNotAllowed

	// TooManyRetries means the attempt budget of one logical operation is used up.
	TooManyRetries

	// DeadTxn means the transaction is already aborted or committed.
	DeadTxn

	// PreparedTxn means a read or write was attempted after Prepare.
	PreparedTxn

	// Readonly means a write was attempted by a read-only transaction.
	Readonly

	// IllegalCommute means a transactional operation was attempted while a
	// commuting function was being evaluated.
	IllegalCommute

	// IllegalArgument means an operation received an unusable argument.
	IllegalArgument

	// IllegalTxnState means an operation does not fit the transaction's state.
	IllegalTxnState

	// CommitBarrierOpen means a transaction tried to join a commit barrier that has
	// already committed or aborted.
	CommitBarrierOpen
)

var kindNames = [...]string{
	ReadWriteConflict:        "read-write conflict",
	RetryRequested:           "retry",
	SpeculativeConfiguration: "speculative configuration",
	RetryTimeout:             "retry timeout",
	RetryInterrupted:         "retry interrupted",
	RetryNotPossible:         "retry not possible",
	RetryNotAllowed:          "retry not allowed",
	TooManyRetries:           "too many retries",
	DeadTxn:                  "dead transaction",
	PreparedTxn:              "prepared transaction",
	Readonly:                 "readonly transaction",
	IllegalCommute:           "illegal commute",
	IllegalArgument:          "illegal argument",
	IllegalTxnState:          "illegal transaction state",
	CommitBarrierOpen:        "commit barrier open",
}

// String returns a short description of the kind.
func (k ErrorKind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// TxnError is the error returned by every failing transactional operation.
//
// Match it with errors.Is against the Err* sentinels, which compare by Kind only,
// or inspect it with errors.As.
type TxnError struct {
	Kind   ErrorKind
	Op     string // operation that failed, e.g. "OpenForWrite"
	Family string // family name of the transaction, if any
	Stack  uint64 // stackdepot hash, 0 when no stack was captured
	Cause  error

	depot *stackdepot.Depot
}

// Sentinels for errors.Is.
var (
	ErrReadWriteConflict        = &TxnError{Kind: ReadWriteConflict}
	ErrRetry                    = &TxnError{Kind: RetryRequested}
	ErrSpeculativeConfiguration = &TxnError{Kind: SpeculativeConfiguration}
	ErrRetryTimeout             = &TxnError{Kind: RetryTimeout}
	ErrRetryInterrupted         = &TxnError{Kind: RetryInterrupted}
	ErrRetryNotPossible         = &TxnError{Kind: RetryNotPossible}
	ErrRetryNotAllowed          = &TxnError{Kind: RetryNotAllowed}
	ErrTooManyRetries           = &TxnError{Kind: TooManyRetries}
	ErrDeadTxn                  = &TxnError{Kind: DeadTxn}
	ErrPreparedTxn              = &TxnError{Kind: PreparedTxn}
	ErrReadonly                 = &TxnError{Kind: Readonly}
	ErrIllegalCommute           = &TxnError{Kind: IllegalCommute}
	ErrIllegalArgument          = &TxnError{Kind: IllegalArgument}
	ErrIllegalTxnState          = &TxnError{Kind: IllegalTxnState}
	ErrCommitBarrierOpen        = &TxnError{Kind: CommitBarrierOpen}
)

// Error implements the error interface.
//
// Format: "stm: read-write conflict in OpenForWrite (family transfer): cause".
func (e *TxnError) Error() string {
	var b strings.Builder
	b.WriteString("stm: ")
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Family != "" {
		b.WriteString(" (family ")
		b.WriteString(e.Family)
		b.WriteByte(')')
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *TxnError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *TxnError of the same kind.
func (e *TxnError) Is(target error) bool {
	t, ok := target.(*TxnError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the executor recovers from the error by running the
// transaction again.
func (e *TxnError) Retryable() bool {
	switch e.Kind {
	case ReadWriteConflict, RetryRequested, SpeculativeConfiguration:
		return true
	default:
		return false
	}
}

// StackTrace renders the captured stack, or "" when none was captured.
func (e *TxnError) StackTrace() string {
	if e.Stack == 0 || e.depot == nil {
		return ""
	}
	return e.depot.Lookup(e.Stack).Format()
}

// KindOf returns the kind of err, or 0 when err is not a *TxnError.
func KindOf(err error) ErrorKind {
	var te *TxnError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsRetryable reports whether err is a retryable *TxnError.
func IsRetryable(err error) bool {
	var te *TxnError
	return errors.As(err, &te) && te.Retryable()
}
