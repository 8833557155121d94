package engine

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kolkov/gostm/internal/stm/logging"
	"github.com/kolkov/gostm/internal/stm/orec"
)

// Isolation is the isolation level of a transaction.
type Isolation uint8

const (
	// Snapshot validates only written references at commit. Write skew is possible.
	Snapshot Isolation = iota

	// Serializable additionally validates every read reference, both when it is read
	// again and at commit.
	Serializable
)

// String returns the name of the isolation level.
func (i Isolation) String() string {
	switch i {
	case Snapshot:
		return "Snapshot"
	case Serializable:
		return "Serializable"
	default:
		return "Isolation(" + strconv.Itoa(int(i)) + ")"
	}
}

// ConflictScan selects how a transaction revalidates its read set after a new read.
type ConflictScan uint8

const (
	// ScanAuto uses the poorman's scan for small read sets and the richman's scan
	// once the read set exceeds MaxPoorMansConflictScanLength.
	ScanAuto ConflictScan = iota

	// ScanRichman skips the per-reference scan while the global conflict counter
	// is unchanged.
	ScanRichman

	// ScanPoorman checks every tracked reference on every new read.
	ScanPoorman
)

// String returns the name of the scan strategy.
func (c ConflictScan) String() string {
	switch c {
	case ScanAuto:
		return "Auto"
	case ScanRichman:
		return "Richman"
	case ScanPoorman:
		return "Poorman"
	default:
		return "ConflictScan(" + strconv.Itoa(int(c)) + ")"
	}
}

// NoTimeout disables the blocking retry timeout.
const NoTimeout time.Duration = -1

// TxnConfig configures the transactions created by one TxnFactory.
//
// The zero value is not useful; start from DefaultTxnConfig.
type TxnConfig struct {
	// FamilyName identifies the call site. Factories that share a family name share
	// their speculative shape hints. Empty means the factory keeps its own hints.
	FamilyName string

	// Isolation is the isolation level. Default: Snapshot.
	Isolation Isolation

	// ReadLockMode is the minimum lock taken on every read. Default: LockNone.
	ReadLockMode orec.LockMode

	// WriteLockMode is the minimum lock taken on every write. It is never weaker
	// than ReadLockMode. Default: LockNone.
	WriteLockMode orec.LockMode

	// Readonly rejects every write with ErrReadonly.
	Readonly bool

	// MaxRetries bounds the number of conflicts and blocking retries of one
	// logical operation. Default: 1000.
	MaxRetries int

	// Timeout bounds the total time spent blocked in retry. NoTimeout (or any
	// value <= 0) waits without limit.
	Timeout time.Duration

	// SpinCount is the number of times a lock transition is retried against a
	// conflicting lock before the operation fails. Default: 64.
	SpinCount int

	// DirtyCheck skips publishing writes whose value did not change. Default: true.
	DirtyCheck bool

	// BlockingAllowed permits Retry. Default: true.
	BlockingAllowed bool

	// Interruptible lets context cancellation end a blocking retry with
	// ErrRetryInterrupted. Default: false.
	Interruptible bool

	// Speculative starts transactions at the cheapest variant and upgrades on
	// demand. Default: true.
	Speculative bool

	// ConflictScan selects the read set revalidation strategy. Default: ScanAuto.
	ConflictScan ConflictScan

	// MaxPoorMansConflictScanLength is the largest read set that ScanAuto still
	// scans reference by reference. Default: 20.
	MaxPoorMansConflictScanLength int

	// Kind forces the variant of the first attempt. KindAuto lets speculation
	// decide, or uses FatVariable when Speculative is false. Execute reruns a
	// forced variant that lacks a feature on FatVariable.
	Kind TxnKind

	// Backoff delays the next attempt after a conflict. Default: ExponentialBackoff.
	Backoff Backoff

	// PermanentListeners are notified of the lifecycle events of every transaction
	// created by the factory.
	PermanentListeners []TxnListener
}

// DefaultTxnConfig returns the default transaction configuration.
func DefaultTxnConfig() TxnConfig {
	return TxnConfig{
		Isolation:                     Snapshot,
		ReadLockMode:                  orec.LockNone,
		WriteLockMode:                 orec.LockNone,
		MaxRetries:                    1000,
		SpinCount:                     64,
		Timeout:                       NoTimeout,
		DirtyCheck:                    true,
		BlockingAllowed:               true,
		Speculative:                   true,
		ConflictScan:                  ScanAuto,
		MaxPoorMansConflictScanLength: 20,
		Backoff:                       DefaultBackoff(),
	}
}

// Validate checks the configuration and names the first offending field.
func (c TxnConfig) Validate() error {
	switch {
	case c.Isolation > Serializable:
		return fmt.Errorf("engine: invalid Isolation %v", c.Isolation)
	case !c.ReadLockMode.Valid():
		return fmt.Errorf("engine: invalid ReadLockMode %v", c.ReadLockMode)
	case !c.WriteLockMode.Valid():
		return fmt.Errorf("engine: invalid WriteLockMode %v", c.WriteLockMode)
	case c.WriteLockMode < c.ReadLockMode:
		return fmt.Errorf("engine: WriteLockMode %v is weaker than ReadLockMode %v", c.WriteLockMode, c.ReadLockMode)
	case c.MaxRetries < 0:
		return fmt.Errorf("engine: MaxRetries must be >= 0, got %d", c.MaxRetries)
	case c.SpinCount < 0:
		return fmt.Errorf("engine: SpinCount must be >= 0, got %d", c.SpinCount)
	case c.ConflictScan > ScanPoorman:
		return fmt.Errorf("engine: invalid ConflictScan %v", c.ConflictScan)
	case c.MaxPoorMansConflictScanLength < 0:
		return fmt.Errorf("engine: MaxPoorMansConflictScanLength must be >= 0, got %d", c.MaxPoorMansConflictScanLength)
	case c.Kind > FatVariable:
		return fmt.Errorf("engine: invalid Kind %v", c.Kind)
	}
	for i, l := range c.PermanentListeners {
		if l == nil {
			return fmt.Errorf("engine: PermanentListeners[%d] is nil", i)
		}
	}
	return nil
}

// needsFat reports whether the configuration asks for features only the fat
// variants have.
func (c *TxnConfig) needsFat() bool {
	return c.ReadLockMode != orec.LockNone ||
		c.WriteLockMode != orec.LockNone ||
		len(c.PermanentListeners) > 0
}

// StmConfig configures an Stm instance.
type StmConfig struct {
	// SpinCount is the spin budget of the atomic reference operations. Default: 64.
	SpinCount int

	// ReadBiasedThreshold is the number of consecutive read-only commits after
	// which a reference becomes read biased. 0 disables read bias. Default: 64.
	ReadBiasedThreshold int

	// MaxFixedLength is the capacity of the fixed-length variants. Default: 20.
	MaxFixedLength int

	// FamilyCacheSize bounds the number of transaction families whose shape hints
	// are remembered. Default: 1024.
	FamilyCacheSize int64

	// ConflictStackTraces makes every ReadWriteConflict capture its call stack.
	// Default: false, conflicts reuse one preallocated error.
	ConflictStackTraces bool

	// Logger receives the engine's diagnostics. Default: discard.
	Logger *slog.Logger

	// Txn is the configuration of the Stm's default factory.
	Txn TxnConfig
}

// DefaultStmConfig returns the default Stm configuration.
func DefaultStmConfig() StmConfig {
	return StmConfig{
		SpinCount:           64,
		ReadBiasedThreshold: 64,
		MaxFixedLength:      20,
		FamilyCacheSize:     1024,
		Logger:              logging.Discard(),
		Txn:                 DefaultTxnConfig(),
	}
}

// Validate checks the configuration and names the first offending field.
func (c StmConfig) Validate() error {
	switch {
	case c.SpinCount < 0:
		return fmt.Errorf("engine: SpinCount must be >= 0, got %d", c.SpinCount)
	case c.ReadBiasedThreshold < 0 || c.ReadBiasedThreshold > orec.MaxReadBiasedThreshold:
		return fmt.Errorf("engine: ReadBiasedThreshold must be in [0, %d], got %d", orec.MaxReadBiasedThreshold, c.ReadBiasedThreshold)
	case c.MaxFixedLength < 2:
		return fmt.Errorf("engine: MaxFixedLength must be >= 2, got %d", c.MaxFixedLength)
	case c.FamilyCacheSize < 1:
		return fmt.Errorf("engine: FamilyCacheSize must be >= 1, got %d", c.FamilyCacheSize)
	}
	return c.Txn.Validate()
}
