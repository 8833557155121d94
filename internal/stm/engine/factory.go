package engine

import (
	"log/slog"
	"time"

	"github.com/kolkov/gostm/internal/stm/logging"
)

// TxnFactory creates and runs transactions with one configuration.
//
// A factory is safe for concurrent use. Factories with the same FamilyName share
// their speculative hints through the Stm.
type TxnFactory struct {
	stm    *Stm
	config TxnConfig
	hints  *SpeculativeConfig
	log    *slog.Logger
}

// NewTxnFactory validates cfg and creates a factory.
func (s *Stm) NewTxnFactory(cfg TxnConfig) (*TxnFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff()
	}
	cfg.PermanentListeners = append([]TxnListener(nil), cfg.PermanentListeners...)

	hints := s.families.lookup(cfg.FamilyName)
	if cfg.needsFat() {
		hints.signalFat()
	}

	log := s.log
	if cfg.FamilyName != "" {
		log = logging.WithFamily(log, cfg.FamilyName)
	}
	return &TxnFactory{stm: s, config: cfg, hints: hints, log: log}, nil
}

// Config returns a copy of the factory configuration.
func (f *TxnFactory) Config() TxnConfig {
	return f.config
}

// Speculative returns the shape hints the factory starts from.
func (f *TxnFactory) Speculative() *SpeculativeConfig {
	return f.hints
}

// Stm returns the owning Stm.
func (f *TxnFactory) Stm() *Stm {
	return f.stm
}

// startKind picks the variant of the first attempt.
func (f *TxnFactory) startKind() TxnKind {
	switch {
	case f.config.Kind != KindAuto:
		return f.config.Kind
	case !f.config.Speculative:
		return FatVariable
	default:
		return f.hints.Kind(f.stm.config.MaxFixedLength)
	}
}

// speculative reports whether the factory may rerun on a richer variant.
func (f *TxnFactory) speculative() bool {
	return f.config.Speculative && f.config.Kind == KindAuto
}

func (f *TxnFactory) timeout() time.Duration {
	if f.config.Timeout <= 0 {
		return NoTimeout
	}
	return f.config.Timeout
}

// newTxn takes a transaction of kind from pool, or allocates one, and starts its
// first attempt.
func (f *TxnFactory) newTxn(pool *Pool, kind TxnKind) *Txn {
	tx := pool.takeTxn(kind)
	if tx == nil {
		tx = &Txn{}
	}
	tx.stm = f.stm
	tx.factory = f
	tx.config = &f.config
	tx.pool = pool
	tx.kind = kind
	tx.lean = kind.IsLean()
	tx.initStorage()
	tx.attempt = 1
	tx.remainingTimeout = f.timeout()
	tx.begin()
	return tx
}

// Begin starts a transaction that the caller drives by hand with Commit, Abort
// and Prepare. It does not speculate: it uses the configured Kind, or FatVariable.
//
// A hand-driven transaction cannot block: Retry aborts it and returns ErrRetry.
// Nothing reruns it either, so on a forced lean Kind an operation the variant
// lacks returns ErrSpeculativeConfiguration.
func (f *TxnFactory) Begin() *Txn {
	kind := f.config.Kind
	if kind == KindAuto {
		kind = FatVariable
	}
	tx := f.newTxn(f.stm.takePool(), kind)
	tx.manual = true
	return tx
}
