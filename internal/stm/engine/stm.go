package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kolkov/gostm/internal/stm/conflict"
	"github.com/kolkov/gostm/internal/stm/logging"
	"github.com/kolkov/gostm/internal/stm/stackdepot"
)

// Stm is one software transactional memory instance.
//
// References belong to the Stm that created them and may only be used by its
// transactions. There is no process-wide instance: every Stm has its own conflict
// counter, family registry, pools and statistics.
//
// Thread Safety: all methods are safe for concurrent use.
type Stm struct {
	config StmConfig

	counter  *conflict.Counter
	depot    *stackdepot.Depot
	families *familyRegistry
	pools    sync.Pool

	identity atomic.Uint64
	stats    stats
	log      *slog.Logger

	defaultFactory *TxnFactory
}

// New creates an Stm from cfg.
func New(cfg StmConfig) (*Stm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	families, err := newFamilyRegistry(cfg.FamilyCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Stm{
		config:   cfg,
		counter:  conflict.New(),
		families: families,
		log:      cfg.Logger,
	}
	s.pools.New = func() any { return NewPool() }
	if cfg.ConflictStackTraces {
		s.depot = stackdepot.New()
	}

	s.defaultFactory, err = s.NewTxnFactory(cfg.Txn)
	if err != nil {
		families.close()
		return nil, fmt.Errorf("engine: default factory: %w", err)
	}

	s.log.Debug("stm created",
		"spinCount", cfg.SpinCount,
		"readBiasedThreshold", cfg.ReadBiasedThreshold,
		"maxFixedLength", cfg.MaxFixedLength,
		"conflictStackTraces", cfg.ConflictStackTraces)
	return s, nil
}

// MustNew is like New but panics on an invalid configuration.
func MustNew(cfg StmConfig) *Stm {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Close releases the family registry. References and factories must not be used
// afterwards.
func (s *Stm) Close() {
	s.families.close()
	s.log.Debug("stm closed", "stats", s.Stats().String())
}

// Config returns a copy of the configuration.
func (s *Stm) Config() StmConfig {
	return s.config
}

// DefaultFactory returns the factory built from StmConfig.Txn.
func (s *Stm) DefaultFactory() *TxnFactory {
	return s.defaultFactory
}

// Atomic runs fn in a transaction of the default factory.
func (s *Stm) Atomic(ctx context.Context, fn func(tx *Txn) error) error {
	return s.defaultFactory.Execute(ctx, fn)
}

// Begin starts a hand-driven transaction of the default factory.
func (s *Stm) Begin() *Txn {
	return s.defaultFactory.Begin()
}

// Stats returns a snapshot of the counters.
func (s *Stm) Stats() Stats {
	return s.stats.snapshot()
}

// GlobalConflictCount returns the conflict counter.
func (s *Stm) GlobalConflictCount() int64 {
	return s.counter.Count()
}

// Logger returns the logger the Stm reports to.
func (s *Stm) Logger() *slog.Logger {
	return s.log
}

func (s *Stm) signalConflict() {
	s.counter.SignalConflict()
	s.stats.globalConflicts.Add(1)
}

func (s *Stm) takePool() *Pool {
	return s.pools.Get().(*Pool)
}

func (s *Stm) putPool(p *Pool) {
	s.pools.Put(p)
}

func (s *Stm) nextIdentity() uint64 {
	return s.identity.Add(1)
}
