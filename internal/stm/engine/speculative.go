package engine

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
)

// TxnKind is a transaction variant: a storage strategy combined with a lean or
// fat feature set.
type TxnKind uint8

const (
	// KindAuto lets the factory choose.
	KindAuto TxnKind = iota

	// LeanMono tracks one reference and supports reads and writes only.
	LeanMono

	// LeanFixed tracks a bounded number of references and can block in retry.
	LeanFixed

	// FatMono tracks one reference with every feature.
	FatMono

	// FatFixed tracks a bounded number of references with every feature.
	FatFixed

	// FatVariable tracks any number of references with every feature.
	FatVariable
)

// String returns the name of the kind.
func (k TxnKind) String() string {
	switch k {
	case KindAuto:
		return "Auto"
	case LeanMono:
		return "LeanMono"
	case LeanFixed:
		return "LeanFixed"
	case FatMono:
		return "FatMono"
	case FatFixed:
		return "FatFixed"
	case FatVariable:
		return "FatVariable"
	default:
		return "TxnKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// IsLean reports whether the kind lacks the fat feature set.
func (k TxnKind) IsLean() bool {
	return k == LeanMono || k == LeanFixed
}

// speculativeReason names the feature that forced an upgrade.
type speculativeReason uint8

const (
	reasonSize speculativeReason = iota
	reasonCommute
	reasonEnsure
	reasonLocks
	reasonListeners
	reasonOrElse
	reasonBlocking
)

var reasonNames = [...]string{
	reasonSize:      "size",
	reasonCommute:   "commute",
	reasonEnsure:    "ensure",
	reasonLocks:     "locks",
	reasonListeners: "listeners",
	reasonOrElse:    "orElse",
	reasonBlocking:  "blocking",
}

func (r speculativeReason) String() string {
	return reasonNames[r]
}

// SpeculativeConfig holds the shape hints learned about one transaction family.
//
// Hints only ever grow: once a family needed the fat feature set or more
// references it starts there from then on. The zero value starts at LeanMono.
//
// Thread Safety: all methods are safe for concurrent use.
type SpeculativeConfig struct {
	fat           atomic.Bool
	blocking      atomic.Bool
	minimalLength atomic.Int64
}

// Kind returns the cheapest variant that fits the hints.
func (c *SpeculativeConfig) Kind(maxFixedLength int) TxnKind {
	length := c.MinimalLength()
	if !c.fat.Load() {
		switch {
		case length <= 1 && !c.blocking.Load():
			return LeanMono
		case length <= maxFixedLength:
			return LeanFixed
		}
		return FatVariable
	}
	switch {
	case length <= 1:
		return FatMono
	case length <= maxFixedLength:
		return FatFixed
	}
	return FatVariable
}

// IsFat reports whether the family needs the fat feature set.
func (c *SpeculativeConfig) IsFat() bool {
	return c.fat.Load()
}

// MinimalLength returns the largest number of references seen so far (at least 1).
func (c *SpeculativeConfig) MinimalLength() int {
	n := int(c.minimalLength.Load())
	if n < 1 {
		return 1
	}
	return n
}

func (c *SpeculativeConfig) signalFat() {
	c.fat.Store(true)
}

func (c *SpeculativeConfig) signalBlocking() {
	c.blocking.Store(true)
}

func (c *SpeculativeConfig) signalSize(length int) {
	for {
		current := c.minimalLength.Load()
		if int64(length) <= current {
			return
		}
		if c.minimalLength.CompareAndSwap(current, int64(length)) {
			return
		}
	}
}

// String renders the hints.
func (c *SpeculativeConfig) String() string {
	return fmt.Sprintf("fat=%v blocking=%v length=%d", c.fat.Load(), c.blocking.Load(), c.MinimalLength())
}

// familyRegistry shares SpeculativeConfig hints between factories of the same
// family name. It is a bounded cache: a forgotten family simply learns its shape
// again.
type familyRegistry struct {
	mu    sync.Mutex
	cache *ristretto.Cache[string, *SpeculativeConfig]
}

func newFamilyRegistry(size int64) (*familyRegistry, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *SpeculativeConfig]{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: family registry: %w", err)
	}
	return &familyRegistry{cache: cache}, nil
}

// lookup returns the hints for name, creating them on first use. An empty name
// always yields fresh hints.
func (r *familyRegistry) lookup(name string) *SpeculativeConfig {
	if name == "" {
		return &SpeculativeConfig{}
	}
	if c, ok := r.cache.Get(name); ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache.Get(name); ok {
		return c
	}
	c := &SpeculativeConfig{}
	if r.cache.Set(name, c, 1) {
		r.cache.Wait()
	}
	return c
}

func (r *familyRegistry) close() {
	r.cache.Close()
}
