package engine

import (
	"fmt"
	"sync/atomic"
)

// stats holds the live counters of an Stm.
//
// Thread Safety: all fields are updated with atomic adds from any goroutine.
type stats struct {
	starts              atomic.Uint64
	commits             atomic.Uint64
	aborts              atomic.Uint64
	readWriteConflicts  atomic.Uint64
	blockingRetries     atomic.Uint64
	speculativeUpgrades atomic.Uint64
	globalConflicts     atomic.Uint64
	tooManyRetries      atomic.Uint64
	atomicUpdates       atomic.Uint64
}

// Stats is a point-in-time copy of the Stm counters.
type Stats struct {
	// Starts counts transaction attempts, including reruns.
	Starts uint64

	// Commits counts successful commits.
	Commits uint64

	// Aborts counts aborts, whatever the reason.
	Aborts uint64

	// ReadWriteConflicts counts attempts that failed with a conflict.
	ReadWriteConflicts uint64

	// BlockingRetries counts waits on a retry latch.
	BlockingRetries uint64

	// SpeculativeUpgrades counts reruns on a richer transaction variant.
	SpeculativeUpgrades uint64

	// GlobalConflicts counts signals of the global conflict counter.
	GlobalConflicts uint64

	// TooManyRetries counts logical operations that gave up.
	TooManyRetries uint64

	// AtomicUpdates counts publishing atomic reference operations.
	AtomicUpdates uint64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Starts:              s.starts.Load(),
		Commits:             s.commits.Load(),
		Aborts:              s.aborts.Load(),
		ReadWriteConflicts:  s.readWriteConflicts.Load(),
		BlockingRetries:     s.blockingRetries.Load(),
		SpeculativeUpgrades: s.speculativeUpgrades.Load(),
		GlobalConflicts:     s.globalConflicts.Load(),
		TooManyRetries:      s.tooManyRetries.Load(),
		AtomicUpdates:       s.atomicUpdates.Load(),
	}
}

// String formats the stats for reports.
func (s Stats) String() string {
	return fmt.Sprintf("starts=%d commits=%d aborts=%d conflicts=%d blocking=%d upgrades=%d global=%d gaveup=%d atomic=%d",
		s.Starts, s.Commits, s.Aborts, s.ReadWriteConflicts, s.BlockingRetries,
		s.SpeculativeUpgrades, s.GlobalConflicts, s.TooManyRetries, s.AtomicUpdates)
}
