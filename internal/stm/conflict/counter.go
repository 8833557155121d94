// Package conflict implements the process-wide conflict counter used by the
// "richman's" conflict scan.
//
// Every commit that overwrites a reference while other transactions may hold a
// snapshot of it signals the counter exactly once. A reading transaction remembers the
// count it last validated against; as long as the live count is unchanged no
// reference anywhere has been invalidated, and the per-reference scan can be skipped.
package conflict

import "sync/atomic"

// cacheLine pads the counter so that it does not share a line with its neighbours.
const cacheLine = 64

// Counter is a monotonically increasing conflict count.
//
// The counter is owned by one Stm instance and passed to every transaction it creates;
// there is no global instance.
type Counter struct {
	_     [cacheLine]byte
	count atomic.Int64
	_     [cacheLine - 8]byte
}

// New returns a counter starting at zero.
func New() *Counter {
	return &Counter{}
}

// Count returns the current count.
//
//go:nosplit
func (c *Counter) Count() int64 {
	return c.count.Load()
}

// SignalConflict records one conflicting commit.
//
//go:nosplit
func (c *Counter) SignalConflict() {
	c.count.Add(1)
}
