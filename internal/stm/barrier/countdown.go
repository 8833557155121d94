package barrier

import (
	"context"

	"github.com/kolkov/gostm/internal/stm/engine"
)

// CountDown is a commit barrier that commits once a number of parties have
// arrived. A party arrives by joining with a transaction or by calling CountDown
// without one.
//
// Thread Safety: all methods are safe for concurrent use.
type CountDown struct {
	gate
	parties int
}

// NewCountDown creates a barrier waiting for parties arrivals. A barrier for zero
// parties starts committed. NewCountDown panics if parties is negative.
func NewCountDown(parties int) *CountDown {
	if parties < 0 {
		panic("barrier: negative parties")
	}
	b := &CountDown{gate: newGate(), parties: parties}
	if parties == 0 {
		b.closeLocked(Committed)
	}
	return b
}

// Parties returns the number of arrivals still missing.
func (b *CountDown) Parties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}

// IncParties raises the number of expected arrivals by n. It fails when the
// barrier is no longer open.
func (b *CountDown) IncParties(n int) error {
	if n < 0 {
		return &engine.TxnError{Kind: engine.IllegalArgument, Op: "IncParties"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return closedError("IncParties")
	}
	b.parties += n
	return nil
}

// CountDown records the arrival of a party that has nothing to commit. It fails
// when the barrier is no longer open.
func (b *CountDown) CountDown() error {
	return b.arrive("CountDown")
}

// JoinCommit prepares tx and waits until the remaining parties arrive, then
// commits it. The last party to arrive releases all others.
//
// If the barrier aborts first, or ctx is done first (which aborts the barrier),
// tx is aborted and ErrAborted is returned. Joining a closed barrier aborts tx
// and fails with a CommitBarrierOpen error. A failed Prepare is returned as is and
// does not count as an arrival, so the party may run its transaction again.
func (b *CountDown) JoinCommit(ctx context.Context, tx *engine.Txn) error {
	const op = "JoinCommit"
	if err := b.prepare(tx, op); err != nil {
		return err
	}
	if err := b.arrive(op); err != nil {
		_ = tx.Abort()
		return err
	}
	return b.await(ctx, tx)
}

func (b *CountDown) arrive(op string) error {
	b.mu.Lock()
	if b.state != Open {
		b.mu.Unlock()
		return closedError(op)
	}
	b.parties--
	var tasks []func()
	if b.parties <= 0 {
		tasks = b.closeLocked(Committed)
	}
	b.mu.Unlock()
	run(tasks)
	return nil
}
