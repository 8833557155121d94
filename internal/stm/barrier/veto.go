package barrier

import (
	"context"

	"github.com/kolkov/gostm/internal/stm/engine"
)

// Veto is a commit barrier that any single party can commit. Parties that join
// wait until somebody calls VetoCommit or Abort.
//
// Thread Safety: all methods are safe for concurrent use.
type Veto struct {
	gate
}

// NewVeto creates an open veto barrier.
func NewVeto() *Veto {
	return &Veto{gate: newGate()}
}

// JoinCommit prepares tx and waits for the barrier to close. See
// CountDown.JoinCommit for the failure modes.
func (b *Veto) JoinCommit(ctx context.Context, tx *engine.Txn) error {
	if err := b.prepare(tx, "JoinCommit"); err != nil {
		return err
	}
	return b.await(ctx, tx)
}

// VetoCommit commits the barrier together with tx, which may be nil. Every
// waiting party is released to commit.
//
// If tx fails to prepare the barrier stays open and the error is returned.
func (b *Veto) VetoCommit(tx *engine.Txn) error {
	const op = "VetoCommit"
	if tx != nil {
		if err := b.prepare(tx, op); err != nil {
			return err
		}
	}

	b.mu.Lock()
	if b.state != Open {
		b.mu.Unlock()
		if tx != nil {
			_ = tx.Abort()
		}
		return closedError(op)
	}
	tasks := b.closeLocked(Committed)
	b.mu.Unlock()

	var err error
	if tx != nil {
		err = tx.Commit()
	}
	run(tasks)
	return err
}
