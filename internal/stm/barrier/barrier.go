// Package barrier coordinates the commit of several transactions.
//
// Each party runs its own transaction on its own goroutine and hands it to the
// barrier with JoinCommit. JoinCommit prepares the transaction, so its writes are
// validated and locked, and then parks the goroutine until the barrier decides.
// When the barrier commits every waiting party commits its own prepared
// transaction; when it aborts every waiting party aborts its own. A transaction
// never crosses goroutines.
//
// Two barriers are provided:
//
//   - [CountDown] commits once a fixed number of parties have joined or counted
//     down.
//   - [Veto] commits as soon as one party calls VetoCommit.
//
// Both abort when any party calls Abort or when a waiting party's context is done.
package barrier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kolkov/gostm/internal/stm/engine"
)

// ErrAborted is returned by JoinCommit when the barrier aborts while the party is
// waiting.
var ErrAborted = errors.New("barrier: aborted")

// State is the lifecycle state of a barrier.
type State uint8

const (
	// Open barriers accept parties.
	Open State = iota
	// Committed barriers have released their parties to commit.
	Committed
	// Aborted barriers have released their parties to abort.
	Aborted
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Barrier is the part shared by every commit barrier.
type Barrier interface {
	State() State
	Abort()
}

// gate holds the state machine shared by CountDown and Veto.
type gate struct {
	mu       sync.Mutex
	state    State
	done     chan struct{}
	onCommit []func()
	onAbort  []func()
}

func newGate() gate {
	return gate{done: make(chan struct{})}
}

func closedError(op string) error {
	return &engine.TxnError{Kind: engine.CommitBarrierOpen, Op: op}
}

// State returns the current state.
func (g *gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsCommitted reports whether the barrier has committed.
func (g *gate) IsCommitted() bool { return g.State() == Committed }

// IsAborted reports whether the barrier has aborted.
func (g *gate) IsAborted() bool { return g.State() == Aborted }

// Done returns a channel that is closed once the barrier commits or aborts.
func (g *gate) Done() <-chan struct{} { return g.done }

// RegisterOnCommit adds a task that runs once when the barrier commits.
// It fails when the barrier is no longer open.
func (g *gate) RegisterOnCommit(task func()) error {
	return g.register(&g.onCommit, task, "RegisterOnCommit")
}

// RegisterOnAbort adds a task that runs once when the barrier aborts.
// It fails when the barrier is no longer open.
func (g *gate) RegisterOnAbort(task func()) error {
	return g.register(&g.onAbort, task, "RegisterOnAbort")
}

func (g *gate) register(tasks *[]func(), task func(), op string) error {
	if task == nil {
		return &engine.TxnError{Kind: engine.IllegalArgument, Op: op}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Open {
		return closedError(op)
	}
	*tasks = append(*tasks, task)
	return nil
}

// Abort aborts the barrier. Waiting parties abort their transactions and return
// ErrAborted. Aborting a closed barrier does nothing.
func (g *gate) Abort() {
	g.mu.Lock()
	tasks := g.closeLocked(Aborted)
	g.mu.Unlock()
	run(tasks)
}

// closeLocked moves an open barrier to state and returns the tasks to run. It
// returns nil when the barrier was already closed.
func (g *gate) closeLocked(state State) []func() {
	if g.state != Open {
		return nil
	}
	g.state = state
	close(g.done)

	tasks := g.onCommit
	if state == Aborted {
		tasks = g.onAbort
	}
	g.onCommit, g.onAbort = nil, nil
	return tasks
}

func run(tasks []func()) {
	for _, task := range tasks {
		task()
	}
}

// prepare validates and locks tx for a party that is about to join. A nil
// transaction is rejected; a closed barrier aborts tx.
func (g *gate) prepare(tx *engine.Txn, op string) error {
	if tx == nil {
		return &engine.TxnError{Kind: engine.IllegalArgument, Op: op}
	}
	if g.State() != Open {
		_ = tx.Abort()
		return closedError(op)
	}
	return tx.Prepare()
}

// await parks a prepared party until the barrier closes, then finishes tx the way
// the barrier went. When ctx is done first the barrier is aborted.
func (g *gate) await(ctx context.Context, tx *engine.Txn) error {
	select {
	case <-g.done:
	case <-ctx.Done():
		g.Abort()
	}
	return g.finish(ctx, tx)
}

func (g *gate) finish(ctx context.Context, tx *engine.Txn) error {
	if g.State() == Committed {
		return tx.Commit()
	}
	_ = tx.Abort()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return ErrAborted
}
