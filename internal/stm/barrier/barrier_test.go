package barrier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kolkov/gostm/internal/stm/engine"
)

func newTestStm(t *testing.T) *engine.Stm {
	t.Helper()
	s := engine.MustNew(engine.DefaultStmConfig())
	t.Cleanup(s.Close)
	return s
}

// waitFor polls cond until it holds or the test deadline of one second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// join starts a party that writes v into r and joins b from its own goroutine.
func join(ctx context.Context, s *engine.Stm, r *engine.LongRef, v int64, joinCommit func(context.Context, *engine.Txn) error) <-chan error {
	errc := make(chan error, 1)
	go func() {
		tx := s.Begin()
		if err := r.Set(tx, v); err != nil {
			errc <- err
			return
		}
		errc <- joinCommit(ctx, tx)
	}()
	return errc
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Open, "Open"},
		{Committed, "Committed"},
		{Aborted, "Aborted"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

// TestCountDownJoinCommit verifies that prepared parties stay invisible until the
// last party arrives and then all commit.
func TestCountDownJoinCommit(t *testing.T) {
	s := newTestStm(t)
	ctx := context.Background()
	a, b := engine.NewLongRef(s, 0), engine.NewLongRef(s, 0)
	bar := NewCountDown(2)

	errc := join(ctx, s, a, 1, bar.JoinCommit)
	waitFor(t, "first party", func() bool { return bar.Parties() == 1 })

	if mode := a.Lock().AtomicLockMode(); mode != engine.LockExclusive {
		t.Errorf("prepared party holds %v, want Exclusive", mode)
	}
	if got := a.AtomicWeakGet(); got != 0 {
		t.Errorf("value published before the barrier committed: %d", got)
	}

	tx := s.Begin()
	if err := b.Set(tx, 2); err != nil {
		t.Fatal(err)
	}
	if err := bar.JoinCommit(ctx, tx); err != nil {
		t.Fatalf("last JoinCommit() error = %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("first JoinCommit() error = %v", err)
	}

	if !bar.IsCommitted() {
		t.Errorf("state = %v, want Committed", bar.State())
	}
	if a.AtomicGet() != 1 || b.AtomicGet() != 2 {
		t.Errorf("values = %d, %d, want 1, 2", a.AtomicGet(), b.AtomicGet())
	}
	if tx.Status() != engine.Committed {
		t.Errorf("tx status = %v", tx.Status())
	}
}

// TestCountDownAbort verifies that aborting releases waiting parties with their
// transactions aborted and their locks dropped.
func TestCountDownAbort(t *testing.T) {
	s := newTestStm(t)
	ctx := context.Background()
	a, b := engine.NewLongRef(s, 0), engine.NewLongRef(s, 0)
	bar := NewCountDown(3)

	var aborted, committed atomic.Int32
	if err := bar.RegisterOnAbort(func() { aborted.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := bar.RegisterOnCommit(func() { committed.Add(1) }); err != nil {
		t.Fatal(err)
	}

	errA := join(ctx, s, a, 1, bar.JoinCommit)
	errB := join(ctx, s, b, 1, bar.JoinCommit)
	waitFor(t, "two parties", func() bool { return bar.Parties() == 1 })

	bar.Abort()
	bar.Abort()

	for _, errc := range []<-chan error{errA, errB} {
		if err := <-errc; !errors.Is(err, ErrAborted) {
			t.Errorf("JoinCommit() error = %v, want ErrAborted", err)
		}
	}
	for _, r := range []*engine.LongRef{a, b} {
		if mode := r.Lock().AtomicLockMode(); mode != engine.LockNone {
			t.Errorf("lock mode after abort = %v", mode)
		}
		if r.AtomicGet() != 0 {
			t.Errorf("aborted party published %d", r.AtomicGet())
		}
	}
	if aborted.Load() != 1 || committed.Load() != 0 {
		t.Errorf("tasks ran abort=%d commit=%d, want 1, 0", aborted.Load(), committed.Load())
	}
	if err := bar.RegisterOnCommit(func() {}); !errors.Is(err, engine.ErrCommitBarrierOpen) {
		t.Errorf("RegisterOnCommit() on aborted barrier = %v", err)
	}
	if err := bar.CountDown(); !errors.Is(err, engine.ErrCommitBarrierOpen) {
		t.Errorf("CountDown() on aborted barrier = %v", err)
	}
}

// TestCountDownContextCancel verifies that a cancelled waiter aborts the barrier.
func TestCountDownContextCancel(t *testing.T) {
	s := newTestStm(t)
	a := engine.NewLongRef(s, 0)
	bar := NewCountDown(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := join(ctx, s, a, 1, bar.JoinCommit)
	waitFor(t, "party", func() bool { return bar.Parties() == 1 })
	cancel()

	err := <-errc
	if !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Errorf("JoinCommit() error = %v, want ErrAborted wrapping context.Canceled", err)
	}
	if !bar.IsAborted() {
		t.Errorf("state = %v, want Aborted", bar.State())
	}
	if a.AtomicGet() != 0 {
		t.Errorf("value = %d, want 0", a.AtomicGet())
	}
}

func TestCountDownParties(t *testing.T) {
	s := newTestStm(t)
	ctx := context.Background()
	r := engine.NewLongRef(s, 0)

	bar := NewCountDown(1)
	var commits atomic.Int32
	if err := bar.RegisterOnCommit(func() { commits.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := bar.IncParties(1); err != nil {
		t.Fatal(err)
	}
	if err := bar.IncParties(-1); !errors.Is(err, engine.ErrIllegalArgument) {
		t.Errorf("IncParties(-1) = %v, want ErrIllegalArgument", err)
	}
	if bar.Parties() != 2 {
		t.Fatalf("Parties() = %d, want 2", bar.Parties())
	}
	if err := bar.CountDown(); err != nil {
		t.Fatal(err)
	}

	tx := s.Begin()
	if err := r.Set(tx, 7); err != nil {
		t.Fatal(err)
	}
	if err := bar.JoinCommit(ctx, tx); err != nil {
		t.Fatalf("JoinCommit() error = %v", err)
	}
	if r.AtomicGet() != 7 {
		t.Errorf("value = %d, want 7", r.AtomicGet())
	}
	if commits.Load() != 1 {
		t.Errorf("commit tasks ran %d times", commits.Load())
	}
	if err := bar.IncParties(1); !errors.Is(err, engine.ErrCommitBarrierOpen) {
		t.Errorf("IncParties() on committed barrier = %v", err)
	}
	select {
	case <-bar.Done():
	default:
		t.Error("Done() not closed after commit")
	}
}

func TestCountDownZeroParties(t *testing.T) {
	s := newTestStm(t)
	r := engine.NewLongRef(s, 0)
	bar := NewCountDown(0)
	if !bar.IsCommitted() {
		t.Fatalf("state = %v, want Committed", bar.State())
	}

	tx := s.Begin()
	if err := r.Set(tx, 1); err != nil {
		t.Fatal(err)
	}
	if err := bar.JoinCommit(context.Background(), tx); !errors.Is(err, engine.ErrCommitBarrierOpen) {
		t.Fatalf("JoinCommit() = %v, want ErrCommitBarrierOpen", err)
	}
	if tx.Status() != engine.Aborted {
		t.Errorf("tx status = %v, want Aborted", tx.Status())
	}
	if r.AtomicGet() != 0 {
		t.Errorf("value = %d, want 0", r.AtomicGet())
	}
}

func TestNewCountDownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewCountDown(-1) did not panic")
		}
	}()
	NewCountDown(-1)
}

// TestJoinCommitRejects verifies the failures that leave the barrier open.
func TestJoinCommitRejects(t *testing.T) {
	s := newTestStm(t)
	ctx := context.Background()
	bar := NewCountDown(1)

	if err := bar.JoinCommit(ctx, nil); !errors.Is(err, engine.ErrIllegalArgument) {
		t.Errorf("JoinCommit(nil) = %v, want ErrIllegalArgument", err)
	}

	tx := s.Begin()
	if err := tx.SetAbortOnly(); err != nil {
		t.Fatal(err)
	}
	if err := bar.JoinCommit(ctx, tx); !errors.Is(err, engine.ErrReadWriteConflict) {
		t.Errorf("JoinCommit(abort only) = %v, want ErrReadWriteConflict", err)
	}
	if bar.Parties() != 1 || bar.State() != Open {
		t.Errorf("failed prepare changed the barrier: parties=%d state=%v", bar.Parties(), bar.State())
	}
	if err := bar.RegisterOnAbort(nil); !errors.Is(err, engine.ErrIllegalArgument) {
		t.Errorf("RegisterOnAbort(nil) = %v", err)
	}
}

// TestVeto verifies that one VetoCommit commits every waiting party.
func TestVeto(t *testing.T) {
	s := newTestStm(t)
	ctx := context.Background()
	a, b, c := engine.NewLongRef(s, 0), engine.NewLongRef(s, 0), engine.NewLongRef(s, 0)
	bar := NewVeto()

	errA := join(ctx, s, a, 1, bar.JoinCommit)
	errB := join(ctx, s, b, 2, bar.JoinCommit)
	for _, r := range []*engine.LongRef{a, b} {
		waitFor(t, "prepared party", func() bool { return r.Lock().AtomicLockMode() == engine.LockExclusive })
	}

	tx := s.Begin()
	if err := c.Set(tx, 3); err != nil {
		t.Fatal(err)
	}
	if err := bar.VetoCommit(tx); err != nil {
		t.Fatalf("VetoCommit() error = %v", err)
	}
	for _, errc := range []<-chan error{errA, errB} {
		if err := <-errc; err != nil {
			t.Errorf("JoinCommit() error = %v", err)
		}
	}
	if a.AtomicGet() != 1 || b.AtomicGet() != 2 || c.AtomicGet() != 3 {
		t.Errorf("values = %d, %d, %d", a.AtomicGet(), b.AtomicGet(), c.AtomicGet())
	}

	late := s.Begin()
	if err := bar.VetoCommit(late); !errors.Is(err, engine.ErrCommitBarrierOpen) {
		t.Errorf("second VetoCommit() = %v, want ErrCommitBarrierOpen", err)
	}
	if late.Status() != engine.Aborted {
		t.Errorf("late tx status = %v, want Aborted", late.Status())
	}
}

func TestVetoWithoutTxn(t *testing.T) {
	bar := NewVeto()
	var ran atomic.Bool
	if err := bar.RegisterOnCommit(func() { ran.Store(true) }); err != nil {
		t.Fatal(err)
	}
	if err := bar.VetoCommit(nil); err != nil {
		t.Fatalf("VetoCommit(nil) error = %v", err)
	}
	if !bar.IsCommitted() || !ran.Load() {
		t.Errorf("state = %v, task ran = %v", bar.State(), ran.Load())
	}
}

func TestVetoAbort(t *testing.T) {
	s := newTestStm(t)
	a := engine.NewLongRef(s, 0)
	bar := NewVeto()

	errc := join(context.Background(), s, a, 1, bar.JoinCommit)
	waitFor(t, "prepared party", func() bool { return a.Lock().AtomicLockMode() == engine.LockExclusive })
	bar.Abort()

	if err := <-errc; !errors.Is(err, ErrAborted) {
		t.Errorf("JoinCommit() error = %v, want ErrAborted", err)
	}
	if err := bar.VetoCommit(nil); !errors.Is(err, engine.ErrCommitBarrierOpen) {
		t.Errorf("VetoCommit() after abort = %v", err)
	}
	if a.AtomicGet() != 0 {
		t.Errorf("value = %d, want 0", a.AtomicGet())
	}
}

// TestRunParties verifies executor-driven parties that commit through a barrier.
func TestRunParties(t *testing.T) {
	s := newTestStm(t)
	const n = 4
	refs := make([]*engine.LongRef, n)
	for i := range refs {
		refs[i] = engine.NewLongRef(s, 0)
	}
	bar := NewCountDown(n)

	parties := make([]func(context.Context) error, n)
	for i := range parties {
		parties[i] = func(ctx context.Context) error {
			return s.Atomic(ctx, func(tx *engine.Txn) error {
				if _, err := refs[i].IncrementAndGet(tx, int64(i+1)); err != nil {
					return err
				}
				return bar.JoinCommit(ctx, tx)
			})
		}
	}

	if err := RunParties(context.Background(), bar, parties...); err != nil {
		t.Fatalf("RunParties() error = %v", err)
	}
	for i, r := range refs {
		if got := r.AtomicGet(); got != int64(i+1) {
			t.Errorf("ref %d = %d, want %d", i, got, i+1)
		}
	}
	if !bar.IsCommitted() {
		t.Errorf("state = %v, want Committed", bar.State())
	}
}

// TestRunPartiesFailure verifies that one failing party aborts the others and its
// own error is reported.
func TestRunPartiesFailure(t *testing.T) {
	s := newTestStm(t)
	a, b := engine.NewLongRef(s, 0), engine.NewLongRef(s, 0)
	bar := NewCountDown(3)
	boom := errors.New("boom")

	joiner := func(r *engine.LongRef) func(context.Context) error {
		return func(ctx context.Context) error {
			return s.Atomic(ctx, func(tx *engine.Txn) error {
				if err := r.Set(tx, 1); err != nil {
					return err
				}
				return bar.JoinCommit(ctx, tx)
			})
		}
	}
	failing := func(ctx context.Context) error {
		for bar.Parties() > 1 {
			time.Sleep(time.Millisecond)
		}
		return fmt.Errorf("party: %w", boom)
	}

	err := RunParties(context.Background(), bar, joiner(a), joiner(b), failing)
	if !errors.Is(err, boom) {
		t.Fatalf("RunParties() error = %v, want boom", err)
	}
	if !bar.IsAborted() {
		t.Errorf("state = %v, want Aborted", bar.State())
	}
	if a.AtomicGet() != 0 || b.AtomicGet() != 0 {
		t.Errorf("aborted parties published %d, %d", a.AtomicGet(), b.AtomicGet())
	}
}
