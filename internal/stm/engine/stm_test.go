package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kolkov/gostm/internal/stm/logging"
	"github.com/kolkov/gostm/internal/stm/orec"
)

func newTestStm(t *testing.T, mutate ...func(*StmConfig)) *Stm {
	t.Helper()
	cfg := DefaultStmConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newTestFactory(t *testing.T, s *Stm, mutate ...func(*TxnConfig)) *TxnFactory {
	t.Helper()
	cfg := DefaultTxnConfig()
	cfg.Backoff = NoBackoff{}
	for _, m := range mutate {
		m(&cfg)
	}
	f, err := s.NewTxnFactory(cfg)
	if err != nil {
		t.Fatalf("NewTxnFactory() error = %v", err)
	}
	return f
}

// assertNoLocks fails when anybody still holds a lock or an arrival on r.
func assertNoLocks(t *testing.T, r *baseRef) {
	t.Helper()
	w := r.orec.Load()
	if w.LockMode() != orec.LockNone {
		t.Errorf("lock mode = %v, want None (%v)", w.LockMode(), w)
	}
	if w.Surplus() != 0 {
		t.Errorf("surplus = %d, want 0 (%v)", w.Surplus(), w)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StmConfig)
		field  string
	}{
		{name: "spin count", mutate: func(c *StmConfig) { c.SpinCount = -1 }, field: "SpinCount"},
		{name: "threshold", mutate: func(c *StmConfig) { c.ReadBiasedThreshold = orec.MaxReadBiasedThreshold + 1 }, field: "ReadBiasedThreshold"},
		{name: "fixed length", mutate: func(c *StmConfig) { c.MaxFixedLength = 1 }, field: "MaxFixedLength"},
		{name: "family cache", mutate: func(c *StmConfig) { c.FamilyCacheSize = 0 }, field: "FamilyCacheSize"},
		{name: "txn retries", mutate: func(c *StmConfig) { c.Txn.MaxRetries = -1 }, field: "MaxRetries"},
		{name: "lock order", mutate: func(c *StmConfig) {
			c.Txn.ReadLockMode = orec.LockWrite
			c.Txn.WriteLockMode = orec.LockRead
		}, field: "WriteLockMode"},
		{name: "nil listener", mutate: func(c *StmConfig) { c.Txn.PermanentListeners = []TxnListener{nil} }, field: "PermanentListeners"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultStmConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if err == nil {
				t.Fatal("New() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestMustNewPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustNew did not panic")
		}
	}()
	cfg := DefaultStmConfig()
	cfg.MaxFixedLength = 0
	MustNew(cfg)
}

// TestAtomicCountsStats verifies that commits and aborts show up in Stats.
func TestAtomicCountsStats(t *testing.T) {
	s := newTestStm(t)
	r := NewLongRef(s, 1)
	ctx := context.Background()

	if err := s.Atomic(ctx, func(tx *Txn) error {
		_, err := r.IncrementAndGet(tx, 1)
		return err
	}); err != nil {
		t.Fatalf("Atomic() error = %v", err)
	}

	boom := errors.New("boom")
	if err := s.Atomic(ctx, func(tx *Txn) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Atomic() error = %v, want %v", err, boom)
	}

	st := s.Stats()
	if st.Commits != 1 {
		t.Errorf("Commits = %d, want 1", st.Commits)
	}
	if st.Aborts != 1 {
		t.Errorf("Aborts = %d, want 1", st.Aborts)
	}
	if st.Starts != 2 {
		t.Errorf("Starts = %d, want 2", st.Starts)
	}
	if got := r.AtomicGet(); got != 2 {
		t.Errorf("value = %d, want 2", got)
	}
	if !strings.Contains(st.String(), "commits=1") {
		t.Errorf("String() = %q", st.String())
	}
}

// TestLoggerReceivesWarnings verifies that giving up is logged at Warn.
func TestLoggerReceivesWarnings(t *testing.T) {
	var buf bytes.Buffer
	s := newTestStm(t, func(c *StmConfig) {
		c.Logger = logging.NewWriter(&buf, logging.LevelWarn, "text")
	})
	f := newTestFactory(t, s, func(c *TxnConfig) {
		c.FamilyName = "noisy"
		c.MaxRetries = 0
	})

	err := f.Execute(context.Background(), func(tx *Txn) error { return ErrReadWriteConflict })
	if !errors.Is(err, ErrTooManyRetries) {
		t.Fatalf("Execute() error = %v, want ErrTooManyRetries", err)
	}
	out := buf.String()
	if !strings.Contains(out, "too many retries") || !strings.Contains(out, "family=noisy") {
		t.Errorf("log output = %q", out)
	}
}

func TestConfigAccessors(t *testing.T) {
	s := newTestStm(t, func(c *StmConfig) { c.Logger = nil })
	if s.Logger() == nil {
		t.Fatal("nil Logger was not replaced")
	}
	if s.Config().MaxFixedLength != 20 {
		t.Errorf("MaxFixedLength = %d, want 20", s.Config().MaxFixedLength)
	}
	f := s.DefaultFactory()
	if f.Stm() != s {
		t.Error("default factory belongs to another Stm")
	}
	if f.Config().MaxRetries != 1000 || f.Config().Timeout != NoTimeout {
		t.Errorf("default txn config = %+v", f.Config())
	}

	tx := s.Begin()
	defer tx.Abort()
	if tx.Kind() != FatVariable {
		t.Errorf("Begin().Kind() = %v, want FatVariable", tx.Kind())
	}
	if tx.RemainingTimeout() != NoTimeout {
		t.Errorf("RemainingTimeout() = %v, want NoTimeout", tx.RemainingTimeout())
	}
}

func TestTxnConfigTimeout(t *testing.T) {
	s := newTestStm(t)
	f := newTestFactory(t, s, func(c *TxnConfig) { c.Timeout = 0 })
	if got := f.timeout(); got != NoTimeout {
		t.Errorf("timeout() = %v, want NoTimeout", got)
	}
	f = newTestFactory(t, s, func(c *TxnConfig) { c.Timeout = time.Second })
	if got := f.timeout(); got != time.Second {
		t.Errorf("timeout() = %v, want 1s", got)
	}
}
