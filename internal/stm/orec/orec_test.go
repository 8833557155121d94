package orec

import (
	"sync"
	"testing"
)

// TestWordLayout verifies the packed field accessors.
func TestWordLayout(t *testing.T) {
	tests := []struct {
		name      string
		word      Word
		surplus   uint64
		readonly  uint64
		readLocks uint64
		mode      LockMode
		biased    bool
	}{
		{name: "zero", word: 0, mode: LockNone},
		{name: "surplus only", word: Word(0).withSurplus(7), surplus: 7, mode: LockNone},
		{name: "max surplus", word: Word(0).withSurplus(MaxSurplus), surplus: MaxSurplus, mode: LockNone},
		{name: "readonly streak", word: Word(0).withReadonlyCount(12), readonly: 12, mode: LockNone},
		{name: "readonly capped", word: Word(0).withReadonlyCount(5000), readonly: MaxReadBiasedThreshold, mode: LockNone},
		{name: "read locks", word: Word(0).withSurplus(3).withLock(LockRead).withLock(LockRead), surplus: 3, readLocks: 2, mode: LockRead},
		{name: "write lock", word: Word(0).withSurplus(1).withLock(LockWrite), surplus: 1, mode: LockWrite},
		{name: "exclusive lock", word: Word(0).withSurplus(1).withLock(LockExclusive), surplus: 1, mode: LockExclusive},
		{name: "biased", word: Word(0).withReadBiased(true), biased: true, mode: LockNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.word.Surplus(); got != tt.surplus {
				t.Errorf("Surplus() = %d, want %d", got, tt.surplus)
			}
			if got := tt.word.ReadonlyCount(); got != tt.readonly {
				t.Errorf("ReadonlyCount() = %d, want %d", got, tt.readonly)
			}
			if got := tt.word.ReadLockCount(); got != tt.readLocks {
				t.Errorf("ReadLockCount() = %d, want %d", got, tt.readLocks)
			}
			if got := tt.word.LockMode(); got != tt.mode {
				t.Errorf("LockMode() = %v, want %v", got, tt.mode)
			}
			if got := tt.word.IsReadBiased(); got != tt.biased {
				t.Errorf("IsReadBiased() = %v, want %v", got, tt.biased)
			}
		})
	}
}

func TestLockModeString(t *testing.T) {
	want := map[LockMode]string{
		LockNone:      "None",
		LockRead:      "Read",
		LockWrite:     "Write",
		LockExclusive: "Exclusive",
		LockMode(9):   "LockMode(9)",
	}
	for mode, name := range want {
		if got := mode.String(); got != name {
			t.Errorf("%d.String() = %q, want %q", mode, got, name)
		}
	}
	if LockMode(4).Valid() {
		t.Error("LockMode(4) should be invalid")
	}
	if MaxLockMode(LockRead, LockWrite) != LockWrite || MaxLockMode(LockExclusive, LockNone) != LockExclusive {
		t.Error("MaxLockMode returned the weaker mode")
	}
}

// TestArriveDepart verifies surplus bookkeeping for plain reads.
func TestArriveDepart(t *testing.T) {
	var o Orec
	o.Init(0)

	if s := o.Arrive(1); s.Failed() || s.Unregistered() || s.Conflict() {
		t.Fatalf("Arrive = %b, want plain success", s)
	}
	if s := o.Arrive(1); s.Failed() {
		t.Fatalf("second Arrive failed")
	}
	if got := o.Load().Surplus(); got != 2 {
		t.Fatalf("surplus = %d, want 2", got)
	}

	o.DepartAfterReading()
	o.DepartAfterFailure()
	if got := o.Load().Surplus(); got != 0 {
		t.Fatalf("surplus after departs = %d, want 0", got)
	}
	if o.Load().IsReadBiased() {
		t.Error("threshold 0 must never bias")
	}
}

// TestLockCompatibility verifies which locks a second arrival may take while a first
// transaction holds a lock.
func TestLockCompatibility(t *testing.T) {
	modes := []LockMode{LockNone, LockRead, LockWrite, LockExclusive}
	// ok[held][requested]
	ok := [4][4]bool{
		LockNone:      {true, true, true, true},
		LockRead:      {true, true, false, false},
		LockWrite:     {false, false, false, false},
		LockExclusive: {false, false, false, false},
	}

	for _, held := range modes {
		for _, requested := range modes {
			t.Run(held.String()+"/"+requested.String(), func(t *testing.T) {
				var o Orec
				o.Init(0)
				if s := o.ArriveAndLock(0, held); s.Failed() {
					t.Fatalf("first ArriveAndLock(%v) failed", held)
				}

				s := o.ArriveAndLock(0, requested)
				if got := !s.Failed(); got != ok[held][requested] {
					t.Fatalf("ArriveAndLock(%v) with %v held: success=%v, want %v", requested, held, got, ok[held][requested])
				}
				if s.Failed() {
					return
				}
				if requested == LockNone {
					o.DepartAfterReading()
				} else {
					o.DepartAfterFailureAndUnlock()
				}
			})
		}
	}
}

// TestConflictFlag verifies that write locks report other readers.
func TestConflictFlag(t *testing.T) {
	t.Run("alone", func(t *testing.T) {
		var o Orec
		if s := o.ArriveAndLock(0, LockExclusive); s.Conflict() {
			t.Error("lone writer should not conflict")
		}
	})

	t.Run("with reader", func(t *testing.T) {
		var o Orec
		o.Arrive(0)
		if s := o.ArriveAndLock(0, LockWrite); !s.Conflict() {
			t.Error("writer next to a reader should conflict")
		}
	})

	t.Run("lock after arrive", func(t *testing.T) {
		var o Orec
		o.Arrive(0)
		if s := o.LockAfterArrive(0, LockExclusive); s.Failed() || s.Conflict() {
			t.Errorf("LockAfterArrive alone = %b", s)
		}
		o.DepartAfterFailureAndUnlock()

		o.Arrive(0)
		o.Arrive(0)
		if s := o.LockAfterArrive(0, LockExclusive); !s.Conflict() {
			t.Error("LockAfterArrive with a second reader should conflict")
		}
	})

	t.Run("plain arrive", func(t *testing.T) {
		var o Orec
		o.Arrive(0)
		if s := o.Arrive(0); s.Failed() || s.Conflict() {
			t.Errorf("second Arrive = %b, want success without conflict", s)
		}
	})
}

// TestUpdateLocksBlockArrive verifies that write and exclusive locks keep readers
// out until the spin budget is exhausted, while a read lock lets them in.
func TestUpdateLocksBlockArrive(t *testing.T) {
	tests := []struct {
		held LockMode
		ok   bool
	}{
		{LockRead, true},
		{LockWrite, false},
		{LockExclusive, false},
	}
	for _, tt := range tests {
		t.Run(tt.held.String(), func(t *testing.T) {
			var o Orec
			o.ArriveAndLock(0, tt.held)

			s := o.Arrive(32)
			if got := !s.Failed(); got != tt.ok {
				t.Fatalf("Arrive under %v lock = %b, want success=%v", tt.held, s, tt.ok)
			}
			if got, want := o.HasUpdateLock(), tt.held >= LockWrite; got != want {
				t.Errorf("HasUpdateLock() = %v, want %v", got, want)
			}
			want := uint64(1)
			if tt.ok {
				want = 2
			}
			if got := o.Load().Surplus(); got != want {
				t.Errorf("surplus = %d, want %d", got, want)
			}
		})
	}
}

// TestUpgrades verifies read and write lock upgrades.
func TestUpgrades(t *testing.T) {
	var o Orec
	o.ArriveAndLock(0, LockRead)
	if s := o.UpgradeReadLock(0, false); s.Failed() {
		t.Fatal("sole read lock upgrade failed")
	}
	if got := o.Load().LockMode(); got != LockWrite {
		t.Fatalf("lock = %v, want Write", got)
	}
	o.UpgradeWriteLock()
	if got := o.Load().LockMode(); got != LockExclusive {
		t.Fatalf("lock = %v, want Exclusive", got)
	}
	o.DepartAfterFailureAndUnlock()

	o.ArriveAndLock(0, LockRead)
	o.ArriveAndLock(0, LockRead)
	if s := o.UpgradeReadLock(4, true); !s.Failed() {
		t.Error("upgrade with a second read lock should fail")
	}
}

// TestReadBias verifies the flip to read biased and its reset by a write.
func TestReadBias(t *testing.T) {
	var o Orec
	o.Init(3)

	for i := 0; i < 3; i++ {
		if s := o.Arrive(0); s.Unregistered() {
			t.Fatalf("arrive %d unexpectedly unregistered", i)
		}
		o.DepartAfterReading()
	}
	if !o.Load().IsReadBiased() {
		t.Fatalf("orec not biased after streak: %v", o.Load())
	}

	if s := o.Arrive(0); !s.Unregistered() {
		t.Error("arrive on biased orec should be unregistered")
	}
	if got := o.Load().Surplus(); got != 0 {
		t.Errorf("surplus = %d, biased arrive must not register", got)
	}

	s := o.ArriveAndLock(0, LockExclusive)
	if !s.Unregistered() || !s.Conflict() {
		t.Fatalf("writer on biased orec = %b, want unregistered conflict", s)
	}
	if readers := o.DepartAfterUpdateAndUnlock(); !readers {
		t.Error("update on biased orec should report readers")
	}

	w := o.Load()
	if w.IsReadBiased() || w.ReadonlyCount() != 0 || w.LockMode() != LockNone {
		t.Errorf("after update = %v, want unbiased and unlocked", w)
	}
	if o.Version() != 1 {
		t.Errorf("version = %d, want 1", o.Version())
	}
}

// TestInitLocked verifies that a constructing orec is registered and exclusively locked.
func TestInitLocked(t *testing.T) {
	var o Orec
	o.InitLocked(8)

	w := o.Load()
	if w.Surplus() != 1 || !w.HasExclusiveLock() {
		t.Fatalf("InitLocked word = %v", w)
	}
	if o.DepartAfterUpdateAndUnlock() {
		t.Error("constructor publish should see no readers")
	}
	if o.Version() != 1 || o.Load() != 0 {
		t.Errorf("after publish version=%d word=%v", o.Version(), o.Load())
	}
}

// TestDepartWithoutSurplusPanics verifies that bookkeeping bugs are detected.
func TestDepartWithoutSurplusPanics(t *testing.T) {
	defer func() {
		r := recover()
		if _, ok := r.(*PanicError); !ok {
			t.Fatalf("recovered %v, want *PanicError", r)
		}
	}()
	var o Orec
	o.DepartAfterReading()
}

// TestConcurrentArriveDepart verifies that surplus returns to zero under contention.
func TestConcurrentArriveDepart(t *testing.T) {
	var o Orec
	o.Init(0)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if s := o.Arrive(1 << 20); s.Failed() {
					t.Error("arrive failed without locks")
					return
				}
				o.DepartAfterReading()
			}
		}()
	}
	wg.Wait()

	if got := o.Load().Surplus(); got != 0 {
		t.Errorf("surplus = %d, want 0", got)
	}
}

// TestConcurrentExclusive verifies that only one of many writers holds the lock at a time.
func TestConcurrentExclusive(t *testing.T) {
	var (
		o       Orec
		holders int32
		mu      sync.Mutex
		wg      sync.WaitGroup
	)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if o.ArriveAndLock(1<<20, LockExclusive).Failed() {
					continue
				}
				mu.Lock()
				holders++
				if holders != 1 {
					t.Errorf("holders = %d", holders)
				}
				holders--
				mu.Unlock()
				o.DepartAfterUpdateAndUnlock()
			}
		}()
	}
	wg.Wait()

	if o.Load().LockMode() != LockNone {
		t.Errorf("lock left held: %v", o.Load())
	}
}
