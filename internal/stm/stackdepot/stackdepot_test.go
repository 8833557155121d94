package stackdepot

import (
	"strings"
	"sync"
	"testing"
)

//go:noinline
func captureHere(d *Depot) uint64 {
	return d.Capture(0)
}

// TestCaptureDeduplicates verifies that the same call site yields the same hash and is
// stored once.
func TestCaptureDeduplicates(t *testing.T) {
	d := New()

	var hashes [2]uint64
	for i := range hashes {
		hashes[i] = captureHere(d)
	}

	if hashes[0] == 0 {
		t.Fatal("Capture returned 0")
	}
	if hashes[0] != hashes[1] {
		t.Errorf("hashes differ for identical call site: %x vs %x", hashes[0], hashes[1])
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}

// TestFormatContainsCaller verifies that the formatted trace names the capturing
// function and hides runtime frames.
func TestFormatContainsCaller(t *testing.T) {
	d := New()
	hash := captureHere(d)

	out := d.Lookup(hash).Format()
	if !strings.Contains(out, "captureHere") {
		t.Errorf("Format() = %q, want captureHere frame", out)
	}
	if strings.Contains(out, "runtime.goexit") {
		t.Errorf("Format() = %q, runtime frames should be skipped", out)
	}
}

func TestLookupUnknown(t *testing.T) {
	d := New()
	if d.Lookup(0) != nil {
		t.Error("Lookup(0) should be nil")
	}
	if d.Lookup(12345) != nil {
		t.Error("Lookup of unknown hash should be nil")
	}

	var nilTrace *Trace
	if got := nilTrace.Format(); !strings.Contains(got, "unknown") {
		t.Errorf("nil Format() = %q", got)
	}
}

// TestCaptureConcurrent verifies that concurrent captures are safe.
func TestCaptureConcurrent(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				captureHere(d)
			}
		}()
	}
	wg.Wait()

	if d.Len() == 0 {
		t.Error("no traces stored")
	}
}
