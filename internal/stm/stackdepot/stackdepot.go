// Package stackdepot stores deduplicated stack traces for control-flow errors.
//
// Conflicts are raised on the hot path, so by default they carry no stack at all. When
// an Stm is configured to record stacks, each conflict captures the program counters of
// its call site into a Depot and keeps only the 64-bit hash. Identical call sites share
// one stored trace; formatting happens only when somebody asks for it.
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
)

// MaxFrames is the number of frames kept per trace.
const MaxFrames = 16

// Trace is a captured stack of fixed size. Unused slots are zero.
type Trace struct {
	PC [MaxFrames]uintptr
}

// Depot is a concurrent hash -> trace store.
//
// The zero value is ready to use.
type Depot struct {
	stacks sync.Map // uint64 -> *Trace
}

// New returns an empty depot.
func New() *Depot {
	return &Depot{}
}

// Capture records the stack of its caller, skipping skip additional frames, and
// returns the trace hash. It returns 0 when no frame could be captured.
func (d *Depot) Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	// runtime.Callers and Capture itself.
	n := runtime.Callers(2+skip, pcs[:])
	if n == 0 {
		return 0
	}

	hash := hashStack(pcs[:n])
	if _, exists := d.stacks.Load(hash); exists {
		return hash
	}
	d.stacks.Store(hash, &Trace{PC: pcs})
	return hash
}

// Lookup returns the trace stored under hash, or nil.
func (d *Depot) Lookup(hash uint64) *Trace {
	if hash == 0 {
		return nil
	}
	val, ok := d.stacks.Load(hash)
	if !ok {
		return nil
	}
	return val.(*Trace)
}

// Len returns the number of distinct traces stored.
func (d *Depot) Len() int {
	count := 0
	d.stacks.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func hashStack(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[:], uint64(pc))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Format renders the trace one frame per two lines, skipping runtime frames:
//
//	main.transfer()
//	    /path/to/file.go:45
func (t *Trace) Format() string {
	if t == nil {
		return "  <unknown>\n"
	}

	n := 0
	for n < MaxFrames && t.PC[n] != 0 {
		n++
	}
	frames := runtime.CallersFrames(t.PC[:n])

	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&buf, "  %s()\n      %s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}
