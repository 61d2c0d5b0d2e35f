// Package metrics counts events worth asserting on in tests and reporting
// in diagnostics: page faults, evictions (by cause), swap-ins and
// swap-outs, and short-read failures.
//
// Grounded on stats/stats.go's Counter_t/Stats2String in biscuit,
// reworked from a compile-time-gated debug aid (stats.Stats is a constant
// false in biscuit, compiling every Inc to a no-op) into an
// always-on counter set: this repo's demo and property tests read these
// values to assert behavior, not just to print them, so they cannot be
// compiled out. The cycle-timing half of stats.go (Cycles_t, Rdtsc) has no
// counterpart here -- there is no runtime.Rdtsc hook available outside the
// biscuit's own forked compiler, so wall-clock timing is simply out of
// scope rather than faked.
package metrics

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

// Counter is a concurrency-safe counter, analogous to stats.Counter_t but
// always counting rather than gated by a debug flag.
type Counter int64

// Inc increments the counter by one.
func (c *Counter) Inc() {
	atomic.AddInt64((*int64)(c), 1)
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	atomic.AddInt64((*int64)(c), delta)
}

// Load reads the current value.
func (c *Counter) Load() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Counters bundles every event the virtual memory core reports on. Zero
// value is ready to use.
type Counters struct {
	PageFaults      Counter
	ZeroFills       Counter
	FilesysLoads    Counter
	SwapIns         Counter
	SwapOuts        Counter
	Evictions       Counter
	EvictionsClean  Counter
	EvictionsDirty  Counter
	ShortReads      Counter
	ShortWrites     Counter
	PinStalls       Counter
	FramesAllocated Counter
	FramesFreed     Counter
}

// Dump renders every field via reflection, one per line, the way
// stats.Stats2String does -- except it is never a silent no-op.
func (c *Counters) Dump() string {
	v := reflect.ValueOf(c).Elem()
	var b strings.Builder
	for i := 0; i < v.NumField(); i++ {
		ft := v.Type().Field(i)
		if !strings.HasSuffix(ft.Type.String(), "Counter") {
			continue
		}
		n := v.Field(i).Addr().Interface().(*Counter).Load()
		b.WriteString("\t#")
		b.WriteString(ft.Name)
		b.WriteString(": ")
		b.WriteString(strconv.FormatInt(n, 10))
		b.WriteByte('\n')
	}
	return b.String()
}

// String implements fmt.Stringer.
func (c *Counters) String() string {
	return fmt.Sprintf("metrics:\n%s", c.Dump())
}
