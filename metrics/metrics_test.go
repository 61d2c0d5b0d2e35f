package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounterIncAndAdd(t *testing.T) {
	var c Counter
	c.Inc()
	c.Inc()
	c.Add(3)
	if got := c.Load(); got != 5 {
		t.Fatalf("Load() = %d, want 5", got)
	}
}

func TestCounterConcurrentInc(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}
	wg.Wait()
	if got := c.Load(); got != 200 {
		t.Fatalf("Load() = %d, want 200", got)
	}
}

func TestCountersDump(t *testing.T) {
	var c Counters
	c.PageFaults.Add(7)
	c.EvictionsDirty.Inc()

	dump := c.Dump()
	if !strings.Contains(dump, "#PageFaults: 7") {
		t.Fatalf("Dump() missing PageFaults line: %q", dump)
	}
	if !strings.Contains(dump, "#EvictionsDirty: 1") {
		t.Fatalf("Dump() missing EvictionsDirty line: %q", dump)
	}
	if !strings.Contains(dump, "#SwapIns: 0") {
		t.Fatalf("Dump() should report zero counters too: %q", dump)
	}
}
