package frame

import (
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"vmcore/block"
	"vmcore/defs"
	"vmcore/mem"
	"vmcore/pagedir"
	"vmcore/swap"
)

type fakeOwner struct {
	notified []defs.Page
	slots    []swap.Slot
}

func (o *fakeOwner) NotifySwapped(upage defs.Page, slot swap.Slot, dirty bool) {
	o.notified = append(o.notified, upage)
	o.slots = append(o.slots, slot)
}

func newTestTable(t *testing.T, numFrames, numSwapSlots int) (*Table, *pagedir.SimTable) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swap.img")
	dev, err := block.OpenFileDevice(path, numSwapSlots*mem.SectorsPerPage)
	if err != nil {
		t.Fatalf("OpenFileDevice: %v", err)
	}
	sw, err := swap.Init(dev)
	if err != nil {
		t.Fatalf("swap.Init: %v", err)
	}
	pd := pagedir.NewSimTable()
	alloc := mem.NewSimAllocator(numFrames)
	return New(alloc, pd, sw, nil, nil), pd
}

// TestAllocateEvictsWhenExhausted mirrors spec scenario S3: pre-allocate N
// frames unpinned, request one more, eviction selects exactly one victim
// and the new allocation succeeds.
func TestAllocateEvictsWhenExhausted(t *testing.T) {
	const n = 4
	tbl, pd := newTestTable(t, n, 8)
	owner := &fakeOwner{}

	var frames []defs.Frame
	for i := 0; i < n; i++ {
		upage := defs.Page(i * mem.PGSIZE)
		f, ok := tbl.Allocate(1, upage, owner, true)
		if !ok {
			t.Fatalf("Allocate %d failed", i)
		}
		pd.SetPage(1, upage, f, true)
		pd.Touch(1, upage, false) // mark accessed so eviction must clear bits first pass
		frames = append(frames, f)
	}
	if tbl.Len() != n {
		t.Fatalf("Len() = %d, want %d", tbl.Len(), n)
	}

	f, ok := tbl.Allocate(1, defs.Page(n*mem.PGSIZE), owner, true)
	if !ok {
		t.Fatal("expected Allocate to succeed via eviction")
	}
	if len(owner.notified) != 1 {
		t.Fatalf("expected exactly one eviction notification, got %d", len(owner.notified))
	}
	if tbl.Len() != n {
		t.Fatalf("Len() after eviction+allocate = %d, want %d", tbl.Len(), n)
	}
	_ = frames
	_ = f
}

// TestAllocateFailsWhenAllPinned mirrors spec scenario S4.
func TestAllocateFailsWhenAllPinned(t *testing.T) {
	const n = 2
	tbl, pd := newTestTable(t, n, 8)
	owner := &fakeOwner{}

	for i := 0; i < n; i++ {
		upage := defs.Page(i * mem.PGSIZE)
		f, ok := tbl.Allocate(1, upage, owner, true)
		if !ok {
			t.Fatalf("Allocate %d failed", i)
		}
		pd.SetPage(1, upage, f, true)
		tbl.SetPinned(f, true)
	}

	if _, ok := tbl.Allocate(1, defs.Page(n*mem.PGSIZE), owner, true); ok {
		t.Fatal("expected Allocate to fail when every frame is pinned")
	}
	if len(owner.notified) != 0 {
		t.Fatal("expected no eviction notifications when nothing could be evicted")
	}
}

func TestFreeRemovesEntry(t *testing.T) {
	tbl, _ := newTestTable(t, 2, 8)
	owner := &fakeOwner{}
	f, ok := tbl.Allocate(1, defs.Page(0), owner, true)
	if !ok {
		t.Fatal("Allocate failed")
	}
	tbl.Free(f)
	if tbl.Len() != 0 {
		t.Fatalf("Len() after Free = %d, want 0", tbl.Len())
	}
	if _, _, ok := tbl.Lookup(f); ok {
		t.Fatal("expected Lookup to miss after Free")
	}
}

func TestSetPinnedOnUnknownFrameIsNoop(t *testing.T) {
	tbl, _ := newTestTable(t, 1, 8)
	tbl.SetPinned(defs.Frame(9999), true) // must not panic
}

// TestConcurrentAllocateFreeNeverDuplicatesAFrame drives many goroutines
// through Allocate/Free at once, against a pool far smaller than the
// number of callers so eviction runs constantly, and asserts spec.md §8
// invariant 1 (no two live entries share a kpage) holds at every instant:
// each successful Allocate is only ever handed a frame with no existing
// table entry, which the single frame_lock-equivalent mutex guarantees by
// serializing the whole allocate-evict-retry sequence (the §5 ordering
// guarantee: one call wholly completes its eviction before the next
// examines the table).
func TestConcurrentAllocateFreeNeverDuplicatesAFrame(t *testing.T) {
	const numFrames = 4
	const numWorkers = 16
	const roundsPerWorker = 50

	tbl, pd := newTestTable(t, numFrames, numFrames*4)
	owner := &fakeOwner{}

	var seenMu sync.Mutex
	seen := make(map[defs.Frame]bool)

	var g errgroup.Group
	for w := 0; w < numWorkers; w++ {
		w := w
		g.Go(func() error {
			for r := 0; r < roundsPerWorker; r++ {
				upage := defs.Page((w*roundsPerWorker + r) * mem.PGSIZE)
				f, ok := tbl.Allocate(defs.AddrSpaceID(w), upage, owner, true)
				if !ok {
					continue
				}
				seenMu.Lock()
				if seen[f] {
					seenMu.Unlock()
					t.Errorf("frame %v handed out while already live", f)
					continue
				}
				seen[f] = true
				seenMu.Unlock()

				pd.SetPage(defs.AddrSpaceID(w), upage, f, true)

				seenMu.Lock()
				delete(seen, f)
				seenMu.Unlock()
				tbl.Free(f)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("errgroup.Wait: %v", err)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() after all workers finished = %d, want 0", tbl.Len())
	}
}

func TestShutdownReportsLeaksAndIsIdempotent(t *testing.T) {
	tbl, _ := newTestTable(t, 2, 8)
	owner := &fakeOwner{}
	if _, ok := tbl.Allocate(1, defs.Page(0), owner, true); !ok {
		t.Fatal("Allocate failed")
	}
	if leaked := tbl.Shutdown(); leaked != 1 {
		t.Fatalf("Shutdown() leaked = %d, want 1", leaked)
	}
	if leaked := tbl.Shutdown(); leaked != 0 {
		t.Fatalf("second Shutdown() leaked = %d, want 0 (idempotent)", leaked)
	}
}
