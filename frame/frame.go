// Package frame implements the frame table: the global registry of
// allocated user physical frames, second-chance eviction, and pinning.
//
// Grounded precisely on original_source/src/vm/frame.c's vm_frame_allocate/
// vm_frame_free/pick_frame_to_evict/vm_frame_set_pinned for the exact
// allocate-evict-retry sequence and the one-pass clock scan, with the
// table storage itself following mem/mem.go's free-list/refcounting
// bookkeeping style from biscuit (adapted: a frame here has
// exactly one owner, not a refcount, per the single-owner-per-frame
// invariant the upstream design calls for).
package frame

import (
	"sync"

	"vmcore/defs"
	"vmcore/hashtable"
	"vmcore/mem"
	"vmcore/metrics"
	"vmcore/pagedir"
	"vmcore/swap"
	"vmcore/trace"
)

// Owner is the victim-side collaborator the frame table calls back into
// during eviction: the owning address space's supplemental page table.
// frame cannot import spt directly (spt depends on frame to allocate
// frames during load_page), so eviction is expressed against this small
// interface instead -- spt.Table satisfies it.
type Owner interface {
	// NotifySwapped is called with the victim's upage and the swap slot
	// its contents now live in; the implementation must transition that
	// entry to ON_SWAP and clear its resident frame. dirty is the
	// hardware dirty bit as observed immediately before the mapping was
	// torn down, which the owner should OR into its sticky dirty bit
	// (the hardware bit itself is lost once the mapping is cleared).
	NotifySwapped(upage defs.Page, slot swap.Slot, dirty bool)
}

type entry struct {
	frame  defs.Frame
	upage  defs.Page
	as     defs.AddrSpaceID
	owner  Owner
	pinned bool
}

// Table is the frame table: one instance per running system, shared by
// every address space.
type Table struct {
	mu      sync.Mutex
	entries *hashtable.Table[defs.Frame, *entry]
	alloc   mem.Page_i
	pd      pagedir.Table
	sw      *swap.Store
	m       *metrics.Counters
	tr      *trace.Ring
	closed  bool
}

// New builds a frame table drawing frames from alloc, consulting pd for
// accessed-bit state during eviction, and writing evicted pages to sw.
// m and tr may be nil, in which case no metrics are recorded or traced.
func New(alloc mem.Page_i, pd pagedir.Table, sw *swap.Store, m *metrics.Counters, tr *trace.Ring) *Table {
	return &Table{
		entries: hashtable.New[defs.Frame, *entry](64),
		alloc:   alloc,
		pd:      pd,
		sw:      sw,
		m:       m,
		tr:      tr,
	}
}

// Allocate obtains a user frame for as/upage, registers it unpinned, and
// returns it. zero requests a zero-filled frame (demand-zero pages). If
// the allocator has no frame, Allocate selects and evicts a victim via
// pickVictim, then retries exactly once, matching vm_frame_allocate's
// single retry. It reports ok=false only if eviction cannot free a page
// (every entry pinned, or no entries at all) or the allocator still
// fails after a successful eviction.
func (t *Table) Allocate(as defs.AddrSpaceID, upage defs.Page, owner Owner, zero bool) (defs.Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.alloc.Get(zero)
	if !ok {
		victim := t.pickVictim()
		if victim == nil {
			// Clock visits every entry once per spec's documented
			// one-pass primitive; give pressure a second pass before
			// giving up, satisfying the two-pass recommendation without
			// changing pickVictim's own one-pass behavior.
			victim = t.pickVictim()
		}
		if victim != nil {
			t.evict(victim)
			f, ok = t.alloc.Get(zero)
		}
	}
	if !ok {
		return 0, false
	}

	frame := defs.Frame(f)
	t.entries.Set(frame, &entry{frame: frame, upage: upage, as: as, owner: owner})
	if t.m != nil {
		t.m.FramesAllocated.Inc()
	}
	return frame, true
}

// Free removes the entry keyed by frame and returns the physical page to
// the allocator.
func (t *Table) Free(frame defs.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doFree(frame)
}

func (t *Table) doFree(frame defs.Frame) {
	if _, ok := t.entries.Get(frame); ok {
		t.entries.Delete(frame)
		t.alloc.Put(uintptr(frame))
		if t.m != nil {
			t.m.FramesFreed.Inc()
		}
	}
}

// SetPinned toggles the pin flag; a no-op if frame is unknown.
func (t *Table) SetPinned(frame defs.Frame, pinned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries.Get(frame); ok {
		e.pinned = pinned
		if t.tr != nil {
			k := trace.Pin
			if !pinned {
				k = trace.Unpin
			}
			t.tr.Record(trace.Event{Kind: k, AS: uint64(e.as), Page: uintptr(e.upage)})
		}
	}
}

// pickVictim iterates the table once in hashtable.Range's fixed bucket
// order. For each unpinned entry whose owning address space's accessed
// bit is clear, it returns that entry immediately; otherwise it clears
// the accessed bit and continues. Returns nil if nothing qualified in
// this pass, matching pick_frame_to_evict exactly.
func (t *Table) pickVictim() *entry {
	var victim *entry
	t.entries.Range(func(_ defs.Frame, e *entry) bool {
		if e.pinned {
			return true
		}
		if !t.pd.IsAccessed(e.as, e.upage) {
			victim = e
			return false
		}
		t.pd.SetAccessed(e.as, e.upage, false)
		return true
	})
	return victim
}

// evict writes victim's contents to swap, notifies its owning SPT,
// clears the hardware mapping, and returns the frame to the allocator.
func (t *Table) evict(victim *entry) {
	slot := t.sw.Out(t.alloc.Bytes(uintptr(victim.frame)))
	dirty := t.pd.IsDirty(victim.as, victim.upage)
	victim.owner.NotifySwapped(victim.upage, slot, dirty)
	t.pd.ClearPage(victim.as, victim.upage)
	t.doFree(victim.frame)
	if t.m != nil {
		t.m.Evictions.Inc()
	}
	if t.tr != nil {
		t.tr.Record(trace.Event{Kind: trace.Evict, AS: uint64(victim.as), Page: uintptr(victim.upage)})
	}
}

// BytesOf exposes a live frame's contents, delegating to the underlying
// allocator's direct-map stand-in. spt uses this to read a freshly
// allocated frame's buffer when materializing a page's contents.
func (t *Table) BytesOf(frame defs.Frame) []byte {
	return t.alloc.Bytes(uintptr(frame))
}

// Shutdown marks the table closed and reports how many frames were
// still registered at the time of the call -- callers use this to
// assert no frames leaked past address-space teardown. Idempotent.
func (t *Table) Shutdown() (leaked int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0
	}
	t.closed = true
	return t.entries.Len()
}

// Lookup returns the entry's upage and owning address space, for tests
// asserting resident consistency.
func (t *Table) Lookup(frame defs.Frame) (defs.Page, defs.AddrSpaceID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries.Get(frame)
	if !ok {
		return 0, 0, false
	}
	return e.upage, e.as, true
}

// Len reports the number of frames currently registered.
func (t *Table) Len() int {
	return t.entries.Len()
}
