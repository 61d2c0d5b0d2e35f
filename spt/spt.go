// Package spt implements the supplemental page table: per-address-space
// metadata describing where a user page's contents currently live, and
// the demand-loading/unmapping/pinning operations built on top of it.
//
// Grounded precisely on original_source/src/vm/page.c for the exact state
// machine, vm_load_page's materialization order, and
// preload_and_pin_pages's pointer walk, with the ON_SWAP-dirty gap in
// vm_supt_mm_unmap closed (swap the page in, write it back if dirty, then
// free the slot) rather than left as the reference's bare comment.
package spt

import (
	"fmt"
	"io"

	"vmcore/config"
	"vmcore/defs"
	"vmcore/frame"
	"vmcore/hashtable"
	"vmcore/mem"
	"vmcore/metrics"
	"vmcore/pagedir"
	"vmcore/swap"
	"vmcore/trace"
)

// Status is the provenance tag of a supplemental page table entry.
type Status int

const (
	AllZero Status = iota
	OnFrame
	OnSwap
	FromFilesys
)

func (s Status) String() string {
	switch s {
	case AllZero:
		return "ALL_ZERO"
	case OnFrame:
		return "ON_FRAME"
	case OnSwap:
		return "ON_SWAP"
	case FromFilesys:
		return "FROM_FILESYS"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// File is the backing-file collaborator for positional, offset-addressed
// I/O (file_read_at/file_write_at in the reference kernel). The standard
// library's io.ReaderAt/io.WriterAt already express exactly this
// contract, so entries reference a File through them rather than through
// a bespoke descriptor type; fd.Fd_t's Fdops_i in biscuit shaped
// the same idea but depended on collaborators (fdops, bounds, res) that
// carried no code in this retrieval.
type File interface {
	io.ReaderAt
	io.WriterAt
}

type entry struct {
	upage      defs.Page
	frameVal   defs.Frame
	status     Status
	file       File
	fileOffset int64
	readBytes  int
	zeroBytes  int
	writable   bool
	dirty      bool
	swapSlot   swap.Slot
}

// Table is one supplemental page table, owned by a single address space.
// SPTs are accessed only by their owning thread in the reference
// concurrency model; the frame table reaches back in during eviction,
// serialized by its own lock, so Table itself holds no lock.
type Table struct {
	as      defs.AddrSpaceID
	entries *hashtable.Table[defs.Page, *entry]
	frames  *frame.Table
	pd      pagedir.Table
	sw      *swap.Store
	m       *metrics.Counters
	tr      *trace.Ring
	budget  *config.Budget
}

// SetPinBudget caps how many pages PreloadAndPin may hold pinned at once,
// grounded on limits.Sysatomic_t's take/give accounting in biscuit:
// a runaway preload_and_pin_pages caller (an oversized syscall buffer)
// could otherwise pin every frame in the system and starve eviction
// entirely. Passing nil (the default) leaves pinning uncapped, matching
// the reference kernel, which has no such limit.
func (t *Table) SetPinBudget(b *config.Budget) {
	t.budget = b
}

// New returns an empty supplemental page table for address space as.
func New(as defs.AddrSpaceID, frames *frame.Table, pd pagedir.Table, sw *swap.Store, m *metrics.Counters, tr *trace.Ring) *Table {
	return &Table{
		as:      as,
		entries: hashtable.New[defs.Page, *entry](32),
		frames:  frames,
		pd:      pd,
		sw:      sw,
		m:       m,
		tr:      tr,
	}
}

// InstallFilesys creates a FROM_FILESYS entry for upage. It fails if
// upage is already present.
func (t *Table) InstallFilesys(upage defs.Page, file File, offset int64, readBytes, zeroBytes int, writable bool) bool {
	if _, ok := t.entries.Get(upage); ok {
		return false
	}
	t.entries.Set(upage, &entry{
		upage: upage, status: FromFilesys, file: file, fileOffset: offset,
		readBytes: readBytes, zeroBytes: zeroBytes, writable: writable,
		swapSlot: -1,
	})
	return true
}

// InstallFrame creates an ON_FRAME entry referencing an already-allocated
// frame. It fails on duplicate.
func (t *Table) InstallFrame(upage defs.Page, frame defs.Frame) bool {
	if _, ok := t.entries.Get(upage); ok {
		return false
	}
	t.entries.Set(upage, &entry{upage: upage, status: OnFrame, frameVal: frame, swapSlot: -1})
	return true
}

// InstallZeropage creates an ALL_ZERO entry. It fails on duplicate.
func (t *Table) InstallZeropage(upage defs.Page) bool {
	if _, ok := t.entries.Get(upage); ok {
		return false
	}
	t.entries.Set(upage, &entry{upage: upage, status: AllZero, swapSlot: -1})
	return true
}

// SetSwap requires the ON_FRAME -> ON_SWAP transition: clears the
// resident frame and records slot. It fails if upage is absent.
func (t *Table) SetSwap(upage defs.Page, slot swap.Slot) bool {
	e, ok := t.entries.Get(upage)
	if !ok {
		return false
	}
	e.frameVal = 0
	e.status = OnSwap
	e.swapSlot = slot
	return true
}

// SetDirty sets the sticky dirty bit. It fails if upage is absent.
func (t *Table) SetDirty(upage defs.Page, value bool) bool {
	e, ok := t.entries.Get(upage)
	if !ok {
		return false
	}
	e.dirty = value
	return true
}

// EntryView is a read-only snapshot of an entry, returned by Lookup.
type EntryView struct {
	Upage    defs.Page
	Frame    defs.Frame
	Status   Status
	Writable bool
	Dirty    bool
}

// Lookup returns a read-only view of upage's entry, if present.
func (t *Table) Lookup(upage defs.Page) (EntryView, bool) {
	e, ok := t.entries.Get(upage)
	if !ok {
		return EntryView{}, false
	}
	return EntryView{Upage: e.upage, Frame: e.frameVal, Status: e.status, Writable: e.writable, Dirty: e.dirty}, true
}

// NotifySwapped implements frame.Owner: the frame table calls this during
// eviction once it has written the victim's contents to slot. dirty is
// the hardware dirty bit read just before the mapping was torn down; it
// is OR'd into the sticky bit since the hardware bit itself does not
// survive pagedir.ClearPage.
func (t *Table) NotifySwapped(upage defs.Page, slot swap.Slot, dirty bool) {
	if !t.SetSwap(upage, slot) {
		panic("spt: eviction notified an address space about an unknown upage")
	}
	if dirty {
		t.SetDirty(upage, true)
	}
}

// LoadPage materializes upage's contents into a newly allocated frame and
// installs the hardware mapping, following vm_load_page exactly:
//  1. look up the entry, fail if absent;
//  2. allocate a frame (zero-fill requested only for ALL_ZERO, matching
//     the reference's PAL_USER-only request otherwise -- anything that
//     hits a memset immediately after doesn't need the allocator's zero
//     path too);
//  3. materialize by status;
//  4. install the hardware mapping;
//  5. mark the entry ON_FRAME.
//
// ON_FRAME on entry is a no-op: the page is already resident, so this
// returns true without reloading it.
func (t *Table) LoadPage(upage defs.Page) bool {
	e, ok := t.entries.Get(upage)
	if !ok {
		return false
	}
	if e.status == OnFrame {
		return true
	}

	if t.m != nil {
		t.m.PageFaults.Inc()
	}

	zero := e.status == AllZero
	f, ok := t.frames.Allocate(t.as, upage, t, zero)
	if !ok {
		return false
	}
	buf := t.frames.BytesOf(f)

	switch e.status {
	case OnSwap:
		t.sw.In(e.swapSlot, buf)
		t.sw.Free(e.swapSlot)
		if t.m != nil {
			t.m.SwapIns.Inc()
		}
		if t.tr != nil {
			t.tr.Record(trace.Event{Kind: trace.SwapIn, AS: uint64(t.as), Page: uintptr(upage)})
		}
	case FromFilesys:
		n, err := e.file.ReadAt(buf[:e.readBytes], e.fileOffset)
		if err != nil && err != io.EOF || n != e.readBytes {
			t.frames.Free(f)
			if t.m != nil {
				t.m.ShortReads.Inc()
			}
			return false
		}
		for i := e.readBytes; i < e.readBytes+e.zeroBytes && i < len(buf); i++ {
			buf[i] = 0
		}
		if t.m != nil {
			t.m.FilesysLoads.Inc()
		}
	case AllZero:
		// frames.Allocate already zeroed it.
		if t.m != nil {
			t.m.ZeroFills.Inc()
		}
	default:
		t.frames.Free(f)
		return false
	}

	if !t.pd.SetPage(t.as, upage, f, e.writable) {
		t.frames.Free(f)
		return false
	}

	e.frameVal = f
	e.status = OnFrame
	if t.tr != nil {
		t.tr.Record(trace.Event{Kind: trace.Fault, AS: uint64(t.as), Page: uintptr(upage)})
	}
	return true
}

// Unmap tears down upage for a memory-mapped file region: if resident,
// writes back dirty contents and frees the frame; if swapped, swaps the
// page back in, writes it back if dirty, and frees the slot -- the gap
// the reference implementation leaves as a bare comment. Either way the
// entry is removed.
func (t *Table) Unmap(upage defs.Page, file File, offset int64, bytes int) bool {
	e, ok := t.entries.Get(upage)
	if !ok {
		return false
	}

	switch e.status {
	case OnFrame:
		buf := t.frames.BytesOf(e.frameVal)
		if t.pd.IsDirty(t.as, upage) || e.dirty {
			if _, err := file.WriteAt(buf[:bytes], offset); err != nil {
				return false
			}
		}
		t.pd.ClearPage(t.as, upage)
		t.frames.Free(e.frameVal)
	case OnSwap:
		if e.dirty {
			buf := make([]byte, mem.PGSIZE)
			t.sw.In(e.swapSlot, buf)
			if _, err := file.WriteAt(buf[:bytes], offset); err != nil {
				return false
			}
		}
		t.sw.Free(e.swapSlot)
	}

	t.entries.Delete(upage)
	return true
}

// PreloadAndPin walks the page-aligned range covering [addr, addr+size),
// loading and pinning every page so a kernel I/O operation can safely
// hold raw pointers into it without a recursive fault.
func (t *Table) PreloadAndPin(addr uintptr, size int) bool {
	start := mem.Rounddown(addr)
	end := addr + uintptr(size)
	for p := start; p < end; p += mem.PGSIZE {
		upage := defs.Page(p)
		if t.budget != nil && !t.budget.Take(1) {
			t.UnpinPreloaded(start, int(p-start))
			return false
		}
		if !t.LoadPage(upage) {
			if t.budget != nil {
				t.budget.Give(1)
			}
			t.UnpinPreloaded(start, int(p-start))
			return false
		}
		view, _ := t.Lookup(upage)
		t.frames.SetPinned(view.Frame, true)
	}
	return true
}

// UnpinPreloaded clears the pin flag over the same range PreloadAndPin
// walked, returning each unpinned page's share of the pin budget (if any).
func (t *Table) UnpinPreloaded(addr uintptr, size int) {
	start := mem.Rounddown(addr)
	end := addr + uintptr(size)
	for p := start; p < end; p += mem.PGSIZE {
		if view, ok := t.Lookup(defs.Page(p)); ok && view.Status == OnFrame {
			t.frames.SetPinned(view.Frame, false)
			if t.budget != nil {
				t.budget.Give(1)
			}
		}
	}
}

// Len reports the number of entries currently tracked.
func (t *Table) Len() int {
	return t.entries.Len()
}

// Destroy tears the address space down: every resident frame is freed,
// every swap slot released, and every entry removed.
func (t *Table) Destroy() {
	var pages []defs.Page
	t.entries.Range(func(upage defs.Page, _ *entry) bool {
		pages = append(pages, upage)
		return true
	})
	for _, upage := range pages {
		e, ok := t.entries.Get(upage)
		if !ok {
			continue
		}
		switch e.status {
		case OnFrame:
			t.pd.ClearPage(t.as, upage)
			t.frames.Free(e.frameVal)
		case OnSwap:
			t.sw.Free(e.swapSlot)
		}
		t.entries.Delete(upage)
	}
}
