// Package pagedir defines the hardware MMU collaborator the reference
// kernel names (pagedir_set_page, pagedir_clear_page, pagedir_is_accessed,
// pagedir_set_accessed, pagedir_is_dirty) and provides a software reference
// implementation of it. The real pagedir lives in the host kernel, so
// everything in this package exists so the frame table, supplemental page
// table and their tests have something concrete to drive.
//
// PTE flag layout is grounded on vm/as.go's PTE_P/PTE_W/PTE_U constants in
// biscuit.
package pagedir

import (
	"sync"

	"vmcore/defs"
)

// Flag bits for a single page-table entry, mirroring biscuit's PTE_*
// constants.
type Flag uint8

const (
	FlagPresent Flag = 1 << iota
	FlagWritable
	FlagAccessed
	FlagDirty
)

type pte struct {
	frame defs.Frame
	flags Flag
}

// Table is the MMU collaborator interface consumed by frame.Table and
// spt.Table.
type Table interface {
	// SetPage installs upage -> frame with the given writable bit. It
	// returns false if the mapping could not be installed (the hardware
	// analogue of pagedir_set_page returning false on kernel OOM or an
	// existing mapping).
	SetPage(as defs.AddrSpaceID, upage defs.Page, frame defs.Frame, writable bool) bool
	// ClearPage tears down any mapping for upage, synchronizing the
	// accessed/dirty bits one last time before the entry disappears.
	ClearPage(as defs.AddrSpaceID, upage defs.Page)
	IsAccessed(as defs.AddrSpaceID, upage defs.Page) bool
	SetAccessed(as defs.AddrSpaceID, upage defs.Page, v bool)
	IsDirty(as defs.AddrSpaceID, upage defs.Page) bool
}

// SimTable is a software page table double: one map of PTEs per address
// space, guarded by a single mutex. It is not meant to be fast, only
// faithful to the five-operation contract the rest of this module relies
// on.
type SimTable struct {
	mu    sync.Mutex
	spans map[defs.AddrSpaceID]map[defs.Page]*pte
}

// NewSimTable returns an empty software page table.
func NewSimTable() *SimTable {
	return &SimTable{spans: make(map[defs.AddrSpaceID]map[defs.Page]*pte)}
}

func (t *SimTable) span(as defs.AddrSpaceID) map[defs.Page]*pte {
	s, ok := t.spans[as]
	if !ok {
		s = make(map[defs.Page]*pte)
		t.spans[as] = s
	}
	return s
}

// SetPage implements Table.
func (t *SimTable) SetPage(as defs.AddrSpaceID, upage defs.Page, frame defs.Frame, writable bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	flags := FlagPresent
	if writable {
		flags |= FlagWritable
	}
	t.span(as)[upage] = &pte{frame: frame, flags: flags}
	return true
}

// ClearPage implements Table.
func (t *SimTable) ClearPage(as defs.AddrSpaceID, upage defs.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.span(as), upage)
}

// IsAccessed implements Table.
func (t *SimTable) IsAccessed(as defs.AddrSpaceID, upage defs.Page) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.span(as)[upage]; ok {
		return p.flags&FlagAccessed != 0
	}
	return false
}

// SetAccessed implements Table.
func (t *SimTable) SetAccessed(as defs.AddrSpaceID, upage defs.Page, v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.span(as)[upage]; ok {
		if v {
			p.flags |= FlagAccessed
		} else {
			p.flags &^= FlagAccessed
		}
	}
}

// IsDirty implements Table.
func (t *SimTable) IsDirty(as defs.AddrSpaceID, upage defs.Page) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.span(as)[upage]; ok {
		return p.flags&FlagDirty != 0
	}
	return false
}

// Touch marks upage as accessed and, if write is true, dirty -- the test
// harness's way of simulating the MMU setting these bits on a real memory
// access, since there is no real hardware underneath SimTable.
func (t *SimTable) Touch(as defs.AddrSpaceID, upage defs.Page, write bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.span(as)[upage]
	if !ok {
		return
	}
	p.flags |= FlagAccessed
	if write {
		p.flags |= FlagDirty
	}
}

// Mapped reports whether upage currently has a present mapping, and its
// frame if so. Used by tests asserting resident consistency.
func (t *SimTable) Mapped(as defs.AddrSpaceID, upage defs.Page) (defs.Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.span(as)[upage]
	if !ok || p.flags&FlagPresent == 0 {
		return 0, false
	}
	return p.frame, true
}
