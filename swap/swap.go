// Package swap implements the swap store: a fixed number of page-sized
// slots on a block.Device, allocated and freed under a single mutex.
//
// Grounded precisely on original_source/src/vm/swap.c's vm_swap_init/
// vm_swap_out/vm_swap_in (bitmap scan-and-flip for allocation, a sector
// loop per page, PANIC on exhaustion), with the free-slot bookkeeping
// itself following msi/msi.go's map-guarded-by-one-mutex allocator shape
// from biscuit rather than a literal bitmap type (no bitmap
// package travelled with biscuit).
package swap

import (
	"fmt"
	"sync"

	"vmcore/block"
	"vmcore/mem"
)

// Slot identifies one page-sized region of the swap store.
type Slot int

const noSlot Slot = -1

// Store is the swap area: Init binds it to a block.Device sized to hold
// some whole number of page-sized slots; Out/In/Free move whole pages
// between a slot and a caller-supplied page-sized byte buffer.
type Store struct {
	mu     sync.Mutex
	dev    block.Device
	free   map[Slot]bool // true if free, matching msi.Msivecs_t's avail map
	nslots int
	outs   int
	ins    int
	closed bool
}

// Init binds a Store to dev. dev's sector count must be a multiple of
// mem.SectorsPerPage; any remainder sectors are unaddressable.
func Init(dev block.Device) (*Store, error) {
	nslots := dev.SectorCount() / mem.SectorsPerPage
	if nslots <= 0 {
		return nil, fmt.Errorf("swap: device has no room for even one page (%d sectors)", dev.SectorCount())
	}
	free := make(map[Slot]bool, nslots)
	for i := 0; i < nslots; i++ {
		free[Slot(i)] = true
	}
	return &Store{dev: dev, free: free, nslots: nslots}, nil
}

// Out allocates a free slot and writes PGSIZE bytes of page to it,
// returning the slot to later hand to In. It panics if the store has no
// free slots, matching vm_swap_out's PANIC("Swap space full!") -- the
// caller is expected to have already chosen eviction over calling Out
// into an exhausted store; there is no recoverable path once every slot
// claimed by still-resident pages is legitimately in use.
func (s *Store) Out(page []byte) Slot {
	if len(page) != mem.PGSIZE {
		panic("swap: Out requires a full page buffer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustBeOpen()

	slot := noSlot
	for i := 0; i < s.nslots; i++ {
		if s.free[Slot(i)] {
			slot = Slot(i)
			break
		}
	}
	if slot == noSlot {
		panic("swap: store exhausted")
	}
	delete(s.free, slot)

	base := int(slot) * mem.SectorsPerPage
	for i := 0; i < mem.SectorsPerPage; i++ {
		sector := page[i*block.SectorSize : (i+1)*block.SectorSize]
		if err := s.dev.WriteSector(base+i, sector); err != nil {
			panic(fmt.Sprintf("swap: write sector %d: %v", base+i, err))
		}
	}
	s.outs++
	return slot
}

// In reads slot's contents into page (which must be PGSIZE bytes) but
// does not free the slot -- callers that are done with the slot must
// call Free explicitly, matching the split between vm_swap_in (read-only)
// and the caller-driven page-table update that follows it in page.c.
func (s *Store) In(slot Slot, page []byte) {
	if len(page) != mem.PGSIZE {
		panic("swap: In requires a full page buffer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustBeOpen()
	if s.free[slot] {
		panic("swap: In on a free slot")
	}

	base := int(slot) * mem.SectorsPerPage
	for i := 0; i < mem.SectorsPerPage; i++ {
		sector := page[i*block.SectorSize : (i+1)*block.SectorSize]
		if err := s.dev.ReadSector(base+i, sector); err != nil {
			panic(fmt.Sprintf("swap: read sector %d: %v", base+i, err))
		}
	}
	s.ins++
}

// Free releases slot back to the pool without reading it.
func (s *Store) Free(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustBeOpen()
	if s.free[slot] {
		panic("swap: double free of slot")
	}
	s.free[slot] = true
}

// Shutdown marks the store closed; further Out/In/Free calls panic. It
// is idempotent, unlike the PintOS original which simply halts the
// machine instead of tearing anything down.
func (s *Store) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Store) mustBeOpen() {
	if s.closed {
		panic("swap: use of store after Shutdown")
	}
}

// Stats reports slot usage.
func (s *Store) Stats() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.nslots - len(s.free)
	return fmt.Sprintf("swap: %d/%d slots used, %d outs, %d ins", used, s.nslots, s.outs, s.ins)
}
