// Package mem defines the page-size vocabulary shared by the rest of the
// virtual memory core and the Page_i collaborator interface that stands in
// for the kernel's physical frame allocator (palloc_get_page/palloc_free_page
// in the reference kernel). palloc itself is an external collaborator, so
// this package only needs to describe the interface and provide a
// reference implementation good enough to drive tests and the demo CLI
// against.
package mem

import "sync"

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a page, in bytes.
const PGSIZE = 1 << PGSHIFT

// SECSIZE is the size of a block-device sector, in bytes. Fixed by the host
// kernel.
const SECSIZE = 512

// SectorsPerPage is the number of sectors a single page occupies on a block
// device -- SECTORS_PER_PAGE in the reference source.
const SectorsPerPage = PGSIZE / SECSIZE

// Rounddown aligns v down to the nearest page boundary.
func Rounddown(v uintptr) uintptr {
	return v &^ (PGSIZE - 1)
}

// Page_i abstracts the physical frame allocator. PAL_ZERO requests a
// zero-filled frame; its absence leaves frame contents undefined, matching
// palloc_get_page(PAL_USER | flags) in the reference kernel.
type Page_i interface {
	// Get returns a fresh physical frame, or ok=false if none remain.
	Get(zero bool) (frame uintptr, ok bool)
	// Put returns a frame to the pool.
	Put(frame uintptr)
	// Bytes exposes a live frame's contents, standing in for the direct
	// map (mem.Dmap in biscuit) -- eviction needs to read a
	// frame's bytes to write them to swap.
	Bytes(frame uintptr) []byte
}

// SimAllocator is a free-list-backed Page_i used by tests and cmd/vmdemo in
// place of the kernel's real palloc. Grounded on mem.Physmem_t's free-list
// bookkeeping in biscuit, stripped of the direct-map/per-CPU
// machinery that only makes sense backed by real physical memory.
type SimAllocator struct {
	mu    sync.Mutex
	free  []uintptr
	inUse map[uintptr]bool
	data  map[uintptr][]byte
	zero  []byte
}

// NewSimAllocator creates an allocator with n distinct frame identities.
// Frame addresses are synthetic (1-based, scaled by PGSIZE) -- there is no
// real backing memory, only bookkeeping and a []byte per live frame.
func NewSimAllocator(n int) *SimAllocator {
	a := &SimAllocator{
		inUse: make(map[uintptr]bool, n),
		zero:  make([]byte, PGSIZE),
	}
	for i := 1; i <= n; i++ {
		a.free = append(a.free, uintptr(i)*PGSIZE)
	}
	return a
}

// Get implements Page_i.
func (a *SimAllocator) Get(zero bool) (uintptr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return 0, false
	}
	n := len(a.free) - 1
	f := a.free[n]
	a.free = a.free[:n]
	a.inUse[f] = true
	if zero {
		copy(a.bytes(f), a.zero)
	}
	return f, true
}

// Put implements Page_i.
func (a *SimAllocator) Put(frame uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inUse[frame] {
		panic("mem: double free of frame")
	}
	delete(a.inUse, frame)
	delete(a.data, frame)
	a.free = append(a.free, frame)
}

// Bytes returns the byte-addressable backing store for a live frame, the
// simulator's stand-in for the direct map (mem.Dmap in biscuit).
func (a *SimAllocator) Bytes(frame uintptr) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes(frame)
}

func (a *SimAllocator) bytes(frame uintptr) []byte {
	if a.data == nil {
		a.data = make(map[uintptr][]byte)
	}
	b, ok := a.data[frame]
	if !ok {
		b = make([]byte, PGSIZE)
		a.data[frame] = b
	}
	return b
}
