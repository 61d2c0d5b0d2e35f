// Package config holds the small set of tunables the virtual memory core
// needs at Init time, plus an atomic take/give budget counter reused for
// resource limits like the pin budget.
//
// Grounded on limits/limits.go's Syslimit_t/Sysatomic_t in biscuit.
package config

import "sync/atomic"

// Config bundles the system's tunables. There is exactly one of these per
// running system; callers build it once. frame.New and swap.Init do not
// take a Config: cmd/vmdemo reads NumUserFrames from it to size the frame
// allocator.
type Config struct {
	// NumUserFrames is the size of the simulated physical frame pool.
	NumUserFrames int
	// NumSwapSlots is the capacity of the swap store, independent of the
	// frame pool size -- a real system sizes swap to be larger than
	// physical memory.
	NumSwapSlots int
	// PageSize and SectorSize record the sizes the system runs with. No
	// package reads them: page and sector sizes come from the mem.PGSIZE
	// and block.SectorSize constants.
	PageSize   int
	SectorSize int
}

// Default returns a Config sized for the standard page and sector sizes
// (4096-byte pages, 512-byte sectors).
func Default(numFrames, numSwapSlots int) Config {
	return Config{
		NumUserFrames: numFrames,
		NumSwapSlots:  numSwapSlots,
		PageSize:      4096,
		SectorSize:    512,
	}
}

// Budget is an atomic take/give counter, grounded on limits.Sysatomic_t:
// Take decrements and fails (without going negative) if the budget is
// exhausted; Give increments. Used to cap the number of frames a single
// address space may pin at once, so a runaway preload_and_pin_pages cannot
// starve eviction entirely.
type Budget struct {
	remaining int64
}

// NewBudget returns a Budget initialized to n.
func NewBudget(n int64) *Budget {
	return &Budget{remaining: n}
}

// Take attempts to consume n units, returning false (and leaving the
// budget unchanged) if that would drive it negative.
func (b *Budget) Take(n int64) bool {
	if atomic.AddInt64(&b.remaining, -n) >= 0 {
		return true
	}
	atomic.AddInt64(&b.remaining, n)
	return false
}

// Give returns n units to the budget.
func (b *Budget) Give(n int64) {
	atomic.AddInt64(&b.remaining, n)
}

// Remaining reports the current budget.
func (b *Budget) Remaining() int64 {
	return atomic.LoadInt64(&b.remaining)
}
