// Package block defines the raw block-device collaborator the reference
// kernel names (block_get_role, block_size, block_read, block_write) and a
// file-backed reference implementation used to back the swap store in
// tests and cmd/vmdemo.
//
// Grounded on ufs/driver.go's ahci_disk_t in biscuit: a disk
// simulated by seeking into an *os.File, one BSIZE-ish unit at a time, plus
// fs/blk.go's Disk_i/BSIZE conventions for the sector contract.
package block

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// SectorSize matches the host kernel's fixed 512-byte sector.
const SectorSize = 512

// Device is the raw block layer. All operations are synchronous; the swap
// store provides whatever locking is required around a shared Device (see
// swap.Store).
type Device interface {
	// SectorCount reports the number of addressable sectors.
	SectorCount() int
	// ReadSector reads exactly SectorSize bytes into buf.
	ReadSector(sector int, buf []byte) error
	// WriteSector writes exactly SectorSize bytes from buf.
	WriteSector(sector int, buf []byte) error
	// Stats reports a short human-readable description of device activity,
	// grounded on fs.Disk_i.Stats in biscuit.
	Stats() string
}

// FileDevice simulates a block device backed by a regular file, the way
// biscuit's ahci_disk_t simulates AHCI with an *os.File during host-side
// testing.
type FileDevice struct {
	mu      sync.Mutex
	f       *os.File
	sectors int
	reads   int
	writes  int
}

// OpenFileDevice creates (or truncates) path to hold sectors worth of
// storage and returns a Device backed by it.
func OpenFileDevice(path string, sectors int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(sectors) * SectorSize); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{f: f, sectors: sectors}, nil
}

// SectorCount implements Device.
func (d *FileDevice) SectorCount() int {
	return d.sectors
}

// ReadSector implements Device.
func (d *FileDevice) ReadSector(sector int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(buf) != SectorSize {
		return fmt.Errorf("block: read buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector < 0 || sector >= d.sectors {
		return fmt.Errorf("block: sector %d out of range [0,%d)", sector, d.sectors)
	}
	n, err := d.f.ReadAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return fmt.Errorf("block: short read of sector %d: got %d bytes", sector, n)
	}
	d.reads++
	return nil
}

// WriteSector implements Device.
func (d *FileDevice) WriteSector(sector int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(buf) != SectorSize {
		return fmt.Errorf("block: write buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector < 0 || sector >= d.sectors {
		return fmt.Errorf("block: sector %d out of range [0,%d)", sector, d.sectors)
	}
	n, err := d.f.WriteAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return fmt.Errorf("block: short write of sector %d: wrote %d bytes", sector, n)
	}
	// Fdatasync rather than (*os.File).Sync: we only need data durable, not
	// the metadata churn a full fsync would also flush, and every write in
	// this module's hot path (swap-out) is page-sized and already
	// sector-aligned.
	if err := unix.Fdatasync(int(d.f.Fd())); err != nil {
		return err
	}
	d.writes++
	return nil
}

// Stats implements Device.
func (d *FileDevice) Stats() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("file-device: %d sectors, %d reads, %d writes", d.sectors, d.reads, d.writes)
}

// Close releases the backing file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
