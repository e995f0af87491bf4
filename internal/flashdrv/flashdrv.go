// Package flashdrv implements C1, the internal-flash driver: erase a
// sector, program a byte range, and the lock/unlock bracket around both.
// Flash writes are blocking and the driver assumes a single caller (§5);
// it does not serialize concurrent access itself.
package flashdrv

import (
	"github.com/iqyx/ubload/internal/ubloaderr"
)

const component = "flashdrv"

// Device is the hardware boundary the rest of ubload programs against.
// The real implementation lives behind a `tinygo` build tag and pokes the
// MCU's flash controller registers directly instead of going through
// TinyGo's machine.Flash.
// SectorSize reports the erase granularity; callers must erase whole
// sectors before programming into them.
type Device interface {
	// SectorSize returns the erase granularity in bytes.
	SectorSize() uint32

	// Unlock opens the flash controller for writes. Driver.EraseSector
	// and Driver.Program bracket the device calls with Unlock/Lock, so
	// callers going through a Driver never call this directly.
	Unlock() error

	// Lock closes the flash controller to writes.
	Lock() error

	// EraseSector erases one sector, identified by its sector index
	// (not byte offset).
	EraseSector(sector uint32) error

	// Program writes data starting at addr. The caller is responsible
	// for having erased every sector addr..addr+len(data) covers;
	// programming a byte that is not all-ones has undefined results and
	// must not be attempted (§4.1).
	Program(addr uint32, data []byte) error

	// ReadAt returns length bytes starting at addr. Internal flash on
	// these parts is memory-mapped (XIP), so reads never go through the
	// controller's busy/lock state the way erase/program do.
	ReadAt(addr uint32, length uint32) []byte
}

// Driver wraps a Device with the unlock/erase.../lock and
// unlock/program/lock brackets the C1 contract requires, so callers never
// forget to re-lock after a write.
type Driver struct {
	dev Device
}

// New wraps dev.
func New(dev Device) *Driver {
	return &Driver{dev: dev}
}

// SectorSize reports the underlying device's erase granularity.
func (d *Driver) SectorSize() uint32 {
	return d.dev.SectorSize()
}

// EraseSector unlocks, erases one sector, and relocks.
func (d *Driver) EraseSector(sector uint32) error {
	if err := d.dev.Unlock(); err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "unlock for erase failed", err)
	}
	defer d.dev.Lock()

	if err := d.dev.EraseSector(sector); err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "erase sector failed", err)
	}
	return nil
}

// Program unlocks, programs, and relocks.
func (d *Driver) Program(addr uint32, data []byte) error {
	if len(data) == 0 {
		return ubloaderr.New(ubloaderr.InvalidArgument, component, "program with empty data")
	}

	if err := d.dev.Unlock(); err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "unlock for program failed", err)
	}
	defer d.dev.Lock()

	if err := d.dev.Program(addr, data); err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "program failed", err)
	}
	return nil
}

// ReadAt reads directly from the memory-mapped flash window.
func (d *Driver) ReadAt(addr uint32, length uint32) []byte {
	return d.dev.ReadAt(addr, length)
}
