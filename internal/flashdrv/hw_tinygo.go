//go:build tinygo

package flashdrv

// hwDevice talks to the on-chip flash controller directly, the way
// bindicator's ota.go bypasses TinyGo's machine.Flash and pokes the
// RP2350 ROM flash functions (connect-internal-flash / exit-xip /
// range-erase / range-program / flush-cache) directly because the
// wrapped API assumes offsets the bootloader doesn't use. ubload's
// internal flash is a different controller (the STM32-style part the
// original C bootloader targeted), so instead of ROM table lookups this
// pokes the FLASH peripheral's key/control/status registers directly —
// same shape as the original's flash_unlock()/flash_program()/
// flash_erase_sector() from libopencm3, just inlined instead of linked.
//
// A real port sets DefaultSectorSize/DefaultSectorAddrs to the target's
// memory map and
// wires hwDevice into flashdrv.New at startup; nothing above this file
// depends on any of that.

import "unsafe"

const (
	flashKeyReg    = 0x40023C04
	flashCtrlReg   = 0x40023C10
	flashStatusReg = 0x40023C0C

	flashKey1 = 0x45670123
	flashKey2 = 0xCDEF89AB

	ctrlLock  = 1 << 31
	ctrlStart = 1 << 16
	ctrlPER   = 1 << 1
	ctrlPG    = 1 << 0

	statusBusy = 1 << 16
)

func reg32(addr uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(addr))
}

func waitNotBusy() {
	for *reg32(flashStatusReg)&statusBusy != 0 {
	}
}

// hwDevice implements Device against the real flash peripheral.
// sectorAddrs maps a sector index to its base address; every sector is
// taken to be sectorSize bytes.
type hwDevice struct {
	sectorSize  uint32
	sectorAddrs []uint32
}

func newHWDevice(sectorSize uint32, sectorAddrs []uint32) *hwDevice {
	return &hwDevice{sectorSize: sectorSize, sectorAddrs: sectorAddrs}
}

// DefaultSectorSize is the erase granularity of the target this port was
// written for (128 KiB sectors, matching the original linker script's
// FLASH_SECTOR_SIZE).
const DefaultSectorSize = 128 * 1024

// DefaultSectorAddrs lists the first 8 sector base addresses of the
// target's 1 MiB internal flash.
var DefaultSectorAddrs = []uint32{
	0x08000000, 0x08020000, 0x08040000, 0x08060000,
	0x08080000, 0x080a0000, 0x080c0000, 0x080e0000,
}

// NewHWDevice returns the real register-poking Device, sized for the
// target's internal flash layout.
func NewHWDevice() Device {
	return newHWDevice(DefaultSectorSize, DefaultSectorAddrs)
}

func (h *hwDevice) SectorSize() uint32 { return h.sectorSize }

func (h *hwDevice) Unlock() error {
	*reg32(flashKeyReg) = flashKey1
	*reg32(flashKeyReg) = flashKey2
	return nil
}

func (h *hwDevice) Lock() error {
	*reg32(flashCtrlReg) |= ctrlLock
	return nil
}

func (h *hwDevice) EraseSector(sector uint32) error {
	if int(sector) >= len(h.sectorAddrs) {
		return errOutOfRange
	}
	waitNotBusy()
	*reg32(flashCtrlReg) |= ctrlPER
	*reg32(flashStatusReg) = h.sectorAddrs[sector]
	*reg32(flashCtrlReg) |= ctrlStart
	waitNotBusy()
	*reg32(flashCtrlReg) &^= ctrlPER
	return nil
}

func (h *hwDevice) ReadAt(addr uint32, length uint32) []byte {
	out := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		out[i] = *(*byte)(unsafe.Pointer(uintptr(addr) + uintptr(i)))
	}
	return out
}

func (h *hwDevice) Program(addr uint32, data []byte) error {
	waitNotBusy()
	*reg32(flashCtrlReg) |= ctrlPG
	for i := 0; i+1 < len(data); i += 2 {
		half := uint16(data[i]) | uint16(data[i+1])<<8
		*(*uint16)(unsafe.Pointer(uintptr(addr) + uintptr(i))) = half
		waitNotBusy()
	}
	if len(data)%2 == 1 {
		last := uint16(data[len(data)-1]) | 0xFF00
		*(*uint16)(unsafe.Pointer(uintptr(addr) + uintptr(len(data)-1))) = last
		waitNotBusy()
	}
	*reg32(flashCtrlReg) &^= ctrlPG
	return nil
}

var errOutOfRange = &rangeErr{}

type rangeErr struct{}

func (*rangeErr) Error() string { return "flashdrv: sector out of range" }
