package flashdrv

import "github.com/iqyx/ubload/internal/ubloaderr"

// SimDevice is an in-memory Device backing the image and pubkey tests and
// any host-side simulation run (cmd/ubload's demo harness). It enforces
// the same "program only erased bytes" discipline real NOR flash has:
// programming a byte that is not 0xFF returns a FlashError rather than
// silently corrupting state, so a broken caller fails loudly on a laptop
// instead of on hardware.
type SimDevice struct {
	mem        []byte
	sectorSize uint32
	locked     bool
}

// NewSimDevice returns a SimDevice of size bytes, erased (all 0xFF), with
// the given sector size.
func NewSimDevice(size int, sectorSize uint32) *SimDevice {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &SimDevice{mem: mem, sectorSize: sectorSize, locked: true}
}

// SectorSize implements Device.
func (s *SimDevice) SectorSize() uint32 { return s.sectorSize }

// Unlock implements Device.
func (s *SimDevice) Unlock() error {
	s.locked = false
	return nil
}

// Lock implements Device.
func (s *SimDevice) Lock() error {
	s.locked = true
	return nil
}

// EraseSector implements Device.
func (s *SimDevice) EraseSector(sector uint32) error {
	if s.locked {
		return ubloaderr.New(ubloaderr.FlashError, "flashdrv/sim", "erase while locked")
	}
	start := uint64(sector) * uint64(s.sectorSize)
	if start >= uint64(len(s.mem)) {
		return ubloaderr.New(ubloaderr.InvalidArgument, "flashdrv/sim", "sector out of range")
	}
	end := start + uint64(s.sectorSize)
	if end > uint64(len(s.mem)) {
		end = uint64(len(s.mem))
	}
	for i := start; i < end; i++ {
		s.mem[i] = 0xFF
	}
	return nil
}

// Program implements Device.
func (s *SimDevice) Program(addr uint32, data []byte) error {
	if s.locked {
		return ubloaderr.New(ubloaderr.FlashError, "flashdrv/sim", "program while locked")
	}
	if uint64(addr)+uint64(len(data)) > uint64(len(s.mem)) {
		return ubloaderr.New(ubloaderr.InvalidArgument, "flashdrv/sim", "program out of range")
	}
	for i, b := range data {
		if s.mem[int(addr)+i] != 0xFF {
			return ubloaderr.New(ubloaderr.FlashError, "flashdrv/sim", "program over non-erased byte")
		}
		s.mem[int(addr)+i] = b
	}
	return nil
}

// Bytes exposes the full backing memory, for tests that need to read the
// image window directly or seed preexisting content without going
// through Program (e.g. seeding a fully-formed image file in one shot).
func (s *SimDevice) Bytes() []byte {
	return s.mem
}

// ReadAt reads length bytes starting at addr, for code paths (hash,
// dump_file) that read the image window directly rather than through
// Program.
func (s *SimDevice) ReadAt(addr uint32, length uint32) []byte {
	return s.mem[addr : addr+length]
}
