//go:build tinygo

package mcu

import "unsafe"

const aircrAddr = 0xE000ED0C
const aircrResetValue = 0x05FA0004

// hwRunner jumps by reading the initial stack pointer and reset handler
// from the vector table at entryBase, and resets by writing
// AIRCR.SYSRESETREQ the way fw_runner_reset does.
type hwRunner struct{}

// NewHWRunner returns the real register-poking Runner.
func NewHWRunner() Runner { return hwRunner{} }

func (hwRunner) Jump(entryBase uint32) error {
	vectorTable := (*[2]uint32)(unsafe.Pointer(uintptr(entryBase)))
	sp := vectorTable[0]
	entry := vectorTable[1]

	setMSP(sp)
	callEntry(entry)
	return nil
}

func (hwRunner) Reset() error {
	*(*uint32)(unsafe.Pointer(uintptr(aircrAddr))) = aircrResetValue
	for {
	}
}

// setMSP and callEntry are implemented in target-specific assembly (MSR
// msp, then an indirect branch); the Go bodies here exist only so this
// file type-checks on its own.
func setMSP(sp uint32)       {}
func callEntry(entry uint32) {}
