//go:build tinygo

package watchdog

import (
	"time"
	"unsafe"
)

// Independent watchdog register block, matching the original's
// ubload_watchdog_init/fw_image_watchdog_enable use of the target's IWDG
// peripheral: write the key register to unlock, set a prescaler and
// reload value, then start it.
const (
	iwdgKeyReg    = 0x40003000
	iwdgPrescaler = 0x40003004
	iwdgReloadReg = 0x40003008

	iwdgKeyEnableAccess = 0x5555
	iwdgKeyStart        = 0xCCCC
	iwdgKeyRefresh      = 0xAAAA
)

func reg32(addr uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(addr))
}

// hw is the real IWDG-backed Timer.
type hw struct{}

// NewHW returns the real watchdog Timer.
func NewHW() Timer { return hw{} }

func (hw) Configure(timeout time.Duration) error {
	*reg32(iwdgKeyReg) = iwdgKeyEnableAccess
	*reg32(iwdgPrescaler) = 4
	reload := uint32(timeout/time.Millisecond) / 8
	*reg32(iwdgReloadReg) = reload
	return nil
}

func (hw) Start() error {
	*reg32(iwdgKeyReg) = iwdgKeyStart
	return nil
}

func (hw) Feed() {
	*reg32(iwdgKeyReg) = iwdgKeyRefresh
}
