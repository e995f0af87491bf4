//go:build tinygo

// Firmware build of the ubload entry point. Wires the hardware-backed
// flash driver, MCU runner and watchdog timer to the orchestrator the
// same way the host build wires their fakes, following bindicator's
// tinygo main.go convention of a single linear bring-up sequence with no
// further indirection once hardware is touched.
package main

import (
	"log/slog"

	"github.com/iqyx/ubload/internal/extflash"
	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/image"
	"github.com/iqyx/ubload/internal/mcu"
	"github.com/iqyx/ubload/internal/orchestrator"
	"github.com/iqyx/ubload/internal/pubkey"
	"github.com/iqyx/ubload/internal/ubllog"
	"github.com/iqyx/ubload/internal/watchdog"
)

const (
	imageBase    = 0x08020000
	imageSectors = 2
	pubkeyBase   = 0x08080000
	pubkeySlots  = 4
	regionStride = pubkey.SlotSize + pubkey.HashSize + pubkey.FPSize
)

func main() {
	ring := ubllog.NewRingBuffer(256)
	handler := ubllog.NewHandler(nil, ring, slog.LevelInfo)
	logger := slog.New(handler)

	dev := flashdrv.NewHWDevice()
	driver := flashdrv.New(dev)

	layout := pubkey.Layout{
		SlotCount: pubkeySlots,
		SlotBase: func(slot int) (uint32, uint32, uint32) {
			base := uint32(pubkeyBase + slot*regionStride)
			return base, base + pubkey.SlotSize, base + pubkey.SlotSize + pubkey.HashSize
		},
		SaltAddr: uint32(pubkeyBase + pubkeySlots*regionStride),
	}
	keys := pubkey.New(dev, layout)
	imageBaseSector := uint32(imageBase-0x08000000) / flashdrv.DefaultSectorSize
	img := image.New(driver, keys, imageBase, imageBaseSector, imageSectors)

	fs := extflash.NewHWFS()
	runner := mcu.NewHWRunner()
	wdt := watchdog.NewHW()

	orch := orchestrator.New(logger, fs, driver, img, runner, wdt, imageSectors)
	if err := orch.LoadConfig(); err != nil {
		logger.Error("load config", "error", err)
	}

	if err := orch.Run(nil); err != nil {
		logger.Error("boot sequence failed, awaiting watchdog reset", "error", err)
		for {
		}
	}
}
