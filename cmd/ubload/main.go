//go:build !tinygo

// Host build of the ubload entry point: a simulation harness that runs
// the full boot sequence and console against in-memory fakes instead of
// real flash and a real MCU, grounded on bindicator's cmd/cli/main.go
// flag-parsing style (flag.String/flag.Parse, positional host/port-style
// arguments) generalized to local files instead of a network peer.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/iqyx/ubload/internal/config"
	"github.com/iqyx/ubload/internal/console"
	"github.com/iqyx/ubload/internal/extflash"
	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/image"
	"github.com/iqyx/ubload/internal/mcu"
	"github.com/iqyx/ubload/internal/orchestrator"
	"github.com/iqyx/ubload/internal/progress"
	"github.com/iqyx/ubload/internal/pubkey"
	"github.com/iqyx/ubload/internal/ubllog"
)

const (
	simFlashSize    = 1 << 20 // 1 MiB simulated internal flash (image and pubkey slots)
	simSectorSize   = 4096
	simImageBase    = 0
	simImageSectors = 64 // 256 KiB for the firmware image region
	simPubkeyBase   = simImageSectors * simSectorSize
	simPubkeySlots  = 4
	simRegionStride = pubkey.SlotSize + pubkey.HashSize + pubkey.FPSize
)

func main() {
	interactive := flag.Bool("console", false, "drop into the interactive console instead of running the boot sequence")
	flag.Parse()

	ring := ubllog.NewRingBuffer(256)
	handler := ubllog.NewHandler(os.Stdout, ring, slog.LevelInfo)
	logger := slog.New(handler)

	dev := flashdrv.NewSimDevice(simFlashSize, simSectorSize)
	driver := flashdrv.New(dev)

	layout := pubkey.Layout{
		SlotCount: simPubkeySlots,
		SlotBase: func(slot int) (uint32, uint32, uint32) {
			base := uint32(simPubkeyBase + slot*simRegionStride)
			return base, base + pubkey.SlotSize, base + pubkey.SlotSize + pubkey.HashSize
		},
		SaltAddr: uint32(simPubkeyBase + simPubkeySlots*simRegionStride),
	}
	keys := pubkey.New(dev, layout)
	img := image.New(driver, keys, simImageBase, 0, simImageSectors)
	img.SetReporter(consoleProgress{logger})

	fs := extflash.NewMemFS()
	runner := mcu.NewFake()

	orch := orchestrator.New(logger, fs, driver, img, runner, nil, simImageSectors)
	if err := orch.LoadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		c := console.New(stdinoutRW{}, driver, img, keys, fs, runner, ring, *orch.Config())
		c.Run()
		return
	}

	if err := orch.Run(consoleProgress{logger}); err != nil {
		logger.Error("boot sequence failed", "error", err)
		os.Exit(1)
	}
}

type consoleProgress struct {
	log *slog.Logger
}

func (c consoleProgress) OnProgress(done, total uint32) progress.Signal {
	c.log.Debug("progress", "done", done, "total", total)
	return progress.Continue
}

// stdinoutRW pairs stdin and stdout into the io.ReadWriter the console
// package expects, the way a real UART is one bidirectional stream.
type stdinoutRW struct{}

func (stdinoutRW) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdinoutRW) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
