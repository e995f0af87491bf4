// Package orchestrator implements C5, the boot-decision policy: on every
// reset, decide whether to hand control to the installed application,
// program a staged firmware request, fall back to a known-good image, or
// stay in the maintenance console, grounded on common/ubload.c's
// main()/ubload_check_fw()/ubload_authenticate()/ubload_request_last().
package orchestrator

import (
	"log/slog"

	"github.com/iqyx/ubload/internal/config"
	"github.com/iqyx/ubload/internal/extflash"
	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/image"
	"github.com/iqyx/ubload/internal/mcu"
	"github.com/iqyx/ubload/internal/progress"
	"github.com/iqyx/ubload/internal/stage"
	"github.com/iqyx/ubload/internal/ubllog"
	"github.com/iqyx/ubload/internal/ubloaderr"
	"github.com/iqyx/ubload/internal/watchdog"
)

const component = "orchestrator"

// backupFilename is the fixed name ubload_request_last falls back to when
// no known-working firmware is recorded (common/ubload.c's "backup.fw").
const backupFilename = "backup.fw"

// Orchestrator wires together the image engine, the staged-file
// integration, and the persistent config record into the top-level policy
// described in §2's data flow.
type Orchestrator struct {
	log    *slog.Logger
	fs     extflash.FS
	driver *flashdrv.Driver
	img    *image.Image
	runner mcu.Runner
	wdt    watchdog.Timer

	sectorCount uint32

	cfg config.Record
}

// New creates an Orchestrator over img (already constructed against the
// installed image's base/sectors), the staged-file filesystem, and the
// hardware reset/jump boundary.
func New(log *slog.Logger, fs extflash.FS, driver *flashdrv.Driver, img *image.Image, runner mcu.Runner, wdt watchdog.Timer, sectorCount uint32) *Orchestrator {
	return &Orchestrator{
		log:         log,
		fs:          fs,
		driver:      driver,
		img:         img,
		runner:      runner,
		wdt:         wdt,
		sectorCount: sectorCount,
	}
}

// LoadConfig reads the persisted configuration record, falling back to
// config.Default if none is present.
func (o *Orchestrator) LoadConfig() error {
	cfg, err := config.Load(o.fs)
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// Config returns the currently loaded configuration record.
func (o *Orchestrator) Config() *config.Record { return &o.cfg }

// CheckFW implements ubload_check_fw: if fw_request names a staged file,
// back up the current image (unless the request itself is the backup
// file), erase, program the new image, clear the request, and persist the
// config — all before returning (§2).
func (o *Orchestrator) CheckFW(r progress.Reporter) error {
	request := o.cfg.PendingFirmware()
	if request == "" {
		return nil
	}

	if request != backupFilename {
		o.log.Info("new firmware requested, backing up current image", slog.String("request", request))
		if _, err := stage.DumpFile(o.fs, backupFilename, o.driver, o.img.Base(), o.sectorCount*o.driver.SectorSize(), r); err != nil {
			o.log.Warn("cannot back up current firmware", slog.String("err", err.Error()))
		}
	}

	o.log.Info("programming requested firmware", slog.String("file", request))
	o.img.SetReporter(r)
	if err := o.img.Erase(); err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "erase before program failed", err)
	}

	if _, err := stage.ProgramFile(o.fs, request, o.driver, o.img.Base(), o.sectorCount, r); err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "program requested firmware failed", err)
	}

	if request == backupFilename {
		if err := o.fs.Remove(backupFilename); err != nil {
			o.log.Warn("cannot remove backup firmware after programming it", slog.String("err", err.Error()))
		}
	}

	o.cfg.SetPendingFirmware("")
	if err := config.Save(o.fs, &o.cfg); err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "persist config after programming failed", err)
	}
	return nil
}

// Authenticate implements ubload_authenticate: verify, then authenticate,
// the installed image. Both failures are reported distinctly via logging
// but collapse to one error for the caller (§4.3 failure semantics).
func (o *Orchestrator) Authenticate(r progress.Reporter) error {
	o.img.SetReporter(r)

	if err := o.img.Verify(); err != nil {
		o.log.Error("required firmware verification failed", slog.String("err", err.Error()))
		return err
	}
	if err := o.img.Authenticate(); err != nil {
		o.log.Error("required firmware authentication failed", slog.String("err", err.Error()))
		return err
	}
	return nil
}

// RequestFallback implements ubload_request_last: request the last known
// working firmware if one is recorded, else fall back to the fixed backup
// filename if present, else give up. Persists the config when a fallback
// was chosen.
func (o *Orchestrator) RequestFallback() error {
	o.log.Info("doing fallback")

	working := o.cfg.WorkingFirmware()
	if working != "" {
		o.log.Warn("requesting last working firmware", slog.String("file", working))
		o.cfg.SetPendingFirmware(working)
	} else if _, err := o.fs.Stat(backupFilename); err == nil {
		o.log.Warn("requesting backup firmware")
		o.cfg.SetPendingFirmware(backupFilename)
	} else {
		ubllog.Critical(o.log, "no fallback possible")
		return ubloaderr.New(ubloaderr.NotReady, component, "no known-working or backup firmware available")
	}

	return config.Save(o.fs, &o.cfg)
}

// Boot jumps to the installed application's entry point. Requires the
// image to be at least Parsed so EntryOffset() is valid.
func (o *Orchestrator) Boot() error {
	if o.img.State() < image.Parsed {
		return ubloaderr.New(ubloaderr.NotReady, component, "image not parsed")
	}
	o.log.Info("jumping to user code")
	return o.runner.Jump(o.img.Base() + o.img.EntryOffset())
}

// Run executes the full reset-time decision in one call, the shape of
// main()'s final if-block: check for a pending install, authenticate, and
// either boot or fall back and reset. It does not call LoadConfig itself —
// callers decide when configuration (and any interactive console session)
// happens first.
func (o *Orchestrator) Run(r progress.Reporter) error {
	if err := o.CheckFW(r); err != nil {
		return o.fallbackAndReset(err)
	}
	if err := o.Authenticate(r); err != nil {
		return o.fallbackAndReset(err)
	}

	if o.cfg.WatchdogEnabled && o.wdt != nil {
		if err := o.wdt.Start(); err != nil {
			o.log.Warn("watchdog start failed", slog.String("err", err.Error()))
		}
	}

	return o.Boot()
}

func (o *Orchestrator) fallbackAndReset(cause error) error {
	if err := o.RequestFallback(); err != nil {
		o.log.Error("fallback unavailable, resetting anyway", slog.String("err", err.Error()))
	}
	if err := o.runner.Reset(); err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "reset failed after fallback", err)
	}
	return cause
}
