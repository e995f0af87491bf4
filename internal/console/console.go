// Package console implements the interactive maintenance CLI (§6): a
// line-oriented command set reachable over the serial console, grounded on
// common/cli_cmd.c's verb set and help text and on bindicator's
// console.go line-buffering/dispatch loop (ported from bindicator's
// fixed-size telnet read loop to a bufio.Scanner since ubload's console is
// a point-to-point UART, not a multiplexed TCP listener).
package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/iqyx/ubload/internal/config"
	"github.com/iqyx/ubload/internal/extflash"
	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/hexdump"
	"github.com/iqyx/ubload/internal/image"
	"github.com/iqyx/ubload/internal/mcu"
	"github.com/iqyx/ubload/internal/pubkey"
	"github.com/iqyx/ubload/internal/stage"
	"github.com/iqyx/ubload/internal/ubllog"
)

// runResult tells the caller what the console decided once a session
// ends, mirroring cli_run's CLI_RUN_BOOT/CLI_RUN_RESET/CLI_RUN_TIMEOUT.
type runResult int

const (
	RunBoot runResult = iota
	RunReset
	RunQuit
)

// Console is one interactive session bound to a transport (a UART in
// production, an in-memory pipe in tests), the installed image, the
// pubkey slot store, the external filesystem, and the MCU boundary.
type Console struct {
	rw      io.ReadWriter
	driver  *flashdrv.Driver
	img     *image.Image
	keys    *pubkey.Store
	fs      extflash.FS
	runner  mcu.Runner
	ring    *ubllog.RingBuffer
	cfg     config.Record
	scanner *bufio.Scanner
}

// New creates a Console bound to rw (a UART in production, an in-memory
// pipe in tests).
func New(rw io.ReadWriter, driver *flashdrv.Driver, img *image.Image, keys *pubkey.Store, fs extflash.FS, runner mcu.Runner, ring *ubllog.RingBuffer, cfg config.Record) *Console {
	return &Console{rw: rw, driver: driver, img: img, keys: keys, fs: fs, runner: runner, ring: ring, cfg: cfg}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.rw, format, args...)
}

// confirm prints prompt and reads the next console line, reporting whether
// it was "y" or "yes" (case-insensitive). Used before any irreversible or
// slot-consuming operation (§6: "pubkey add ... with confirmation").
func (c *Console) confirm(prompt string) bool {
	c.printf("%s [y/N] ", prompt)
	if !c.scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(c.scanner.Text()))
	return answer == "y" || answer == "yes"
}

// Run drives one interactive session to completion: it reads lines until
// "boot" (when the jump succeeds), "quit"/"reset" or EOF, dispatching each to a verb handler, and reports
// what the caller (the orchestrator, or a test) should do next.
func (c *Console) Run() runResult {
	c.printf("\r\nuBLoad command line interface, type <help> to show available commands.\r\n\r\n> ")

	c.scanner = bufio.NewScanner(c.rw)
	for c.scanner.Scan() {
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			c.printf("> ")
			continue
		}

		fields := strings.Fields(line)
		verb, args := fields[0], fields[1:]

		switch verb {
		case "boot":
			if err := c.runner.Jump(c.img.Base() + c.img.EntryOffset()); err != nil {
				c.printf("boot failed: %s\r\n", err)
				c.printf("> ")
				continue
			}
			return RunBoot
		case "reset", "quit":
			_ = c.runner.Reset()
			return RunReset
		default:
			c.dispatch(verb, args)
		}
		c.printf("> ")
	}
	return RunQuit
}

func (c *Console) dispatch(verb string, args []string) {
	switch verb {
	case "help":
		c.cmdHelp()
	case "erase":
		c.cmdErase()
	case "verify":
		c.cmdVerify()
	case "authenticate":
		c.cmdAuthenticate()
	case "dump":
		c.cmdDump(args)
	case "program":
		c.cmdProgram(args)
	case "pubkey":
		c.cmdPubkey(args)
	case "config":
		c.cmdConfig(args)
	case "fs":
		c.cmdFS(args)
	case "log":
		c.cmdLog(args)
	default:
		c.printf("unknown command %q, type <help> for a list\r\n", verb)
	}
}

func (c *Console) cmdHelp() {
	c.printf("Available commands:\r\n" +
		"([] are optional parameters, <> are obligatory parameters)\r\n\r\n" +
		"  help                        print this help\r\n" +
		"  reset | quit                reset/reboot the device\r\n" +
		"  boot                        boot the loaded firmware image, unchecked\r\n" +
		"  erase                       erase the loaded firmware image\r\n" +
		"  dump <start> <length>       dump length bytes of the image starting at offset start\r\n" +
		"  dump file <name>            dump the current image to a file on the staging filesystem\r\n" +
		"  dump xmodem                 dump the current image over XMODEM\r\n" +
		"  program <name>|xmodem       program firmware image named <name>, or over xmodem\r\n" +
		"  verify                      verify the loaded image's integrity hash\r\n" +
		"  authenticate                verify then authenticate the loaded image\r\n" +
		"  pubkey print                list public-key slot states and fingerprints\r\n" +
		"  pubkey add <hex>            store a hex-encoded public key into the first empty slot\r\n" +
		"  pubkey lock <n|all>         irreversibly lock slot n, or every slot\r\n" +
		"  config print [key]|save|load|default|set <name> <value>\r\n" +
		"  fs download <name>          receive a file from the host onto the staging filesystem\r\n" +
		"  fs upload <name>            send a staged file's contents to the host\r\n" +
		"  fs delete <name>            delete a staged file\r\n" +
		"  fs format                   erase the staging filesystem\r\n" +
		"  log print                   print the circular log buffer\r\n")
}

func (c *Console) cmdErase() {
	if err := c.img.Erase(); err != nil {
		c.printf("erase failed: %s\r\n", err)
		return
	}
	c.printf("image erased\r\n")
}

func (c *Console) cmdVerify() {
	if err := c.img.Verify(); err != nil {
		c.printf("verify failed: %s\r\n", err)
		return
	}
	c.printf("verify OK\r\n")
}

func (c *Console) cmdAuthenticate() {
	if err := c.img.Authenticate(); err != nil {
		c.printf("authenticate failed: %s\r\n", err)
		return
	}
	c.printf("authenticate OK\r\n")
}

func (c *Console) cmdDump(args []string) {
	if len(args) == 0 {
		c.printf("usage: dump <start> <length> | dump file <name> | dump xmodem\r\n")
		return
	}

	switch args[0] {
	case "file":
		c.dumpFile(args[1:])
		return
	case "xmodem":
		c.printf("xmodem transfer not available on this transport\r\n")
		return
	}

	if len(args) != 2 {
		c.printf("usage: dump <start> <length>\r\n")
		return
	}
	start, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		c.printf("invalid start offset %q\r\n", args[0])
		return
	}
	length, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		c.printf("invalid length %q\r\n", args[1])
		return
	}

	data := c.driver.ReadAt(c.img.Base()+uint32(start), uint32(length))
	c.printf("%s", hexdump.String(uint32(start), data))
}

func (c *Console) dumpFile(args []string) {
	if len(args) != 1 {
		c.printf("usage: dump file <name>\r\n")
		return
	}
	name := args[0]
	length := c.img.Sectors() * c.driver.SectorSize()
	res, err := stage.DumpFile(c.fs, name, c.driver, c.img.Base(), length, nil)
	if err != nil {
		c.printf("dump failed: %s\r\n", err)
		return
	}
	c.printf("dumped %s to %s, sha256 %x\r\n", humanize.Bytes(uint64(res.Bytes)), name, res.SHA256)
}

func (c *Console) cmdProgram(args []string) {
	if len(args) != 1 {
		c.printf("usage: program <name>\r\n")
		return
	}
	name := args[0]
	if name == "xmodem" {
		c.printf("xmodem transfer not available on this transport\r\n")
		return
	}

	if err := c.img.Erase(); err != nil {
		c.printf("erase before program failed: %s\r\n", err)
		return
	}
	res, err := stage.ProgramFile(c.fs, name, c.driver, c.img.Base(), c.img.Sectors(), nil)
	if err != nil {
		c.printf("program failed: %s\r\n", err)
		return
	}
	c.printf("programmed %s, sha256 %x\r\n", humanize.Bytes(uint64(res.Bytes)), res.SHA256)
}

func (c *Console) cmdPubkey(args []string) {
	if len(args) == 0 {
		c.printf("usage: pubkey print|add <hex>|lock <n|all>\r\n")
		return
	}
	switch args[0] {
	case "print":
		c.pubkeyPrint()
	case "add":
		c.pubkeyAdd(args[1:])
	case "lock":
		c.pubkeyLock(args[1:])
	default:
		c.printf("unknown pubkey subcommand %q\r\n", args[0])
	}
}

func (c *Console) pubkeyPrint() {
	t := table.NewWriter()
	t.SetOutputMirror(c.rw)
	t.AppendHeader(table.Row{"slot", "state", "fingerprint"})
	for i := 0; i < c.keys.SlotCount(); i++ {
		state, err := c.keys.CheckIfSlotEmpty(i)
		if err != nil {
			t.AppendRow(table.Row{i, "error: " + err.Error(), ""})
			continue
		}
		fp := ""
		if state == pubkey.StateUsed {
			if key, err := c.keys.GetSlotKey(i, pubkey.SlotSize); err == nil {
				fp = fmt.Sprintf("%x", pubkey.Fingerprint(key))
			} else {
				fp = "invalid"
			}
		}
		t.AppendRow(table.Row{i, state.String(), fp})
	}
	t.Render()
}

func (c *Console) pubkeyAdd(args []string) {
	if len(args) != 1 {
		c.printf("usage: pubkey add <hex>\r\n")
		return
	}

	key, err := decodeHexKey(args[0])
	if err != nil {
		// Reject malformed hex outright rather than zero-extending it:
		// a silently truncated key would be stored and verified forever.
		c.printf("invalid key hex: %s\r\n", err)
		return
	}

	slot := -1
	for i := 0; i < c.keys.SlotCount(); i++ {
		state, err := c.keys.CheckIfSlotEmpty(i)
		if err != nil {
			c.printf("pubkey add failed: %s\r\n", err)
			return
		}
		if state == pubkey.StateEmpty {
			slot = i
			break
		}
	}
	if slot == -1 {
		c.printf("pubkey add failed: no empty slot available\r\n")
		return
	}

	fp := pubkey.Fingerprint(key)
	prompt := fmt.Sprintf("store key fingerprint %x in slot %d?", fp, slot)
	if !c.confirm(prompt) {
		c.printf("aborted\r\n")
		return
	}

	if err := c.keys.SetSlotKey(slot, key); err != nil {
		c.printf("pubkey add failed: %s\r\n", err)
		return
	}
	c.printf("key stored in slot %d\r\n", slot)
}

func decodeHexKey(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune("0123456789abcdefABCDEF", rune(s[i])) {
			return nil, fmt.Errorf("invalid hex digit at position %d", i)
		}
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("invalid hex digit at position %d", i*2)
		}
		out[i] = b
	}
	return out, nil
}

func (c *Console) pubkeyLock(args []string) {
	if len(args) != 1 {
		c.printf("usage: pubkey lock <n|all>\r\n")
		return
	}

	if args[0] == "all" {
		for i := 0; i < c.keys.SlotCount(); i++ {
			if err := c.keys.LockSlot(i); err != nil {
				c.printf("pubkey lock failed on slot %d: %s\r\n", i, err)
				return
			}
		}
		c.printf("all slots locked\r\n")
		return
	}

	slot, err := strconv.Atoi(args[0])
	if err != nil {
		c.printf("invalid slot %q\r\n", args[0])
		return
	}
	if err := c.keys.LockSlot(slot); err != nil {
		c.printf("pubkey lock failed: %s\r\n", err)
		return
	}
	c.printf("slot %d locked\r\n", slot)
}

func (c *Console) cmdConfig(args []string) {
	if len(args) == 0 {
		c.printf("usage: config print|save|load|default|set <name> <value>\r\n")
		return
	}
	switch args[0] {
	case "print":
		c.configPrint(args[1:])
	case "save":
		if err := config.Save(c.fs, &c.cfg); err != nil {
			c.printf("config save failed: %s\r\n", err)
			return
		}
		c.printf("config saved\r\n")
	case "load":
		cfg, err := config.Load(c.fs)
		if err != nil {
			c.printf("config load failed: %s\r\n", err)
			return
		}
		c.cfg = cfg
		c.printf("config loaded\r\n")
	case "default":
		c.cfg = config.Default
		c.printf("config reset to defaults (not yet saved)\r\n")
	case "set":
		c.configSet(args[1:])
	default:
		c.printf("unknown config subcommand %q\r\n", args[0])
	}
}

// configFields lists every key "config print" shows, so a single lookup
// serves both "config print" (all fields) and
// "config print <key>" (one field).
func (c *Console) configFields() []table.Row {
	return []table.Row{
		{"hostname", c.cfg.Hostname()},
		{"serial_speed", c.cfg.SerialSpeed},
		{"cli_enabled", c.cfg.CLIEnabled},
		{"watchdog_enabled", c.cfg.WatchdogEnabled},
		{"idle_timeout", c.cfg.IdleTimeout},
		{"fw_request", c.cfg.PendingFirmware()},
		{"fw_working", c.cfg.WorkingFirmware()},
	}
}

func (c *Console) configPrint(args []string) {
	rows := c.configFields()

	if len(args) == 1 {
		key := args[0]
		for _, row := range rows {
			if row[0] == key {
				c.printf("%s = %v\r\n", row[0], row[1])
				return
			}
		}
		c.printf("unknown configuration variable %q\r\n", key)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(c.rw)
	t.AppendHeader(table.Row{"name", "value"})
	t.AppendRows(rows)
	t.Render()
}

func (c *Console) configSet(args []string) {
	if len(args) != 2 {
		c.printf("usage: config set <name> <value>\r\n")
		return
	}
	name, value := args[0], args[1]
	switch name {
	case "hostname":
		c.cfg.SetHostname(value)
	case "fw_request":
		c.cfg.SetPendingFirmware(value)
	case "fw_working":
		c.cfg.SetWorkingFirmware(value)
	case "serial_speed":
		speed, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			c.printf("invalid serial_speed %q\r\n", value)
			return
		}
		c.cfg.SerialSpeed = uint32(speed)
	case "watchdog_enabled":
		c.cfg.WatchdogEnabled = value == "true" || value == "1"
	default:
		c.printf("unknown configuration variable %q\r\n", name)
		return
	}
	c.printf("%s = %s\r\n", name, value)
}

func (c *Console) cmdFS(args []string) {
	if len(args) == 0 {
		c.printf("usage: fs download <name>|upload <name>|delete <name>|format\r\n")
		return
	}
	switch args[0] {
	case "download":
		c.fsDownload(args[1:])
	case "upload":
		c.fsUpload(args[1:])
	case "delete":
		if len(args) != 2 {
			c.printf("usage: fs delete <name>\r\n")
			return
		}
		if err := c.fs.Remove(args[1]); err != nil {
			c.printf("delete failed: %s\r\n", err)
			return
		}
		c.printf("deleted %s\r\n", args[1])
	case "format":
		if err := c.fs.Format(); err != nil {
			c.printf("fs format failed: %s\r\n", err)
			return
		}
		c.printf("filesystem formatted\r\n")
	default:
		c.printf("unknown fs subcommand %q\r\n", args[0])
	}
}

// fsDownload handles "fs download <name>". Like "program xmodem" and
// "dump xmodem", it performs no XMODEM transfer: after checking its
// arguments it always reports the transfer as unavailable rather than
// silently faking one.
func (c *Console) fsDownload(args []string) {
	if len(args) != 1 {
		c.printf("usage: fs download <name>\r\n")
		return
	}
	c.printf("xmodem transfer not available on this transport\r\n")
}

// fsUpload handles "fs upload <name>", the reverse of fsDownload: it
// checks that the staged file exists, then reports the XMODEM transfer as
// unavailable.
func (c *Console) fsUpload(args []string) {
	if len(args) != 1 {
		c.printf("usage: fs upload <name>\r\n")
		return
	}
	if _, err := c.fs.Stat(args[0]); err != nil {
		c.printf("fs upload failed: %s\r\n", err)
		return
	}
	c.printf("xmodem transfer not available on this transport\r\n")
}

func (c *Console) cmdLog(args []string) {
	if len(args) != 1 || args[0] != "print" {
		c.printf("usage: log print\r\n")
		return
	}
	if c.ring == nil {
		c.printf("no log buffer attached\r\n")
		return
	}
	for _, e := range c.ring.All() {
		c.printf("%s %s %s\r\n", e.Time.Format("15:04:05"), e.Level, e.Msg)
	}
}
