// Package config implements the persistent configuration record: a
// fixed-layout byte sequence stored as a file on the external filesystem,
// loaded at boot and written back on explicit save or at the end of an
// install cycle, grounded on common/config.c/.h.
//
// The wire layout is decoded with github.com/go-restruct/restruct the way
// go-exfat's structures.go decodes exFAT's on-disk boot sector: a plain Go
// struct of fixed-size fields, unpacked with a single explicit byte order.
package config

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"

	"github.com/iqyx/ubload/internal/ubloaderr"
)

const component = "config"

// defaultEncoding matches the image container's big-endian convention, the
// way go-exfat picks one binary.ByteOrder for its whole boot sector.
var defaultEncoding = binary.BigEndian

// File is the name the configuration record is stored under on the
// external filesystem.
const File = "ubload.cfg"

// LEDMode selects how onboard status LEDs behave during bootloader
// execution (common/config.h's enum ubload_config_led_mode).
type LEDMode uint8

const (
	LEDOff LEDMode = iota
	LEDStillOn
	LEDBasic
	LEDDiag
)

const (
	hostnameSize  = 32
	fwRequestSize = 64
	fwWorkingSize = 64
)

// Record is the fixed-layout configuration record (§1.4). Every field the
// spec requires "at minimum" is present; common/config.c's original fields
// (serial_enabled, cli_enabled, enter/skip key, wait_time) are kept
// alongside them since nothing excludes them.
type Record struct {
	HostnameRaw [hostnameSize]byte

	SerialEnabled bool
	SerialSpeed   uint32

	LEDMode LEDMode

	CLIEnabled bool
	EnterKey   byte
	SkipKey    byte
	WaitTime   uint8

	IdleTimeout uint16

	WatchdogEnabled bool

	FWRequest [fwRequestSize]byte
	FWWorking [fwWorkingSize]byte
}

// Default matches common/config.c's default_config.
var Default = Record{
	SerialEnabled:   true,
	SerialSpeed:     115200,
	LEDMode:         LEDBasic,
	CLIEnabled:      true,
	EnterKey:        13,
	SkipKey:         27,
	WaitTime:        5,
	IdleTimeout:     300,
	WatchdogEnabled: false,
}

func init() {
	copy(Default.HostnameRaw[:], "unknown")
}

func trimString(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

func putString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

// Hostname returns the record's host name, trimmed of its trailing
// zero-padding.
func (r *Record) Hostname() string { return trimString(r.HostnameRaw[:]) }

// SetHostname stores s into the record, truncating if necessary.
func (r *Record) SetHostname(s string) { putString(r.HostnameRaw[:], s) }

// PendingFirmware returns the fw_request filename, or "" if none is
// pending.
func (r *Record) PendingFirmware() string { return trimString(r.FWRequest[:]) }

// SetPendingFirmware records a staged filename to install on next boot, or
// clears it when name is "".
func (r *Record) SetPendingFirmware(name string) { putString(r.FWRequest[:], name) }

// WorkingFirmware returns the filename of the last known-good image.
func (r *Record) WorkingFirmware() string { return trimString(r.FWWorking[:]) }

// SetWorkingFirmware records the filename of the last known-good image.
func (r *Record) SetWorkingFirmware(name string) { putString(r.FWWorking[:], name) }

// Marshal encodes r into its fixed-layout wire form.
func Marshal(r *Record) ([]byte, error) {
	data, err := restruct.Pack(defaultEncoding, r)
	if err != nil {
		return nil, ubloaderr.Wrap(ubloaderr.Malformed, component, "encode config record failed", err)
	}
	return data, nil
}

// Unmarshal decodes a Record from its fixed-layout wire form.
func Unmarshal(data []byte) (Record, error) {
	var r Record
	if err := restruct.Unpack(data, defaultEncoding, &r); err != nil {
		return Record{}, ubloaderr.Wrap(ubloaderr.Malformed, component, "decode config record failed", err)
	}
	return r, nil
}
