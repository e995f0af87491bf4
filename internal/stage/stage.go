// Package stage implements C4, the staged-file integration: moving bytes
// between a file on the external filesystem and the internal flash driver
// in fixed-size chunks, tracking a running SHA-256 and reporting progress
// as it goes. This layer never parses or authenticates anything — that is
// image's job once the bytes are in place.
//
// Grounded on bindicator's ota_server.go chunked-receive loop: read a
// fixed-size chunk, hash it, write it, report progress, repeat.
package stage

import (
	"crypto/sha256"
	"io"

	"github.com/iqyx/ubload/internal/extflash"
	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/progress"
	"github.com/iqyx/ubload/internal/ubloaderr"
)

const component = "stage"

// ChunkSize matches the granularity progress is reported at; it has no
// relationship to the flash's own sector size, since a stage operation may
// span many sectors per chunk or many chunks per sector.
const ChunkSize = 4096

// Result summarizes a completed program or dump operation.
type Result struct {
	Bytes uint32
	SHA256 [32]byte
}

// ProgramFile streams name from fs into driver starting at addr. The
// caller is responsible for having erased the target region first (the
// image engine's Erase, via C3) — ProgramFile only moves bytes, it never
// erases, so it has no sector-address assumptions of its own and is safe
// to call against an image based anywhere in flash (§4.1, §4.4).
func ProgramFile(fs extflash.FS, name string, driver *flashdrv.Driver, addr uint32, sectorCount uint32, r progress.Reporter) (Result, error) {
	f, err := fs.Open(name)
	if err != nil {
		return Result{}, ubloaderr.Wrap(ubloaderr.InvalidArgument, component, "open staged file failed", err)
	}
	defer f.Close()

	info, err := fs.Stat(name)
	if err != nil {
		return Result{}, ubloaderr.Wrap(ubloaderr.InvalidArgument, component, "stat staged file failed", err)
	}

	sectorSize := driver.SectorSize()
	maxBytes := uint64(sectorCount) * uint64(sectorSize)
	if uint64(info.Size) > maxBytes {
		return Result{}, ubloaderr.New(ubloaderr.InvalidArgument, component, "staged file larger than target region")
	}

	hasher := sha256.New()
	written := uint32(0)
	buf := make([]byte, ChunkSize)

	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			if err := driver.Program(addr+written, buf[:n]); err != nil {
				return Result{}, err
			}
			hasher.Write(buf[:n])
			written += uint32(n)

			if progress.Report(r, written, uint32(info.Size)) == progress.Cancel {
				return Result{}, ubloaderr.New(ubloaderr.FlashError, component, "program cancelled")
			}
		}

		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return Result{}, ubloaderr.Wrap(ubloaderr.FlashError, component, "read staged file failed", rerr)
		}
	}

	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return Result{Bytes: written, SHA256: sum}, nil
}

// DumpFile streams length bytes starting at addr out of driver into a new
// file named name on fs, the reverse of ProgramFile, used for
// known-good-image backups before an install (§2 data flow).
func DumpFile(fs extflash.FS, name string, driver *flashdrv.Driver, addr uint32, length uint32, r progress.Reporter) (Result, error) {
	out, err := fs.Create(name)
	if err != nil {
		return Result{}, ubloaderr.Wrap(ubloaderr.InvalidArgument, component, "create dump file failed", err)
	}
	defer out.Close()

	hasher := sha256.New()
	written := uint32(0)

	for written < length {
		n := ChunkSize
		if remaining := length - written; uint32(n) > remaining {
			n = int(remaining)
		}

		chunk := driver.ReadAt(addr+written, uint32(n))
		if _, err := out.Write(chunk); err != nil {
			return Result{}, ubloaderr.Wrap(ubloaderr.FlashError, component, "write dump file failed", err)
		}
		hasher.Write(chunk)
		written += uint32(n)

		if progress.Report(r, written, length) == progress.Cancel {
			return Result{}, ubloaderr.New(ubloaderr.FlashError, component, "dump cancelled")
		}
	}

	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return Result{Bytes: written, SHA256: sum}, nil
}
