// Package extflash is the boundary interface to the off-chip NOR flash
// filesystem staged firmware files live on. The filesystem implementation
// itself (SFFS) is out of scope; ubload opens, reads, writes, removes and
// stats named files on it, and can format it.
package extflash

import "io"

// File is a staged file opened for reading or writing. Callers must Close
// it when done; writers must Close before the written bytes are
// guaranteed durable.
type File interface {
	io.ReadWriteCloser
}

// Info describes one directory entry.
type Info struct {
	Name string
	Size int64
}

// FS is the external filesystem boundary. Its callers are internal/stage,
// internal/config, the orchestrator and the console.
type FS interface {
	// Open opens an existing file for reading.
	Open(name string) (File, error)

	// Create creates (or truncates) a file for writing.
	Create(name string) (File, error)

	// Remove deletes a named file. Removing a file that does not exist is
	// not an error.
	Remove(name string) error

	// Stat returns Info for a named file.
	Stat(name string) (Info, error)

	// List returns every file present.
	List() ([]Info, error)

	// Format discards every file, returning the filesystem to its
	// just-initialized empty state.
	Format() error
}
