//go:build tinygo

package extflash

// NewHWFS returns the FS backed by the external SPI NOR chip staged
// files live on. Driving the actual filesystem (SFFS, per the original's
// common/sffs.c) is out of scope; this stub exists only so the firmware
// build's wiring type-checks without a host fake standing in.
func NewHWFS() FS {
	return hwFS{}
}

type hwFS struct{}

func (hwFS) Open(name string) (File, error)   { return nil, errNotImplemented }
func (hwFS) Create(name string) (File, error) { return nil, errNotImplemented }
func (hwFS) Remove(name string) error         { return errNotImplemented }
func (hwFS) Stat(name string) (Info, error)   { return Info{}, errNotImplemented }
func (hwFS) List() ([]Info, error)            { return nil, errNotImplemented }
func (hwFS) Format() error                    { return errNotImplemented }

type notImplementedErr struct{}

func (notImplementedErr) Error() string { return "extflash: external filesystem driver not wired" }

var errNotImplemented = notImplementedErr{}
