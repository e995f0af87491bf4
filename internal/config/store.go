package config

import (
	"io"

	"github.com/iqyx/ubload/internal/extflash"
	"github.com/iqyx/ubload/internal/ubloaderr"
)

// Load reads and decodes the configuration record from fs. If the file is
// absent, it returns Default rather than an error, matching common/ubload.c
// falling back to default_config when no persisted record exists yet.
func Load(fs extflash.FS) (Record, error) {
	f, err := fs.Open(File)
	if err != nil {
		return Default, nil
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Record{}, ubloaderr.Wrap(ubloaderr.FlashError, component, "read config file failed", err)
	}
	return Unmarshal(data)
}

// Save encodes r and writes it to fs, replacing any existing record.
func Save(fs extflash.FS, r *Record) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}

	f, err := fs.Create(File)
	if err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "create config file failed", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return ubloaderr.Wrap(ubloaderr.FlashError, component, "write config file failed", err)
	}
	return nil
}

// ResetToDefault overwrites the persisted record with Default.
func ResetToDefault(fs extflash.FS) error {
	d := Default
	return Save(fs, &d)
}
