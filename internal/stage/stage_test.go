package stage

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/iqyx/ubload/internal/extflash"
	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/progress"
)

func writeStagedFile(t *testing.T, fs extflash.FS, name string, data []byte) {
	t.Helper()
	f, err := fs.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProgramFileRoundTrip(t *testing.T) {
	fs := extflash.NewMemFS()
	data := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 3000) // 12000 bytes, spans sectors
	writeStagedFile(t, fs, "fw.bin", data)

	dev := flashdrv.NewSimDevice(32*1024, 4096)
	drv := flashdrv.New(dev)

	res, err := ProgramFile(fs, "fw.bin", drv, 0, 8, nil)
	if err != nil {
		t.Fatalf("program: %v", err)
	}
	if res.Bytes != uint32(len(data)) {
		t.Fatalf("got %d bytes written want %d", res.Bytes, len(data))
	}

	want := sha256.Sum256(data)
	if res.SHA256 != want {
		t.Fatalf("hash mismatch")
	}

	got := dev.ReadAt(0, uint32(len(data)))
	if !bytes.Equal(got, data) {
		t.Fatalf("flash contents do not match staged file")
	}
}

func TestProgramFileRejectsOversizedFile(t *testing.T) {
	fs := extflash.NewMemFS()
	data := make([]byte, 10000)
	writeStagedFile(t, fs, "fw.bin", data)

	dev := flashdrv.NewSimDevice(8192, 4096)
	drv := flashdrv.New(dev)

	if _, err := ProgramFile(fs, "fw.bin", drv, 0, 2, nil); err == nil {
		t.Fatalf("expected error for file larger than target region")
	}
}

func TestDumpFileRoundTrip(t *testing.T) {
	dev := flashdrv.NewSimDevice(16*1024, 4096)
	drv := flashdrv.New(dev)

	payload := bytes.Repeat([]byte{0x42}, 5000)
	if err := dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := dev.EraseSector(0); err != nil {
		t.Fatal(err)
	}
	if err := dev.EraseSector(1); err != nil {
		t.Fatal(err)
	}
	if err := dev.Program(0, payload); err != nil {
		t.Fatal(err)
	}
	if err := dev.Lock(); err != nil {
		t.Fatal(err)
	}

	fs := extflash.NewMemFS()
	res, err := DumpFile(fs, "backup.bin", drv, 0, uint32(len(payload)), nil)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if res.Bytes != uint32(len(payload)) {
		t.Fatalf("got %d bytes want %d", res.Bytes, len(payload))
	}

	f, err := fs.Open("backup.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var buf bytes.Buffer
	chunk := make([]byte, 1024)
	for {
		n, rerr := f.Read(chunk)
		buf.Write(chunk[:n])
		if rerr != nil {
			break
		}
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("dumped file contents do not match source")
	}
}

func TestProgramFileReportsCancel(t *testing.T) {
	fs := extflash.NewMemFS()
	data := bytes.Repeat([]byte{0x01}, ChunkSize*3)
	writeStagedFile(t, fs, "fw.bin", data)

	dev := flashdrv.NewSimDevice(64*1024, 4096)
	drv := flashdrv.New(dev)

	calls := 0
	reporter := progress.Func(func(done, total uint32) progress.Signal {
		calls++
		return progress.Cancel
	})

	if _, err := ProgramFile(fs, "fw.bin", drv, 0, 16, reporter); err == nil {
		t.Fatalf("expected cancellation to surface as an error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one progress callback before abort, got %d", calls)
	}
}
