package flashdrv

import "testing"

func TestEraseThenProgramRoundTrip(t *testing.T) {
	dev := NewSimDevice(4096, 1024)
	drv := New(dev)

	if err := drv.EraseSector(0); err != nil {
		t.Fatalf("erase: %v", err)
	}

	data := []byte{1, 2, 3, 4}
	if err := drv.Program(0, data); err != nil {
		t.Fatalf("program: %v", err)
	}

	got := dev.ReadAt(0, 4)
	for i, b := range data {
		if got[i] != b {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], b)
		}
	}
}

func TestProgramOverNonErasedByteFails(t *testing.T) {
	dev := NewSimDevice(4096, 1024)
	drv := New(dev)

	if err := drv.EraseSector(0); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := drv.Program(0, []byte{0xAA}); err != nil {
		t.Fatalf("first program: %v", err)
	}
	if err := drv.Program(0, []byte{0xBB}); err == nil {
		t.Fatalf("expected error programming over non-erased byte")
	}
}

func TestProgramEmptyDataRejected(t *testing.T) {
	dev := NewSimDevice(4096, 1024)
	drv := New(dev)
	if err := drv.Program(0, nil); err == nil {
		t.Fatalf("expected error for empty program")
	}
}

func TestDriverRelocksAfterOperations(t *testing.T) {
	dev := NewSimDevice(4096, 1024)
	drv := New(dev)

	if err := drv.EraseSector(0); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if !dev.locked {
		t.Fatalf("device should be locked again after erase")
	}

	if err := drv.Program(0, []byte{1}); err != nil {
		t.Fatalf("program: %v", err)
	}
	if !dev.locked {
		t.Fatalf("device should be locked again after program")
	}
}
