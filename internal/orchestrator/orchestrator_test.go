package orchestrator

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"log/slog"
	"testing"

	"github.com/iqyx/ubload/internal/config"
	"github.com/iqyx/ubload/internal/extflash"
	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/image"
	"github.com/iqyx/ubload/internal/mcu"
	"github.com/iqyx/ubload/internal/pubkey"
)

const (
	magicVerified     uint32 = 0x1eda84bc
	magicVerification uint32 = 0x6ef44bc0
	magicFirmware     uint32 = 0x40b80c0f
	magicSHA512       uint32 = 0xb6eb9721
	magicED25519      uint32 = 0x9d6b1a99
	magicFP           uint32 = 0x5bf0aa39

	slotCount    = 2
	regionStride = pubkey.SlotSize + pubkey.HashSize + pubkey.FPSize
)

func appendSection(buf []byte, magic uint32, payload []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], magic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	return buf
}

func buildSignedImage(t *testing.T, firmware []byte, priv ed25519.PrivateKey, fp []byte) []byte {
	t.Helper()
	verifiedPayload := appendSection(nil, magicFirmware, firmware)
	hash := sha512.Sum512(verifiedPayload)
	sig := ed25519.Sign(priv, hash[:])

	verificationPayload := appendSection(nil, magicSHA512, hash[:])
	verificationPayload = appendSection(verificationPayload, magicED25519, sig)
	verificationPayload = appendSection(verificationPayload, magicFP, fp)

	buf := appendSection(nil, magicVerified, verifiedPayload)
	buf = appendSection(buf, magicVerification, verificationPayload)
	return buf
}

func padKey(key []byte) []byte {
	padded := make([]byte, pubkey.SlotSize)
	copy(padded, key)
	return padded
}

type testEnv struct {
	fs     extflash.FS
	dev    *flashdrv.SimDevice
	driver *flashdrv.Driver
	keys   *pubkey.Store
	img    *image.Image
	runner *mcu.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dev := flashdrv.NewSimDevice(64*1024, 4096)
	driver := flashdrv.New(dev)

	layout := pubkey.Layout{
		SlotCount: slotCount,
		SlotBase: func(slot int) (uint32, uint32, uint32) {
			base := uint32(32*1024 + slot*regionStride)
			return base, base + pubkey.SlotSize, base + pubkey.SlotSize + pubkey.HashSize
		},
		SaltAddr: uint32(32*1024 + slotCount*regionStride),
	}

	if err := dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		if err := dev.EraseSector(uint32(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := dev.Lock(); err != nil {
		t.Fatal(err)
	}

	keys := pubkey.New(dev, layout)
	img := image.New(driver, keys, 0, 0, 4)

	return &testEnv{
		fs:     extflash.NewMemFS(),
		dev:    dev,
		driver: driver,
		keys:   keys,
		img:    img,
		runner: mcu.NewFake(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCheckFWInstallsStagedFirmware(t *testing.T) {
	env := newTestEnv(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	fpFull := sha512.Sum512(padKey(pub))
	fp := fpFull[:pubkey.FPSize]

	if err := env.keys.SetSalt(make([]byte, pubkey.SaltSize)); err != nil {
		t.Fatal(err)
	}
	if err := env.keys.SetSlotKey(0, pub); err != nil {
		t.Fatal(err)
	}

	firmware := make([]byte, 512)
	buf := buildSignedImage(t, firmware, priv, fp)

	f, err := env.fs.Create("new.img")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	o := New(discardLogger(), env.fs, env.driver, env.img, env.runner, nil, 4)
	o.cfg = config.Default
	o.cfg.SetPendingFirmware("new.img")

	if err := o.CheckFW(nil); err != nil {
		t.Fatalf("check fw: %v", err)
	}

	if o.cfg.PendingFirmware() != "" {
		t.Fatalf("expected pending firmware request cleared")
	}

	persisted, err := config.Load(env.fs)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.PendingFirmware() != "" {
		t.Fatalf("expected persisted config to have cleared request")
	}

	if err := o.Authenticate(nil); err != nil {
		t.Fatalf("authenticate installed image: %v", err)
	}
}

func TestRunFallsBackWhenAuthenticateFails(t *testing.T) {
	env := newTestEnv(t)

	// No key in the slot store at all, so an otherwise well-formed image
	// with a fingerprint pointing nowhere fails authentication.
	pub, priv, err := ed25519.GenerateKey(nil)
	_ = pub
	if err != nil {
		t.Fatal(err)
	}
	firmware := make([]byte, 128)
	buf := buildSignedImage(t, firmware, priv, []byte{0, 0, 0, 0})

	if err := env.dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := env.dev.Program(0, buf); err != nil {
		t.Fatal(err)
	}
	if err := env.dev.Lock(); err != nil {
		t.Fatal(err)
	}

	o := New(discardLogger(), env.fs, env.driver, env.img, env.runner, nil, 4)
	o.cfg = config.Default
	o.cfg.SetWorkingFirmware("known_good.img")

	// Run reports the original authentication failure: on real hardware
	// runner.Reset never returns, but the host Fake does, so Run's return
	// value here stands in for "what would have been logged before reset".
	if err := o.Run(nil); err == nil {
		t.Fatalf("expected run to report the authentication failure")
	}

	if env.runner.ResetCount != 1 {
		t.Fatalf("expected exactly one reset on fallback, got %d", env.runner.ResetCount)
	}
	if env.runner.Jumped {
		t.Fatalf("did not expect a jump when authentication fails")
	}

	persisted, err := config.Load(env.fs)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.PendingFirmware() != "known_good.img" {
		t.Fatalf("expected fallback to request known-working firmware, got %q", persisted.PendingFirmware())
	}
}

func TestRunBootsOnHappyPath(t *testing.T) {
	env := newTestEnv(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	fpFull := sha512.Sum512(padKey(pub))
	fp := fpFull[:pubkey.FPSize]

	if err := env.keys.SetSalt(make([]byte, pubkey.SaltSize)); err != nil {
		t.Fatal(err)
	}
	if err := env.keys.SetSlotKey(0, pub); err != nil {
		t.Fatal(err)
	}

	firmware := make([]byte, 256)
	buf := buildSignedImage(t, firmware, priv, fp)

	if err := env.dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := env.dev.Program(0, buf); err != nil {
		t.Fatal(err)
	}
	if err := env.dev.Lock(); err != nil {
		t.Fatal(err)
	}

	o := New(discardLogger(), env.fs, env.driver, env.img, env.runner, nil, 4)
	o.cfg = config.Default

	if err := o.Run(nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !env.runner.Jumped {
		t.Fatalf("expected a jump on the happy path")
	}
	if env.runner.ResetCount != 0 {
		t.Fatalf("did not expect a reset on the happy path")
	}
}
