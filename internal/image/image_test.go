package image

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"testing"

	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/pubkey"
)

const (
	testSlotCount = 2
	regionStride  = pubkey.SlotSize + pubkey.HashSize + pubkey.FPSize
)

func appendSection(buf []byte, magic uint32, payload []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], magic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	return buf
}

// buildImage assembles a well-formed container: VERIFIED{FIRMWARE} followed
// by VERIFICATION{SHA512,ED25519,FP}, signed by priv whose public half is
// pub, with fp as the stored fingerprint subsection.
func buildImage(t *testing.T, firmware []byte, pub ed25519.PublicKey, priv ed25519.PrivateKey, fp []byte) []byte {
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

func newTestEnv(t *testing.T) (*flashdrv.SimDevice, *flashdrv.Driver, *pubkey.Store) {
	t.Helper()
	dev := flashdrv.NewSimDevice(8192, 1024)
	drv := flashdrv.New(dev)

	layout := pubkey.Layout{
		SlotCount: testSlotCount,
		SlotBase: func(slot int) (uint32, uint32, uint32) {
			base := uint32(4096 + slot*regionStride)
			return base, base + pubkey.SlotSize, base + pubkey.SlotSize + pubkey.HashSize
		},
		SaltAddr: uint32(4096 + testSlotCount*regionStride),
	}

	if err := dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		if err := dev.EraseSector(uint32(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := dev.Lock(); err != nil {
		t.Fatal(err)
	}

	store := pubkey.New(dev, layout)
	return dev, drv, store
}

func mustSignSlot(t *testing.T, store *pubkey.Store, slot int, pub ed25519.PublicKey, salt []byte) {
	t.Helper()
	if err := store.SetSalt(salt); err != nil {
		t.Fatal(err)
	}
	if err := store.SetSlotKey(slot, pub); err != nil {
		t.Fatal(err)
	}
}

func TestParseVerifyAuthenticateHappyPath(t *testing.T) {
	dev, drv, store := newTestEnv(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	fpFull := sha512.Sum512(padKey(pub))
	fp := fpFull[:pubkey.FPSize]

	mustSignSlot(t, store, 0, pub, make([]byte, pubkey.SaltSize))

	firmware := make([]byte, 256)
	for i := range firmware {
		firmware[i] = byte(i)
	}
	buf := buildImage(t, firmware, pub, priv, fp)

	if err := dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Program(0, buf); err != nil {
		t.Fatal(err)
	}
	if err := dev.Lock(); err != nil {
		t.Fatal(err)
	}

	img := New(drv, store, 0, 0, 1)

	if err := img.Parse(); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !img.haveFirmware {
		t.Fatalf("expected firmware section discovered")
	}

	if err := img.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if img.State() != Verified {
		t.Fatalf("state: got %v want verified", img.State())
	}

	if err := img.Authenticate(); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if img.State() != Authenticated {
		t.Fatalf("state: got %v want authenticated", img.State())
	}
}

func TestVerifyFailsOnBitFlip(t *testing.T) {
	dev, drv, store := newTestEnv(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	fpFull := sha512.Sum512(padKey(pub))
	fp := fpFull[:pubkey.FPSize]
	mustSignSlot(t, store, 0, pub, make([]byte, pubkey.SaltSize))

	firmware := make([]byte, 256)
	buf := buildImage(t, firmware, pub, priv, fp)
	// flip one byte inside the FIRMWARE payload, post-signing
	buf[16] ^= 0xFF

	if err := dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Program(0, buf); err != nil {
		t.Fatal(err)
	}
	if err := dev.Lock(); err != nil {
		t.Fatal(err)
	}

	img := New(drv, store, 0, 0, 1)
	if err := img.Verify(); err == nil {
		t.Fatalf("expected verify to fail on tampered payload")
	}
	if err := img.Authenticate(); err == nil {
		t.Fatalf("expected authenticate to fail when verify fails")
	}
}

func TestAuthenticateFailsOnWrongKey(t *testing.T) {
	dev, drv, store := newTestEnv(t)

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, wrongPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	fpFull := sha512.Sum512(padKey(pub))
	fp := fpFull[:pubkey.FPSize]
	mustSignSlot(t, store, 0, pub, make([]byte, pubkey.SaltSize))

	firmware := make([]byte, 128)
	buf := buildImage(t, firmware, pub, wrongPriv, fp)

	if err := dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Program(0, buf); err != nil {
		t.Fatal(err)
	}
	if err := dev.Lock(); err != nil {
		t.Fatal(err)
	}

	img := New(drv, store, 0, 0, 1)
	if err := img.Authenticate(); err == nil {
		t.Fatalf("expected authenticate to fail against a signature from the wrong key")
	}
}

func TestParseSkipsUnknownSubsection(t *testing.T) {
	dev, drv, store := newTestEnv(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	fpFull := sha512.Sum512(padKey(pub))
	fp := fpFull[:pubkey.FPSize]
	mustSignSlot(t, store, 0, pub, make([]byte, pubkey.SaltSize))

	firmware := make([]byte, 64)
	verifiedPayload := appendSection(nil, 0xdeadbeef, []byte{1, 2, 3})
	verifiedPayload = appendSection(verifiedPayload, magicFirmware, firmware)
	hash := sha512.Sum512(verifiedPayload)
	sig := ed25519.Sign(priv, hash[:])

	verificationPayload := appendSection(nil, magicSHA512, hash[:])
	verificationPayload = appendSection(verificationPayload, magicED25519, sig)
	verificationPayload = appendSection(verificationPayload, magicFP, fp)

	buf := appendSection(nil, magicVerified, verifiedPayload)
	buf = appendSection(buf, magicVerification, verificationPayload)

	if err := dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Program(0, buf); err != nil {
		t.Fatal(err)
	}
	if err := dev.Lock(); err != nil {
		t.Fatal(err)
	}

	img := New(drv, store, 0, 0, 1)
	if err := img.Authenticate(); err != nil {
		t.Fatalf("expected unknown subsection to be skipped, authenticate failed: %v", err)
	}
}

func TestEraseResetsState(t *testing.T) {
	dev, drv, store := newTestEnv(t)
	_ = store

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	fpFull := sha512.Sum512(padKey(pub))
	fp := fpFull[:pubkey.FPSize]

	firmware := make([]byte, 64)
	buf := buildImage(t, firmware, pub, priv, fp)

	if err := dev.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Program(0, buf); err != nil {
		t.Fatal(err)
	}
	if err := dev.Lock(); err != nil {
		t.Fatal(err)
	}

	img := New(drv, store, 0, 0, 1)
	if err := img.Parse(); err != nil {
		t.Fatal(err)
	}
	if img.State() != Parsed {
		t.Fatalf("expected parsed state before erase")
	}

	if err := img.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if img.State() != Fresh {
		t.Fatalf("expected fresh state after erase, got %v", img.State())
	}
}

// padKey mirrors the zero-padding pubkey.Store applies when a key shorter
// than SlotSize is stored, so fingerprints computed here match what
// VerifySlot recomputes from the stored (padded) key.
func padKey(key []byte) []byte {
	padded := make([]byte, pubkey.SlotSize)
	copy(padded, key)
	return padded
}
