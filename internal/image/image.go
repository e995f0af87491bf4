// Package image implements C3, the firmware-image engine: parsing the
// tagged-section container format at an image's base address, hashing the
// VERIFIED payload, and authenticating it against a public key found in the
// pubkey slot store, grounded on common/fw_image.c.
package image

import (
	"crypto/ed25519"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"

	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/progress"
	"github.com/iqyx/ubload/internal/pubkey"
	"github.com/iqyx/ubload/internal/ubloaderr"
)

const component = "image"

// Section magics (§4.3). Values are fixed constants shared bit-exactly with
// the image producer; changing them breaks every image already in the
// field.
const (
	magicVerified     uint32 = 0x1eda84bc
	magicVerification uint32 = 0x6ef44bc0
	magicDummy        uint32 = 0xba50911a
	magicFirmware     uint32 = 0x40b80c0f
	magicSHA512       uint32 = 0xb6eb9721
	magicED25519      uint32 = 0x9d6b1a99
	magicFP           uint32 = 0x5bf0aa39
)

const (
	sha512Len = 64
	ed25519SigLen = 64
	fpMinLen      = 4
	sectionHeaderLen = 8
)

// State is the image's position in the Fresh -> Parsed -> Verified ->
// Authenticated lifecycle (§4.3, §4.5). Any write (Erase, Program) resets
// to Fresh.
type State int

const (
	Fresh State = iota
	Parsed
	Verified
	Authenticated
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Parsed:
		return "parsed"
	case Verified:
		return "verified"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Image is one in-flash firmware object: a base address, a run of erase
// sectors, and the parsed/verified/authenticated state derived from its
// tagged-section container.
type Image struct {
	driver *flashdrv.Driver
	keys   *pubkey.Store

	base        uint32
	baseSector  uint32
	sectors     uint32

	state State

	entryOffset  uint32
	haveFirmware bool

	verifiedData []byte

	haveHash  bool
	hash      []byte
	haveSig   bool
	signature []byte
	havePubFP bool
	pubFP     []byte

	reporter progress.Reporter
}

// New creates an Image over driver's flash, covering sectors
// [baseSector, baseSector+sectors) starting at byte address base. keys is
// the slot store Authenticate looks up signing keys in.
func New(driver *flashdrv.Driver, keys *pubkey.Store, base uint32, baseSector uint32, sectors uint32) *Image {
	return &Image{
		driver:     driver,
		keys:       keys,
		base:       base,
		baseSector: baseSector,
		sectors:    sectors,
		state:      Fresh,
	}
}

// SetReporter attaches a progress reporter consulted during Erase.
func (img *Image) SetReporter(r progress.Reporter) { img.reporter = r }

// State returns the image's current lifecycle state.
func (img *Image) State() State { return img.state }

// EntryOffset returns the offset of the FIRMWARE payload from base. Valid
// only once State() >= Parsed.
func (img *Image) EntryOffset() uint32 { return img.entryOffset }

// Sectors returns the number of sectors the image region covers.
func (img *Image) Sectors() uint32 { return img.sectors }

func (img *Image) resetState() {
	img.state = Fresh
	img.entryOffset = 0
	img.haveFirmware = false
	img.verifiedData = nil
	img.haveHash = false
	img.hash = nil
	img.haveSig = false
	img.signature = nil
	img.havePubFP = false
	img.pubFP = nil
}

type rawSection struct {
	magic   uint32
	payload []byte
}

// readSection reads one section's header and payload starting at offset
// within buf. It returns an error only if the header or payload would run
// past the end of buf (§8: "section header straddling end-of-region by one
// byte: rejected with Malformed").
func readSection(buf []byte, offset int) (rawSection, int, error) {
	if offset+sectionHeaderLen > len(buf) {
		return rawSection{}, 0, ubloaderr.New(ubloaderr.Malformed, component, "truncated section header")
	}
	magic := binary.BigEndian.Uint32(buf[offset : offset+4])
	length := binary.BigEndian.Uint32(buf[offset+4 : offset+8])

	payloadStart := offset + sectionHeaderLen
	payloadEnd := payloadStart + int(length)
	if payloadEnd > len(buf) || payloadEnd < payloadStart {
		return rawSection{}, 0, ubloaderr.New(ubloaderr.Malformed, component, "section payload runs past end of region")
	}

	return rawSection{magic: magic, payload: buf[payloadStart:payloadEnd]}, payloadEnd, nil
}

// Parse reads the image's two top-level sections and walks their
// subsections (§4.3). It does not touch flash beyond reading; it never
// fails because of unknown subsection tags, only because of a missing or
// misordered top-level section, or a truncated header.
func (img *Image) Parse() error {
	img.resetState()

	buf := img.driver.ReadAt(img.base, img.sectors*img.driver.SectorSize())

	verifiedSec, cursor, err := readSection(buf, 0)
	if err != nil {
		return err
	}
	if verifiedSec.magic != magicVerified {
		return ubloaderr.New(ubloaderr.Malformed, component, "missing VERIFIED top-level section")
	}

	verificationSec, _, err := readSection(buf, cursor)
	if err != nil {
		return err
	}
	if verificationSec.magic != magicVerification {
		return ubloaderr.New(ubloaderr.Malformed, component, "missing VERIFICATION top-level section")
	}

	img.verifiedData = verifiedSec.payload

	if err := img.parseVerified(verifiedSec.payload, sectionHeaderLen); err != nil {
		return err
	}
	if err := img.parseVerification(verificationSec.payload); err != nil {
		return err
	}

	img.state = Parsed
	return nil
}

// parseVerified walks VERIFIED's subsections. payloadBase is the byte
// offset of payload's start from the image base (i.e. the VERIFIED
// section's own 8-byte header), so entryOffset comes out relative to base
// as the spec requires ("offset = subsection.data - image.base").
func (img *Image) parseVerified(payload []byte, payloadBase int) error {
	pos := 0
	for pos < len(payload) {
		sub, next, err := readSection(payload, pos)
		if err != nil {
			return err
		}
		switch sub.magic {
		case magicDummy:
			// padding/alignment, ignored
		case magicFirmware:
			img.entryOffset = uint32(payloadBase + pos + sectionHeaderLen)
			img.haveFirmware = true
		default:
			// unknown subsections are skipped silently (§4.3)
		}
		pos = next
	}
	return nil
}

func (img *Image) parseVerification(payload []byte) error {
	pos := 0
	for pos < len(payload) {
		sub, next, err := readSection(payload, pos)
		if err != nil {
			return err
		}
		switch sub.magic {
		case magicDummy:
		case magicSHA512:
			if len(sub.payload) == sha512Len {
				img.hash = sub.payload
				img.haveHash = true
			}
		case magicED25519:
			if len(sub.payload) == ed25519SigLen {
				img.signature = sub.payload
				img.haveSig = true
			}
		case magicFP:
			if len(sub.payload) >= fpMinLen {
				img.pubFP = sub.payload
				img.havePubFP = true
			}
		default:
		}
		pos = next
	}
	return nil
}

// hashCompare computes sha512(data) and compares it to want in constant
// time (§9 design note: the source used memcmp for this one).
func hashCompare(data, want []byte) bool {
	got := sha512.Sum512(data)
	return subtle.ConstantTimeCompare(got[:], want) == 1
}

// Verify parses if necessary, then requires a recognized SHA512 section and
// checks it against the VERIFIED payload's hash (§4.3).
func (img *Image) Verify() error {
	if img.state < Parsed {
		if err := img.Parse(); err != nil {
			return err
		}
	}
	if !img.haveHash {
		return ubloaderr.New(ubloaderr.IntegrityFailure, component, "no hash section present")
	}
	if !hashCompare(img.verifiedData, img.hash) {
		return ubloaderr.New(ubloaderr.IntegrityFailure, component, "hash mismatch")
	}
	img.state = Verified
	return nil
}

// Authenticate verifies if necessary, then looks up a signing key by the
// image's public-key fingerprint and checks the Ed25519 signature over the
// hash (not over the raw VERIFIED payload). It tries every candidate the
// slot store returns for the fingerprint, closing the collision gap the
// original C left open (§9).
func (img *Image) Authenticate() error {
	if img.state < Verified {
		if err := img.Verify(); err != nil {
			return ubloaderr.Wrap(ubloaderr.AuthFailure, component, "authenticate requires a verified image", err)
		}
	}
	if !img.haveSig || !img.havePubFP {
		return ubloaderr.New(ubloaderr.AuthFailure, component, "missing signature or key fingerprint")
	}

	candidates, err := img.keys.GetSlotKeyByFingerprint(img.pubFP, ed25519.PublicKeySize)
	if err != nil {
		return ubloaderr.Wrap(ubloaderr.AuthFailure, component, "no matching public key", err)
	}

	for _, key := range candidates {
		if ed25519.Verify(ed25519.PublicKey(key), img.hash, img.signature) {
			img.state = Authenticated
			return nil
		}
	}
	return ubloaderr.New(ubloaderr.AuthFailure, component, "signature did not verify against any candidate key")
}

// Erase unlocks flash, erases every sector the image covers, and resets the
// lifecycle state. If a progress reporter is attached it is consulted after
// each sector; returning progress.Cancel aborts with whatever sectors were
// already erased left erased (§4.3).
func (img *Image) Erase() error {
	for i := uint32(0); i < img.sectors; i++ {
		if err := img.driver.EraseSector(img.baseSector + i); err != nil {
			img.resetState()
			return err
		}
		if progress.Report(img.reporter, i+1, img.sectors) == progress.Cancel {
			img.resetState()
			return ubloaderr.New(ubloaderr.FlashError, component, "erase cancelled by progress callback")
		}
	}
	img.resetState()
	return nil
}

// Program writes data starting at offset bytes from the image base. The
// caller must have erased the covered range first. Any successful or
// failed program resets the lifecycle state, since the image's contents
// may no longer match whatever was last parsed (§4.3).
func (img *Image) Program(offset uint32, data []byte) error {
	err := img.driver.Program(img.base+offset, data)
	img.resetState()
	return err
}

// Base returns the image's base address.
func (img *Image) Base() uint32 { return img.base }
