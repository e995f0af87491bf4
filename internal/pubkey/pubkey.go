// Package pubkey implements C2, the append-only tamper-evident public-key
// slot store: a fixed-count array of signing keys held in on-chip flash,
// each slot verified through a redundant (key, salted-hash, fingerprint)
// triple, grounded on common/pubkey_storage.c.
//
// The slot store is genuinely process-wide, because it is backed by fixed
// flash addresses (§9 design note): a Store is created once at startup
// (cmd/ubload) and handed by reference to anything that needs it —
// image.Image.Authenticate and the console's "pubkey" commands both hold
// the same *Store.
package pubkey

import (
	"crypto/sha512"
	"crypto/subtle"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/iqyx/ubload/internal/flashdrv"
	"github.com/iqyx/ubload/internal/ubloaderr"
)

const component = "pubkey"

// Fixed record sizes (§3). SlotSize is large enough for an Ed25519 public
// key (32 bytes); HashSize is the full SHA-512 digest length.
const (
	SlotSize = 32
	FPSize   = 4
	HashSize = 64
	SaltSize = 32
)

// State is the classification check_if_slot_empty derives from the three
// records' raw bytes (§3).
type State int

const (
	// StateEmpty: all three records read as erased (all-ones). Writable.
	StateEmpty State = iota
	// StateUsed: at least one non-ones and one non-zero byte across the
	// three records. Readable, verifiable.
	StateUsed
	// StateLocked: all three records overwritten with all-zeros.
	// Irreversible short of a full-sector erase.
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateUsed:
		return "used"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// region is one slot's three physically distinct flash regions, addressed
// within the Store's Device.
type region struct {
	keyAddr  uint32
	hashAddr uint32
	fpAddr   uint32
}

// Store is the process-wide pubkey slot store.
type Store struct {
	dev       flashdrv.Device
	driver    *flashdrv.Driver
	slots     []region
	saltAddr  uint32
}

// Layout describes where the Store's fixed-size regions live within dev.
// A real port computes this once from the linker map; tests build it
// directly against a flashdrv.SimDevice.
type Layout struct {
	SlotCount int
	SlotBase  func(slot int) (keyAddr, hashAddr, fpAddr uint32)
	SaltAddr  uint32
}

// New creates a Store over dev using the given layout.
func New(dev flashdrv.Device, layout Layout) *Store {
	slots := make([]region, layout.SlotCount)
	for i := range slots {
		k, h, f := layout.SlotBase(i)
		slots[i] = region{keyAddr: k, hashAddr: h, fpAddr: f}
	}
	return &Store{
		dev:      dev,
		driver:   flashdrv.New(dev),
		slots:    slots,
		saltAddr: layout.SaltAddr,
	}
}

// SlotCount returns the number of slots in the store.
func (s *Store) SlotCount() int { return len(s.slots) }

func (s *Store) checkSlot(slot int) error {
	if slot < 0 || slot >= len(s.slots) {
		return ubloaderr.New(ubloaderr.InvalidArgument, component, "slot index out of range")
	}
	return nil
}

// CheckIfSlotEmpty classifies slot by combining the AND and OR of every
// byte across its three records (§4.2): AND == 0xFF means EMPTY, else
// OR == 0x00 means LOCKED, else USED.
func (s *Store) CheckIfSlotEmpty(slot int) (State, error) {
	if err := s.checkSlot(slot); err != nil {
		return StateEmpty, err
	}
	r := s.slots[slot]

	and, or := byte(0xFF), byte(0x00)
	for _, b := range s.dev.ReadAt(r.keyAddr, SlotSize) {
		and &= b
		or |= b
	}
	for _, b := range s.dev.ReadAt(r.hashAddr, HashSize) {
		and &= b
		or |= b
	}
	for _, b := range s.dev.ReadAt(r.fpAddr, FPSize) {
		and &= b
		or |= b
	}

	switch {
	case and == 0xFF:
		return StateEmpty, nil
	case or == 0x00:
		return StateLocked, nil
	default:
		return StateUsed, nil
	}
}

// saltIsSet reports whether the salt record has been written.
func (s *Store) saltIsSet() bool {
	and := byte(0xFF)
	for _, b := range s.dev.ReadAt(s.saltAddr, SaltSize) {
		and &= b
	}
	return and != 0xFF
}

func (s *Store) salt() []byte {
	return s.dev.ReadAt(s.saltAddr, SaltSize)
}

// SetSalt writes the process-wide salt once. A second call while the salt
// is already present is a no-op returning ErrSaltAlreadySet and does not
// modify flash (§4.2).
func (s *Store) SetSalt(salt []byte) error {
	if len(salt) == 0 || len(salt) > SaltSize {
		return ubloaderr.New(ubloaderr.InvalidArgument, component, "salt size out of range")
	}
	if s.saltIsSet() {
		return ubloaderr.New(ubloaderr.SaltAlreadySet, component, "salt already present")
	}

	padded := make([]byte, SaltSize)
	copy(padded, salt)
	return s.driver.Program(s.saltAddr, padded)
}

func fingerprint(key []byte) [FPSize]byte {
	h := sha512.Sum512(key)
	var fp [FPSize]byte
	copy(fp[:], h[:FPSize])
	return fp
}

// Fingerprint exposes the same truncated-SHA-512 fingerprint SetSlotKey
// will store, so a caller (the console's "pubkey add" confirmation
// prompt) can show the operator what they are about to commit before any
// flash is touched.
func Fingerprint(key []byte) [FPSize]byte { return fingerprint(key) }

func saltedHash(paddedKey, salt []byte) [HashSize]byte {
	data := make([]byte, 0, len(paddedKey)+len(salt))
	data = append(data, paddedKey...)
	data = append(data, salt...)
	h := sha512.Sum512(data)
	var out [HashSize]byte
	copy(out[:], h[:HashSize])
	return out
}

// SetSlotKey stores key into slot. Preconditions: 0 < len(key) <=
// SlotSize, slot must be EMPTY, and the salt must already be set (§4.2).
func (s *Store) SetSlotKey(slot int, key []byte) error {
	if err := s.checkSlot(slot); err != nil {
		return err
	}
	if len(key) == 0 || len(key) > SlotSize {
		return ubloaderr.New(ubloaderr.InvalidArgument, component, "key size out of range")
	}
	if !s.saltIsSet() {
		return ubloaderr.New(ubloaderr.InvalidArgument, component, "no salt set")
	}

	state, err := s.CheckIfSlotEmpty(slot)
	if err != nil {
		return err
	}
	if state != StateEmpty {
		return ubloaderr.New(ubloaderr.SlotOccupied, component, "slot is "+state.String())
	}

	fp := fingerprint(key)

	padded := make([]byte, SlotSize)
	copy(padded, key)

	hash := saltedHash(padded, s.salt())

	r := s.slots[slot]
	if err := s.driver.Program(r.keyAddr, padded); err != nil {
		return err
	}
	if err := s.driver.Program(r.hashAddr, hash[:]); err != nil {
		return err
	}
	if err := s.driver.Program(r.fpAddr, fp[:]); err != nil {
		return err
	}
	return nil
}

// VerifySlot recomputes the fingerprint and salted hash from the stored
// padded key and compares them to the stored fingerprint and hash in
// constant time (§9 design note). Requires the slot to be USED.
func (s *Store) VerifySlot(slot int) error {
	if err := s.checkSlot(slot); err != nil {
		return err
	}

	state, err := s.CheckIfSlotEmpty(slot)
	if err != nil {
		return err
	}
	if state != StateUsed {
		return ubloaderr.New(ubloaderr.NotReady, component, "slot is "+state.String())
	}

	r := s.slots[slot]
	padded := s.dev.ReadAt(r.keyAddr, SlotSize)

	fp := fingerprint(padded)
	storedFP := s.dev.ReadAt(r.fpAddr, FPSize)
	if subtle.ConstantTimeCompare(fp[:], storedFP) != 1 {
		return ubloaderr.New(ubloaderr.IntegrityFailure, component, "fingerprint mismatch")
	}

	hash := saltedHash(padded, s.salt())
	storedHash := s.dev.ReadAt(r.hashAddr, HashSize)
	if subtle.ConstantTimeCompare(hash[:], storedHash) != 1 {
		return ubloaderr.New(ubloaderr.IntegrityFailure, component, "hash mismatch")
	}

	return nil
}

// GetSlotKey copies the stored padded key, truncated to size, after
// requiring the slot to be USED and VerifySlot to pass (§4.2).
func (s *Store) GetSlotKey(slot int, size int) ([]byte, error) {
	if err := s.checkSlot(slot); err != nil {
		return nil, err
	}
	if size <= 0 || size > SlotSize {
		return nil, ubloaderr.New(ubloaderr.InvalidArgument, component, "size out of range")
	}
	if err := s.VerifySlot(slot); err != nil {
		return nil, err
	}

	r := s.slots[slot]
	key := s.dev.ReadAt(r.keyAddr, uint32(size))
	out := make([]byte, size)
	copy(out, key)
	return out, nil
}

// GetSlotKeyByFingerprint scans slots in index order and returns the key
// of every USED slot whose stored fingerprint matches fp over
// min(len(storedFP), len(fp)) leading bytes, with len(fp) >= FPSize. It
// does not stop at the first match: the caller (image.Authenticate) tries
// Ed25519 verification against each candidate in turn, closing the
// collision gap the original C left open (§9, third open question) while
// keeping the lower-indexed slot first in iteration order so the common,
// collision-free case resolves on the first candidate.
func (s *Store) GetSlotKeyByFingerprint(fp []byte, size int) ([][]byte, error) {
	if len(fp) < FPSize {
		return nil, ubloaderr.New(ubloaderr.InvalidArgument, component, "fingerprint too short")
	}
	if size <= 0 || size > SlotSize {
		return nil, ubloaderr.New(ubloaderr.InvalidArgument, component, "size out of range")
	}

	var candidates [][]byte
	for i := range s.slots {
		state, err := s.CheckIfSlotEmpty(i)
		if err != nil || state != StateUsed {
			continue
		}

		r := s.slots[i]
		storedFP := s.dev.ReadAt(r.fpAddr, FPSize)
		n := len(storedFP)
		if len(fp) < n {
			n = len(fp)
		}
		if subtle.ConstantTimeCompare(storedFP[:n], fp[:n]) != 1 {
			continue
		}

		key, err := s.GetSlotKey(i, size)
		if err != nil {
			continue
		}
		candidates = append(candidates, key)
	}

	if len(candidates) == 0 {
		return nil, ubloaderr.New(ubloaderr.AuthFailure, component, "no matching public key")
	}
	return candidates, nil
}

// LockSlot programs all-zeros across the slot's three records,
// irreversibly until a full-sector erase (out of scope). There is no
// precondition on current state; locking a USED slot destroys the key
// (§4.2).
func (s *Store) LockSlot(slot int) error {
	if err := s.checkSlot(slot); err != nil {
		return err
	}

	r := s.slots[slot]
	zeroKey := make([]byte, SlotSize)
	zeroHash := make([]byte, HashSize)
	zeroFP := make([]byte, FPSize)

	if err := s.driver.Program(r.keyAddr, zeroKey); err != nil {
		return err
	}
	if err := s.driver.Program(r.hashAddr, zeroHash); err != nil {
		return err
	}
	if err := s.driver.Program(r.fpAddr, zeroFP); err != nil {
		return err
	}
	return nil
}

// VerifyAll checks every USED slot's integrity and reports every failure
// at once instead of stopping at the first, mirroring fiano's use of
// go-multierror to accumulate independent validation failures across a
// firmware image's sections.
func (s *Store) VerifyAll() error {
	var result *multierror.Error
	for i := range s.slots {
		state, err := s.CheckIfSlotEmpty(i)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if state != StateUsed {
			continue
		}
		if err := s.VerifySlot(i); err != nil {
			result = multierror.Append(result, ubloaderr.Wrap(ubloaderr.IntegrityFailure, component, "slot failed verification", err))
		}
	}
	return result.ErrorOrNil()
}
