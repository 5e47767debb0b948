// Package types defines core hashing and identifier types for X1-Strata.
//
// Every identifier the VM hands to the outside world (transition ids, output ids,
// record checksums, transaction ids, block hashes) is content-derived: it is the
// hash of a canonical byte encoding, so independent implementations reproduce
// them bit-for-bit. All hashes are rendered in base58.
package types

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Size constants for core types.
const (
	HashSize = 32
)

var (
	// ErrInvalidHash is returned when a hash has invalid length.
	ErrInvalidHash = errors.New("invalid hash: must be 32 bytes")
)

// Domain separators for content-addressed identifiers.
// The version suffix allows migrating an algorithm without colliding with old ids.
const (
	DomainPlaintext  = "strata/plaintext/v1"
	DomainRecord     = "strata/record/v1"
	DomainFuture     = "strata/future/v1"
	DomainOutput     = "strata/output/v1"
	DomainInput      = "strata/input/v1"
	DomainTransition = "strata/transition/v1"
	DomainSeed       = "strata/seed/v1"
	DomainBlock      = "strata/block/v1"
	DomainState      = "strata/state/v1"
	DomainProof      = "strata/proof/v1"
	DomainProgram    = "strata/program/v1"
	DomainRequest    = "strata/request/v1"
)

// Hash represents a 32-byte digest.
type Hash [HashSize]byte

// HashFromBase58 parses a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	data, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], data)
	return h, nil
}

// HashFromHex parses a hex-encoded hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	data, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hex decode: %w", err)
	}
	if len(data) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], data)
	return h, nil
}

// ParseHash accepts a base58 hash or a 0x-prefixed hex hash.
func ParseHash(s string) (Hash, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		return HashFromHex(rest)
	}
	return HashFromBase58(s)
}

// HashFromBytes creates a Hash from a byte slice.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], b)
	return h, nil
}

// HashWithDomain computes blake3(domain || 0x00 || len(part0) || part0 ...)
// with each length as a little-endian uint32, so part boundaries are
// unambiguous.
func HashWithDomain(domain string, parts ...[]byte) Hash {
	hasher := blake3.New()
	hasher.Write([]byte(domain))
	hasher.Write([]byte{0x00})
	var n [4]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint32(n[:], uint32(len(p)))
		hasher.Write(n[:])
		hasher.Write(p)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// Keccak computes the legacy Keccak-256 digest used for transaction ids.
func Keccak(parts ...[]byte) Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		hasher.Write(p)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// String returns the base58-encoded representation.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromBase58(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
