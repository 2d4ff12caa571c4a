package types

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// addressDomain separates derived contract addresses from other digests.
var addressDomain = []byte("orgregistry-address")

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// Address is a 32-byte identity: an Ed25519 public key for a party,
// or a derived address for a component deployed on the node.
type Address [32]byte

// ZeroHash is the all-zero digest, used as the "absent" sentinel.
var ZeroHash Hash

// ZeroAddress is the null identity.
var ZeroAddress Address

// IsZero returns true if the hash is the zero sentinel.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// MarshalText encodes the hash as hex (used by encoding/json).
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText decodes a hex hash.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}

// IsZero returns true for the null identity.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hex returns the lowercase hex encoding of the address.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 8 bytes in hex, for logs.
func (a Address) Short() string {
	return hex.EncodeToString(a[:8])
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Hex()
}

// MarshalText encodes the address as hex (used by encoding/json).
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText decodes a hex address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// PublicKey returns the address as an Ed25519 public key.
// Only meaningful for party addresses.
func (a Address) PublicKey() ed25519.PublicKey {
	pk := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pk, a[:])

	return pk
}

// ParseHash decodes a 64-character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash

	if err := decodeFixed(s, h[:]); err != nil {
		return Hash{}, fmt.Errorf("parse hash: %w", err)
	}

	return h, nil
}

// ParseAddress decodes a 64-character hex string.
func ParseAddress(s string) (Address, error) {
	var a Address

	if err := decodeFixed(s, a[:]); err != nil {
		return Address{}, fmt.Errorf("parse address: %w", err)
	}

	return a, nil
}

// decodeFixed decodes hex into dst, requiring an exact length match.
func decodeFixed(s string, dst []byte) error {
	s = strings.TrimPrefix(s, "0x")

	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}

	if len(raw) != len(dst) {
		return fmt.Errorf("invalid length: got %d, want %d", len(raw), len(dst))
	}

	copy(dst, raw)

	return nil
}

// AddressFromKey converts an Ed25519 public key into an Address.
func AddressFromKey(pub ed25519.PublicKey) Address {
	var a Address
	copy(a[:], pub)

	return a
}

// DeriveAddress computes a deterministic component address from a deployer,
// a component kind and a per-kind nonce.
func DeriveAddress(deployer Address, kind string, nonce uint64) Address {
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)

	return Address(Sum(addressDomain, deployer[:], []byte(kind), nonceBuf[:]))
}

// Sum hashes the concatenation of parts with BLAKE3-256.
func Sum(parts ...[]byte) Hash {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}

	var out Hash
	h.Sum(out[:0])

	return out
}
