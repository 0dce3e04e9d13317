package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// Size is the byte length of an account address.
	Size = 32

	// Prefix is prepended to the canonical hex form.
	Prefix = "0x"

	// HexLen is the length of a canonical address string including Prefix.
	HexLen = len(Prefix) + 2*Size

	// SchemeEd25519 is the single-key Ed25519 authentication scheme tag.
	SchemeEd25519 byte = 0x00
)

// ErrInvalidEncoding is returned for malformed hex or wrong byte lengths.
var ErrInvalidEncoding = errors.New("invalid encoding")

// Address is a fixed-width account identifier.
type Address [Size]byte

// Null is the all-zero address. It never owns a record.
var Null Address

// Derive computes sha3-256(publicKey || SchemeEd25519).
func Derive(publicKey []byte) Address {
	return DeriveWithScheme(publicKey, SchemeEd25519)
}

// DeriveWithScheme computes sha3-256(publicKey || scheme).
func DeriveWithScheme(publicKey []byte, scheme byte) Address {
	h := sha3.New256()
	h.Write(publicKey)
	h.Write([]byte{scheme})

	var a Address
	copy(a[:], h.Sum(nil))

	return a
}

// String returns the canonical lowercase prefixed hex form.
func (a Address) String() string {
	return Prefix + hex.EncodeToString(a[:])
}

// Short returns the first four bytes in hex, for logs.
func (a Address) Short() string {
	return hex.EncodeToString(a[:4])
}

// IsNull reports whether a is the all-zero address.
func (a Address) IsNull() bool {
	return a == Null
}

// MarshalText encodes the address in canonical form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a hex address with or without the prefix.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// Parse decodes a hex address. Short forms such as "0x1" are left-padded
// with zeros; more than Size bytes is an encoding error.
func Parse(s string) (Address, error) {
	raw := trimPrefix(s)
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}

	b, err := NormalizeHex(raw)
	if err != nil {
		return Address{}, err
	}

	if len(b) == 0 || len(b) > Size {
		return Address{}, fmt.Errorf("%w: address must be 1..%d bytes, got %d", ErrInvalidEncoding, Size, len(b))
	}

	var a Address
	copy(a[Size-len(b):], b)

	return a, nil
}

// FromBytes copies a Size-byte slice into an Address.
func FromBytes(b []byte) (Address, error) {
	if len(b) != Size {
		return Address{}, fmt.Errorf("%w: address must be %d bytes, got %d", ErrInvalidEncoding, Size, len(b))
	}

	var a Address
	copy(a[:], b)

	return a, nil
}

// NormalizeHex strips an optional 0x/0X prefix and decodes the rest.
// Odd length or non-hex characters fail with ErrInvalidEncoding.
func NormalizeHex(input string) ([]byte, error) {
	raw := trimPrefix(input)

	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd hex length %d", ErrInvalidEncoding, len(raw))
	}

	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	return b, nil
}

// IsCanonical reports whether s has the fixed ledger address shape:
// the prefix followed by exactly 2*Size hex digits.
func IsCanonical(s string) bool {
	if len(s) != HexLen || !strings.HasPrefix(strings.ToLower(s), Prefix) {
		return false
	}

	_, err := hex.DecodeString(s[len(Prefix):])

	return err == nil
}

// Equal compares two address strings case-insensitively after parsing.
// Either side failing to parse yields false.
func Equal(a, b string) bool {
	pa, err := Parse(a)
	if err != nil {
		return false
	}

	pb, err := Parse(b)
	if err != nil {
		return false
	}

	return pa == pb
}

// trimPrefix removes a leading 0x or 0X.
func trimPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}

	return s
}
