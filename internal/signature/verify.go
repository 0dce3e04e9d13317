package signature

import (
	"crypto/ed25519"
	"fmt"

	"Provenance/internal/address"
)

const (
	// Size is the Ed25519 signature length.
	Size = ed25519.SignatureSize

	// PublicKeySize is the Ed25519 public key length.
	PublicKeySize = ed25519.PublicKeySize
)

// VerifyDetached checks a hex signature over message under a hex public key.
// A cryptographic mismatch returns false; only malformed encodings error.
func VerifyDetached(message []byte, signatureHex, publicKeyHex string) (bool, error) {
	sig, pub, err := decode(signatureHex, publicKeyHex)
	if err != nil {
		return false, err
	}

	return ed25519.Verify(pub, message, sig), nil
}

// VerifyWithCandidates tries each format in order and returns the name of
// the first whose encoding verifies. Every candidate is a full Ed25519 check.
func VerifyWithCandidates(c Challenge, signatureHex, publicKeyHex string, formats []Format) (string, bool, error) {
	sig, pub, err := decode(signatureHex, publicKeyHex)
	if err != nil {
		return "", false, err
	}

	for _, f := range formats {
		if ed25519.Verify(pub, f.Encode(c), sig) {
			return f.Name(), true, nil
		}
	}

	return "", false, nil
}

// ValidateStructure checks only that the signature decodes to Size bytes
// and the key to PublicKeySize bytes. It proves nothing about authorship.
func ValidateStructure(signatureHex, publicKeyHex string) bool {
	_, _, err := decode(signatureHex, publicKeyHex)
	return err == nil
}

// KeyAddress derives the account address for a hex public key.
func KeyAddress(publicKeyHex string) (address.Address, error) {
	pub, err := decodeFixed(publicKeyHex, PublicKeySize, "public key")
	if err != nil {
		return address.Address{}, err
	}

	return address.Derive(pub), nil
}

// decode parses the signature and public key hex strings.
func decode(signatureHex, publicKeyHex string) ([]byte, ed25519.PublicKey, error) {
	sig, err := decodeFixed(signatureHex, Size, "signature")
	if err != nil {
		return nil, nil, err
	}

	pub, err := decodeFixed(publicKeyHex, PublicKeySize, "public key")
	if err != nil {
		return nil, nil, err
	}

	return sig, ed25519.PublicKey(pub), nil
}

// decodeFixed decodes hex and enforces an exact byte length.
func decodeFixed(s string, size int, what string) ([]byte, error) {
	b, err := address.NormalizeHex(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s:\n%w", what, err)
	}

	if len(b) != size {
		return nil, fmt.Errorf("%w: %s must be %d bytes, got %d", address.ErrInvalidEncoding, what, size, len(b))
	}

	return b, nil
}
