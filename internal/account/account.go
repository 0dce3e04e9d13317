package account

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"Provenance/internal/address"
)

// Account binds an address to the public key it was derived from.
// Service-managed signers also hold the private key.
type Account struct {
	Address   address.Address   // Address is derived from PublicKey
	PublicKey ed25519.PublicKey // PublicKey is the Ed25519 verification key
	key       ed25519.PrivateKey
}

// FromPrivateKey builds a signing account.
func FromPrivateKey(priv ed25519.PrivateKey) *Account {
	pub := priv.Public().(ed25519.PublicKey)

	return &Account{
		Address:   address.Derive(pub),
		PublicKey: pub,
		key:       priv,
	}
}

// FromPublicKey builds a verify-only account, e.g. an external wallet.
func FromPublicKey(pub ed25519.PublicKey) *Account {
	return &Account{
		Address:   address.Derive(pub),
		PublicKey: pub,
	}
}

// Generate creates an account with a fresh random key.
func Generate() (*Account, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return FromPrivateKey(priv), nil
}

// CanSign reports whether the account holds private key material.
func (a *Account) CanSign() bool {
	return len(a.key) == ed25519.PrivateKeySize
}

// Sign signs msg with the held key.
func (a *Account) Sign(msg []byte) ([]byte, error) {
	if !a.CanSign() {
		return nil, fmt.Errorf("account %s holds no signing key", a.Address)
	}

	return ed25519.Sign(a.key, msg), nil
}

// LoadOrGenerate loads a raw 64-byte Ed25519 key from path, creating
// one when the file does not exist. An empty path yields an ephemeral key.
func LoadOrGenerate(path string) (*Account, error) {
	if path == "" {
		return Generate()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return generateAndSave(path)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return FromPrivateKey(ed25519.PrivateKey(data)), nil
}

// generateAndSave creates a new key and writes it to path.
func generateAndSave(path string) (*Account, error) {
	acct, err := Generate()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, acct.key, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return acct, nil
}
