package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"Provenance/internal/account"
	"Provenance/internal/address"
	"Provenance/internal/codec"
)

const (
	// DefaultSessionTTL is the lifetime of an issued token.
	DefaultSessionTTL = 12 * time.Hour

	// tokenIDSize is the number of random bytes in a token id.
	tokenIDSize = 16
)

var (
	// ErrMalformedToken is returned for tokens that cannot be split or decoded.
	ErrMalformedToken = errors.New("malformed session token")

	// ErrTokenSignature is returned when the issuer signature does not verify.
	ErrTokenSignature = errors.New("invalid session token signature")

	// ErrTokenExpired is returned for tokens past ExpiresAt.
	ErrTokenExpired = errors.New("session token expired")
)

// Token is the signed payload of a session credential.
type Token struct {
	Subject          string `cbor:"1,keyasint" json:"subject"` // Subject is the authenticated address
	ID               string `cbor:"2,keyasint" json:"id"`
	IssuedAt         int64  `cbor:"3,keyasint" json:"issuedAt"`
	ExpiresAt        int64  `cbor:"4,keyasint" json:"expiresAt"`
	ReducedAssurance bool   `cbor:"5,keyasint,omitempty" json:"reducedAssurance,omitempty"`
}

// Issuer mints and verifies bearer tokens: base64url(cbor(Token) ‖ ed25519 sig).
type Issuer struct {
	key *account.Account
	ttl time.Duration
	now func() time.Time
}

// NewIssuer creates an issuer signing with key, which must hold a
// private key.
func NewIssuer(key *account.Account, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

// Issue mints a token scoped to addr.
func (i *Issuer) Issue(addr address.Address, reduced bool) (string, *Token, error) {
	var id [tokenIDSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", nil, fmt.Errorf("generate token id:\n%w", err)
	}

	now := i.now()
	tok := &Token{
		Subject:          addr.String(),
		ID:               hex.EncodeToString(id[:]),
		IssuedAt:         now.Unix(),
		ExpiresAt:        now.Add(i.ttl).Unix(),
		ReducedAssurance: reduced,
	}

	payload, err := codec.Marshal(tok)
	if err != nil {
		return "", nil, fmt.Errorf("encode token:\n%w", err)
	}

	sig, err := i.key.Sign(payload)
	if err != nil {
		return "", nil, fmt.Errorf("sign token:\n%w", err)
	}

	raw := append(payload, sig...)

	return base64.RawURLEncoding.EncodeToString(raw), tok, nil
}

// Verify checks signature and expiry and returns the payload.
func (i *Issuer) Verify(token string) (*Token, error) {
	return i.VerifyAt(token, i.now())
}

// VerifyAt is Verify with an explicit time.
func (i *Issuer) VerifyAt(token string, now time.Time) (*Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) <= ed25519.SignatureSize {
		return nil, ErrMalformedToken
	}

	split := len(raw) - ed25519.SignatureSize
	payload, sig := raw[:split], raw[split:]

	if !ed25519.Verify(i.key.PublicKey, payload, sig) {
		return nil, ErrTokenSignature
	}

	var tok Token
	if err := codec.Unmarshal(payload, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if now.Unix() >= tok.ExpiresAt {
		return nil, ErrTokenExpired
	}

	return &tok, nil
}
