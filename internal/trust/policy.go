// Package trust decides whether a wallet authentication attempt is accepted.
//
// One attempt walks Start → AddressChecked → SignatureChecked and ends in
// Accepted or Rejected. A full cryptographic match on any candidate format
// accepts. When every candidate fails, a structurally valid signature with
// a canonical claimed address may still be accepted, flagged as reduced
// assurance, but only if the policy enables that tier.
package trust

import (
	"errors"
	"fmt"

	"Provenance/internal/address"
	"Provenance/internal/logger"
	"Provenance/internal/signature"
)

var (
	// ErrInvalidSignature is returned when every verification tier fails.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrAddressMismatch is returned in strict mode when the public key
	// does not derive the claimed address.
	ErrAddressMismatch = errors.New("public key does not match claimed address")
)

// State is a step of one authentication attempt.
type State int

const (
	Start State = iota
	AddressChecked
	SignatureChecked
	Accepted
	Rejected
)

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case AddressChecked:
		return "address-checked"
	case SignatureChecked:
		return "signature-checked"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config selects the policy's strictness.
type Config struct {
	// Formats are the candidate encodings, richest first.
	// Nil means signature.DefaultFormats(DomainTag, false).
	Formats []signature.Format

	// DomainTag is used when Formats is nil.
	DomainTag string

	// StrictAddressMatch rejects attempts whose public key does not
	// derive the claimed address. Off, a mismatch is only logged.
	StrictAddressMatch bool

	// AllowReducedAssurance enables acceptance on structural checks
	// alone when no candidate verifies.
	AllowReducedAssurance bool
}

// Request is one inbound authentication attempt.
type Request struct {
	Address   string              // Address is the claimed account
	PublicKey string              // PublicKey is hex Ed25519
	Signature string              // Signature is hex Ed25519 detached
	Challenge signature.Challenge // Challenge is what the wallet was asked to sign
}

// Outcome describes how an attempt ended.
type Outcome struct {
	State            State           // State is Accepted or Rejected
	Address          address.Address // Address is the claimed account, parsed
	Format           string          // Format names the matching encoding, empty if none
	AddressMismatch  bool            // AddressMismatch is set when the key derives another address
	ReducedAssurance bool            // ReducedAssurance is set when accepted without a cryptographic match
}

// Policy evaluates authentication attempts. It holds no mutable state.
type Policy struct {
	cfg     Config
	formats []signature.Format
}

// New creates a policy from cfg.
func New(cfg Config) *Policy {
	formats := cfg.Formats
	if formats == nil {
		formats = signature.DefaultFormats(cfg.DomainTag, false)
	}

	return &Policy{cfg: cfg, formats: formats}
}

// Formats returns the candidate encodings in the order they are tried.
func (p *Policy) Formats() []signature.Format {
	return p.formats
}

// Authenticate runs one attempt to completion. The returned outcome is
// never nil; err is non-nil exactly when the outcome is Rejected.
func (p *Policy) Authenticate(req Request) (*Outcome, error) {
	out := &Outcome{State: Start}

	claimed, err := address.Parse(req.Address)
	if err != nil {
		out.State = Rejected
		return out, fmt.Errorf("claimed address:\n%w", err)
	}
	out.Address = claimed

	if err := p.checkAddress(req, out); err != nil {
		out.State = Rejected
		return out, err
	}
	out.State = AddressChecked

	format, ok, verr := signature.VerifyWithCandidates(req.Challenge, req.Signature, req.PublicKey, p.formats)
	out.State = SignatureChecked

	if ok {
		out.State = Accepted
		out.Format = format
		return out, nil
	}

	return p.fallback(req, out, verr)
}

// checkAddress compares the key-derived address to the claim.
func (p *Policy) checkAddress(req Request, out *Outcome) error {
	derived, err := signature.KeyAddress(req.PublicKey)
	if err == nil && derived == out.Address {
		return nil
	}

	out.AddressMismatch = true
	logger.Warn("auth address mismatch",
		"claimed", out.Address.String(),
		"derived", derived.String(),
		"strict", p.cfg.StrictAddressMatch,
	)

	if p.cfg.StrictAddressMatch {
		return ErrAddressMismatch
	}

	return nil
}

// fallback applies the reduced-assurance tier after all candidates failed.
func (p *Policy) fallback(req Request, out *Outcome, verr error) (*Outcome, error) {
	structural := signature.ValidateStructure(req.Signature, req.PublicKey)

	if p.cfg.AllowReducedAssurance && structural && address.IsCanonical(req.Address) {
		out.State = Accepted
		out.ReducedAssurance = true
		logger.Warn("auth accepted with reduced assurance", "address", out.Address.String())

		return out, nil
	}

	out.State = Rejected

	if verr != nil {
		return out, fmt.Errorf("%w:\n%w", ErrInvalidSignature, verr)
	}

	return out, ErrInvalidSignature
}
