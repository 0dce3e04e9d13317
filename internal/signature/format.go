package signature

import (
	"strconv"
	"strings"
)

// DefaultDomainTag is the first line wallets prepend to signed messages.
const DefaultDomainTag = "APTOS"

// Challenge is the logical content a wallet was asked to sign.
type Challenge struct {
	Message     string // Message is the human-readable text
	Nonce       string // Nonce is the single-use token bound to this attempt
	Address     string // Address is the claimed account, used by chain-qualified formats
	Application string // Application is the requesting origin, used by chain-qualified formats
	ChainID     uint8  // ChainID identifies the target ledger, used by chain-qualified formats
}

// Format turns a challenge into the exact bytes a wallet signs.
// New wallet conventions are supported by adding a Format to the list.
type Format interface {
	// Name identifies the encoding in logs and outcomes.
	Name() string

	// Encode returns the bytes covered by the signature.
	Encode(c Challenge) []byte
}

// Raw signs the message alone.
type Raw struct{}

func (Raw) Name() string { return "raw" }

func (Raw) Encode(c Challenge) []byte {
	return []byte(c.Message)
}

// NonceAppended signs the message followed by a newline and the nonce.
type NonceAppended struct{}

func (NonceAppended) Name() string { return "message-nonce" }

func (NonceAppended) Encode(c Challenge) []byte {
	return []byte(c.Message + "\n" + c.Nonce)
}

// Domain signs a domain-separated template:
//
//	<Tag>
//	message: <message>
//	nonce: <nonce>
type Domain struct {
	Tag string
}

func (d Domain) Name() string { return "domain" }

func (d Domain) Encode(c Challenge) []byte {
	var b strings.Builder
	b.WriteString(d.tag())
	b.WriteString("\nmessage: ")
	b.WriteString(c.Message)
	b.WriteString("\nnonce: ")
	b.WriteString(c.Nonce)

	return []byte(b.String())
}

func (d Domain) tag() string {
	if d.Tag == "" {
		return DefaultDomainTag
	}

	return d.Tag
}

// ChainQualified is the domain template with the optional address,
// application and chain id lines some wallets include. Empty fields
// are omitted in the same order wallets emit them.
type ChainQualified struct {
	Tag string
}

func (q ChainQualified) Name() string { return "chain-qualified" }

func (q ChainQualified) Encode(c Challenge) []byte {
	var b strings.Builder
	b.WriteString(Domain{Tag: q.Tag}.tag())

	if c.Address != "" {
		b.WriteString("\naddress: ")
		b.WriteString(c.Address)
	}

	if c.Application != "" {
		b.WriteString("\napplication: ")
		b.WriteString(c.Application)
	}

	if c.ChainID != 0 {
		b.WriteString("\nchainId: ")
		b.WriteString(strconv.Itoa(int(c.ChainID)))
	}

	b.WriteString("\nmessage: ")
	b.WriteString(c.Message)
	b.WriteString("\nnonce: ")
	b.WriteString(c.Nonce)

	return []byte(b.String())
}

// DefaultFormats returns the candidate list from richest to weakest.
// The chain-qualified template leads when chainQualified is set.
func DefaultFormats(tag string, chainQualified bool) []Format {
	formats := make([]Format, 0, 4)

	if chainQualified {
		formats = append(formats, ChainQualified{Tag: tag})
	}

	return append(formats, Domain{Tag: tag}, NonceAppended{}, Raw{})
}

// FormatNames lists the names of formats in order.
func FormatNames(formats []Format) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.Name()
	}

	return names
}
