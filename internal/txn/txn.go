package txn

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"Provenance/internal/address"
	"Provenance/internal/types"
)

const (
	// HashSize is the size of a transaction hash.
	HashSize = 32

	// SignatureSize is the size of an Ed25519 authenticator.
	SignatureSize = 64

	// minEncodedSize is the smallest buffer that can hold a root table offset.
	minEncodedSize = 8
)

var (
	// ErrMalformed is returned when transaction bytes cannot be decoded.
	ErrMalformed = errors.New("malformed transaction")

	// ErrBadHash is returned when the declared hash does not match the contents.
	ErrBadHash = errors.New("hash mismatch")

	// ErrBadSignature is returned when the authenticator does not verify.
	ErrBadSignature = errors.New("invalid signature")

	// ErrSenderKey is returned when the sender is not derived from the public key.
	ErrSenderKey = errors.New("sender does not match public key")
)

// Hash identifies a transaction.
type Hash [HashSize]byte

// String renders the hash as 0x-prefixed hex.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseHash decodes a hex hash, with or without prefix.
func ParseHash(s string) (Hash, error) {
	raw, err := address.NormalizeHex(s)
	if err != nil {
		return Hash{}, err
	}

	if len(raw) != HashSize {
		return Hash{}, fmt.Errorf("%w: hash must be %d bytes, got %d", address.ErrInvalidEncoding, HashSize, len(raw))
	}

	var h Hash
	copy(h[:], raw)

	return h, nil
}

// Call is an unsigned invocation of a program function.
type Call struct {
	Sender     address.Address
	PublicKey  ed25519.PublicKey
	Sequence   uint64
	Program    address.Address
	Function   string
	Args       []byte
	Expiration uint64 // Expiration is a unix time in seconds, 0 for none
}

// Tx is a signed call.
type Tx struct {
	Call
	Hash      Hash
	Signature []byte
}

// Signer produces an Ed25519 authenticator over a message.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
}

// UnsignedBytes encodes every field except hash and signature.
// The construction order is fixed; validators rebuild it byte for byte.
func UnsignedBytes(c *Call) []byte {
	builder := flatbuffers.NewBuilder(512)
	off := buildTable(builder, c, nil, nil)
	builder.Finish(off)

	return builder.FinishedBytes()
}

// HashOf returns blake3 of the unsigned encoding.
func HashOf(c *Call) Hash {
	return Hash(blake3.Sum256(UnsignedBytes(c)))
}

// Sign hashes c and signs the hash.
func Sign(c *Call, signer Signer) (*Tx, error) {
	hash := HashOf(c)

	sig, err := signer.Sign(hash[:])
	if err != nil {
		return nil, fmt.Errorf("sign transaction:\n%w", err)
	}

	return &Tx{Call: *c, Hash: hash, Signature: sig}, nil
}

// Encode serializes a signed transaction.
func Encode(tx *Tx) []byte {
	builder := flatbuffers.NewBuilder(1024)
	off := buildTable(builder, &tx.Call, tx.Hash[:], tx.Signature)
	builder.Finish(off)

	return builder.FinishedBytes()
}

// buildTable writes the Transaction table. hash and sig are omitted when nil.
func buildTable(builder *flatbuffers.Builder, c *Call, hash, sig []byte) flatbuffers.UOffsetT {
	var hashVec, sigVec flatbuffers.UOffsetT
	if hash != nil {
		hashVec = builder.CreateByteVector(hash)
		sigVec = builder.CreateByteVector(sig)
	}

	argsVec := builder.CreateByteVector(c.Args)
	senderVec := builder.CreateByteVector(c.Sender[:])
	keyVec := builder.CreateByteVector(c.PublicKey)
	programVec := builder.CreateByteVector(c.Program[:])
	fnOff := builder.CreateString(c.Function)

	types.TransactionStart(builder)
	types.TransactionAddSender(builder, senderVec)
	types.TransactionAddPublicKey(builder, keyVec)
	types.TransactionAddSequence(builder, c.Sequence)
	types.TransactionAddProgram(builder, programVec)
	types.TransactionAddFunction(builder, fnOff)
	types.TransactionAddArgs(builder, argsVec)
	types.TransactionAddExpiration(builder, c.Expiration)

	if hash != nil {
		types.TransactionAddHash(builder, hashVec)
		types.TransactionAddSignature(builder, sigVec)
	}

	return types.TransactionEnd(builder)
}

// Decode parses a signed transaction and checks field sizes.
// It does not verify the hash or signature; see Verify.
func Decode(data []byte) (tx *Tx, retErr error) {
	// FlatBuffers panics on malformed data
	defer func() {
		if r := recover(); r != nil {
			tx = nil
			retErr = fmt.Errorf("%w: unreadable table", ErrMalformed)
		}
	}()

	if len(data) < minEncodedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}

	t := types.GetRootAsTransaction(data, 0)

	if err := checkSizes(t); err != nil {
		return nil, err
	}

	tx = &Tx{
		Call: Call{
			PublicKey:  append(ed25519.PublicKey{}, t.PublicKeyBytes()...),
			Sequence:   t.Sequence(),
			Function:   string(t.Function()),
			Args:       append([]byte{}, t.ArgsBytes()...),
			Expiration: t.Expiration(),
		},
		Signature: append([]byte{}, t.SignatureBytes()...),
	}

	copy(tx.Sender[:], t.SenderBytes())
	copy(tx.Program[:], t.ProgramBytes())
	copy(tx.Hash[:], t.HashBytes())

	return tx, nil
}

// checkSizes validates the fixed-width fields.
func checkSizes(t *types.Transaction) error {
	fields := []struct {
		name string
		got  int
		want int
	}{
		{"sender", t.SenderLength(), address.Size},
		{"public_key", t.PublicKeyLength(), ed25519.PublicKeySize},
		{"program", t.ProgramLength(), address.Size},
		{"hash", t.HashLength(), HashSize},
		{"signature", t.SignatureLength(), SignatureSize},
	}

	for _, f := range fields {
		if f.got != f.want {
			return fmt.Errorf("%w: invalid %s size: got %d, want %d", ErrMalformed, f.name, f.got, f.want)
		}
	}

	if len(t.Function()) == 0 {
		return fmt.Errorf("%w: empty function name", ErrMalformed)
	}

	return nil
}

// Verify checks the hash, the sender/key binding, and the signature.
func (tx *Tx) Verify() error {
	if HashOf(&tx.Call) != tx.Hash {
		return ErrBadHash
	}

	if address.Derive(tx.PublicKey) != tx.Sender {
		return fmt.Errorf("%w: sender %s", ErrSenderKey, tx.Sender.Short())
	}

	if !ed25519.Verify(tx.PublicKey, tx.Hash[:], tx.Signature) {
		return ErrBadSignature
	}

	return nil
}
