package anchor

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/zeebo/blake3"

	"Provenance/internal/address"
	"Provenance/internal/ledger"
	"Provenance/internal/txn"
)

// mockStatus marks receipts produced without a ledger.
const mockStatus = "mock: ledger program not configured"

// mockReceipt synthesizes a flagged receipt. The hash mixes the content
// hash with the time so repeated stores stay distinguishable.
func mockReceipt(contentHash string, now time.Time) *txn.Receipt {
	h := blake3.New()
	h.Write([]byte("mock-anchor:"))
	h.Write([]byte(contentHash))

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now.UnixNano()))
	h.Write(ts[:])

	var hash txn.Hash
	copy(hash[:], h.Sum(nil))

	return &txn.Receipt{
		TxHash:    hash.String(),
		Confirmed: true,
		Success:   true,
		VMStatus:  mockStatus,
		Mock:      true,
	}
}

// Get reads a record through the ledger's get view.
func (p *Pipeline) Get(ctx context.Context, id uint64) (ledger.Record, error) {
	if p.Mock() {
		return ledger.Record{}, ErrNoProgram
	}

	raw, err := p.ledger.View(ctx, ledger.FnGet, ledger.EncodeIDArgs(id))
	if err != nil {
		return ledger.Record{}, err
	}

	return ledger.DecodeRecord(raw)
}

// Verify reports whether addr currently owns record id.
func (p *Pipeline) Verify(ctx context.Context, id uint64, addr address.Address) (bool, error) {
	if p.Mock() {
		return false, ErrNoProgram
	}

	raw, err := p.ledger.View(ctx, ledger.FnVerifyOwnership, ledger.EncodeIDAddressArgs(id, addr))
	if err != nil {
		return false, err
	}

	return ledger.DecodeBool(raw)
}

// ListByOwner returns the ids addr currently owns.
func (p *Pipeline) ListByOwner(ctx context.Context, addr address.Address) ([]uint64, error) {
	if p.Mock() {
		return nil, ErrNoProgram
	}

	raw, err := p.ledger.View(ctx, ledger.FnListByOwner, ledger.EncodeAddressArgs(addr))
	if err != nil {
		return nil, err
	}

	return ledger.DecodeIDs(raw)
}

// Count returns the number of records ever created.
func (p *Pipeline) Count(ctx context.Context) (uint64, error) {
	if p.Mock() {
		return 0, ErrNoProgram
	}

	raw, err := p.ledger.View(ctx, ledger.FnCount, nil)
	if err != nil {
		return 0, err
	}

	return ledger.DecodeU64(raw)
}
