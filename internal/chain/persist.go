package chain

import (
	"encoding/binary"
	"fmt"

	"Provenance/internal/address"
	"Provenance/internal/codec"
	"Provenance/internal/storage"
	"Provenance/internal/txn"
)

var (
	keyVersion    = []byte("c:version")
	prefixSeq     = []byte("c:seq:")
	prefixReceipt = []byte("c:rcpt:")
)

// load restores the version counter and account sequences.
func (c *Chain) load() error {
	raw, err := c.db.Get(keyVersion)
	if err != nil {
		return err
	}

	if len(raw) == 8 {
		c.version = binary.BigEndian.Uint64(raw)
	}

	return c.db.IteratePrefix(prefixSeq, func(key, value []byte) error {
		addr, err := address.FromBytes(key[len(prefixSeq):])
		if err != nil {
			return fmt.Errorf("sequence key %x:\n%w", key, err)
		}

		if len(value) != 8 {
			return fmt.Errorf("sequence value for %s: %d bytes", addr.Short(), len(value))
		}

		c.nextSeq[addr] = binary.BigEndian.Uint64(value)

		return nil
	})
}

// persist writes the receipt, the sender's next sequence and the
// version in their own batch. Used when no ledger mutation carries them.
func (c *Chain) persist(tx *txn.Tx, r *txn.Receipt, version uint64) error {
	batch := c.db.NewBatch()
	defer batch.Discard()

	if err := c.stage(batch, tx, r, version); err != nil {
		return err
	}

	return batch.Commit(true)
}

// stage adds the receipt, the sender's next sequence and the version to b.
func (c *Chain) stage(b *storage.Batch, tx *txn.Tx, r *txn.Receipt, version uint64) error {
	data, err := codec.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt:\n%w", err)
	}

	if err := b.Set(receiptKey(tx.Hash), data); err != nil {
		return err
	}

	// Sequence of the committed tx, not the pending counter: a restart
	// drops the queue.
	if err := b.Set(seqKey(tx.Sender), u64(tx.Sequence+1)); err != nil {
		return err
	}

	return b.Set(keyVersion, u64(version))
}

// loadReceipt reads a receipt from storage. Missing yields nil, nil.
func (c *Chain) loadReceipt(hash txn.Hash) (*txn.Receipt, error) {
	raw, err := c.db.Get(receiptKey(hash))
	if err != nil || raw == nil {
		return nil, err
	}

	var r txn.Receipt
	if err := codec.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode receipt:\n%w", err)
	}

	return &r, nil
}

func seqKey(addr address.Address) []byte {
	return append(append([]byte{}, prefixSeq...), addr[:]...)
}

func receiptKey(hash txn.Hash) []byte {
	return append(append([]byte{}, prefixReceipt...), hash[:]...)
}

func u64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
