package ledger

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"Provenance/internal/address"
	"Provenance/internal/codec"
)

// snapshotVersion is the current snapshot format version.
const snapshotVersion = 1

// snapshotBody is the CBOR payload inside the zstd frame.
type snapshotBody struct {
	Version uint32   `cbor:"1,keyasint"`
	Count   uint64   `cbor:"2,keyasint"`
	Records []Record `cbor:"3,keyasint"`
	Owners  []bucket `cbor:"4,keyasint"`
	Events  []Event  `cbor:"5,keyasint"`
}

// bucket is one owner index entry, kept in its current order.
type bucket struct {
	Owner address.Address `cbor:"1,keyasint"`
	IDs   []uint64        `cbor:"2,keyasint"`
}

// Snapshot returns the full ledger state as zstd-compressed CBOR.
// It holds the read lock, so the image is a consistent point in time.
func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.RLock()
	body := snapshotBody{
		Version: snapshotVersion,
		Count:   l.count,
		Records: make([]Record, 0, len(l.records)),
		Owners:  make([]bucket, 0, len(l.owners)),
		Events:  append([]Event{}, l.events...),
	}

	for _, rec := range l.records {
		body.Records = append(body.Records, *rec)
	}

	for owner, ids := range l.owners {
		body.Owners = append(body.Owners, bucket{Owner: owner, IDs: append([]uint64{}, ids...)})
	}
	l.mu.RUnlock()

	sort.Slice(body.Records, func(i, j int) bool { return body.Records[i].ID < body.Records[j].ID })
	sort.Slice(body.Owners, func(i, j int) bool {
		return bytes.Compare(body.Owners[i].Owner[:], body.Owners[j].Owner[:]) < 0
	})

	raw, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot:\n%w", err)
	}

	return compress(raw)
}

// Restore replaces the ledger state with a snapshot image. Subscribers
// are not replayed; the restored event log is available through Events.
func (l *Ledger) Restore(data []byte) error {
	raw, err := decompress(data)
	if err != nil {
		return fmt.Errorf("decompress snapshot:\n%w", err)
	}

	var body snapshotBody
	if err := codec.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("decode snapshot:\n%w", err)
	}

	if body.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", body.Version)
	}

	records := make(map[uint64]*Record, len(body.Records))
	for i := range body.Records {
		rec := body.Records[i]
		if rec.ID == 0 || rec.ID > body.Count {
			return fmt.Errorf("snapshot record id %d outside 1..%d", rec.ID, body.Count)
		}
		records[rec.ID] = &rec
	}

	owners := make(map[address.Address][]uint64, len(body.Owners))
	indexed := make(map[uint64]int, len(records))
	for _, b := range body.Owners {
		for _, id := range b.IDs {
			rec, ok := records[id]
			if !ok || rec.Owner != b.Owner || !rec.Exists {
				return fmt.Errorf("snapshot owner index entry %d does not match its record", id)
			}
			indexed[id]++
		}
		owners[b.Owner] = b.IDs
	}

	// Every live record sits in its owner's bucket exactly once.
	for id, rec := range records {
		if rec.Exists && indexed[id] != 1 {
			return fmt.Errorf("snapshot record %d indexed %d times, want 1", id, indexed[id])
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rewrite(body, owners); err != nil {
		return fmt.Errorf("persist snapshot:\n%w", err)
	}

	l.count = body.Count
	l.records = records
	l.owners = owners
	l.events = body.Events

	return nil
}

// rewrite replaces the stored ledger keys with the snapshot contents.
func (l *Ledger) rewrite(body snapshotBody, owners map[address.Address][]uint64) error {
	if l.db == nil {
		return nil
	}

	batch := l.db.NewBatch()

	for _, prefix := range [][]byte{prefixRecord, prefixOwner, prefixEvent} {
		err := l.db.IteratePrefix(prefix, func(key, _ []byte) error {
			return batch.Delete(append([]byte{}, key...))
		})
		if err != nil {
			batch.Discard()
			return err
		}
	}

	writes := func() error {
		if err := batch.Set(keyCount, encodeU64(body.Count)); err != nil {
			return err
		}

		for i := range body.Records {
			enc, err := codec.Marshal(&body.Records[i])
			if err != nil {
				return err
			}
			if err := batch.Set(recordKey(body.Records[i].ID), enc); err != nil {
				return err
			}
		}

		for owner, ids := range owners {
			if err := writeBucket(batch, owner, ids); err != nil {
				return err
			}
		}

		for _, ev := range body.Events {
			enc, err := codec.Marshal(ev)
			if err != nil {
				return err
			}
			if err := batch.Set(eventKey(ev.Seq), enc); err != nil {
				return err
			}
		}

		return nil
	}

	if err := writes(); err != nil {
		batch.Discard()
		return err
	}

	return batch.Commit(true)
}

// compress wraps raw in a single zstd frame.
func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer

	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer:\n%w", err)
	}

	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return nil, fmt.Errorf("compress:\n%w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finish zstd frame:\n%w", err)
	}

	return buf.Bytes(), nil
}

// decompress reads one zstd stream fully.
func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	return io.ReadAll(dec)
}
