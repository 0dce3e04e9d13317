package ledger

import (
	"encoding/binary"
	"fmt"

	"Provenance/internal/address"
	"Provenance/internal/codec"
	"Provenance/internal/storage"
)

// Pebble key layout for ledger state.
var (
	keyCount     = []byte("l:count") // l:count -> u64 BE
	prefixRecord = []byte("l:rec:")  // l:rec:<id BE> -> cbor Record
	prefixOwner  = []byte("l:own:")  // l:own:<address> -> concatenated u64 BE ids
	prefixEvent  = []byte("l:ev:")   // l:ev:<seq BE> -> cbor Event
)

// stageFunc adds writes to the batch committing one mutation.
type stageFunc func(b *storage.Batch, ev Event) error

// Open creates a ledger backed by db and loads any state already stored.
func Open(db *storage.Storage, opts ...Option) (*Ledger, error) {
	l := New(opts...)
	l.db = db

	if err := l.load(); err != nil {
		return nil, fmt.Errorf("load ledger:\n%w", err)
	}

	return l, nil
}

// load rebuilds the in-memory state from storage.
func (l *Ledger) load() error {
	raw, err := l.db.Get(keyCount)
	if err != nil {
		return fmt.Errorf("read count:\n%w", err)
	}

	if len(raw) == 8 {
		l.count = binary.BigEndian.Uint64(raw)
	}

	err = l.db.IteratePrefix(prefixRecord, func(_, value []byte) error {
		var rec Record
		if err := codec.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode record:\n%w", err)
		}

		l.records[rec.ID] = &rec

		return nil
	})
	if err != nil {
		return err
	}

	err = l.db.IteratePrefix(prefixOwner, func(key, value []byte) error {
		owner, err := address.FromBytes(key[len(prefixOwner):])
		if err != nil {
			return err
		}

		l.setBucket(owner, decodeIDs(value))

		return nil
	})
	if err != nil {
		return err
	}

	return l.db.IteratePrefix(prefixEvent, func(_, value []byte) error {
		var ev Event
		if err := codec.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("decode event:\n%w", err)
		}

		l.events = append(l.events, ev)

		return nil
	})
}

// Storage returns the backing database, nil for an in-memory ledger.
func (l *Ledger) Storage() *storage.Storage {
	return l.db
}

// persist writes one mutation and the writes stage adds as a single
// durable batch. It is a no-op for in-memory ledgers, and stage is not
// called. Callers hold the writer lock.
func (l *Ledger) persist(count uint64, rec *Record, buckets map[address.Address][]uint64, ev Event, stage stageFunc) error {
	if l.db == nil {
		return nil
	}

	recBytes, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record:\n%w", err)
	}

	evBytes, err := codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event:\n%w", err)
	}

	batch := l.db.NewBatch()

	if err := batch.Set(keyCount, encodeU64(count)); err != nil {
		batch.Discard()
		return err
	}

	if err := batch.Set(recordKey(rec.ID), recBytes); err != nil {
		batch.Discard()
		return err
	}

	for owner, ids := range buckets {
		if err := writeBucket(batch, owner, ids); err != nil {
			batch.Discard()
			return err
		}
	}

	if err := batch.Set(eventKey(ev.Seq), evBytes); err != nil {
		batch.Discard()
		return err
	}

	if stage != nil {
		if err := stage(batch, ev); err != nil {
			batch.Discard()
			return fmt.Errorf("stage writes:\n%w", err)
		}
	}

	return batch.Commit(true)
}

// writeBucket stores an owner bucket or deletes it when empty.
func writeBucket(batch *storage.Batch, owner address.Address, ids []uint64) error {
	if len(ids) == 0 {
		return batch.Delete(ownerKey(owner))
	}

	return batch.Set(ownerKey(owner), encodeIDs(ids))
}

func recordKey(id uint64) []byte {
	return append(append([]byte{}, prefixRecord...), encodeU64(id)...)
}

func ownerKey(owner address.Address) []byte {
	return append(append([]byte{}, prefixOwner...), owner[:]...)
}

func eventKey(seq uint64) []byte {
	return append(append([]byte{}, prefixEvent...), encodeU64(seq)...)
}

func encodeU64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)

	return buf[:]
}

func encodeIDs(ids []uint64) []byte {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.BigEndian.PutUint64(buf[i*8:], id)
	}

	return buf
}

func decodeIDs(buf []byte) []uint64 {
	ids := make([]uint64, 0, len(buf)/8)
	for i := 0; i+8 <= len(buf); i += 8 {
		ids = append(ids, binary.BigEndian.Uint64(buf[i:]))
	}

	return ids
}
