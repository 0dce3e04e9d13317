// Package content is a content-addressed blob store keyed by CIDv1
// (raw codec, sha2-256 multihash) on top of pebble.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"Provenance/internal/codec"
	"Provenance/internal/storage"
)

const (
	// DefaultMaxSize bounds a single object.
	DefaultMaxSize = 32 << 20
)

var (
	prefixBlob = []byte("cas:blob:")
	prefixMeta = []byte("cas:meta:")
)

var (
	// ErrNotFound is returned when a CID is absent.
	ErrNotFound = errors.New("content not found")

	// ErrEmpty is returned for zero-length objects.
	ErrEmpty = errors.New("empty content")

	// ErrTooLarge is returned when an object exceeds the size limit.
	ErrTooLarge = errors.New("content too large")

	// ErrImmutable is returned when stored bytes differ from their CID.
	ErrImmutable = errors.New("stored content does not match cid")
)

// Meta describes a stored object.
type Meta struct {
	Filename string `cbor:"1,keyasint" json:"filename"`
	Size     int    `cbor:"2,keyasint" json:"size"`
	StoredAt int64  `cbor:"3,keyasint" json:"storedAt"`
}

// Ref is what Put hands back: the content hash and where to fetch it.
type Ref struct {
	CID     cid.Cid
	Locator string
	Meta    Meta
}

// Store keeps blobs immutably by CID.
type Store struct {
	db      *storage.Storage
	locator string // locator is the retrieval URL prefix
	maxSize int
	now     func() time.Time
}

// New creates a store. locatorBase prefixes retrieval URLs; empty
// yields ipfs:// locators.
func New(db *storage.Storage, locatorBase string) *Store {
	return &Store{
		db:      db,
		locator: strings.TrimRight(locatorBase, "/"),
		maxSize: DefaultMaxSize,
		now:     time.Now,
	}
}

// Sum computes the CIDv1 of data.
func Sum(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("multihash:\n%w", err)
	}

	return cid.NewCidV1(cid.Raw, sum), nil
}

// Put stores data under its CID. Storing the same bytes again is a
// no-op that keeps the first filename.
func (s *Store) Put(data []byte, filename string) (Ref, error) {
	if len(data) == 0 {
		return Ref{}, ErrEmpty
	}

	if len(data) > s.maxSize {
		return Ref{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), s.maxSize)
	}

	id, err := Sum(data)
	if err != nil {
		return Ref{}, err
	}

	existing, err := s.db.Get(blobKey(id))
	if err != nil {
		return Ref{}, fmt.Errorf("read blob:\n%w", err)
	}

	if existing != nil {
		if !bytes.Equal(existing, data) {
			return Ref{}, ErrImmutable
		}

		meta, err := s.Meta(id)
		if err != nil {
			return Ref{}, err
		}

		return Ref{CID: id, Locator: s.Locator(id), Meta: meta}, nil
	}

	meta := Meta{Filename: filename, Size: len(data), StoredAt: s.now().Unix()}

	metaBytes, err := codec.Marshal(meta)
	if err != nil {
		return Ref{}, fmt.Errorf("encode meta:\n%w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Discard()

	if err := batch.Set(blobKey(id), data); err != nil {
		return Ref{}, err
	}

	if err := batch.Set(metaKey(id), metaBytes); err != nil {
		return Ref{}, err
	}

	if err := batch.Commit(true); err != nil {
		return Ref{}, fmt.Errorf("write blob:\n%w", err)
	}

	return Ref{CID: id, Locator: s.Locator(id), Meta: meta}, nil
}

// Get returns the bytes for id, checking them against the CID.
func (s *Store) Get(id cid.Cid) ([]byte, error) {
	data, err := s.db.Get(blobKey(id))
	if err != nil {
		return nil, fmt.Errorf("read blob:\n%w", err)
	}

	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	got, err := Sum(data)
	if err != nil {
		return nil, err
	}

	if !got.Equals(id) {
		return nil, ErrImmutable
	}

	return data, nil
}

// Has reports whether id is stored.
func (s *Store) Has(id cid.Cid) bool {
	data, err := s.db.Get(blobKey(id))
	return err == nil && data != nil
}

// Meta returns the metadata recorded for id.
func (s *Store) Meta(id cid.Cid) (Meta, error) {
	raw, err := s.db.Get(metaKey(id))
	if err != nil {
		return Meta{}, fmt.Errorf("read meta:\n%w", err)
	}

	if raw == nil {
		return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var m Meta
	if err := codec.Unmarshal(raw, &m); err != nil {
		return Meta{}, fmt.Errorf("decode meta:\n%w", err)
	}

	return m, nil
}

// Locator returns the retrieval URL for id.
func (s *Store) Locator(id cid.Cid) string {
	if s.locator == "" {
		return "ipfs://" + id.String()
	}

	return s.locator + "/content/" + id.String()
}

func blobKey(id cid.Cid) []byte {
	return append(append([]byte{}, prefixBlob...), id.Bytes()...)
}

func metaKey(id cid.Cid) []byte {
	return append(append([]byte{}, prefixMeta...), id.Bytes()...)
}
