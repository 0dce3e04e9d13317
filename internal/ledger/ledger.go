package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"Provenance/internal/address"
	"Provenance/internal/logger"
	"Provenance/internal/storage"
)

var (
	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when no live record has the id.
	ErrNotFound = errors.New("record not found")

	// ErrNotAuthorized is returned when the caller does not own the record.
	ErrNotAuthorized = errors.New("caller is not the record owner")
)

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 256

// Record is one content registration.
type Record struct {
	ID          uint64          `cbor:"1,keyasint"` // ID is dense, starting at 1
	ContentHash string          `cbor:"2,keyasint"` // ContentHash is opaque to the ledger
	Owner       address.Address `cbor:"3,keyasint"` // Owner is the current owner
	CreatedAt   int64           `cbor:"4,keyasint"` // CreatedAt is unix seconds
	Exists      bool            `cbor:"5,keyasint"` // Exists is cleared only by a future revocation
}

// Ledger is the authoritative record store. Mutations take the writer
// lock over the counter, records, owner index and event log together;
// reads share the lock and always see whole mutations.
type Ledger struct {
	mu      sync.RWMutex
	count   uint64
	records map[uint64]*Record
	owners  map[address.Address][]uint64
	events  []Event

	db  *storage.Storage // db is nil for a purely in-memory ledger
	now func() time.Time

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty in-memory ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		records: make(map[uint64]*Record),
		owners:  make(map[address.Address][]uint64),
		subs:    make(map[int]chan Event),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Create registers contentHash owned by caller.
func (l *Ledger) Create(caller address.Address, contentHash string) (uint64, error) {
	ev, err := l.create(caller, caller, contentHash, nil)
	if err != nil {
		return 0, err
	}

	return ev.ID, nil
}

// CreateFor registers contentHash on behalf of owner. The caller pays
// for and submits the call but does not become the owner.
func (l *Ledger) CreateFor(caller, owner address.Address, contentHash string) (uint64, error) {
	ev, err := l.create(caller, owner, contentHash, nil)
	if err != nil {
		return 0, err
	}

	return ev.ID, nil
}

// create allocates the next id and commits the record, index entry and
// event, together with any writes stage adds.
func (l *Ledger) create(caller, owner address.Address, contentHash string, stage stageFunc) (Event, error) {
	if contentHash == "" {
		return Event{}, fmt.Errorf("%w: empty content hash", ErrInvalidInput)
	}

	if owner.IsNull() {
		return Event{}, fmt.Errorf("%w: null owner", ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.count + 1
	rec := &Record{
		ID:          id,
		ContentHash: contentHash,
		Owner:       owner,
		CreatedAt:   l.now().Unix(),
		Exists:      true,
	}

	ev := Event{
		Seq:         uint64(len(l.events)) + 1,
		Kind:        RecordStored,
		ID:          id,
		Owner:       owner,
		ContentHash: contentHash,
		Timestamp:   rec.CreatedAt,
	}

	bucket := append(append([]uint64{}, l.owners[owner]...), id)

	if err := l.persist(id, rec, map[address.Address][]uint64{owner: bucket}, ev, stage); err != nil {
		return Event{}, fmt.Errorf("persist create:\n%w", err)
	}

	l.count = id
	l.records[id] = rec
	l.owners[owner] = bucket
	l.appendEvent(ev)

	logger.Debug("record stored", "id", id, "owner", owner.Short(), "caller", caller.Short())

	return ev, nil
}

// Get returns a copy of the live record with id.
func (l *Ledger) Get(id uint64) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[id]
	if !ok || !rec.Exists {
		return Record{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	return *rec, nil
}

// ListByOwner returns the ids owned by addr. Unknown owners get an
// empty slice. Order follows insertion until a transfer reshuffles it.
func (l *Ledger) ListByOwner(addr address.Address) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]uint64{}, l.owners[addr]...)
}

// Transfer moves record id from caller to newOwner.
func (l *Ledger) Transfer(caller address.Address, id uint64, newOwner address.Address) error {
	_, err := l.transfer(caller, id, newOwner, nil)
	return err
}

// transfer validates and commits an ownership change as one unit.
func (l *Ledger) transfer(caller address.Address, id uint64, newOwner address.Address, stage stageFunc) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok || !rec.Exists {
		return Event{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	if rec.Owner != caller {
		return Event{}, fmt.Errorf("%w: id %d", ErrNotAuthorized, id)
	}

	if newOwner.IsNull() {
		return Event{}, fmt.Errorf("%w: null new owner", ErrInvalidInput)
	}

	if newOwner == caller {
		return Event{}, fmt.Errorf("%w: new owner equals current owner", ErrInvalidInput)
	}

	from := rec.Owner
	fromBucket := removeID(l.owners[from], id)
	toBucket := append(append([]uint64{}, l.owners[newOwner]...), id)

	updated := *rec
	updated.Owner = newOwner

	ev := Event{
		Seq:       uint64(len(l.events)) + 1,
		Kind:      RecordTransferred,
		ID:        id,
		From:      from,
		To:        newOwner,
		Timestamp: l.now().Unix(),
	}

	buckets := map[address.Address][]uint64{from: fromBucket, newOwner: toBucket}
	if err := l.persist(l.count, &updated, buckets, ev, stage); err != nil {
		return Event{}, fmt.Errorf("persist transfer:\n%w", err)
	}

	l.records[id] = &updated
	l.setBucket(from, fromBucket)
	l.owners[newOwner] = toBucket
	l.appendEvent(ev)

	logger.Debug("record transferred", "id", id, "from", from.Short(), "to", newOwner.Short())

	return ev, nil
}

// VerifyOwnership reports whether addr owns the live record id.
func (l *Ledger) VerifyOwnership(id uint64, addr address.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[id]

	return ok && rec.Exists && rec.Owner == addr
}

// Count returns the number of records ever created.
func (l *Ledger) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.count
}

// setBucket stores a bucket, dropping the map entry when it empties.
func (l *Ledger) setBucket(addr address.Address, ids []uint64) {
	if len(ids) == 0 {
		delete(l.owners, addr)
		return
	}

	l.owners[addr] = ids
}

// removeID returns a copy of ids without id, moving the last element
// into the removed slot.
func removeID(ids []uint64, id uint64) []uint64 {
	out := append([]uint64{}, ids...)

	for i, v := range out {
		if v == id {
			last := len(out) - 1
			out[i] = out[last]
			return out[:last]
		}
	}

	return out
}
