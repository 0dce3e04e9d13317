package ledger

import (
	"Provenance/internal/address"
	"Provenance/internal/logger"
)

// EventKind names a ledger event.
type EventKind string

const (
	// RecordStored is emitted by create.
	RecordStored EventKind = "RecordStored"

	// RecordTransferred is emitted by transfer.
	RecordTransferred EventKind = "RecordTransferred"
)

// Event is one entry of the ledger's audit stream. Seq follows commit order.
type Event struct {
	Seq         uint64          `cbor:"1,keyasint" json:"seq"`
	Kind        EventKind       `cbor:"2,keyasint" json:"kind"`
	ID          uint64          `cbor:"3,keyasint" json:"id"`
	Owner       address.Address `cbor:"4,keyasint" json:"owner"`
	ContentHash string          `cbor:"5,keyasint,omitempty" json:"contentHash,omitempty"`
	From        address.Address `cbor:"6,keyasint" json:"from"`
	To          address.Address `cbor:"7,keyasint" json:"to"`
	Timestamp   int64           `cbor:"8,keyasint" json:"timestamp"`
}

// Events returns every event with Seq >= from, in commit order.
func (l *Ledger) Events(from uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from == 0 {
		from = 1
	}

	if from > uint64(len(l.events)) {
		return []Event{}
	}

	return append([]Event{}, l.events[from-1:]...)
}

// Subscribe registers a live event feed. Events are delivered in commit
// order; a subscriber that falls subscriberBuffer events behind misses
// events and should resync with Events. Call cancel to stop the feed.
func (l *Ledger) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.subMu.Unlock()

	cancel := func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()

		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}

// appendEvent records ev and fans it out. Callers hold the writer lock,
// which keeps delivery in commit order.
func (l *Ledger) appendEvent(ev Event) {
	l.events = append(l.events, ev)

	l.subMu.Lock()
	defer l.subMu.Unlock()

	for id, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			logger.Warn("event subscriber lagging, dropped event", "subscriber", id, "seq", ev.Seq)
		}
	}
}
