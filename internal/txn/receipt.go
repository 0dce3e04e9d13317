package txn

import (
	"Provenance/internal/ledger"
)

// Receipt reports the outcome of a committed transaction.
//
// Confirmed means the ledger committed the transaction. Success means the
// call also executed without abort. A mock receipt was produced without
// contacting any ledger and must be surfaced as degraded.
type Receipt struct {
	TxHash    string         `json:"txHash"`
	Confirmed bool           `json:"confirmed"`
	Success   bool           `json:"success"`
	Version   uint64         `json:"version"`
	GasUsed   uint64         `json:"gasUsed"`
	VMStatus  string         `json:"vmStatus"`
	Events    []ledger.Event `json:"events,omitempty"`
	RecordID  uint64         `json:"recordId,omitempty"`
	Mock      bool           `json:"mock"`
}

// Degraded reports whether the receipt came from mock-mode anchoring.
func (r *Receipt) Degraded() bool {
	return r.Mock
}

// StoredRecord returns the id of the first RecordStored event, if any.
func (r *Receipt) StoredRecord() (uint64, bool) {
	for _, ev := range r.Events {
		if ev.Kind == ledger.RecordStored {
			return ev.ID, true
		}
	}

	return 0, false
}
