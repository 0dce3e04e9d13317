package chain

import (
	"time"

	"Provenance/internal/ledger"
	"Provenance/internal/logger"
	"Provenance/internal/storage"
	"Provenance/internal/txn"
)

// commitLoop commits pending transactions until Close.
func (c *Chain) commitLoop() {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.interval > 0 {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.stop:
			c.commitPending()
			return
		case <-c.kick:
			if c.interval == 0 {
				c.commitPending()
			}
		case <-tick:
			c.commitPending()
		}
	}
}

// commitPending executes the queued batch in acceptance order.
// Only the commit loop calls it, so execution is sequential.
func (c *Chain) commitPending() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	start := time.Now()

	for _, tx := range batch {
		c.commit(tx)
	}

	logger.Debug("block committed", "txs", len(batch), logger.Timed(start))
}

// commit executes one transaction and publishes its receipt.
// A failed execution still commits and consumes the sequence number.
// When the ledger shares the chain's database, the receipt, sequence
// and version are written in the same batch as the mutation.
func (c *Chain) commit(tx *txn.Tx) {
	// Only the commit loop writes version.
	version := c.version + 1

	var stage ledger.Stage
	if c.db != nil && c.program.Ledger().Storage() == c.db {
		stage = func(b *storage.Batch, res ledger.Result) error {
			return c.stage(b, tx, newReceipt(tx, res, version), version)
		}
	}

	res, staged := c.program.ExecuteStaged(tx.Sender, tx.Function, tx.Args, stage)
	r := newReceipt(tx, res, version)

	if c.db != nil && !staged {
		if err := c.persist(tx, r, version); err != nil {
			logger.Error("persist receipt", "hash", r.TxHash, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.version = version
	c.receipts[tx.Hash] = r
	close(c.done[tx.Hash])
	delete(c.done, tx.Hash)

	if !r.Success {
		logger.Debug("tx aborted", "hash", r.TxHash[:18], "status", r.VMStatus)
	}
}

// newReceipt builds the receipt for tx from its execution result.
func newReceipt(tx *txn.Tx, res ledger.Result, version uint64) *txn.Receipt {
	r := &txn.Receipt{
		TxHash:    tx.Hash.String(),
		Confirmed: true,
		Success:   res.Success(),
		Version:   version,
		GasUsed:   res.GasUsed,
		VMStatus:  res.Status,
		Events:    res.Events,
	}

	if id, ok := r.StoredRecord(); ok {
		r.RecordID = id
	}

	return r
}
