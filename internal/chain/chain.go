package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Provenance/internal/address"
	"Provenance/internal/ledger"
	"Provenance/internal/logger"
	"Provenance/internal/storage"
	"Provenance/internal/txn"
)

var (
	// ErrTimeout is returned when a confirmation wait elapses.
	ErrTimeout = errors.New("confirmation timeout")

	// ErrSequence is returned when a tx does not carry the sender's next sequence.
	ErrSequence = errors.New("sequence mismatch")

	// ErrProgram is returned for calls addressed to another program.
	ErrProgram = errors.New("unknown program")

	// ErrExpired is returned for txs past their expiration.
	ErrExpired = errors.New("transaction expired")

	// ErrDuplicate is returned when a tx hash was already accepted.
	ErrDuplicate = errors.New("duplicate transaction")

	// ErrUnknownTx is returned for hashes the chain never accepted.
	ErrUnknownTx = errors.New("unknown transaction")

	// ErrPending is returned for accepted txs that are not committed yet.
	ErrPending = errors.New("transaction pending")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("chain closed")
)

// Option configures a Chain.
type Option func(*Chain)

// WithBlockInterval batches commits on a fixed interval. Zero commits
// every accepted tx as soon as the loop picks it up.
func WithBlockInterval(d time.Duration) Option {
	return func(c *Chain) {
		c.interval = d
	}
}

// WithStorage persists receipts and account sequences.
func WithStorage(db *storage.Storage) Option {
	return func(c *Chain) {
		c.db = db
	}
}

// WithClock overrides the time source used for expiration checks.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		c.now = now
	}
}

// Chain accepts signed transactions for one ledger program, commits them
// in acceptance order and keeps their receipts.
type Chain struct {
	program *ledger.Program
	addr    address.Address
	db      *storage.Storage
	now     func() time.Time

	interval time.Duration

	mu       sync.Mutex
	closed   bool
	pending  []*txn.Tx
	nextSeq  map[address.Address]uint64 // nextSeq counts accepted txs, pending included
	receipts map[txn.Hash]*txn.Receipt
	done     map[txn.Hash]chan struct{} // done is closed when the tx commits
	version  uint64

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a chain serving program at addr and starts its commit loop.
func New(program *ledger.Program, addr address.Address, opts ...Option) (*Chain, error) {
	c := &Chain{
		program:  program,
		addr:     addr,
		now:      time.Now,
		nextSeq:  make(map[address.Address]uint64),
		receipts: make(map[txn.Hash]*txn.Receipt),
		done:     make(map[txn.Hash]chan struct{}),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.db != nil {
		if err := c.load(); err != nil {
			return nil, fmt.Errorf("load chain state:\n%w", err)
		}
	}

	c.wg.Add(1)
	go c.commitLoop()

	return c, nil
}

// Program returns the address of the served program.
func (c *Chain) Program() address.Address {
	return c.addr
}

// Ledger returns the ledger the program runs on.
func (c *Chain) Ledger() *ledger.Ledger {
	return c.program.Ledger()
}

// Submit decodes, validates and enqueues a signed transaction.
func (c *Chain) Submit(data []byte) (txn.Hash, error) {
	tx, err := txn.Decode(data)
	if err != nil {
		return txn.Hash{}, err
	}

	if err := c.SubmitTx(tx); err != nil {
		return txn.Hash{}, err
	}

	return tx.Hash, nil
}

// SubmitTx validates and enqueues a decoded transaction.
func (c *Chain) SubmitTx(tx *txn.Tx) error {
	if err := c.validate(tx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if _, ok := c.done[tx.Hash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, tx.Hash)
	}

	if _, ok := c.receipts[tx.Hash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, tx.Hash)
	}

	if want := c.nextSeq[tx.Sender]; tx.Sequence != want {
		return fmt.Errorf("%w: got %d, want %d", ErrSequence, tx.Sequence, want)
	}

	c.nextSeq[tx.Sender] = tx.Sequence + 1
	c.pending = append(c.pending, tx)
	c.done[tx.Hash] = make(chan struct{})

	select {
	case c.kick <- struct{}{}:
	default:
	}

	logger.Debug("tx accepted", "hash", tx.Hash.String()[:18], "func", tx.Function, "seq", tx.Sequence)

	return nil
}

// validate runs the stateless checks.
func (c *Chain) validate(tx *txn.Tx) error {
	if err := tx.Verify(); err != nil {
		return err
	}

	if tx.Program != c.addr {
		return fmt.Errorf("%w: %s", ErrProgram, tx.Program.Short())
	}

	if !ledger.Known(tx.Function) {
		return fmt.Errorf("%w: %q", ledger.ErrUnknownFunction, tx.Function)
	}

	if tx.Expiration != 0 && uint64(c.now().Unix()) > tx.Expiration {
		return ErrExpired
	}

	return nil
}

// Receipt returns the receipt of a committed transaction.
func (c *Chain) Receipt(hash txn.Hash) (*txn.Receipt, error) {
	c.mu.Lock()
	r, ok := c.receipts[hash]
	_, pending := c.done[hash]
	c.mu.Unlock()

	if ok {
		return r, nil
	}

	if pending {
		return nil, ErrPending
	}

	if c.db != nil {
		if r, err := c.loadReceipt(hash); err != nil || r != nil {
			return r, err
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownTx, hash)
}

// Wait blocks until hash commits or ctx ends. A timeout only stops the
// wait; the transaction stays queued.
func (c *Chain) Wait(ctx context.Context, hash txn.Hash) (*txn.Receipt, error) {
	c.mu.Lock()
	done, pending := c.done[hash]
	c.mu.Unlock()

	if !pending {
		return c.Receipt(hash)
	}

	select {
	case <-done:
		return c.Receipt(hash)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, hash)
		}

		return nil, ctx.Err()
	}
}

// View runs a read-only program function.
func (c *Chain) View(fn string, args []byte) ([]byte, error) {
	return c.program.View(fn, args)
}

// AccountSequence returns the next sequence the chain accepts from addr.
func (c *Chain) AccountSequence(addr address.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nextSeq[addr]
}

// Version returns the number of committed transactions.
func (c *Chain) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.version
}

// PendingCount returns the number of accepted, uncommitted transactions.
func (c *Chain) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Close stops the commit loop after committing what is pending.
func (c *Chain) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()
}
