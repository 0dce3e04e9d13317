// Package anchor turns a content hash into a confirmed ledger record.
//
// A Store call moves through build, sign, submit and confirm. The
// pipeline signs with one service-held account and serializes
// build→submit so concurrent calls never reuse a sequence number; the
// confirmation wait runs outside that lock. Submissions are never
// retried. Without a configured program the pipeline returns flagged
// mock receipts and never contacts the ledger.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Provenance/internal/account"
	"Provenance/internal/address"
	"Provenance/internal/ledger"
	"Provenance/internal/logger"
	"Provenance/internal/txn"
)

const (
	// DefaultTimeout bounds the confirmation wait.
	DefaultTimeout = 30 * time.Second

	// DefaultTxTTL is how long a submitted tx stays valid.
	DefaultTxTTL = 2 * time.Minute
)

// Ledger is the RPC boundary the pipeline talks to.
type Ledger interface {
	AccountSequence(ctx context.Context, addr address.Address) (uint64, error)
	Submit(ctx context.Context, tx *txn.Tx) (txn.Hash, error)
	Wait(ctx context.Context, hash txn.Hash) (*txn.Receipt, error)
	View(ctx context.Context, fn string, args []byte) ([]byte, error)
}

// Config configures a Pipeline.
type Config struct {
	Program address.Address // Program is the ledger program; Null selects mock mode
	Timeout time.Duration   // Timeout bounds the confirmation wait
	TxTTL   time.Duration   // TxTTL sets the tx expiration window
}

// Pipeline anchors content hashes on behalf of users.
type Pipeline struct {
	ledger  Ledger
	signer  *account.Account
	program address.Address
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time

	mu sync.Mutex // mu serializes build→submit for the signer
}

// New creates a pipeline signing with signer.
func New(l Ledger, signer *account.Account, cfg Config) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.TxTTL <= 0 {
		cfg.TxTTL = DefaultTxTTL
	}

	return &Pipeline{
		ledger:  l,
		signer:  signer,
		program: cfg.Program,
		timeout: cfg.Timeout,
		ttl:     cfg.TxTTL,
		now:     time.Now,
	}
}

// Mock reports whether the pipeline runs without a ledger program.
func (p *Pipeline) Mock() bool {
	return p.program.IsNull()
}

// Signer returns the address transactions are sent from.
func (p *Pipeline) Signer() address.Address {
	return p.signer.Address
}

// Store anchors contentHash. A nil owner records the signer as owner.
// The returned receipt is either confirmed by the ledger and carries the
// new RecordID, or is a mock receipt with Degraded() set.
func (p *Pipeline) Store(ctx context.Context, contentHash string, owner *address.Address) (*txn.Receipt, error) {
	if contentHash == "" {
		return nil, fmt.Errorf("%w: empty content hash", ledger.ErrInvalidInput)
	}

	if owner != nil && owner.IsNull() {
		return nil, fmt.Errorf("%w: null owner", ledger.ErrInvalidInput)
	}

	if p.Mock() {
		r := mockReceipt(contentHash, p.now())
		logger.Warn("anchoring degraded: no ledger program configured", "hash", r.TxHash[:18])
		return r, nil
	}

	r, err := p.execute(ctx, ledger.FnCreate, ledger.EncodeCreateArgs(contentHash, owner))
	if err != nil {
		return nil, err
	}

	id, ok := r.StoredRecord()
	if !ok {
		return nil, &Error{Stage: StageExecute, TxHash: r.TxHash, Err: errors.New("no RecordStored event in receipt")}
	}
	r.RecordID = id

	logger.Info("content anchored", "record", id, "tx", short(r.TxHash), "version", r.Version)

	return r, nil
}

// Transfer moves a signer-owned record to newOwner.
func (p *Pipeline) Transfer(ctx context.Context, id uint64, newOwner address.Address) (*txn.Receipt, error) {
	if p.Mock() {
		return nil, ErrNoProgram
	}

	return p.execute(ctx, ledger.FnTransfer, ledger.EncodeIDAddressArgs(id, newOwner))
}

// execute runs one call through every stage and requires a successful execution.
func (p *Pipeline) execute(ctx context.Context, fn string, args []byte) (*txn.Receipt, error) {
	start := time.Now()

	hash, err := p.submit(ctx, fn, args)
	if err != nil {
		return nil, err
	}

	logger.Debug("anchor stage", "stage", StageConfirm, "tx", hash.String()[:18])

	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	r, err := p.ledger.Wait(waitCtx, hash)
	if err != nil {
		logger.Warn("anchor confirmation failed", "tx", hash.String()[:18], "error", err)
		return nil, &Error{Stage: StageConfirm, TxHash: hash.String(), Err: err}
	}

	if r == nil || r.TxHash != hash.String() {
		got := ""
		if r != nil {
			got = r.TxHash
		}
		logger.Warn("anchor receipt for another tx", "tx", hash.String()[:18], "got", short(got))
		return nil, &Error{Stage: StageConfirm, TxHash: hash.String(), Err: fmt.Errorf("%w: receipt for %q", ErrHashMismatch, got)}
	}

	if !r.Success {
		logger.Warn("anchor tx aborted", "tx", hash.String()[:18], "status", r.VMStatus)
		return nil, &Error{Stage: StageExecute, TxHash: r.TxHash, Err: ledger.ErrorForStatus(r.VMStatus)}
	}

	logger.Debug("anchor confirmed", "func", fn, logger.Timed(start))

	return r, nil
}

// submit builds, signs and submits under the signer lock.
func (p *Pipeline) submit(ctx context.Context, fn string, args []byte) (txn.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger.Debug("anchor stage", "stage", StageBuild, "func", fn)

	seq, err := p.ledger.AccountSequence(ctx, p.signer.Address)
	if err != nil {
		return txn.Hash{}, &Error{Stage: StageBuild, Err: err}
	}

	call := &txn.Call{
		Sender:     p.signer.Address,
		PublicKey:  p.signer.PublicKey,
		Sequence:   seq,
		Program:    p.program,
		Function:   fn,
		Args:       args,
		Expiration: uint64(p.now().Add(p.ttl).Unix()),
	}

	logger.Debug("anchor stage", "stage", StageSign, "seq", seq)

	tx, err := txn.Sign(call, p.signer)
	if err != nil {
		return txn.Hash{}, &Error{Stage: StageSign, Err: err}
	}

	logger.Debug("anchor stage", "stage", StageSubmit, "tx", tx.Hash.String()[:18])

	hash, err := p.ledger.Submit(ctx, tx)
	if err != nil {
		logger.Warn("anchor submission failed", "tx", tx.Hash.String()[:18], "error", err)
		return txn.Hash{}, &Error{Stage: StageSubmit, TxHash: tx.Hash.String(), Err: err}
	}

	// The node must echo the hash we signed.
	if hash != tx.Hash {
		logger.Warn("anchor submit returned another hash", "tx", tx.Hash.String()[:18], "got", hash.String()[:18])
		return txn.Hash{}, &Error{Stage: StageConfirm, TxHash: tx.Hash.String(), Err: fmt.Errorf("%w: node returned %s", ErrHashMismatch, hash)}
	}

	return hash, nil
}

// short trims a hex hash for logging.
func short(h string) string {
	if len(h) > 18 {
		return h[:18]
	}

	return h
}
