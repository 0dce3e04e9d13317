package chain

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"Provenance/internal/account"
	"Provenance/internal/address"
	"Provenance/internal/ledger"
	"Provenance/internal/storage"
	"Provenance/internal/txn"
)

var testProgram = address.Address{0xc0}

func newTestChain(t *testing.T, opts ...Option) *Chain {
	t.Helper()

	c, err := New(ledger.NewProgram(ledger.New()), testProgram, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)

	return c
}

func newTestAccount(t *testing.T) *account.Account {
	t.Helper()

	acct, err := account.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	return acct
}

// signedCall builds and signs a call from acct at seq.
func signedCall(t *testing.T, acct *account.Account, seq uint64, fn string, args []byte) *txn.Tx {
	t.Helper()

	tx, err := txn.Sign(&txn.Call{
		Sender:    acct.Address,
		PublicKey: acct.PublicKey,
		Sequence:  seq,
		Program:   testProgram,
		Function:  fn,
		Args:      args,
	}, acct)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	return tx
}

func waitFor(t *testing.T, c *Chain, hash txn.Hash) *txn.Receipt {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r, err := c.Wait(ctx, hash)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	return r
}

func TestSubmitCommitsAndReturnsReceipt(t *testing.T) {
	c := newTestChain(t)
	acct := newTestAccount(t)

	tx := signedCall(t, acct, 0, ledger.FnCreate, ledger.EncodeCreateArgs("QmHash", nil))

	hash, err := c.Submit(txn.Encode(tx))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r := waitFor(t, c, hash)
	if !r.Confirmed || !r.Success || r.VMStatus != ledger.StatusSuccess {
		t.Errorf("receipt = %+v", r)
	}

	if r.RecordID != 1 || r.Version != 1 || r.GasUsed == 0 || r.TxHash != hash.String() {
		t.Errorf("receipt fields = %+v", r)
	}

	if !c.Ledger().VerifyOwnership(1, acct.Address) {
		t.Error("record not created for sender")
	}

	if got := c.AccountSequence(acct.Address); got != 1 {
		t.Errorf("AccountSequence = %d, want 1", got)
	}
}

func TestSubmitRejectsBadSequence(t *testing.T) {
	c := newTestChain(t)
	acct := newTestAccount(t)

	if err := c.SubmitTx(signedCall(t, acct, 1, ledger.FnCount, nil)); !errors.Is(err, ErrSequence) {
		t.Fatalf("err = %v, want ErrSequence", err)
	}

	first := signedCall(t, acct, 0, ledger.FnCount, nil)
	if err := c.SubmitTx(first); err != nil {
		t.Fatalf("SubmitTx: %v", err)
	}

	// Pending txs count towards the next sequence.
	if err := c.SubmitTx(signedCall(t, acct, 0, ledger.FnCreate, ledger.EncodeCreateArgs("h", nil))); !errors.Is(err, ErrSequence) {
		t.Errorf("reused sequence err = %v", err)
	}

	if err := c.SubmitTx(first); !errors.Is(err, ErrDuplicate) && !errors.Is(err, ErrSequence) {
		t.Errorf("replay err = %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newTestChain(t, WithClock(func() time.Time { return now }))
	acct := newTestAccount(t)

	tests := []struct {
		name   string
		mutate func(call *txn.Call)
		want   error
	}{
		{name: "other program", mutate: func(call *txn.Call) { call.Program = address.Address{0x02} }, want: ErrProgram},
		{name: "unknown function", mutate: func(call *txn.Call) { call.Function = "mint" }, want: ledger.ErrUnknownFunction},
		{name: "expired", mutate: func(call *txn.Call) { call.Expiration = uint64(now.Unix()) - 1 }, want: ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := &txn.Call{
				Sender:    acct.Address,
				PublicKey: acct.PublicKey,
				Program:   testProgram,
				Function:  ledger.FnCount,
			}
			tt.mutate(call)

			tx, err := txn.Sign(call, acct)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}

			if err := c.SubmitTx(tx); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := c.Submit([]byte("junk")); !errors.Is(err, txn.ErrMalformed) {
		t.Errorf("junk err = %v", err)
	}

	if c.AccountSequence(acct.Address) != 0 {
		t.Error("rejected txs consumed a sequence")
	}
}

func TestAbortedTxConsumesSequence(t *testing.T) {
	c := newTestChain(t)
	acct := newTestAccount(t)

	tx := signedCall(t, acct, 0, ledger.FnTransfer, ledger.EncodeIDAddressArgs(99, address.Address{0x09}))
	if err := c.SubmitTx(tx); err != nil {
		t.Fatalf("SubmitTx: %v", err)
	}

	r := waitFor(t, c, tx.Hash)
	if !r.Confirmed || r.Success {
		t.Errorf("receipt = %+v, want confirmed abort", r)
	}

	if !errors.Is(ledger.ErrorForStatus(r.VMStatus), ledger.ErrNotFound) {
		t.Errorf("status = %q", r.VMStatus)
	}

	if c.AccountSequence(acct.Address) != 1 {
		t.Error("aborted tx did not consume its sequence")
	}
}

func TestWaitTimeoutKeepsTxQueued(t *testing.T) {
	c := newTestChain(t, WithBlockInterval(time.Hour))
	acct := newTestAccount(t)

	tx := signedCall(t, acct, 0, ledger.FnCreate, ledger.EncodeCreateArgs("h", nil))
	if err := c.SubmitTx(tx); err != nil {
		t.Fatalf("SubmitTx: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Wait(ctx, tx.Hash); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait err = %v, want ErrTimeout", err)
	}

	if _, err := c.Receipt(tx.Hash); !errors.Is(err, ErrPending) {
		t.Errorf("Receipt err = %v, want ErrPending", err)
	}

	if c.PendingCount() != 1 {
		t.Errorf("PendingCount = %d", c.PendingCount())
	}

	// Close commits what is queued.
	c.Close()

	r, err := c.Receipt(tx.Hash)
	if err != nil || !r.Success {
		t.Errorf("receipt after close = %+v, %v", r, err)
	}
}

func TestUnknownReceipt(t *testing.T) {
	c := newTestChain(t)

	if _, err := c.Receipt(txn.Hash{0x01}); !errors.Is(err, ErrUnknownTx) {
		t.Errorf("err = %v, want ErrUnknownTx", err)
	}

	if _, err := c.Wait(context.Background(), txn.Hash{0x01}); !errors.Is(err, ErrUnknownTx) {
		t.Errorf("Wait err = %v, want ErrUnknownTx", err)
	}
}

func TestConcurrentSendersCommitInOrder(t *testing.T) {
	c := newTestChain(t, WithBlockInterval(5*time.Millisecond))

	const senders = 8
	hashes := make([]txn.Hash, senders)

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		tx := signedCall(t, newTestAccount(t), 0, ledger.FnCreate, ledger.EncodeCreateArgs("h", nil))
		hashes[i] = tx.Hash

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := c.SubmitTx(tx); err != nil {
				t.Errorf("SubmitTx: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, h := range hashes {
		r := waitFor(t, c, h)
		if seen[r.RecordID] {
			t.Fatalf("record id %d assigned twice", r.RecordID)
		}
		seen[r.RecordID] = true
	}

	if c.Version() != senders || c.Ledger().Count() != senders {
		t.Errorf("version = %d, count = %d", c.Version(), c.Ledger().Count())
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	acct := newTestAccount(t)

	c, err := New(ledger.NewProgram(ledger.New()), testProgram, WithStorage(db))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tx := signedCall(t, acct, 0, ledger.FnCount, nil)
	if err := c.SubmitTx(tx); err != nil {
		t.Fatalf("SubmitTx: %v", err)
	}
	waitFor(t, c, tx.Hash)
	c.Close()

	restarted, err := New(ledger.NewProgram(ledger.New()), testProgram, WithStorage(db))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer restarted.Close()

	if restarted.AccountSequence(acct.Address) != 1 || restarted.Version() != 1 {
		t.Errorf("seq = %d, version = %d", restarted.AccountSequence(acct.Address), restarted.Version())
	}

	r, err := restarted.Receipt(tx.Hash)
	if err != nil || r.TxHash != tx.Hash.String() || !r.Confirmed {
		t.Errorf("reloaded receipt = %+v, %v", r, err)
	}
}

func TestMutationAndReceiptPersistTogether(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	acct := newTestAccount(t)

	db, err := storage.New(path)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	l, err := ledger.Open(db)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}

	c, err := New(ledger.NewProgram(l), testProgram, WithStorage(db))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tx := signedCall(t, acct, 0, ledger.FnCreate, ledger.EncodeCreateArgs("QmHash", nil))
	if err := c.SubmitTx(tx); err != nil {
		t.Fatalf("SubmitTx: %v", err)
	}
	waitFor(t, c, tx.Hash)
	c.Close()

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = storage.New(path)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	l, err = ledger.Open(db)
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}

	restarted, err := New(ledger.NewProgram(l), testProgram, WithStorage(db))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer restarted.Close()

	if l.Count() != 1 || restarted.AccountSequence(acct.Address) != 1 || restarted.Version() != 1 {
		t.Errorf("count = %d, seq = %d, version = %d", l.Count(), restarted.AccountSequence(acct.Address), restarted.Version())
	}

	r, err := restarted.Receipt(tx.Hash)
	if err != nil || r.RecordID != 1 || !r.Success {
		t.Errorf("reloaded receipt = %+v, %v", r, err)
	}

	// The replayed create is refused rather than stored twice.
	if err := restarted.SubmitTx(tx); !errors.Is(err, ErrSequence) && !errors.Is(err, ErrDuplicate) {
		t.Errorf("replay err = %v", err)
	}
}
