package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"Provenance/internal/storage"
)

// newTestStorage opens a temporary pebble database.
func newTestStorage(t *testing.T, dir string) *storage.Storage {
	t.Helper()

	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	return db
}

func TestOpenReloadsState(t *testing.T) {
	dir, err := os.MkdirTemp("", "ledger_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	alice, bob := testAddr(1), testAddr(2)

	db := newTestStorage(t, dir)
	l, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	a1, _ := l.Create(alice, "a1")
	a2, _ := l.Create(alice, "a2")
	if err := l.Transfer(alice, a1, bob); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db = newTestStorage(t, dir)
	t.Cleanup(func() { db.Close() })

	reopened, err := Open(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if reopened.Count() != 2 {
		t.Errorf("Count = %d, want 2", reopened.Count())
	}

	if !reopened.VerifyOwnership(a1, bob) || !reopened.VerifyOwnership(a2, alice) {
		t.Error("ownership lost across reopen")
	}

	if got := reopened.ListByOwner(alice); len(got) != 1 || got[0] != a2 {
		t.Errorf("alice bucket = %v", got)
	}

	if got := reopened.Events(0); len(got) != 3 {
		t.Errorf("events = %d, want 3", len(got))
	}

	id, err := reopened.Create(bob, "b1")
	if err != nil || id != 3 {
		t.Errorf("next id = %d, %v; want 3", id, err)
	}
}

func TestPersistedBucketDeletedWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	db := newTestStorage(t, dir)
	t.Cleanup(func() { db.Close() })

	l, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	alice, bob := testAddr(1), testAddr(2)
	id, _ := l.Create(alice, "a1")
	_ = l.Transfer(alice, id, bob)

	raw, err := db.Get(ownerKey(alice))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if raw != nil {
		t.Errorf("empty bucket still stored: %x", raw)
	}
}

func TestExecuteStagedCommitsWithMutation(t *testing.T) {
	dir := t.TempDir()
	db := newTestStorage(t, dir)

	l, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := NewProgram(l)

	marker := []byte("x:receipt")
	var seen Result

	res, staged := p.ExecuteStaged(testAddr(1), FnCreate, EncodeCreateArgs("h", nil), func(b *storage.Batch, pending Result) error {
		seen = pending
		return b.Set(marker, []byte("ok"))
	})
	if !res.Success() || !staged {
		t.Fatalf("res = %+v, staged = %v", res, staged)
	}

	if id, _ := DecodeU64(seen.Return); id != 1 || len(seen.Events) != 1 || seen.GasUsed != res.GasUsed {
		t.Errorf("staged result = %+v", seen)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db = newTestStorage(t, dir)
	t.Cleanup(func() { db.Close() })

	reopened, err := Open(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	raw, _ := db.Get(marker)
	if reopened.Count() != 1 || string(raw) != "ok" {
		t.Errorf("count = %d, marker = %q", reopened.Count(), raw)
	}
}

func TestExecuteStagedFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	db := newTestStorage(t, dir)

	l, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := NewProgram(l)

	marker := []byte("x:receipt")
	res, staged := p.ExecuteStaged(testAddr(1), FnCreate, EncodeCreateArgs("h", nil), func(b *storage.Batch, _ Result) error {
		if err := b.Set(marker, []byte("ok")); err != nil {
			return err
		}
		return errors.New("disk full")
	})

	if res.Success() || staged || res.Status != StatusFor(errors.New("internal")) {
		t.Fatalf("res = %+v, staged = %v", res, staged)
	}

	if l.Count() != 0 || len(l.Events(0)) != 0 {
		t.Errorf("in-memory state changed: count %d", l.Count())
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db = newTestStorage(t, dir)
	t.Cleanup(func() { db.Close() })

	reopened, err := Open(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	raw, _ := db.Get(marker)
	if reopened.Count() != 0 || raw != nil {
		t.Errorf("count = %d, marker = %q", reopened.Count(), raw)
	}
}

func TestExecuteStagedSkipsReadsAndAborts(t *testing.T) {
	db := newTestStorage(t, t.TempDir())
	t.Cleanup(func() { db.Close() })

	l, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := NewProgram(l)

	called := false
	stage := func(*storage.Batch, Result) error { called = true; return nil }

	if _, staged := p.ExecuteStaged(testAddr(1), FnCount, nil, stage); staged {
		t.Error("view reported staged")
	}

	if _, staged := p.ExecuteStaged(testAddr(1), FnTransfer, EncodeIDAddressArgs(9, testAddr(2)), stage); staged {
		t.Error("aborted transfer reported staged")
	}

	if called {
		t.Error("stage called without a mutation")
	}
}
