package ledger

import (
	"testing"
)

func TestSnapshotRestore(t *testing.T) {
	src := New(WithClock(fixedClock))
	alice, bob := testAddr(1), testAddr(2)

	a1, _ := src.Create(alice, "a1")
	_, _ = src.Create(alice, "a2")
	_ = src.Transfer(alice, a1, bob)

	data, err := src.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	dir := t.TempDir()
	db := newTestStorage(t, dir)
	t.Cleanup(func() { db.Close() })

	dst, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Pre-existing state is replaced, not merged.
	_, _ = dst.Create(testAddr(9), "stale")

	if err := dst.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if dst.Count() != 2 || !dst.VerifyOwnership(a1, bob) {
		t.Errorf("restored state wrong: count=%d", dst.Count())
	}

	if len(dst.ListByOwner(testAddr(9))) != 0 {
		t.Error("stale owner survived restore")
	}

	if got := dst.Events(0); len(got) != 3 {
		t.Errorf("events = %d, want 3", len(got))
	}

	reopened, err := Open(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if reopened.Count() != 2 || len(reopened.ListByOwner(testAddr(9))) != 0 {
		t.Error("restore not persisted")
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	l := New()

	if err := l.Restore([]byte("not zstd")); err == nil {
		t.Error("expected error for garbage snapshot")
	}
}

func TestRestoreRejectsInconsistentIndex(t *testing.T) {
	src := New()
	alice := testAddr(1)
	_, _ = src.Create(alice, "a1")

	src.owners[testAddr(2)] = []uint64{1}

	data, err := src.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if err := New().Restore(data); err == nil {
		t.Error("expected error for owner index pointing at another owner's record")
	}
}

func TestRestoreRejectsUnindexedRecord(t *testing.T) {
	src := New()
	alice := testAddr(1)
	_, _ = src.Create(alice, "a1")
	_, _ = src.Create(alice, "a2")

	src.owners[alice] = []uint64{1}

	data, err := src.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	dst := New()
	if err := dst.Restore(data); err == nil {
		t.Fatal("expected error for live record missing from its bucket")
	}

	if dst.Count() != 0 {
		t.Errorf("failed restore changed count to %d", dst.Count())
	}
}

func TestRestoreRejectsDuplicateIndexEntry(t *testing.T) {
	src := New()
	alice := testAddr(1)
	_, _ = src.Create(alice, "a1")

	src.owners[alice] = []uint64{1, 1}

	data, err := src.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if err := New().Restore(data); err == nil {
		t.Error("expected error for record indexed twice")
	}
}
