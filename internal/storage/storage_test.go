package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T) (*Storage, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	s, err := New(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to create storage: %v", err)
	}

	cleanup := func() {
		s.Close()
		os.RemoveAll(dir)
	}

	return s, cleanup
}

func TestSetAndGet(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	key := []byte("test-key")
	value := []byte("test-value")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}
}

func TestGetNonExistent(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	got, err := s.Get([]byte("non-existent"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}
}

func TestSetOverwrite(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	key := []byte("overwrite-key")

	if err := s.Set(key, []byte("first")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Set(key, []byte("second")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, []byte("second")) {
		t.Errorf("Get returned %q, want %q", got, "second")
	}
}

func TestLargeValue(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	key := []byte("large-key")
	value := make([]byte, 64<<10)
	for i := range value {
		value[i] = byte(i % 256)
	}

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Error("Get returned different value for large blob")
	}
}

func TestBatchSetAndDelete(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	if err := s.Set([]byte("old"), []byte("gone")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	b := s.NewBatch()
	if err := b.Set([]byte("new"), []byte("here")); err != nil {
		t.Fatalf("batch Set failed: %v", err)
	}
	if err := b.Delete([]byte("old")); err != nil {
		t.Fatalf("batch Delete failed: %v", err)
	}

	// Nothing is visible before commit.
	if got, _ := s.Get([]byte("new")); got != nil {
		t.Errorf("uncommitted write visible: %q", got)
	}

	if err := b.Commit(true); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if got, _ := s.Get([]byte("new")); !bytes.Equal(got, []byte("here")) {
		t.Errorf("Get(new) = %q, want %q", got, "here")
	}

	if got, _ := s.Get([]byte("old")); got != nil {
		t.Errorf("Get(old) = %q, want nil", got)
	}
}

func TestBatchDiscard(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	b := s.NewBatch()
	_ = b.Set([]byte("k"), []byte("v"))
	b.Discard()

	if got, _ := s.Get([]byte("k")); got != nil {
		t.Errorf("discarded write visible: %q", got)
	}
}

func TestIteratePrefix(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	for _, k := range []string{"a:1", "a:2", "b:1"} {
		if err := s.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	var seen []string
	err := s.IteratePrefix([]byte("a:"), func(key, value []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	if len(seen) != 2 || seen[0] != "a:1" || seen[1] != "a:2" {
		t.Errorf("IteratePrefix visited %v, want [a:1 a:2]", seen)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	if got := prefixUpperBound([]byte{0x01, 0xff}); !bytes.Equal(got, []byte{0x02, 0x00}) {
		t.Errorf("prefixUpperBound = %x, want 0200", got)
	}

	if got := prefixUpperBound([]byte{0xff, 0xff}); got != nil {
		t.Errorf("prefixUpperBound(all 0xFF) = %x, want nil", got)
	}
}
