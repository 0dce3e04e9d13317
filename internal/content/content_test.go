package content

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"

	"Provenance/internal/storage"
)

func newTestStore(t *testing.T, locator string) *Store {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(db, locator)
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t, "")
	data := []byte("encrypted artifact")

	ref, err := s.Put(data, "report.pdf.enc")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if ref.CID.Version() != 1 || ref.CID.Type() != cid.Raw {
		t.Errorf("cid = %s, want CIDv1 raw", ref.CID)
	}

	if !strings.HasPrefix(ref.CID.String(), "bafkrei") {
		t.Errorf("cid string = %s, want base32 raw sha2-256", ref.CID)
	}

	if ref.Locator != "ipfs://"+ref.CID.String() {
		t.Errorf("locator = %s", ref.Locator)
	}

	got, err := s.Get(ref.CID)
	if err != nil || string(got) != string(data) {
		t.Errorf("Get = %q, %v", got, err)
	}

	meta, err := s.Meta(ref.CID)
	if err != nil || meta.Filename != "report.pdf.enc" || meta.Size != len(data) {
		t.Errorf("Meta = %+v, %v", meta, err)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s := newTestStore(t, "http://gw.local/")

	first, err := s.Put([]byte("same"), "a.bin")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	second, err := s.Put([]byte("same"), "b.bin")
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}

	if !first.CID.Equals(second.CID) || second.Meta.Filename != "a.bin" {
		t.Errorf("second ref = %+v", second)
	}

	if second.Locator != "http://gw.local/content/"+first.CID.String() {
		t.Errorf("locator = %s", second.Locator)
	}
}

func TestPutRejects(t *testing.T) {
	s := newTestStore(t, "")
	s.maxSize = 4

	if _, err := s.Put(nil, "x"); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty err = %v", err)
	}

	if _, err := s.Put([]byte("too long"), "x"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("large err = %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t, "")

	id, err := Sum([]byte("never stored"))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}

	if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v", err)
	}

	if s.Has(id) {
		t.Error("Has true for missing cid")
	}
}
