package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"Provenance/internal/address"
)

// errShortArgs is wrapped into ErrInvalidInput by the program.
var errShortArgs = errors.New("argument buffer too short")

// maxStringLen bounds decoded Borsh strings.
const maxStringLen = 1 << 16

// writer appends Borsh-encoded values.
type writer struct {
	buf []byte
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) boolean(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) addr(a address.Address) {
	w.buf = append(w.buf, a[:]...)
}

// reader consumes Borsh-encoded values; the first failure sticks.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if len(r.buf) < n {
		r.err = errShortArgs
		return nil
	}

	out := r.buf[:n]
	r.buf = r.buf[n:]

	return out
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) boolean() bool {
	b := r.take(1)
	if b == nil {
		return false
	}

	if b[0] > 1 {
		r.err = fmt.Errorf("invalid bool byte %d", b[0])
	}

	return b[0] == 1
}

func (r *reader) str() string {
	n := r.u32()
	if r.err == nil && n > maxStringLen {
		r.err = fmt.Errorf("string length %d exceeds %d", n, maxStringLen)
		return ""
	}

	return string(r.take(int(n)))
}

func (r *reader) addr() address.Address {
	var a address.Address
	copy(a[:], r.take(address.Size))
	return a
}

// done reports the first error, or an error for trailing bytes.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}

	if len(r.buf) != 0 {
		return fmt.Errorf("%d trailing argument bytes", len(r.buf))
	}

	return nil
}

// EncodeCreateArgs encodes (content_hash: String, owner: Option<[u8; 32]>).
func EncodeCreateArgs(contentHash string, owner *address.Address) []byte {
	w := &writer{}
	w.str(contentHash)
	w.boolean(owner != nil)

	if owner != nil {
		w.addr(*owner)
	}

	return w.buf
}

// EncodeIDArgs encodes (id: u64).
func EncodeIDArgs(id uint64) []byte {
	w := &writer{}
	w.u64(id)
	return w.buf
}

// EncodeIDAddressArgs encodes (id: u64, addr: [u8; 32]) for transfer and verifyOwnership.
func EncodeIDAddressArgs(id uint64, addr address.Address) []byte {
	w := &writer{}
	w.u64(id)
	w.addr(addr)
	return w.buf
}

// EncodeAddressArgs encodes (addr: [u8; 32]).
func EncodeAddressArgs(addr address.Address) []byte {
	w := &writer{}
	w.addr(addr)
	return w.buf
}

// DecodeU64 decodes a u64 return value.
func DecodeU64(data []byte) (uint64, error) {
	r := &reader{buf: data}
	v := r.u64()
	return v, r.done()
}

// DecodeBool decodes a bool return value.
func DecodeBool(data []byte) (bool, error) {
	r := &reader{buf: data}
	v := r.boolean()
	return v, r.done()
}

// DecodeIDs decodes a Vec<u64> return value.
func DecodeIDs(data []byte) ([]uint64, error) {
	r := &reader{buf: data}
	n := r.u32()

	if r.err == nil && uint64(n)*8 > uint64(len(r.buf)) {
		return nil, errShortArgs
	}

	ids := make([]uint64, 0, n)
	for i := uint32(0); i < n; i++ {
		ids = append(ids, r.u64())
	}

	return ids, r.done()
}

// DecodeRecord decodes the return value of get.
func DecodeRecord(data []byte) (Record, error) {
	r := &reader{buf: data}
	rec := Record{
		ID:          r.u64(),
		ContentHash: r.str(),
		Owner:       r.addr(),
		CreatedAt:   int64(r.u64()),
		Exists:      r.boolean(),
	}

	return rec, r.done()
}

func encodeRecord(rec Record) []byte {
	w := &writer{}
	w.u64(rec.ID)
	w.str(rec.ContentHash)
	w.addr(rec.Owner)
	w.u64(uint64(rec.CreatedAt))
	w.boolean(rec.Exists)
	return w.buf
}

func encodeIDs32(ids []uint64) []byte {
	w := &writer{}
	w.u32(uint32(len(ids)))
	for _, id := range ids {
		w.u64(id)
	}
	return w.buf
}
