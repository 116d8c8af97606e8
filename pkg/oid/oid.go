// Package oid implements time-ordered operation identifiers. An OID embeds
// its creation time at one-second resolution, so ordering by raw bytes equals
// ordering by creation time. That property is what cursor pagination and
// age-based cleanup cutoffs rely on.
package oid

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"
)

// Size is the width of the binary representation in bytes.
const Size = 16

// HexSize is the width of the printable transport form.
const HexSize = Size * 2

// OID is a 16-byte identifier: 8 bytes of big-endian unix seconds, 5 bytes
// unique to this process and 3 bytes of a monotonically increasing counter.
type OID [Size]byte

// Zero is the all-zero identifier. It is not a valid generated id.
var Zero OID

var ErrInvalidHex = errors.New("oid: invalid hex identifier")

var (
	processUnique = mustRandomBytes(5)
	counter       = mustRandomCounter()
)

// New returns a fresh identifier stamped with the current time.
func New() OID {
	return NewWithTime(time.Now())
}

// NewWithTime returns a fresh identifier stamped with t. Identifiers created
// within the same second are ordered by the process counter.
func NewWithTime(t time.Time) OID {
	var id OID
	binary.BigEndian.PutUint64(id[0:8], uint64(t.Unix()))
	copy(id[8:13], processUnique)
	seq := atomic.AddUint32(&counter, 1)
	id[13] = byte(seq >> 16)
	id[14] = byte(seq >> 8)
	id[15] = byte(seq)
	return id
}

// FromTime returns the smallest identifier for timestamp t. Every id created
// strictly before t's second compares lower, and every id created at or after
// it compares higher, which makes FromTime usable as an age cutoff without
// consulting stored rows.
func FromTime(t time.Time) OID {
	var id OID
	binary.BigEndian.PutUint64(id[0:8], uint64(t.Unix()))
	return id
}

// FromHex parses the printable form produced by Hex.
func FromHex(s string) (OID, error) {
	if len(s) != HexSize {
		return Zero, ErrInvalidHex
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Zero, ErrInvalidHex
	}
	var id OID
	copy(id[:], raw)
	return id, nil
}

// FromBytes converts a stored binary representation back into an OID.
func FromBytes(raw []byte) (OID, error) {
	if len(raw) != Size {
		return Zero, errors.New("oid: invalid binary identifier")
	}
	var id OID
	copy(id[:], raw)
	return id, nil
}

// Hex returns the printable transport form.
func (id OID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the binary form for storage.
func (id OID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// Time extracts the embedded creation timestamp.
func (id OID) Time() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint64(id[0:8])), 0)
}

// IsZero reports whether the identifier is unset.
func (id OID) IsZero() bool {
	return id == Zero
}

// Compare orders identifiers by creation time, then by process/counter bytes.
func Compare(a, b OID) int {
	return bytes.Compare(a[:], b[:])
}

// MarshalText implements encoding.TextMarshaler using the hex form.
func (id OID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *OID) UnmarshalText(text []byte) error {
	parsed, err := FromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func mustRandomBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("oid: cannot seed process unique bytes: " + err.Error())
	}
	return buf
}

func mustRandomCounter() uint32 {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		panic("oid: cannot seed counter: " + err.Error())
	}
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
}
