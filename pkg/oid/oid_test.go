package oid

import (
	"testing"
	"time"
)

func TestNewIsUniqueAndOrdered(t *testing.T) {
	seen := make(map[OID]struct{}, 1000)
	prev := New()
	seen[prev] = struct{}{}
	for i := 0; i < 999; i++ {
		id := New()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id generated: %s", id.Hex())
		}
		seen[id] = struct{}{}
		if Compare(prev, id) >= 0 {
			t.Fatalf("ids not increasing: %s then %s", prev.Hex(), id.Hex())
		}
		prev = id
	}
}

func TestHexRoundTrip(t *testing.T) {
	id := New()
	hexForm := id.Hex()
	if len(hexForm) != HexSize {
		t.Fatalf("unexpected hex length %d", len(hexForm))
	}
	parsed, err := FromHex(hexForm)
	if err != nil {
		t.Fatalf("parse hex failed: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %s != %s", parsed.Hex(), hexForm)
	}
}

func TestFromHexRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "abc", "zz000000000000000000000000000000", "00112233445566778899aabbccddeeff00"} {
		if _, err := FromHex(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestTimeExtraction(t *testing.T) {
	stamp := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	id := NewWithTime(stamp)
	if !id.Time().Equal(stamp) {
		t.Fatalf("embedded time %v does not match %v", id.Time(), stamp)
	}
}

func TestFromTimeIsCutoff(t *testing.T) {
	cutoff := time.Now()
	older := NewWithTime(cutoff.Add(-time.Minute))
	newer := NewWithTime(cutoff.Add(time.Minute))
	boundary := FromTime(cutoff)

	if Compare(older, boundary) >= 0 {
		t.Fatal("id from before the cutoff should compare lower")
	}
	if Compare(newer, boundary) <= 0 {
		t.Fatal("id from after the cutoff should compare higher")
	}
	// An id stamped in the cutoff second itself is not "older than" the cutoff.
	same := NewWithTime(cutoff)
	if Compare(same, boundary) < 0 {
		t.Fatal("id within the cutoff second must not fall below the boundary")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	id := New()
	parsed, err := FromBytes(id.Bytes())
	if err != nil {
		t.Fatalf("from bytes failed: %v", err)
	}
	if parsed != id {
		t.Fatal("binary round trip mismatch")
	}
	if _, err := FromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short binary form")
	}
}

func TestZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Fatal("Zero must report IsZero")
	}
	if New().IsZero() {
		t.Fatal("generated id must not be zero")
	}
}
