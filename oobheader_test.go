package oobd

import "testing"

func TestParseOOBHeaderSinglePair(t *testing.T) {
	got := ParseOOBHeader("uuid 'boot-123';")
	if got[HeaderKeyBootID] != "boot-123" {
		t.Fatalf("boot id not parsed: %v", got)
	}
}

func TestParseOOBHeaderMultiplePairs(t *testing.T) {
	got := ParseOOBHeader("uuid 'boot-123'; fw 'v2.1.0';")
	if len(got) != 2 || got["uuid"] != "boot-123" || got["fw"] != "v2.1.0" {
		t.Fatalf("pairs not parsed: %v", got)
	}
}

func TestParseOOBHeaderNormalizesKeyCase(t *testing.T) {
	got := ParseOOBHeader("UUID 'boot-123'")
	if got["uuid"] != "boot-123" {
		t.Fatalf("key case not normalized: %v", got)
	}
}

func TestParseOOBHeaderSkipsMalformedPairs(t *testing.T) {
	for _, value := range []string{
		"",
		";;;",
		"uuid",
		"uuid boot-123",
		"uuid 'unterminated",
		"uuid '",
	} {
		got := ParseOOBHeader(value)
		if len(got) != 0 {
			t.Fatalf("value %q should parse to empty map, got %v", value, got)
		}
	}

	// A malformed pair must not poison well-formed neighbors.
	got := ParseOOBHeader("bad; uuid 'boot-123';")
	if len(got) != 1 || got["uuid"] != "boot-123" {
		t.Fatalf("well-formed pair lost: %v", got)
	}
}

func TestParseOOBHeaderEmptyValue(t *testing.T) {
	got := ParseOOBHeader("uuid ''")
	value, present := got["uuid"]
	if !present || value != "" {
		t.Fatalf("empty quoted value should parse: %v", got)
	}
}
