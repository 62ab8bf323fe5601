package fields

import (
	"bytes"
	"testing"
)

func TestCanonicalFieldName(t *testing.T) {
	cases := map[string]string{
		"content-type":   "Content-Type",
		"CONTENT-LENGTH": "Content-Length",
		"Host":           "Host",
		"x-custom-id":    "X-Custom-Id",
	}
	for in, want := range cases {
		if got := CanonicalFieldName(in); got != want {
			t.Errorf("CanonicalFieldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalFieldNameUsesWellKnownConstants(t *testing.T) {
	if got := CanonicalFieldName("content-length"); got != ContentLength {
		t.Fatalf("CanonicalFieldName(\"content-length\") = %q, want %q", got, ContentLength)
	}
}

func TestBlockAddCountHasGet(t *testing.T) {
	var b Block
	b.Add("Set-Cookie", "a=1")
	b.Add("set-cookie", "b=2")
	b.Add("Host", "example.com")

	if !b.Has("Set-Cookie") {
		t.Fatalf("Has(Set-Cookie) = false, want true")
	}
	if got := b.Count("Set-Cookie"); got != 2 {
		t.Fatalf("Count(Set-Cookie) = %d, want 2", got)
	}
	if got := b.Get("Host"); got != "example.com" {
		t.Fatalf("Get(Host) = %q, want example.com", got)
	}
	v, ok := b.Value("Set-Cookie", 1)
	if !ok || v != "b=2" {
		t.Fatalf("Value(Set-Cookie, 1) = (%q, %v), want (b=2, true)", v, ok)
	}
	if got := b.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
}

func TestBlockSetReplacesAllValues(t *testing.T) {
	var b Block
	b.Add("X-A", "1")
	b.Add("X-A", "2")
	b.Set("X-A", "final")

	if got := b.Count("X-A"); got != 1 {
		t.Fatalf("Count(X-A) after Set = %d, want 1", got)
	}
	if got := b.Get("X-A"); got != "final" {
		t.Fatalf("Get(X-A) after Set = %q, want final", got)
	}
}

func TestBlockWriteWireExcludesNames(t *testing.T) {
	var b Block
	b.Add("Content-Type", "text/plain")
	b.Add("Server", "kourier")

	var buf bytes.Buffer
	if err := b.WriteWire(&buf, map[string]bool{"Server": true}); err != nil {
		t.Fatalf("WriteWire: %v", err)
	}
	want := "Content-Type: text/plain\r\n"
	if buf.String() != want {
		t.Fatalf("WriteWire() = %q, want %q", buf.String(), want)
	}
}

func TestTrimOWS(t *testing.T) {
	if got := TrimOWS("  value \t "); got != "value" {
		t.Fatalf("TrimOWS() = %q, want %q", got, "value")
	}
	if got := TrimOWS("no-surrounding-ws"); got != "no-surrounding-ws" {
		t.Fatalf("TrimOWS() = %q, want unchanged", got)
	}
}

func TestValidFieldNameAndValue(t *testing.T) {
	if !ValidFieldName("X-Custom") {
		t.Fatalf("ValidFieldName(X-Custom) = false, want true")
	}
	if ValidFieldName("bad name") {
		t.Fatalf("ValidFieldName with a space should be false")
	}
	if !ValidFieldValue("plain value 123") {
		t.Fatalf("ValidFieldValue() = false, want true")
	}
	if ValidFieldValue("has\x00null") {
		t.Fatalf("ValidFieldValue with a NUL byte should be false")
	}
}
