package crypto

import "testing"

func TestCanonicalizeSortsKeys(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"timestamp": "2024-01-01T00:00:00Z",
		"index":     int64(3),
		"payload":   map[string]string{"record_id": "REC001", "kind": "CREATE"},
		"nonce":     uint64(17),
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"index":3,"nonce":17,"payload":{"kind":"CREATE","record_id":"REC001"},"timestamp":"2024-01-01T00:00:00Z"}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeRejectsFloats(t *testing.T) {
	if _, err := Canonicalize(map[string]any{"x": 1.5}); err == nil {
		t.Fatal("expected error for float value")
	}
}

func TestCanonicalizeStringsEscapes(t *testing.T) {
	got := string(CanonicalizeStrings(map[string]string{"b": "line\nbreak", "a": "quote\"", "c": "\x01"}))
	want := `{"a":"quote\"","b":"line\nbreak","c":"\u0001"}`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeStringsKeepsInvalidBytesDistinct(t *testing.T) {
	ff := string(CanonicalizeStrings(map[string]string{"diagnosis": "dx\xff"}))
	fe := string(CanonicalizeStrings(map[string]string{"diagnosis": "dx\xfe"}))
	replacement := string(CanonicalizeStrings(map[string]string{"diagnosis": "dx\ufffd"}))
	if ff == fe || ff == replacement {
		t.Fatalf("expected distinct encodings, got %s %s %s", ff, fe, replacement)
	}
	if want := `{"diagnosis":"dx\u00ff"}`; ff != want {
		t.Fatalf("expected %s, got %s", want, ff)
	}
	if got, want := QuoteString("fièvre"), `"fièvre"`; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestSHA256Hex(t *testing.T) {
	got := SHA256Hex([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
