package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestUnconfiguredIsPassThrough(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Configured() {
		t.Fatal("empty key must not configure the sealer")
	}
	out, _ := s.Encrypt([]byte("%PDF"))
	if string(out) != "%PDF" {
		t.Fatalf("expected pass-through, got %q", out)
	}
}

func TestRoundTripWithHexKey(t *testing.T) {
	s, err := New(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plain := []byte("%PDF-1.3 report body")
	sealed, err := s.Encrypt(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatal("ciphertext leaks plaintext")
	}
	opened, err := s.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestRawKeyAndLengthCheck(t *testing.T) {
	if _, err := New(strings.Repeat("k!", 16)); err != nil {
		t.Fatalf("32 raw bytes should be accepted: %v", err)
	}
	if _, err := New("short"); err == nil {
		t.Fatal("expected length error")
	}
}

func TestDecryptRejectsTruncated(t *testing.T) {
	s, _ := New(strings.Repeat("k!", 16))
	if _, err := s.Decrypt([]byte{1, 2}); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}
