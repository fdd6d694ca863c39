package hl7v2

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeCharset_UTF8(t *testing.T) {
	out, err := EncodeCharset("Müller", "UTF-8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "Müller" {
		t.Errorf("expected passthrough, got %q", out)
	}
}

func TestEncodeCharset_Latin1(t *testing.T) {
	out, err := EncodeCharset("Müller", "8859/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{'M', 0xFC, 'l', 'l', 'e', 'r'}
	if !bytes.Equal(out, want) {
		t.Errorf("expected % X, got % X", want, out)
	}

	back, err := DecodeCharset(out, "8859/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != "Müller" {
		t.Errorf("expected round trip, got %q", back)
	}
}

func TestEncodeCharset_Unrepresentable(t *testing.T) {
	if _, err := EncodeCharset("Ω", "8859/1"); err == nil {
		t.Error("expected error for a character outside Latin-1")
	}
}

func TestEncodeCharset_ASCII(t *testing.T) {
	if _, err := EncodeCharset("plain", "ascii"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := EncodeCharset("café", "ASCII"); err == nil {
		t.Error("expected error for non-ASCII text")
	}
}

func TestEncodeCharset_Unsupported(t *testing.T) {
	if _, err := EncodeCharset("x", "ISO IR87"); err == nil {
		t.Error("expected error for unsupported charset")
	}
	if SupportedCharset("ISO IR87") {
		t.Error("expected ISO IR87 to be unsupported")
	}
	if !SupportedCharset(" 8859/15 ") {
		t.Error("expected 8859/15 to be supported")
	}
	if !SupportedCharset("") {
		t.Error("expected empty label to be supported")
	}
}

func TestEncodeCharset_ErrorKinds(t *testing.T) {
	if _, err := EncodeCharset("Ω", "8859/1"); !errors.Is(err, ErrUnrepresentable) {
		t.Errorf("expected ErrUnrepresentable, got %v", err)
	}
	if _, err := EncodeCharset("x", "ISO IR87"); !errors.Is(err, ErrUnsupportedCharset) {
		t.Errorf("expected ErrUnsupportedCharset, got %v", err)
	}
	if _, err := DecodeCharset([]byte("x"), "EBCDIC"); !errors.Is(err, ErrUnsupportedCharset) {
		t.Errorf("expected ErrUnsupportedCharset, got %v", err)
	}
}
