package hl7v2

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// charsets maps HL7 table 0211 labels to single-byte encodings.
var charsets = map[string]*charmap.Charmap{
	"8859/1":  charmap.ISO8859_1,
	"8859/2":  charmap.ISO8859_2,
	"8859/3":  charmap.ISO8859_3,
	"8859/4":  charmap.ISO8859_4,
	"8859/5":  charmap.ISO8859_5,
	"8859/6":  charmap.ISO8859_6,
	"8859/7":  charmap.ISO8859_7,
	"8859/8":  charmap.ISO8859_8,
	"8859/9":  charmap.ISO8859_9,
	"8859/15": charmap.ISO8859_15,
}

// SupportedCharset reports whether EncodeCharset understands label.
func SupportedCharset(label string) bool {
	switch normalizeCharset(label) {
	case "", "UTF-8", "UNICODE UTF-8", "ASCII":
		return true
	}
	_, ok := charsets[normalizeCharset(label)]
	return ok
}

// EncodeCharset converts UTF-8 message text to the bytes of the character set
// named in MSH-18. Characters the target cannot represent are an error.
func EncodeCharset(text, label string) ([]byte, error) {
	name := normalizeCharset(label)
	switch name {
	case "", "UTF-8", "UNICODE UTF-8":
		if !utf8.ValidString(text) {
			return nil, fmt.Errorf("%w: message is not valid UTF-8", ErrUnrepresentable)
		}
		return []byte(text), nil
	case "ASCII":
		for i, r := range text {
			if r >= utf8.RuneSelf {
				return nil, fmt.Errorf("%w: character %q at byte %d is not ASCII", ErrUnrepresentable, r, i)
			}
		}
		return []byte(text), nil
	}

	cm, ok := charsets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCharset, label)
	}
	out, err := cm.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnrepresentable, label, err)
	}
	return out, nil
}

// DecodeCharset converts bytes received in the named character set to UTF-8.
func DecodeCharset(data []byte, label string) (string, error) {
	name := normalizeCharset(label)
	switch name {
	case "", "UTF-8", "UNICODE UTF-8", "ASCII":
		return string(data), nil
	}
	cm, ok := charsets[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCharset, label)
	}
	out, err := cm.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("hl7v2: decode from %s: %w", label, err)
	}
	return string(out), nil
}

func normalizeCharset(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}
