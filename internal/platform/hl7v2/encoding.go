package hl7v2

import (
	"fmt"
	"strings"
)

// SegmentTerminator separates segments in a serialized message.
const SegmentTerminator = '\r'

// Escape sequence type codes (HL7 v2 section 2.7).
const (
	escFieldCode        = 'F'
	escComponentCode    = 'S'
	escRepetitionCode   = 'R'
	escEscapeCode       = 'E'
	escSubcomponentCode = 'T'
)

// EncodingProfile holds the five delimiter characters used to encode a message.
// The zero value is not usable; obtain one from DefaultEncoding or
// NewEncodingProfile.
type EncodingProfile struct {
	field        byte
	component    byte
	repetition   byte
	escape       byte
	subcomponent byte
}

// DefaultEncoding returns the standard |^~\& profile.
func DefaultEncoding() EncodingProfile {
	return EncodingProfile{
		field:        '|',
		component:    '^',
		repetition:   '~',
		escape:       '\\',
		subcomponent: '&',
	}
}

// NewEncodingProfile builds a profile from custom delimiters. All five must be
// distinct printable ASCII punctuation. Letters and digits are refused since
// they would appear inside escape sequences.
func NewEncodingProfile(field, component, repetition, escape, subcomponent byte) (EncodingProfile, error) {
	delims := []byte{field, component, repetition, escape, subcomponent}
	seen := make(map[byte]bool, len(delims))
	for _, d := range delims {
		if d == SegmentTerminator || d == '\n' {
			return EncodingProfile{}, fmt.Errorf("hl7v2: delimiter %q collides with the segment terminator", d)
		}
		if d <= ' ' || d >= 0x7f {
			return EncodingProfile{}, fmt.Errorf("hl7v2: delimiter %q is not a printable ASCII character", d)
		}
		if isAlphanumeric(d) {
			return EncodingProfile{}, fmt.Errorf("hl7v2: delimiter %q is a letter or digit", d)
		}
		if seen[d] {
			return EncodingProfile{}, fmt.Errorf("hl7v2: delimiter %q is used more than once", d)
		}
		seen[d] = true
	}
	return EncodingProfile{
		field:        field,
		component:    component,
		repetition:   repetition,
		escape:       escape,
		subcomponent: subcomponent,
	}, nil
}

func (e EncodingProfile) FieldSeparator() byte        { return e.field }
func (e EncodingProfile) ComponentSeparator() byte    { return e.component }
func (e EncodingProfile) RepetitionSeparator() byte   { return e.repetition }
func (e EncodingProfile) EscapeCharacter() byte       { return e.escape }
func (e EncodingProfile) SubcomponentSeparator() byte { return e.subcomponent }

// EncodingCharacters returns the MSH-2 value: component, repetition, escape
// and subcomponent characters, in that order.
func (e EncodingProfile) EncodingCharacters() string {
	return string([]byte{e.component, e.repetition, e.escape, e.subcomponent})
}

// String returns all five delimiters starting with the field separator.
func (e EncodingProfile) String() string {
	return string(e.field) + e.EncodingCharacters()
}

// Escape replaces every delimiter in raw with its escape sequence. It walks the
// input once, so the escape sequences it emits are never re-escaped.
func (e EncodingProfile) Escape(raw string) string {
	if raw == "" || !e.containsDelimiter(raw) {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw) + 8)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		code, ok := e.escapeCode(c)
		if !ok {
			b.WriteByte(c)
			continue
		}
		b.WriteByte(e.escape)
		b.WriteByte(code)
		b.WriteByte(e.escape)
	}
	return b.String()
}

// Unescape reverses Escape. Escape sequences it does not recognise (for
// example \H\ highlighting or \X..\ hex data) are copied through unchanged.
func (e EncodingProfile) Unescape(escaped string) string {
	if strings.IndexByte(escaped, e.escape) < 0 {
		return escaped
	}

	var b strings.Builder
	b.Grow(len(escaped))
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c != e.escape || i+2 >= len(escaped) || escaped[i+2] != e.escape {
			b.WriteByte(c)
			continue
		}
		if d, ok := e.delimiterFor(escaped[i+1]); ok {
			b.WriteByte(d)
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (e EncodingProfile) escapeCode(c byte) (byte, bool) {
	switch c {
	case e.field:
		return escFieldCode, true
	case e.component:
		return escComponentCode, true
	case e.repetition:
		return escRepetitionCode, true
	case e.escape:
		return escEscapeCode, true
	case e.subcomponent:
		return escSubcomponentCode, true
	}
	return 0, false
}

func (e EncodingProfile) delimiterFor(code byte) (byte, bool) {
	switch code {
	case escFieldCode:
		return e.field, true
	case escComponentCode:
		return e.component, true
	case escRepetitionCode:
		return e.repetition, true
	case escEscapeCode:
		return e.escape, true
	case escSubcomponentCode:
		return e.subcomponent, true
	}
	return 0, false
}

func (e EncodingProfile) containsDelimiter(s string) bool {
	return strings.ContainsAny(s, e.String())
}

// structural reports the delimiters that may never appear in an escaped value.
func (e EncodingProfile) structural() string {
	return string([]byte{e.field, e.component, e.repetition, e.subcomponent})
}

func isAlphanumeric(b byte) bool {
	return ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

func (e EncodingProfile) valid() bool {
	return e.field != 0 && e.component != 0 && e.repetition != 0 && e.escape != 0 && e.subcomponent != 0
}
