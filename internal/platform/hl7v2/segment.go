package hl7v2

import (
	"strings"
)

// HeaderSegmentID is the tag of the message header segment.
const HeaderSegmentID = "MSH"

// Segment is one positional line of an outgoing message. Field values are
// stored escaped; position 1 lives at index 0 and gaps are backfilled with
// empty strings. A Segment is not safe for concurrent mutation.
type Segment struct {
	id     string
	enc    EncodingProfile
	fields []string
}

// NewSegment creates an empty segment tagged id that escapes with enc.
func NewSegment(id string, enc EncodingProfile) *Segment {
	if !enc.valid() {
		enc = DefaultEncoding()
	}
	return &Segment{id: id, enc: enc}
}

// ID returns the segment tag (e.g. "PID").
func (s *Segment) ID() string { return s.id }

// Encoding returns the profile the segment escapes with.
func (s *Segment) Encoding() EncodingProfile { return s.enc }

// Len returns the highest populated field position.
func (s *Segment) Len() int { return len(s.fields) }

// Field returns the stored (escaped) value at the 1-based position, or "" when
// the position has never been written.
func (s *Segment) Field(position int) string {
	if position < 1 || position > len(s.fields) {
		return ""
	}
	return s.fields[position-1]
}

// Component returns the stored value of one component of a field.
func (s *Segment) Component(fieldPosition, componentPosition int) string {
	if componentPosition < 1 {
		return ""
	}
	comps := s.components(s.Field(fieldPosition))
	if componentPosition > len(comps) {
		return ""
	}
	return comps[componentPosition-1]
}

// Fields returns a copy of the stored field values.
func (s *Segment) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// SetField escapes value and writes it at the 1-based position, backfilling
// any gap with empty fields. Writing an existing position overwrites it.
func (s *Segment) SetField(value string, position int) error {
	if position < 1 {
		return &InvalidPositionError{Segment: s.id, Field: position}
	}
	escaped := s.Escape(value)
	s.assertEscaped(position, escaped)
	s.put(position, escaped)
	return nil
}

// SetComponent escapes value and writes it as one component of a field,
// padding the field's component list as needed. Existing trailing components
// are kept.
func (s *Segment) SetComponent(value string, fieldPosition, componentPosition int) error {
	if fieldPosition < 1 || componentPosition < 1 {
		return &InvalidPositionError{
			Segment:      s.id,
			Field:        fieldPosition,
			Component:    componentPosition,
			HasComponent: true,
		}
	}

	escaped := s.Escape(value)
	s.assertEscaped(fieldPosition, escaped)

	comps := s.components(s.Field(fieldPosition))
	for len(comps) < componentPosition {
		comps = append(comps, "")
	}
	comps[componentPosition-1] = escaped

	s.put(fieldPosition, strings.Join(comps, string(s.enc.component)))
	return nil
}

// Escape returns raw with every delimiter replaced by its escape sequence.
func (s *Segment) Escape(raw string) string {
	return s.enc.Escape(raw)
}

// Serialize renders the segment as tag, field separator and the
// separator-joined fields. MSH-1 is the field separator itself, so for the
// header segment the stored MSH-1 is not emitted a second time.
func (s *Segment) Serialize() string {
	sep := string(s.enc.field)
	fields := s.fields
	if s.id == HeaderSegmentID && len(fields) > 0 {
		fields = fields[1:]
	}

	var b strings.Builder
	b.WriteString(s.id)
	b.WriteString(sep)
	b.WriteString(strings.Join(fields, sep))
	return b.String()
}

// setRaw stores value verbatim. Only the header's MSH-1 and MSH-2 need this.
func (s *Segment) setRaw(value string, position int) {
	s.put(position, value)
}

func (s *Segment) put(position int, value string) {
	for len(s.fields) < position {
		s.fields = append(s.fields, "")
	}
	s.fields[position-1] = value
}

func (s *Segment) components(field string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, string(s.enc.component))
}

func (s *Segment) assertEscaped(position int, escaped string) {
	if strings.ContainsAny(escaped, s.enc.structural()) {
		panic(&EscapingInvariantError{Segment: s.id, Position: position, Value: escaped})
	}
}
