package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message is a received HL7v2 message split into segments and fields.
type Message struct {
	Type         string    // MSH-9 message type (e.g. "ACK^O11")
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Encoding     EncodingProfile
	Segments     []ParsedSegment
}

// ParsedSegment is a single segment of a received message.
type ParsedSegment struct {
	Name   string
	Fields []ParsedField
}

// ParsedField keeps the raw (still escaped) field text along with its
// component and repetition split.
type ParsedField struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse parses raw HL7v2 bytes. Delimiters are taken from the MSH segment, and
// \r, \n and \r\n are all accepted as segment terminators.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	lines := splitSegments(string(raw))
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}

	if !strings.HasPrefix(lines[0], HeaderSegmentID) {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	enc, err := delimitersFromHeader(lines[0])
	if err != nil {
		return nil, err
	}

	msg := &Message{Encoding: enc}
	for _, line := range lines {
		seg, err := parseSegment(line, enc)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: failed to parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msg.extractHeaderFields()
	return msg, nil
}

// splitSegments normalizes line endings and drops blank lines. Other
// whitespace is kept: a trailing space can be part of the last field.
func splitSegments(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var out []string
	for _, line := range strings.Split(text, string(SegmentTerminator)) {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// delimitersFromHeader reads MSH-1 and MSH-2 ("MSH|^~\&|...").
func delimitersFromHeader(line string) (EncodingProfile, error) {
	if len(line) < 8 {
		return EncodingProfile{}, fmt.Errorf("hl7v2: MSH segment too short to declare delimiters")
	}
	enc, err := NewEncodingProfile(line[3], line[4], line[5], line[6], line[7])
	if err != nil {
		return EncodingProfile{}, fmt.Errorf("hl7v2: invalid MSH delimiters: %w", err)
	}
	return enc, nil
}

func parseSegment(line string, enc EncodingProfile) (ParsedSegment, error) {
	if len(line) < 3 {
		return ParsedSegment{}, fmt.Errorf("segment too short: %q", line)
	}

	sep := string(enc.field)

	if strings.HasPrefix(line, HeaderSegmentID) {
		// Fields[0] = MSH-1 (the separator), Fields[1] = MSH-2, and so on.
		seg := ParsedSegment{Name: HeaderSegmentID}
		seg.Fields = append(seg.Fields, ParsedField{Value: sep, Components: []string{sep}})
		if len(line) <= 4 {
			return seg, nil
		}
		parts := strings.Split(line[4:], sep)
		// MSH-2 contains the delimiters and is not split.
		seg.Fields = append(seg.Fields, ParsedField{Value: parts[0], Components: []string{parts[0]}})
		for _, part := range parts[1:] {
			seg.Fields = append(seg.Fields, parseField(part, enc))
		}
		return seg, nil
	}

	parts := strings.SplitN(line, sep, 2)
	seg := ParsedSegment{Name: parts[0]}
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], sep) {
			seg.Fields = append(seg.Fields, parseField(f, enc))
		}
	}
	return seg, nil
}

func parseField(raw string, enc EncodingProfile) ParsedField {
	f := ParsedField{Value: raw}
	for _, rep := range strings.Split(raw, string(enc.repetition)) {
		f.Repeats = append(f.Repeats, strings.Split(rep, string(enc.component)))
	}
	f.Components = f.Repeats[0]
	return f
}

func (m *Message) extractHeaderFields() {
	msh := m.GetSegment(HeaderSegmentID)
	if msh == nil {
		return
	}

	m.SendingApp = m.Encoding.Unescape(msh.GetField(3))
	m.SendingFac = m.Encoding.Unescape(msh.GetField(4))
	m.ReceivingApp = m.Encoding.Unescape(msh.GetField(5))
	m.ReceivingFac = m.Encoding.Unescape(msh.GetField(6))

	if ts := msh.GetField(7); ts != "" {
		if t, err := ParseTimestamp(ts); err == nil {
			m.Timestamp = t
		}
	}

	// Message type keeps its component separator (e.g. ACK^O11).
	m.Type = msh.GetField(9)
	m.ControlID = m.Encoding.Unescape(msh.GetField(10))
	m.Version = m.Encoding.Unescape(msh.GetField(12))
}

// ParseTimestamp parses an HL7v2 DTM (YYYYMMDDHHmmss, YYYYMMDDHHmm or
// YYYYMMDD).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse(timestampLayout, s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *ParsedSegment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []ParsedSegment {
	var result []ParsedSegment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

// GetField returns the raw value of a field by 1-based position. For MSH,
// position 1 is the field separator.
func (s *ParsedSegment) GetField(position int) string {
	idx := position - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// GetComponent returns a raw component value by 1-based positions.
func (s *ParsedSegment) GetComponent(fieldPosition, componentPosition int) string {
	idx := fieldPosition - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	comps := s.Fields[idx].Components
	ci := componentPosition - 1
	if ci < 0 || ci >= len(comps) {
		return ""
	}
	return comps[ci]
}

// Text returns the unescaped value of a field.
func (m *Message) Text(seg *ParsedSegment, position int) string {
	return m.Encoding.Unescape(seg.GetField(position))
}

// PatientID returns PID-3.1.
func (m *Message) PatientID() string {
	pid := m.GetSegment("PID")
	if pid == nil {
		return ""
	}
	return m.Encoding.Unescape(pid.GetComponent(3, 1))
}

// PatientName returns the family and given name from PID-5.
func (m *Message) PatientName() (family, given string) {
	pid := m.GetSegment("PID")
	if pid == nil {
		return "", ""
	}
	return m.Encoding.Unescape(pid.GetComponent(5, 1)), m.Encoding.Unescape(pid.GetComponent(5, 2))
}
