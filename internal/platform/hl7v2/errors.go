package hl7v2

import (
	"errors"
	"fmt"
)

// ErrSealed is returned when a segment is appended to an assembler that has
// already been serialized.
var ErrSealed = errors.New("hl7v2: assembler is sealed")

var (
	// ErrUnsupportedCharset is returned for an MSH-18 value with no known
	// encoding.
	ErrUnsupportedCharset = errors.New("hl7v2: unsupported character set")
	// ErrUnrepresentable is returned when text holds characters the target
	// character set cannot encode.
	ErrUnrepresentable = errors.New("hl7v2: text not representable in character set")
	// ErrTransport wraps every dial, write and read failure of the MLLP
	// client.
	ErrTransport = errors.New("mllp")
)

// InvalidPositionError reports a field or component position below 1.
type InvalidPositionError struct {
	Segment      string
	Field        int
	Component    int
	HasComponent bool
}

func (e *InvalidPositionError) Error() string {
	if e.HasComponent {
		return fmt.Sprintf("hl7v2: invalid position %s-%d.%d: positions start at 1", e.Segment, e.Field, e.Component)
	}
	return fmt.Sprintf("hl7v2: invalid position %s-%d: positions start at 1", e.Segment, e.Field)
}

// MalformedInputError reports a domain object missing an attribute that a
// segment depends on.
type MalformedInputError struct {
	Object    string
	Attribute string
	Reason    string
}

func (e *MalformedInputError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	return fmt.Sprintf("hl7v2: malformed input: %s.%s %s", e.Object, e.Attribute, reason)
}

// EscapingInvariantError signals that a structural delimiter survived
// escaping. It is raised with panic: it can only result from a bug.
type EscapingInvariantError struct {
	Segment  string
	Position int
	Value    string
}

func (e *EscapingInvariantError) Error() string {
	return fmt.Sprintf("hl7v2: unescaped delimiter in %s-%d: %q", e.Segment, e.Position, e.Value)
}

// IsMalformedInput reports whether err wraps a MalformedInputError.
func IsMalformedInput(err error) bool {
	var mi *MalformedInputError
	return errors.As(err, &mi)
}

// IsInvalidPosition reports whether err wraps an InvalidPositionError.
func IsInvalidPosition(err error) bool {
	var ip *InvalidPositionError
	return errors.As(err, &ip)
}
