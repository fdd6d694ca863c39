package prescription

import (
	"strconv"
	"strings"
	"time"
)

// Typed scalar-to-text conversion for the segment catalog. The encoding
// engine only ever sees the strings produced here.

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102150405"
)

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateTimeLayout)
}

// formatDecimal renders v with the shortest exact representation, so 30
// becomes "30" and 85.5 becomes "85.5".
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatCount renders a count where an unset (zero or negative) value is "0".
func formatCount(n int) string {
	if n <= 0 {
		return "0"
	}
	return strconv.Itoa(n)
}

// substitutionCode maps the substitution flag to HL7 table 0167.
func substitutionCode(allowed bool) string {
	if allowed {
		return "G"
	}
	return "N"
}

// splitName turns free text "Given Middle Family" into its XPN parts. A single
// word is treated as the family name.
func splitName(name string) (family, given, middle string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", "", ""
	case 1:
		return parts[0], "", ""
	}
	return parts[len(parts)-1], parts[0], strings.Join(parts[1:len(parts)-1], " ")
}
