package prescription

import (
	"testing"
	"time"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		name                  string
		family, given, middle string
	}{
		{"John Doe", "Doe", "John", ""},
		{"Mary Ann Smith", "Smith", "Mary", "Ann"},
		{"Jean Paul Marie Dupont", "Dupont", "Jean", "Paul Marie"},
		{"Cher", "Cher", "", ""},
		{"  John   Doe  ", "Doe", "John", ""},
		{"", "", "", ""},
	}
	for _, tt := range tests {
		f, g, m := splitName(tt.name)
		if f != tt.family || g != tt.given || m != tt.middle {
			t.Errorf("splitName(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tt.name, f, g, m, tt.family, tt.given, tt.middle)
		}
	}
}

func TestFormatDecimal(t *testing.T) {
	tests := map[float64]string{
		30:     "30",
		85.5:   "85.5",
		0.25:   "0.25",
		0:      "0",
		1000.0: "1000",
	}
	for in, want := range tests {
		if got := formatDecimal(in); got != want {
			t.Errorf("formatDecimal(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatCount(t *testing.T) {
	if got := formatCount(0); got != "0" {
		t.Errorf("expected 0, got %q", got)
	}
	if got := formatCount(-2); got != "0" {
		t.Errorf("expected 0 for negative, got %q", got)
	}
	if got := formatCount(3); got != "3" {
		t.Errorf("expected 3, got %q", got)
	}
}

func TestFormatDates(t *testing.T) {
	ts := time.Date(2024, 12, 10, 9, 30, 5, 0, time.UTC)
	if got := formatDate(ts); got != "20241210" {
		t.Errorf("formatDate = %q", got)
	}
	if got := formatDateTime(ts); got != "20241210093005" {
		t.Errorf("formatDateTime = %q", got)
	}
	if formatDate(time.Time{}) != "" || formatDateTime(time.Time{}) != "" {
		t.Error("zero time must format as empty")
	}
}

func TestSubstitutionCode(t *testing.T) {
	if substitutionCode(true) != "G" || substitutionCode(false) != "N" {
		t.Error("expected G when substitution is allowed and N otherwise")
	}
}

func TestTableLookups(t *testing.T) {
	if describe(routeOfAdministration, "PO") != "Oral" {
		t.Error("expected PO to describe as Oral")
	}
	if describe(routeOfAdministration, "XYZ") != "XYZ" {
		t.Error("unknown code must describe as itself")
	}
	if !KnownRoute("IV") || KnownRoute("XYZ") {
		t.Error("KnownRoute mismatch")
	}
	if !KnownUnit("TAB") || KnownUnit("BOX") {
		t.Error("KnownUnit mismatch")
	}
	if !KnownSex("F") || KnownSex("X") {
		t.Error("KnownSex mismatch")
	}
	if !KnownPatientClass("O") || KnownPatientClass("Z") {
		t.Error("KnownPatientClass mismatch")
	}
}
