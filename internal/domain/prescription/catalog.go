package prescription

import (
	"strconv"
	"time"

	"github.com/ehr/rxhl7/internal/platform/hl7v2"
)

// Observation codes written to OBX-3.
const (
	loincBodyWeight = "3141-9"
	loincBodyHeight = "8302-2"
)

// segmentWriter fills one segment and keeps the first write error, so a
// catalog function can list its positions without checking every call.
type segmentWriter struct {
	seg *hl7v2.Segment
	err error
}

func newSegmentWriter(enc hl7v2.EncodingProfile, id string) *segmentWriter {
	return &segmentWriter{seg: hl7v2.NewSegment(id, enc)}
}

func (w *segmentWriter) field(position int, value string) {
	if w.err == nil {
		w.err = w.seg.SetField(value, position)
	}
}

// composite writes values as consecutive components of one field.
func (w *segmentWriter) composite(position int, values ...string) {
	for i, v := range values {
		if w.err != nil {
			return
		}
		w.err = w.seg.SetComponent(v, position, i+1)
	}
}

// padTo makes the segment at least n fields long.
func (w *segmentWriter) padTo(n int) {
	if w.seg.Len() < n {
		w.field(n, "")
	}
}

func (w *segmentWriter) done() (*hl7v2.Segment, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.seg, nil
}

// PatientSegment builds PID. Names are written surname first.
func PatientSegment(enc hl7v2.EncodingProfile, p Patient, facility string) (*hl7v2.Segment, error) {
	if p.ID == "" {
		return nil, &hl7v2.MalformedInputError{Object: "patient", Attribute: "id"}
	}
	family, given, middle := splitName(p.Name)

	w := newSegmentWriter(enc, "PID")
	w.field(1, "1")
	w.composite(3, p.ID, "", facility, "MR")
	w.composite(5, family, given, middle)
	w.field(7, formatDate(p.DateOfBirth))
	w.field(8, p.Gender)
	w.padTo(30)
	return w.done()
}

// ObservationSegments builds one OBX per recorded body measurement, weight
// first. Set IDs start at 1.
func ObservationSegments(enc hl7v2.EncodingProfile, p Patient, observedAt time.Time) ([]*hl7v2.Segment, error) {
	type measurement struct {
		code, text string
		value      *float64
		unit       string
	}
	measurements := []measurement{
		{loincBodyWeight, "Body weight Measured", p.WeightKg, "kg"},
		{loincBodyHeight, "Body height", p.HeightCm, "cm"},
	}

	var out []*hl7v2.Segment
	for _, m := range measurements {
		if m.value == nil || *m.value == 0 {
			continue
		}
		w := newSegmentWriter(enc, "OBX")
		w.field(1, strconv.Itoa(len(out)+1))
		w.field(2, "NM")
		w.composite(3, m.code, m.text, "LN")
		w.field(5, formatDecimal(*m.value))
		w.field(6, m.unit)
		w.field(11, "F")
		w.field(14, formatDateTime(observedAt))
		w.padTo(16)
		seg, err := w.done()
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// VisitSegment builds PV1. An empty class defaults to outpatient.
func VisitSegment(enc hl7v2.EncodingProfile, class string) (*hl7v2.Segment, error) {
	if class == "" {
		class = "O"
	}
	w := newSegmentWriter(enc, "PV1")
	w.field(1, "1")
	w.field(2, class)
	w.padTo(50)
	return w.done()
}

// OrderSegment builds ORC for a new order. The transaction time is the
// prescription date, or fallback when the date is unset.
func OrderSegment(enc hl7v2.EncodingProfile, info Info, prescriber Prescriber, fallback time.Time) (*hl7v2.Segment, error) {
	if info.ID == "" {
		return nil, &hl7v2.MalformedInputError{Object: "prescription", Attribute: "id"}
	}
	transaction := info.Date
	if transaction.IsZero() {
		transaction = fallback
	}
	priority := "R"
	if info.Urgent {
		priority = "S"
	}

	w := newSegmentWriter(enc, "ORC")
	w.field(1, "NW")
	w.field(2, info.ID)
	w.field(5, "SC")
	w.composite(7, "", "", "", "", "", priority)
	w.field(9, formatDateTime(transaction))
	if prescriber.ID != "" || prescriber.Name != "" {
		w.composite(12, prescriber.Name, prescriber.ID)
	}
	w.padTo(16)
	return w.done()
}

// InsuranceSegment builds IN1. It returns nil when no insurance is recorded.
func InsuranceSegment(enc hl7v2.EncodingProfile, info Info) (*hl7v2.Segment, error) {
	ins := info.Insurance
	if ins == nil || (ins.ID == "" && ins.Name == "") {
		return nil, nil
	}
	w := newSegmentWriter(enc, "IN1")
	w.field(1, "1")
	w.field(2, ins.ID)
	w.field(4, ins.Name)
	w.field(15, info.PaymentType)
	return w.done()
}

// EncodedOrderSegment builds RXE for one medication. A pharmacy with an ID is
// written as the dispensing pharmacy.
func EncodedOrderSegment(enc hl7v2.EncodingProfile, m MedicationOrder, pharmacy Pharmacy) (*hl7v2.Segment, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	var timing []string
	if m.Frequency != "" {
		timing = append(timing, m.Frequency)
	}
	if m.Start != nil {
		timing = append(timing, formatDateTime(*m.Start))
	}
	if m.DurationDays > 0 {
		timing = append(timing, strconv.Itoa(m.DurationDays), "D")
	}
	if m.End != nil {
		timing = append(timing, formatDateTime(*m.End))
	}

	instructions := m.DosageInstruction
	if m.SpecialInstructions != "" {
		instructions += "; " + m.SpecialInstructions
	}

	w := newSegmentWriter(enc, "RXE")
	if len(timing) > 0 {
		w.composite(1, timing...)
	} else {
		w.field(1, "")
	}
	w.composite(2, m.Code, m.Name, "NDC")
	w.field(3, formatDecimal(m.Quantity))
	w.field(5, m.Unit)
	w.field(6, describe(medicationForm, m.Form))
	w.field(7, instructions)
	w.field(9, substitutionCode(m.SubstitutionAllowed))
	w.field(10, formatDecimal(m.Quantity))
	w.field(11, m.Unit)
	w.field(12, formatCount(m.Refills))
	w.field(16, formatCount(m.Refills))
	w.field(17, "0")
	w.field(22, "DOSE")
	w.padTo(30)
	if pharmacy.ID != "" {
		w.composite(40, pharmacy.ID, pharmacy.Name)
		w.field(41, pharmacy.Address)
	}
	return w.done()
}

// RouteSegment builds RXR from a table 0162 route code.
func RouteSegment(enc hl7v2.EncodingProfile, route string) (*hl7v2.Segment, error) {
	if route == "" {
		return nil, &hl7v2.MalformedInputError{Object: "medication", Attribute: "route"}
	}
	w := newSegmentWriter(enc, "RXR")
	w.composite(1, route, describe(routeOfAdministration, route), "HL70162")
	w.padTo(6)
	return w.done()
}

// DispenseSegment builds RXD for the n-th medication (1-based).
func DispenseSegment(enc hl7v2.EncodingProfile, m MedicationOrder, n int, dispensedAt time.Time) (*hl7v2.Segment, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	w := newSegmentWriter(enc, "RXD")
	w.field(1, strconv.Itoa(n))
	w.composite(2, m.Code, m.Name, "NDC")
	w.field(3, formatDateTime(dispensedAt))
	w.field(4, formatDecimal(m.Quantity))
	w.field(5, m.Unit)
	w.field(6, describe(medicationForm, m.Form))
	w.field(8, formatCount(m.Refills))
	w.field(11, substitutionCode(m.SubstitutionAllowed))
	w.field(16, m.Strength)
	w.padTo(38)
	return w.done()
}

// DiagnosisSegments builds one DG1 per diagnosis, coded in ICD-10.
func DiagnosisSegments(enc hl7v2.EncodingProfile, diagnoses []Diagnosis, recordedAt time.Time) ([]*hl7v2.Segment, error) {
	out := make([]*hl7v2.Segment, 0, len(diagnoses))
	for i, d := range diagnoses {
		if d.Code == "" {
			return nil, &hl7v2.MalformedInputError{Object: "diagnosis", Attribute: "code"}
		}
		w := newSegmentWriter(enc, "DG1")
		w.field(1, strconv.Itoa(i+1))
		w.field(2, "I10")
		w.composite(3, d.Code, d.Description, "I10")
		w.field(5, formatDateTime(recordedAt))
		w.field(6, "W")
		w.padTo(21)
		seg, err := w.done()
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// AllergySegments builds one AL1 per drug allergy.
func AllergySegments(enc hl7v2.EncodingProfile, allergies []string) ([]*hl7v2.Segment, error) {
	out := make([]*hl7v2.Segment, 0, len(allergies))
	for i, allergen := range allergies {
		w := newSegmentWriter(enc, "AL1")
		w.field(1, strconv.Itoa(i+1))
		w.field(2, "DA")
		w.field(3, allergen)
		w.padTo(6)
		seg, err := w.done()
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// NoteSegment builds NTE. Source P marks an ordering-provider comment.
func NoteSegment(enc hl7v2.EncodingProfile, setID int, source, comment string) (*hl7v2.Segment, error) {
	w := newSegmentWriter(enc, "NTE")
	w.field(1, strconv.Itoa(setID))
	w.field(2, source)
	w.field(3, comment)
	return w.done()
}
