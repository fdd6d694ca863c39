package prescription

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ehr/rxhl7/internal/platform/hl7v2"
)

const sampleJSON = `{
  "message_ref": "EDI-0001",
  "prescription_id": "RX-1",
  "prescription_date": "20241210",
  "urgent": true,
  "payment_type": "INSURANCE",
  "insurance_info": {"id": "INS-123", "name": "Acme Health"},
  "clinical_notes": "Take with food",
  "prescribing_doctor": {"id": "DOC001", "name": "Jane Smith"},
  "patient": {
    "patient_id": "P001",
    "name": "John Doe",
    "date_of_birth": "19800115",
    "gender": "M",
    "weight_kg": "85.5",
    "height_cm": 0,
    "allergies": ["Penicillin"],
    "diagnoses": ["I10"]
  },
  "pharmacy": {"id": "PH001", "name": "Central Pharmacy"},
  "items": [{
    "medication_code": "00093-7180",
    "medication_name": "Lisinopril 10mg",
    "form": "TAB",
    "strength": "10mg",
    "quantity": 30,
    "dosage_instruction": "1 tablet daily",
    "route": "PO",
    "duration_days": 30,
    "refills": 2
  }]
}`

const sampleYAML = `
prescription_id: RX-2
prescription_date: "202412100930"
dispense_as_written: true
prescribing_doctor:
  id: DOC002
  name: Gregory House
patient:
  patient_id: P002
  name: Ann Lee
  date_of_birth: "19750301"
  weight_kg: 61
items:
  - medication_code: "12345"
    medication_name: Amoxicillin 500mg
    form: CAP
    unit: CAP
    quantity: "21"
    route: PO
    frequency: TID
    start_datetime: "20241210"
  - medication_code: "67890"
    medication_name: Ibuprofen 200mg
    quantity: 10
    route: PO
    substitution_allowed: true
`

func TestDecodeDocument_JSON(t *testing.T) {
	doc, err := DecodeDocument([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.PrescriptionID != "RX-1" || doc.MessageRef != "EDI-0001" {
		t.Errorf("unexpected identifiers %q %q", doc.PrescriptionID, doc.MessageRef)
	}
	if !doc.Patient.WeightKg.Valid || doc.Patient.WeightKg.Value != 85.5 {
		t.Errorf("expected quoted weight 85.5, got %+v", doc.Patient.WeightKg)
	}
	if !doc.Patient.HeightCm.Valid || doc.Patient.HeightCm.Value != 0 {
		t.Errorf("expected height 0, got %+v", doc.Patient.HeightCm)
	}

	p, err := doc.ToPrescription()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Patient.WeightKg == nil || *p.Patient.WeightKg != 85.5 {
		t.Error("expected weight to be mapped")
	}
	if p.Patient.HeightCm != nil {
		t.Error("expected zero height to be dropped")
	}
	if !p.Info.Urgent || p.Info.Insurance == nil || p.Info.Insurance.ID != "INS-123" {
		t.Errorf("unexpected info %+v", p.Info)
	}
	if want := time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC); !p.Info.Date.Equal(want) {
		t.Errorf("expected %v, got %v", want, p.Info.Date)
	}
	if len(p.Patient.Diagnoses) != 1 || p.Patient.Diagnoses[0].Code != "I10" {
		t.Errorf("unexpected diagnoses %+v", p.Patient.Diagnoses)
	}

	m := p.Medications[0]
	if m.Unit != "TAB" {
		t.Errorf("expected unit to default to form, got %q", m.Unit)
	}
	if m.Frequency != "QD" {
		t.Errorf("expected default frequency QD, got %q", m.Frequency)
	}
	if !m.SubstitutionAllowed {
		t.Error("expected substitution to be allowed by default")
	}
	if m.Start != nil || m.End != nil {
		t.Error("expected no start or end time")
	}
}

func TestDecodeDocument_YAML(t *testing.T) {
	doc, err := DecodeDocument([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := doc.ToPrescription()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Info.ID != "RX-2" || !p.Info.DispenseAsWritten {
		t.Errorf("unexpected info %+v", p.Info)
	}
	if want := time.Date(2024, 12, 10, 9, 30, 0, 0, time.UTC); !p.Info.Date.Equal(want) {
		t.Errorf("expected %v, got %v", want, p.Info.Date)
	}
	if p.Patient.WeightKg == nil || *p.Patient.WeightKg != 61 {
		t.Error("expected bare YAML weight to be mapped")
	}
	if len(p.Medications) != 2 {
		t.Fatalf("expected 2 medications, got %d", len(p.Medications))
	}

	first, second := p.Medications[0], p.Medications[1]
	if first.Quantity != 21 || first.Frequency != "TID" || first.Start == nil {
		t.Errorf("unexpected first medication %+v", first)
	}
	if first.SubstitutionAllowed {
		t.Error("dispense as written must disable substitution")
	}
	if !second.SubstitutionAllowed {
		t.Error("an item flag must override the document default")
	}
}

func TestDecodeDocument_SubstitutionFlag(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"prescription_id":"RX-3","prescription_date":"20241210",
		"substitution_allowed":false,
		"prescribing_doctor":{"id":"D","name":"Dr Who"},
		"patient":{"patient_id":"P","name":"A B","date_of_birth":"20000101"},
		"items":[{"medication_code":"1","medication_name":"X","route":"PO","quantity":1}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := doc.ToPrescription()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Info.DispenseAsWritten || p.Medications[0].SubstitutionAllowed {
		t.Error("substitution_allowed false must mark the prescription dispense as written")
	}
}

func TestDecodeDocument_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", "   "},
		{"bad json", `{"prescription_id": `},
		{"bad yaml", "items: [unclosed"},
		{"bad decimal", `{"patient": {"weight_kg": "heavy"}}`},
		{"nan quantity", `{"items": [{"quantity": "NaN"}]}`},
		{"infinite weight", `{"patient": {"weight_kg": "+Inf"}}`},
		{"infinite yaml quantity", "items:\n  - quantity: \"-Infinity\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeDocument([]byte(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeDocument_NonFiniteDecimal(t *testing.T) {
	_, err := DecodeDocument([]byte(`{"items": [{"medication_code": "A01", "quantity": "NaN"}]}`))
	if !hl7v2.IsMalformedInput(err) {
		t.Fatalf("expected MalformedInputError, got %v", err)
	}
	if !strings.Contains(err.Error(), "finite") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestToPrescription_MissingQuantity(t *testing.T) {
	doc := Document{
		PrescriptionDate: "20241210",
		Patient:          DocumentPatient{DateOfBirth: "19800115"},
		Items:            []DocumentItem{{MedicationCode: "A01", MedicationName: "Amoxicillin", Route: "PO"}},
	}
	_, err := doc.ToPrescription()
	var malformed *hl7v2.MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInputError, got %v", err)
	}
	if malformed.Object != "medication" || malformed.Attribute != "quantity" {
		t.Errorf("unexpected error %+v", malformed)
	}

	doc.Items[0].Quantity = Decimal{Value: 0, Valid: true}
	if _, err := doc.ToPrescription(); err != nil {
		t.Errorf("explicit zero quantity should be accepted: %v", err)
	}
}

func TestToPrescription_DateErrors(t *testing.T) {
	tests := []struct {
		name      string
		doc       Document
		attribute string
	}{
		{"missing birth date", Document{PrescriptionDate: "20241210"}, "date_of_birth"},
		{"missing prescription date", Document{Patient: DocumentPatient{DateOfBirth: "19800115"}}, "prescription_date"},
		{"bad birth date", Document{PrescriptionDate: "20241210", Patient: DocumentPatient{DateOfBirth: "15/01/1980"}}, "date_of_birth"},
		{
			"bad item start",
			Document{
				PrescriptionDate: "20241210",
				Patient:          DocumentPatient{DateOfBirth: "19800115"},
				Items:            []DocumentItem{{StartDateTime: "tomorrow"}},
			},
			"start_datetime",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.doc.ToPrescription()
			var malformed *hl7v2.MalformedInputError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedInputError, got %v", err)
			}
			if malformed.Attribute != tt.attribute {
				t.Errorf("expected attribute %q, got %q", tt.attribute, malformed.Attribute)
			}
		})
	}
}

func TestDecimal_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Decimal `json:"a"`
		B Decimal `json:"b"`
	}{A: Decimal{Value: 85.5, Valid: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(b); got != `{"a":85.5,"b":null}` {
		t.Errorf("unexpected JSON %s", got)
	}
}
