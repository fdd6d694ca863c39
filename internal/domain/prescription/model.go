package prescription

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/rxhl7/internal/platform/hl7v2"
)

// Patient is the subject of a prescription.
type Patient struct {
	ID          string
	Name        string // free text, "Given [Middle ...] Family"
	DateOfBirth time.Time
	Gender      string // HL7 table 0001 code
	WeightKg    *float64
	HeightCm    *float64
	Allergies   []string
	Diagnoses   []Diagnosis
}

// Diagnosis is an ICD-10 coded condition.
type Diagnosis struct {
	Code        string
	Description string
}

// Prescriber is the ordering provider.
type Prescriber struct {
	ID            string
	Name          string
	Qualification string
	Specialty     string
	Contact       string
	Address       string
}

// Pharmacy is the dispensing destination.
type Pharmacy struct {
	ID      string
	Name    string
	Address string
	Contact string
}

// MedicationOrder is one line item of a prescription.
type MedicationOrder struct {
	Code                string
	Name                string
	Form                string // HL7 dosage form code, e.g. TAB
	Strength            string
	Quantity            float64
	Unit                string
	DosageInstruction   string
	Route               string // HL7 table 0162 code, e.g. PO
	DurationDays        int
	Refills             int
	SpecialInstructions string
	SubstitutionAllowed bool
	Frequency           string
	Start               *time.Time
	End                 *time.Time
}

// Insurance identifies the payer plan.
type Insurance struct {
	ID   string
	Name string
}

// Info carries prescription-level metadata.
type Info struct {
	ID                string
	Date              time.Time
	Urgent            bool
	ValidityDays      int
	PaymentType       string
	Insurance         *Insurance
	ClinicalNotes     string
	DispenseAsWritten bool
}

// Prescription is the complete input of one message build.
type Prescription struct {
	Patient     Patient
	Prescriber  Prescriber
	Pharmacy    Pharmacy
	Medications []MedicationOrder
	Info        Info
}

// Validate checks that every attribute the segment catalog depends on is
// present. The first missing attribute is reported as a
// *hl7v2.MalformedInputError.
func (p *Prescription) Validate() error {
	required := []struct {
		object, attribute, value string
	}{
		{"patient", "id", p.Patient.ID},
		{"patient", "name", p.Patient.Name},
		{"prescriber", "id", p.Prescriber.ID},
		{"prescriber", "name", p.Prescriber.Name},
		{"prescription", "id", p.Info.ID},
	}
	for _, r := range required {
		if r.value == "" {
			return &hl7v2.MalformedInputError{Object: r.object, Attribute: r.attribute}
		}
	}
	if len(p.Medications) == 0 {
		return &hl7v2.MalformedInputError{Object: "prescription", Attribute: "items", Reason: "must contain at least one medication"}
	}
	if p.Patient.WeightKg != nil && !finite(*p.Patient.WeightKg) {
		return &hl7v2.MalformedInputError{Object: "patient", Attribute: "weight_kg", Reason: "must be a finite number"}
	}
	if p.Patient.HeightCm != nil && !finite(*p.Patient.HeightCm) {
		return &hl7v2.MalformedInputError{Object: "patient", Attribute: "height_cm", Reason: "must be a finite number"}
	}
	for i := range p.Medications {
		if err := p.Medications[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func (m *MedicationOrder) validate() error {
	switch {
	case m.Code == "":
		return &hl7v2.MalformedInputError{Object: "medication", Attribute: "code"}
	case m.Name == "":
		return &hl7v2.MalformedInputError{Object: "medication", Attribute: "name"}
	case m.Route == "":
		return &hl7v2.MalformedInputError{Object: "medication", Attribute: "route"}
	case !finite(m.Quantity):
		return &hl7v2.MalformedInputError{Object: "medication", Attribute: "quantity", Reason: "must be a finite number"}
	case m.Quantity < 0:
		return &hl7v2.MalformedInputError{Object: "medication", Attribute: "quantity", Reason: "must not be negative"}
	case m.Refills < 0:
		return &hl7v2.MalformedInputError{Object: "medication", Attribute: "refills", Reason: "must not be negative"}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Message statuses recorded in the archive.
const (
	StatusGenerated = "generated"
	StatusSent      = "sent"
	StatusAccepted  = "accepted"
	StatusError     = "error"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// ArchivedMessage maps to the hl7_messages table.
type ArchivedMessage struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID string    `db:"prescription_id" json:"prescription_id"`
	ControlID      string    `db:"control_id" json:"control_id"`
	MessageType    string    `db:"message_type" json:"message_type"`
	Payload        string    `db:"payload" json:"payload"`
	Status         string    `db:"status" json:"status"`
	AckCode        *string   `db:"ack_code" json:"ack_code,omitempty"`
	AckMessage     *string   `db:"ack_message" json:"ack_message,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
