package prescription

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehr/rxhl7/internal/platform/hl7v2"
)

// defaultFrequency is the timing code used when an item carries none.
const defaultFrequency = "QD"

// Document is the upstream prescription as produced by the EDIFACT
// translator. It may arrive as JSON or YAML.
type Document struct {
	MessageRef          string             `json:"message_ref" yaml:"message_ref"`
	PrescriptionID      string             `json:"prescription_id" yaml:"prescription_id"`
	PrescriptionDate    string             `json:"prescription_date" yaml:"prescription_date"`
	Urgent              bool               `json:"urgent" yaml:"urgent"`
	ValidityDays        int                `json:"validity_days" yaml:"validity_days"`
	PaymentType         string             `json:"payment_type" yaml:"payment_type"`
	InsuranceInfo       *DocumentInsurance `json:"insurance_info" yaml:"insurance_info"`
	DispenseAsWritten   bool               `json:"dispense_as_written" yaml:"dispense_as_written"`
	SubstitutionAllowed *bool              `json:"substitution_allowed" yaml:"substitution_allowed"`
	ClinicalNotes       string             `json:"clinical_notes" yaml:"clinical_notes"`
	PrescribingDoctor   DocumentDoctor     `json:"prescribing_doctor" yaml:"prescribing_doctor"`
	Patient             DocumentPatient    `json:"patient" yaml:"patient"`
	Pharmacy            DocumentPharmacy   `json:"pharmacy" yaml:"pharmacy"`
	Items               []DocumentItem     `json:"items" yaml:"items"`
}

type DocumentInsurance struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type DocumentDoctor struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Qualification string `json:"qualification" yaml:"qualification"`
	Specialty     string `json:"specialty" yaml:"specialty"`
	Contact       string `json:"contact" yaml:"contact"`
	Address       string `json:"address" yaml:"address"`
}

type DocumentPatient struct {
	PatientID   string   `json:"patient_id" yaml:"patient_id"`
	Name        string   `json:"name" yaml:"name"`
	DateOfBirth string   `json:"date_of_birth" yaml:"date_of_birth"`
	Gender      string   `json:"gender" yaml:"gender"`
	WeightKg    Decimal  `json:"weight_kg" yaml:"weight_kg"`
	HeightCm    Decimal  `json:"height_cm" yaml:"height_cm"`
	Allergies   []string `json:"allergies" yaml:"allergies"`
	Diagnoses   []string `json:"diagnoses" yaml:"diagnoses"`
}

type DocumentPharmacy struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Contact string `json:"contact" yaml:"contact"`
}

type DocumentItem struct {
	MedicationCode      string  `json:"medication_code" yaml:"medication_code"`
	MedicationName      string  `json:"medication_name" yaml:"medication_name"`
	Form                string  `json:"form" yaml:"form"`
	Strength            string  `json:"strength" yaml:"strength"`
	Quantity            Decimal `json:"quantity" yaml:"quantity"`
	Unit                string  `json:"unit" yaml:"unit"`
	DosageInstruction   string  `json:"dosage_instruction" yaml:"dosage_instruction"`
	Route               string  `json:"route" yaml:"route"`
	DurationDays        int     `json:"duration_days" yaml:"duration_days"`
	Refills             int     `json:"refills" yaml:"refills"`
	SpecialInstructions string  `json:"special_instructions" yaml:"special_instructions"`
	SubstitutionAllowed *bool   `json:"substitution_allowed" yaml:"substitution_allowed"`
	Frequency           string  `json:"frequency" yaml:"frequency"`
	StartDateTime       string  `json:"start_datetime" yaml:"start_datetime"`
	EndDateTime         string  `json:"end_datetime" yaml:"end_datetime"`
}

// Decimal is a number that may be written bare or quoted ("85.5").
type Decimal struct {
	Value float64
	Valid bool
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = Decimal{}
		return nil
	}
	return d.parse(strings.Trim(s, `"`))
}

func (d *Decimal) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!null" {
		*d = Decimal{}
		return nil
	}
	return d.parse(n.Value)
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return []byte(formatDecimal(d.Value)), nil
}

func (d *Decimal) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = Decimal{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid decimal %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &hl7v2.MalformedInputError{Object: "document", Attribute: "decimal", Reason: fmt.Sprintf("%q is not a finite number", s)}
	}
	*d = Decimal{Value: v, Valid: true}
	return nil
}

// DecodeDocument decodes a JSON or YAML prescription document. Input whose
// first non-blank byte is '{' is read as JSON.
func DecodeDocument(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode document: empty input")
	}

	var doc Document
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		return &doc, nil
	}
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

// ToPrescription maps the document onto the domain model. An item without a
// unit uses its form, an item without a frequency is dosed QD, and
// substitution is allowed unless the document or item says otherwise.
func (d *Document) ToPrescription() (*Prescription, error) {
	dob, err := parseDocumentTime("patient", "date_of_birth", d.Patient.DateOfBirth, true)
	if err != nil {
		return nil, err
	}
	issued, err := parseDocumentTime("prescription", "prescription_date", d.PrescriptionDate, true)
	if err != nil {
		return nil, err
	}

	patient := Patient{
		ID:          d.Patient.PatientID,
		Name:        d.Patient.Name,
		DateOfBirth: *dob,
		Gender:      d.Patient.Gender,
		WeightKg:    positive(d.Patient.WeightKg),
		HeightCm:    positive(d.Patient.HeightCm),
		Allergies:   d.Patient.Allergies,
	}
	for _, code := range d.Patient.Diagnoses {
		patient.Diagnoses = append(patient.Diagnoses, Diagnosis{Code: code})
	}

	dispenseAsWritten := d.DispenseAsWritten
	if d.SubstitutionAllowed != nil && !*d.SubstitutionAllowed {
		dispenseAsWritten = true
	}

	info := Info{
		ID:                d.PrescriptionID,
		Date:              *issued,
		Urgent:            d.Urgent,
		ValidityDays:      d.ValidityDays,
		PaymentType:       d.PaymentType,
		ClinicalNotes:     d.ClinicalNotes,
		DispenseAsWritten: dispenseAsWritten,
	}
	if d.InsuranceInfo != nil {
		info.Insurance = &Insurance{ID: d.InsuranceInfo.ID, Name: d.InsuranceInfo.Name}
	}

	meds := make([]MedicationOrder, 0, len(d.Items))
	for i, item := range d.Items {
		m, err := item.toOrder(!dispenseAsWritten)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		meds = append(meds, m)
	}

	return &Prescription{
		Patient: patient,
		Prescriber: Prescriber{
			ID:            d.PrescribingDoctor.ID,
			Name:          d.PrescribingDoctor.Name,
			Qualification: d.PrescribingDoctor.Qualification,
			Specialty:     d.PrescribingDoctor.Specialty,
			Contact:       d.PrescribingDoctor.Contact,
			Address:       d.PrescribingDoctor.Address,
		},
		Pharmacy: Pharmacy{
			ID:      d.Pharmacy.ID,
			Name:    d.Pharmacy.Name,
			Address: d.Pharmacy.Address,
			Contact: d.Pharmacy.Contact,
		},
		Medications: meds,
		Info:        info,
	}, nil
}

func (item DocumentItem) toOrder(substitutionDefault bool) (MedicationOrder, error) {
	start, err := parseDocumentTime("medication", "start_datetime", item.StartDateTime, false)
	if err != nil {
		return MedicationOrder{}, err
	}
	end, err := parseDocumentTime("medication", "end_datetime", item.EndDateTime, false)
	if err != nil {
		return MedicationOrder{}, err
	}

	if !item.Quantity.Valid {
		return MedicationOrder{}, &hl7v2.MalformedInputError{Object: "medication", Attribute: "quantity"}
	}

	unit := item.Unit
	if unit == "" {
		unit = item.Form
	}
	frequency := item.Frequency
	if frequency == "" {
		frequency = defaultFrequency
	}
	substitution := substitutionDefault
	if item.SubstitutionAllowed != nil {
		substitution = *item.SubstitutionAllowed
	}

	return MedicationOrder{
		Code:                item.MedicationCode,
		Name:                item.MedicationName,
		Form:                item.Form,
		Strength:            item.Strength,
		Quantity:            item.Quantity.Value,
		Unit:                unit,
		DosageInstruction:   item.DosageInstruction,
		Route:               item.Route,
		DurationDays:        item.DurationDays,
		Refills:             item.Refills,
		SpecialInstructions: item.SpecialInstructions,
		SubstitutionAllowed: substitution,
		Frequency:           frequency,
		Start:               start,
		End:                 end,
	}, nil
}

// parseDocumentTime reads a YYYYMMDD, YYYYMMDDHHMM or YYYYMMDDHHMMSS value.
func parseDocumentTime(object, attribute, value string, required bool) (*time.Time, error) {
	if value == "" {
		if required {
			return nil, &hl7v2.MalformedInputError{Object: object, Attribute: attribute}
		}
		return nil, nil
	}
	t, err := hl7v2.ParseTimestamp(value)
	if err != nil {
		return nil, &hl7v2.MalformedInputError{
			Object:    object,
			Attribute: attribute,
			Reason:    fmt.Sprintf("is not an HL7 date: %q", value),
		}
	}
	return &t, nil
}

func positive(d Decimal) *float64 {
	if !d.Valid || d.Value <= 0 {
		return nil
	}
	v := d.Value
	return &v
}
