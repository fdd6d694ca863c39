package prescription

import (
	"fmt"
	"time"

	"github.com/ehr/rxhl7/internal/platform/hl7v2"
)

// Result is a serialized prescription message.
type Result struct {
	ControlID   string `json:"control_id"`
	MessageType string `json:"message_type"`
	Segments    int    `json:"segments"`
	Text        string `json:"message"`
}

type buildOptions struct {
	enc          hl7v2.EncodingProfile
	now          func() time.Time
	patientClass string
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithClock fixes the time used for the header, control ID and every
// generated timestamp.
func WithClock(now func() time.Time) BuildOption {
	return func(o *buildOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEncoding selects a non-default delimiter set.
func WithEncoding(enc hl7v2.EncodingProfile) BuildOption {
	return func(o *buildOptions) { o.enc = enc }
}

// WithPatientClass overrides PV1-2 (default O, outpatient).
func WithPatientClass(class string) BuildOption {
	return func(o *buildOptions) { o.patientClass = class }
}

// Build renders p as one message: header, PID (+OBX), PV1, ORC, IN1, DG1*,
// AL1*, NTE, then RXE and RXR per medication, with RXD as well when the
// message type is RDE^O11. Nothing is returned on error.
func Build(p *Prescription, cfg hl7v2.HeaderConfig, opts ...BuildOption) (*Result, error) {
	o := buildOptions{enc: hl7v2.DefaultEncoding(), now: time.Now, patientClass: "O"}
	for _, opt := range opts {
		opt(&o)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if cfg.MessageType == "" {
		cfg.MessageType = MessageTypeRDE
	}

	now := o.now()
	a := hl7v2.NewAssembler(o.enc, cfg, hl7v2.WithClock(func() time.Time { return now }))
	enc := a.Encoding()

	var segs []*hl7v2.Segment
	add := func(s ...*hl7v2.Segment) {
		for _, seg := range s {
			if seg != nil {
				segs = append(segs, seg)
			}
		}
	}

	pid, err := PatientSegment(enc, p.Patient, cfg.SendingFacility)
	if err != nil {
		return nil, fmt.Errorf("build PID: %w", err)
	}
	add(pid)

	obx, err := ObservationSegments(enc, p.Patient, now)
	if err != nil {
		return nil, fmt.Errorf("build OBX: %w", err)
	}
	add(obx...)

	pv1, err := VisitSegment(enc, o.patientClass)
	if err != nil {
		return nil, fmt.Errorf("build PV1: %w", err)
	}
	add(pv1)

	orc, err := OrderSegment(enc, p.Info, p.Prescriber, now)
	if err != nil {
		return nil, fmt.Errorf("build ORC: %w", err)
	}
	add(orc)

	in1, err := InsuranceSegment(enc, p.Info)
	if err != nil {
		return nil, fmt.Errorf("build IN1: %w", err)
	}
	add(in1)

	dg1, err := DiagnosisSegments(enc, p.Patient.Diagnoses, now)
	if err != nil {
		return nil, fmt.Errorf("build DG1: %w", err)
	}
	add(dg1...)

	al1, err := AllergySegments(enc, p.Patient.Allergies)
	if err != nil {
		return nil, fmt.Errorf("build AL1: %w", err)
	}
	add(al1...)

	if p.Info.ClinicalNotes != "" {
		nte, err := NoteSegment(enc, 1, "P", p.Info.ClinicalNotes)
		if err != nil {
			return nil, fmt.Errorf("build NTE: %w", err)
		}
		add(nte)
	}

	withDispense := cfg.MessageType == MessageTypeRDE
	for i, m := range p.Medications {
		rxe, err := EncodedOrderSegment(enc, m, p.Pharmacy)
		if err != nil {
			return nil, fmt.Errorf("build RXE %d: %w", i+1, err)
		}
		rxr, err := RouteSegment(enc, m.Route)
		if err != nil {
			return nil, fmt.Errorf("build RXR %d: %w", i+1, err)
		}
		add(rxe, rxr)

		if withDispense {
			rxd, err := DispenseSegment(enc, m, i+1, now)
			if err != nil {
				return nil, fmt.Errorf("build RXD %d: %w", i+1, err)
			}
			add(rxd)
		}
	}

	// Nothing is appended until every segment has been built.
	for _, seg := range segs {
		if err := a.Append(seg); err != nil {
			return nil, err
		}
	}
	text, err := a.Serialize()
	if err != nil {
		return nil, err
	}

	return &Result{
		ControlID:   a.ControlID(),
		MessageType: cfg.MessageType,
		Segments:    a.Len(),
		Text:        text,
	}, nil
}
