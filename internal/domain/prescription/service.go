package prescription

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/rxhl7/internal/platform/hl7v2"
	"github.com/ehr/rxhl7/internal/platform/telemetry"
	"github.com/ehr/rxhl7/internal/platform/websocket"
)

var (
	// ErrArchiveDisabled is returned by archive lookups when no repository
	// is configured.
	ErrArchiveDisabled = errors.New("message archive is not configured")
	// ErrNoTransport is returned when sending without a configured sender.
	ErrNoTransport = errors.New("no pharmacy endpoint configured")
)

// Sender delivers one encoded message and returns the raw reply.
// *hl7v2.MLLPClient satisfies it.
type Sender interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
}

// Publisher receives archive lifecycle events. *websocket.Hub and
// *webhook.Notifier satisfy it.
type Publisher interface {
	Publish(ctx context.Context, e websocket.Event) error
}

// Event types published for archived messages.
const (
	EventGenerated   = "message.generated"
	EventTransmitted = "message.transmitted"
	EventFailed      = "message.failed"
)

// Counters recorded when metrics are attached.
const (
	MetricGenerated     = "rxhl7_messages_generated_total"
	MetricTransmissions = "rxhl7_transmissions_total"
)

// Generated is the outcome of Service.Generate.
type Generated struct {
	*Result
	// Wire is Text transcoded to the header's character set.
	Wire     []byte           `json:"-"`
	Archived *ArchivedMessage `json:"archived,omitempty"`
}

type Service struct {
	messages MessageRepository
	sender   Sender
	events   []Publisher
	metrics  *telemetry.Metrics
	header   hl7v2.HeaderConfig
	opts     []BuildOption
	logger   zerolog.Logger
}

// NewService creates a service. messages may be nil, in which case nothing
// is archived.
func NewService(messages MessageRepository, header hl7v2.HeaderConfig, logger zerolog.Logger) *Service {
	return &Service{
		messages: messages,
		header:   header,
		logger:   logger.With().Str("component", "prescription").Logger(),
	}
}

// SetSender attaches the transport used by Send and Transmit.
func (s *Service) SetSender(sender Sender) {
	s.sender = sender
}

// AddPublisher attaches a sink for archive lifecycle events. Every sink
// receives every event.
func (s *Service) AddPublisher(p Publisher) {
	s.events = append(s.events, p)
}

// SetMetrics attaches the registry that counts generated and transmitted
// messages.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	m.Describe(MetricGenerated, "Messages generated by message type.")
	m.Describe(MetricTransmissions, "Message transmissions by outcome.")
	s.metrics = m
}

// SetBuildOptions sets options applied to every Build call.
func (s *Service) SetBuildOptions(opts ...BuildOption) {
	s.opts = opts
}

// Header returns the header configuration used for new messages.
func (s *Service) Header() hl7v2.HeaderConfig {
	return s.header
}

// Generate builds the message for p, checks that it can be represented in
// the configured character set and archives it when an archive is present.
func (s *Service) Generate(ctx context.Context, p *Prescription) (*Generated, error) {
	s.warnUnknownCodes(p)

	res, err := Build(p, s.header, s.opts...)
	if err != nil {
		return nil, err
	}
	wire, err := hl7v2.EncodeCharset(res.Text, s.header.Charset)
	if err != nil {
		return nil, err
	}

	out := &Generated{Result: res, Wire: wire}
	s.metrics.Inc(MetricGenerated, "message_type", res.MessageType)
	if s.messages == nil {
		return out, nil
	}

	m := &ArchivedMessage{
		PrescriptionID: p.Info.ID,
		ControlID:      res.ControlID,
		MessageType:    res.MessageType,
		Payload:        res.Text,
		Status:         StatusGenerated,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("archive message: %w", err)
	}
	out.Archived = m
	s.publish(ctx, EventGenerated, m)

	s.logger.Info().
		Str("prescription_id", p.Info.ID).
		Str("control_id", res.ControlID).
		Int("segments", res.Segments).
		Msg("message generated")
	return out, nil
}

// Send transmits text to the pharmacy and returns the parsed reply.
func (s *Service) Send(ctx context.Context, text string) (*hl7v2.Response, error) {
	if s.sender == nil {
		return nil, ErrNoTransport
	}
	payload, err := hl7v2.EncodeCharset(text, s.header.Charset)
	if err != nil {
		return nil, err
	}
	raw, err := s.sender.Send(ctx, payload)
	if err != nil {
		return nil, err
	}
	reply, err := hl7v2.DecodeCharset(raw, s.header.Charset)
	if err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return hl7v2.ParseResponse(reply), nil
}

// Transmit sends an archived message and records the acknowledgment. A
// transport failure is recorded as status failed and returned.
func (s *Service) Transmit(ctx context.Context, id uuid.UUID) (*ArchivedMessage, *hl7v2.Response, error) {
	if s.messages == nil {
		return nil, nil, ErrArchiveDisabled
	}
	if s.sender == nil {
		return nil, nil, ErrNoTransport
	}
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	resp, sendErr := s.Send(ctx, m.Payload)
	if sendErr != nil {
		s.logger.Error().Err(sendErr).Str("control_id", m.ControlID).Msg("transmit failed")
		if err := s.messages.UpdateStatus(ctx, id, StatusFailed, nil, nil); err != nil {
			s.logger.Error().Err(err).Str("message_id", id.String()).Msg("record failed status")
		}
		m.Status = StatusFailed
		s.metrics.Inc(MetricTransmissions, "status", StatusFailed)
		s.publish(ctx, EventFailed, m)
		return m, nil, sendErr
	}

	status := statusForAck(resp.Status)
	var code, text *string
	if ack := resp.Acknowledgment; ack != nil {
		code, text = &ack.Code, &ack.Message
		if ack.ControlID != "" && ack.ControlID != m.ControlID {
			s.logger.Warn().
				Str("control_id", m.ControlID).
				Str("acknowledged", ack.ControlID).
				Msg("acknowledgment refers to another message")
		}
	}
	if err := s.messages.UpdateStatus(ctx, id, status, code, text); err != nil {
		return nil, nil, fmt.Errorf("record acknowledgment: %w", err)
	}
	m.Status, m.AckCode, m.AckMessage = status, code, text
	s.metrics.Inc(MetricTransmissions, "status", status)
	s.publish(ctx, EventTransmitted, m)

	s.logger.Info().
		Str("control_id", m.ControlID).
		Str("status", status).
		Msg("message transmitted")
	return m, resp, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ArchivedMessage, error) {
	if s.messages == nil {
		return nil, ErrArchiveDisabled
	}
	return s.messages.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, prescriptionID string, limit, offset int) ([]*ArchivedMessage, int, error) {
	if s.messages == nil {
		return nil, 0, ErrArchiveDisabled
	}
	return s.messages.List(ctx, prescriptionID, limit, offset)
}

// PrescriptionTopic is the event topic of one prescription's messages.
func PrescriptionTopic(prescriptionID string) string {
	return "prescription/" + prescriptionID
}

func (s *Service) publish(ctx context.Context, typ string, m *ArchivedMessage) {
	if len(s.events) == 0 {
		return
	}
	e := websocket.Event{
		Type:      typ,
		Topic:     PrescriptionTopic(m.PrescriptionID),
		MessageID: m.ID.String(),
		ControlID: m.ControlID,
		Status:    m.Status,
	}
	if m.AckCode != nil {
		e.AckCode = *m.AckCode
	}
	for _, p := range s.events {
		if err := p.Publish(ctx, e); err != nil {
			s.logger.Warn().Err(err).Str("type", typ).Msg("publish event")
		}
	}
}

func statusForAck(a hl7v2.AckStatus) string {
	switch a {
	case hl7v2.AckAccepted:
		return StatusAccepted
	case hl7v2.AckError:
		return StatusError
	case hl7v2.AckRejected:
		return StatusRejected
	}
	return StatusSent
}

// warnUnknownCodes logs table codes the receiver may not recognise. They are
// still written as given.
func (s *Service) warnUnknownCodes(p *Prescription) {
	if p.Patient.Gender != "" && !KnownSex(p.Patient.Gender) {
		s.logger.Warn().Str("gender", p.Patient.Gender).Msg("administrative sex not in table 0001")
	}
	for _, m := range p.Medications {
		if m.Route != "" && !KnownRoute(m.Route) {
			s.logger.Warn().Str("route", m.Route).Str("medication", m.Code).Msg("route not in table 0162")
		}
		if m.Unit != "" && !KnownUnit(m.Unit) {
			s.logger.Warn().Str("unit", m.Unit).Str("medication", m.Code).Msg("unrecognised unit of measure")
		}
	}
}
