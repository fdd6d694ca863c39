package hl7v2

import (
	"strings"
)

// AckStatus classifies an acknowledgment code.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckError    AckStatus = "error"
	AckRejected AckStatus = "rejected"
	AckUnknown  AckStatus = "unknown"
)

// Acknowledgment holds the MSA segment of a response.
type Acknowledgment struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ControlID string `json:"control_id"`
}

// Response is the reader's view of a received reply.
type Response struct {
	MessageType    string          `json:"message_type"`
	ControlID      string          `json:"message_control_id"`
	Segments       []string        `json:"segments"`
	Acknowledgment *Acknowledgment `json:"acknowledgment"`
	Status         AckStatus       `json:"status"`
}

// ClassifyAck maps an MSA-1 code to a status. Original-mode (AA/AE/AR) and
// enhanced-mode commit codes (CA/CE/CR) are both recognised.
func ClassifyAck(code string) AckStatus {
	switch code {
	case "AA", "CA":
		return AckAccepted
	case "AE", "CE":
		return AckError
	case "AR", "CR":
		return AckRejected
	}
	return AckUnknown
}

// ParseResponse reads a received message line by line, collecting segment
// tags, the header's message type and control ID, and the MSA
// acknowledgment. It never fails: unknown input yields status unknown.
func ParseResponse(text string) *Response {
	resp := &Response{Status: AckUnknown, Segments: []string{}}

	enc := DefaultEncoding()
	lines := splitSegments(text)
	if len(lines) > 0 && strings.HasPrefix(lines[0], HeaderSegmentID) {
		if declared, err := delimitersFromHeader(lines[0]); err == nil {
			enc = declared
		}
	}
	sep := string(enc.field)

	for _, line := range lines {
		parts := strings.Split(line, sep)
		switch {
		case strings.HasPrefix(line, HeaderSegmentID):
			// parts[0]="MSH", parts[1]=MSH-2, so MSH-n is parts[n-1].
			if len(parts) > 8 {
				resp.MessageType = parts[8]
			}
			if len(parts) > 9 {
				resp.ControlID = enc.Unescape(parts[9])
			}
		case strings.HasPrefix(line, "MSA"):
			if len(parts) >= 2 {
				ack := &Acknowledgment{Code: parts[1]}
				if len(parts) > 2 {
					ack.ControlID = enc.Unescape(parts[2])
				}
				if len(parts) > 3 {
					ack.Message = enc.Unescape(parts[3])
				}
				resp.Acknowledgment = ack
				resp.Status = ClassifyAck(ack.Code)
			}
		}
		resp.Segments = append(resp.Segments, line[:min(3, len(line))])
	}
	return resp
}
