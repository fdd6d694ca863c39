package hl7v2

import (
	"strings"
	"testing"
)

func TestClassifyAck(t *testing.T) {
	tests := map[string]AckStatus{
		"AA": AckAccepted,
		"CA": AckAccepted,
		"AE": AckError,
		"CE": AckError,
		"AR": AckRejected,
		"CR": AckRejected,
		"XX": AckUnknown,
		"":   AckUnknown,
		"aa": AckUnknown,
	}
	for code, want := range tests {
		if got := ClassifyAck(code); got != want {
			t.Errorf("ClassifyAck(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestParseResponse_Accepted(t *testing.T) {
	resp := ParseResponse(sampleACK)

	if resp.Status != AckAccepted {
		t.Errorf("expected accepted, got %q", resp.Status)
	}
	if resp.MessageType != "ACK^O11" {
		t.Errorf("expected message type 'ACK^O11', got %q", resp.MessageType)
	}
	if resp.ControlID != "ACK0001" {
		t.Errorf("expected control id 'ACK0001', got %q", resp.ControlID)
	}
	if resp.Acknowledgment == nil {
		t.Fatal("expected acknowledgment")
	}
	if resp.Acknowledgment.Code != "AA" {
		t.Errorf("expected code AA, got %q", resp.Acknowledgment.Code)
	}
	if resp.Acknowledgment.ControlID != "MSG20241210093000123" {
		t.Errorf("expected acknowledged control id, got %q", resp.Acknowledgment.ControlID)
	}
	if resp.Acknowledgment.Message != "Order received" {
		t.Errorf("expected text message, got %q", resp.Acknowledgment.Message)
	}
	if len(resp.Segments) != 2 || resp.Segments[0] != "MSH" || resp.Segments[1] != "MSA" {
		t.Errorf("unexpected segments %v", resp.Segments)
	}
}

func TestParseResponse_ErrorAndReject(t *testing.T) {
	cases := map[string]AckStatus{
		"MSH|^~\\&|A|B|C|D|20241210||ACK|1|P|2.5\rMSA|AE|X1|Invalid drug code": AckError,
		"MSH|^~\\&|A|B|C|D|20241210||ACK|1|P|2.5\rMSA|AR|X1":                   AckRejected,
		"MSH|^~\\&|A|B|C|D|20241210||ACK|1|P|2.5\rMSA|CE|X1":                   AckError,
	}
	for text, want := range cases {
		if got := ParseResponse(text).Status; got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

func TestParseResponse_MinimalMSA(t *testing.T) {
	resp := ParseResponse("MSA|AA")
	if resp.Status != AckAccepted {
		t.Errorf("expected accepted, got %q", resp.Status)
	}
	if resp.Acknowledgment.ControlID != "" || resp.Acknowledgment.Message != "" {
		t.Errorf("expected empty optional fields, got %+v", resp.Acknowledgment)
	}
}

func TestParseResponse_NoMSA(t *testing.T) {
	resp := ParseResponse("MSH|^~\\&|A|B|C|D|20241210||ADT^A01|1|P|2.5\rPID|1")
	if resp.Status != AckUnknown {
		t.Errorf("expected unknown, got %q", resp.Status)
	}
	if resp.Acknowledgment != nil {
		t.Error("expected no acknowledgment")
	}
}

func TestParseResponse_Garbage(t *testing.T) {
	for _, text := range []string{"", "hello world", "\r\r\n"} {
		resp := ParseResponse(text)
		if resp.Status != AckUnknown {
			t.Errorf("%q: expected unknown, got %q", text, resp.Status)
		}
		if resp.Segments == nil {
			t.Errorf("%q: expected non-nil segments", text)
		}
	}
}

func TestParseResponse_UnescapesText(t *testing.T) {
	resp := ParseResponse("MSH|^~\\&|A|B|C|D|20241210||ACK|1|P|2.5\rMSA|AE|X1|qty \\F\\ unit mismatch")
	if resp.Acknowledgment.Message != "qty | unit mismatch" {
		t.Errorf("expected unescaped text, got %q", resp.Acknowledgment.Message)
	}
}

func TestParseResponse_KeepsTrailingSpaces(t *testing.T) {
	resp := ParseResponse("MSH|^~\\&|A|B|C|D|20241210||ACK|1|P|2.5\r\nMSA|AE|X1|Refill count exceeded  \r\n  \r\n")
	if resp.Acknowledgment == nil {
		t.Fatal("expected acknowledgment")
	}
	if resp.Acknowledgment.Message != "Refill count exceeded  " {
		t.Errorf("expected trailing spaces kept, got %q", resp.Acknowledgment.Message)
	}
	if strings.Join(resp.Segments, ",") != "MSH,MSA" {
		t.Errorf("expected whitespace-only lines dropped, got %v", resp.Segments)
	}
}
