package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// =========== Framing Tests ===========

func TestFrameMessage(t *testing.T) {
	raw := []byte(sampleRDE)
	framed := FrameMessage(raw)

	if framed[0] != MLLPStartBlock {
		t.Errorf("expected first byte 0x0B, got 0x%02X", framed[0])
	}
	if framed[len(framed)-2] != MLLPEndBlock {
		t.Errorf("expected second-to-last byte 0x1C, got 0x%02X", framed[len(framed)-2])
	}
	if framed[len(framed)-1] != MLLPCarriageReturn {
		t.Errorf("expected last byte 0x0D, got 0x%02X", framed[len(framed)-1])
	}
	if !bytes.Equal(framed[1:len(framed)-2], raw) {
		t.Errorf("inner bytes do not match original")
	}
}

func TestUnframeMessage_Valid(t *testing.T) {
	raw := []byte("MSH|test")
	msg, rest, found := UnframeMessage(FrameMessage(raw))
	if !found {
		t.Fatal("expected found=true")
	}
	if !bytes.Equal(msg, raw) {
		t.Errorf("expected %q, got %q", raw, msg)
	}
	if len(rest) != 0 {
		t.Errorf("expected empty rest, got %d bytes", len(rest))
	}
}

func TestUnframeMessage_NoStart(t *testing.T) {
	if _, _, found := UnframeMessage([]byte("no start block here")); found {
		t.Error("expected found=false when no start block present")
	}
}

func TestUnframeMessage_Partial(t *testing.T) {
	data := append([]byte{MLLPStartBlock}, []byte("MSH|partial")...)
	if _, _, found := UnframeMessage(data); found {
		t.Error("expected found=false for partial frame")
	}
}

func TestUnframeMessage_MultipleMessages(t *testing.T) {
	msg1 := []byte("MSG_ONE")
	msg2 := []byte("MSG_TWO")
	combined := append(FrameMessage(msg1), FrameMessage(msg2)...)

	first, rest, found := UnframeMessage(combined)
	if !found || !bytes.Equal(first, msg1) {
		t.Fatalf("first message: expected %q, got %q (found=%v)", msg1, first, found)
	}
	second, rest2, found2 := UnframeMessage(rest)
	if !found2 || !bytes.Equal(second, msg2) {
		t.Fatalf("second message: expected %q, got %q (found=%v)", msg2, second, found2)
	}
	if len(rest2) != 0 {
		t.Errorf("expected empty rest after second message, got %d bytes", len(rest2))
	}
}

// =========== Client Tests ===========

// startPeer runs a one-shot TCP peer that reads a frame and answers with reply
// split across two writes.
func startPeer(t *testing.T, reply []byte, received chan<- []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		msg, err := readFrame(conn)
		if err != nil {
			return
		}
		if received != nil {
			received <- msg
		}
		if reply == nil {
			time.Sleep(500 * time.Millisecond)
			return
		}
		framed := FrameMessage(reply)
		half := len(framed) / 2
		conn.Write(framed[:half])
		time.Sleep(10 * time.Millisecond)
		conn.Write(framed[half:])
	}()
	return ln.Addr().String()
}

func TestMLLPClient_Send(t *testing.T) {
	received := make(chan []byte, 1)
	addr := startPeer(t, []byte(sampleACK), received)

	client := NewMLLPClient(addr, 2*time.Second, zerolog.Nop())
	reply, err := client.Send(context.Background(), []byte(sampleRDE))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(reply) != sampleACK {
		t.Errorf("expected ACK reply, got %q", reply)
	}

	select {
	case got := <-received:
		if string(got) != sampleRDE {
			t.Errorf("peer received %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("peer did not receive the message")
	}

	if ParseResponse(string(reply)).Status != AckAccepted {
		t.Error("expected reply to classify as accepted")
	}
}

func TestMLLPClient_ContextCancelled(t *testing.T) {
	addr := startPeer(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewMLLPClient(addr, 5*time.Second, zerolog.Nop())
	_, err := client.Send(ctx, []byte(sampleRDE))
	if err == nil {
		t.Fatal("expected error when the peer never replies")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestMLLPClient_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client := NewMLLPClient(addr, time.Second, zerolog.Nop())
	_, err = client.Send(context.Background(), []byte("MSH|"))
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}

func TestReadFrame_PeerClosesEarly(t *testing.T) {
	r := bytes.NewReader(append([]byte{MLLPStartBlock}, []byte("MSH|cut")...))
	if _, err := readFrame(r); err == nil {
		t.Error("expected error for truncated frame")
	}
}

func TestNewMLLPClient_DefaultTimeout(t *testing.T) {
	c := NewMLLPClient("127.0.0.1:2575", 0, zerolog.Nop())
	if c.timeout != defaultMLLPTimeout {
		t.Errorf("expected default timeout, got %v", c.timeout)
	}
	if c.Addr() != "127.0.0.1:2575" {
		t.Errorf("unexpected addr %q", c.Addr())
	}
}

func TestUnframeOrRaw(t *testing.T) {
	raw := []byte(sampleACK)
	if got := UnframeOrRaw(FrameMessage(raw)); !bytes.Equal(got, raw) {
		t.Errorf("expected framed payload, got %q", got)
	}
	if got := UnframeOrRaw(raw); !bytes.Equal(got, raw) {
		t.Errorf("expected raw input back, got %q", got)
	}
}
