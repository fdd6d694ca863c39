package hl7v2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT / vertical tab).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS / file separator).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn is the trailing CR after the end block.
	MLLPCarriageReturn = 0x0D

	// mllpMaxMessageSize is the maximum buffer size for a single MLLP message (1 MB).
	mllpMaxMessageSize = 1 << 20

	// defaultMLLPTimeout bounds one send/receive exchange when the caller's
	// context carries no deadline.
	defaultMLLPTimeout = 30 * time.Second
)

// ErrMessageTooLarge is returned when a peer sends more than 1 MB without
// completing a frame.
var ErrMessageTooLarge = errors.New("mllp: message exceeds max size")

// MLLPClient sends framed messages to a receiving system (typically the
// pharmacy interface engine) and waits for the framed reply.
type MLLPClient struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
	logger  zerolog.Logger
}

// NewMLLPClient creates a client for addr. A zero timeout selects 30s.
func NewMLLPClient(addr string, timeout time.Duration, logger zerolog.Logger) *MLLPClient {
	if timeout <= 0 {
		timeout = defaultMLLPTimeout
	}
	return &MLLPClient{
		addr:    addr,
		timeout: timeout,
		logger:  logger.With().Str("component", "mllp").Str("addr", addr).Logger(),
	}
}

// Addr returns the remote address.
func (c *MLLPClient) Addr() string { return c.addr }

// Send opens a connection, writes payload in one MLLP frame and returns the
// first complete framed reply.
func (c *MLLPClient) Send(ctx context.Context, payload []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, c.addr, err)
	}
	defer conn.Close()

	// Unblock pending I/O once the context is done.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	start := time.Now()
	if _, err := conn.Write(FrameMessage(payload)); err != nil {
		return nil, fmt.Errorf("%w: write: %w", ErrTransport, err)
	}

	reply, err := readFrame(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: read: %w", ErrTransport, ctxErr)
		}
		return nil, fmt.Errorf("%w: read: %w", ErrTransport, err)
	}

	c.logger.Debug().
		Int("sent_bytes", len(payload)).
		Int("received_bytes", len(reply)).
		Dur("latency", time.Since(start)).
		Msg("mllp exchange complete")
	return reply, nil
}

// readFrame reads from r until one complete MLLP frame has arrived.
func readFrame(r io.Reader) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		n, err := r.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			if msg, _, found := UnframeMessage(buf); found {
				return msg, nil
			}
			if len(buf) > mllpMaxMessageSize {
				return nil, ErrMessageTooLarge
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("connection closed before end of frame: %w", io.ErrUnexpectedEOF)
			}
			return nil, err
		}
	}
}

// FrameMessage wraps raw HL7v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// UnframeMessage extracts HL7v2 bytes from an MLLP frame. It returns the
// message, any bytes after the frame, and whether a complete frame was found.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, MLLPStartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	endSeq := []byte{MLLPEndBlock, MLLPCarriageReturn}
	endIdx := bytes.Index(data[startIdx+1:], endSeq)
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx = startIdx + 1 + endIdx

	return data[startIdx+1 : endIdx], data[endIdx+2:], true
}

// UnframeOrRaw returns the first framed message in data, or data itself when
// it carries no complete MLLP frame.
func UnframeOrRaw(data []byte) []byte {
	if msg, _, found := UnframeMessage(data); found {
		return msg
	}
	return data
}
