// Package webhook forwards message lifecycle events to an external HTTP
// endpoint. Payloads are signed with HMAC-SHA256 and failed deliveries are
// retried with a growing delay.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/rxhl7/internal/platform/websocket"
)

var (
	// ErrQueueFull is returned by Publish when the delivery queue is saturated.
	ErrQueueFull = errors.New("webhook: delivery queue full")

	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("webhook: notifier closed")
)

const (
	queueSize   = 256
	historySize = 100
)

// DeliveryAttempt records the final outcome of delivering one event.
type DeliveryAttempt struct {
	ID         string        `json:"id"`
	EventType  string        `json:"event_type"`
	MessageID  string        `json:"message_id,omitempty"`
	ControlID  string        `json:"control_id,omitempty"`
	Signature  string        `json:"signature"`
	StatusCode int           `json:"status_code"`
	Attempts   int           `json:"attempts"`
	Status     string        `json:"status"` // "success" or "failed"
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Option configures a Notifier.
type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.httpClient = c }
}

// WithRetryDelays sets the wait before each retry. Its length is the number
// of retries after the first attempt.
func WithRetryDelays(d ...time.Duration) Option {
	return func(n *Notifier) { n.retryDelays = d }
}

// WithEvents limits delivery to matching event types. Patterns are exact
// ("message.failed") or a prefix wildcard ("message.*").
func WithEvents(patterns ...string) Option {
	return func(n *Notifier) { n.events = patterns }
}

// Notifier delivers events to a single endpoint from a background worker.
type Notifier struct {
	url         string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
	events      []string
	logger      zerolog.Logger

	queue chan websocket.Event
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.Mutex
	closed  bool
	history []*DeliveryAttempt
}

// NewNotifier validates the endpoint URL and returns a notifier. Call Start
// before publishing and Close on shutdown.
func NewNotifier(rawURL, secret string, logger zerolog.Logger, opts ...Option) (*Notifier, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	n := &Notifier{
		url:         rawURL,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		logger:      logger.With().Str("component", "webhook").Logger(),
		queue:       make(chan websocket.Event, queueSize),
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload. A "sha256="
// prefix is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func eventMatches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func (n *Notifier) wants(eventType string) bool {
	if len(n.events) == 0 {
		return true
	}
	for _, p := range n.events {
		if eventMatches(p, eventType) {
			return true
		}
	}
	return false
}

// Start runs the delivery worker until ctx is cancelled or Close is called.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-n.queue:
				if !ok {
					return
				}
				n.Deliver(ctx, e)
			}
		}
	}()
}

// Close stops accepting events and waits for queued deliveries to finish.
func (n *Notifier) Close() {
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
	})
	n.wg.Wait()
}

// Publish queues e for delivery without blocking. Events filtered out by
// WithEvents are dropped silently.
func (n *Notifier) Publish(_ context.Context, e websocket.Event) error {
	if !n.wants(e.Type) {
		return nil
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	select {
	case n.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Deliver posts e to the endpoint, retrying on transport errors and on 5xx
// or 429 responses. The attempt is kept in the delivery history.
func (n *Notifier) Deliver(ctx context.Context, e websocket.Event) *DeliveryAttempt {
	payload, _ := json.Marshal(e)
	sig := SignPayload(payload, n.secret)
	start := time.Now()

	attempt := &DeliveryAttempt{
		ID:        uuid.New().String(),
		EventType: e.Type,
		MessageID: e.MessageID,
		ControlID: e.ControlID,
		Signature: sig,
		CreatedAt: start.UTC(),
	}

	for i := 0; ; i++ {
		attempt.Attempts = i + 1
		if !n.post(ctx, attempt, payload) || i >= len(n.retryDelays) {
			break
		}
		if !wait(ctx, n.retryDelays[i]) {
			break
		}
	}
	attempt.Duration = time.Since(start)

	if attempt.Status == "success" {
		n.logger.Debug().Str("type", e.Type).Int("attempts", attempt.Attempts).Msg("webhook delivered")
	} else {
		n.logger.Warn().Str("type", e.Type).Int("attempts", attempt.Attempts).Str("error", attempt.Error).Msg("webhook delivery failed")
	}
	n.record(attempt)
	return attempt
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// post makes one request and reports whether it is worth retrying.
func (n *Notifier) post(ctx context.Context, attempt *DeliveryAttempt, payload []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		attempt.Status = "failed"
		attempt.Error = err.Error()
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+attempt.Signature)
	req.Header.Set("X-Webhook-ID", attempt.ID)
	req.Header.Set("X-Webhook-Event", attempt.EventType)
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		attempt.Status = "failed"
		attempt.StatusCode = 0
		attempt.Error = err.Error()
		return ctx.Err() == nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	attempt.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = "success"
		attempt.Error = ""
		return false
	}
	attempt.Status = "failed"
	attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

func (n *Notifier) record(a *DeliveryAttempt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = append(n.history, a)
	if len(n.history) > historySize {
		n.history = n.history[len(n.history)-historySize:]
	}
}

// Deliveries returns the most recent attempts, newest first.
func (n *Notifier) Deliveries(limit int) []*DeliveryAttempt {
	n.mu.Lock()
	defer n.mu.Unlock()
	if limit <= 0 || limit > len(n.history) {
		limit = len(n.history)
	}
	out := make([]*DeliveryAttempt, 0, limit)
	for i := len(n.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, n.history[i])
	}
	return out
}

// Handler exposes the delivery history.
type Handler struct {
	notifier *Notifier
}

func NewHandler(n *Notifier) *Handler {
	return &Handler{notifier: n}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/webhook/deliveries", h.ListDeliveries)
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	items := h.notifier.Deliveries(limit)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}
