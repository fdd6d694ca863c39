package prescription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/rxhl7/internal/platform/auth"
	"github.com/ehr/rxhl7/internal/platform/hl7v2"
)

func withRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), auth.UserRolesKey, roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func newTestEcho(svc *Service, roles ...string) *echo.Echo {
	e := echo.New()
	api := e.Group("/api/v1", withRoles(roles...))
	NewHandler(svc).RegisterRoutes(api)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateMessage(t *testing.T) {
	repo := newMemRepo()
	e := newTestEcho(newTestService(repo), "prescriber")

	rec := do(e, http.MethodPost, "/api/v1/prescriptions/hl7", sampleJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		ControlID string           `json:"control_id"`
		Message   string           `json:"message"`
		Segments  int              `json:"segments"`
		Archived  *ArchivedMessage `json:"archived"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ControlID != "MSG20241210093000123" {
		t.Errorf("unexpected control ID %q", body.ControlID)
	}
	if !strings.HasPrefix(body.Message, "MSH|^~\\&|") {
		t.Errorf("unexpected message %q", body.Message)
	}
	if body.Archived == nil || body.Archived.Status != StatusGenerated {
		t.Errorf("expected archived message, got %+v", body.Archived)
	}
}

func TestHandler_CreateMessageER7(t *testing.T) {
	e := newTestEcho(newTestService(nil), "integration")

	rec := do(e, http.MethodPost, "/api/v1/prescriptions/hl7?format=er7", sampleYAML)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "x-application/hl7-v2+er7; charset=UTF-8" {
		t.Errorf("unexpected content type %q", ct)
	}
	if got := rec.Header().Get("X-Message-Control-ID"); got != "MSG20241210093000123" {
		t.Errorf("unexpected control ID header %q", got)
	}
	if !strings.HasPrefix(rec.Body.String(), "MSH|") || strings.Contains(rec.Body.String(), "\n") {
		t.Errorf("expected raw ER7 body, got %q", rec.Body.String())
	}
}

func TestHandler_CreateMessageErrors(t *testing.T) {
	e := newTestEcho(newTestService(nil), "prescriber")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"undecodable", `{"items": [`, http.StatusBadRequest},
		{"missing date", `{"prescription_id": "RX-1"}`, http.StatusBadRequest},
		{"missing items", `{"prescription_id":"RX-1","prescription_date":"20241210",
			"prescribing_doctor":{"id":"D","name":"Dr Who"},
			"patient":{"patient_id":"P","name":"A B","date_of_birth":"20000101"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(e, http.MethodPost, "/api/v1/prescriptions/hl7", tt.body); rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_RoleChecks(t *testing.T) {
	e := newTestEcho(newTestService(newMemRepo()), "pharmacist")

	if rec := do(e, http.MethodPost, "/api/v1/prescriptions/hl7", sampleJSON); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for pharmacist create, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/prescriptions/hl7/messages", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for pharmacist list, got %d", rec.Code)
	}

	e = newTestEcho(newTestService(newMemRepo()), "billing")
	if rec := do(e, http.MethodGet, "/api/v1/prescriptions/hl7/messages", ""); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for unrelated role, got %d", rec.Code)
	}
}

func TestHandler_GetMessage(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	out, err := svc.Generate(context.Background(), samplePrescription())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := newTestEcho(svc, "admin")

	rec := do(e, http.MethodGet, "/api/v1/prescriptions/hl7/messages/"+out.Archived.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var m ArchivedMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if m.ControlID != out.ControlID {
		t.Errorf("expected control ID %q, got %q", out.ControlID, m.ControlID)
	}

	if rec := do(e, http.MethodGet, "/api/v1/prescriptions/hl7/messages/"+uuid.NewString(), ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/prescriptions/hl7/messages/not-a-uuid", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_ListMessages(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	for i := 0; i < 3; i++ {
		if _, err := svc.Generate(context.Background(), samplePrescription()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	e := newTestEcho(svc, "prescriber")

	rec := do(e, http.MethodGet, "/api/v1/prescriptions/hl7/messages?prescription_id=RX-1&limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data    []ArchivedMessage `json:"data"`
		Total   int               `json:"total"`
		HasMore bool              `json:"has_more"`
		Links   struct {
			Next string `json:"next"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(page.Data) != 2 || page.Total != 3 || !page.HasMore {
		t.Errorf("unexpected page: %d items, total %d, has_more %v", len(page.Data), page.Total, page.HasMore)
	}
	want := "/api/v1/prescriptions/hl7/messages?limit=2&offset=2&prescription_id=RX-1"
	if page.Links.Next != want {
		t.Errorf("expected next link %q, got %q", want, page.Links.Next)
	}
}

func TestHandler_ArchiveDisabled(t *testing.T) {
	e := newTestEcho(newTestService(nil), "admin")
	if rec := do(e, http.MethodGet, "/api/v1/prescriptions/hl7/messages", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHandler_TransmitMessage(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	out, err := svc.Generate(context.Background(), samplePrescription())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := newTestEcho(svc, "integration")
	target := "/api/v1/prescriptions/hl7/messages/" + out.Archived.ID.String() + "/transmit"

	if rec := do(e, http.MethodPost, target, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a sender, got %d", rec.Code)
	}

	svc.SetSender(&stubSender{reply: ackFor("AA", out.ControlID)})
	rec := do(e, http.MethodPost, target, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Message  ArchivedMessage `json:"message"`
		Response hl7v2.Response  `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Message.Status != StatusAccepted || body.Response.Status != hl7v2.AckAccepted {
		t.Errorf("unexpected outcome %q / %q", body.Message.Status, body.Response.Status)
	}

	svc.SetSender(&stubSender{err: hl7v2.ErrTransport})
	if rec := do(e, http.MethodPost, target, ""); rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 on transport failure, got %d", rec.Code)
	}

	svc.SetSender(&stubSender{err: context.DeadlineExceeded})
	if rec := do(e, http.MethodPost, target, ""); rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504 on timeout, got %d", rec.Code)
	}
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&hl7v2.MalformedInputError{Object: "patient", Attribute: "id"}, http.StatusBadRequest},
		{&hl7v2.InvalidPositionError{Segment: "PID", Field: 0}, http.StatusBadRequest},
		{hl7v2.ErrUnsupportedCharset, http.StatusUnprocessableEntity},
		{ErrMessageNotFound, http.StatusNotFound},
		{ErrNoTransport, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{hl7v2.ErrTransport, http.StatusBadGateway},
		{hl7v2.ErrSealed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		he, ok := httpError(tt.err).(*echo.HTTPError)
		if !ok {
			t.Fatalf("expected *echo.HTTPError for %v", tt.err)
		}
		if he.Code != tt.code {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.code, he.Code)
		}
	}
}
