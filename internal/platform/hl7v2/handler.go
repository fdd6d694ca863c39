package hl7v2

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler exposes the message reader over HTTP.
type Handler struct{}

// NewHandler creates a new HL7v2 handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers HL7v2 endpoints on the provided route group.
//
//	POST /api/v1/hl7v2/parse            - Parse any HL7v2 message to JSON
//	POST /api/v1/hl7v2/responses/parse  - Classify a received acknowledgment
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/parse", h.ParseMessage)
	g.POST("/hl7v2/responses/parse", h.ParseResponse)
}

type segmentJSON struct {
	Name   string      `json:"name"`
	Fields []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Value      string     `json:"value"`
	Components []string   `json:"components,omitempty"`
	Repeats    [][]string `json:"repeats,omitempty"`
}

// ParseMessage handles POST /api/v1/hl7v2/parse.
func (h *Handler) ParseMessage(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	msg, err := Parse(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to parse HL7v2 message: "+err.Error())
	}

	segments := make([]segmentJSON, len(msg.Segments))
	for i, seg := range msg.Segments {
		fields := make([]fieldJSON, len(seg.Fields))
		for j, f := range seg.Fields {
			fields[j] = fieldJSON{
				Value:      f.Value,
				Components: f.Components,
				Repeats:    f.Repeats,
			}
		}
		segments[i] = segmentJSON{Name: seg.Name, Fields: fields}
	}

	result := map[string]interface{}{
		"type":         msg.Type,
		"controlId":    msg.ControlID,
		"version":      msg.Version,
		"sendingApp":   msg.SendingApp,
		"sendingFac":   msg.SendingFac,
		"receivingApp": msg.ReceivingApp,
		"receivingFac": msg.ReceivingFac,
		"segments":     segments,
	}
	if !msg.Timestamp.IsZero() {
		result["timestamp"] = msg.Timestamp.Format(time.RFC3339)
	}

	return c.JSON(http.StatusOK, result)
}

// ParseResponse handles POST /api/v1/hl7v2/responses/parse.
func (h *Handler) ParseResponse(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ParseResponse(string(body)))
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "request body is empty")
	}
	return body, nil
}
