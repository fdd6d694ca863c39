package prescription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/rxhl7/internal/platform/auth"
	"github.com/ehr/rxhl7/internal/platform/hl7v2"
	"github.com/ehr/rxhl7/pkg/pagination"
)

// ER7 is the pipe-delimited wire form returned for ?format=er7.
const mimeER7 = "x-application/hl7-v2+er7"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("/prescriptions/hl7", auth.RequireRole("prescriber", "pharmacist", "integration"))
	readGroup.GET("/messages", h.ListMessages)
	readGroup.GET("/messages/:id", h.GetMessage)

	writeGroup := api.Group("/prescriptions/hl7", auth.RequireRole("prescriber", "integration"))
	writeGroup.POST("", h.CreateMessage)
	writeGroup.POST("/messages/:id/transmit", h.TransmitMessage)
}

// CreateMessage handles POST /prescriptions/hl7. The body is the upstream
// prescription document in JSON or YAML.
func (h *Handler) CreateMessage(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	doc, err := DecodeDocument(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := doc.ToPrescription()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	out, err := h.svc.Generate(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}

	if c.QueryParam("format") == "er7" {
		c.Response().Header().Set("X-Message-Control-ID", out.ControlID)
		return c.Blob(http.StatusCreated, mimeER7+"; charset="+h.svc.Header().Charset, out.Wire)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMessages(c echo.Context) error {
	pg := pagination.FromContext(c)
	prescriptionID := c.QueryParam("prescription_id")
	items, total, err := h.svc.List(c.Request().Context(), prescriptionID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}

	filters := url.Values{}
	if prescriptionID != "" {
		filters.Set("prescription_id", prescriptionID)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Path(), filters)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) TransmitMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, resp, err := h.svc.Transmit(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  m,
		"response": resp,
	})
}

func httpError(err error) error {
	var position *hl7v2.InvalidPositionError
	switch {
	case hl7v2.IsMalformedInput(err), errors.As(err, &position):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, hl7v2.ErrUnsupportedCharset), errors.Is(err, hl7v2.ErrUnrepresentable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	case errors.Is(err, ErrArchiveDisabled), errors.Is(err, ErrNoTransport):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "pharmacy did not respond in time")
	case errors.Is(err, hl7v2.ErrTransport):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
