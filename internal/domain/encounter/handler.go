package encounter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/reconciler/internal/platform/hl7v2"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the reconciliation endpoints.
//
//	POST /process        - reconcile a JSON batch of events
//	POST /process/hl7v2  - reconcile a batch of ADT^A01/ADT^A03 messages
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/process", h.Process)
	e.POST("/process/hl7v2", h.ProcessHL7v2)
}

func (h *Handler) Process(c echo.Context) error {
	var req ProcessRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return bodyError(err, "invalid request body: ")
	}

	events, err := req.Events()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.reconcile(c, events)
}

func (h *Handler) ProcessHL7v2(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return bodyError(err, "failed to read request body: ")
	}
	if len(body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "request body is empty")
	}

	msgs, err := hl7v2.ParseBatch(hl7v2.StripFraming(body))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to parse HL7v2 payload: "+err.Error())
	}
	events, err := EventsFromHL7(msgs)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.reconcile(c, events)
}

func (h *Handler) reconcile(c echo.Context, events []Event) error {
	encs, err := h.svc.Reconcile(c.Request().Context(), events)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, NewProcessResponse(encs))
}

// bodyError passes through HTTP errors raised while reading the body (such as
// the body limit) and reports anything else as a bad request.
func bodyError(err error, prefix string) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, prefix+err.Error())
}

// decodeJSONBody reads and decodes the JSON request body into target.
func decodeJSONBody(c echo.Context, target interface{}) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, target)
}
