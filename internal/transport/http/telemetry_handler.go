package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licsrv/internal/errors"
	"licsrv/internal/middleware"
	"licsrv/internal/services"
	api "licsrv/pkg/contracts/api/v1"
)

// TelemetryHandler accepts usage reports. Accepted reports are answered with
// 202 whether or not the sink eventually stores them.
type TelemetryHandler struct {
	service  *services.TelemetryService
	validate *middleware.Validator
	errs     *apierrors.ErrorHandler
	logger   *slog.Logger
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(service *services.TelemetryService, validate *middleware.Validator, errs *apierrors.ErrorHandler, logger *slog.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		service:  service,
		validate: validate,
		errs:     errs,
		logger:   logger.With(slog.String("handler", "telemetry")),
	}
}

// Routes returns a chi router for telemetry endpoints
func (h *TelemetryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/session", h.Session)
	r.Post("/plugin", h.Plugin)
	return r
}

// Session handles POST /api/telemetry/session
func (h *TelemetryHandler) Session(w http.ResponseWriter, r *http.Request) {
	var req api.TelemetrySessionRequest
	if err := h.validate.Decode(r, &req); err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	if err := h.service.RecordSession(r.Context(), req); err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	accepted(w, r)
}

// Plugin handles POST /api/telemetry/plugin
func (h *TelemetryHandler) Plugin(w http.ResponseWriter, r *http.Request) {
	var req api.TelemetryPluginRequest
	if err := h.validate.Decode(r, &req); err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	if err := h.service.RecordPlugin(r.Context(), req); err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	accepted(w, r)
}

func accepted(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, api.TelemetryAck{Success: true})
}
