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

// LicenseHandler serves the client-facing license routes. Failures are
// answered with a validity=false body.
type LicenseHandler struct {
	service  *services.LicenseService
	validate *middleware.Validator
	errs     *apierrors.ErrorHandler
	logger   *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service *services.LicenseService, validate *middleware.Validator, errs *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:  service,
		validate: validate,
		errs:     errs,
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Post("/verify", h.Verify)
	r.Post("/access", h.CheckAccess)
	return r
}

// Activate handles POST /api/licenses/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req api.ActivateRequest
	if err := h.validate.Decode(r, &req); err != nil {
		h.invalid(w, r, err)
		return
	}
	resp, err := h.service.Activate(r.Context(), req)
	if err != nil {
		h.invalid(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Verify handles POST /api/licenses/verify
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyRequest
	if err := h.validate.Decode(r, &req); err != nil {
		h.invalid(w, r, err)
		return
	}
	resp, err := h.service.Verify(r.Context(), req)
	if err != nil {
		h.invalid(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// CheckAccess handles POST /api/licenses/access
func (h *LicenseHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var req api.AccessRequest
	if err := h.validate.Decode(r, &req); err != nil {
		h.invalid(w, r, err)
		return
	}
	resp, err := h.service.CheckAccess(r.Context(), req)
	if err != nil {
		h.invalid(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

func (h *LicenseHandler) invalid(w http.ResponseWriter, r *http.Request, err error) {
	h.errs.Log(r, err)
	status, reason, message := apierrors.Describe(err)
	render.Status(r, status)
	render.JSON(w, r, services.InvalidResponse(string(reason), message))
}
