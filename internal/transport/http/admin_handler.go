package http

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licsrv/internal/errors"
	"licsrv/internal/middleware"
	"licsrv/internal/services"
	api "licsrv/pkg/contracts/api/v1"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AdminHandler serves the /api/admin routes. Authorization is applied by the
// router, not here.
type AdminHandler struct {
	licenses *services.LicenseService
	export   *services.ExportService
	validate *middleware.Validator
	errs     *apierrors.ErrorHandler
	logger   *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(licenses *services.LicenseService, export *services.ExportService, validate *middleware.Validator, errs *apierrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		licenses: licenses,
		export:   export,
		validate: validate,
		errs:     errs,
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns a chi router for the admin license endpoints
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Issue)
	r.Get("/", h.List)
	r.Get("/export.xlsx", h.Export)
	r.Get("/export.csv", h.ExportCSV)
	r.Route("/{key}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/activations", h.Activations)
		r.Post("/enabled", h.SetEnabled)
		r.Post("/release-device", h.ReleaseDevice)
	})
	return r
}

// Issue handles POST /api/admin/licenses
func (h *AdminHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req api.IssueRequest
	if err := h.validate.Decode(r, &req); err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	resp, err := h.licenses.Issue(r.Context(), req)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// List handles GET /api/admin/licenses
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.licenses.List(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Get handles GET /api/admin/licenses/{key}
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.licenses.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

// Activations handles GET /api/admin/licenses/{key}/activations
func (h *AdminHandler) Activations(w http.ResponseWriter, r *http.Request) {
	resp, err := h.licenses.Activations(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// SetEnabled handles POST /api/admin/licenses/{key}/enabled
func (h *AdminHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req api.SetEnabledRequest
	if err := h.validate.Decode(r, &req); err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	resp, err := h.licenses.SetEnabled(r.Context(), chi.URLParam(r, "key"), *req.Enabled)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// ReleaseDevice handles POST /api/admin/licenses/{key}/release-device. The
// body is optional since the secret may come in a header.
func (h *AdminHandler) ReleaseDevice(w http.ResponseWriter, r *http.Request) {
	resp, err := h.licenses.ReleaseDevice(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Export handles GET /api/admin/licenses/export.xlsx
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	// Render to memory first so a store failure can still be answered with
	// a JSON error.
	var buf bytes.Buffer
	if err := h.export.WriteXLSX(r.Context(), &buf); err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="licenses-%s.xlsx"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write export", slog.String("error", err.Error()))
	}
}

// ExportCSV handles GET /api/admin/licenses/export.csv
func (h *AdminHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.export.WriteCSV(r.Context(), &buf); err != nil {
		h.errs.HandleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="licenses-%s.csv"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write export", slog.String("error", err.Error()))
	}
}
