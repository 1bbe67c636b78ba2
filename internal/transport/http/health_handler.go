package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"licsrv/internal/services"
)

// HealthHandler serves the health, liveness and readiness endpoints.
type HealthHandler struct {
	service *services.HealthService
	logger  *slog.Logger
}

func NewHealthHandler(service *services.HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.service.HealthCheck(r.Context()), services.StatusOK)
}

// ReadinessCheck handles GET /api/health/ready
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.service.ReadinessCheck(r.Context()), services.StatusReady)
}

// LivenessCheck handles GET /api/health/live. A process that can answer is
// alive, whatever its dependencies say.
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.LivenessCheck(r.Context()))
}

// Version handles GET /api/version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Version())
}

func (h *HealthHandler) respond(w http.ResponseWriter, r *http.Request, status services.HealthStatus, want string) {
	if status.Status != want {
		failing := make([]string, 0, len(status.Services))
		for name, svc := range status.Services {
			if svc.Status == services.StatusNotReady {
				failing = append(failing, name+": "+svc.Message)
			}
		}
		h.logger.WarnContext(r.Context(), "health check failed",
			slog.String("path", r.URL.Path),
			slog.String("status", status.Status),
			slog.Any("failing", failing),
		)
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}
