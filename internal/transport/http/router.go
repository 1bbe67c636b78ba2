package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "licsrv/internal/errors"
	"licsrv/internal/middleware"
	"licsrv/internal/security"
	"licsrv/internal/services"
)

// RouterConfig holds everything NewRouter wires together. OTel,
// RateLimiter and Metrics are optional.
type RouterConfig struct {
	Licenses  *services.LicenseService
	Export    *services.ExportService
	Telemetry *services.TelemetryService
	Health    *services.HealthService

	Authorizer  security.Authorizer
	Errors      *apierrors.ErrorHandler
	OTel        *middleware.OTelMiddleware
	RateLimiter *middleware.RateLimiter
	Metrics     http.Handler

	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

// NewRouter builds the HTTP routing tree.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errs := cfg.Errors
	if errs == nil {
		errs = apierrors.NewErrorHandler(logger, false)
	}
	validate := middleware.NewValidator()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(errs.Recoverer)
	r.Use(middleware.StructuredLogger(logger))
	if cfg.OTel != nil {
		r.Use(cfg.OTel.Handler)
	}
	r.Use(middleware.SecurityHeaders)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(middleware.MaxBodyBytes(cfg.MaxBodyBytes))

	r.NotFound(errs.NotFound)
	r.MethodNotAllowed(errs.MethodNotAllowed)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	health := NewHealthHandler(cfg.Health, logger)
	licenses := NewLicenseHandler(cfg.Licenses, validate, errs, logger)
	telemetry := NewTelemetryHandler(cfg.Telemetry, validate, errs, logger)
	admin := NewAdminHandler(cfg.Licenses, cfg.Export, validate, errs, logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.HealthCheck)
		r.Get("/health/live", health.LivenessCheck)
		r.Get("/health/ready", health.ReadinessCheck)
		r.Get("/version", health.Version)

		r.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Handler)
			}
			r.With(middleware.RequireJSON(licenses.invalid)).Mount("/licenses", licenses.Routes())
			r.With(middleware.RequireJSON(errs.HandleError)).Mount("/telemetry", telemetry.Routes())

			// The secret is checked before anything else about the request so
			// a wrong secret always gets the same Unauthorized answer.
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin(cfg.Authorizer, errs, logger))
				r.Use(middleware.RequireJSON(errs.HandleError))
				r.Use(middleware.AuditLog(logger))
				r.Mount("/licenses", admin.Routes())
			})
		})
	})

	return r
}
