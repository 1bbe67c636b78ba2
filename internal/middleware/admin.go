package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"licsrv/internal/config"
	apierrors "licsrv/internal/errors"
	"licsrv/internal/license"
	"licsrv/internal/security"
)

// maxAdminBody bounds how much of a body RequireAdmin buffers to find the
// secret.
const maxAdminBody = 64 << 10

// RequireAdmin rejects requests that do not present the admin secret, either
// in the X-Admin-Secret header or as adminSecret in a JSON body. The body is
// restored for the handler. Every failure gets the same 401 answer.
func RequireAdmin(auth security.Authorizer, errs *apierrors.ErrorHandler, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "admin_auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := r.Header.Get(config.AdminSecretHeader)
			if secret == "" {
				secret = secretFromBody(r)
			}
			if !auth.Authorize(secret) {
				logger.WarnContext(r.Context(), "admin authorization failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Bool("secret_present", secret != ""),
				)
				errs.HandleError(w, r, license.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secretFromBody(r *http.Request) string {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) > maxAdminBody {
		return ""
	}

	var envelope struct {
		AdminSecret string `json:"adminSecret"`
	}
	if json.Unmarshal(body, &envelope) != nil {
		return ""
	}
	return envelope.AdminSecret
}

// AuditLog records every admin call after it completes, with the route and
// outcome but never the body.
func AuditLog(logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "audit"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "admin request",
				slog.String("method", r.Method),
				slog.String("route", getRoutePattern(r)),
				slog.String("key", license.MaskKey(keyParam(r))),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
