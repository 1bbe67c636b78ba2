package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licsrv/internal/license"
	"licsrv/internal/shared/testutil"
	"licsrv/internal/store"
	api "licsrv/pkg/contracts/api/v1"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   Kind
		wantStatus int
		wantReason license.Reason
	}{
		{"not found", license.ErrLicenseNotFound, KindDomain, http.StatusOK, license.ReasonLicenseNotFound},
		{"expired", license.ErrLicenseExpired, KindDomain, http.StatusOK, license.ReasonLicenseExpired},
		{"device conflict", license.ErrDeviceConflict, KindDomain, http.StatusOK, license.ReasonDeviceConflict},
		{"wrapped domain", fmt.Errorf("activate: %w", license.ErrEmailMismatch), KindDomain, http.StatusOK, license.ReasonEmailMismatch},
		{"missing fields", license.ErrMissingFields, KindValidation, http.StatusBadRequest, license.ReasonMissingFields},
		{"invalid type", license.ErrInvalidLicenseType, KindValidation, http.StatusBadRequest, license.ReasonInvalidLicenseType},
		{"invalid body", ErrInvalidBody, KindValidation, http.StatusBadRequest, license.ReasonMissingFields},
		{"unsupported media type", ErrUnsupportedMediaType, KindValidation, http.StatusUnsupportedMediaType, license.ReasonMissingFields},
		{"wrapped media type", fmt.Errorf("decode: %w", ErrUnsupportedMediaType), KindValidation, http.StatusUnsupportedMediaType, license.ReasonMissingFields},
		{"unauthorized", license.ErrUnauthorized, KindAuthorization, http.StatusUnauthorized, license.ReasonUnauthorized},
		{"store unavailable", fmt.Errorf("get: %w", store.ErrUnavailable), KindInfrastructure, http.StatusServiceUnavailable, license.ReasonServiceUnavailable},
		{"deadline", context.DeadlineExceeded, KindInfrastructure, http.StatusServiceUnavailable, license.ReasonServiceUnavailable},
		{"key space exhausted", license.ErrKeySpaceExhausted, KindInfrastructure, http.StatusServiceUnavailable, license.ReasonServiceUnavailable},
		{"unknown", stderrors.New("boom"), KindInternal, http.StatusInternalServerError, license.ReasonInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKind, Classify(tt.err))
			status, reason, msg := Describe(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantReason, reason)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestReasonForHidesInternalDetail(t *testing.T) {
	_, msg := ReasonFor(stderrors.New("pq: password authentication failed for user admin"))
	assert.Equal(t, license.ReasonInternal.Message(), msg)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "authorization", KindAuthorization.String())
	assert.Equal(t, "domain", KindDomain.String())
	assert.Equal(t, "infrastructure", KindInfrastructure.String())
	assert.Equal(t, "internal", KindInternal.String())
}

func serve(h http.Handler) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/licenses", nil)
	middleware.RequestID(h).ServeHTTP(rr, req)
	return rr
}

func TestHandleError(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	rr := serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleError(w, r, fmt.Errorf("put: %w", store.ErrUnavailable))
	}))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body api.Failure
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "ServiceUnavailable", body.Reason)
	assert.NotEmpty(t, body.TraceID)

	testutil.AssertLogContains(t, logs, slog.LevelError, "request failed")
	testutil.AssertLogAttr(t, logs, "kind", "infrastructure")
}

func TestHandleErrorNil(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	rr := serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleError(w, r, nil)
	}))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Zero(t, logs.Count())
}

func TestRecoverer(t *testing.T) {
	tests := []struct {
		name         string
		includeStack bool
	}{
		{"production", false},
		{"development", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			h := NewErrorHandler(logger, tt.includeStack)

			rr := serve(h.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic("kaboom")
			})))

			assert.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, TypeInternal, body["type"])
			assert.NotEmpty(t, body["trace_id"])
			_, hasStack := body["stack"]
			assert.Equal(t, tt.includeStack, hasStack)
		})
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	rr := serve(http.HandlerFunc(h.NotFound))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), TypeNotFound)

	rr = serve(http.HandlerFunc(h.MethodNotAllowed))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Contains(t, rr.Body.String(), "Method POST is not allowed")
}

func TestProblemDetailsRenderWritesProblemJSON(t *testing.T) {
	p := NewProblemDetails(http.StatusTooManyRequests, TypeRateLimit, "Too Many Requests", "slow down", "/api/x").
		WithExtension("trace_id", "req-1")

	rr := httptest.NewRecorder()
	require.NoError(t, p.Render(rr, httptest.NewRequest(http.MethodGet, "/api/x", nil)))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, ContentType, rr.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, TypeRateLimit, body["type"])
	assert.Equal(t, "req-1", body["trace_id"])
}

func TestProblemDetailsMarshalKeepsStandardFields(t *testing.T) {
	p := NewProblemDetails(http.StatusTooManyRequests, TypeRateLimit, "Too Many Requests", "", "/x").
		WithExtension("retry_after", 1).
		WithExtension("status", "overridden?")

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(429), body["status"])
	assert.Equal(t, float64(1), body["retry_after"])
	assert.NotContains(t, body, "detail")
}
