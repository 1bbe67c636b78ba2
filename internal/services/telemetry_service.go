package services

import (
	"context"
	"log/slog"
	"strings"

	"licsrv/internal/license"
	"licsrv/internal/security"
	api "licsrv/pkg/contracts/api/v1"
	"licsrv/pkg/contracts/events"
)

// maxPluginName bounds plugin names, which become counter field names.
const maxPluginName = 128

// TelemetryService accepts usage reports from installed clients. It never
// fails because of the sink: events are handed to the publisher and
// forgotten.
type TelemetryService struct {
	publisher license.EventPublisher
	logger    *slog.Logger
}

// NewTelemetryService creates a telemetry service publishing to p.
func NewTelemetryService(p license.EventPublisher, logger *slog.Logger) *TelemetryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryService{
		publisher: p,
		logger:    logger.With(slog.String("service", "telemetry")),
	}
}

// RecordSession records that a client opened a session.
func (s *TelemetryService) RecordSession(ctx context.Context, req api.TelemetrySessionRequest) error {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return &license.Error{Reason: license.ReasonMissingFields, Detail: "missing required fields: [email]"}
	}
	s.publisher.Publish(ctx, events.Event{
		Kind:     events.KindSession,
		Email:    email,
		DeviceID: strings.TrimSpace(req.DeviceID),
	})
	return nil
}

// RecordPlugin records one plugin use.
func (s *TelemetryService) RecordPlugin(ctx context.Context, req api.TelemetryPluginRequest) error {
	email := strings.TrimSpace(req.Email)
	plugin := security.SanitizeText(req.Plugin, maxPluginName)

	var missing []string
	if email == "" {
		missing = append(missing, "email")
	}
	if plugin == "" {
		missing = append(missing, "plugin")
	}
	if len(missing) > 0 {
		return &license.Error{Reason: license.ReasonMissingFields, Detail: "missing required fields: [" + strings.Join(missing, " ") + "]"}
	}

	s.publisher.Publish(ctx, events.Event{
		Kind:     events.KindPluginUse,
		Email:    email,
		Plugin:   plugin,
		DeviceID: strings.TrimSpace(req.DeviceID),
	})
	return nil
}
