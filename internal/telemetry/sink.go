// Package telemetry records best-effort usage events (sessions, plugin use,
// activations) into a pluggable sink. Nothing on the request path waits for a
// sink: events go through a bounded Dispatcher and are dropped when it is full.
package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"licsrv/pkg/contracts/events"
)

// Sink persists telemetry events.
type Sink interface {
	Name() string
	Record(ctx context.Context, ev events.Event) error
	Close(ctx context.Context) error
}

// Pruner is implemented by sinks that keep history which must be trimmed by
// housekeeping. Sinks with native expiry (Redis TTL) do not implement it.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Name() string                              { return "none" }
func (NopSink) Record(context.Context, events.Event) error { return nil }
func (NopSink) Close(context.Context) error                { return nil }

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("component", "telemetry"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Record(ctx context.Context, ev events.Event) error {
	attrs := []any{
		slog.String("kind", string(ev.Kind)),
		slog.String("email", ev.NormalizedEmail()),
		slog.Time("occurred_at", ev.OccurredAt),
	}
	if ev.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", ev.DeviceID))
	}
	if ev.Plugin != "" {
		attrs = append(attrs, slog.String("plugin", ev.Plugin))
	}
	s.logger.InfoContext(ctx, "telemetry event", attrs...)
	return nil
}

func (s *LogSink) Close(context.Context) error { return nil }

// counterField names the per-day counter an event increments. Plugin names
// are client-supplied, so characters with meaning in Mongo field paths and
// Redis key conventions are replaced.
func counterField(ev events.Event) string {
	switch ev.Kind {
	case events.KindSession:
		return "sessions"
	case events.KindActivation:
		return "activations"
	case events.KindPluginUse:
		return "plugins." + sanitizeFieldName(ev.Plugin)
	default:
		return "other"
	}
}

var fieldReplacer = strings.NewReplacer(".", "_", "$", "_", ":", "_", " ", "_")

func sanitizeFieldName(name string) string {
	name = fieldReplacer.Replace(strings.TrimSpace(name))
	if name == "" {
		return "unknown"
	}
	return name
}

func dayKey(ev events.Event) string {
	return ev.Day().Format(time.DateOnly)
}
