package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"licsrv/internal/store"
)

const (
	TracerName = "license-manager"
	MeterName  = "license-manager"
)

// Metrics holds the license engine's OpenTelemetry instruments.
type Metrics struct {
	Issued             metric.Int64Counter
	IssueKeyCollisions metric.Int64Counter

	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	Verifications        metric.Int64Counter
	VerificationDuration metric.Float64Histogram

	AdminOperations metric.Int64Counter
}

// NewMetrics creates the license instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Issued, err = meter.Int64Counter(
		"license_issued_total",
		metric.WithDescription("Total number of licenses issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create issued counter: %w", err)
	}

	m.IssueKeyCollisions, err = meter.Int64Counter(
		"license_key_collisions_total",
		metric.WithDescription("Generated keys rejected because they already existed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create key collisions counter: %w", err)
	}

	m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	m.Verifications, err = meter.Int64Counter(
		"license_verifications_total",
		metric.WithDescription("Total number of license verifications by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifications counter: %w", err)
	}

	m.VerificationDuration, err = meter.Float64Histogram(
		"license_verification_duration_seconds",
		metric.WithDescription("License verification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification duration histogram: %w", err)
	}

	m.AdminOperations, err = meter.Int64Counter(
		"license_admin_operations_total",
		metric.WithDescription("Total number of admin operations by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin operations counter: %w", err)
	}

	return m, nil
}

// traceOperation wraps fn in a span and records the outcome on it.
func (m *Manager) traceOperation(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	tracer := otel.Tracer(TracerName)

	attrs := []attribute.KeyValue{
		attribute.String("license.operation", op),
		attribute.String("component", "license_manager"),
	}
	if key != "" {
		attrs = append(attrs, attribute.String("license.key_masked", MaskKey(key)))
	}
	ctx, span := tracer.Start(ctx, "license."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	outcome := outcomeOf(err)
	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(duration.Milliseconds())),
		attribute.String("license.outcome", outcome),
	)

	switch reason, ok := ReasonOf(err); {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case ok:
		// Expected outcome, not a span error.
		span.SetAttributes(attribute.String("license.reason", string(reason)))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	m.recordMetrics(ctx, op, outcome, duration)
	return err
}

func (m *Manager) recordMetrics(ctx context.Context, op, outcome string, duration time.Duration) {
	if m.metrics == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)

	switch op {
	case opActivate:
		m.metrics.ActivationAttempts.Add(ctx, 1)
		m.metrics.ActivationDuration.Record(ctx, duration.Seconds())
		if outcome == outcomeSuccess {
			m.metrics.ActivationSuccess.Add(ctx, 1)
		} else {
			m.metrics.ActivationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", outcome)))
		}
	case opVerify, opCheckAccess:
		m.metrics.Verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		m.metrics.VerificationDuration.Record(ctx, duration.Seconds())
	case opIssue:
		if outcome == outcomeSuccess {
			m.metrics.Issued.Add(ctx, 1)
		}
		m.metrics.AdminOperations.Add(ctx, 1, labels)
	default:
		m.metrics.AdminOperations.Add(ctx, 1, labels)
	}
}

const outcomeSuccess = "success"

// outcomeOf maps err to a low-cardinality metric label.
func outcomeOf(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	if reason, ok := ReasonOf(err); ok {
		return string(reason)
	}
	if errors.Is(err, store.ErrUnavailable) {
		return string(ReasonServiceUnavailable)
	}
	return string(ReasonInternal)
}
