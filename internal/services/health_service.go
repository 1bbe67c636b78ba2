package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"licsrv/internal/telemetry"
	"licsrv/pkg/contracts"
)

// Pinger is implemented by the license store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TelemetryStats is implemented by the telemetry dispatcher.
type TelemetryStats interface {
	Stats() telemetry.Stats
}

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"buildTime,omitempty"`
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]any           `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
	Telemetry *telemetry.Stats         `json:"telemetry,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health status values
const (
	StatusOK       = "ok"
	StatusAlive    = "alive"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// HealthService provides health check functionality
type HealthService struct {
	build     BuildInfo
	store     Pinger
	telemetry TelemetryStats
	sinkName  string
	timeout   time.Duration
	startTime time.Time
	logger    *slog.Logger
}

// NewHealthService creates a health service. telemetry may be nil.
func NewHealthService(build BuildInfo, store Pinger, telemetry TelemetryStats, sinkName string, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		build:     build,
		store:     store,
		telemetry: telemetry,
		sinkName:  sinkName,
		timeout:   2 * time.Second,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := hs.ReadinessCheck(ctx)
	if status.Status == StatusReady {
		status.Status = StatusOK
	}
	if hs.telemetry != nil {
		stats := hs.telemetry.Stats()
		status.Telemetry = &stats
	}
	status.Runtime = hs.runtime()
	return status
}

// ReadinessCheck reports whether the store answers. A failed telemetry sink
// never makes the server unready.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: time.Now().UTC(),
		Version:   hs.build.Version,
		Services:  make(map[string]ServiceHealth),
	}

	status.Services["store"] = hs.checkStore(ctx)
	status.Services["telemetry"] = ServiceHealth{Status: StatusReady, Message: "sink " + hs.sinkName}

	for _, sh := range status.Services {
		if sh.Status != StatusReady {
			status.Status = StatusNotReady
			break
		}
	}
	return status
}

func (hs *HealthService) checkStore(ctx context.Context) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	start := time.Now()
	err := hs.store.Ping(ctx)
	latency := time.Since(start).Round(time.Microsecond).String()
	if err != nil {
		hs.logger.WarnContext(ctx, "store ping failed", slog.String("error", err.Error()))
		return ServiceHealth{Status: StatusNotReady, Message: "store unavailable", Latency: latency}
	}
	return ServiceHealth{Status: StatusReady, Latency: latency}
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusAlive,
		Timestamp: time.Now().UTC(),
		Version:   hs.build.Version,
		Runtime:   hs.runtime(),
	}
}

func (hs *HealthService) runtime() map[string]any {
	return map[string]any{
		"uptime":     time.Since(hs.startTime).Seconds(),
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]any {
	result := map[string]any{
		"version":     hs.build.Version,
		"api_version": contracts.APIVersion,
		"key_format":  contracts.KeyFormatVersion,
		"go_version":  runtime.Version(),
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
		"start_time":  hs.startTime.UTC().Format(time.RFC3339),
	}
	if hs.build.Commit != "" {
		result["commit"] = hs.build.Commit
	}
	if hs.build.BuildTime != "" {
		result["build_time"] = hs.build.BuildTime
	}
	return result
}
