// Package housekeeping periodically removes history older than the retention
// window: activation audit events in the license store and daily telemetry
// aggregates in sinks that do not expire data on their own.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"licsrv/internal/config"
	"licsrv/internal/infrastructure"
	"licsrv/internal/store"
	"licsrv/internal/telemetry"
)

// PruneFunc deletes records older than before and reports how many went.
type PruneFunc func(ctx context.Context, before time.Time) (int, error)

// Task is one retention target.
type Task struct {
	Name  string
	Prune PruneFunc
}

// StoreTask prunes the activation audit trail of s.
func StoreTask(s store.Store) Task {
	return Task{Name: "activations", Prune: s.PruneActivations}
}

// SinkTasks returns a task for sink if it keeps prunable history.
func SinkTasks(sink telemetry.Sink) []Task {
	p, ok := sink.(telemetry.Pruner)
	if !ok {
		return nil
	}
	return []Task{{Name: "telemetry_" + sink.Name(), Prune: p.Prune}}
}

// Result reports one pass.
type Result struct {
	Cutoff  time.Time      `json:"cutoff"`
	Removed map[string]int `json:"removed"`
}

// Housekeeper runs the retention tasks on a fixed interval.
type Housekeeper struct {
	tasks  []Task
	cfg    config.HousekeepingConfig
	now    func() time.Time
	logger *slog.Logger

	pruned metric.Int64Counter
}

// New creates a housekeeper. meter may be nil.
func New(cfg config.HousekeepingConfig, tasks []Task, logger *slog.Logger, meter metric.Meter) (*Housekeeper, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = config.DefaultRetention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Housekeeper{
		tasks:  tasks,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: infrastructure.WithComponent(logger, "housekeeping"),
	}
	if meter != nil {
		var err error
		h.pruned, err = meter.Int64Counter(
			"housekeeping_pruned_total",
			metric.WithDescription("Records removed by retention pruning"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create pruned counter: %w", err)
		}
	}
	return h, nil
}

// RunOnce executes every task with the cutoff now minus retention. A failing
// task does not stop the others; their errors are joined.
func (h *Housekeeper) RunOnce(ctx context.Context) (Result, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	res := Result{
		Cutoff:  h.now().Add(-h.cfg.Retention),
		Removed: make(map[string]int, len(h.tasks)),
	}
	var errs []error
	for _, task := range h.tasks {
		n, err := task.Prune(ctx, res.Cutoff)
		if err != nil {
			h.logger.WarnContext(ctx, "retention task failed",
				slog.String("task", task.Name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", task.Name, err))
			continue
		}
		res.Removed[task.Name] = n
		if h.pruned != nil {
			h.pruned.Add(ctx, int64(n), metric.WithAttributes(attribute.String("task", task.Name)))
		}
	}
	h.logger.InfoContext(ctx, "retention pass completed",
		slog.Time("cutoff", res.Cutoff),
		slog.Any("removed", res.Removed),
	)
	return res, errors.Join(errs...)
}

// Run waits InitialDelay, runs a pass, then one pass per Interval until ctx
// is done. Failed passes are logged and retried on the next tick.
func (h *Housekeeper) Run(ctx context.Context) error {
	if !h.cfg.Enabled || len(h.tasks) == 0 {
		<-ctx.Done()
		return nil
	}

	h.logger.Info("starting housekeeping",
		slog.Duration("interval", h.cfg.Interval),
		slog.Duration("retention", h.cfg.Retention),
		slog.Int("tasks", len(h.tasks)),
	)

	delay := time.NewTimer(h.cfg.InitialDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-ctx.Done():
		return nil
	}
	_, _ = h.RunOnce(ctx)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = h.RunOnce(ctx)
		case <-ctx.Done():
			h.logger.Info("housekeeping stopped")
			return nil
		}
	}
}
