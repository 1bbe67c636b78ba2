package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"licsrv/pkg/contracts/events"
)

// DispatcherOptions sizes the dispatcher.
type DispatcherOptions struct {
	// BufferSize is the number of events held before Publish starts dropping.
	BufferSize int
	// Workers is the number of goroutines writing to the sink.
	Workers int
	// WriteTimeout bounds a single sink write.
	WriteTimeout time.Duration
	// DrainTimeout bounds how long Run keeps flushing after its context ends.
	DrainTimeout time.Duration
}

func (o *DispatcherOptions) applyDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 5 * time.Second
	}
}

// Stats counts what the dispatcher did with published events.
type Stats struct {
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`
}

// Dispatcher decouples event producers from the sink. Publish never blocks:
// when the buffer is full the event is counted and dropped.
type Dispatcher struct {
	sink   Sink
	opts   DispatcherOptions
	events chan events.Event
	logger *slog.Logger

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	eventsCounter metric.Int64Counter
}

// NewDispatcher creates a dispatcher writing to sink. meter may be nil.
func NewDispatcher(sink Sink, opts DispatcherOptions, logger *slog.Logger, meter metric.Meter) (*Dispatcher, error) {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:   sink,
		opts:   opts,
		events: make(chan events.Event, opts.BufferSize),
		logger: logger.With(slog.String("component", "telemetry_dispatcher"), slog.String("sink", sink.Name())),
	}
	if meter != nil {
		var err error
		d.eventsCounter, err = meter.Int64Counter(
			"telemetry_events_total",
			metric.WithDescription("Telemetry events by outcome (written, failed, dropped)"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create telemetry events counter: %w", err)
		}
	}
	return d, nil
}

// Publish queues ev for the sink, dropping it if the buffer is full.
func (d *Dispatcher) Publish(ctx context.Context, ev events.Event) {
	d.TryPublish(ctx, ev)
}

// TryPublish is Publish reporting whether ev was queued.
func (d *Dispatcher) TryPublish(ctx context.Context, ev events.Event) bool {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	select {
	case d.events <- ev:
		return true
	default:
		d.dropped.Add(1)
		d.count(ctx, "dropped")
		d.logger.DebugContext(ctx, "telemetry buffer full, event dropped",
			slog.String("kind", string(ev.Kind)))
		return false
	}
}

// Run starts the workers and blocks until ctx is done, then flushes what is
// still buffered (bounded by DrainTimeout) and closes the sink.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("starting telemetry dispatcher", slog.Int("workers", d.opts.Workers))

	var wg sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.DrainTimeout)
	defer cancel()
	flushed := d.drain(drainCtx)

	if err := d.sink.Close(drainCtx); err != nil {
		d.logger.Warn("failed to close telemetry sink", slog.String("error", err.Error()))
	}
	d.logger.Info("telemetry dispatcher stopped",
		slog.Int("flushed", flushed),
		slog.Int64("dropped", d.dropped.Load()),
	)
	return nil
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			d.write(context.WithoutCancel(ctx), ev)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case ev := <-d.events:
			d.write(ctx, ev)
			n++
		default:
			return n
		}
		if ctx.Err() != nil {
			return n
		}
	}
}

func (d *Dispatcher) write(ctx context.Context, ev events.Event) {
	wctx, cancel := context.WithTimeout(ctx, d.opts.WriteTimeout)
	defer cancel()

	if err := d.sink.Record(wctx, ev); err != nil {
		d.failed.Add(1)
		d.count(ctx, "failed")
		d.logger.Warn("failed to record telemetry event",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	d.written.Add(1)
	d.count(ctx, "written")
}

func (d *Dispatcher) count(ctx context.Context, outcome string) {
	if d.eventsCounter == nil {
		return
	}
	d.eventsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("sink", d.sink.Name()),
	))
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Written: d.written.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
		Queued:  len(d.events),
	}
}

// Sink returns the sink the dispatcher writes to.
func (d *Dispatcher) Sink() Sink {
	return d.sink
}
