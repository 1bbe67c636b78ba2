package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"licsrv/pkg/contracts/domain"
)

// ResilientOptions bounds the latency of every store call.
type ResilientOptions struct {
	// Timeout applies to each attempt.
	Timeout time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Backoff is the delay before the second attempt; it doubles afterwards.
	Backoff time.Duration
}

// DefaultResilientOptions returns the defaults used when config leaves them unset.
func DefaultResilientOptions() ResilientOptions {
	return ResilientOptions{
		Timeout:  3 * time.Second,
		Attempts: 3,
		Backoff:  100 * time.Millisecond,
	}
}

// Resilient decorates a Store with per-attempt timeouts and bounded retries.
// Domain outcomes (ErrNotFound, ErrDuplicateKey, mutation errors) are returned
// as-is and never retried. When the retry budget is spent the caller gets an
// error wrapping ErrUnavailable.
//
// A write whose attempt timed out is not retried: the backend may have
// committed it, and replaying a Put would mint a second license.
type Resilient struct {
	next   Store
	opts   ResilientOptions
	logger *slog.Logger
}

// NewResilient wraps next.
func NewResilient(next Store, opts ResilientOptions, logger *slog.Logger) *Resilient {
	def := DefaultResilientOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = def.Backoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{
		next:   next,
		opts:   opts,
		logger: logger.With(slog.String("component", "store")),
	}
}

// Unwrap returns the decorated store.
func (r *Resilient) Unwrap() Store {
	return r.next
}

func (r *Resilient) do(ctx context.Context, op string, write bool, fn func(context.Context) error) error {
	backoff := r.opts.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		err = fn(actx)
		cancel()

		if err == nil || !r.retryable(ctx, err, write) {
			break
		}
		if attempt >= r.opts.Attempts {
			break
		}
		r.logger.WarnContext(ctx, "store call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err == nil || isDomainOutcome(err) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	r.logger.ErrorContext(ctx, "store unavailable",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (r *Resilient) retryable(ctx context.Context, err error, write bool) bool {
	switch {
	case isDomainOutcome(err):
		return false
	case ctx.Err() != nil:
		return false
	case write && errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func isDomainOutcome(err error) bool {
	var m *mutationError
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) || errors.As(err, &m)
}

// mutationError marks an error produced by the caller's Mutation so it can
// be told apart from backend failures.
type mutationError struct {
	err error
}

func (e *mutationError) Error() string { return e.err.Error() }
func (e *mutationError) Unwrap() error { return e.err }

func (r *Resilient) Put(ctx context.Context, l *domain.License) error {
	return r.do(ctx, "put", true, func(ctx context.Context) error {
		return r.next.Put(ctx, l)
	})
}

func (r *Resilient) Get(ctx context.Context, key string) (*domain.License, error) {
	var out *domain.License
	err := r.do(ctx, "get", false, func(ctx context.Context) error {
		var err error
		out, err = r.next.Get(ctx, key)
		return err
	})
	return out, err
}

func (r *Resilient) Update(ctx context.Context, key string, mutate Mutation) (*domain.License, error) {
	var out *domain.License
	err := r.do(ctx, "update", true, func(ctx context.Context) error {
		var err error
		out, err = r.next.Update(ctx, key, func(l *domain.License) error {
			if err := mutate(l); err != nil {
				return &mutationError{err: err}
			}
			return nil
		})
		return err
	})
	var m *mutationError
	if errors.As(err, &m) {
		return nil, m.err
	}
	return out, err
}

func (r *Resilient) ListByEmail(ctx context.Context, email string) ([]*domain.License, error) {
	var out []*domain.License
	err := r.do(ctx, "list_by_email", false, func(ctx context.Context) error {
		var err error
		out, err = r.next.ListByEmail(ctx, email)
		return err
	})
	return out, err
}

func (r *Resilient) List(ctx context.Context) ([]*domain.License, error) {
	var out []*domain.License
	err := r.do(ctx, "list", false, func(ctx context.Context) error {
		var err error
		out, err = r.next.List(ctx)
		return err
	})
	return out, err
}

func (r *Resilient) AppendActivation(ctx context.Context, ev domain.ActivationEvent) error {
	return r.do(ctx, "append_activation", true, func(ctx context.Context) error {
		return r.next.AppendActivation(ctx, ev)
	})
}

func (r *Resilient) Activations(ctx context.Context, key string) ([]domain.ActivationEvent, error) {
	var out []domain.ActivationEvent
	err := r.do(ctx, "activations", false, func(ctx context.Context) error {
		var err error
		out, err = r.next.Activations(ctx, key)
		return err
	})
	return out, err
}

func (r *Resilient) PruneActivations(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := r.do(ctx, "prune_activations", true, func(ctx context.Context) error {
		var err error
		n, err = r.next.PruneActivations(ctx, cutoff)
		return err
	})
	return n, err
}

func (r *Resilient) Ping(ctx context.Context) error {
	return r.do(ctx, "ping", false, r.next.Ping)
}

func (r *Resilient) Close(ctx context.Context) error {
	return r.next.Close(ctx)
}
