package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"licsrv/pkg/contracts/domain"
)

// Stats counts operations served by a Memory store.
type Stats struct {
	Reads  int64 `json:"reads"`
	Writes int64 `json:"writes"`
}

// Memory is an in-process Store. Records are copied on the way in and out so
// callers never share memory with the store.
type Memory struct {
	mu          sync.RWMutex
	licenses    map[string]*domain.License
	activations []domain.ActivationEvent
	keys        *keyLocks

	reads  atomic.Int64
	writes atomic.Int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		licenses: make(map[string]*domain.License),
		keys:     newKeyLocks(),
	}
}

// Stats returns a snapshot of the read and write counters.
func (m *Memory) Stats() Stats {
	return Stats{Reads: m.reads.Load(), Writes: m.writes.Load()}
}

func (m *Memory) Put(ctx context.Context, l *domain.License) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.licenses[l.Key]; exists {
		return ErrDuplicateKey
	}
	m.licenses[l.Key] = l.Clone()
	m.writes.Add(1)
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (*domain.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.reads.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.licenses[key]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, key string, mutate Mutation) (*domain.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock, err := m.keys.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.RLock()
	cur, ok := m.licenses[key]
	m.mu.RUnlock()
	m.reads.Add(1)
	if !ok {
		return nil, ErrNotFound
	}

	next, err := applyMutation(cur, mutate)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.licenses[key] = next
	m.mu.Unlock()
	m.writes.Add(1)
	return next.Clone(), nil
}

func (m *Memory) ListByEmail(ctx context.Context, email string) ([]*domain.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := normalizeEmail(email)
	return m.filter(func(l *domain.License) bool {
		return normalizeEmail(l.OwnerEmail) == want
	}), nil
}

func (m *Memory) List(ctx context.Context) ([]*domain.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.filter(func(*domain.License) bool { return true }), nil
}

func (m *Memory) filter(keep func(*domain.License) bool) []*domain.License {
	m.reads.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.License, 0, len(m.licenses))
	for _, l := range m.licenses {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	sortLicenses(out)
	return out
}

func (m *Memory) AppendActivation(ctx context.Context, ev domain.ActivationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activations = append(m.activations, ev)
	m.writes.Add(1)
	return nil
}

func (m *Memory) Activations(ctx context.Context, key string) ([]domain.ActivationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.reads.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ActivationEvent
	for _, ev := range m.activations {
		if ev.Key == key {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) PruneActivations(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.activations[:0]
	for _, ev := range m.activations {
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	removed := len(m.activations) - len(kept)
	m.activations = kept
	return removed, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close(context.Context) error {
	return nil
}

// sortLicenses orders by issue time, then key, so listings are stable.
func sortLicenses(ls []*domain.License) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].IssuedAt.Equal(ls[j].IssuedAt) {
			return ls[i].Key < ls[j].Key
		}
		return ls[i].IssuedAt.Before(ls[j].IssuedAt)
	})
}
