package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"licsrv/pkg/contracts/domain"
)

// fileSnapshot is the in-memory view of a JSONFile store.
type fileSnapshot struct {
	Licenses    []*domain.License
	Activations []domain.ActivationEvent
}

// fileRecord carries the store-owned Version next to the license fields,
// since the wire type does not serialize it.
type fileRecord struct {
	domain.License
	Version int64 `json:"version"`
}

// fileLayout is the on-disk layout of a JSONFile store.
type fileLayout struct {
	Licenses    []fileRecord             `json:"licenses"`
	Activations []domain.ActivationEvent `json:"activations"`
}

func (s *fileSnapshot) layout() *fileLayout {
	out := &fileLayout{
		Licenses:    make([]fileRecord, 0, len(s.Licenses)),
		Activations: s.Activations,
	}
	if out.Activations == nil {
		out.Activations = []domain.ActivationEvent{}
	}
	for _, l := range s.Licenses {
		out.Licenses = append(out.Licenses, fileRecord{License: *l, Version: l.Version})
	}
	return out
}

func (f *fileLayout) snapshot() *fileSnapshot {
	snap := &fileSnapshot{
		Licenses:    make([]*domain.License, 0, len(f.Licenses)),
		Activations: f.Activations,
	}
	for i := range f.Licenses {
		l := f.Licenses[i].License
		l.Version = f.Licenses[i].Version
		snap.Licenses = append(snap.Licenses, &l)
	}
	return snap
}

func (s *fileSnapshot) find(key string) int {
	for i, l := range s.Licenses {
		if l.Key == key {
			return i
		}
	}
	return -1
}

// JSONFile persists the whole data set in one JSON document. Every operation
// loads the full file, mutates it and writes it back through a temp file and
// rename. A single process-wide lock serializes all access, which makes it
// suitable for low-volume, single-process deployments only: two processes
// sharing the same file get no isolation from each other.
type JSONFile struct {
	path string
	mu   sync.Mutex
}

// OpenJSONFile opens (creating if needed) the JSON store at path.
func OpenJSONFile(path string) (*JSONFile, error) {
	if path == "" {
		return nil, errors.New("json file store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	s := &JSONFile{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.save(&fileSnapshot{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat store file: %w", err)
	}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file location.
func (s *JSONFile) Path() string {
	return s.path
}

func (s *JSONFile) load() (*fileSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(data) == 0 {
		return &fileSnapshot{}, nil
	}
	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("decode store file: %w", err)
	}
	return layout.snapshot(), nil
}

func (s *JSONFile) save(snap *fileSnapshot) error {
	data, err := json.MarshalIndent(snap.layout(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".licenses-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

// withSnapshot runs fn under the process-wide lock. The snapshot is written
// back only when fn reports a change.
func (s *JSONFile) withSnapshot(ctx context.Context, fn func(*fileSnapshot) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(snap)
	if err != nil || !changed {
		return err
	}
	return s.save(snap)
}

func (s *JSONFile) Put(ctx context.Context, l *domain.License) error {
	return s.withSnapshot(ctx, func(snap *fileSnapshot) (bool, error) {
		if snap.find(l.Key) >= 0 {
			return false, ErrDuplicateKey
		}
		snap.Licenses = append(snap.Licenses, l.Clone())
		return true, nil
	})
}

func (s *JSONFile) Get(ctx context.Context, key string) (*domain.License, error) {
	var out *domain.License
	err := s.withSnapshot(ctx, func(snap *fileSnapshot) (bool, error) {
		i := snap.find(key)
		if i < 0 {
			return false, ErrNotFound
		}
		out = snap.Licenses[i].Clone()
		return false, nil
	})
	return out, err
}

func (s *JSONFile) Update(ctx context.Context, key string, mutate Mutation) (*domain.License, error) {
	var out *domain.License
	err := s.withSnapshot(ctx, func(snap *fileSnapshot) (bool, error) {
		i := snap.find(key)
		if i < 0 {
			return false, ErrNotFound
		}
		next, err := applyMutation(snap.Licenses[i], mutate)
		if err != nil {
			return false, err
		}
		snap.Licenses[i] = next
		out = next.Clone()
		return true, nil
	})
	return out, err
}

func (s *JSONFile) ListByEmail(ctx context.Context, email string) ([]*domain.License, error) {
	want := normalizeEmail(email)
	return s.collect(ctx, func(l *domain.License) bool {
		return normalizeEmail(l.OwnerEmail) == want
	})
}

func (s *JSONFile) List(ctx context.Context) ([]*domain.License, error) {
	return s.collect(ctx, func(*domain.License) bool { return true })
}

func (s *JSONFile) collect(ctx context.Context, keep func(*domain.License) bool) ([]*domain.License, error) {
	var out []*domain.License
	err := s.withSnapshot(ctx, func(snap *fileSnapshot) (bool, error) {
		for _, l := range snap.Licenses {
			if keep(l) {
				out = append(out, l.Clone())
			}
		}
		return false, nil
	})
	sortLicenses(out)
	return out, err
}

func (s *JSONFile) AppendActivation(ctx context.Context, ev domain.ActivationEvent) error {
	return s.withSnapshot(ctx, func(snap *fileSnapshot) (bool, error) {
		snap.Activations = append(snap.Activations, ev)
		return true, nil
	})
}

func (s *JSONFile) Activations(ctx context.Context, key string) ([]domain.ActivationEvent, error) {
	var out []domain.ActivationEvent
	err := s.withSnapshot(ctx, func(snap *fileSnapshot) (bool, error) {
		for _, ev := range snap.Activations {
			if ev.Key == key {
				out = append(out, ev)
			}
		}
		return false, nil
	})
	return out, err
}

func (s *JSONFile) PruneActivations(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := s.withSnapshot(ctx, func(snap *fileSnapshot) (bool, error) {
		kept := snap.Activations[:0]
		for _, ev := range snap.Activations {
			if ev.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, ev)
		}
		snap.Activations = kept
		return removed > 0, nil
	})
	return removed, err
}

func (s *JSONFile) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(s.path)
	return err
}

func (s *JSONFile) Close(context.Context) error {
	return nil
}
