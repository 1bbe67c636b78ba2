// Package store provides the durable license store used by the license
// engine. The Store interface is deliberately narrow: primary access by key,
// secondary lookup by owner email, and an atomic per-key update.
//
// # Backends
//
//	- Memory:   in-process maps, per-key mutexes (tests, single-node dev)
//	- JSONFile: load-full / mutate / write-full under a process-wide lock
//	- Mongo:    optimistic compare-and-swap on the record version
//	- Postgres: SELECT ... FOR UPDATE inside a transaction
//
// Every backend is normally wrapped in Resilient, which bounds each call with
// a timeout and retries transient failures before surfacing ErrUnavailable.
//
// # Concurrency
//
// Update is the only mutation path for existing records. The mutation runs
// against the latest committed state of the key and its result is written
// only if no other writer committed in between, so read-check-write sequences
// such as activation are serialized per key. Different keys never contend.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"licsrv/pkg/contracts/domain"
)

// Sentinel errors returned by every backend.
var (
	ErrNotFound     = errors.New("license not found")
	ErrDuplicateKey = errors.New("duplicate license key")
	// ErrConflict reports a lost compare-and-swap race. It is transient.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrUnavailable is returned once retries are exhausted or the backend
	// cannot be reached within the configured timeout.
	ErrUnavailable = errors.New("store unavailable")
)

// Mutation edits a license in place. Returning an error aborts the update;
// nothing is written and the error is returned to the caller unchanged.
type Mutation func(l *domain.License) error

// Store is the persistence boundary of the license engine.
type Store interface {
	// Put inserts a new license. Fails with ErrDuplicateKey if the key exists.
	Put(ctx context.Context, l *domain.License) error

	// Get returns a copy of the license or ErrNotFound.
	Get(ctx context.Context, key string) (*domain.License, error)

	// Update applies mutate atomically for key and returns the stored result.
	Update(ctx context.Context, key string, mutate Mutation) (*domain.License, error)

	// ListByEmail returns every license owned by email (case-insensitive).
	ListByEmail(ctx context.Context, email string) ([]*domain.License, error)

	// List returns every license ordered by issue time.
	List(ctx context.Context) ([]*domain.License, error)

	// AppendActivation records an activation audit event.
	AppendActivation(ctx context.Context, ev domain.ActivationEvent) error

	// Activations returns the audit trail for key, oldest first.
	Activations(ctx context.Context, key string) ([]domain.ActivationEvent, error)

	// PruneActivations deletes audit events recorded before cutoff and
	// returns the number removed.
	PruneActivations(ctx context.Context, cutoff time.Time) (int, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close(ctx context.Context) error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// applyMutation runs mutate on a copy of cur and returns the candidate record
// with its version bumped.
func applyMutation(cur *domain.License, mutate Mutation) (*domain.License, error) {
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	// Key and Version belong to the store.
	next.Key = cur.Key
	next.Version = cur.Version + 1
	return next, nil
}
