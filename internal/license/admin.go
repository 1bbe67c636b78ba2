package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"licsrv/internal/store"
	"licsrv/pkg/contracts/domain"
)

// SetEnabled toggles the admin switch of a license. Disabling never touches
// the device binding or the activation state.
func (m *Manager) SetEnabled(ctx context.Context, key string, enabled bool) (*domain.License, error) {
	key = NormalizeKey(key)
	var out *domain.License
	err := m.traceOperation(ctx, opSetEnabled, key, func(ctx context.Context) error {
		var err error
		out, err = m.mutate(ctx, key, func(l *domain.License) error {
			l.Enabled = enabled
			return nil
		})
		return err
	})
	if err != nil {
		m.logFailure(ctx, opSetEnabled, key, err)
		return nil, err
	}
	m.logger.InfoContext(ctx, "license enabled state changed",
		slog.String("key", MaskKey(key)),
		slog.Bool("enabled", enabled),
	)
	return out, nil
}

// ReleaseDevice clears the device binding so the next activation may come
// from new hardware. The activation state is left as it is.
func (m *Manager) ReleaseDevice(ctx context.Context, key string) (*domain.License, error) {
	key = NormalizeKey(key)
	now := m.clock()
	var (
		out      *domain.License
		previous string
	)
	err := m.traceOperation(ctx, opReleaseDevice, key, func(ctx context.Context) error {
		var err error
		out, err = m.mutate(ctx, key, func(l *domain.License) error {
			previous = l.DeviceID
			l.DeviceID = ""
			l.DeviceName = ""
			releasedAt := now
			l.DeviceReleasedAt = &releasedAt
			return nil
		})
		return err
	})
	if err != nil {
		m.logFailure(ctx, opReleaseDevice, key, err)
		return nil, err
	}
	m.logger.InfoContext(ctx, "license device released",
		slog.String("key", MaskKey(key)),
		slog.String("previous_device_id", previous),
	)
	return out, nil
}

func (m *Manager) mutate(ctx context.Context, key string, fn store.Mutation) (*domain.License, error) {
	if key == "" {
		return nil, missingFields("key")
	}
	out, err := m.store.Update(ctx, key, fn)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update license: %w", err)
	}
	return out, nil
}
