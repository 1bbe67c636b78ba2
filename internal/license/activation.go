package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"licsrv/internal/store"
	"licsrv/pkg/contracts/domain"
	"licsrv/pkg/contracts/events"
)

// ActivationRequest binds a license to a device.
type ActivationRequest struct {
	Key        string
	Email      string
	DeviceID   string
	DeviceName string
}

// ActivationResult describes the license after a successful activation.
type ActivationResult struct {
	License       *domain.License
	ExpiresAt     time.Time
	Type          domain.LicenseType
	Remaining     time.Duration
	DaysRemaining int
}

// Activate runs the ordered activation checks and binds the device. The
// whole check-and-write sequence runs inside store.Update, so two concurrent
// activations of one key from different devices cannot both win.
func (m *Manager) Activate(ctx context.Context, req ActivationRequest) (*ActivationResult, error) {
	key := NormalizeKey(req.Key)
	deviceID := strings.TrimSpace(req.DeviceID)

	var result *ActivationResult
	err := m.traceOperation(ctx, opActivate, key, func(ctx context.Context) error {
		if missing := requiredOf(map[string]string{"key": key, "email": req.Email, "deviceId": deviceID}); len(missing) > 0 {
			return missingFields(missing...)
		}

		now := m.clock()
		deviceName := strings.TrimSpace(req.DeviceName)

		updated, err := m.store.Update(ctx, key, func(l *domain.License) error {
			if !sameEmail(l.OwnerEmail, req.Email) {
				return ErrEmailMismatch
			}
			if !l.Enabled {
				return ErrLicenseDisabled
			}
			if now.After(l.ExpiresAt) {
				return ErrLicenseExpired
			}
			if l.Bound() && l.DeviceID != deviceID {
				return ErrDeviceConflict
			}

			l.State = domain.ActivationStateActivated
			l.DeviceID = deviceID
			switch {
			case deviceName != "":
				l.DeviceName = deviceName
			case l.DeviceName == "":
				l.DeviceName = DefaultDeviceNamePrefix + l.OwnerEmail
			}
			l.ActivationCount++
			activatedAt := now
			l.ActivatedAt = &activatedAt
			return nil
		})
		if errors.Is(err, store.ErrNotFound) {
			return ErrLicenseNotFound
		}
		if err != nil {
			if _, ok := ReasonOf(err); ok {
				return err
			}
			return fmt.Errorf("activate license: %w", err)
		}

		m.recordActivation(ctx, updated, now)

		remaining := updated.ExpiresAt.Sub(now)
		result = &ActivationResult{
			License:       updated,
			ExpiresAt:     updated.ExpiresAt,
			Type:          updated.Type,
			Remaining:     remaining,
			DaysRemaining: DaysRemaining(updated.ExpiresAt, now),
		}
		return nil
	})
	if err != nil {
		m.logFailure(ctx, opActivate, key, err)
		return nil, err
	}

	m.logger.InfoContext(ctx, "license activated",
		slog.String("key", MaskKey(key)),
		slog.String("device_id", deviceID),
		slog.Int("activation_count", result.License.ActivationCount),
	)
	return result, nil
}

// recordActivation appends the audit event and notifies the publisher. The
// binding is already committed, so failures here are logged, not returned.
func (m *Manager) recordActivation(ctx context.Context, l *domain.License, at time.Time) {
	ev := domain.ActivationEvent{
		Key:        l.Key,
		Email:      l.OwnerEmail,
		DeviceID:   l.DeviceID,
		DeviceName: l.DeviceName,
		Timestamp:  at,
	}
	if err := m.store.AppendActivation(ctx, ev); err != nil {
		m.logger.WarnContext(ctx, "failed to append activation event",
			slog.String("key", MaskKey(l.Key)),
			slog.String("error", err.Error()),
		)
	}

	if m.publisher != nil {
		m.publisher.Publish(ctx, events.Event{
			Kind:       events.KindActivation,
			Email:      l.OwnerEmail,
			DeviceID:   l.DeviceID,
			LicenseKey: l.Key,
			OccurredAt: at,
		})
	}
}
