// Package domain contains the core domain models for the license server.
// These types serve as the Single Source of Truth (SSOT) for all layers of the application.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// LicenseType is the commercial variant of a license. Each type maps to a
// fixed validity window counted from the issue date.
type LicenseType string

const (
	LicenseTypeTrial    LicenseType = "trial"
	LicenseTypeMonthly  LicenseType = "monthly"
	LicenseTypeAnnual   LicenseType = "annual"
	LicenseTypeLifetime LicenseType = "lifetime"
)

// DefaultLicenseType is used when an issue request leaves the type empty.
const DefaultLicenseType = LicenseTypeAnnual

// licenseDays is the duration table, in days.
var licenseDays = map[LicenseType]int{
	LicenseTypeTrial:    7,
	LicenseTypeMonthly:  30,
	LicenseTypeAnnual:   365,
	LicenseTypeLifetime: 36500,
}

// LicenseTypes returns every known type in ascending duration order.
func LicenseTypes() []LicenseType {
	return []LicenseType{LicenseTypeTrial, LicenseTypeMonthly, LicenseTypeAnnual, LicenseTypeLifetime}
}

// ParseLicenseType normalizes s and returns the matching type. An empty string
// yields DefaultLicenseType.
func ParseLicenseType(s string) (LicenseType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultLicenseType, nil
	}
	t := LicenseType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown license type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known license types.
func (t LicenseType) Valid() bool {
	_, ok := licenseDays[t]
	return ok
}

// Days returns the validity window in days, or 0 for an unknown type.
func (t LicenseType) Days() int {
	return licenseDays[t]
}

// Duration returns the validity window as a time.Duration (days × 24h).
func (t LicenseType) Duration() time.Duration {
	return time.Duration(t.Days()) * 24 * time.Hour
}

// ActivationState tracks whether a license has ever been bound to a device.
type ActivationState string

const (
	ActivationStateNotActivated ActivationState = "not_activated"
	ActivationStateActivated    ActivationState = "activated"
)

// License represents a customer license record as persisted by the store.
type License struct {
	Key        string      `json:"key" bson:"key" db:"key"`
	OwnerEmail string      `json:"email" bson:"email" db:"owner_email"`
	OwnerName  string      `json:"name" bson:"name" db:"owner_name"`
	Type       LicenseType `json:"licenseType" bson:"license_type" db:"license_type"`

	IssuedAt  time.Time `json:"issuedAt" bson:"issued_at" db:"issued_at"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expires_at" db:"expires_at"`

	State      ActivationState `json:"activationState" bson:"activation_state" db:"activation_state"`
	Enabled    bool            `json:"enabled" bson:"enabled" db:"enabled"`
	DeviceID   string          `json:"deviceId,omitempty" bson:"device_id,omitempty" db:"device_id"`
	DeviceName string          `json:"deviceName,omitempty" bson:"device_name,omitempty" db:"device_name"`

	ActivationCount int `json:"activationCount" bson:"activation_count" db:"activation_count"`
	// MaxActivations is informational only; the single-device binding is the
	// only enforced limit.
	MaxActivations int `json:"maxActivations" bson:"max_activations" db:"max_activations"`

	ActivatedAt      *time.Time `json:"activatedAt,omitempty" bson:"activated_at,omitempty" db:"activated_at"`
	DeviceReleasedAt *time.Time `json:"deviceReleasedAt,omitempty" bson:"device_released_at,omitempty" db:"device_released_at"`

	// Version is bumped by the store on every successful update.
	Version int64 `json:"-" bson:"version" db:"version"`
}

// Bound reports whether the license is currently bound to a device.
func (l *License) Bound() bool {
	return l.DeviceID != ""
}

// Activated reports whether the license has been activated.
func (l *License) Activated() bool {
	return l.State == ActivationStateActivated
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (l *License) Clone() *License {
	if l == nil {
		return nil
	}
	c := *l
	if l.ActivatedAt != nil {
		t := *l.ActivatedAt
		c.ActivatedAt = &t
	}
	if l.DeviceReleasedAt != nil {
		t := *l.DeviceReleasedAt
		c.DeviceReleasedAt = &t
	}
	return &c
}

// ActivationEvent is the append-only audit record written once per
// successful activation.
type ActivationEvent struct {
	Key        string    `json:"key" bson:"key" db:"license_key"`
	Email      string    `json:"email" bson:"email" db:"email"`
	DeviceID   string    `json:"deviceId" bson:"device_id" db:"device_id"`
	DeviceName string    `json:"deviceName,omitempty" bson:"device_name,omitempty" db:"device_name"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp" db:"occurred_at"`
}
