package testutil

import (
	"time"

	"licsrv/pkg/contracts/domain"
)

// FixtureTime is the reference instant used by the license fixtures.
var FixtureTime = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

// Fixture keys, all in the issued key format.
const (
	FixtureKeyFresh     = "AAAA-BBBB-CCCC-DDDD"
	FixtureKeyActivated = "AB12-CD34-EF56-GH78"
	FixtureKeyExpired   = "EXP1-EXP2-EXP3-EXP4"
	FixtureKeyDisabled  = "DIS1-DIS2-DIS3-DIS4"
)

// LicenseOption adjusts a fixture license.
type LicenseOption func(*domain.License)

// NewLicense returns an issued, enabled, not yet activated license of type t
// issued at FixtureTime.
func NewLicense(key, email string, t domain.LicenseType, opts ...LicenseOption) *domain.License {
	l := &domain.License{
		Key:            key,
		OwnerEmail:     email,
		OwnerName:      "Test Owner",
		Type:           t,
		IssuedAt:       FixtureTime,
		ExpiresAt:      FixtureTime.Add(t.Duration()),
		State:          domain.ActivationStateNotActivated,
		Enabled:        true,
		MaxActivations: 1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Activated binds the fixture to deviceID.
func Activated(deviceID string) LicenseOption {
	return func(l *domain.License) {
		at := l.IssuedAt
		l.State = domain.ActivationStateActivated
		l.DeviceID = deviceID
		l.DeviceName = "PC de " + l.OwnerEmail
		l.ActivatedAt = &at
		l.ActivationCount = 1
	}
}

// Disabled clears the enabled flag.
func Disabled() LicenseOption {
	return func(l *domain.License) { l.Enabled = false }
}

// ExpiredAt moves the expiry to at.
func ExpiredAt(at time.Time) LicenseOption {
	return func(l *domain.License) { l.ExpiresAt = at }
}

// StandardLicenses returns one license per fixture key: fresh, activated on
// "device-1", expired one day before FixtureTime, and disabled.
func StandardLicenses() []*domain.License {
	return []*domain.License{
		NewLicense(FixtureKeyFresh, "fresh@example.com", domain.LicenseTypeAnnual),
		NewLicense(FixtureKeyActivated, "ana@example.com", domain.LicenseTypeAnnual, Activated("device-1")),
		NewLicense(FixtureKeyExpired, "late@example.com", domain.LicenseTypeTrial,
			Activated("device-2"), ExpiredAt(FixtureTime.Add(-24*time.Hour))),
		NewLicense(FixtureKeyDisabled, "off@example.com", domain.LicenseTypeMonthly,
			Activated("device-3"), Disabled()),
	}
}
