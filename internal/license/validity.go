package license

import (
	"time"

	"licsrv/pkg/contracts/domain"
)

const day = 24 * time.Hour

// Verdict is the outcome of evaluating a license at a point in time.
type Verdict struct {
	Valid         bool
	Reason        Reason
	ExpiresAt     time.Time
	Type          domain.LicenseType
	DaysRemaining int
}

// Err returns the matching *Error for an invalid verdict, or nil.
func (v Verdict) Err() error {
	if v.Valid {
		return nil
	}
	return &Error{Reason: v.Reason}
}

// Evaluate decides whether l is valid at now. It only reads l.
//
// A license is valid when it exists, is enabled, is activated and now is not
// after ExpiresAt. Failures are reported in that order.
func Evaluate(l *domain.License, now time.Time) Verdict {
	if l == nil {
		return Verdict{Reason: ReasonLicenseNotFound}
	}
	v := Verdict{
		ExpiresAt: l.ExpiresAt,
		Type:      l.Type,
	}
	switch {
	case !l.Enabled:
		v.Reason = ReasonLicenseDisabled
	case !l.Activated():
		v.Reason = ReasonNotActivated
	case now.After(l.ExpiresAt):
		v.Reason = ReasonLicenseExpired
	default:
		v.Valid = true
		v.DaysRemaining = DaysRemaining(l.ExpiresAt, now)
	}
	return v
}

// preferredOver ranks verdicts for the same owner: valid beats invalid, then
// the later expiry wins.
func (v Verdict) preferredOver(o Verdict) bool {
	if v.Valid != o.Valid {
		return v.Valid
	}
	return v.ExpiresAt.After(o.ExpiresAt)
}

// DaysRemaining rounds the time left up to whole days. It is 0 once expired.
func DaysRemaining(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + day - 1) / day)
}
