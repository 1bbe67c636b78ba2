package license

import (
	"errors"
	"fmt"
)

// Reason is the stable, machine-readable code reported to clients.
type Reason string

// Reason codes for license operations
const (
	ReasonLicenseNotFound    Reason = "LicenseNotFound"
	ReasonEmailMismatch      Reason = "EmailMismatch"
	ReasonLicenseDisabled    Reason = "LicenseDisabled"
	ReasonLicenseExpired     Reason = "LicenseExpired"
	ReasonDeviceConflict     Reason = "DeviceConflict"
	ReasonNotActivated       Reason = "NotActivated"
	ReasonMissingFields      Reason = "MissingFields"
	ReasonInvalidLicenseType Reason = "InvalidLicenseType"
	ReasonUnauthorized       Reason = "Unauthorized"
	ReasonServiceUnavailable Reason = "ServiceUnavailable"
	ReasonInternal           Reason = "InternalError"
)

var reasonMessages = map[Reason]string{
	ReasonLicenseNotFound:    "The license key was not found",
	ReasonEmailMismatch:      "The email does not match the license owner",
	ReasonLicenseDisabled:    "The license has been disabled",
	ReasonLicenseExpired:     "The license has expired",
	ReasonDeviceConflict:     "The license is already activated on another device",
	ReasonNotActivated:       "The license has not been activated",
	ReasonMissingFields:      "Required fields are missing",
	ReasonInvalidLicenseType: "Unknown license type",
	ReasonUnauthorized:       "Unauthorized",
	ReasonServiceUnavailable: "The license service is temporarily unavailable",
	ReasonInternal:           "Internal server error",
}

// Message returns the default human-readable text for r.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// IsValidation reports whether r describes a malformed request rather than
// the state of a license.
func (r Reason) IsValidation() bool {
	return r == ReasonMissingFields || r == ReasonInvalidLicenseType
}

// Error is an expected, deterministic failure. It is never retried.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return string(e.Reason)
}

// Message returns the client-facing text.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Reason.Message()
}

// Is matches any *Error with the same Reason, so detailed errors still
// satisfy errors.Is against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// Sentinel errors
var (
	ErrLicenseNotFound    = &Error{Reason: ReasonLicenseNotFound}
	ErrEmailMismatch      = &Error{Reason: ReasonEmailMismatch}
	ErrLicenseDisabled    = &Error{Reason: ReasonLicenseDisabled}
	ErrLicenseExpired     = &Error{Reason: ReasonLicenseExpired}
	ErrDeviceConflict     = &Error{Reason: ReasonDeviceConflict}
	ErrNotActivated       = &Error{Reason: ReasonNotActivated}
	ErrMissingFields      = &Error{Reason: ReasonMissingFields}
	ErrInvalidLicenseType = &Error{Reason: ReasonInvalidLicenseType}
	ErrUnauthorized       = &Error{Reason: ReasonUnauthorized}
)

// ErrKeySpaceExhausted is returned when every generated key collided.
var ErrKeySpaceExhausted = errors.New("could not generate a unique license key")

func missingFields(fields ...string) *Error {
	return &Error{Reason: ReasonMissingFields, Detail: fmt.Sprintf("missing required fields: %v", fields)}
}

// ReasonOf extracts the Reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason, true
	}
	return "", false
}
