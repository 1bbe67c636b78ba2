// Package api contains API contract definitions for the license server.
// Version v1 represents the current stable API version. Field names are the
// wire contract shared with installed clients and the admin tooling.
package api

// License API Requests

// IssueRequest asks the server to issue a new license.
type IssueRequest struct {
	AdminSecret string `json:"adminSecret,omitempty"`
	Email       string `json:"email" validate:"required"`
	Name        string `json:"name" validate:"required"`
	LicenseType string `json:"licenseType,omitempty"`
}

// ActivateRequest binds a license to the caller's device.
type ActivateRequest struct {
	Key      string `json:"key" validate:"required"`
	Email    string `json:"email" validate:"required"`
	DeviceID string `json:"deviceId" validate:"required"`
	// Name is an optional human label for the device.
	Name string `json:"name,omitempty"`
}

// VerifyRequest checks whether an installed license is still valid.
type VerifyRequest struct {
	Key   string `json:"key" validate:"required"`
	Email string `json:"email" validate:"required"`
}

// AccessRequest asks whether an email owns a usable license, without naming
// the key.
type AccessRequest struct {
	Email string `json:"email" validate:"required"`
}

// SetEnabledRequest toggles the administrative enabled flag. Enabled is a
// pointer so an omitted field can be told apart from false.
type SetEnabledRequest struct {
	AdminSecret string `json:"adminSecret,omitempty"`
	Key         string `json:"key,omitempty"`
	Enabled     *bool  `json:"enabled" validate:"required"`
}

// ReleaseDeviceRequest clears the device binding of a license.
type ReleaseDeviceRequest struct {
	AdminSecret string `json:"adminSecret,omitempty"`
	Key         string `json:"key,omitempty"`
}

// Telemetry API Requests

// TelemetrySessionRequest records that a client opened a session.
type TelemetrySessionRequest struct {
	Email    string `json:"email" validate:"required"`
	DeviceID string `json:"deviceId,omitempty"`
}

// TelemetryPluginRequest records one use of a plugin by a client.
type TelemetryPluginRequest struct {
	Email    string `json:"email" validate:"required"`
	Plugin   string `json:"plugin" validate:"required,max=128"`
	DeviceID string `json:"deviceId,omitempty"`
}
