package api

import (
	"time"

	"licsrv/pkg/contracts/domain"
)

// IssueResponse is returned once, on issuance. It is the only response that
// discloses a freshly generated key.
type IssueResponse struct {
	Success     bool               `json:"success"`
	Key         string             `json:"key"`
	Email       string             `json:"email"`
	Name        string             `json:"name"`
	LicenseType domain.LicenseType `json:"licenseType"`
	IssuedAt    time.Time          `json:"issuedAt"`
	ExpiresAt   time.Time          `json:"expiresAt"`
}

// ValidityResponse answers Activate and Verify.
type ValidityResponse struct {
	Validity      bool               `json:"validity"`
	Reason        string             `json:"reason,omitempty"`
	Message       string             `json:"message,omitempty"`
	ExpiresAt     *time.Time         `json:"expiresAt,omitempty"`
	LicenseType   domain.LicenseType `json:"licenseType,omitempty"`
	DaysRemaining *int               `json:"daysRemaining,omitempty"`
}

// AdminResponse confirms an administrative mutation.
type AdminResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Failure is the uniform body for every failed admin or infrastructure call.
type Failure struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	TraceID string `json:"traceId,omitempty"`
}

// LicenseView is the admin read model of a license.
type LicenseView struct {
	domain.License
	Expired       bool `json:"expired"`
	DaysRemaining int  `json:"daysRemaining"`
}

// LicenseListResponse wraps an admin listing.
type LicenseListResponse struct {
	Success  bool          `json:"success"`
	Count    int           `json:"count"`
	Licenses []LicenseView `json:"licenses"`
}

// ActivationHistoryResponse lists the audit trail of one license.
type ActivationHistoryResponse struct {
	Success     bool                     `json:"success"`
	Key         string                   `json:"key"`
	Activations []domain.ActivationEvent `json:"activations"`
}

// TelemetryAck acknowledges a telemetry submission. Success is false only
// when the payload was rejected; a dropped event is still acknowledged.
type TelemetryAck struct {
	Success bool `json:"success"`
}
