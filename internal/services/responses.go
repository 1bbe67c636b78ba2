package services

import (
	"time"

	api "licsrv/pkg/contracts/api/v1"
	"licsrv/pkg/contracts/domain"
)

func validResponse(expiresAt time.Time, lt domain.LicenseType, days int) *api.ValidityResponse {
	return &api.ValidityResponse{
		Validity:      true,
		ExpiresAt:     &expiresAt,
		LicenseType:   lt,
		DaysRemaining: &days,
	}
}

// InvalidResponse is the validity=false body for a rejected activation or
// verification.
func InvalidResponse(reason, message string) *api.ValidityResponse {
	return &api.ValidityResponse{Reason: reason, Message: message}
}
