package services

import (
	"context"
	"log/slog"
	"strings"

	"licsrv/internal/license"
	"licsrv/internal/security"
	api "licsrv/pkg/contracts/api/v1"
	"licsrv/pkg/contracts/domain"
)

// LicenseService exposes the license operations in wire terms.
type LicenseService struct {
	manager *license.Manager
	logger  *slog.Logger
}

// NewLicenseService creates a license service over manager.
func NewLicenseService(manager *license.Manager, logger *slog.Logger) *LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseService{
		manager: manager,
		logger:  logger.With(slog.String("service", "license")),
	}
}

// Issue mints a license. Name and email are sanitized before they are
// stored.
func (s *LicenseService) Issue(ctx context.Context, req api.IssueRequest) (*api.IssueResponse, error) {
	l, err := s.manager.Issue(ctx, license.IssueRequest{
		Email: security.SanitizeText(req.Email, security.MaxTextLength),
		Name:  security.SanitizeText(req.Name, security.MaxTextLength),
		Type:  req.LicenseType,
	})
	if err != nil {
		return nil, err
	}
	return &api.IssueResponse{
		Success:     true,
		Key:         l.Key,
		Email:       l.OwnerEmail,
		Name:        l.OwnerName,
		LicenseType: l.Type,
		IssuedAt:    l.IssuedAt,
		ExpiresAt:   l.ExpiresAt,
	}, nil
}

// Activate binds the license to the caller's device.
func (s *LicenseService) Activate(ctx context.Context, req api.ActivateRequest) (*api.ValidityResponse, error) {
	res, err := s.manager.Activate(ctx, license.ActivationRequest{
		Key:        req.Key,
		Email:      req.Email,
		DeviceID:   req.DeviceID,
		DeviceName: security.SanitizeText(req.Name, security.MaxTextLength),
	})
	if err != nil {
		return nil, err
	}
	return validResponse(res.ExpiresAt, res.Type, res.DaysRemaining), nil
}

// Verify checks an installed license without changing it.
func (s *LicenseService) Verify(ctx context.Context, req api.VerifyRequest) (*api.ValidityResponse, error) {
	v, err := s.manager.Verify(ctx, req.Key, req.Email)
	if err != nil {
		return nil, err
	}
	return validResponse(v.ExpiresAt, v.Type, v.DaysRemaining), nil
}

// CheckAccess reports whether the caller's email owns an activated,
// usable license.
func (s *LicenseService) CheckAccess(ctx context.Context, req api.AccessRequest) (*api.ValidityResponse, error) {
	v, err := s.manager.CheckAccess(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	return validResponse(v.ExpiresAt, v.Type, v.DaysRemaining), nil
}

// SetEnabled toggles the administrative flag of key.
func (s *LicenseService) SetEnabled(ctx context.Context, key string, enabled bool) (*api.AdminResponse, error) {
	l, err := s.manager.SetEnabled(ctx, key, enabled)
	if err != nil {
		return nil, err
	}
	msg := "License disabled"
	if l.Enabled {
		msg = "License enabled"
	}
	return &api.AdminResponse{Success: true, Message: msg}, nil
}

// ReleaseDevice clears the device binding of key.
func (s *LicenseService) ReleaseDevice(ctx context.Context, key string) (*api.AdminResponse, error) {
	if _, err := s.manager.ReleaseDevice(ctx, key); err != nil {
		return nil, err
	}
	return &api.AdminResponse{Success: true, Message: "Device released"}, nil
}

// Get returns the admin view of key.
func (s *LicenseService) Get(ctx context.Context, key string) (*api.LicenseView, error) {
	l, err := s.manager.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	view := s.view(l)
	return &view, nil
}

// List returns every license, or only those owned by email when it is set.
func (s *LicenseService) List(ctx context.Context, email string) (*api.LicenseListResponse, error) {
	var (
		ls  []*domain.License
		err error
	)
	if strings.TrimSpace(email) == "" {
		ls, err = s.manager.List(ctx)
	} else {
		ls, err = s.manager.ListByEmail(ctx, email)
	}
	if err != nil {
		return nil, err
	}

	views := make([]api.LicenseView, 0, len(ls))
	for _, l := range ls {
		views = append(views, s.view(l))
	}
	return &api.LicenseListResponse{Success: true, Count: len(views), Licenses: views}, nil
}

// Activations returns the activation history of key.
func (s *LicenseService) Activations(ctx context.Context, key string) (*api.ActivationHistoryResponse, error) {
	evs, err := s.manager.Activations(ctx, key)
	if err != nil {
		return nil, err
	}
	if evs == nil {
		evs = []domain.ActivationEvent{}
	}
	return &api.ActivationHistoryResponse{
		Success:     true,
		Key:         license.NormalizeKey(key),
		Activations: evs,
	}, nil
}

func (s *LicenseService) view(l *domain.License) api.LicenseView {
	now := s.manager.Now()
	return api.LicenseView{
		License:       *l,
		Expired:       now.After(l.ExpiresAt),
		DaysRemaining: license.DaysRemaining(l.ExpiresAt, now),
	}
}
