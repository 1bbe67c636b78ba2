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

// DefaultMaxKeyAttempts bounds the collision retry loop in Issue.
const DefaultMaxKeyAttempts = 8

// DefaultDeviceNamePrefix is prepended to the owner email when an activation
// does not name the device.
const DefaultDeviceNamePrefix = "PC de "

// operation names used for spans, metrics and logs
const (
	opIssue         = "issue"
	opActivate      = "activate"
	opVerify        = "verify"
	opCheckAccess   = "check_access"
	opSetEnabled    = "set_enabled"
	opReleaseDevice = "release_device"
)

// EventPublisher receives usage events. Publish must not block.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event)
}

// Manager is the license engine. It is safe for concurrent use; per-key
// serialization is delegated to the store.
type Manager struct {
	store          store.Store
	keys           KeyGenerator
	now            func() time.Time
	logger         *slog.Logger
	metrics        *Metrics
	publisher      EventPublisher
	maxKeyAttempts int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithKeyGenerator overrides the key generator.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(m *Manager) { m.keys = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics enables OpenTelemetry metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithPublisher forwards activation events to p.
func WithPublisher(p EventPublisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithMaxKeyAttempts sets how many keys Issue tries before giving up.
func WithMaxKeyAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxKeyAttempts = n
		}
	}
}

// NewManager creates a license engine on top of s.
func NewManager(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:          s,
		keys:           NewKeyGenerator(nil),
		now:            time.Now,
		logger:         slog.Default(),
		maxKeyAttempts: DefaultMaxKeyAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "license_manager"))
	return m
}

// clock returns the current time in UTC at millisecond precision, which every
// backend can store without loss.
func (m *Manager) clock() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

// IssueRequest holds the fields needed to mint a license.
type IssueRequest struct {
	Email string
	Name  string
	Type  string
}

// Issue mints a new license. The returned record is the only place the
// plaintext key is disclosed.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*domain.License, error) {
	var issued *domain.License
	err := m.traceOperation(ctx, opIssue, "", func(ctx context.Context) error {
		email := strings.TrimSpace(req.Email)
		name := strings.TrimSpace(req.Name)
		var missing []string
		if email == "" {
			missing = append(missing, "email")
		}
		if name == "" {
			missing = append(missing, "name")
		}
		if len(missing) > 0 {
			return missingFields(missing...)
		}

		lt, err := domain.ParseLicenseType(req.Type)
		if err != nil {
			return &Error{Reason: ReasonInvalidLicenseType, Detail: err.Error()}
		}

		now := m.clock()
		for attempt := 1; attempt <= m.maxKeyAttempts; attempt++ {
			l := &domain.License{
				Key:            m.keys.Generate(),
				OwnerEmail:     email,
				OwnerName:      name,
				Type:           lt,
				IssuedAt:       now,
				ExpiresAt:      now.Add(lt.Duration()),
				State:          domain.ActivationStateNotActivated,
				Enabled:        true,
				MaxActivations: 1,
			}
			err := m.store.Put(ctx, l)
			if errors.Is(err, store.ErrDuplicateKey) {
				if m.metrics != nil {
					m.metrics.IssueKeyCollisions.Add(ctx, 1)
				}
				m.logger.WarnContext(ctx, "generated key collided, retrying",
					slog.Int("attempt", attempt))
				continue
			}
			if err != nil {
				return fmt.Errorf("persist license: %w", err)
			}
			issued = l
			return nil
		}
		return ErrKeySpaceExhausted
	})
	if err != nil {
		m.logFailure(ctx, opIssue, "", err)
		return nil, err
	}

	m.logger.InfoContext(ctx, "license issued",
		slog.String("key", MaskKey(issued.Key)),
		slog.String("email", issued.OwnerEmail),
		slog.String("license_type", string(issued.Type)),
		slog.Time("expires_at", issued.ExpiresAt),
	)
	return issued, nil
}

// Verify checks a license for its owner without changing it. Domain failures
// are returned as *Error; the verdict is only returned when valid.
func (m *Manager) Verify(ctx context.Context, key, email string) (*Verdict, error) {
	key = NormalizeKey(key)
	var verdict Verdict
	err := m.traceOperation(ctx, opVerify, key, func(ctx context.Context) error {
		if key == "" || strings.TrimSpace(email) == "" {
			return missingFields(requiredOf(map[string]string{"key": key, "email": email})...)
		}
		l, err := m.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return ErrLicenseNotFound
		}
		if err != nil {
			return fmt.Errorf("load license: %w", err)
		}
		if !sameEmail(l.OwnerEmail, email) {
			return ErrEmailMismatch
		}
		verdict = Evaluate(l, m.clock())
		return verdict.Err()
	})
	if err != nil {
		m.logFailure(ctx, opVerify, key, err)
		return nil, err
	}
	return &verdict, nil
}

// CheckAccess reports whether email owns a license that is enabled,
// activated and unexpired. Among several owned licenses the valid one that
// expires last wins. When none is valid the error carries the reason of the
// best candidate, or LicenseNotFound when email owns nothing.
func (m *Manager) CheckAccess(ctx context.Context, email string) (*Verdict, error) {
	var verdict Verdict
	err := m.traceOperation(ctx, opCheckAccess, "", func(ctx context.Context) error {
		if strings.TrimSpace(email) == "" {
			return missingFields("email")
		}
		owned, err := m.store.ListByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("list licenses: %w", err)
		}
		if len(owned) == 0 {
			return ErrLicenseNotFound
		}
		now := m.clock()
		verdict = Evaluate(owned[0], now)
		for _, l := range owned[1:] {
			if v := Evaluate(l, now); v.preferredOver(verdict) {
				verdict = v
			}
		}
		return verdict.Err()
	})
	if err != nil {
		m.logFailure(ctx, opCheckAccess, "", err)
		return nil, err
	}
	return &verdict, nil
}

// Get returns a license by key.
func (m *Manager) Get(ctx context.Context, key string) (*domain.License, error) {
	l, err := m.store.Get(ctx, NormalizeKey(key))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLicenseNotFound
	}
	return l, err
}

// List returns every license, oldest first.
func (m *Manager) List(ctx context.Context) ([]*domain.License, error) {
	return m.store.List(ctx)
}

// ListByEmail returns the licenses owned by email.
func (m *Manager) ListByEmail(ctx context.Context, email string) ([]*domain.License, error) {
	if strings.TrimSpace(email) == "" {
		return nil, missingFields("email")
	}
	return m.store.ListByEmail(ctx, email)
}

// Activations returns the activation history of key.
func (m *Manager) Activations(ctx context.Context, key string) ([]domain.ActivationEvent, error) {
	key = NormalizeKey(key)
	if _, err := m.Get(ctx, key); err != nil {
		return nil, err
	}
	return m.store.Activations(ctx, key)
}

// Now returns the engine clock, for callers that render times relative to it.
func (m *Manager) Now() time.Time {
	return m.clock()
}

func (m *Manager) logFailure(ctx context.Context, op, key string, err error) {
	attrs := []any{slog.String("operation", op), slog.String("error", err.Error())}
	if key != "" {
		attrs = append(attrs, slog.String("key", MaskKey(key)))
	}
	if _, ok := ReasonOf(err); ok {
		m.logger.InfoContext(ctx, "license operation rejected", attrs...)
		return
	}
	m.logger.ErrorContext(ctx, "license operation failed", attrs...)
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// requiredOf returns the names of empty fields, sorted for stable output.
func requiredOf(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{"key", "email", "deviceId"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
