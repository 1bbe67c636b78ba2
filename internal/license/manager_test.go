package license

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"licsrv/internal/store"
	"licsrv/pkg/contracts/domain"
	"licsrv/pkg/contracts/events"
)

var t0 = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// sequenceKeys hands out the given keys in order, then repeats the last one.
type sequenceKeys struct {
	mu   sync.Mutex
	keys []string
	i    int
}

func (s *sequenceKeys) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.keys[min(s.i, len(s.keys)-1)]
	s.i++
	return k
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev events.Event) {
	m.Called(ctx, ev)
}

// ManagerTestSuite exercises the engine against the in-memory store.
type ManagerTestSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *fakeClock
	store   *store.Memory
	manager *Manager
}

func (s *ManagerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: t0}
	s.store = store.NewMemory()
	s.manager = NewManager(s.store,
		WithClock(s.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *ManagerTestSuite) issue(licenseType string) *domain.License {
	l, err := s.manager.Issue(s.ctx, IssueRequest{Email: "a@x.com", Name: "Ana", Type: licenseType})
	s.Require().NoError(err)
	return l
}

func (s *ManagerTestSuite) activate(key, device string) (*ActivationResult, error) {
	return s.manager.Activate(s.ctx, ActivationRequest{Key: key, Email: "a@x.com", DeviceID: device})
}

func (s *ManagerTestSuite) requireReason(err error, want Reason) {
	s.T().Helper()
	s.Require().Error(err)
	got, ok := ReasonOf(err)
	s.Require().True(ok, "expected a domain error, got %v", err)
	s.Equal(want, got)
}

func (s *ManagerTestSuite) TestIssueProducesDistinctKeys() {
	const n = 500
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		l := s.issue("monthly")
		s.True(ValidKeyFormat(l.Key), l.Key)
		seen[l.Key] = struct{}{}
	}
	s.Len(seen, n)

	all, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Len(all, n)
}

func (s *ManagerTestSuite) TestIssueDurationsAreExact() {
	tests := []struct {
		licenseType string
		want        time.Duration
	}{
		{"trial", 7 * 24 * time.Hour},
		{"monthly", 30 * 24 * time.Hour},
		{"annual", 365 * 24 * time.Hour},
		{"lifetime", 36500 * 24 * time.Hour},
		{"", 365 * 24 * time.Hour},
		{" Monthly ", 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		s.Run(tt.licenseType, func() {
			l := s.issue(tt.licenseType)
			s.Equal(tt.want, l.ExpiresAt.Sub(l.IssuedAt))
			s.Equal(t0, l.IssuedAt)
			s.Equal(domain.ActivationStateNotActivated, l.State)
			s.True(l.Enabled)
			s.False(l.Bound())
			s.Equal(1, l.MaxActivations)
		})
	}
}

func (s *ManagerTestSuite) TestIssueValidation() {
	tests := []struct {
		name string
		req  IssueRequest
		want Reason
	}{
		{"missing email", IssueRequest{Name: "Ana", Type: "trial"}, ReasonMissingFields},
		{"missing name", IssueRequest{Email: "a@x.com", Type: "trial"}, ReasonMissingFields},
		{"blank fields", IssueRequest{Email: "  ", Name: " "}, ReasonMissingFields},
		{"unknown type", IssueRequest{Email: "a@x.com", Name: "Ana", Type: "weekly"}, ReasonInvalidLicenseType},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.manager.Issue(s.ctx, tt.req)
			s.requireReason(err, tt.want)
		})
	}
	all, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *ManagerTestSuite) TestIssueRetriesOnCollision() {
	existing := s.issue("annual")
	keys := &sequenceKeys{keys: []string{existing.Key, existing.Key, "ZZZZ-0000-ZZZZ-0000"}}
	m := NewManager(s.store, WithClock(s.clock.Now), WithKeyGenerator(keys))

	l, err := m.Issue(s.ctx, IssueRequest{Email: "b@x.com", Name: "Bob", Type: "trial"})
	s.Require().NoError(err)
	s.Equal("ZZZZ-0000-ZZZZ-0000", l.Key)
	s.Equal(3, keys.i)
}

func (s *ManagerTestSuite) TestIssueGivesUpWhenKeysKeepColliding() {
	existing := s.issue("annual")
	keys := &sequenceKeys{keys: []string{existing.Key}}
	m := NewManager(s.store, WithKeyGenerator(keys), WithMaxKeyAttempts(3))

	_, err := m.Issue(s.ctx, IssueRequest{Email: "b@x.com", Name: "Bob"})
	s.ErrorIs(err, ErrKeySpaceExhausted)
	s.Equal(3, keys.i)
}

func (s *ManagerTestSuite) TestActivateBindsDevice() {
	l := s.issue("annual")
	s.clock.Set(t0.Add(24 * time.Hour))

	res, err := s.manager.Activate(s.ctx, ActivationRequest{
		Key: l.Key, Email: "A@X.COM", DeviceID: "D1", DeviceName: "Workstation",
	})
	s.Require().NoError(err)
	s.Equal(l.ExpiresAt, res.ExpiresAt)
	s.Equal(domain.LicenseTypeAnnual, res.Type)
	s.Equal(364, res.DaysRemaining)
	s.Equal(364*24*time.Hour, res.Remaining)

	stored, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Equal(domain.ActivationStateActivated, stored.State)
	s.Equal("D1", stored.DeviceID)
	s.Equal("Workstation", stored.DeviceName)
	s.Equal(1, stored.ActivationCount)
	s.Require().NotNil(stored.ActivatedAt)
	s.Equal(t0.Add(24*time.Hour), *stored.ActivatedAt)

	history, err := s.manager.Activations(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal("D1", history[0].DeviceID)
	s.Equal("a@x.com", history[0].Email)
}

func (s *ManagerTestSuite) TestActivateDefaultsDeviceName() {
	l := s.issue("annual")
	res, err := s.activate(l.Key, "D1")
	s.Require().NoError(err)
	s.Equal("PC de a@x.com", res.License.DeviceName)
}

func (s *ManagerTestSuite) TestActivateIsIdempotentForSameDevice() {
	l := s.issue("annual")
	for i := 1; i <= 3; i++ {
		res, err := s.activate(l.Key, "D1")
		s.Require().NoError(err)
		s.Equal("D1", res.License.DeviceID)
		s.Equal(i, res.License.ActivationCount)
	}
	history, err := s.store.Activations(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Len(history, 3)
}

func (s *ManagerTestSuite) TestActivateFromSecondDeviceConflicts() {
	l := s.issue("annual")
	_, err := s.activate(l.Key, "D1")
	s.Require().NoError(err)

	_, err = s.activate(l.Key, "D2")
	s.requireReason(err, ReasonDeviceConflict)
	s.ErrorIs(err, ErrDeviceConflict)

	stored, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Equal("D1", stored.DeviceID)
	s.Equal(1, stored.ActivationCount)
}

func (s *ManagerTestSuite) TestReleaseDeviceAllowsNewDevice() {
	l := s.issue("annual")
	_, err := s.activate(l.Key, "D1")
	s.Require().NoError(err)

	released, err := s.manager.ReleaseDevice(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Empty(released.DeviceID)
	s.Empty(released.DeviceName)
	s.Equal(domain.ActivationStateActivated, released.State)
	s.Require().NotNil(released.DeviceReleasedAt)

	// Still valid between release and the next activation.
	v, err := s.manager.Verify(s.ctx, l.Key, "a@x.com")
	s.Require().NoError(err)
	s.True(v.Valid)

	res, err := s.activate(l.Key, "D2")
	s.Require().NoError(err)
	s.Equal("D2", res.License.DeviceID)
	s.Equal(2, res.License.ActivationCount)
}

func (s *ManagerTestSuite) TestReleaseDeviceUnknownKey() {
	_, err := s.manager.ReleaseDevice(s.ctx, "AAAA-AAAA-AAAA-AAAA")
	s.requireReason(err, ReasonLicenseNotFound)
}

func (s *ManagerTestSuite) TestSetEnabled() {
	l := s.issue("annual")

	disabled, err := s.manager.SetEnabled(s.ctx, l.Key, false)
	s.Require().NoError(err)
	s.False(disabled.Enabled)

	enabled, err := s.manager.SetEnabled(s.ctx, l.Key, true)
	s.Require().NoError(err)
	s.True(enabled.Enabled)

	_, err = s.manager.SetEnabled(s.ctx, "AAAA-AAAA-AAAA-AAAA", false)
	s.requireReason(err, ReasonLicenseNotFound)
}

func (s *ManagerTestSuite) TestVerifyDoesNotWrite() {
	l := s.issue("annual")
	_, err := s.activate(l.Key, "D1")
	s.Require().NoError(err)
	before, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	stats := s.store.Stats()

	first, err := s.manager.Verify(s.ctx, l.Key, "a@x.com")
	s.Require().NoError(err)
	second, err := s.manager.Verify(s.ctx, l.Key, "a@x.com")
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(stats.Writes, s.store.Stats().Writes)
	after, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Equal(before, after)
}

func (s *ManagerTestSuite) TestVerifyFailures() {
	l := s.issue("annual")

	_, err := s.manager.Verify(s.ctx, l.Key, "a@x.com")
	s.requireReason(err, ReasonNotActivated)

	_, err = s.manager.Verify(s.ctx, l.Key, "someone@else.com")
	s.requireReason(err, ReasonEmailMismatch)

	_, err = s.manager.Verify(s.ctx, "AAAA-AAAA-AAAA-AAAA", "a@x.com")
	s.requireReason(err, ReasonLicenseNotFound)

	_, err = s.manager.Verify(s.ctx, "", "a@x.com")
	s.requireReason(err, ReasonMissingFields)
}

func (s *ManagerTestSuite) TestTrialScenario() {
	l := s.issue("trial")
	s.Equal(t0.Add(7*24*time.Hour), l.ExpiresAt)

	s.clock.Set(t0.Add(24 * time.Hour))
	res, err := s.activate(l.Key, "D1")
	s.Require().NoError(err)
	s.Equal(domain.ActivationStateActivated, res.License.State)

	s.clock.Set(t0.Add(8 * 24 * time.Hour))
	_, err = s.manager.Verify(s.ctx, l.Key, "a@x.com")
	s.requireReason(err, ReasonLicenseExpired)
}

func (s *ManagerTestSuite) TestDisabledScenario() {
	l := s.issue("annual")
	_, err := s.manager.SetEnabled(s.ctx, l.Key, false)
	s.Require().NoError(err)

	_, err = s.activate(l.Key, "D1")
	s.requireReason(err, ReasonLicenseDisabled)
}

func (s *ManagerTestSuite) TestActivationCheckOrder() {
	tests := []struct {
		name    string
		setup   func(key string)
		email   string
		device  string
		advance time.Duration
		want    Reason
	}{
		{
			name:  "unknown key wins over everything",
			email: "wrong@x.com",
			want:  ReasonLicenseNotFound,
		},
		{
			name: "email mismatch before disabled",
			setup: func(key string) {
				_, err := s.manager.SetEnabled(s.ctx, key, false)
				s.Require().NoError(err)
			},
			email: "wrong@x.com",
			want:  ReasonEmailMismatch,
		},
		{
			name: "disabled before expired",
			setup: func(key string) {
				_, err := s.manager.SetEnabled(s.ctx, key, false)
				s.Require().NoError(err)
			},
			advance: 400 * 24 * time.Hour,
			want:    ReasonLicenseDisabled,
		},
		{
			name: "expired before device conflict",
			setup: func(key string) {
				_, err := s.activate(key, "D1")
				s.Require().NoError(err)
			},
			device:  "D2",
			advance: 400 * 24 * time.Hour,
			want:    ReasonLicenseExpired,
		},
		{
			name: "device conflict when otherwise valid",
			setup: func(key string) {
				_, err := s.activate(key, "D1")
				s.Require().NoError(err)
			},
			device: "D2",
			want:   ReasonDeviceConflict,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			l := s.issue("annual")
			key := l.Key
			if tt.setup != nil {
				tt.setup(key)
			} else if tt.want == ReasonLicenseNotFound {
				key = "NONE-NONE-NONE-NONE"
			}
			s.clock.Set(t0.Add(tt.advance))

			email := tt.email
			if email == "" {
				email = "a@x.com"
			}
			device := tt.device
			if device == "" {
				device = "D1"
			}
			_, err := s.manager.Activate(s.ctx, ActivationRequest{Key: key, Email: email, DeviceID: device})
			s.requireReason(err, tt.want)
		})
	}
}

func (s *ManagerTestSuite) TestActivateMissingFields() {
	_, err := s.manager.Activate(s.ctx, ActivationRequest{Key: "AAAA-AAAA-AAAA-AAAA", Email: "a@x.com"})
	s.requireReason(err, ReasonMissingFields)
	s.Contains(err.Error(), "deviceId")
}

func (s *ManagerTestSuite) TestConcurrentActivationHasOneWinner() {
	for round := 0; round < 20; round++ {
		l := s.issue("annual")

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for i, device := range []string{"D1", "D2"} {
			wg.Add(1)
			go func(i int, device string) {
				defer wg.Done()
				<-start
				_, errs[i] = s.activate(l.Key, device)
			}(i, device)
		}
		close(start)
		wg.Wait()

		var winners, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrDeviceConflict):
				conflicts++
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}
		s.Equal(1, winners)
		s.Equal(1, conflicts)

		stored, err := s.store.Get(s.ctx, l.Key)
		s.Require().NoError(err)
		s.Contains([]string{"D1", "D2"}, stored.DeviceID)
		s.Equal(1, stored.ActivationCount)
	}
}

func (s *ManagerTestSuite) TestActivationPublishesEvent() {
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev events.Event) bool {
		return ev.Kind == events.KindActivation && ev.DeviceID == "D1" && ev.Email == "a@x.com"
	})).Once()

	m := NewManager(s.store, WithClock(s.clock.Now), WithPublisher(pub))
	l, err := m.Issue(s.ctx, IssueRequest{Email: "a@x.com", Name: "Ana"})
	s.Require().NoError(err)
	_, err = m.Activate(s.ctx, ActivationRequest{Key: l.Key, Email: "a@x.com", DeviceID: "D1"})
	s.Require().NoError(err)

	pub.AssertExpectations(s.T())
}

func (s *ManagerTestSuite) TestListByEmail() {
	s.issue("trial")
	s.issue("annual")
	_, err := s.manager.Issue(s.ctx, IssueRequest{Email: "b@x.com", Name: "Bob"})
	s.Require().NoError(err)

	owned, err := s.manager.ListByEmail(s.ctx, "A@x.com")
	s.Require().NoError(err)
	s.Len(owned, 2)

	_, err = s.manager.ListByEmail(s.ctx, "")
	s.requireReason(err, ReasonMissingFields)
}

func (s *ManagerTestSuite) TestCheckAccess() {
	_, err := s.manager.CheckAccess(s.ctx, "nobody@x.com")
	s.requireReason(err, ReasonLicenseNotFound)

	_, err = s.manager.CheckAccess(s.ctx, " ")
	s.requireReason(err, ReasonMissingFields)

	trial := s.issue("trial")
	_, err = s.manager.CheckAccess(s.ctx, "a@x.com")
	s.requireReason(err, ReasonNotActivated)

	annual := s.issue("annual")
	_, err = s.activate(trial.Key, "D1")
	s.Require().NoError(err)
	v, err := s.manager.CheckAccess(s.ctx, "A@X.com")
	s.Require().NoError(err)
	s.True(v.Valid)
	s.Equal(domain.LicenseTypeTrial, v.Type)

	_, err = s.activate(annual.Key, "D2")
	s.Require().NoError(err)
	v, err = s.manager.CheckAccess(s.ctx, "a@x.com")
	s.Require().NoError(err)
	s.Equal(domain.LicenseTypeAnnual, v.Type)
	s.Equal(annual.ExpiresAt, v.ExpiresAt)

	s.clock.Set(trial.ExpiresAt.Add(time.Hour))
	_, err = s.manager.SetEnabled(s.ctx, annual.Key, false)
	s.Require().NoError(err)
	_, err = s.manager.CheckAccess(s.ctx, "a@x.com")
	s.requireReason(err, ReasonLicenseDisabled)
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

// unavailableStore fails every call the way store.Resilient does after
// exhausting retries.
type unavailableStore struct {
	store.Store
}

func (unavailableStore) Get(context.Context, string) (*domain.License, error) {
	return nil, store.ErrUnavailable
}

func (unavailableStore) Update(context.Context, string, store.Mutation) (*domain.License, error) {
	return nil, store.ErrUnavailable
}

func TestStoreUnavailableIsNotADomainError(t *testing.T) {
	m := NewManager(unavailableStore{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := m.Activate(context.Background(), ActivationRequest{Key: "AAAA-AAAA-AAAA-AAAA", Email: "a@x.com", DeviceID: "D1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, isDomain := ReasonOf(err)
	assert.False(t, isDomain)

	_, err = m.Verify(context.Background(), "AAAA-AAAA-AAAA-AAAA", "a@x.com")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
