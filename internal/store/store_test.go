package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"licsrv/pkg/contracts/domain"
)

// StoreSuite runs the same behavioural checks against every backend.
type StoreSuite struct {
	suite.Suite
	open  func(t *testing.T) Store
	store Store
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.open(s.T())
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close(s.ctx))
	}
}

func testLicense(key, email string) *domain.License {
	issued := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	return &domain.License{
		Key:            key,
		OwnerEmail:     email,
		OwnerName:      "Ana",
		Type:           domain.LicenseTypeAnnual,
		IssuedAt:       issued,
		ExpiresAt:      issued.Add(domain.LicenseTypeAnnual.Duration()),
		State:          domain.ActivationStateNotActivated,
		Enabled:        true,
		MaxActivations: 1,
	}
}

func (s *StoreSuite) TestPutGet() {
	l := testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")
	s.Require().NoError(s.store.Put(s.ctx, l))

	got, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Equal(l.Key, got.Key)
	s.Equal(l.OwnerEmail, got.OwnerEmail)
	s.Equal(l.Type, got.Type)
	s.True(l.ExpiresAt.Equal(got.ExpiresAt))
	s.Equal(domain.ActivationStateNotActivated, got.State)
	s.True(got.Enabled)
}

func (s *StoreSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, "NOPE-NOPE-NOPE-NOPE")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestPutDuplicate() {
	l := testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")
	s.Require().NoError(s.store.Put(s.ctx, l))
	s.ErrorIs(s.store.Put(s.ctx, l), ErrDuplicateKey)
}

func (s *StoreSuite) TestReturnedRecordsAreCopies() {
	l := testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")
	s.Require().NoError(s.store.Put(s.ctx, l))

	l.OwnerName = "changed after put"
	got, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Equal("Ana", got.OwnerName)

	got.OwnerName = "changed after get"
	again, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Equal("Ana", again.OwnerName)
}

func (s *StoreSuite) TestUpdate() {
	l := testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")
	s.Require().NoError(s.store.Put(s.ctx, l))

	updated, err := s.store.Update(s.ctx, l.Key, func(l *domain.License) error {
		l.DeviceID = "device-1"
		l.State = domain.ActivationStateActivated
		l.ActivationCount++
		l.Key = "tampered"
		return nil
	})
	s.Require().NoError(err)
	s.Equal("AAAA-BBBB-CCCC-DDDD", updated.Key)
	s.Equal("device-1", updated.DeviceID)
	s.Equal(1, updated.ActivationCount)

	got, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Equal("device-1", got.DeviceID)
	s.Equal(domain.ActivationStateActivated, got.State)
	s.Greater(got.Version, l.Version)
}

func (s *StoreSuite) TestUpdateMutationErrorWritesNothing() {
	l := testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")
	s.Require().NoError(s.store.Put(s.ctx, l))

	boom := errors.New("rejected")
	_, err := s.store.Update(s.ctx, l.Key, func(l *domain.License) error {
		l.DeviceID = "device-1"
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Empty(got.DeviceID)
}

func (s *StoreSuite) TestUpdateMissing() {
	_, err := s.store.Update(s.ctx, "NOPE-NOPE-NOPE-NOPE", func(*domain.License) error { return nil })
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestConcurrentUpdatesSerialize() {
	l := testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")
	s.Require().NoError(s.store.Put(s.ctx, l))

	// Each mutation claims the device only if nobody has. Exactly one wins.
	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	taken := errors.New("taken")
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.store.Update(s.ctx, l.Key, func(l *domain.License) error {
				if l.DeviceID != "" {
					return taken
				}
				l.DeviceID = fmt.Sprintf("device-%d", i)
				l.ActivationCount++
				return nil
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	s.Equal(1, wins)
	got, err := s.store.Get(s.ctx, l.Key)
	s.Require().NoError(err)
	s.Equal(1, got.ActivationCount)
	s.NotEmpty(got.DeviceID)
}

func (s *StoreSuite) TestListByEmailIsCaseInsensitive() {
	a := testLicense("AAAA-AAAA-AAAA-AAAA", "Ana@Example.com")
	b := testLicense("BBBB-BBBB-BBBB-BBBB", "ana@example.com")
	b.IssuedAt = b.IssuedAt.Add(time.Hour)
	c := testLicense("CCCC-CCCC-CCCC-CCCC", "bob@example.com")
	for _, l := range []*domain.License{a, b, c} {
		s.Require().NoError(s.store.Put(s.ctx, l))
	}

	got, err := s.store.ListByEmail(s.ctx, "  ANA@example.COM ")
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(a.Key, got[0].Key)
	s.Equal(b.Key, got[1].Key)

	none, err := s.store.ListByEmail(s.ctx, "nobody@example.com")
	s.Require().NoError(err)
	s.Empty(none)

	all, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *StoreSuite) TestActivationsAndPrune() {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []domain.ActivationEvent{
		{Key: "K1", Email: "a@x.io", DeviceID: "d1", Timestamp: base},
		{Key: "K1", Email: "a@x.io", DeviceID: "d2", Timestamp: base.Add(48 * time.Hour)},
		{Key: "K2", Email: "b@x.io", DeviceID: "d3", Timestamp: base.Add(time.Hour)},
	}
	for _, ev := range events {
		s.Require().NoError(s.store.AppendActivation(s.ctx, ev))
	}

	got, err := s.store.Activations(s.ctx, "K1")
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("d1", got[0].DeviceID)
	s.Equal("d2", got[1].DeviceID)

	n, err := s.store.PruneActivations(s.ctx, base.Add(24*time.Hour))
	s.Require().NoError(err)
	s.Equal(2, n)

	got, err = s.store.Activations(s.ctx, "K1")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("d2", got[0].DeviceID)
}

func (s *StoreSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(*testing.T) Store { return NewMemory() }})
}

func TestJSONFileStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		s, err := OpenJSONFile(filepath.Join(t.TempDir(), "data", "licenses.json"))
		require.NoError(t, err)
		return s
	}})
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("LICSRV_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("LICSRV_TEST_MONGO_URI not set")
	}
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		ctx := context.Background()
		db := fmt.Sprintf("licsrv_test_%d", time.Now().UnixNano())
		s, err := DialMongo(ctx, uri, db)
		require.NoError(t, err)
		t.Cleanup(func() {
			// Close runs first in TearDownTest, so drop through a fresh client.
			if c, err := DialMongo(ctx, uri, db); err == nil {
				_ = c.Database().Drop(ctx)
				_ = c.Close(ctx)
			}
		})
		return s
	}})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("LICSRV_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LICSRV_TEST_POSTGRES_DSN not set")
	}
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		ctx := context.Background()
		suffix := time.Now().UnixNano()
		licenses := fmt.Sprintf("licenses_test_%d", suffix)
		activations := fmt.Sprintf("activations_test_%d", suffix)
		s, err := DialPostgres(ctx, dsn, WithPostgresTables(licenses, activations))
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, "SELECT 1")
		require.NoError(t, err)
		t.Cleanup(func() {
			if c, err := DialPostgres(ctx, dsn, WithPostgresTables(licenses, activations)); err == nil {
				_, _ = c.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s, %s", licenses, activations))
				_ = c.Close(ctx)
			}
		})
		return s
	}})
}

func TestJSONFilePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "licenses.json")

	s, err := OpenJSONFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")))

	reopened, err := OpenJSONFile(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "AAAA-BBBB-CCCC-DDDD")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got.OwnerEmail)
	assert.Equal(t, path, reopened.Path())
}

func TestJSONFileKeepsVersionAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "licenses.json")

	s, err := OpenJSONFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")))
	for range 2 {
		_, err = s.Update(ctx, "AAAA-BBBB-CCCC-DDDD", func(l *domain.License) error {
			l.ActivationCount++
			return nil
		})
		require.NoError(t, err)
	}

	reopened, err := OpenJSONFile(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "AAAA-BBBB-CCCC-DDDD")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 2, got.ActivationCount)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": 2`)
}

func TestJSONFileRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenJSONFile(path)
	assert.Error(t, err)
}

func TestMemoryStatsCountOperations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")))
	before := m.Stats()

	_, err := m.Get(ctx, "AAAA-BBBB-CCCC-DDDD")
	require.NoError(t, err)

	after := m.Stats()
	assert.Equal(t, before.Writes, after.Writes)
	assert.Equal(t, before.Reads+1, after.Reads)
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	assert.ErrorIs(t, m.Put(ctx, testLicense("K", "a@b.c")), context.Canceled)
	_, err := m.Get(ctx, "K")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryUpdateWaitHonoursDeadline(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, testLicense("AAAA-BBBB-CCCC-DDDD", "ana@example.com")))

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := m.Update(ctx, "AAAA-BBBB-CCCC-DDDD", func(*domain.License) error {
			close(held)
			<-release
			return nil
		})
		done <- err
	}()
	<-held

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := m.Update(waitCtx, "AAAA-BBBB-CCCC-DDDD", func(*domain.License) error {
		t.Error("mutation must not run after the deadline")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	require.NoError(t, <-done)

	got, err := m.Get(ctx, "AAAA-BBBB-CCCC-DDDD")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestKeyLocksForgetIdleKeys(t *testing.T) {
	k := newKeyLocks()
	unlock, err := k.lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.lock(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)

	unlock()
	assert.Empty(t, k.locks)
}
