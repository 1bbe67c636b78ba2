package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licsrv/pkg/contracts/domain"
)

func TestBufferedSlogHandler(t *testing.T) {
	t.Run("captures log records", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Info("test message", slog.String("key", "value"))
		logger.Error("error message", slog.Int("code", 500))

		assert.Len(t, handler.GetRecords(), 2)
		assert.True(t, handler.ContainsMessage("test message"))
		assert.True(t, handler.ContainsAttr("key", "value"))
	})

	t.Run("filters by level", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Debug("debug msg")
		logger.Info("info msg")
		logger.Warn("warn msg")
		logger.Error("error msg")

		assert.Len(t, handler.GetRecordsByLevel(slog.LevelInfo), 1)
		assert.Len(t, handler.GetRecordsByLevel(slog.LevelError), 1)
	})

	t.Run("derived loggers share the buffer and keep attrs", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.With(slog.String("component", "store")).Info("opened")

		require.Equal(t, 1, handler.Count())
		AssertLogAttr(t, handler, "component", "store")
	})

	t.Run("clear", func(t *testing.T) {
		logger, handler := NewTestLogger(t)
		logger.Info("message 1")
		logger.Info("message 2")
		require.Equal(t, 2, handler.Count())

		handler.Clear()
		assert.Zero(t, handler.Count())
		AssertNoErrors(t, handler)
	})
}

func TestStandardLicenses(t *testing.T) {
	ls := StandardLicenses()
	require.Len(t, ls, 4)

	assert.False(t, ls[0].Activated())
	assert.True(t, ls[1].Bound())
	assert.True(t, ls[2].ExpiresAt.Before(FixtureTime))
	assert.False(t, ls[3].Enabled)
	assert.Equal(t, FixtureTime.AddDate(0, 0, 365), ls[0].ExpiresAt)
	assert.Equal(t, domain.LicenseTypeTrial, ls[2].Type)
}
