package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad tests the Load function with various scenarios
func TestLoad(t *testing.T) {
	envVars := []string{
		"LICSRV_CONFIG",
		"LICSRV_SERVER_PORT", "LICSRV_SERVER_READ_TIMEOUT",
		"LICSRV_STORE_DRIVER", "LICSRV_STORE_FILE_PATH", "LICSRV_STORE_MONGO_URI",
		"LICSRV_ADMIN_SECRET", "LICSRV_ADMIN_SECRET_HASH",
		"LICSRV_TELEMETRY_SINK", "LICSRV_TELEMETRY_REDIS_URL", "LICSRV_TELEMETRY_KAFKA_BROKERS",
		"LICSRV_LOGGING_LEVEL", "LICSRV_LOGGING_FORMAT",
		"LICSRV_HOUSEKEEPING_RETENTION",
	}
	for _, envVar := range envVars {
		// t.Setenv restores the original value when the test ends.
		t.Setenv(envVar, "")
		os.Unsetenv(envVar)
	}

	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     string
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with admin secret",
			env:  map[string]string{"LICSRV_ADMIN_SECRET": "s3cret"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
				assert.Equal(t, DefaultMongoDatabase, cfg.Store.MongoDatabase)
				assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
				assert.Equal(t, 8, cfg.License.MaxKeyAttempts)
				assert.Equal(t, TelemetrySinkLog, cfg.Telemetry.Sink)
				assert.Equal(t, 24*time.Hour, cfg.Housekeeping.Interval)
				assert.Equal(t, 5*time.Second, cfg.Housekeeping.InitialDelay)
				assert.Equal(t, 90*24*time.Hour, cfg.Housekeeping.Retention)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, "licsrv.telemetry", cfg.Telemetry.KafkaTopic)
			},
		},
		{
			name:    "missing admin credential",
			wantErr: "admin secret or secret_hash is required",
		},
		{
			name: "both admin credentials",
			env: map[string]string{
				"LICSRV_ADMIN_SECRET":      "a",
				"LICSRV_ADMIN_SECRET_HASH": "$2a$10$abc",
			},
			wantErr: "set only one",
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"LICSRV_ADMIN_SECRET":           "s3cret",
				"LICSRV_SERVER_PORT":            "9090",
				"LICSRV_STORE_DRIVER":           "FILE",
				"LICSRV_STORE_FILE_PATH":        "/tmp/licenses.json",
				"LICSRV_LOGGING_LEVEL":          "debug",
				"LICSRV_HOUSEKEEPING_RETENTION": "720h",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, StoreDriverFile, cfg.Store.Driver)
				assert.Equal(t, "/tmp/licenses.json", cfg.Store.FilePath)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, 30*24*time.Hour, cfg.Housekeeping.Retention)
			},
		},
		{
			name: "mongo driver requires uri",
			env: map[string]string{
				"LICSRV_ADMIN_SECRET": "s3cret",
				"LICSRV_STORE_DRIVER": "mongo",
			},
			wantErr: "mongo_uri is required",
		},
		{
			name: "redis sink requires url",
			env: map[string]string{
				"LICSRV_ADMIN_SECRET":   "s3cret",
				"LICSRV_TELEMETRY_SINK": "redis",
			},
			wantErr: "redis_url is required",
		},
		{
			name: "kafka sink requires brokers",
			env: map[string]string{
				"LICSRV_ADMIN_SECRET":   "s3cret",
				"LICSRV_TELEMETRY_SINK": "kafka",
			},
			wantErr: "kafka_brokers and kafka_topic are required",
		},
		{
			name: "unknown store driver",
			env: map[string]string{
				"LICSRV_ADMIN_SECRET": "s3cret",
				"LICSRV_STORE_DRIVER": "cassandra",
			},
			wantErr: "unknown store driver",
		},
		{
			name: "invalid port",
			env: map[string]string{
				"LICSRV_ADMIN_SECRET": "s3cret",
				"LICSRV_SERVER_PORT":  "70000",
			},
			wantErr: "invalid server port",
		},
		{
			name: "yaml file overlays defaults",
			file: `
server:
  port: 7000
store:
  driver: mongo
  mongo_uri: mongodb://db:27017
admin:
  secret: from-file
telemetry:
  sink: mongo
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7000, cfg.Server.Port)
				assert.Equal(t, StoreDriverMongo, cfg.Store.Driver)
				assert.Equal(t, "mongodb://db:27017", cfg.Store.MongoURI)
				assert.Equal(t, "from-file", cfg.Admin.Secret)
				assert.Equal(t, TelemetrySinkMongo, cfg.Telemetry.Sink)
				// untouched sections keep their defaults
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
			},
		},
		{
			name: "environment wins over file",
			file: `
server:
  port: 7000
admin:
  secret: from-file
`,
			env: map[string]string{"LICSRV_SERVER_PORT": "7001"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7001, cfg.Server.Port)
				assert.Equal(t, "from-file", cfg.Admin.Secret)
			},
		},
		{
			name:    "malformed yaml",
			file:    "server: [",
			wantErr: "failed to load config from file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, envVar := range envVars {
				os.Unsetenv(envVar)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "licsrv.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestLoadFromConfigEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin:\n  secret: via-env-path\n"), 0o600))
	t.Setenv("LICSRV_CONFIG", path)
	t.Setenv("LICSRV_ADMIN_SECRET", "")
	os.Unsetenv("LICSRV_ADMIN_SECRET")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "via-env-path", cfg.Admin.Secret)
}

func TestDefaultValidatesOnceSecretSet(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.Admin.Secret = "x"
	assert.NoError(t, cfg.Validate())
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8081}
	assert.Equal(t, "127.0.0.1:8081", s.Addr())
	assert.Equal(t, ":8080", ServerConfig{Port: 8080}.Addr())
}
