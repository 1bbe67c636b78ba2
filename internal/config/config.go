package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "LICSRV"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Store         StoreConfig         `yaml:"store" envconfig:"STORE"`
	Admin         AdminConfig         `yaml:"admin" envconfig:"ADMIN"`
	License       LicenseConfig       `yaml:"license" envconfig:"LICENSE"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" envconfig:"TELEMETRY"`
	Housekeeping  HousekeepingConfig  `yaml:"housekeeping" envconfig:"HOUSEKEEPING"`
	Security      SecurityConfig      `yaml:"security" envconfig:"SECURITY"`
	Logging       LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBSERVABILITY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Store drivers
const (
	StoreDriverMemory   = "memory"
	StoreDriverFile     = "file"
	StoreDriverMongo    = "mongo"
	StoreDriverPostgres = "postgres"
)

// StoreConfig selects and tunes the license store backend.
type StoreConfig struct {
	Driver        string        `yaml:"driver" envconfig:"DRIVER"`
	FilePath      string        `yaml:"file_path" envconfig:"FILE_PATH"`
	MongoURI      string        `yaml:"mongo_uri" envconfig:"MONGO_URI"`
	MongoDatabase string        `yaml:"mongo_database" envconfig:"MONGO_DATABASE"`
	PostgresDSN   string        `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	Retries       int           `yaml:"retries" envconfig:"RETRIES"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" envconfig:"RETRY_BACKOFF"`
}

// AdminConfig holds the shared admin credential. Exactly one of Secret or
// SecretHash (bcrypt) must be set.
type AdminConfig struct {
	Secret     string `yaml:"secret" envconfig:"SECRET"`
	SecretHash string `yaml:"secret_hash" envconfig:"SECRET_HASH"`
}

// LicenseConfig tunes issuance.
type LicenseConfig struct {
	MaxKeyAttempts int `yaml:"max_key_attempts" envconfig:"MAX_KEY_ATTEMPTS"`
}

// Telemetry sinks
const (
	TelemetrySinkNone  = "none"
	TelemetrySinkLog   = "log"
	TelemetrySinkMongo = "mongo"
	TelemetrySinkRedis = "redis"
	TelemetrySinkKafka = "kafka"
)

// TelemetryConfig configures the best-effort usage sink.
type TelemetryConfig struct {
	Sink          string        `yaml:"sink" envconfig:"SINK"`
	BufferSize    int           `yaml:"buffer_size" envconfig:"BUFFER_SIZE"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	MongoURI      string        `yaml:"mongo_uri" envconfig:"MONGO_URI"`
	MongoDatabase string        `yaml:"mongo_database" envconfig:"MONGO_DATABASE"`
	RedisURL      string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisTTL      time.Duration `yaml:"redis_ttl" envconfig:"REDIS_TTL"`
	KafkaBrokers  []string      `yaml:"kafka_brokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic    string        `yaml:"kafka_topic" envconfig:"KAFKA_TOPIC"`
}

// HousekeepingConfig controls retention pruning.
type HousekeepingConfig struct {
	Enabled      bool          `yaml:"enabled" envconfig:"ENABLED"`
	Interval     time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	InitialDelay time.Duration `yaml:"initial_delay" envconfig:"INITIAL_DELAY"`
	Retention    time.Duration `yaml:"retention" envconfig:"RETENTION"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit    RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	MaxBodyBytes int64           `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// ObservabilityConfig controls OpenTelemetry setup.
type ObservabilityConfig struct {
	ServiceName   string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// Load builds the configuration in three layers: defaults, then the YAML
// file at path (if any), then LICSRV_* environment variables. An empty path
// falls back to LICSRV_CONFIG and then to the well-known locations.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields without a matching variable are left as they are.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML document at path onto c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// findConfigFile returns the first config file found in the common locations.
func findConfigFile() string {
	locations := []string{
		"licsrv.yaml",
		"config.yaml",
		"configs/licsrv.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Validate checks the configuration and normalizes enumerations in place.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server read timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server write timeout must be positive"))
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverFile:
		if c.Store.FilePath == "" {
			errs = append(errs, errors.New("store file_path is required for the file driver"))
		}
	case StoreDriverMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store mongo_uri is required for the mongo driver"))
		}
	case StoreDriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}
	if c.Store.Retries < 1 {
		errs = append(errs, errors.New("store retries must be at least 1"))
	}

	switch {
	case c.Admin.Secret == "" && c.Admin.SecretHash == "":
		errs = append(errs, errors.New("admin secret or secret_hash is required"))
	case c.Admin.Secret != "" && c.Admin.SecretHash != "":
		errs = append(errs, errors.New("set only one of admin secret and secret_hash"))
	}

	if c.License.MaxKeyAttempts < 1 {
		errs = append(errs, errors.New("license max_key_attempts must be at least 1"))
	}

	c.Telemetry.Sink = strings.ToLower(strings.TrimSpace(c.Telemetry.Sink))
	switch c.Telemetry.Sink {
	case TelemetrySinkNone, TelemetrySinkLog:
	case TelemetrySinkMongo:
		if c.Telemetry.MongoURI == "" && c.Store.Driver != StoreDriverMongo {
			errs = append(errs, errors.New("telemetry mongo_uri is required unless the store driver is mongo"))
		}
	case TelemetrySinkRedis:
		if c.Telemetry.RedisURL == "" {
			errs = append(errs, errors.New("telemetry redis_url is required for the redis sink"))
		}
	case TelemetrySinkKafka:
		if len(c.Telemetry.KafkaBrokers) == 0 || c.Telemetry.KafkaTopic == "" {
			errs = append(errs, errors.New("telemetry kafka_brokers and kafka_topic are required for the kafka sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry sink %q", c.Telemetry.Sink))
	}
	if c.Telemetry.BufferSize < 1 {
		errs = append(errs, errors.New("telemetry buffer_size must be at least 1"))
	}

	if c.Housekeeping.Enabled && (c.Housekeeping.Interval <= 0 || c.Housekeeping.Retention <= 0) {
		errs = append(errs, errors.New("housekeeping interval and retention must be positive"))
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}

	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("unknown logging format %q", c.Logging.Format))
	}
	c.Logging.Output = strings.ToLower(c.Logging.Output)
	switch c.Logging.Output {
	case "console":
	case "file", "both":
		if c.Logging.FilePath == "" {
			errs = append(errs, errors.New("logging file_path is required for file output"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown logging output %q", c.Logging.Output))
	}

	return errors.Join(errs...)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Store: StoreConfig{
			Driver:        StoreDriverMemory,
			FilePath:      DefaultStoreFile,
			MongoDatabase: DefaultMongoDatabase,
			Timeout:       3 * time.Second,
			Retries:       3,
			RetryBackoff:  100 * time.Millisecond,
		},
		License: LicenseConfig{
			MaxKeyAttempts: 8,
		},
		Telemetry: TelemetryConfig{
			Sink:          TelemetrySinkLog,
			BufferSize:    1024,
			WriteTimeout:  2 * time.Second,
			MongoDatabase: DefaultMongoDatabase,
			RedisTTL:      DefaultRetention,
			KafkaTopic:    "licsrv.telemetry",
		},
		Housekeeping: HousekeepingConfig{
			Enabled:      true,
			Interval:     24 * time.Hour,
			InitialDelay: 5 * time.Second,
			Retention:    DefaultRetention,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
			MaxBodyBytes: 64 << 10,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/licsrv.log",
		},
		Observability: ObservabilityConfig{
			ServiceName:   AppName,
			Environment:   "development",
			TraceExporter: "none",
			EnableTracing: true,
			EnableMetrics: true,
			SampleRatio:   1.0,
		},
	}
}
