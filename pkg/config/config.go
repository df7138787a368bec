package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Reset         ResetConfig         `yaml:"reset"`
	Cache         CacheConfig         `yaml:"cache"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// StorageConfig selects and tunes the policy/session store backend.
type StorageConfig struct {
	// Type is "memory" or "postgres".
	Type         string        `yaml:"type"`
	PostgresURL  string        `yaml:"postgres_url"`
	MaxConns     int           `yaml:"max_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
	Migrate      bool          `yaml:"migrate"`
	Seed         bool          `yaml:"seed"`
}

// RedisConfig holds the shared Redis connection settings. Redis backs the
// decision cache, password reset tokens, rate limiting and event pub/sub.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// AuthConfig holds token lifecycle settings.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// ResetConfig holds password reset settings.
type ResetConfig struct {
	TokenTTL   time.Duration `yaml:"token_ttl"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// CacheConfig tunes the authorization decision cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TTL          time.Duration `yaml:"ttl"`
	LocalEntries int           `yaml:"local_entries"`
}

// EventsConfig tunes event publishing.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// ParsedLogLevel converts the configured level string.
func (o ObservabilityConfig) ParsedLogLevel() observability.LogLevel {
	switch strings.ToLower(o.LogLevel) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: StorageConfig{
			Type:         "memory",
			MaxConns:     25,
			ConnLifetime: 5 * time.Minute,
			Migrate:      true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Auth: AuthConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			SessionTTL: 90 * 24 * time.Hour,
		},
		Reset: ResetConfig{
			TokenTTL:   time.Hour,
			RateLimit:  5,
			RateWindow: time.Hour,
		},
		Cache: CacheConfig{
			Enabled:      true,
			TTL:          5 * time.Minute,
			LocalEntries: 10000,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gatehouse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration: defaults, then the YAML file at path
// (if non-empty), then environment overrides, then validation.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("GATEHOUSE_HOST", c.Server.Host)
	c.Server.Port = getEnv("GATEHOUSE_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("GATEHOUSE_HEALTH_PORT", c.Server.HealthPort)
	c.Server.ReadTimeout = getEnvDuration("GATEHOUSE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Storage.Type = getEnv("GATEHOUSE_STORAGE_TYPE", c.Storage.Type)
	c.Storage.PostgresURL = getEnv("GATEHOUSE_POSTGRES_URL", c.Storage.PostgresURL)
	c.Storage.MaxConns = getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", c.Storage.MaxConns)
	c.Storage.Migrate = getEnvBool("GATEHOUSE_MIGRATE", c.Storage.Migrate)
	c.Storage.Seed = getEnvBool("GATEHOUSE_SEED", c.Storage.Seed)

	c.Redis.Enabled = getEnvBool("GATEHOUSE_REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("GATEHOUSE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("GATEHOUSE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("GATEHOUSE_REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", c.Redis.PoolSize)

	c.Auth.JWTSecret = getEnv("GATEHOUSE_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.AccessTTL = getEnvDuration("GATEHOUSE_ACCESS_TTL", c.Auth.AccessTTL)
	c.Auth.RefreshTTL = getEnvDuration("GATEHOUSE_REFRESH_TTL", c.Auth.RefreshTTL)
	c.Auth.SessionTTL = getEnvDuration("GATEHOUSE_SESSION_TTL", c.Auth.SessionTTL)

	c.Reset.TokenTTL = getEnvDuration("GATEHOUSE_RESET_TOKEN_TTL", c.Reset.TokenTTL)
	c.Reset.RateLimit = getEnvInt("GATEHOUSE_RESET_RATE_LIMIT", c.Reset.RateLimit)
	c.Reset.RateWindow = getEnvDuration("GATEHOUSE_RESET_RATE_WINDOW", c.Reset.RateWindow)

	c.Cache.Enabled = getEnvBool("GATEHOUSE_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.TTL = getEnvDuration("GATEHOUSE_CACHE_TTL", c.Cache.TTL)
	c.Cache.LocalEntries = getEnvInt("GATEHOUSE_CACHE_LOCAL_ENTRIES", c.Cache.LocalEntries)

	c.Events.BufferSize = getEnvInt("GATEHOUSE_EVENT_BUFFER_SIZE", c.Events.BufferSize)

	c.Observability.LogLevel = getEnv("GATEHOUSE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("GATEHOUSE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("GATEHOUSE_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("GATEHOUSE_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("GATEHOUSE_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("GATEHOUSE_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}

	if c.Cache.Enabled && !c.Redis.Enabled && c.Cache.LocalEntries <= 0 {
		return fmt.Errorf("local cache size must be positive when redis is disabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
