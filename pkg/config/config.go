package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Jobs          JobsConfig
	Manifest      ManifestConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// RequireAuthorization gates the admin API on VIEW_ROLES/MANAGE_ROLES
	RequireAuthorization bool
}

// DatabaseConfig holds the relational store settings
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	SeedDefaults    bool
}

// RedisConfig holds the shared cache connection. An empty URL disables redis.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	KeyPrefix  string
}

// CacheConfig holds permission cache settings
type CacheConfig struct {
	Enabled bool
	Size    int
	TTL     time.Duration
}

// JobsConfig holds cron specs for background jobs. An empty spec disables the job.
type JobsConfig struct {
	SyncSchedule  string
	PurgeSchedule string
}

// ManifestConfig points at an optional YAML role manifest
type ManifestConfig struct {
	Path     string
	Watch    bool
	Debounce time.Duration
}

// AuditConfig selects the audit sinks
type AuditConfig struct {
	Enabled  bool
	FilePath string
	Database bool
	Async    bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Jobs:          loadJobsConfig(),
		Manifest:      loadManifestConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:                 getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:                 getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:          getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:         getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:          getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:      getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:           getEnv("GATEKEEPER_HEALTH_PORT", "9090"),
		RequireAuthorization: getEnvBool("GATEKEEPER_REQUIRE_AUTHZ", true),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          strings.ToLower(getEnv("GATEKEEPER_DB_DRIVER", DriverSQLite)),
		DSN:             getEnv("GATEKEEPER_DB_DSN", "file:gatekeeper.db?_foreign_keys=on"),
		MaxOpenConns:    getEnvInt("GATEKEEPER_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("GATEKEEPER_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("GATEKEEPER_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("GATEKEEPER_DB_AUTO_MIGRATE", true),
		SeedDefaults:    getEnvBool("GATEKEEPER_SEED_DEFAULT_ROLES", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("GATEKEEPER_REDIS_URL", ""),
		Password:   getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
		DB:         getEnvInt("GATEKEEPER_REDIS_DB", 0),
		MaxRetries: getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 10),
		KeyPrefix:  getEnv("GATEKEEPER_REDIS_PREFIX", "gatekeeper:"),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: getEnvBool("GATEKEEPER_CACHE_ENABLED", true),
		Size:    getEnvInt("GATEKEEPER_CACHE_SIZE", 10000),
		TTL:     getEnvDuration("GATEKEEPER_CACHE_TTL", 5*time.Minute),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		SyncSchedule:  getEnv("GATEKEEPER_SYNC_SCHEDULE", "@every 1h"),
		PurgeSchedule: getEnv("GATEKEEPER_PURGE_SCHEDULE", "*/5 * * * *"),
	}
}

func loadManifestConfig() ManifestConfig {
	return ManifestConfig{
		Path:     getEnv("GATEKEEPER_MANIFEST_PATH", ""),
		Watch:    getEnvBool("GATEKEEPER_MANIFEST_WATCH", false),
		Debounce: getEnvDuration("GATEKEEPER_MANIFEST_DEBOUNCE", 500*time.Millisecond),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:  getEnvBool("GATEKEEPER_AUDIT_ENABLED", true),
		FilePath: getEnv("GATEKEEPER_AUDIT_FILE", ""),
		Database: getEnvBool("GATEKEEPER_AUDIT_DB", false),
		Async:    getEnvBool("GATEKEEPER_AUDIT_ASYNC", true),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("GATEKEEPER_LOG_FORMAT", "json")),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEKEEPER_OTEL_SAMPLE_RATIO", 1.0),
	}
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

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)", c.Database.Driver, DriverPostgres, DriverSQLite)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if c.Cache.Enabled {
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive when the cache is enabled")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive when the cache is enabled")
		}
	}

	for name, spec := range map[string]string{
		"sync schedule":  c.Jobs.SyncSchedule,
		"purge schedule": c.Jobs.PurgeSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}

	if c.Manifest.Watch && c.Manifest.Path == "" {
		return fmt.Errorf("manifest path is required when manifest watching is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
