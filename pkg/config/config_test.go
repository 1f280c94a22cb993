package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "custom")
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")

	assert.Equal(t, "custom", getEnv("TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("TEST_STR_NOT_SET", "default"))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.True(t, getEnvBool("TEST_BOOL_NOT_SET", true))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_BAD_INT", 7))
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, "gatekeeper:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "@every 1h", cfg.Jobs.SyncSchedule)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GATEKEEPER_DB_DRIVER", "POSTGRES")
	t.Setenv("GATEKEEPER_DB_DSN", "postgres://localhost/gatekeeper?sslmode=disable")
	t.Setenv("GATEKEEPER_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("GATEKEEPER_CACHE_TTL", "30s")
	t.Setenv("GATEKEEPER_PURGE_SCHEDULE", "0 * * * *")
	t.Setenv("GATEKEEPER_MANIFEST_PATH", "/etc/gatekeeper/roles.yaml")
	t.Setenv("GATEKEEPER_MANIFEST_WATCH", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "0 * * * *", cfg.Jobs.PurgeSchedule)
	assert.True(t, cfg.Manifest.Watch)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
			Database: DatabaseConfig{Driver: DriverSQLite, DSN: ":memory:"},
			Cache:    CacheConfig{Enabled: true, Size: 10, TTL: time.Minute},
			Jobs:     JobsConfig{SyncSchedule: "@every 1h"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid database driver"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "DSN is required"},
		{"zero cache size", func(c *Config) { c.Cache.Size = 0 }, "cache size"},
		{"cache disabled ignores size", func(c *Config) { c.Cache = CacheConfig{} }, ""},
		{"bad cron", func(c *Config) { c.Jobs.PurgeSchedule = "every tuesday" }, "invalid purge schedule"},
		{"watch without path", func(c *Config) { c.Manifest.Watch = true }, "manifest path is required"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "gatekeeper"
		}, "endpoint is required"},
		{"otel bad ratio", func(c *Config) {
			c.Observability = ObservabilityConfig{OTelEnabled: true, OTelEndpoint: "x:4317", OTelServiceName: "g", OTelSampleRatio: 2}
		}, "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
