package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const goodSecret = "valid-secret-that-is-long-enough-for-testing"

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"ENVIRONMENT", "PORT", "LOG_LEVEL", "DATABASE_URL", "JWT_SECRET", "JWT_ISS", "JWT_AUD",
		"JWT_EXPIRY", "ENABLE_METRICS", "RECONCILE_SCOPE_REMOVALS", "RECONCILE_WORKERS", "PHOTO_DIR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Equal(t, DefaultJWTSecret, cfg.JWTSecret)
	assert.Equal(t, "asset-census-api", cfg.JWTIssuer)
	assert.Equal(t, "asset-census-api", cfg.JWTAudience)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.True(t, cfg.ScopeRemovals)
	assert.Equal(t, 4, cfg.DiffWorkers)
	assert.False(t, cfg.EnableMetrics)
}

func TestLoadWithEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "test-secret-key")
	t.Setenv("JWT_ISS", "test-issuer")
	t.Setenv("JWT_AUD", "test-audience")
	t.Setenv("JWT_EXPIRY", "2h")
	t.Setenv("PORT", "9090")
	t.Setenv("RECONCILE_SCOPE_REMOVALS", "false")
	t.Setenv("RECONCILE_WORKERS", "8")
	t.Setenv("ENABLE_METRICS", "true")

	cfg := Load()
	assert.Equal(t, "test-secret-key", cfg.JWTSecret)
	assert.Equal(t, "test-issuer", cfg.JWTIssuer)
	assert.Equal(t, "test-audience", cfg.JWTAudience)
	assert.Equal(t, 2*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.False(t, cfg.ScopeRemovals)
	assert.Equal(t, 8, cfg.DiffWorkers)
	assert.True(t, cfg.EnableMetrics)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWTSecret:   goodSecret,
			JWTIssuer:   "test-issuer",
			JWTAudience: "test-audience",
			JWTExpiry:   time.Hour,
			LogLevel:    "info",
		}
	}

	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"secret too short", func(c *Config) { c.JWTSecret = "short" }, true},
		{"empty issuer", func(c *Config) { c.JWTIssuer = "" }, true},
		{"empty audience", func(c *Config) { c.JWTAudience = "" }, true},
		{"negative expiry", func(c *Config) { c.JWTExpiry = -time.Hour }, true},
		{"zero expiry", func(c *Config) { c.JWTExpiry = 0 }, true},
		{"expiry too short", func(c *Config) { c.JWTExpiry = 30 * time.Second }, true},
		{"expiry too long", func(c *Config) { c.JWTExpiry = 31 * 24 * time.Hour }, true},
		{"unknown log level", func(c *Config) { c.LogLevel = "chatty" }, true},
		{"too many workers", func(c *Config) { c.DiffWorkers = 1000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "test-secret-key-that-is-long-enough-for-testing")
	t.Setenv("JWT_EXPIRY", "1h")

	cfg, err := LoadAndValidate()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	t.Setenv("JWT_SECRET", "short")
	_, err = LoadAndValidate()
	assert.Error(t, err)
}

func TestProductionSecretValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", DefaultJWTSecret)
	assert.Error(t, Load().Validate(), "production must reject the default secret")

	t.Setenv("JWT_SECRET", "proper-production-secret-that-is-long-enough")
	assert.NoError(t, Load().Validate())
}

func TestLoadEnvFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_ISS=from-file\nPHOTO_DIR=/srv/photos\n"), 0o600))
	// Variables already set win over the file.
	t.Setenv("PHOTO_DIR", "/already/set")
	os.Unsetenv("JWT_ISS")

	require.NoError(t, LoadEnvFiles(path, filepath.Join(dir, "missing.env")))
	cfg := Load()
	assert.Equal(t, "from-file", cfg.JWTIssuer)
	assert.Equal(t, "/already/set", cfg.PhotoDir)
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{Environment: "production", LogLevel: "warn"}
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	cfg.LogLevel = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}
