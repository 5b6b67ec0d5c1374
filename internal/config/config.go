package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// DefaultJWTSecret is rejected when ENVIRONMENT=production.
const DefaultJWTSecret = "your-secret-key-change-in-production"

const (
	minSecretLength = 32
	minJWTExpiry    = time.Minute
	maxJWTExpiry    = 30 * 24 * time.Hour
)

type Config struct {
	Environment string
	HTTPAddr    string
	LogLevel    string

	// DatabaseURL empty runs on the in-memory store.
	DatabaseURL   string
	MigrationsDir string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTExpiry   time.Duration

	PhotoDir       string
	PhotoMaxBytes  int64
	UploadMaxBytes int64
	MappingPath    string

	EnableMetrics bool

	ScopeRemovals bool
	DiffWorkers   int
	DiffChunkSize int
	// ChangeSetTTL bounds how long a previewed import can wait to be applied.
	ChangeSetTTL time.Duration
}

// LoadEnvFiles loads KEY=VALUE files into the environment without
// overriding variables already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTPAddr:    ":" + getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "db/migrations"),

		JWTSecret:   getEnv("JWT_SECRET", DefaultJWTSecret),
		JWTIssuer:   getEnv("JWT_ISS", "asset-census-api"),
		JWTAudience: getEnv("JWT_AUD", "asset-census-api"),
		JWTExpiry:   getDuration("JWT_EXPIRY", 24*time.Hour),

		PhotoDir:       getEnv("PHOTO_DIR", "data/photos"),
		PhotoMaxBytes:  getInt64("PHOTO_MAX_BYTES", 10<<20),
		UploadMaxBytes: getInt64("UPLOAD_MAX_BYTES", 20<<20),
		MappingPath:    os.Getenv("MAPPING_PATH"),

		EnableMetrics: getBool("ENABLE_METRICS", false),

		ScopeRemovals: getBool("RECONCILE_SCOPE_REMOVALS", true),
		DiffWorkers:   getInt("RECONCILE_WORKERS", 4),
		DiffChunkSize: getInt("RECONCILE_CHUNK_SIZE", 500),
		ChangeSetTTL:  getDuration("CHANGESET_TTL", time.Hour),
	}
}

// LoadAndValidate loads the configuration and validates it.
func LoadAndValidate() (*Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Production reports whether ENVIRONMENT is production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.JWTSecret, validation.Required, validation.Length(minSecretLength, 0)),
		validation.Field(&c.JWTIssuer, validation.Required),
		validation.Field(&c.JWTAudience, validation.Required),
		validation.Field(&c.JWTExpiry, validation.Required, validation.Min(minJWTExpiry), validation.Max(maxJWTExpiry)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.DiffWorkers, validation.Min(0), validation.Max(64)),
		validation.Field(&c.DiffChunkSize, validation.Min(0)),
		validation.Field(&c.PhotoMaxBytes, validation.Min(int64(0))),
		validation.Field(&c.UploadMaxBytes, validation.Min(int64(0))),
	)
	if err != nil {
		return err
	}
	if c.Production() && c.JWTSecret == DefaultJWTSecret {
		return errors.New("JWT_SECRET must be changed in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
