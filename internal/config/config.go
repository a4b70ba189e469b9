// Package config loads process settings from the environment and optional
// .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"donationcore/internal/blob"
)

// EnvPrefix prefixes every variable read by Load.
const EnvPrefix = "DONATIONCORE_"

// Storage drivers accepted by STORAGE_DRIVER.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// MinJWTSecretLen matches the identity provider's secret requirement.
const MinJWTSecretLen = 16

// Config is the full process configuration.
//
//	DONATIONCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	DONATIONCORE_SQLITE_PATH: sqlite file (default ./donationcore.db)
//	DONATIONCORE_POSTGRES_DSN: DSN when driver=postgres
//	DONATIONCORE_BLOB_*: see blob.Config
type Config struct {
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"./donationcore.db"`
	PostgresDSN   string `env:"POSTGRES_DSN"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	MaxUploadSize   int64         `env:"MAX_UPLOAD_SIZE" envDefault:"20971520"`
	FileURLExpiry   time.Duration `env:"FILE_URL_EXPIRY" envDefault:"15m"`

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"12h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"donationcore"`

	Blob blob.Config `envPrefix:"BLOB_"`
}

// LoadEnv loads the env files that exist and returns how many were read.
// Variables already set in the process win over file values.
func LoadEnv(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads env files, parses DONATIONCORE_* variables and validates them.
func Load(envFiles ...string) (Config, error) {
	if _, err := LoadEnv(envFiles...); err != nil {
		return Config{}, fmt.Errorf("config: load env files: %w", err)
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerations and cross-field requirements. The JWT
// secret is checked separately by RequireSecret since migrate does not need it.
func (c *Config) Validate() error {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("config: POSTGRES_DSN is required when STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: invalid STORAGE_DRIVER=%q (expected memory|sqlite|postgres)", c.StorageDriver)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: invalid LOG_FORMAT=%q (expected json|text)", c.LogFormat)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	return nil
}

// RequireSecret fails when the JWT secret is missing or too short.
func (c Config) RequireSecret() error {
	if len(c.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes", MinJWTSecretLen)
	}
	return nil
}
