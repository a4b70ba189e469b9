package blob

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"

	"donationcore/internal/infra/blob/fs"
	memorystore "donationcore/internal/infra/blob/memory"
	infraS3 "donationcore/internal/infra/blob/s3"
)

// EnvPrefix prefixes every blob setting read from the environment.
const EnvPrefix = "DONATIONCORE_BLOB_"

// S3Config re-exports the S3 driver configuration.
type S3Config = infraS3.Config

// Config selects and configures a driver.
//
//	DONATIONCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	DONATIONCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	DONATIONCORE_BLOB_PUBLIC_BASE_URL: base URL the fs root is served from (optional)
//	DONATIONCORE_BLOB_S3_*: see infraS3.Config
type Config struct {
	Driver        string   `env:"DRIVER" envDefault:"fs"`
	FSRoot        string   `env:"FS_ROOT" envDefault:"./blobdata"`
	PublicBaseURL string   `env:"PUBLIC_BASE_URL"`
	S3            S3Config `envPrefix:"S3_"`
}

// Open builds the Store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot, cfg.PublicBaseURL)
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// OpenFromEnv parses DONATIONCORE_BLOB_* variables and opens the store.
func OpenFromEnv(ctx context.Context) (Store, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse blob config: %w", err)
	}
	return Open(ctx, cfg)
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }
