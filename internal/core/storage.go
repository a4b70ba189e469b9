// Package core assembles the process-wide handles (row store, object store,
// identity provider, metrics) and the services built on them.
package core

import (
	"context"
	"fmt"

	"donationcore/internal/config"
	"donationcore/internal/infra/persistence/memory"
	"donationcore/internal/infra/persistence/postgres"
	"donationcore/internal/infra/persistence/sqlite"
	"donationcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = config.StorageMemory   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = config.StorageSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.StoragePostgres // PostgreSQL server
)

// PersistentStore is the row store handed to services.
type PersistentStore = domain.PersistentStore

// OpenPersistentStore opens the backend selected by cfg.StorageDriver and
// applies its schema. An empty driver selects sqlite.
func OpenPersistentStore(ctx context.Context, cfg config.Config) (PersistentStore, error) {
	driver := cfg.StorageDriver
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
