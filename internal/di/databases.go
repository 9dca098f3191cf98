// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/networth/internal/config"
	"github.com/aristath/networth/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. snapshots.db - append-only snapshot history
	snapshotsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, database.NameSnapshots+".db"),
		Profile: database.ProfileLedger, // Maximum safety for the audit trail
		Name:    database.NameSnapshots,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshots database: %w", err)
	}
	container.SnapshotsDB = snapshotsDB

	// 2. client_data.db - cached provider responses, rebuildable
	clientDataDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, database.NameClientData+".db"),
		Profile: database.ProfileCache,
		Name:    database.NameClientData,
	})
	if err != nil {
		snapshotsDB.Close()
		return nil, fmt.Errorf("failed to initialize client data database: %w", err)
	}
	container.ClientDataDB = clientDataDB

	for _, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("data_dir", cfg.DataDir).
		Msg("Databases initialized")

	return container, nil
}
