// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/aristath/networth/internal/clientdata"
	"github.com/aristath/networth/internal/modules/snapshots"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.SnapshotRepo = snapshots.NewRepository(container.SnapshotsDB.Conn(), log)
	container.ClientDataRepo = clientdata.NewRepository(container.ClientDataDB.Conn())

	log.Info().Msg("All repositories initialized")

	return nil
}
