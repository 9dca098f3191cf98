package clientdata

import (
	"context"

	"github.com/aristath/networth/internal/scheduler"
)

// TaskCleanup is the task id of the cache cleanup
const TaskCleanup = "maintenance:cache-cleanup"

// CleanupTask removes expired entries from all client data tables.
// It is scheduled to run daily.
type CleanupTask struct {
	repo *Repository
}

// NewCleanupTask creates a new client data cleanup task.
func NewCleanupTask(repo *Repository) *CleanupTask {
	return &CleanupTask{repo: repo}
}

// Execute removes all expired entries from all tables.
func (t *CleanupTask) Execute(ctx context.Context, tc *scheduler.Context) (*scheduler.Result, error) {
	results, err := t.repo.DeleteAllExpired(ctx)
	if err != nil {
		tc.Log.Error().Err(err).Msg("Failed to delete expired client data")
		return nil, err
	}

	var totalDeleted int64
	deleted := make(map[string]any, len(results))
	for table, count := range results {
		deleted[table] = count
		if count > 0 {
			tc.Log.Info().
				Str("table", table).
				Int64("deleted", count).
				Msg("Cleaned up expired cache entries")
			totalDeleted += count
		}
	}

	if totalDeleted > 0 {
		tc.Log.Info().
			Int64("total_deleted", totalDeleted).
			Msg("Client data cleanup completed")
	}

	return scheduler.Succeeded(map[string]any{
		"deleted":       deleted,
		"total_deleted": totalDeleted,
	}), nil
}
