package reliability

import (
	"context"
	"fmt"

	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/scheduler"
)

// TaskBackup is the task id of the ledger backup
const TaskBackup = "maintenance:backup"

// BackupTask uploads a backup and rotates old ones. Config key "rotate"
// (default true) can disable rotation for a manual run.
type BackupTask struct {
	service *BackupService
}

// NewBackupTask creates a new backup task
func NewBackupTask(service *BackupService) *BackupTask {
	return &BackupTask{service: service}
}

// Execute runs one backup
func (t *BackupTask) Execute(ctx context.Context, tc *scheduler.Context) (*scheduler.Result, error) {
	info, err := t.service.CreateAndUpload(ctx)
	if err != nil {
		tc.Log.Error().Err(err).Msg("Backup failed")
		return nil, fmt.Errorf("backup failed: %w", err)
	}

	rotated := 0
	if tc.Bool("rotate", true) {
		rotated, err = t.service.RotateOldBackups(ctx)
		if err != nil {
			// The upload already succeeded
			tc.Log.Warn().Err(err).Msg("Backup rotation failed")
		}
	}

	tc.Emit(ctx, events.BackupUploaded, &events.BackupUploadedData{
		Bucket:    t.service.store.Bucket(),
		Key:       info.Key,
		SizeBytes: info.SizeBytes,
		Rotated:   rotated,
	})

	return scheduler.Succeeded(map[string]any{
		"key":        info.Key,
		"size_bytes": info.SizeBytes,
		"rotated":    rotated,
	}), nil
}
