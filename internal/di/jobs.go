// Package di provides dependency injection for scheduled tasks.
package di

import (
	"fmt"

	"github.com/aristath/networth/internal/clientdata"
	"github.com/aristath/networth/internal/config"
	"github.com/aristath/networth/internal/modules/snapshots"
	"github.com/aristath/networth/internal/reliability"
	"github.com/aristath/networth/internal/scheduler"
	"github.com/rs/zerolog"
)

// Default maintenance schedules
const (
	CleanupCron = "0 3 * * *"
	BackupCron  = "30 3 * * *"
)

// BuildTaskTable returns the static task table. snapshot:full fires on the
// snapshot interval; the two steps are registered for manual runs.
func BuildTaskTable(container *Container, cfg *config.Config) []scheduler.Definition {
	ratesTask := func() *snapshots.RatesTask {
		return snapshots.NewRatesTask(container.RatesExtractor, cfg.Currencies)
	}
	assetsTask := func() *snapshots.AssetsTask {
		return snapshots.NewAssetsTask(container.AssetsExtractor, cfg.Baselines)
	}

	rateConfig := scheduler.Config{
		"pair_timeout": cfg.RatePairTimeout.String(),
	}
	assetConfig := scheduler.Config{
		"provider_timeout": cfg.ProviderTimeout.String(),
		"concurrency":      cfg.ProviderConcurrency,
	}

	table := []scheduler.Definition{
		{
			TaskID:      snapshots.TaskFull,
			Group:       snapshots.Group,
			Name:        "Full snapshot",
			Description: "Snapshot exchange rates, then asset balances",
			Trigger:     scheduler.Every(cfg.SnapshotInterval),
			Config:      rateConfig.Merge(assetConfig),
			Factory: func() scheduler.Task {
				return snapshots.NewFullSnapshotTask(ratesTask(), assetsTask())
			},
		},
		{
			TaskID:      snapshots.TaskRates,
			Group:       snapshots.Group,
			Name:        "Rate snapshot",
			Description: "Fetch every currency pair of the universe and store one rate batch",
			Trigger:     scheduler.Manual(),
			Config:      rateConfig,
			Factory:     func() scheduler.Task { return ratesTask() },
		},
		{
			TaskID:      snapshots.TaskAssets,
			Group:       snapshots.Group,
			Name:        "Asset snapshot",
			Description: "Read every provider and store one asset batch valued in the baselines",
			Trigger:     scheduler.Manual(),
			Config:      assetConfig,
			Factory:     func() scheduler.Task { return assetsTask() },
		},
		{
			TaskID:      clientdata.TaskCleanup,
			Name:        "Cache cleanup",
			Description: "Delete expired provider cache entries",
			Trigger:     scheduler.CronTrigger(CleanupCron),
			Factory: func() scheduler.Task {
				return clientdata.NewCleanupTask(container.ClientDataRepo)
			},
		},
	}

	if container.BackupService != nil {
		table = append(table, scheduler.Definition{
			TaskID:      reliability.TaskBackup,
			Name:        "Backup",
			Description: "Upload a compressed copy of the snapshot database and rotate old backups",
			Trigger:     scheduler.CronTrigger(BackupCron),
			Config:      scheduler.Config{"rotate": true},
			Factory: func() scheduler.Task {
				return reliability.NewBackupTask(container.BackupService)
			},
		})
	}

	return table
}

// applyTriggerOverrides replaces the trigger of every task named in overrides.
// Overrides for tasks that are not registered are logged and ignored.
func applyTriggerOverrides(table []scheduler.Definition, overrides map[string]config.TriggerOverride, log zerolog.Logger) {
	for taskID, override := range overrides {
		found := false
		for i := range table {
			if table[i].TaskID != taskID {
				continue
			}
			found = true
			if override.Cron != "" {
				table[i].Trigger = scheduler.CronTrigger(override.Cron)
			} else {
				table[i].Trigger = scheduler.Every(override.Interval)
			}
			log.Info().
				Str("task", taskID).
				Str("trigger", table[i].Trigger.String()).
				Msg("Task trigger overridden")
		}
		if !found {
			log.Warn().Str("task", taskID).Msg("Trigger override for unregistered task ignored")
		}
	}
}

// RegisterTasks builds the task table and the scheduler
func RegisterTasks(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	table := BuildTaskTable(container, cfg)
	applyTriggerOverrides(table, cfg.Triggers, log)

	registry, err := scheduler.NewRegistry(table)
	if err != nil {
		return fmt.Errorf("failed to build task registry: %w", err)
	}

	container.TaskRegistry = registry
	container.Scheduler = scheduler.New(registry, container.EventBus, log)

	log.Info().
		Strs("tasks", registry.IDs()).
		Msg("Tasks registered")

	return nil
}
