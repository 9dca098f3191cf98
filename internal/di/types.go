/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server and the entry point.
 */
package di

import (
	"errors"

	"github.com/aristath/networth/internal/clientdata"
	"github.com/aristath/networth/internal/clients/exchangerate"
	"github.com/aristath/networth/internal/database"
	"github.com/aristath/networth/internal/domain"
	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/modules/aggregation"
	"github.com/aristath/networth/internal/modules/currency"
	"github.com/aristath/networth/internal/modules/snapshots"
	"github.com/aristath/networth/internal/reliability"
	"github.com/aristath/networth/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Fields are populated in order by the Initialize* functions:
 * databases, repositories, services, then the task table and scheduler.
 */
type Container struct {
	// Databases
	SnapshotsDB  *database.DB // append-only rate and asset snapshots
	ClientDataDB *database.DB // provider response cache

	// Repositories
	SnapshotRepo   *snapshots.Repository
	ClientDataRepo *clientdata.Repository

	// Services
	EventBus           *events.Bus
	RateSource         *exchangerate.Client
	FallbackRates      *currency.FallbackTable
	Providers          []domain.BalanceProvider
	RatesExtractor     *snapshots.RatesExtractor
	AssetsExtractor    *snapshots.AssetsExtractor
	AggregationService *aggregation.Service
	BackupService      *reliability.BackupService // nil when backups are disabled

	// Scheduling
	TaskRegistry *scheduler.Registry
	Scheduler    *scheduler.Scheduler

	unsubscribe []func()
}

// Databases returns every open database
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.SnapshotsDB, c.ClientDataDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close detaches bus subscribers and closes the databases.
// The scheduler must be stopped first.
func (c *Container) Close() error {
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.unsubscribe = nil

	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
