// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aristath/networth/internal/clients/exchangerate"
	"github.com/aristath/networth/internal/config"
	"github.com/aristath/networth/internal/database"
	"github.com/aristath/networth/internal/domain"
	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/modules/aggregation"
	"github.com/aristath/networth/internal/modules/currency"
	"github.com/aristath/networth/internal/modules/snapshots"
	"github.com/aristath/networth/internal/providers/binance"
	"github.com/aristath/networth/internal/providers/manual"
	"github.com/aristath/networth/internal/providers/navfeed"
	"github.com/aristath/networth/internal/providers/wallet"
	"github.com/aristath/networth/internal/providers/wise"
	"github.com/aristath/networth/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates the rate source, the providers, the extractors
// and the read side. Requires repositories to be initialized.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// ==========================================
	// STEP 1: Event bus and currency collaborators
	// ==========================================
	container.EventBus = events.NewBus(events.DefaultHistorySize, log)

	fallback := currency.DefaultFallbackTable()
	if len(cfg.FallbackRates) > 0 {
		table, err := currency.NewFallbackTable(cfg.FallbackRates)
		if err != nil {
			return fmt.Errorf("invalid fallback rate table: %w", err)
		}
		fallback = table
	}
	container.FallbackRates = fallback

	container.RateSource = exchangerate.NewClient(cfg.ExchangeRateURL, container.ClientDataRepo, log)

	// ==========================================
	// STEP 2: Balance providers, in configured order
	// ==========================================
	providers, err := buildProviders(ctx, container, cfg, log)
	if err != nil {
		return err
	}
	container.Providers = providers

	// ==========================================
	// STEP 3: Extractors
	// ==========================================
	container.RatesExtractor = snapshots.NewRatesExtractor(container.SnapshotRepo, container.RateSource, log)
	container.AssetsExtractor = snapshots.NewAssetsExtractor(
		container.SnapshotRepo,
		container.Providers,
		container.FallbackRates,
		cfg.BridgeCurrency,
		log,
	)

	// ==========================================
	// STEP 4: Read side
	// ==========================================
	container.AggregationService = aggregation.NewService(container.SnapshotRepo, cfg.Baselines, cfg.Timezone, log)
	container.unsubscribe = append(container.unsubscribe, container.AggregationService.Subscribe(container.EventBus))

	// ==========================================
	// STEP 5: Backups (optional)
	// ==========================================
	if cfg.Backup.Enabled {
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			[]*database.DB{container.SnapshotsDB},
			store,
			filepath.Join(cfg.DataDir, "backup-staging"),
			cfg.Backup.RetentionDays,
			log,
		)
	}

	log.Info().
		Strs("providers", container.AssetsExtractor.Providers()).
		Strs("baselines", cfg.Baselines).
		Bool("backup", container.BackupService != nil).
		Msg("All services initialized")

	return nil
}

// buildProviders creates one provider per configured account
func buildProviders(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) ([]domain.BalanceProvider, error) {
	pc := cfg.Providers
	var providers []domain.BalanceProvider

	if pc.Wise != nil {
		providers = append(providers, wise.NewProvider(wise.Config{
			Token:     pc.Wise.Token,
			ProfileID: pc.Wise.ProfileID,
			BaseURL:   pc.Wise.BaseURL,
		}, log))
	}

	// Binance doubles as the price source of the wallets
	var pricer domain.Pricer
	if pc.Binance != nil {
		bp := binance.NewProvider(binance.Config{
			APIKey:    pc.Binance.APIKey,
			SecretKey: pc.Binance.SecretKey,
			Dust:      pc.Binance.Dust,
		}, container.ClientDataRepo, log)
		providers = append(providers, bp)
		pricer = bp
	}

	for _, wc := range pc.Wallets {
		wp, err := wallet.Dial(ctx, wallet.Config{
			Network:   wc.Network,
			Symbol:    wc.Symbol,
			RPCURL:    wc.RPCURL,
			Addresses: wc.Addresses,
			Quote:     wc.Quote,
		}, pricer, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize wallet provider: %w", err)
		}
		providers = append(providers, wp)
	}

	if pc.NAVFeed != nil && len(pc.NAVFeed.Holdings) > 0 {
		providers = append(providers, navfeed.NewProvider(pc.NAVFeed.BaseURL, pc.NAVFeed.Holdings, container.ClientDataRepo, log))
	}

	if len(pc.Manual) > 0 {
		providers = append(providers, manual.NewProvider(pc.Manual))
	}

	return providers, nil
}
