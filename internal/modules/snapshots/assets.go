package snapshots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/networth/internal/domain"
	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/modules/currency"
	"github.com/aristath/networth/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultProviderTimeout bounds one provider's FetchBalances call
const DefaultProviderTimeout = 30 * time.Second

// ProviderOutcome reports what one provider contributed to a batch.
type ProviderOutcome struct {
	Provider string        `json:"provider"`
	Success  bool          `json:"success"`
	Records  int           `json:"records"`
	Dropped  int           `json:"dropped"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// AssetBatch is the outcome of one asset extraction.
type AssetBatch struct {
	SnapshotTime     time.Time
	RateSnapshotTime time.Time
	Rows             []domain.AssetSnapshot
	Providers        []ProviderOutcome
	Unconverted      int
}

// Succeeded returns the names of providers that returned balances
func (b *AssetBatch) Succeeded() []string {
	var out []string
	for _, p := range b.Providers {
		if p.Success {
			out = append(out, p.Provider)
		}
	}
	return out
}

// Failed returns the names of providers that were skipped
func (b *AssetBatch) Failed() []string {
	var out []string
	for _, p := range b.Providers {
		if !p.Success {
			out = append(out, p.Provider)
		}
	}
	return out
}

// AssetsExtractor reads balances from every provider, converts them into the
// baseline currencies and stores one row per (platform, asset).
type AssetsExtractor struct {
	repo      *Repository
	providers []domain.BalanceProvider
	fallback  *currency.FallbackTable
	bridge    string
	log       zerolog.Logger
	mu        sync.Mutex // one cycle at a time keeps snapshot_time in commit order
}

// NewAssetsExtractor creates a new asset extractor
func NewAssetsExtractor(
	repo *Repository,
	providers []domain.BalanceProvider,
	fallback *currency.FallbackTable,
	bridge string,
	log zerolog.Logger,
) *AssetsExtractor {
	return &AssetsExtractor{
		repo:      repo,
		providers: providers,
		fallback:  fallback,
		bridge:    bridge,
		log:       log.With().Str("service", "assets_extractor").Logger(),
	}
}

// Providers returns the provider names in configured order
func (e *AssetsExtractor) Providers() []string {
	names := make([]string, 0, len(e.providers))
	for _, p := range e.providers {
		names = append(names, p.Name())
	}
	return names
}

// ExtractOptions tune one extraction
type ExtractOptions struct {
	Baselines       []string
	ProviderTimeout time.Duration
	Concurrency     int      // 0 runs every provider at once
	Only            []string // provider names; empty means all
}

// Extract runs one asset snapshot cycle. Provider failures are isolated;
// an error is returned only when storage fails or every provider failed.
func (e *AssetsExtractor) Extract(ctx context.Context, opts ExtractOptions) (*AssetBatch, error) {
	if len(opts.Baselines) == 0 {
		return nil, fmt.Errorf("no baseline currencies configured")
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snapshotTime, err := e.repo.NextSnapshotTime(ctx, TableAssets, time.Now())
	if err != nil {
		return nil, err
	}

	rates, rateTime, err := e.repo.LatestRateBatch(ctx)
	if err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		e.log.Warn().Msg("No rate snapshot available, converting with fallback rates only")
	}
	conv := currency.NewConverter(rates, e.fallback, e.bridge)

	providers := e.selectProviders(opts.Only)
	fetched := e.fetchAll(ctx, providers, opts)

	batch := &AssetBatch{SnapshotTime: snapshotTime, RateSnapshotTime: rateTime}
	for i, res := range fetched {
		outcome := res.outcome
		if outcome.Success {
			records, dropped := normalizeRecords(providers[i].Name(), res.records, e.log)
			outcome.Records = len(records)
			outcome.Dropped = dropped

			for _, rec := range records {
				values, missing := conv.ConvertAll(rec.Balance, rec.Currency, opts.Baselines)
				if len(missing) > 0 {
					batch.Unconverted++
					e.log.Warn().
						Str("platform", rec.Platform).
						Str("asset", rec.AssetCode).
						Str("currency", rec.Currency).
						Strs("baselines", missing).
						Msg("No rate for baseline, value left unconverted")
				}
				batch.Rows = append(batch.Rows, domain.AssetSnapshot{
					Platform:     rec.Platform,
					AssetType:    rec.AssetType,
					AssetCode:    rec.AssetCode,
					AssetName:    rec.AssetName,
					Currency:     rec.Currency,
					Balance:      rec.Balance,
					BaseValues:   values,
					SnapshotTime: snapshotTime,
					Extra:        rec.Extra,
				})
			}
		}
		batch.Providers = append(batch.Providers, outcome)
	}

	failed := batch.Failed()
	e.log.Info().
		Int("rows", len(batch.Rows)).
		Int("providers", len(providers)).
		Int("failed", len(failed)).
		Int("unconverted", batch.Unconverted).
		Msg("Asset extraction completed")

	if len(providers) > 0 && len(failed) == len(providers) {
		return batch, fmt.Errorf("all %d providers failed", len(providers))
	}

	if err := e.repo.InsertAssetBatch(ctx, batch.Rows, opts.Baselines); err != nil {
		return batch, fmt.Errorf("failed to store asset batch: %w", err)
	}
	return batch, nil
}

func (e *AssetsExtractor) selectProviders(only []string) []domain.BalanceProvider {
	if len(only) == 0 {
		return e.providers
	}
	want := make(map[string]bool, len(only))
	for _, name := range only {
		want[name] = true
	}
	var out []domain.BalanceProvider
	for _, p := range e.providers {
		if want[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}

type fetchResult struct {
	records []domain.BalanceRecord
	outcome ProviderOutcome
}

// fetchAll calls every provider concurrently and waits for all of them.
// Results keep the provider order.
func (e *AssetsExtractor) fetchAll(ctx context.Context, providers []domain.BalanceProvider, opts ExtractOptions) []fetchResult {
	results := make([]fetchResult, len(providers))

	var g errgroup.Group
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	for i, p := range providers {
		g.Go(func() error {
			results[i] = e.fetchOne(ctx, p, opts.ProviderTimeout)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *AssetsExtractor) fetchOne(ctx context.Context, p domain.BalanceProvider, timeout time.Duration) (res fetchResult) {
	start := time.Now()
	res.outcome.Provider = p.Name()

	defer func() {
		if r := recover(); r != nil {
			res.records = nil
			res.outcome.Success = false
			res.outcome.Error = fmt.Sprintf("provider panicked: %v", r)
		}
		res.outcome.Duration = time.Since(start)
		if !res.outcome.Success {
			e.log.Error().
				Str("provider", p.Name()).
				Str("error", res.outcome.Error).
				Dur("duration", res.outcome.Duration).
				Msg("Provider failed, skipping for this cycle")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	records, err := p.FetchBalances(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		res.outcome.Error = err.Error()
		return res
	}

	res.records = records
	res.outcome.Success = true
	return res
}

type assetKey struct {
	platform string
	code     string
}

// normalizeRecords drops malformed records and merges duplicate
// (platform, asset_code) entries by summing their balances.
func normalizeRecords(provider string, records []domain.BalanceRecord, log zerolog.Logger) ([]domain.BalanceRecord, int) {
	out := make([]domain.BalanceRecord, 0, len(records))
	index := make(map[assetKey]int, len(records))
	dropped := 0

	for _, rec := range records {
		if rec.Platform == "" {
			rec.Platform = provider
		}
		rec.AssetCode = domain.NormalizeCurrency(rec.AssetCode)
		rec.Currency = domain.NormalizeCurrency(rec.Currency)
		if rec.AssetType == "" || !rec.AssetType.Valid() {
			rec.AssetType = domain.AssetTypeOther
		}
		if rec.AssetName == "" {
			rec.AssetName = rec.AssetCode
		}

		reason := ""
		switch {
		case rec.AssetCode == "":
			reason = "empty asset code"
		case rec.Currency == "":
			reason = "empty currency"
		case rec.Balance.IsNegative():
			reason = "negative balance"
		default:
			if err := domain.ValidateAssetExtra(rec.Extra); err != nil {
				reason = err.Error()
			}
		}
		if reason != "" {
			dropped++
			log.Warn().
				Str("provider", provider).
				Str("asset", rec.AssetCode).
				Str("reason", reason).
				Msg("Dropping malformed balance record")
			continue
		}

		key := assetKey{rec.Platform, rec.AssetCode}
		if i, ok := index[key]; ok {
			if out[i].Currency != rec.Currency {
				dropped++
				log.Warn().
					Str("provider", provider).
					Str("asset", rec.AssetCode).
					Msg("Dropping duplicate balance record with a different currency")
				continue
			}
			out[i].Balance = out[i].Balance.Add(rec.Balance)
			out[i].Extra = mergeDuplicateExtra(out[i].Extra, rec.Extra)
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out, dropped
}

// mergeDuplicateExtra combines the extras of two records for the same asset.
// Quantities are summed; the per-unit price is kept only when both records
// agree on it, otherwise it would not describe the merged balance.
func mergeDuplicateExtra(a, b domain.Extra) domain.Extra {
	merged := a.Merge(b)
	if merged == nil {
		return nil
	}

	qa, okA := extraDecimal(a, domain.ExtraQuantity)
	qb, okB := extraDecimal(b, domain.ExtraQuantity)
	if okA && okB {
		merged[domain.ExtraQuantity] = qa.Add(qb).String()
	} else {
		delete(merged, domain.ExtraQuantity)
	}

	pa, okA := extraDecimal(a, domain.ExtraUnitPrice)
	pb, okB := extraDecimal(b, domain.ExtraUnitPrice)
	if !okA || !okB || !pa.Equal(pb) || a[domain.ExtraPriceCurrency] != b[domain.ExtraPriceCurrency] {
		delete(merged, domain.ExtraUnitPrice)
		delete(merged, domain.ExtraPriceCurrency)
	}
	return merged
}

func extraDecimal(e domain.Extra, key string) (decimal.Decimal, bool) {
	switch v := e[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case decimal.Decimal:
		return v, true
	}
	return decimal.Decimal{}, false
}

// AssetsTask runs the asset extractor on the scheduler.
//
// Config keys: baselines ([]string), provider_timeout (duration),
// concurrency (int), providers ([]string subset).
type AssetsTask struct {
	extractor *AssetsExtractor
	baselines []string
}

// NewAssetsTask creates the snapshot:assets task
func NewAssetsTask(extractor *AssetsExtractor, baselines []string) *AssetsTask {
	return &AssetsTask{extractor: extractor, baselines: baselines}
}

// ValidateConfig implements scheduler.ConfigValidator
func (t *AssetsTask) ValidateConfig(cfg scheduler.Config) error {
	tc := scheduler.NewContext(TaskAssets, "", cfg, nil, zerolog.Nop())

	if len(tc.Strings("baselines", t.baselines)) == 0 {
		return fmt.Errorf("baselines must not be empty")
	}
	known := make(map[string]bool)
	for _, name := range t.extractor.Providers() {
		known[name] = true
	}
	for _, name := range tc.Strings("providers", nil) {
		if !known[name] {
			return fmt.Errorf("unknown provider %q", name)
		}
	}
	if tc.Int("concurrency", 0) < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	return nil
}

// Execute implements scheduler.Task
func (t *AssetsTask) Execute(ctx context.Context, tc *scheduler.Context) (*scheduler.Result, error) {
	batch, err := t.extractor.Extract(ctx, ExtractOptions{
		Baselines:       normalizeAll(tc.Strings("baselines", t.baselines)),
		ProviderTimeout: tc.Duration("provider_timeout", DefaultProviderTimeout),
		Concurrency:     tc.Int("concurrency", 0),
		Only:            tc.Strings("providers", nil),
	})
	if batch == nil {
		return nil, err
	}

	data := map[string]any{
		"snapshot_time":       batch.SnapshotTime,
		"rows":                len(batch.Rows),
		"succeeded_providers": batch.Succeeded(),
		"failed_providers":    batch.Failed(),
		"providers":           batch.Providers,
		"unconverted":         batch.Unconverted,
	}
	if !batch.RateSnapshotTime.IsZero() {
		data["rate_snapshot_time"] = batch.RateSnapshotTime
	}
	if err != nil {
		return scheduler.Failed(err.Error(), data), nil
	}

	tc.Set(VarAssetSnapshotTime, batch.SnapshotTime)
	tc.Emit(ctx, events.AssetsSnapshotted, &events.AssetsSnapshottedData{
		SnapshotTime:       batch.SnapshotTime,
		Rows:               len(batch.Rows),
		SucceededProviders: batch.Succeeded(),
		FailedProviders:    batch.Failed(),
		Unconverted:        batch.Unconverted,
	})
	return scheduler.Succeeded(data), nil
}
