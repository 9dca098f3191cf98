package snapshots

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/networth/internal/domain"
	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/scheduler"
	"github.com/rs/zerolog"
)

// Task ids of the snapshot pipeline
const (
	TaskRates  = "snapshot:rates"
	TaskAssets = "snapshot:assets"
	TaskFull   = "snapshot:full"

	// Group is the exclusive scheduler group of the three snapshot tasks
	Group = "snapshot"
)

// Run-scoped variable names set by the extractors
const (
	VarRateSnapshotTime  = "rates.snapshot_time"
	VarAssetSnapshotTime = "assets.snapshot_time"
)

// DefaultPairTimeout bounds one live rate fetch
const DefaultPairTimeout = 10 * time.Second

// RateBatch is the outcome of one rate extraction.
type RateBatch struct {
	SnapshotTime time.Time
	Pairs        int
	Rows         []domain.ExchangeRateSnapshot
	Failed       []string
}

// RatesExtractor fetches a live rate for every directed pair of a currency
// universe and stores the successful ones as one batch.
type RatesExtractor struct {
	repo   *Repository
	source domain.RateSource
	log    zerolog.Logger
	mu     sync.Mutex // one cycle at a time keeps snapshot_time in commit order
}

// NewRatesExtractor creates a new rate extractor
func NewRatesExtractor(repo *Repository, source domain.RateSource, log zerolog.Logger) *RatesExtractor {
	return &RatesExtractor{
		repo:   repo,
		source: source,
		log:    log.With().Str("service", "rates_extractor").Logger(),
	}
}

// Extract fetches every pair of currencies. A failed pair is logged and
// skipped. When no pair succeeds nothing is written and an error is returned
// along with the batch describing the failures.
func (e *RatesExtractor) Extract(ctx context.Context, currencies []string, pairTimeout time.Duration) (*RateBatch, error) {
	if pairTimeout <= 0 {
		pairTimeout = DefaultPairTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snapshotTime, err := e.repo.NextSnapshotTime(ctx, TableRates, time.Now())
	if err != nil {
		return nil, err
	}

	pairs := domain.PairMatrix(currencies)
	batch := &RateBatch{SnapshotTime: snapshotTime, Pairs: len(pairs)}

	for _, pair := range pairs {
		quote, err := e.fetch(ctx, pair, pairTimeout)
		if err != nil {
			e.log.Error().
				Err(err).
				Str("from", pair.From).
				Str("to", pair.To).
				Msg("Failed to get rate")
			batch.Failed = append(batch.Failed, pair.String())
			continue
		}

		source := quote.Source
		if source == "" {
			source = e.source.Name()
		}
		batch.Rows = append(batch.Rows, domain.ExchangeRateSnapshot{
			FromCurrency: pair.From,
			ToCurrency:   pair.To,
			Rate:         quote.Rate,
			SnapshotTime: snapshotTime,
			Source:       source,
			Extra:        quote.Extra,
		})
	}

	e.log.Info().
		Int("success", len(batch.Rows)).
		Int("errors", len(batch.Failed)).
		Msg("Exchange rate extraction completed")

	if len(batch.Rows) == 0 {
		return batch, fmt.Errorf("all %d rate fetches failed", len(pairs))
	}

	if err := e.repo.InsertRateBatch(ctx, batch.Rows); err != nil {
		return batch, fmt.Errorf("failed to store rate batch: %w", err)
	}
	return batch, nil
}

// fetch gets one pair under its own timeout and rejects unusable quotes.
func (e *RatesExtractor) fetch(ctx context.Context, pair domain.CurrencyPair, timeout time.Duration) (domain.RateQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	quote, err := e.source.FetchRate(ctx, pair.From, pair.To)
	if err != nil {
		return domain.RateQuote{}, err
	}
	if !quote.Rate.IsPositive() {
		return domain.RateQuote{}, fmt.Errorf("non-positive rate %s", quote.Rate)
	}
	if err := domain.ValidateRateExtra(quote.Extra); err != nil {
		return domain.RateQuote{}, err
	}
	return quote, nil
}

// RatesTask runs the rate extractor on the scheduler.
//
// Config keys: currencies ([]string), pair_timeout (duration).
type RatesTask struct {
	extractor  *RatesExtractor
	currencies []string
}

// NewRatesTask creates the snapshot:rates task over the configured universe
func NewRatesTask(extractor *RatesExtractor, currencies []string) *RatesTask {
	return &RatesTask{extractor: extractor, currencies: currencies}
}

// ValidateConfig implements scheduler.ConfigValidator
func (t *RatesTask) ValidateConfig(cfg scheduler.Config) error {
	tc := scheduler.NewContext(TaskRates, "", cfg, nil, zerolog.Nop())
	return validateCurrencies(tc.Strings("currencies", t.currencies))
}

// Execute implements scheduler.Task
func (t *RatesTask) Execute(ctx context.Context, tc *scheduler.Context) (*scheduler.Result, error) {
	currencies := normalizeAll(tc.Strings("currencies", t.currencies))
	if err := validateCurrencies(currencies); err != nil {
		return nil, err
	}

	batch, err := t.extractor.Extract(ctx, currencies, tc.Duration("pair_timeout", DefaultPairTimeout))
	if batch == nil {
		return nil, err
	}

	data := map[string]any{
		"snapshot_time": batch.SnapshotTime,
		"pairs":         batch.Pairs,
		"succeeded":     len(batch.Rows),
		"failed":        batch.Failed,
	}
	if err != nil {
		return scheduler.Failed(err.Error(), data), nil
	}

	tc.Set(VarRateSnapshotTime, batch.SnapshotTime)
	tc.Emit(ctx, events.RatesSnapshotted, &events.RatesSnapshottedData{
		SnapshotTime: batch.SnapshotTime,
		Pairs:        batch.Pairs,
		Succeeded:    len(batch.Rows),
		Failed:       batch.Failed,
	})
	return scheduler.Succeeded(data), nil
}

func validateCurrencies(currencies []string) error {
	if len(currencies) < 2 {
		return fmt.Errorf("currency universe needs at least two currencies, got %d", len(currencies))
	}
	seen := make(map[string]bool, len(currencies))
	for _, c := range normalizeAll(currencies) {
		if len(c) < 3 {
			return fmt.Errorf("invalid currency code %q", c)
		}
		if seen[c] {
			return fmt.Errorf("duplicate currency %s", c)
		}
		seen[c] = true
	}
	return nil
}

func normalizeAll(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, domain.NormalizeCurrency(c))
	}
	return out
}
