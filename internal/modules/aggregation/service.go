// Package aggregation computes totals, distributions and trend series from the
// asset snapshot history. It only reads snapshot rows.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/networth/internal/domain"
	"github.com/aristath/networth/internal/events"
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// Query limits
const (
	DefaultTrendDays = 30
	MaxTrendDays     = 3650
)

var (
	// ErrInvalidQuery is returned for malformed query parameters
	ErrInvalidQuery = errors.New("invalid aggregation query")
	// ErrUnknownBaseCurrency is returned when the base is not a configured baseline
	ErrUnknownBaseCurrency = errors.New("unknown base currency")
)

// Grouping dimensions of a distribution
const (
	ByPlatform  = "platform"
	ByAssetType = "asset_type"
)

// SnapshotReader is the read side of the snapshot repository
type SnapshotReader interface {
	LatestAssetsAsOf(ctx context.Context, asOf time.Time) ([]domain.AssetSnapshot, error)
	AssetsInWindow(ctx context.Context, from, to time.Time) ([]domain.AssetSnapshot, error)
}

// Subscriber is the part of the event bus the cache listens on
type Subscriber interface {
	Subscribe(eventType events.EventType, name string, handler events.Handler) func()
}

// Money is a base-currency amount with its precision flags.
type Money struct {
	Value            decimal.Decimal `json:"value"`
	UsedFallback     bool            `json:"used_fallback"`
	UnconvertedCount int             `json:"unconverted_count"`
}

func (m *Money) add(v domain.BaseValue) {
	if !v.Converted {
		m.UnconvertedCount++
		return
	}
	m.Value = m.Value.Add(v.Amount)
	if v.UsedFallback {
		m.UsedFallback = true
	}
}

// Breakdown is one group of a distribution
type Breakdown struct {
	Key     string  `json:"key"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
	Money
}

// Totals is the current net worth in one base currency.
type Totals struct {
	BaseCurrency       string      `json:"base_currency"`
	AsOf               time.Time   `json:"as_of"`
	LatestSnapshotTime time.Time   `json:"latest_snapshot_time"`
	AssetCount         int         `json:"asset_count"`
	ByPlatform         []Breakdown `json:"by_platform"`
	ByAssetType        []Breakdown `json:"by_asset_type"`
	Money
}

// Distribution is a grouping of the current totals
type Distribution struct {
	BaseCurrency string      `json:"base_currency"`
	By           string      `json:"by"`
	Items        []Breakdown `json:"items"`
	Money
}

// TrendQuery parameterizes a trend series
type TrendQuery struct {
	BaseCurrency string
	Days         int
	Granularity  Granularity
	SMAPeriod    int       // 0 disables the moving average
	Now          time.Time // zero means time.Now()
}

// TrendPoint is the total of one bucket, taken from the latest snapshot
// instant inside the bucket.
type TrendPoint struct {
	BucketStart  time.Time `json:"bucket_start"`
	SnapshotTime time.Time `json:"snapshot_time"`
	SMA          *float64  `json:"sma,omitempty"`
	Money
}

// TrendSummary describes a trend series
type TrendSummary struct {
	First         decimal.Decimal `json:"first"`
	Last          decimal.Decimal `json:"last"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent float64         `json:"change_percent"`
	Min           decimal.Decimal `json:"min"`
	Max           decimal.Decimal `json:"max"`
	Mean          float64         `json:"mean"`
	StdDev        float64         `json:"std_dev"`
}

// Trend is a bucketed series. Buckets without snapshots are omitted.
type Trend struct {
	BaseCurrency     string        `json:"base_currency"`
	Granularity      Granularity   `json:"granularity"`
	Days             int           `json:"days"`
	From             time.Time     `json:"from"`
	To               time.Time     `json:"to"`
	SMAPeriod        int           `json:"sma_period,omitempty"`
	Points           []TrendPoint  `json:"points"`
	Summary          *TrendSummary `json:"summary,omitempty"`
	UsedFallback     bool          `json:"used_fallback"`
	UnconvertedCount int           `json:"unconverted_count"`
}

// Service answers aggregation queries
type Service struct {
	reader    SnapshotReader
	baselines map[string]bool
	loc       *time.Location
	now       func() time.Time
	log       zerolog.Logger

	mu         sync.RWMutex
	cache      map[string]*Totals
	generation uint64 // bumped by Invalidate
}

// NewService creates a new aggregation service. Buckets are aligned to loc.
func NewService(reader SnapshotReader, baselines []string, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	set := make(map[string]bool, len(baselines))
	for _, b := range baselines {
		set[domain.NormalizeCurrency(b)] = true
	}
	return &Service{
		reader:    reader,
		baselines: set,
		loc:       loc,
		now:       time.Now,
		log:       log.With().Str("service", "aggregation").Logger(),
		cache:     make(map[string]*Totals),
	}
}

// Subscribe invalidates the totals cache whenever a new asset batch lands.
func (s *Service) Subscribe(bus Subscriber) func() {
	return bus.Subscribe(events.AssetsSnapshotted, "aggregation-cache", func(ctx context.Context, e events.Event) error {
		s.Invalidate()
		return nil
	})
}

// Invalidate drops every cached totals entry
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cache) > 0 {
		s.log.Debug().Int("entries", len(s.cache)).Msg("Totals cache invalidated")
	}
	s.cache = make(map[string]*Totals)
	s.generation++
}

func (s *Service) checkBase(base string) (string, error) {
	base = domain.NormalizeCurrency(base)
	if !s.baselines[base] {
		return "", fmt.Errorf("%w: %q", ErrUnknownBaseCurrency, base)
	}
	return base, nil
}

// Totals returns the current totals in base, using the latest row of every
// (platform, asset_code) at or before now.
func (s *Service) Totals(ctx context.Context, base string) (*Totals, error) {
	base, err := s.checkBase(base)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached, ok := s.cache[base]
	gen := s.generation
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	now := s.now()
	rows, err := s.reader.LatestAssetsAsOf(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest assets: %w", err)
	}

	totals := &Totals{
		BaseCurrency: base,
		AsOf:         now.UTC(),
		AssetCount:   len(rows),
		ByPlatform:   group(rows, base, func(r *domain.AssetSnapshot) string { return r.Platform }),
		ByAssetType:  group(rows, base, func(r *domain.AssetSnapshot) string { return string(r.AssetType) }),
	}
	for i := range rows {
		totals.add(rows[i].ValueIn(base))
		if rows[i].SnapshotTime.After(totals.LatestSnapshotTime) {
			totals.LatestSnapshotTime = rows[i].SnapshotTime
		}
	}
	setPercents(totals.ByPlatform, totals.Value)
	setPercents(totals.ByAssetType, totals.Value)

	// a batch that landed while computing makes totals stale; serve it uncached
	s.mu.Lock()
	if s.generation == gen {
		s.cache[base] = totals
	}
	s.mu.Unlock()

	return totals, nil
}

// Distribution groups the current totals by platform or asset type
func (s *Service) Distribution(ctx context.Context, base, by string) (*Distribution, error) {
	if by == "" {
		by = ByPlatform
	}
	if by != ByPlatform && by != ByAssetType {
		return nil, fmt.Errorf("%w: cannot group by %q", ErrInvalidQuery, by)
	}

	totals, err := s.Totals(ctx, base)
	if err != nil {
		return nil, err
	}

	items := totals.ByPlatform
	if by == ByAssetType {
		items = totals.ByAssetType
	}
	return &Distribution{
		BaseCurrency: totals.BaseCurrency,
		By:           by,
		Items:        items,
		Money:        totals.Money,
	}, nil
}

// Trend returns one point per bucket of the window that holds snapshots.
// Each point sums the rows of the latest snapshot instant in its bucket, so
// repeated observations of an asset within a bucket are never added up.
func (s *Service) Trend(ctx context.Context, q TrendQuery) (*Trend, error) {
	base, err := s.checkBase(q.BaseCurrency)
	if err != nil {
		return nil, err
	}
	if q.Days == 0 {
		q.Days = DefaultTrendDays
	}
	if q.Days < 0 || q.Days > MaxTrendDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidQuery, MaxTrendDays)
	}
	if q.Granularity, err = ParseGranularity(string(q.Granularity)); err != nil {
		return nil, err
	}
	if q.SMAPeriod < 0 || q.SMAPeriod == 1 {
		return nil, fmt.Errorf("%w: sma period must be 0 or at least 2", ErrInvalidQuery)
	}

	now := q.Now
	if now.IsZero() {
		now = s.now()
	}
	from := q.Granularity.BucketStart(now.AddDate(0, 0, -q.Days), s.loc)

	rows, err := s.reader.AssetsInWindow(ctx, from, now.Add(time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("failed to load assets for trend: %w", err)
	}

	trend := &Trend{
		BaseCurrency: base,
		Granularity:  q.Granularity,
		Days:         q.Days,
		From:         from.UTC(),
		To:           now.UTC(),
		SMAPeriod:    q.SMAPeriod,
		Points:       []TrendPoint{},
	}

	for _, b := range latestPerBucket(rows, q.Granularity, s.loc) {
		point := TrendPoint{BucketStart: b.start, SnapshotTime: b.instant}
		for i := range b.rows {
			point.add(b.rows[i].ValueIn(base))
		}
		if point.UsedFallback {
			trend.UsedFallback = true
		}
		trend.UnconvertedCount += point.UnconvertedCount
		trend.Points = append(trend.Points, point)
	}

	trend.Summary = summarize(trend.Points)
	applySMA(trend.Points, q.SMAPeriod)

	s.log.Debug().
		Str("base", base).
		Str("granularity", string(q.Granularity)).
		Int("rows", len(rows)).
		Int("points", len(trend.Points)).
		Msg("Trend computed")

	return trend, nil
}

type bucket struct {
	start   time.Time
	instant time.Time
	rows    []domain.AssetSnapshot
}

// latestPerBucket keeps, for every bucket, only the rows written at the
// latest snapshot time inside it. rows must be ordered by snapshot time and
// insertion order. If one instant holds the same (platform, asset_code)
// twice, the last written row wins.
func latestPerBucket(rows []domain.AssetSnapshot, g Granularity, loc *time.Location) []bucket {
	var out []bucket
	for _, row := range rows {
		start := g.BucketStart(row.SnapshotTime, loc)
		if len(out) == 0 || !out[len(out)-1].start.Equal(start) {
			out = append(out, bucket{start: start})
		}
		b := &out[len(out)-1]
		if row.SnapshotTime.After(b.instant) {
			b.instant = row.SnapshotTime
			b.rows = b.rows[:0]
		}
		b.rows = append(b.rows, row)
	}

	for i := range out {
		out[i].rows = dedupeLastWins(out[i].rows)
	}
	return out
}

func dedupeLastWins(rows []domain.AssetSnapshot) []domain.AssetSnapshot {
	type key struct{ platform, code string }
	index := make(map[key]int, len(rows))
	out := make([]domain.AssetSnapshot, 0, len(rows))
	for _, row := range rows {
		k := key{row.Platform, row.AssetCode}
		if i, ok := index[k]; ok {
			out[i] = row
			continue
		}
		index[k] = len(out)
		out = append(out, row)
	}
	return out
}

func group(rows []domain.AssetSnapshot, base string, keyOf func(*domain.AssetSnapshot) string) []Breakdown {
	index := make(map[string]int)
	var out []Breakdown
	for i := range rows {
		k := keyOf(&rows[i])
		j, ok := index[k]
		if !ok {
			j = len(out)
			index[k] = j
			out = append(out, Breakdown{Key: k})
		}
		out[j].Count++
		out[j].add(rows[i].ValueIn(base))
	}
	sort.SliceStable(out, func(a, b int) bool {
		if c := out[a].Value.Cmp(out[b].Value); c != 0 {
			return c > 0
		}
		return out[a].Key < out[b].Key
	})
	if out == nil {
		out = []Breakdown{}
	}
	return out
}

func setPercents(items []Breakdown, total decimal.Decimal) {
	if !total.IsPositive() {
		return
	}
	hundred := decimal.NewFromInt(100)
	for i := range items {
		items[i].Percent = items[i].Value.Div(total).Mul(hundred).Round(2).InexactFloat64()
	}
}

func summarize(points []TrendPoint) *TrendSummary {
	if len(points) == 0 {
		return nil
	}

	values := make([]float64, len(points))
	sum := &TrendSummary{
		First: points[0].Value,
		Last:  points[len(points)-1].Value,
		Min:   points[0].Value,
		Max:   points[0].Value,
	}
	for i, p := range points {
		values[i] = p.Value.InexactFloat64()
		sum.Min = decimal.Min(sum.Min, p.Value)
		sum.Max = decimal.Max(sum.Max, p.Value)
	}

	sum.Change = sum.Last.Sub(sum.First)
	if !sum.First.IsZero() {
		sum.ChangePercent = sum.Change.Div(sum.First).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	sum.Mean = stat.Mean(values, nil)
	if len(values) > 1 {
		sum.StdDev = stat.StdDev(values, nil)
	}
	return sum
}

// applySMA sets the simple moving average on every point that has a full window.
func applySMA(points []TrendPoint, period int) {
	if period < 2 || len(points) < period {
		return
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value.InexactFloat64()
	}
	sma := talib.Sma(values, period)
	for i := period - 1; i < len(points) && i < len(sma); i++ {
		v := sma[i]
		points[i].SMA = &v
	}
}
