package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/networth/internal/database"
	"github.com/aristath/networth/internal/domain"
	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/modules/snapshots"
	testingpkg "github.com/aristath/networth/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = zerolog.Nop()

func newTestRepo(t *testing.T) *snapshots.Repository {
	t.Helper()
	db, _ := testingpkg.NewTestDB(t, database.NameSnapshots)
	return snapshots.NewRepository(db.Conn(), testLog)
}

type holding struct {
	platform  string
	assetType domain.AssetType
	code      string
	cny       string // empty means unconverted
	fallback  bool
}

func insertBatch(t *testing.T, repo *snapshots.Repository, at time.Time, holdings ...holding) {
	t.Helper()
	rows := make([]domain.AssetSnapshot, 0, len(holdings))
	for _, h := range holdings {
		value := domain.Unconverted()
		if h.cny != "" {
			value = domain.BaseValue{Amount: decimal.RequireFromString(h.cny), Converted: true, UsedFallback: h.fallback}
		}
		rows = append(rows, domain.AssetSnapshot{
			Platform:     h.platform,
			AssetType:    h.assetType,
			AssetCode:    h.code,
			AssetName:    h.code,
			Currency:     h.code,
			Balance:      decimal.NewFromInt(1),
			BaseValues:   map[string]domain.BaseValue{"CNY": value},
			SnapshotTime: at,
		})
	}
	require.NoError(t, repo.InsertAssetBatch(context.Background(), rows, []string{"CNY"}))
}

func newTestService(reader SnapshotReader, now time.Time) *Service {
	s := NewService(reader, []string{"CNY", "USD"}, time.UTC, testLog)
	s.now = func() time.Time { return now }
	return s
}

func TestTrend_LatestPerBucket(t *testing.T) {
	repo := newTestRepo(t)
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	x := func(v string) holding { return holding{platform: "wise", assetType: domain.AssetTypeCash, code: "X", cny: v} }

	insertBatch(t, repo, day.Add(9*time.Hour), x("100"))
	insertBatch(t, repo, day.Add(10*time.Hour), x("150"))
	insertBatch(t, repo, day.Add(11*time.Hour), x("120"))

	svc := newTestService(repo, day.Add(20*time.Hour))
	trend, err := svc.Trend(context.Background(), TrendQuery{BaseCurrency: "CNY", Days: 2, Granularity: GranularityDay})
	require.NoError(t, err)

	require.Len(t, trend.Points, 1)
	assert.Equal(t, "120", trend.Points[0].Value.String(), "latest of the bucket, not the sum")
	assert.True(t, trend.Points[0].BucketStart.Equal(day))
	assert.True(t, trend.Points[0].SnapshotTime.Equal(day.Add(11*time.Hour)))
}

func TestTrend_Granularities(t *testing.T) {
	repo := newTestRepo(t)
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	x := func(v string) holding { return holding{platform: "wise", assetType: domain.AssetTypeCash, code: "X", cny: v} }

	insertBatch(t, repo, day.Add(9*time.Hour), x("100"))
	insertBatch(t, repo, day.Add(9*time.Hour+30*time.Minute), x("110"))
	insertBatch(t, repo, day.Add(13*time.Hour), x("150"))
	insertBatch(t, repo, day.Add(24*time.Hour+time.Hour), x("200"))

	svc := newTestService(repo, day.Add(30*time.Hour))

	tests := []struct {
		granularity Granularity
		want        []string
	}{
		{GranularityDay, []string{"150", "200"}},
		{GranularityHalfDay, []string{"110", "150", "200"}},
		{GranularityHour, []string{"110", "150", "200"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.granularity), func(t *testing.T) {
			trend, err := svc.Trend(context.Background(), TrendQuery{BaseCurrency: "CNY", Days: 3, Granularity: tt.granularity})
			require.NoError(t, err)
			var got []string
			for _, p := range trend.Points {
				got = append(got, p.Value.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrend_SumsTheLatestInstant(t *testing.T) {
	repo := newTestRepo(t)
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	insertBatch(t, repo, day.Add(8*time.Hour),
		holding{platform: "wise", code: "USD", cny: "700"},
		holding{platform: "binance", code: "BTC", cny: "300000"},
	)
	insertBatch(t, repo, day.Add(9*time.Hour),
		holding{platform: "wise", code: "USD", cny: "710", fallback: true},
		holding{platform: "binance", code: "BTC", cny: "310000"},
		holding{platform: "wallet", code: "ETH"},
	)

	svc := newTestService(repo, day.Add(12*time.Hour))
	trend, err := svc.Trend(context.Background(), TrendQuery{BaseCurrency: "cny", Days: 1, SMAPeriod: 0})
	require.NoError(t, err)
	require.Len(t, trend.Points, 1)

	p := trend.Points[0]
	assert.Equal(t, "310710", p.Value.String())
	assert.True(t, p.UsedFallback)
	assert.Equal(t, 1, p.UnconvertedCount)
	assert.True(t, trend.UsedFallback)
	assert.Equal(t, 1, trend.UnconvertedCount)
}

func TestTrend_SummaryAndSMA(t *testing.T) {
	repo := newTestRepo(t)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []string{"100", "200", "300", "400"} {
		insertBatch(t, repo, start.AddDate(0, 0, i), holding{platform: "wise", code: "X", cny: v})
	}

	svc := newTestService(repo, start.AddDate(0, 0, 4))
	trend, err := svc.Trend(context.Background(), TrendQuery{BaseCurrency: "CNY", Days: 10, SMAPeriod: 2})
	require.NoError(t, err)
	require.Len(t, trend.Points, 4)

	s := trend.Summary
	require.NotNil(t, s)
	assert.Equal(t, "100", s.First.String())
	assert.Equal(t, "400", s.Last.String())
	assert.Equal(t, "300", s.Change.String())
	assert.InDelta(t, 300.0, s.ChangePercent, 1e-9)
	assert.Equal(t, "100", s.Min.String())
	assert.Equal(t, "400", s.Max.String())
	assert.InDelta(t, 250.0, s.Mean, 1e-9)
	assert.Greater(t, s.StdDev, 0.0)

	assert.Nil(t, trend.Points[0].SMA)
	require.NotNil(t, trend.Points[1].SMA)
	assert.InDelta(t, 150.0, *trend.Points[1].SMA, 1e-9)
	assert.InDelta(t, 350.0, *trend.Points[3].SMA, 1e-9)
}

func TestTrend_EmptyWindow(t *testing.T) {
	svc := newTestService(newTestRepo(t), time.Now())
	trend, err := svc.Trend(context.Background(), TrendQuery{BaseCurrency: "CNY"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTrendDays, trend.Days)
	assert.Empty(t, trend.Points)
	assert.Nil(t, trend.Summary)
}

func TestTrend_InvalidQueries(t *testing.T) {
	svc := newTestService(newTestRepo(t), time.Now())
	ctx := context.Background()

	_, err := svc.Trend(ctx, TrendQuery{BaseCurrency: "GBP"})
	assert.True(t, errors.Is(err, ErrUnknownBaseCurrency))

	for _, q := range []TrendQuery{
		{BaseCurrency: "CNY", Days: -1},
		{BaseCurrency: "CNY", Days: MaxTrendDays + 1},
		{BaseCurrency: "CNY", Granularity: "week"},
		{BaseCurrency: "CNY", SMAPeriod: 1},
	} {
		_, err := svc.Trend(ctx, q)
		assert.True(t, errors.Is(err, ErrInvalidQuery), "%+v", q)
	}
}

func TestTotalsAndDistribution(t *testing.T) {
	repo := newTestRepo(t)
	t1 := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

	insertBatch(t, repo, t1,
		holding{platform: "wise", assetType: domain.AssetTypeCash, code: "USD", cny: "700"},
		holding{platform: "wise", assetType: domain.AssetTypeCash, code: "EUR", cny: "300", fallback: true},
		holding{platform: "binance", assetType: domain.AssetTypeCrypto, code: "BTC", cny: "1000"},
		holding{platform: "wallet", assetType: domain.AssetTypeCrypto, code: "ETH"},
	)
	// Only wise reported in the later batch; binance keeps its last row
	insertBatch(t, repo, t1.Add(time.Hour),
		holding{platform: "wise", assetType: domain.AssetTypeCash, code: "USD", cny: "800"},
	)

	svc := newTestService(repo, t1.Add(2*time.Hour))
	ctx := context.Background()

	totals, err := svc.Totals(ctx, "CNY")
	require.NoError(t, err)
	assert.Equal(t, "2100", totals.Value.String())
	assert.True(t, totals.UsedFallback)
	assert.Equal(t, 1, totals.UnconvertedCount)
	assert.Equal(t, 4, totals.AssetCount)
	assert.True(t, totals.LatestSnapshotTime.Equal(t1.Add(time.Hour)))

	require.Len(t, totals.ByPlatform, 3)
	assert.Equal(t, "wise", totals.ByPlatform[0].Key)
	assert.Equal(t, "1100", totals.ByPlatform[0].Value.String())
	assert.InDelta(t, 52.38, totals.ByPlatform[0].Percent, 0.001)
	assert.Equal(t, "wallet", totals.ByPlatform[2].Key)
	assert.Equal(t, 1, totals.ByPlatform[2].UnconvertedCount)

	dist, err := svc.Distribution(ctx, "CNY", ByAssetType)
	require.NoError(t, err)
	require.Len(t, dist.Items, 2)
	assert.Equal(t, "cash", dist.Items[0].Key)
	assert.Equal(t, 2, dist.Items[0].Count)

	_, err = svc.Distribution(ctx, "CNY", "country")
	assert.True(t, errors.Is(err, ErrInvalidQuery))

	usd, err := svc.Totals(ctx, "USD")
	require.NoError(t, err)
	assert.True(t, usd.Value.IsZero())
	assert.Equal(t, 4, usd.UnconvertedCount, "rows without a USD value are excluded")
}

type countingReader struct {
	SnapshotReader
	calls int
}

func (c *countingReader) LatestAssetsAsOf(ctx context.Context, asOf time.Time) ([]domain.AssetSnapshot, error) {
	c.calls++
	return c.SnapshotReader.LatestAssetsAsOf(ctx, asOf)
}

func TestTotals_CacheInvalidatedByEvent(t *testing.T) {
	repo := newTestRepo(t)
	reader := &countingReader{SnapshotReader: repo}
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	svc := newTestService(reader, now)

	bus := events.NewBus(10, testLog)
	unsubscribe := svc.Subscribe(bus)
	defer unsubscribe()

	ctx := context.Background()
	_, err := svc.Totals(ctx, "CNY")
	require.NoError(t, err)
	_, err = svc.Totals(ctx, "CNY")
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	insertBatch(t, repo, now.Add(-time.Minute), holding{platform: "wise", code: "USD", cny: "7"})
	bus.Publish(ctx, events.AssetsSnapshotted, "test", nil)

	totals, err := svc.Totals(ctx, "CNY")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
	assert.Equal(t, "7", totals.Value.String())
}

// landingReader inserts a new batch and invalidates the cache during the first read
type landingReader struct {
	countingReader
	land func()
}

func (l *landingReader) LatestAssetsAsOf(ctx context.Context, asOf time.Time) ([]domain.AssetSnapshot, error) {
	rows, err := l.countingReader.LatestAssetsAsOf(ctx, asOf)
	if l.land != nil {
		l.land()
		l.land = nil
	}
	return rows, err
}

func TestTotals_InvalidationDuringComputeIsNotCached(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	insertBatch(t, repo, now.Add(-time.Hour), holding{platform: "wise", code: "USD", cny: "7"})

	reader := &landingReader{countingReader: countingReader{SnapshotReader: repo}}
	svc := newTestService(reader, now)
	reader.land = func() {
		insertBatch(t, repo, now.Add(-time.Minute), holding{platform: "wise", code: "USD", cny: "8"})
		svc.Invalidate()
	}

	ctx := context.Background()
	stale, err := svc.Totals(ctx, "CNY")
	require.NoError(t, err)
	assert.Equal(t, "7", stale.Value.String())

	fresh, err := svc.Totals(ctx, "CNY")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls, "totals computed across an invalidation are not cached")
	assert.Equal(t, "8", fresh.Value.String())

	_, err = svc.Totals(ctx, "CNY")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestBucketStart(t *testing.T) {
	ts := time.Date(2024, 3, 5, 13, 45, 10, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), GranularityDay.BucketStart(ts, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), GranularityHalfDay.BucketStart(ts, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC), GranularityHour.BucketStart(ts, time.UTC))

	shanghai := time.FixedZone("CST", 8*3600)
	assert.Equal(t, 6, GranularityDay.BucketStart(time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC), shanghai).Day())

	assert.Equal(t, 12, GranularityHalfDay.Next(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)).Hour())
	assert.Equal(t, 6, GranularityHalfDay.Next(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)).Day())

	g, err := ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, GranularityDay, g)
}
