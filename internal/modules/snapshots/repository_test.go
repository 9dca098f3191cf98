package snapshots

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/networth/internal/database"
	"github.com/aristath/networth/internal/domain"
	testingpkg "github.com/aristath/networth/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = zerolog.New(nil).Level(zerolog.Disabled)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, _ := testingpkg.NewTestDB(t, database.NameSnapshots)
	return NewRepository(db.Conn(), testLog)
}

func assetRow(platform, code, currency, balance string, at time.Time, values map[string]string) domain.AssetSnapshot {
	bv := make(map[string]domain.BaseValue, len(values))
	for ccy, amount := range values {
		bv[ccy] = domain.BaseValue{Amount: decimal.RequireFromString(amount), Converted: true, Source: domain.SourceLive}
	}
	return domain.AssetSnapshot{
		Platform:     platform,
		AssetType:    domain.AssetTypeCash,
		AssetCode:    code,
		AssetName:    code,
		Currency:     currency,
		Balance:      decimal.RequireFromString(balance),
		BaseValues:   bv,
		SnapshotTime: at,
	}
}

func TestRepository_NextSnapshotTimeIsMonotonic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	first, err := repo.NextSnapshotTime(ctx, TableAssets, now)
	require.NoError(t, err)
	assert.True(t, first.Equal(now))

	require.NoError(t, repo.InsertAssetBatch(ctx, []domain.AssetSnapshot{
		assetRow("wise", "USD", "USD", "1", first, map[string]string{"USD": "1"}),
	}, []string{"USD"}))

	// Clock did not advance
	second, err := repo.NextSnapshotTime(ctx, TableAssets, now)
	require.NoError(t, err)
	assert.True(t, second.After(first))
	assert.Equal(t, int64(1), second.Sub(first).Nanoseconds())

	_, err = repo.NextSnapshotTime(ctx, "users", now)
	assert.Error(t, err)
}

func TestRepository_InsertRateBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	rows := []domain.ExchangeRateSnapshot{
		{FromCurrency: "USD", ToCurrency: "CNY", Rate: decimal.RequireFromString("7.1"), SnapshotTime: at, Source: "test"},
		{FromCurrency: "CNY", ToCurrency: "USD", Rate: decimal.RequireFromString("0.1408"), SnapshotTime: at, Source: "test",
			Extra: domain.Extra{domain.ExtraBaseCurrency: "CNY"}},
	}
	require.NoError(t, repo.InsertRateBatch(ctx, rows))

	batch, ts, err := repo.LatestRateBatch(ctx)
	require.NoError(t, err)
	assert.True(t, ts.Equal(at))
	require.Len(t, batch, 2)
	assert.Equal(t, "CNY", batch[0].FromCurrency)
	assert.Equal(t, "CNY", batch[0].Extra[domain.ExtraBaseCurrency])
	assert.True(t, batch[1].Rate.Equal(decimal.RequireFromString("7.1")))
	assert.NotEmpty(t, batch[1].ID)
}

func TestRepository_InsertRateBatchRejectsInvalidRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Now().UTC()

	tests := []struct {
		name string
		rows []domain.ExchangeRateSnapshot
	}{
		{"empty", nil},
		{"zero rate", []domain.ExchangeRateSnapshot{
			{FromCurrency: "USD", ToCurrency: "CNY", Rate: decimal.Zero, SnapshotTime: at},
		}},
		{"same currency", []domain.ExchangeRateSnapshot{
			{FromCurrency: "USD", ToCurrency: "USD", Rate: decimal.NewFromInt(1), SnapshotTime: at},
		}},
		{"mixed times", []domain.ExchangeRateSnapshot{
			{FromCurrency: "USD", ToCurrency: "CNY", Rate: decimal.NewFromInt(7), SnapshotTime: at},
			{FromCurrency: "CNY", ToCurrency: "USD", Rate: decimal.NewFromInt(7), SnapshotTime: at.Add(time.Second)},
		}},
		{"unknown extra", []domain.ExchangeRateSnapshot{
			{FromCurrency: "USD", ToCurrency: "CNY", Rate: decimal.NewFromInt(7), SnapshotTime: at, Extra: domain.Extra{"color": "red"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, repo.InsertRateBatch(ctx, tt.rows))
		})
	}

	rates, _, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rates)
}

func TestRepository_InsertAssetBatchIsAtomic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Now().UTC()

	rows := []domain.AssetSnapshot{
		assetRow("wise", "USD", "USD", "10", at, map[string]string{"USD": "10", "CNY": "72"}),
		assetRow("wise", "EUR", "EUR", "5", at, map[string]string{"USD": "5.4"}), // missing CNY
	}
	err := repo.InsertAssetBatch(ctx, rows, []string{"USD", "CNY"})
	assert.ErrorContains(t, err, "missing baseline CNY")

	_, assets, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, assets)
}

func TestRepository_LatestAssetsAsOf(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	t1 := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	baselines := []string{"USD"}

	require.NoError(t, repo.InsertAssetBatch(ctx, []domain.AssetSnapshot{
		assetRow("wise", "USD", "USD", "100", t1, map[string]string{"USD": "100"}),
		assetRow("binance", "BTC", "USDT", "1", t1, map[string]string{"USD": "40000"}),
	}, baselines))
	require.NoError(t, repo.InsertAssetBatch(ctx, []domain.AssetSnapshot{
		assetRow("wise", "USD", "USD", "150", t2, map[string]string{"USD": "150"}),
	}, baselines))

	latest, err := repo.LatestAssetsAsOf(ctx, t2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "binance", latest[0].Platform)
	assert.True(t, latest[0].SnapshotTime.Equal(t1), "asset missing from the later batch keeps its last row")
	assert.True(t, latest[1].Balance.Equal(decimal.NewFromInt(150)))

	earlier, err := repo.LatestAssetsAsOf(ctx, t1)
	require.NoError(t, err)
	require.Len(t, earlier, 2)
	assert.True(t, earlier[1].Balance.Equal(decimal.NewFromInt(100)))

	window, err := repo.AssetsInWindow(ctx, t1, t2)
	require.NoError(t, err)
	assert.Len(t, window, 2)

	at, err := repo.AssetsAt(ctx, t2)
	require.NoError(t, err)
	require.Len(t, at, 1)
	assert.True(t, at[0].ValueIn("USD").Converted)
	assert.False(t, at[0].CreatedAt.IsZero())
}

func TestRepository_RowsAreAppendOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Now().UTC()

	require.NoError(t, repo.InsertAssetBatch(ctx, []domain.AssetSnapshot{
		assetRow("wise", "USD", "USD", "1", at, map[string]string{"USD": "1"}),
	}, []string{"USD"}))

	_, err := repo.db.ExecContext(ctx, "UPDATE asset_snapshots SET balance = '2'")
	assert.Error(t, err)
	_, err = repo.db.ExecContext(ctx, "DELETE FROM asset_snapshots")
	assert.Error(t, err)
}
