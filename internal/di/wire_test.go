package di

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/networth/internal/clientdata"
	"github.com/aristath/networth/internal/config"
	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/modules/snapshots"
	"github.com/aristath/networth/internal/providers/manual"
	"github.com/aristath/networth/internal/reliability"
	"github.com/aristath/networth/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRateServer serves exchangerate-api style tables for CNY and USD
func newRateServer(t *testing.T) *httptest.Server {
	t.Helper()
	tables := map[string]string{
		"CNY": `{"base":"CNY","time_last_updated":1791000000,"rates":{"CNY":1,"USD":0.14}}`,
		"USD": `{"base":"USD","time_last_updated":1791000000,"rates":{"USD":1,"CNY":7.1}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := tables[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, rateURL string) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:             t.TempDir(),
		Timezone:            time.UTC,
		Baselines:           []string{"CNY", "USD"},
		Currencies:          []string{"CNY", "USD"},
		BridgeCurrency:      "CNY",
		SnapshotInterval:    time.Hour,
		RatePairTimeout:     5 * time.Second,
		ProviderTimeout:     5 * time.Second,
		ProviderConcurrency: 2,
		ExchangeRateURL:     rateURL,
		DefaultGranularity:  "day",
		DefaultTrendDays:    30,
		Providers: config.ProvidersConfig{
			Manual: []manual.Holding{{
				Platform: "icbc",
				Type:     "deposit",
				Code:     "TD-1",
				Name:     "Term deposit",
				Currency: "USD",
				Balance:  decimal.NewFromInt(100),
			}},
		},
	}
}

func wireForTest(t *testing.T, cfg *config.Config) *Container {
	t.Helper()
	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = container.Scheduler.Stop(ctx)
		container.Close()
	})
	return container
}

func TestWire(t *testing.T) {
	cfg := testConfig(t, newRateServer(t).URL)
	container := wireForTest(t, cfg)

	assert.NotNil(t, container.SnapshotRepo)
	assert.NotNil(t, container.ClientDataRepo)
	assert.NotNil(t, container.AggregationService)
	assert.Nil(t, container.BackupService)
	require.Len(t, container.Providers, 1)
	assert.Equal(t, "manual", container.Providers[0].Name())

	assert.Equal(t, []string{
		snapshots.TaskFull,
		snapshots.TaskRates,
		snapshots.TaskAssets,
		clientdata.TaskCleanup,
	}, container.TaskRegistry.IDs())
}

func TestWire_InvalidFallbackTable(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.FallbackRates = map[string]decimal.Decimal{"USDCNY": decimal.NewFromInt(7)}

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "fallback rate table")
	assert.Nil(t, container)
}

func TestWire_FullSnapshotEndToEnd(t *testing.T) {
	cfg := testConfig(t, newRateServer(t).URL)
	container := wireForTest(t, cfg)
	ctx := context.Background()

	rec, result, err := container.Scheduler.RunNow(ctx, snapshots.TaskFull, nil)
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, scheduler.OutcomeSucceeded, rec.Outcome)

	rates, assets, err := container.SnapshotRepo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rates)
	assert.Equal(t, 1, assets)

	totals, err := container.AggregationService.Totals(ctx, "CNY")
	require.NoError(t, err)
	assert.Equal(t, 1, totals.AssetCount)
	assert.True(t, decimal.NewFromInt(710).Equal(totals.Value), totals.Value.String())
	assert.False(t, totals.UsedFallback)

	var types []events.EventType
	for _, e := range container.EventBus.Recent(0) {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, events.RatesSnapshotted)
	assert.Contains(t, types, events.AssetsSnapshotted)
	assert.Contains(t, types, events.FullSnapshotCompleted)
}

func TestBuildTaskTable_WithBackup(t *testing.T) {
	cfg := testConfig(t, "")
	container := &Container{BackupService: &reliability.BackupService{}}

	table := BuildTaskTable(container, cfg)
	require.Len(t, table, 5)

	backup := table[4]
	assert.Equal(t, reliability.TaskBackup, backup.TaskID)
	assert.Equal(t, scheduler.CronTrigger(BackupCron), backup.Trigger)
	assert.Equal(t, true, backup.Config["rotate"])
}

func TestBuildTaskTable_Defaults(t *testing.T) {
	cfg := testConfig(t, "")
	table := BuildTaskTable(&Container{}, cfg)
	require.Len(t, table, 4)

	byID := make(map[string]scheduler.Definition)
	for _, def := range table {
		byID[def.TaskID] = def
	}

	assert.Equal(t, scheduler.Every(time.Hour), byID[snapshots.TaskFull].Trigger)
	assert.Equal(t, scheduler.Manual(), byID[snapshots.TaskRates].Trigger)
	assert.Equal(t, scheduler.CronTrigger(CleanupCron), byID[clientdata.TaskCleanup].Trigger)

	for _, id := range []string{snapshots.TaskFull, snapshots.TaskRates, snapshots.TaskAssets} {
		assert.Equal(t, snapshots.Group, byID[id].Group, id)
	}
	assert.Empty(t, byID[clientdata.TaskCleanup].Group)

	full := byID[snapshots.TaskFull].Config
	assert.Equal(t, "5s", full["pair_timeout"])
	assert.Equal(t, "5s", full["provider_timeout"])
	assert.Equal(t, 2, full["concurrency"])
}

func TestApplyTriggerOverrides(t *testing.T) {
	cfg := testConfig(t, "")
	table := BuildTaskTable(&Container{}, cfg)

	applyTriggerOverrides(table, map[string]config.TriggerOverride{
		snapshots.TaskFull:     {Interval: 15 * time.Minute},
		clientdata.TaskCleanup: {Cron: "0 4 * * *"},
		"maintenance:missing":  {Interval: time.Hour},
	}, zerolog.Nop())

	assert.Equal(t, scheduler.Every(15*time.Minute), table[0].Trigger)
	assert.Equal(t, scheduler.CronTrigger("0 4 * * *"), table[3].Trigger)
}
