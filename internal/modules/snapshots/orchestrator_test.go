package snapshots

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/networth/internal/domain"
	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/modules/currency"
	"github.com/aristath/networth/internal/scheduler"
	testingpkg "github.com/aristath/networth/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeline struct {
	repo     *Repository
	rates    *testingpkg.StaticRateSource
	provider *testingpkg.MockBalanceProvider
	task     *FullSnapshotTask
	bus      *events.Bus
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	repo := newTestRepo(t)
	rates := testingpkg.NewStaticRateSource(map[string]string{
		"USD/CNY": "7.2",
		"CNY/USD": "0.1389",
	})
	provider := testingpkg.NewMockBalanceProvider("wise",
		testingpkg.Cash("wise", "USD", "100"),
		testingpkg.Cash("wise", "CNY", "50"),
	)

	ratesTask := NewRatesTask(NewRatesExtractor(repo, rates, testLog), []string{"USD", "CNY"})
	assetsTask := NewAssetsTask(
		NewAssetsExtractor(repo, []domain.BalanceProvider{provider}, currency.DefaultFallbackTable(), currency.DefaultBridge, testLog),
		[]string{"USD", "CNY"},
	)

	return &pipeline{
		repo:     repo,
		rates:    rates,
		provider: provider,
		task:     NewFullSnapshotTask(ratesTask, assetsTask),
		bus:      events.NewBus(50, testLog),
	}
}

func (p *pipeline) run(t *testing.T) *scheduler.Result {
	t.Helper()
	tc := scheduler.NewContext(TaskFull, "exec", nil, p.bus, testLog)
	return scheduler.Invoke(context.Background(), p.task, tc)
}

func TestFullSnapshot_RatesThenAssets(t *testing.T) {
	p := newPipeline(t)

	res := p.run(t)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, StateDone, res.Data["state"])
	assert.Equal(t, []string{
		string(events.RatesSnapshotted),
		string(events.AssetsSnapshotted),
		string(events.FullSnapshotCompleted),
	}, res.EmittedEvents)

	ctx := context.Background()
	rateRows, rateTime, err := p.repo.LatestRateBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, rateRows, 2)

	recent := p.bus.Recent(0)
	require.Len(t, recent, 3)
	full := recent[2].Data.(*events.FullSnapshotData)
	assert.True(t, full.RateSnapshotTime.Equal(rateTime))
	assert.True(t, full.AssetsSucceeded)

	assets, err := p.repo.AssetsAt(ctx, full.AssetSnapshotTime)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	for _, a := range assets {
		assert.True(t, a.SnapshotTime.Equal(full.AssetSnapshotTime))
	}
	// Converted with the batch written by this cycle
	assert.Equal(t, "720", assets[0].ValueIn("CNY").Amount.String())
	assert.False(t, assets[0].ValueIn("CNY").UsedFallback)
}

func TestFullSnapshot_RatesFailureSkipsAssets(t *testing.T) {
	p := newPipeline(t)
	p.rates.SetError(errors.New("rate api down"))

	res := p.run(t)
	assert.False(t, res.Success)
	assert.Equal(t, StateRatesPending, res.Data["state"])
	assert.Contains(t, res.Error, "rate extraction failed")
	assert.Equal(t, 0, p.provider.Calls())
	assert.Empty(t, res.EmittedEvents)

	rates, assets, err := p.repo.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rates)
	assert.Equal(t, 0, assets)
}

func TestFullSnapshot_AssetsFailureKeepsRates(t *testing.T) {
	p := newPipeline(t)
	p.provider.SetError(errors.New("provider down"))

	res := p.run(t)
	assert.False(t, res.Success)
	assert.Equal(t, StateAssetsPending, res.Data["state"])
	assert.Equal(t, []string{string(events.RatesSnapshotted)}, res.EmittedEvents)

	rates, assets, err := p.repo.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rates)
	assert.Equal(t, 0, assets)
}

func TestFullSnapshot_RerunAppends(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	require.True(t, p.run(t).Success)
	_, firstAssets, err := p.repo.Counts(ctx)
	require.NoError(t, err)

	require.True(t, p.run(t).Success)
	rates, assets, err := p.repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rates)
	assert.Equal(t, 2*firstAssets, assets)
}

func TestFullSnapshot_ValidateConfigDelegates(t *testing.T) {
	p := newPipeline(t)
	assert.NoError(t, p.task.ValidateConfig(scheduler.Config{}))
	assert.Error(t, p.task.ValidateConfig(scheduler.Config{"currencies": "USD"}))
	assert.Error(t, p.task.ValidateConfig(scheduler.Config{"providers": "ghost"}))
}
