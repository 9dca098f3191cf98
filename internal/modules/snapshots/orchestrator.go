package snapshots

import (
	"context"
	"time"

	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/scheduler"
)

// Full snapshot states reported in the result data
const (
	StateRatesPending  = "rates_pending"
	StateAssetsPending = "assets_pending"
	StateDone          = "done"
)

// FullSnapshotTask runs the rate extraction and then the asset extraction.
// Assets are never extracted when rates failed, so an asset batch always has
// a rate batch written before it in the same cycle.
type FullSnapshotTask struct {
	rates  scheduler.Task
	assets scheduler.Task
}

// NewFullSnapshotTask creates the snapshot:full task
func NewFullSnapshotTask(rates, assets scheduler.Task) *FullSnapshotTask {
	return &FullSnapshotTask{rates: rates, assets: assets}
}

// ValidateConfig passes the config to both sub-tasks
func (t *FullSnapshotTask) ValidateConfig(cfg scheduler.Config) error {
	for _, sub := range []scheduler.Task{t.rates, t.assets} {
		if v, ok := sub.(scheduler.ConfigValidator); ok {
			if err := v.ValidateConfig(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Execute implements scheduler.Task
func (t *FullSnapshotTask) Execute(ctx context.Context, tc *scheduler.Context) (*scheduler.Result, error) {
	start := time.Now()
	data := map[string]any{"state": StateRatesPending}

	tc.Log.Info().Msg("Starting rate extraction")
	ratesResult := scheduler.Invoke(ctx, t.rates, tc.Child(TaskRates, tc.Config))
	data["rates"] = ratesResult.Data
	if !ratesResult.Success {
		tc.Log.Error().Str("error", ratesResult.Error).Msg("Rate extraction failed, skipping assets")
		return scheduler.Failed("rate extraction failed: "+ratesResult.Error, data), nil
	}

	data["state"] = StateAssetsPending
	tc.Log.Info().Msg("Starting asset extraction")
	assetsResult := scheduler.Invoke(ctx, t.assets, tc.Child(TaskAssets, tc.Config))
	data["assets"] = assetsResult.Data
	if !assetsResult.Success {
		tc.Log.Error().Str("error", assetsResult.Error).Msg("Asset extraction failed")
		return scheduler.Failed("asset extraction failed: "+assetsResult.Error, data), nil
	}

	data["state"] = StateDone
	data["duration_ms"] = time.Since(start).Milliseconds()

	payload := &events.FullSnapshotData{AssetsSucceeded: true}
	if v, ok := tc.Get(VarRateSnapshotTime); ok {
		payload.RateSnapshotTime, _ = v.(time.Time)
	}
	if v, ok := tc.Get(VarAssetSnapshotTime); ok {
		payload.AssetSnapshotTime, _ = v.(time.Time)
	}
	tc.Emit(ctx, events.FullSnapshotCompleted, payload)

	tc.Log.Info().Dur("duration", time.Since(start)).Msg("Full snapshot completed")
	return scheduler.Succeeded(data), nil
}
