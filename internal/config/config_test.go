package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NETWORTH_DATA_DIR", t.TempDir())
	t.Setenv("PIPELINE_CONFIG_FILE", "")
	t.Setenv("BASELINE_CURRENCIES", "")
	t.Setenv("RATE_CURRENCIES", "")
	t.Setenv("BRIDGE_CURRENCY", "")
	t.Setenv("TIMEZONE", "")
	t.Setenv("BACKUP_ENABLED", "")
	t.Setenv("WISE_API_TOKEN", "")
	t.Setenv("BINANCE_API_KEY", "")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"CNY", "USD"}, cfg.Baselines)
	assert.Equal(t, "CNY", cfg.BridgeCurrency)
	assert.Equal(t, time.Hour, cfg.SnapshotInterval)
	assert.Equal(t, "day", cfg.DefaultGranularity)
	assert.Equal(t, time.UTC, cfg.Timezone)
	assert.Nil(t, cfg.FallbackRates)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoad_EnvOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BASELINE_CURRENCIES", "usd, eur")
	t.Setenv("RATE_CURRENCIES", "usd,eur,cny,usd")
	t.Setenv("SNAPSHOT_INTERVAL", "15m")
	t.Setenv("TIMEZONE", "Asia/Shanghai")
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_SECRET_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "EUR"}, cfg.Baselines)
	assert.Equal(t, []string{"USD", "EUR", "CNY"}, cfg.Currencies)
	assert.Equal(t, 15*time.Minute, cfg.SnapshotInterval)
	assert.Equal(t, "Asia/Shanghai", cfg.Timezone.String())
	require.NotNil(t, cfg.Providers.Binance)
	assert.Equal(t, "secret", cfg.Providers.Binance.SecretKey)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("WISE_API_TOKEN", "env-token")

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
baselines: [CNY]
fallback_rates:
  USD/CNY: "7.25"
  GBP/CNY: 9.1
providers:
  wise:
    profile_id: 42
  wallets:
    - network: ethereum
      rpc_url: https://rpc.example
      addresses: ["0x00000000219ab540356cBB839Cbe05303d7705Fa"]
  navfeed:
    base_url: https://nav.example
    holdings:
      - code: "110011"
        shares: 1000.5
  manual:
    - platform: icbc
      type: deposit
      code: TD-1
      currency: CNY
      balance: 50000
triggers:
  snapshot:full:
    interval: 30m
  maintenance:cache-cleanup:
    cron: "0 4 * * *"
`), 0644))
	t.Setenv("PIPELINE_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"CNY"}, cfg.Baselines)
	assert.True(t, decimal.RequireFromString("7.25").Equal(cfg.FallbackRates["USD/CNY"]))
	require.NotNil(t, cfg.Providers.Wise)
	assert.Equal(t, int64(42), cfg.Providers.Wise.ProfileID)
	assert.Equal(t, "env-token", cfg.Providers.Wise.Token)
	require.Len(t, cfg.Providers.Wallets, 1)
	require.NotNil(t, cfg.Providers.NAVFeed)
	assert.Equal(t, "1000.5", cfg.Providers.NAVFeed.Holdings[0].Shares.String())
	require.Len(t, cfg.Providers.Manual, 1)
	assert.Equal(t, 30*time.Minute, cfg.Triggers["snapshot:full"].Interval)
	assert.Equal(t, "0 4 * * *", cfg.Triggers["maintenance:cache-cleanup"].Cron)
}

func TestLoad_MissingFile(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PIPELINE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Baselines:          []string{"CNY"},
			Currencies:         []string{"CNY", "USD"},
			BridgeCurrency:     "CNY",
			DefaultGranularity: "day",
			DefaultTrendDays:   30,
			SnapshotInterval:   time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no baselines", func(c *Config) { c.Baselines = nil }, "baseline"},
		{"baseline outside universe", func(c *Config) { c.Baselines = []string{"JPY"} }, "not in the rate universe"},
		{"bridge outside universe", func(c *Config) { c.BridgeCurrency = "EUR" }, "bridge currency"},
		{"bad granularity", func(c *Config) { c.DefaultGranularity = "week" }, "granularity"},
		{"zero rate", func(c *Config) {
			c.FallbackRates = map[string]decimal.Decimal{"USD/CNY": decimal.Zero}
		}, "must be positive"},
		{"ambiguous trigger", func(c *Config) {
			c.Triggers = map[string]TriggerOverride{"snapshot:full": {Interval: time.Hour, Cron: "@daily"}}
		}, "exactly one"},
		{"empty trigger", func(c *Config) {
			c.Triggers = map[string]TriggerOverride{"snapshot:full": {}}
		}, "exactly one"},
		{"backup without bucket", func(c *Config) { c.Backup.Enabled = true }, "BACKUP_S3_BUCKET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
