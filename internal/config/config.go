// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/networth/internal/providers/manual"
	"github.com/aristath/networth/internal/providers/navfeed"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for all databases (always absolute)
	ConfigFile string // Optional YAML overlay, see FileConfig
	LogLevel   string
	LogPretty  bool
	Port       int
	DevMode    bool

	Timezone       *time.Location
	Baselines      []string // currencies every asset row is valued in
	Currencies     []string // rate universe, a superset of Baselines
	BridgeCurrency string   // hub of the fallback table

	SnapshotInterval    time.Duration
	RatePairTimeout     time.Duration
	ProviderTimeout     time.Duration
	ProviderConcurrency int
	ExchangeRateURL     string

	DefaultGranularity string
	DefaultTrendDays   int

	FallbackRates map[string]decimal.Decimal // "FROM/TO" -> rate, nil means built-in table
	Providers     ProvidersConfig
	Backup        BackupConfig
	Triggers      map[string]TriggerOverride
}

// ProvidersConfig configures the balance providers. A nil/empty entry disables it.
type ProvidersConfig struct {
	Wise    *WiseConfig      `yaml:"wise"`
	Binance *BinanceConfig   `yaml:"binance"`
	Wallets []WalletConfig   `yaml:"wallets"`
	NAVFeed *NAVFeedConfig   `yaml:"navfeed"`
	Manual  []manual.Holding `yaml:"manual"`
}

// WiseConfig holds Wise credentials
type WiseConfig struct {
	Token     string `yaml:"token"`
	ProfileID int64  `yaml:"profile_id"`
	BaseURL   string `yaml:"base_url"`
}

// BinanceConfig holds Binance credentials
type BinanceConfig struct {
	APIKey    string          `yaml:"api_key"`
	SecretKey string          `yaml:"secret_key"`
	Dust      decimal.Decimal `yaml:"dust"`
}

// WalletConfig describes the watched addresses of one EVM chain
type WalletConfig struct {
	Network   string   `yaml:"network"`
	Symbol    string   `yaml:"symbol"`
	RPCURL    string   `yaml:"rpc_url"`
	Addresses []string `yaml:"addresses"`
	Quote     string   `yaml:"quote"`
}

// NAVFeedConfig lists fund holdings valued by a NAV feed
type NAVFeedConfig struct {
	BaseURL  string            `yaml:"base_url"`
	Holdings []navfeed.Holding `yaml:"holdings"`
}

// BackupConfig holds object storage backup settings
type BackupConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// TriggerOverride replaces the default trigger of a task. Exactly one of
// Interval and Cron is set.
type TriggerOverride struct {
	Interval time.Duration `yaml:"interval"`
	Cron     string        `yaml:"cron"`
}

// FileConfig is the layout of the YAML file named by PIPELINE_CONFIG_FILE
type FileConfig struct {
	Baselines      []string                   `yaml:"baselines"`
	Currencies     []string                   `yaml:"currencies"`
	BridgeCurrency string                     `yaml:"bridge_currency"`
	Timezone       string                     `yaml:"timezone"`
	FallbackRates  map[string]decimal.Decimal `yaml:"fallback_rates"`
	Providers      ProvidersConfig            `yaml:"providers"`
	Triggers       map[string]TriggerOverride `yaml:"triggers"`
}

// Load reads configuration from environment variables and the optional YAML file
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("NETWORTH_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		ConfigFile:          getEnv("PIPELINE_CONFIG_FILE", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogPretty:           getEnvAsBool("LOG_PRETTY", false),
		Port:                getEnvAsInt("PORT", 8080),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		Baselines:           getEnvAsList("BASELINE_CURRENCIES", []string{"CNY", "USD"}),
		Currencies:          getEnvAsList("RATE_CURRENCIES", []string{"CNY", "USD", "EUR", "GBP", "HKD", "USDT"}),
		BridgeCurrency:      strings.ToUpper(getEnv("BRIDGE_CURRENCY", "CNY")),
		SnapshotInterval:    getEnvAsDuration("SNAPSHOT_INTERVAL", time.Hour),
		RatePairTimeout:     getEnvAsDuration("RATE_PAIR_TIMEOUT", 10*time.Second),
		ProviderTimeout:     getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ProviderConcurrency: getEnvAsInt("PROVIDER_CONCURRENCY", 0),
		ExchangeRateURL:     getEnv("EXCHANGE_RATE_URL", ""),
		DefaultGranularity:  getEnv("TREND_GRANULARITY", "day"),
		DefaultTrendDays:    getEnvAsInt("TREND_DAYS", 30),
		Backup:              loadBackupConfig(),
	}

	tz := getEnv("TIMEZONE", "UTC")
	if cfg.Timezone, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	cfg.applySecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overlays the YAML file on top of the environment values
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file FileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if len(file.Baselines) > 0 {
		c.Baselines = file.Baselines
	}
	if len(file.Currencies) > 0 {
		c.Currencies = file.Currencies
	}
	if file.BridgeCurrency != "" {
		c.BridgeCurrency = file.BridgeCurrency
	}
	if file.Timezone != "" {
		loc, err := time.LoadLocation(file.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %q in %s: %w", file.Timezone, path, err)
		}
		c.Timezone = loc
	}
	if len(file.FallbackRates) > 0 {
		c.FallbackRates = file.FallbackRates
	}
	c.Providers = file.Providers
	c.Triggers = file.Triggers
	return nil
}

// applySecrets fills provider credentials missing from the file from the environment
func (c *Config) applySecrets() {
	if token := getEnv("WISE_API_TOKEN", ""); token != "" {
		if c.Providers.Wise == nil {
			c.Providers.Wise = &WiseConfig{ProfileID: int64(getEnvAsInt("WISE_PROFILE_ID", 0))}
		}
		if c.Providers.Wise.Token == "" {
			c.Providers.Wise.Token = token
		}
	}

	if key := getEnv("BINANCE_API_KEY", ""); key != "" {
		if c.Providers.Binance == nil {
			c.Providers.Binance = &BinanceConfig{}
		}
		if c.Providers.Binance.APIKey == "" {
			c.Providers.Binance.APIKey = key
			c.Providers.Binance.SecretKey = getEnv("BINANCE_SECRET_KEY", "")
		}
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	c.Baselines = normalizeCodes(c.Baselines)
	c.Currencies = normalizeCodes(c.Currencies)
	c.BridgeCurrency = strings.ToUpper(strings.TrimSpace(c.BridgeCurrency))

	if len(c.Baselines) == 0 {
		return fmt.Errorf("at least one baseline currency is required")
	}
	universe := make(map[string]bool, len(c.Currencies))
	for _, ccy := range c.Currencies {
		universe[ccy] = true
	}
	for _, b := range c.Baselines {
		if !universe[b] {
			return fmt.Errorf("baseline currency %s is not in the rate universe", b)
		}
	}
	if !universe[c.BridgeCurrency] {
		return fmt.Errorf("bridge currency %q is not in the rate universe", c.BridgeCurrency)
	}

	switch c.DefaultGranularity {
	case "day", "half_day", "hour":
	default:
		return fmt.Errorf("unknown trend granularity %q", c.DefaultGranularity)
	}
	if c.DefaultTrendDays <= 0 {
		return fmt.Errorf("trend days must be positive, got %d", c.DefaultTrendDays)
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot interval must be positive")
	}

	for pair, rate := range c.FallbackRates {
		if !rate.IsPositive() {
			return fmt.Errorf("fallback rate %s must be positive, got %s", pair, rate)
		}
	}

	for id, t := range c.Triggers {
		if (t.Interval > 0) == (t.Cron != "") {
			return fmt.Errorf("trigger override for %s needs exactly one of interval or cron", id)
		}
	}

	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("backup is enabled but BACKUP_S3_BUCKET is empty")
	}

	return nil
}

func loadBackupConfig() BackupConfig {
	return BackupConfig{
		Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:          getEnv("BACKUP_S3_REGION", "auto"),
		Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
}

func normalizeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
