// Package binance reads spot balances from Binance and values them in USDT.
package binance

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/aristath/networth/internal/clientdata"
	"github.com/aristath/networth/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// QuoteAsset is the currency every balance is valued in
const QuoteAsset = domain.CurrencyUSDT

// Provider implements domain.BalanceProvider and domain.Pricer for Binance spot
type Provider struct {
	client *binance.Client
	cache  *clientdata.Repository
	dust   decimal.Decimal
	log    zerolog.Logger
}

// Config holds Binance provider settings
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string          // optional override, used by tests
	Dust      decimal.Decimal // holdings worth less than this (in USDT) are skipped
}

// NewProvider creates a new Binance provider. cache is optional.
func NewProvider(cfg Config, cache *clientdata.Repository, log zerolog.Logger) *Provider {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &Provider{
		client: client,
		cache:  cache,
		dust:   cfg.Dust,
		log:    log.With().Str("provider", "binance").Logger(),
	}
}

// Name implements domain.BalanceProvider
func (p *Provider) Name() string {
	return "binance"
}

// FetchBalances returns every non-zero spot balance (free + locked).
// Assets with a <ASSET>USDT market are valued in USDT; others keep their
// native code as currency.
func (p *Provider) FetchBalances(ctx context.Context) ([]domain.BalanceRecord, error) {
	account, err := p.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get binance account: %w", err)
	}

	prices, err := p.prices(ctx)
	if err != nil {
		return nil, err
	}

	var records []domain.BalanceRecord
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s free balance: %w", b.Asset, err)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s locked balance: %w", b.Asset, err)
		}
		qty := free.Add(locked)
		if !qty.IsPositive() {
			continue
		}

		rec := domain.BalanceRecord{
			Platform:  p.Name(),
			AssetType: domain.AssetTypeCrypto,
			AssetCode: b.Asset,
			AssetName: b.Asset,
			Currency:  b.Asset,
			Balance:   qty,
		}

		if b.Asset != QuoteAsset {
			if price, ok := prices[b.Asset+QuoteAsset]; ok {
				rec.Currency = QuoteAsset
				rec.Balance = qty.Mul(price)
				rec.Extra = domain.Extra{
					domain.ExtraQuantity:      qty.String(),
					domain.ExtraUnitPrice:     price.String(),
					domain.ExtraPriceCurrency: QuoteAsset,
				}
			}
		}

		if rec.Currency == QuoteAsset && p.dust.IsPositive() && rec.Balance.LessThan(p.dust) {
			p.log.Debug().Str("asset", b.Asset).Str("value", rec.Balance.String()).Msg("Skipping dust balance")
			continue
		}
		records = append(records, rec)
	}

	p.log.Debug().Int("balances", len(records)).Msg("Fetched binance balances")
	return records, nil
}

// prices returns the full spot ticker as symbol -> price
func (p *Provider) prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	list, err := p.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list binance prices: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(list))
	for _, sp := range list {
		price, err := decimal.NewFromString(sp.Price)
		if err != nil || !price.IsPositive() {
			continue
		}
		out[sp.Symbol] = price
	}

	return out, nil
}

// Price implements domain.Pricer using the <asset><quote> spot market.
// Fresh cached prices are served without a request.
func (p *Provider) Price(ctx context.Context, asset, quote string) (decimal.Decimal, error) {
	symbol := domain.NormalizeCurrency(asset) + domain.NormalizeCurrency(quote)

	if p.cache != nil {
		var cached string
		fresh, err := p.cache.GetIfFresh(ctx, clientdata.TableBinancePrices, symbol, &cached)
		if err == nil && fresh {
			if price, err := decimal.NewFromString(cached); err == nil {
				return price, nil
			}
		}
	}

	list, err := p.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get %s price: %w", symbol, err)
	}
	if len(list) == 0 {
		return decimal.Zero, fmt.Errorf("binance API returned empty prices for %s", symbol)
	}

	price, err := decimal.NewFromString(list[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s price %q: %w", symbol, list[0].Price, err)
	}

	if p.cache != nil {
		if err := p.cache.Store(ctx, clientdata.TableBinancePrices, symbol, price.String(), clientdata.TTLBinancePrice); err != nil {
			p.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache price")
		}
	}
	return price, nil
}
