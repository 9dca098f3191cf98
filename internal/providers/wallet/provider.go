// Package wallet reads native coin balances of EVM addresses.
package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/aristath/networth/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// nativeDecimals is the wei exponent of EVM native coins
const nativeDecimals = 18

// BalanceReader is the part of ethclient.Client the provider needs
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Config holds the settings of one chain
type Config struct {
	Network   string   // e.g. "ethereum"
	Symbol    string   // native coin, e.g. "ETH"
	RPCURL    string
	Addresses []string
	Quote     string // currency the Pricer values the coin in, default USDT
}

// Provider implements domain.BalanceProvider for a list of addresses on one chain
type Provider struct {
	cfg    Config
	reader BalanceReader
	pricer domain.Pricer
	log    zerolog.Logger
}

// Dial connects to the chain RPC endpoint and creates the provider.
// pricer is optional; without it balances are reported in the native coin.
func Dial(ctx context.Context, cfg Config, pricer domain.Pricer, log zerolog.Logger) (*Provider, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", cfg.Network, err)
	}
	return NewProvider(cfg, client, pricer, log)
}

// NewProvider creates a provider over an existing balance reader
func NewProvider(cfg Config, reader BalanceReader, pricer domain.Pricer, log zerolog.Logger) (*Provider, error) {
	for _, addr := range cfg.Addresses {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid %s address %q", cfg.Network, addr)
		}
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "ETH"
	}
	if cfg.Network == "" {
		cfg.Network = "ethereum"
	}
	if cfg.Quote == "" {
		cfg.Quote = domain.CurrencyUSDT
	}
	cfg.Symbol = domain.NormalizeCurrency(cfg.Symbol)
	cfg.Quote = domain.NormalizeCurrency(cfg.Quote)

	return &Provider{
		cfg:    cfg,
		reader: reader,
		pricer: pricer,
		log:    log.With().Str("provider", "wallet").Str("network", cfg.Network).Logger(),
	}, nil
}

// Name implements domain.BalanceProvider
func (p *Provider) Name() string {
	return "wallet-" + p.cfg.Network
}

// FetchBalances returns the latest native balance of every address.
// A failed price lookup falls back to the native coin instead of failing
// the provider.
func (p *Provider) FetchBalances(ctx context.Context) ([]domain.BalanceRecord, error) {
	var (
		price     decimal.Decimal
		havePrice bool
	)
	if p.pricer != nil {
		pr, err := p.pricer.Price(ctx, p.cfg.Symbol, p.cfg.Quote)
		if err != nil {
			p.log.Warn().Err(err).Str("symbol", p.cfg.Symbol).Msg("Price unavailable, reporting native balance")
		} else {
			price, havePrice = pr, true
		}
	}

	records := make([]domain.BalanceRecord, 0, len(p.cfg.Addresses))
	for _, addr := range p.cfg.Addresses {
		address := common.HexToAddress(addr)
		wei, err := p.reader.BalanceAt(ctx, address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance of %s: %w", address.Hex(), err)
		}
		qty := decimal.NewFromBigInt(wei, -nativeDecimals)

		rec := domain.BalanceRecord{
			Platform:  p.Name(),
			AssetType: domain.AssetTypeCrypto,
			AssetCode: p.cfg.Symbol + ":" + address.Hex(),
			AssetName: p.cfg.Symbol,
			Currency:  p.cfg.Symbol,
			Balance:   qty,
			Extra: domain.Extra{
				domain.ExtraNetwork:  p.cfg.Network,
				domain.ExtraAddress:  address.Hex(),
				domain.ExtraQuantity: qty.String(),
			},
		}
		if havePrice {
			rec.Currency = p.cfg.Quote
			rec.Balance = qty.Mul(price)
			rec.Extra[domain.ExtraUnitPrice] = price.String()
			rec.Extra[domain.ExtraPriceCurrency] = p.cfg.Quote
		}
		records = append(records, rec)
	}

	return records, nil
}
