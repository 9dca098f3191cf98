// Package manual reports static holdings declared in the configuration file.
package manual

import (
	"context"

	"github.com/aristath/networth/internal/domain"
	"github.com/shopspring/decimal"
)

// Holding is one hand-maintained position (bank deposit, cash, property)
type Holding struct {
	Platform string          `yaml:"platform"`
	Type     string          `yaml:"type"`
	Code     string          `yaml:"code"`
	Name     string          `yaml:"name"`
	Currency string          `yaml:"currency"`
	Balance  decimal.Decimal `yaml:"balance"`
	Note     string          `yaml:"note"`
}

// Provider implements domain.BalanceProvider over a fixed list
type Provider struct {
	holdings []Holding
}

// NewProvider creates a manual provider
func NewProvider(holdings []Holding) *Provider {
	return &Provider{holdings: holdings}
}

// Name implements domain.BalanceProvider
func (p *Provider) Name() string {
	return "manual"
}

// FetchBalances returns the configured holdings as records
func (p *Provider) FetchBalances(ctx context.Context) ([]domain.BalanceRecord, error) {
	records := make([]domain.BalanceRecord, 0, len(p.holdings))
	for _, h := range p.holdings {
		platform := h.Platform
		if platform == "" {
			platform = p.Name()
		}
		rec := domain.BalanceRecord{
			Platform:  platform,
			AssetType: domain.AssetType(h.Type),
			AssetCode: h.Code,
			AssetName: h.Name,
			Currency:  h.Currency,
			Balance:   h.Balance,
		}
		if h.Note != "" {
			rec.Extra = domain.Extra{domain.ExtraProviderNote: h.Note}
		}
		records = append(records, rec)
	}
	return records, nil
}
