package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceProvider reads current holdings from one upstream platform.
// Implementations should keep each call short; callers bound it with a timeout.
type BalanceProvider interface {
	// Name identifies the provider in logs and task results
	Name() string

	// FetchBalances returns every holding currently visible to the provider
	FetchBalances(ctx context.Context) ([]BalanceRecord, error)
}

// RateSource fetches a live directed exchange rate.
type RateSource interface {
	Name() string
	FetchRate(ctx context.Context, from, to string) (RateQuote, error)
}

// Pricer values one unit of an asset in a quote currency (e.g. ETH in USDT).
type Pricer interface {
	Price(ctx context.Context, asset, quote string) (decimal.Decimal, error)
}
