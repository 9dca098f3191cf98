// Package currency converts balances into baseline currencies from the latest
// live rate batch, falling back to a static rate table.
package currency

import (
	"fmt"
	"sort"

	"github.com/aristath/networth/internal/domain"
	"github.com/shopspring/decimal"
)

// defaultFallbackRates is the built-in table, keyed "FROM/TO".
// CNY is the hub; a few direct USD/EUR/USDT pairs avoid a double hop.
var defaultFallbackRates = map[string]string{
	"USD/CNY":  "7.20",
	"EUR/CNY":  "7.80",
	"GBP/CNY":  "9.10",
	"HKD/CNY":  "0.92",
	"JPY/CNY":  "0.048",
	"USDT/CNY": "7.20",
	"CNY/USD":  "0.1389",
	"CNY/EUR":  "0.1282",
	"CNY/GBP":  "0.1099",
	"CNY/HKD":  "1.087",
	"CNY/JPY":  "20.83",
	"USD/EUR":  "0.92",
	"EUR/USD":  "1.087",
	"USDT/USD": "1",
	"USD/USDT": "1",
}

// FallbackTable is a read-only directed rate table consulted when no live
// rate exists. It is safe for concurrent use.
type FallbackTable struct {
	rates map[domain.CurrencyPair]decimal.Decimal
}

// NewFallbackTable builds a table from "FROM/TO" -> rate entries.
// Codes are normalized; rates must be positive.
func NewFallbackTable(entries map[string]decimal.Decimal) (*FallbackTable, error) {
	t := &FallbackTable{rates: make(map[domain.CurrencyPair]decimal.Decimal, len(entries))}
	for key, rate := range entries {
		pair, err := ParsePair(key)
		if err != nil {
			return nil, err
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("fallback rate %s must be positive, got %s", key, rate)
		}
		t.rates[pair] = rate
	}
	return t, nil
}

// DefaultFallbackTable returns the built-in table.
func DefaultFallbackTable() *FallbackTable {
	entries := make(map[string]decimal.Decimal, len(defaultFallbackRates))
	for k, v := range defaultFallbackRates {
		entries[k] = decimal.RequireFromString(v)
	}
	t, err := NewFallbackTable(entries)
	if err != nil {
		panic(err)
	}
	return t
}

// ParsePair parses "FROM/TO".
func ParsePair(key string) (domain.CurrencyPair, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			from := domain.NormalizeCurrency(key[:i])
			to := domain.NormalizeCurrency(key[i+1:])
			if from == "" || to == "" || from == to {
				break
			}
			return domain.CurrencyPair{From: from, To: to}, nil
		}
	}
	return domain.CurrencyPair{}, fmt.Errorf("invalid currency pair %q, expected FROM/TO", key)
}

// Rate returns the directed rate for from -> to.
func (t *FallbackTable) Rate(from, to string) (decimal.Decimal, bool) {
	if t == nil {
		return decimal.Decimal{}, false
	}
	r, ok := t.rates[domain.CurrencyPair{From: from, To: to}]
	return r, ok
}

// Len returns the number of entries.
func (t *FallbackTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rates)
}

// Pairs returns every pair in the table sorted by "FROM/TO".
func (t *FallbackTable) Pairs() []domain.CurrencyPair {
	if t == nil {
		return nil
	}
	pairs := make([]domain.CurrencyPair, 0, len(t.rates))
	for p := range t.rates {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].String() < pairs[j].String()
	})
	return pairs
}
