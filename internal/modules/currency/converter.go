package currency

import (
	"errors"
	"fmt"

	"github.com/aristath/networth/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNoRate is returned when neither a live nor a fallback rate exists for a pair.
var ErrNoRate = errors.New("no rate available")

// DefaultBridge is the currency used for two-hop fallback conversion.
const DefaultBridge = domain.CurrencyCNY

// Conversion is the outcome of converting one amount.
type Conversion struct {
	Amount       decimal.Decimal
	Rate         decimal.Decimal
	UsedFallback bool
	Source       string
}

// Converter converts amounts using one live rate batch and a fallback table.
// The conversion order is identity, direct live, direct fallback, then
// fallback bridged through the bridge currency. Live rows flagged stale are
// used but reported as approximate.
type Converter struct {
	live     map[domain.CurrencyPair]liveRate
	fallback *FallbackTable
	bridge   string
}

type liveRate struct {
	rate  decimal.Decimal
	stale bool
}

// NewConverter creates a converter over the given live batch, which is
// normally the most recent exchange rate snapshot batch. live may be empty.
func NewConverter(live []domain.ExchangeRateSnapshot, fallback *FallbackTable, bridge string) *Converter {
	if bridge == "" {
		bridge = DefaultBridge
	}
	c := &Converter{
		live:     make(map[domain.CurrencyPair]liveRate, len(live)),
		fallback: fallback,
		bridge:   bridge,
	}
	for _, r := range live {
		if r.Rate.IsPositive() {
			c.live[domain.CurrencyPair{From: r.FromCurrency, To: r.ToCurrency}] = liveRate{
				rate:  r.Rate,
				stale: r.Extra.Stale(),
			}
		}
	}
	return c
}

// LiveRates returns the number of usable live rates.
func (c *Converter) LiveRates() int {
	return len(c.live)
}

// Convert converts amount from one currency into another.
func (c *Converter) Convert(amount decimal.Decimal, from, to string) (Conversion, error) {
	from = domain.NormalizeCurrency(from)
	to = domain.NormalizeCurrency(to)

	if from == to {
		return Conversion{Amount: amount, Rate: decimal.NewFromInt(1), Source: domain.SourceIdentity}, nil
	}

	if live, ok := c.live[domain.CurrencyPair{From: from, To: to}]; ok {
		conv := Conversion{Amount: amount.Mul(live.rate), Rate: live.rate, Source: domain.SourceLive}
		if live.stale {
			conv.UsedFallback = true
			conv.Source = domain.SourceLiveStale
		}
		return conv, nil
	}

	if rate, ok := c.fallback.Rate(from, to); ok {
		return Conversion{Amount: amount.Mul(rate), Rate: rate, UsedFallback: true, Source: domain.SourceFallback}, nil
	}

	if from != c.bridge && to != c.bridge {
		toBridge, ok1 := c.fallback.Rate(from, c.bridge)
		fromBridge, ok2 := c.fallback.Rate(c.bridge, to)
		if ok1 && ok2 {
			rate := toBridge.Mul(fromBridge)
			return Conversion{
				Amount:       amount.Mul(toBridge).Mul(fromBridge),
				Rate:         rate,
				UsedFallback: true,
				Source:       domain.SourceFallbackBridge,
			}, nil
		}
	}

	return Conversion{}, fmt.Errorf("%w: %s/%s", ErrNoRate, from, to)
}

// ConvertAll converts amount into every baseline currency. A baseline with
// no rate is marked unconverted; the returned slice lists those currencies.
func (c *Converter) ConvertAll(amount decimal.Decimal, from string, baselines []string) (map[string]domain.BaseValue, []string) {
	values := make(map[string]domain.BaseValue, len(baselines))
	var missing []string

	for _, ccy := range baselines {
		conv, err := c.Convert(amount, from, ccy)
		if err != nil {
			values[ccy] = domain.Unconverted()
			missing = append(missing, ccy)
			continue
		}
		values[ccy] = domain.BaseValue{
			Amount:       conv.Amount,
			Converted:    true,
			UsedFallback: conv.UsedFallback,
			Source:       conv.Source,
		}
	}
	return values, missing
}
