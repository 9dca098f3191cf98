package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Well-known currency codes
const (
	CurrencyCNY  = "CNY"
	CurrencyUSD  = "USD"
	CurrencyEUR  = "EUR"
	CurrencyHKD  = "HKD"
	CurrencyGBP  = "GBP"
	CurrencyJPY  = "JPY"
	CurrencyUSDT = "USDT"
)

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AssetType classifies what a snapshot row holds
type AssetType string

const (
	AssetTypeCash    AssetType = "cash"
	AssetTypeDeposit AssetType = "deposit"
	AssetTypeFund    AssetType = "fund"
	AssetTypeStock   AssetType = "stock"
	AssetTypeCrypto  AssetType = "crypto"
	AssetTypeOther   AssetType = "other"
)

// Valid reports whether the asset type is one of the known types.
func (t AssetType) Valid() bool {
	switch t {
	case AssetTypeCash, AssetTypeDeposit, AssetTypeFund, AssetTypeStock, AssetTypeCrypto, AssetTypeOther:
		return true
	}
	return false
}

// BalanceRecord is what a provider returns for one holding.
// Balance is denominated in Currency.
type BalanceRecord struct {
	Platform  string
	AssetType AssetType
	AssetCode string
	AssetName string
	Currency  string
	Balance   decimal.Decimal
	Extra     Extra
}

// Conversion sources recorded on a BaseValue
const (
	SourceIdentity       = "identity"
	SourceLive           = "live"
	SourceLiveStale      = "live_stale"
	SourceFallback       = "fallback"
	SourceFallbackBridge = "fallback_bridge"
)

// BaseValue is a balance expressed in one baseline currency.
// Converted=false marks the value as unavailable for that currency.
type BaseValue struct {
	Amount       decimal.Decimal `json:"amount"`
	Converted    bool            `json:"converted"`
	UsedFallback bool            `json:"used_fallback"`
	Source       string          `json:"source,omitempty"`
}

// Unconverted returns a BaseValue explicitly marked as not converted.
func Unconverted() BaseValue {
	return BaseValue{Amount: decimal.Zero, Converted: false}
}

// AssetSnapshot is one immutable (platform, asset) observation of a snapshot cycle.
type AssetSnapshot struct {
	ID           string               `json:"id"`
	Platform     string               `json:"platform"`
	AssetType    AssetType            `json:"asset_type"`
	AssetCode    string               `json:"asset_code"`
	AssetName    string               `json:"asset_name"`
	Currency     string               `json:"currency"`
	Balance      decimal.Decimal      `json:"balance"`
	BaseValues   map[string]BaseValue `json:"balance_in_base_currencies"`
	SnapshotTime time.Time            `json:"snapshot_time"`
	Extra        Extra                `json:"extra,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Validate checks row invariants before it is written.
// Every baseline currency needs an entry, converted or not.
func (s *AssetSnapshot) Validate(baselines []string) error {
	if s.Platform == "" || s.AssetCode == "" {
		return fmt.Errorf("asset snapshot requires platform and asset code")
	}
	if s.Currency == "" {
		return fmt.Errorf("asset snapshot %s/%s has no currency", s.Platform, s.AssetCode)
	}
	if s.SnapshotTime.IsZero() {
		return fmt.Errorf("asset snapshot %s/%s has no snapshot time", s.Platform, s.AssetCode)
	}
	for _, ccy := range baselines {
		if _, ok := s.BaseValues[ccy]; !ok {
			return fmt.Errorf("asset snapshot %s/%s is missing baseline %s", s.Platform, s.AssetCode, ccy)
		}
	}
	return ValidateAssetExtra(s.Extra)
}

// ValueIn returns the base value for a currency, or an unconverted value if absent.
func (s *AssetSnapshot) ValueIn(currency string) BaseValue {
	if v, ok := s.BaseValues[currency]; ok {
		return v
	}
	return Unconverted()
}

// ExchangeRateSnapshot is one directed rate of a rate extraction batch.
// amount_in_to = amount_in_from * Rate
type ExchangeRateSnapshot struct {
	ID           string          `json:"id"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	SnapshotTime time.Time       `json:"snapshot_time"`
	Source       string          `json:"source"`
	Extra        Extra           `json:"extra,omitempty"`
}

// RateQuote is a live rate returned by a rate source.
type RateQuote struct {
	Rate   decimal.Decimal
	Source string
	Extra  Extra
}

// CurrencyPair is a directed pair
type CurrencyPair struct {
	From string
	To   string
}

// String returns "FROM/TO"
func (p CurrencyPair) String() string {
	return p.From + "/" + p.To
}

// PairMatrix returns every directed pair between distinct currencies, in input order.
func PairMatrix(currencies []string) []CurrencyPair {
	pairs := make([]CurrencyPair, 0, len(currencies)*len(currencies))
	for _, from := range currencies {
		for _, to := range currencies {
			if from == to {
				continue
			}
			pairs = append(pairs, CurrencyPair{From: from, To: to})
		}
	}
	return pairs
}
