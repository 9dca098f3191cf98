package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidExtra is returned when an extra map carries a key outside the documented set.
var ErrInvalidExtra = errors.New("invalid extra key")

// Extra is the documented key/value map attached to snapshot rows.
type Extra map[string]any

// Asset snapshot extra keys
const (
	ExtraQuantity      = "quantity"       // units held (shares, coins)
	ExtraUnitPrice     = "unit_price"     // price per unit used for valuation
	ExtraPriceCurrency = "price_currency" // currency of unit_price
	ExtraAccount       = "account"        // provider account or profile id
	ExtraNetwork       = "network"        // chain name for wallet balances
	ExtraAddress       = "address"        // wallet address
	ExtraNAVDate       = "nav_date"       // date of the NAV used for a fund
	ExtraProviderNote  = "provider_note"  // free text from the provider
)

// Exchange rate snapshot extra keys
const (
	ExtraBaseCurrency      = "base_currency"       // base of the upstream quote table
	ExtraProviderUpdatedAt = "provider_updated_at" // upstream timestamp of the quote
	ExtraStale             = "stale"               // served from an expired cache entry
)

var assetExtraKeys = map[string]bool{
	ExtraQuantity:      true,
	ExtraUnitPrice:     true,
	ExtraPriceCurrency: true,
	ExtraAccount:       true,
	ExtraNetwork:       true,
	ExtraAddress:       true,
	ExtraNAVDate:       true,
	ExtraProviderNote:  true,
}

var rateExtraKeys = map[string]bool{
	ExtraBaseCurrency:      true,
	ExtraProviderUpdatedAt: true,
	ExtraStale:             true,
}

// ValidateAssetExtra rejects keys that are not documented for asset snapshots.
func ValidateAssetExtra(e Extra) error {
	return validateExtra("asset snapshot", e, assetExtraKeys)
}

// ValidateRateExtra rejects keys that are not documented for exchange rate snapshots.
func ValidateRateExtra(e Extra) error {
	return validateExtra("exchange rate snapshot", e, rateExtraKeys)
}

func validateExtra(entity string, e Extra, allowed map[string]bool) error {
	var unknown []string
	for k := range e {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w for %s: %v", ErrInvalidExtra, entity, unknown)
}

// Merge returns a copy of e with the entries of other applied on top.
func (e Extra) Merge(other Extra) Extra {
	if len(e) == 0 && len(other) == 0 {
		return nil
	}
	out := make(Extra, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Stale reports whether a rate row was served from an expired cache entry.
func (e Extra) Stale() bool {
	switch v := e[ExtraStale].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
