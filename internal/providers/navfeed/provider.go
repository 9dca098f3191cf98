// Package navfeed values fund holdings with the net asset value published by a JSON feed.
package navfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/networth/internal/clientdata"
	"github.com/aristath/networth/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Holding is a number of fund shares held on a platform
type Holding struct {
	Code     string          `yaml:"code"`
	Name     string          `yaml:"name"`
	Shares   decimal.Decimal `yaml:"shares"`
	Platform string          `yaml:"platform"`
}

// Quote is one published NAV
type Quote struct {
	Code     string `json:"code" msgpack:"code"`
	Name     string `json:"name" msgpack:"name"`
	NAV      string `json:"nav" msgpack:"nav"`
	Currency string `json:"currency" msgpack:"currency"`
	Date     string `json:"date" msgpack:"date"`
}

// Provider implements domain.BalanceProvider for fund holdings
type Provider struct {
	baseURL    string
	holdings   []Holding
	httpClient *http.Client
	cache      *clientdata.Repository
	log        zerolog.Logger
}

// NewProvider creates a NAV feed provider. cache is optional.
func NewProvider(baseURL string, holdings []Holding, cache *clientdata.Repository, log zerolog.Logger) *Provider {
	return &Provider{
		baseURL:    baseURL,
		holdings:   holdings,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
		log:        log.With().Str("provider", "navfeed").Logger(),
	}
}

// Name implements domain.BalanceProvider
func (p *Provider) Name() string {
	return "navfeed"
}

// FetchBalances values every holding at its latest NAV.
// Any missing quote fails the provider so a partial fund list is never snapshotted.
func (p *Provider) FetchBalances(ctx context.Context) ([]domain.BalanceRecord, error) {
	records := make([]domain.BalanceRecord, 0, len(p.holdings))
	for _, h := range p.holdings {
		quote, err := p.quote(ctx, h.Code)
		if err != nil {
			return nil, err
		}
		nav, err := decimal.NewFromString(quote.NAV)
		if err != nil || !nav.IsPositive() {
			return nil, fmt.Errorf("invalid NAV %q for fund %s", quote.NAV, h.Code)
		}

		name := h.Name
		if name == "" {
			name = quote.Name
		}
		platform := h.Platform
		if platform == "" {
			platform = p.Name()
		}
		currency := quote.Currency
		if currency == "" {
			currency = domain.CurrencyCNY
		}

		records = append(records, domain.BalanceRecord{
			Platform:  platform,
			AssetType: domain.AssetTypeFund,
			AssetCode: h.Code,
			AssetName: name,
			Currency:  currency,
			Balance:   h.Shares.Mul(nav),
			Extra: domain.Extra{
				domain.ExtraQuantity:      h.Shares.String(),
				domain.ExtraUnitPrice:     nav.String(),
				domain.ExtraPriceCurrency: domain.NormalizeCurrency(currency),
				domain.ExtraNAVDate:       quote.Date,
			},
		})
	}
	return records, nil
}

func (p *Provider) quote(ctx context.Context, code string) (Quote, error) {
	if p.cache != nil {
		var cached Quote
		fresh, err := p.cache.GetIfFresh(ctx, clientdata.TableNAVQuotes, code, &cached)
		if err == nil && fresh {
			return cached, nil
		}
	}

	quote, err := p.fetch(ctx, code)
	if err != nil {
		if p.cache != nil {
			var stale Quote
			if found, _, cerr := p.cache.Get(ctx, clientdata.TableNAVQuotes, code, &stale); cerr == nil && found {
				p.log.Warn().Err(err).Str("code", code).Str("date", stale.Date).Msg("NAV feed failed, using stale quote")
				return stale, nil
			}
		}
		return Quote{}, err
	}

	if p.cache != nil {
		if err := p.cache.Store(ctx, clientdata.TableNAVQuotes, code, quote, clientdata.TTLNAVQuote); err != nil {
			p.log.Warn().Err(err).Str("code", code).Msg("Failed to cache NAV quote")
		}
	}
	return quote, nil
}

func (p *Provider) fetch(ctx context.Context, code string) (Quote, error) {
	url := fmt.Sprintf("%s/%s", p.baseURL, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("NAV request for %s failed: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("NAV feed returned status %d for %s", resp.StatusCode, code)
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return Quote{}, fmt.Errorf("failed to parse NAV for %s: %w", code, err)
	}
	return quote, nil
}
