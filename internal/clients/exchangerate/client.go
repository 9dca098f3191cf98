// Package exchangerate provides currency exchange rate fetching and caching functionality.
package exchangerate

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

// DefaultBaseURL is the public exchangerate-api.com endpoint
const DefaultBaseURL = "https://api.exchangerate-api.com/v4/latest"

// Client for exchangerate-api.com. It implements domain.RateSource.
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a new exchangerate-api.com client
// cacheRepo is optional - if nil, caching is disabled
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log.With().Str("client", "exchangerate-api").Logger(),
		cacheRepo: cacheRepo,
	}
}

// cachedTable is the rate table of one base currency as stored in the cache
type cachedTable struct {
	Rates     map[string]string `msgpack:"rates"`
	UpdatedAt int64             `msgpack:"updated_at"`
}

type latestResponse struct {
	Base            string                     `json:"base"`
	TimeLastUpdated int64                      `json:"time_last_updated"`
	Rates           map[string]decimal.Decimal `json:"rates"`
}

// Name implements domain.RateSource
func (c *Client) Name() string {
	return "exchangerate-api"
}

// FetchRate returns the rate for from -> to.
// The whole table of the base currency is cached, so a pair matrix costs one
// request per base. If the API fails, stale cached data is returned with the
// stale extra flag set (stale data > no data).
func (c *Client) FetchRate(ctx context.Context, from, to string) (domain.RateQuote, error) {
	from = domain.NormalizeCurrency(from)
	to = domain.NormalizeCurrency(to)
	if from == to {
		return domain.RateQuote{Rate: decimal.NewFromInt(1), Source: c.Name()}, nil
	}

	// Check persistent cache for fresh data
	if c.cacheRepo != nil {
		var cached cachedTable
		fresh, err := c.cacheRepo.GetIfFresh(ctx, clientdata.TableExchangeRate, from, &cached)
		if err == nil && fresh {
			if quote, ok := c.quoteFrom(cached, from, to, false); ok {
				c.log.Debug().Str("from", from).Str("to", to).Msg("Cache hit")
				return quote, nil
			}
		}
	}

	table, err := c.fetchTable(ctx, from)
	if err != nil {
		// API failed - try to get stale cached data as fallback
		if quote, ok := c.staleQuote(ctx, from, to); ok {
			c.log.Warn().
				Err(err).
				Str("from", from).
				Str("to", to).
				Str("rate", quote.Rate.String()).
				Msg("API failed, using stale cached rate")
			return quote, nil
		}
		return domain.RateQuote{}, err
	}

	// Cache persistently
	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(ctx, clientdata.TableExchangeRate, from, table, clientdata.TTLExchangeRate); err != nil {
			c.log.Warn().Err(err).Str("base", from).Msg("Failed to cache exchange rates")
		}
	}

	quote, ok := c.quoteFrom(table, from, to, false)
	if !ok {
		return domain.RateQuote{}, fmt.Errorf("rate not found for %s->%s", from, to)
	}

	c.log.Debug().
		Str("from", from).
		Str("to", to).
		Str("rate", quote.Rate.String()).
		Msg("Fetched rate")

	return quote, nil
}

func (c *Client) fetchTable(ctx context.Context, base string) (cachedTable, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, base)
	c.log.Debug().Str("url", url).Msg("Fetching rates")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cachedTable{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return cachedTable{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cachedTable{}, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return cachedTable{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Rates) == 0 {
		return cachedTable{}, fmt.Errorf("empty rate table for %s", base)
	}

	table := cachedTable{
		Rates:     make(map[string]string, len(result.Rates)),
		UpdatedAt: result.TimeLastUpdated,
	}
	for ccy, rate := range result.Rates {
		table.Rates[domain.NormalizeCurrency(ccy)] = rate.String()
	}
	return table, nil
}

func (c *Client) quoteFrom(table cachedTable, from, to string, stale bool) (domain.RateQuote, bool) {
	raw, ok := table.Rates[to]
	if !ok {
		return domain.RateQuote{}, false
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || !rate.IsPositive() {
		return domain.RateQuote{}, false
	}

	extra := domain.Extra{domain.ExtraBaseCurrency: from}
	if table.UpdatedAt > 0 {
		extra[domain.ExtraProviderUpdatedAt] = time.Unix(table.UpdatedAt, 0).UTC().Format(time.RFC3339)
	}
	if stale {
		extra[domain.ExtraStale] = true
	}
	return domain.RateQuote{Rate: rate, Source: c.Name(), Extra: extra}, true
}

// staleQuote retrieves a cached rate even if expired.
func (c *Client) staleQuote(ctx context.Context, from, to string) (domain.RateQuote, bool) {
	if c.cacheRepo == nil {
		return domain.RateQuote{}, false
	}

	var cached cachedTable
	found, _, err := c.cacheRepo.Get(ctx, clientdata.TableExchangeRate, from, &cached)
	if err != nil || !found {
		return domain.RateQuote{}, false
	}

	return c.quoteFrom(cached, from, to, true)
}
