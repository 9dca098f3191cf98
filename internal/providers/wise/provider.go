// Package wise reads multi-currency account balances from the Wise REST API.
package wise

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/networth/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the production Wise API
const DefaultBaseURL = "https://api.transferwise.com"

// Config holds Wise provider settings
type Config struct {
	Token     string
	ProfileID int64
	BaseURL   string
}

// Provider implements domain.BalanceProvider for one Wise profile
type Provider struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// NewProvider creates a new Wise provider
func NewProvider(cfg Config, log zerolog.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("provider", "wise").Logger(),
	}
}

// Name implements domain.BalanceProvider
func (p *Provider) Name() string {
	return "wise"
}

type balanceResponse struct {
	ID       int64  `json:"id"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Amount   struct {
		Value    decimal.Decimal `json:"value"`
		Currency string          `json:"currency"`
	} `json:"amount"`
}

// FetchBalances returns one cash record per currency balance of the profile.
// Savings jars come back as deposits.
func (p *Provider) FetchBalances(ctx context.Context) ([]domain.BalanceRecord, error) {
	if p.cfg.Token == "" {
		return nil, fmt.Errorf("wise token is not configured")
	}

	url := fmt.Sprintf("%s/v4/profiles/%d/balances?types=STANDARD,SAVINGS", p.cfg.BaseURL, p.cfg.ProfileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list wise balances: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("wise API returned status %d: %s", resp.StatusCode, string(body))
	}

	var balances []balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balances); err != nil {
		return nil, fmt.Errorf("failed to parse wise balances: %w", err)
	}

	account := strconv.FormatInt(p.cfg.ProfileID, 10)
	records := make([]domain.BalanceRecord, 0, len(balances))
	for _, b := range balances {
		currency := b.Amount.Currency
		if currency == "" {
			currency = b.Currency
		}
		currency = domain.NormalizeCurrency(currency)

		assetType := domain.AssetTypeCash
		code := currency
		name := currency + " balance"
		if b.Type == "SAVINGS" {
			assetType = domain.AssetTypeDeposit
			code = fmt.Sprintf("%s-JAR-%d", currency, b.ID)
			if b.Name != "" {
				name = b.Name
			}
		}

		records = append(records, domain.BalanceRecord{
			Platform:  p.Name(),
			AssetType: assetType,
			AssetCode: code,
			AssetName: name,
			Currency:  currency,
			Balance:   b.Amount.Value,
			Extra:     domain.Extra{domain.ExtraAccount: account},
		})
	}

	p.log.Debug().Int("balances", len(records)).Msg("Fetched wise balances")
	return records, nil
}
