package testing

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/networth/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockRateSource is a testify mock of domain.RateSource
type MockRateSource struct {
	mock.Mock
}

// Name returns the source name
func (m *MockRateSource) Name() string {
	return "mock-rates"
}

// FetchRate returns the configured quote for from/to
func (m *MockRateSource) FetchRate(ctx context.Context, from, to string) (domain.RateQuote, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(domain.RateQuote), args.Error(1)
}

// StaticRateSource serves rates from a fixed "FROM/TO" table and fails for
// pairs it does not know. It records every call.
type StaticRateSource struct {
	mu    sync.Mutex
	rates map[string]decimal.Decimal
	err   error
	calls []string
}

// NewStaticRateSource creates a source over "FROM/TO" -> rate strings
func NewStaticRateSource(rates map[string]string) *StaticRateSource {
	s := &StaticRateSource{rates: make(map[string]decimal.Decimal, len(rates))}
	for k, v := range rates {
		s.rates[k] = decimal.RequireFromString(v)
	}
	return s
}

// SetError makes every call fail with err
func (s *StaticRateSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns the pairs requested so far
func (s *StaticRateSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Name returns the source name
func (s *StaticRateSource) Name() string {
	return "static"
}

// FetchRate implements domain.RateSource
func (s *StaticRateSource) FetchRate(ctx context.Context, from, to string) (domain.RateQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := from + "/" + to
	s.calls = append(s.calls, key)
	if s.err != nil {
		return domain.RateQuote{}, s.err
	}
	rate, ok := s.rates[key]
	if !ok {
		return domain.RateQuote{}, errPairUnavailable(key)
	}
	return domain.RateQuote{Rate: rate, Source: "static"}, nil
}

type errPairUnavailable string

func (e errPairUnavailable) Error() string {
	return "pair unavailable: " + string(e)
}

// MockBalanceProvider returns fixed records, an error, or blocks for a delay
type MockBalanceProvider struct {
	mu      sync.Mutex
	name    string
	records []domain.BalanceRecord
	err     error
	delay   time.Duration
	panics  bool
	calls   int
}

// NewMockBalanceProvider creates a provider named name returning records
func NewMockBalanceProvider(name string, records ...domain.BalanceRecord) *MockBalanceProvider {
	return &MockBalanceProvider{name: name, records: records}
}

// SetError sets the error to return
func (m *MockBalanceProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes FetchBalances wait for d or until ctx is done
func (m *MockBalanceProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetPanic makes FetchBalances panic
func (m *MockBalanceProvider) SetPanic(p bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics = p
}

// Calls returns how many times FetchBalances was called
func (m *MockBalanceProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Name implements domain.BalanceProvider
func (m *MockBalanceProvider) Name() string {
	return m.name
}

// FetchBalances implements domain.BalanceProvider
func (m *MockBalanceProvider) FetchBalances(ctx context.Context) ([]domain.BalanceRecord, error) {
	m.mu.Lock()
	m.calls++
	records, err, delay, panics := m.records, m.err, m.delay, m.panics
	m.mu.Unlock()

	if panics {
		panic("provider " + m.name + " exploded")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Cash builds a cash balance record
func Cash(platform, currency, balance string) domain.BalanceRecord {
	return domain.BalanceRecord{
		Platform:  platform,
		AssetType: domain.AssetTypeCash,
		AssetCode: currency,
		AssetName: currency + " balance",
		Currency:  currency,
		Balance:   decimal.RequireFromString(balance),
	}
}
