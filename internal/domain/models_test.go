package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "USD", NormalizeCurrency(" usd "))
	assert.Equal(t, "CNY", NormalizeCurrency("CNY"))
	assert.Equal(t, "", NormalizeCurrency("  "))
}

func TestAssetType_Valid(t *testing.T) {
	assert.True(t, AssetTypeFund.Valid())
	assert.True(t, AssetTypeCrypto.Valid())
	assert.False(t, AssetType("bond").Valid())
}

func TestPairMatrix(t *testing.T) {
	pairs := PairMatrix([]string{"CNY", "USD", "EUR"})

	require.Len(t, pairs, 6)
	assert.Equal(t, CurrencyPair{From: "CNY", To: "USD"}, pairs[0])
	assert.Equal(t, CurrencyPair{From: "EUR", To: "USD"}, pairs[5])
	for _, p := range pairs {
		assert.NotEqual(t, p.From, p.To)
	}
	assert.Equal(t, "CNY/USD", pairs[0].String())
}

func TestAssetSnapshot_Validate(t *testing.T) {
	baselines := []string{"CNY", "USD", "EUR"}
	valid := func() *AssetSnapshot {
		return &AssetSnapshot{
			Platform:  "wise",
			AssetType: AssetTypeCash,
			AssetCode: "USD",
			Currency:  "USD",
			Balance:   decimal.NewFromInt(10),
			BaseValues: map[string]BaseValue{
				"CNY": {Amount: decimal.NewFromInt(72), Converted: true, UsedFallback: true, Source: SourceFallback},
				"USD": {Amount: decimal.NewFromInt(10), Converted: true, Source: SourceIdentity},
				"EUR": Unconverted(),
			},
			SnapshotTime: time.Now(),
		}
	}

	t.Run("valid with explicit unconverted entry", func(t *testing.T) {
		assert.NoError(t, valid().Validate(baselines))
	})

	t.Run("missing baseline entry", func(t *testing.T) {
		s := valid()
		delete(s.BaseValues, "EUR")
		assert.Error(t, s.Validate(baselines))
	})

	t.Run("missing snapshot time", func(t *testing.T) {
		s := valid()
		s.SnapshotTime = time.Time{}
		assert.Error(t, s.Validate(baselines))
	})

	t.Run("undocumented extra key", func(t *testing.T) {
		s := valid()
		s.Extra = Extra{"colour": "blue"}
		err := s.Validate(baselines)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidExtra))
	})
}

func TestAssetSnapshot_ValueIn(t *testing.T) {
	s := &AssetSnapshot{BaseValues: map[string]BaseValue{
		"USD": {Amount: decimal.NewFromInt(5), Converted: true},
	}}

	assert.True(t, s.ValueIn("USD").Converted)
	assert.False(t, s.ValueIn("JPY").Converted)
}
