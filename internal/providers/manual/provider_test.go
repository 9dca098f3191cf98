package manual

import (
	"context"
	"testing"

	"github.com/aristath/networth/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFetchBalances_FromYAML(t *testing.T) {
	doc := `
- platform: icbc
  type: deposit
  code: ICBC-TD-2027
  name: Time deposit
  currency: CNY
  balance: 50000.00
  note: matures 2027-03
- type: cash
  code: USD-CASH
  currency: USD
  balance: "120.5"
`
	var holdings []Holding
	require.NoError(t, yaml.Unmarshal([]byte(doc), &holdings))

	records, err := NewProvider(holdings).FetchBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "icbc", records[0].Platform)
	assert.Equal(t, domain.AssetTypeDeposit, records[0].AssetType)
	assert.True(t, decimal.NewFromInt(50000).Equal(records[0].Balance))
	assert.Equal(t, "matures 2027-03", records[0].Extra[domain.ExtraProviderNote])

	assert.Equal(t, "manual", records[1].Platform)
	assert.Equal(t, "120.5", records[1].Balance.String())
	assert.Nil(t, records[1].Extra)
}
