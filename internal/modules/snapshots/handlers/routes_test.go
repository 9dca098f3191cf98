package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/networth/internal/database"
	"github.com/aristath/networth/internal/domain"
	"github.com/aristath/networth/internal/modules/snapshots"
	testingpkg "github.com/aristath/networth/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T, seed bool) chi.Router {
	t.Helper()
	db, _ := testingpkg.NewTestDB(t, database.NameSnapshots)
	repo := snapshots.NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	if seed {
		at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, repo.InsertRateBatch(ctx, []domain.ExchangeRateSnapshot{
			{FromCurrency: "USD", ToCurrency: "CNY", Rate: decimal.RequireFromString("7.1"), SnapshotTime: at, Source: "test"},
			{FromCurrency: "CNY", ToCurrency: "USD", Rate: decimal.RequireFromString("0.14"), SnapshotTime: at, Source: "test"},
		}))
		require.NoError(t, repo.InsertAssetBatch(ctx, []domain.AssetSnapshot{{
			Platform:     "wise",
			AssetType:    domain.AssetTypeCash,
			AssetCode:    "USD",
			AssetName:    "USD",
			Currency:     "USD",
			Balance:      decimal.NewFromInt(100),
			BaseValues:   map[string]domain.BaseValue{"CNY": {Amount: decimal.NewFromInt(710), Converted: true}},
			SnapshotTime: at,
		}}, []string{"CNY"}))
	}

	router := chi.NewRouter()
	NewHandler(repo, zerolog.Nop()).RegisterRoutes(router)
	return router
}

func getJSON(t *testing.T, router chi.Router, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestLatestRates(t *testing.T) {
	code, body := getJSON(t, setupRouter(t, true), "/snapshots/rates/latest")
	require.Equal(t, http.StatusOK, code)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "2026-10-01T12:00:00Z", data["snapshot_time"])
	assert.Len(t, data["rates"], 2)
	assert.Contains(t, body, "metadata")
}

func TestLatestRates_Empty(t *testing.T) {
	code, body := getJSON(t, setupRouter(t, false), "/snapshots/rates/latest")
	require.Equal(t, http.StatusOK, code)

	data := body["data"].(map[string]interface{})
	assert.Nil(t, data["snapshot_time"])
	assert.Empty(t, data["rates"])
}

func TestLatestAssets(t *testing.T) {
	router := setupRouter(t, true)

	code, body := getJSON(t, router, "/snapshots/assets/latest")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["data"].(map[string]interface{})["count"])

	code, body = getJSON(t, router, "/snapshots/assets/latest?as_of=2026-09-30T00:00:00Z")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["data"].(map[string]interface{})["count"])

	code, body = getJSON(t, router, "/snapshots/assets/latest?as_of=yesterday")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "RFC3339")
}

func TestCounts(t *testing.T) {
	code, body := getJSON(t, setupRouter(t, true), "/snapshots/counts")
	require.Equal(t, http.StatusOK, code)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["rates"])
	assert.Equal(t, float64(1), data["assets"])
}
