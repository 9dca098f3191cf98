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
	"github.com/aristath/networth/internal/modules/aggregation"
	"github.com/aristath/networth/internal/modules/snapshots"
	testingpkg "github.com/aristath/networth/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	db, _ := testingpkg.NewTestDB(t, database.NameSnapshots)
	repo := snapshots.NewRepository(db.Conn(), zerolog.Nop())

	at := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.InsertAssetBatch(context.Background(), []domain.AssetSnapshot{{
		Platform:  "wise",
		AssetType: domain.AssetTypeCash,
		AssetCode: "USD",
		AssetName: "USD",
		Currency:  "USD",
		Balance:   decimal.NewFromInt(10),
		BaseValues: map[string]domain.BaseValue{
			"CNY": {Amount: decimal.NewFromInt(72), Converted: true, UsedFallback: true},
		},
		SnapshotTime: at,
	}}, []string{"CNY"}))

	service := aggregation.NewService(repo, []string{"CNY", "USD"}, time.UTC, zerolog.Nop())
	handler := NewHandler(service, "CNY", zerolog.Nop())

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func get(t *testing.T, router chi.Router, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHandleGetTotals(t *testing.T) {
	router := newTestRouter(t)

	rec, body := get(t, router, "/aggregation/totals")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "CNY", data["base_currency"])
	assert.Equal(t, "72", data["value"])
	assert.Equal(t, true, data["used_fallback"])
	assert.Contains(t, body, "metadata")
}

func TestHandleGetDistribution(t *testing.T) {
	router := newTestRouter(t)

	rec, body := get(t, router, "/aggregation/distribution?by=asset_type")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "cash", items[0].(map[string]interface{})["key"])

	rec, body = get(t, router, "/aggregation/distribution?by=moon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "cannot group by")
}

func TestHandleGetTrend(t *testing.T) {
	router := newTestRouter(t)

	rec, body := get(t, router, "/aggregation/trend?base=cny&days=7&granularity=hour")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "hour", data["granularity"])
	assert.Len(t, data["points"], 1)

	tests := []string{
		"/aggregation/trend?days=abc",
		"/aggregation/trend?sma=x",
		"/aggregation/trend?granularity=week",
		"/aggregation/trend?base=GBP",
	}
	for _, path := range tests {
		rec, _ := get(t, router, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
