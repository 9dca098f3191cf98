// Package handlers provides HTTP handlers for reading raw snapshot batches.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/networth/internal/domain"
	"github.com/aristath/networth/internal/modules/snapshots"
	"github.com/rs/zerolog"
)

// Handler handles snapshot HTTP requests
type Handler struct {
	repo *snapshots.Repository
	log  zerolog.Logger
}

// NewHandler creates a new snapshot handler
func NewHandler(repo *snapshots.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "snapshots").Logger(),
	}
}

// RateBatchResponse is the latest rate batch
type RateBatchResponse struct {
	SnapshotTime *time.Time                    `json:"snapshot_time"`
	Rates        []domain.ExchangeRateSnapshot `json:"rates"`
}

// AssetBatchResponse is a list of asset rows read at one point
type AssetBatchResponse struct {
	AsOf   time.Time              `json:"as_of"`
	Count  int                    `json:"count"`
	Assets []domain.AssetSnapshot `json:"assets"`
}

// HandleGetLatestRates handles GET /api/snapshots/rates/latest
func (h *Handler) HandleGetLatestRates(w http.ResponseWriter, r *http.Request) {
	rows, at, err := h.repo.LatestRateBatch(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read latest rate batch")
		h.writeError(w, http.StatusInternalServerError, "failed to read rate snapshots")
		return
	}

	resp := RateBatchResponse{Rates: rows}
	if !at.IsZero() {
		resp.SnapshotTime = &at
	}
	if resp.Rates == nil {
		resp.Rates = []domain.ExchangeRateSnapshot{}
	}
	h.writeData(w, resp)
}

// HandleGetLatestAssets handles GET /api/snapshots/assets/latest?as_of=RFC3339
func (h *Handler) HandleGetLatestAssets(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "as_of must be an RFC3339 timestamp")
			return
		}
		asOf = t
	}

	rows, err := h.repo.LatestAssetsAsOf(r.Context(), asOf)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read asset snapshots")
		h.writeError(w, http.StatusInternalServerError, "failed to read asset snapshots")
		return
	}
	if rows == nil {
		rows = []domain.AssetSnapshot{}
	}
	h.writeData(w, AssetBatchResponse{AsOf: asOf.UTC(), Count: len(rows), Assets: rows})
}

// HandleGetCounts handles GET /api/snapshots/counts
func (h *Handler) HandleGetCounts(w http.ResponseWriter, r *http.Request) {
	rates, assets, err := h.repo.Counts(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count snapshots")
		h.writeError(w, http.StatusInternalServerError, "failed to count snapshots")
		return
	}
	h.writeData(w, map[string]int{"rates": rates, "assets": assets})
}

func (h *Handler) writeData(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
