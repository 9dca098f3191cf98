// Package handlers provides HTTP handlers for aggregation queries.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/networth/internal/modules/aggregation"
	"github.com/rs/zerolog"
)

// Handler serves totals, distributions and trends
type Handler struct {
	service     *aggregation.Service
	defaultBase string
	log         zerolog.Logger
}

// NewHandler creates a new aggregation handler. defaultBase is used when a
// request has no base parameter.
func NewHandler(service *aggregation.Service, defaultBase string, log zerolog.Logger) *Handler {
	return &Handler{
		service:     service,
		defaultBase: defaultBase,
		log:         log.With().Str("handler", "aggregation").Logger(),
	}
}

// HandleGetTotals handles GET /api/aggregation/totals?base=CNY
func (h *Handler) HandleGetTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.Totals(r.Context(), h.base(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, totals)
}

// HandleGetDistribution handles GET /api/aggregation/distribution?base=CNY&by=platform
func (h *Handler) HandleGetDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.service.Distribution(r.Context(), h.base(r), r.URL.Query().Get("by"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, dist)
}

// HandleGetTrend handles GET /api/aggregation/trend?base=CNY&days=30&granularity=day&sma=7
func (h *Handler) HandleGetTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	days, err := intParam(q.Get("days"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	sma, err := intParam(q.Get("sma"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "sma must be an integer")
		return
	}

	trend, err := h.service.Trend(r.Context(), aggregation.TrendQuery{
		BaseCurrency: h.base(r),
		Days:         days,
		Granularity:  aggregation.Granularity(q.Get("granularity")),
		SMAPeriod:    sma,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, trend)
}

func (h *Handler) base(r *http.Request) string {
	if b := r.URL.Query().Get("base"); b != "" {
		return b
	}
	return h.defaultBase
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, aggregation.ErrInvalidQuery) || errors.Is(err, aggregation.ErrUnknownBaseCurrency) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Error().Err(err).Msg("Aggregation query failed")
	h.writeError(w, http.StatusInternalServerError, err.Error())
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
