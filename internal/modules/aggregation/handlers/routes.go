package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all aggregation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/aggregation", func(r chi.Router) {
		r.Get("/totals", h.HandleGetTotals)             // Current net worth
		r.Get("/distribution", h.HandleGetDistribution) // Breakdown by platform or asset type
		r.Get("/trend", h.HandleGetTrend)               // Bucketed history
	})
}
