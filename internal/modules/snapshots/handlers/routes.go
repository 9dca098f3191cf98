package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all snapshot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/snapshots", func(r chi.Router) {
		r.Get("/rates/latest", h.HandleGetLatestRates)
		r.Get("/assets/latest", h.HandleGetLatestAssets)
		r.Get("/counts", h.HandleGetCounts)
	})
}
