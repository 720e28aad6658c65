package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all dashboard routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/dashboard", func(r chi.Router) {
		r.Get("/", h.HandleSummary)
		r.Get("/snapshots", h.HandleSnapshots)
		r.Post("/snapshots", h.HandleTakeSnapshot)
		r.Get("/volatility", h.HandleVolatility)
	})
}
