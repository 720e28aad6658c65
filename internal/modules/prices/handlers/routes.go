package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all price routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/prices", func(r chi.Router) {
		r.Get("/", h.HandleQuotes)
		r.Post("/", h.HandleUpsertQuote)
		r.Post("/purge-expired", h.HandlePurgeExpired)

		r.Route("/{symbol}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleQuote(w, r, chi.URLParam(r, "symbol"))
			})
			r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
				h.HandleHistory(w, r, chi.URLParam(r, "symbol"))
			})
			r.Get("/trend", func(w http.ResponseWriter, r *http.Request) {
				h.HandleTrend(w, r, chi.URLParam(r, "symbol"))
			})
		})
	})
}
