package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all option routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/options", func(r chi.Router) {
		r.Get("/positions", h.HandleGetPositions)
		r.Get("/positions/{symbol}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetPosition(w, r, chi.URLParam(r, "symbol"))
		})

		r.Route("/trades", func(r chi.Router) {
			r.Get("/", h.HandleGetTrades)
			r.Post("/", h.HandleCreateTrade)
			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				h.HandleDeleteTrade(w, r, chi.URLParam(r, "id"))
			})
		})

		r.Post("/sweep-expired", h.HandleSweepExpired)
	})
}
