package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all stock ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/stocks", func(r chi.Router) {
		r.Get("/positions", h.HandleGetPositions)
		r.Get("/positions/{symbol}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetPosition(w, r, chi.URLParam(r, "symbol"))
		})

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", h.HandleGetActions)
			r.Post("/", h.HandleCreateAction)
			r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
				h.HandleUpdateAction(w, r, chi.URLParam(r, "id"))
			})
			r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				h.HandleDeleteAction(w, r, chi.URLParam(r, "id"))
			})
		})

		r.Get("/{symbol}/free-shares", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetFreeShares(w, r, chi.URLParam(r, "symbol"))
		})
		r.Get("/{symbol}/guard-check", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGuardCheck(w, r, chi.URLParam(r, "symbol"))
		})
	})
}
