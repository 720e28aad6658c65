package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all covered-call routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/covered-calls", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleOpen)
		r.Post("/sweep-expired", h.HandleSweepExpired)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGet(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/resolve", func(w http.ResponseWriter, r *http.Request) {
				h.HandleResolve(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/reopen", func(w http.ResponseWriter, r *http.Request) {
				h.HandleReopen(w, r, chi.URLParam(r, "id"))
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleDelete(w, r, chi.URLParam(r, "id"))
			})
		})
	})
}
