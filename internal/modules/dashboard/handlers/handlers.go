// Package handlers provides HTTP handlers for the dashboard.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/modules/dashboard"
)

// Handler handles dashboard HTTP requests
type Handler struct {
	service *dashboard.Service
	log     zerolog.Logger
}

// NewHandler creates a new dashboard handler
func NewHandler(service *dashboard.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "dashboard").Logger(),
	}
}

// HandleSummary handles GET /api/dashboard
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build dashboard summary")
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, summary)
}

// HandleTakeSnapshot handles POST /api/dashboard/snapshots
func (h *Handler) HandleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.TakeSnapshot()
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, snapshot)
}

// HandleSnapshots handles GET /api/dashboard/snapshots
func (h *Handler) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	n, ok := h.limitParam(w, r)
	if !ok {
		return
	}

	snapshots, err := h.service.History(n)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if snapshots == nil {
		snapshots = []dashboard.Snapshot{}
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// HandleVolatility handles GET /api/dashboard/volatility
func (h *Handler) HandleVolatility(w http.ResponseWriter, r *http.Request) {
	n, ok := h.limitParam(w, r)
	if !ok {
		return
	}

	vol, err := h.service.PortfolioVolatility(n)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, vol)
}

func (h *Handler) limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError

	status := http.StatusInternalServerError
	if errors.As(err, &validationErr) {
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
	})
}
