// Package handlers provides HTTP handlers for covered calls.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/modules/coveredcalls"
)

// Handler handles covered-call HTTP requests
type Handler struct {
	service *coveredcalls.Service
	log     zerolog.Logger
}

// NewHandler creates a new covered-calls handler
func NewHandler(service *coveredcalls.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "coveredcalls").Logger(),
	}
}

// HandleList handles GET /api/covered-calls
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load covered calls")
		h.writeError(w, err)
		return
	}

	if views == nil {
		views = []coveredcalls.CallView{}
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"covered_calls": views,
		"count":         len(views),
	})
}

// HandleGet handles GET /api/covered-calls/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid covered call id", http.StatusBadRequest)
		return
	}

	view, err := h.service.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if view == nil {
		http.Error(w, "Covered call not found", http.StatusNotFound)
		return
	}

	h.writeData(w, http.StatusOK, view)
}

// HandleOpen handles POST /api/covered-calls
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var call coveredcalls.CoveredCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.service.Open(call)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, map[string]interface{}{"id": id})
}

// HandleResolve handles POST /api/covered-calls/{id}/resolve
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid covered call id", http.StatusBadRequest)
		return
	}

	var outcome coveredcalls.Outcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	view, err := h.service.ResolveCall(id, outcome)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, view)
}

// HandleReopen handles POST /api/covered-calls/{id}/reopen
func (h *Handler) HandleReopen(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid covered call id", http.StatusBadRequest)
		return
	}

	view, err := h.service.Reopen(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, view)
}

// HandleDelete handles DELETE /api/covered-calls/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid covered call id", http.StatusBadRequest)
		return
	}

	if err := h.service.Delete(id); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{"id": id})
}

// HandleSweepExpired handles POST /api/covered-calls/sweep-expired
func (h *Handler) HandleSweepExpired(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.SweepExpired()
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{"swept": count})
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
	var violation *domain.InvariantViolation
	var compensation *domain.CompensationFailure

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &violation):
		status = http.StatusConflict
	case errors.As(err, &compensation):
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
	})
}
