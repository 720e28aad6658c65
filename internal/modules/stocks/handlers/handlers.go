// Package handlers provides HTTP handlers for the stock ledger.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/modules/stocks"
)

// Handler handles stock ledger HTTP requests
type Handler struct {
	service *stocks.Service
	log     zerolog.Logger
}

// NewHandler creates a new stocks handler
func NewHandler(service *stocks.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "stocks").Logger(),
	}
}

// HandleGetPositions handles GET /api/stocks/positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Positions()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to rebuild positions")
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"open_positions":   result.OpenPositions,
		"closed_positions": result.ClosedPositions,
		"open_count":       len(result.OpenPositions),
		"closed_count":     len(result.ClosedPositions),
	})
}

// HandleGetPosition handles GET /api/stocks/positions/{symbol}
func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request, symbol string) {
	position, err := h.service.Position(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to rebuild position")
		h.writeError(w, err)
		return
	}
	if position == nil {
		http.Error(w, "No actions recorded for symbol", http.StatusNotFound)
		return
	}

	h.writeData(w, http.StatusOK, position)
}

// HandleGetActions handles GET /api/stocks/actions
func (h *Handler) HandleGetActions(w http.ResponseWriter, r *http.Request) {
	var actions []domain.Action
	var err error

	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		actions, err = h.service.ActionsBySymbol(symbol)
	} else {
		actions, err = h.service.Actions()
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load actions")
		h.writeError(w, err)
		return
	}

	if actions == nil {
		actions = []domain.Action{}
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
		"count":   len(actions),
	})
}

// HandleCreateAction handles POST /api/stocks/actions
func (h *Handler) HandleCreateAction(w http.ResponseWriter, r *http.Request) {
	var action domain.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.service.RecordAction(action)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, map[string]interface{}{"id": id})
}

// HandleUpdateAction handles PUT /api/stocks/actions/{id}
func (h *Handler) HandleUpdateAction(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid action id", http.StatusBadRequest)
		return
	}

	var action domain.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	action.ID = id

	if err := h.service.UpdateAction(action); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{"id": id})
}

// HandleDeleteAction handles DELETE /api/stocks/actions/{id}
func (h *Handler) HandleDeleteAction(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid action id", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteAction(id); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{"id": id})
}

// HandleGetFreeShares handles GET /api/stocks/{symbol}/free-shares
func (h *Handler) HandleGetFreeShares(w http.ResponseWriter, r *http.Request, symbol string) {
	free, err := h.service.FreeShares(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to compute free shares")
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"symbol":      domain.NormalizeSymbol(symbol),
		"free_shares": free,
	})
}

// HandleGuardCheck handles GET /api/stocks/{symbol}/guard-check?delta=-100
func (h *Handler) HandleGuardCheck(w http.ResponseWriter, r *http.Request, symbol string) {
	delta, err := strconv.ParseFloat(r.URL.Query().Get("delta"), 64)
	if err != nil {
		http.Error(w, "Invalid delta parameter", http.StatusBadRequest)
		return
	}

	verdict, err := h.service.GuardStatus(symbol, delta)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, verdict)
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

// writeError maps domain errors to HTTP statuses: bad input is 400, a
// violated business rule is 409, everything else 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var violation *domain.InvariantViolation

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &violation):
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
	})
}
