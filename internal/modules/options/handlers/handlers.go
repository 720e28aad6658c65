// Package handlers provides HTTP handlers for option positions.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/modules/options"
)

// Handler handles option HTTP requests
type Handler struct {
	service *options.Service
	log     zerolog.Logger
}

// NewHandler creates a new options handler
func NewHandler(service *options.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "options").Logger(),
	}
}

// HandleGetPositions handles GET /api/options/positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Positions()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to net option positions")
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"open_positions":    result.OpenPositions,
		"history_positions": result.HistoryPositions,
	})
}

// HandleGetPosition handles GET /api/options/positions/{symbol}
func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request, symbol string) {
	position, err := h.service.Position(symbol)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if position == nil {
		http.Error(w, "No trades recorded for option", http.StatusNotFound)
		return
	}

	h.writeData(w, http.StatusOK, position)
}

// HandleGetTrades handles GET /api/options/trades, optionally filtered by
// ?underlying=
func (h *Handler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	var trades []options.Trade
	var err error

	if underlying := r.URL.Query().Get("underlying"); underlying != "" {
		trades, err = h.service.TradesByUnderlying(underlying)
	} else {
		trades, err = h.service.Trades()
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	if trades == nil {
		trades = []options.Trade{}
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

// HandleCreateTrade handles POST /api/options/trades
func (h *Handler) HandleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var trade options.Trade
	if err := json.NewDecoder(r.Body).Decode(&trade); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.service.RecordTrade(trade)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, map[string]interface{}{"id": id})
}

// HandleDeleteTrade handles DELETE /api/options/trades/{id}
func (h *Handler) HandleDeleteTrade(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid trade id", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteTrade(id); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{"id": id})
}

// HandleSweepExpired handles POST /api/options/sweep-expired
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
