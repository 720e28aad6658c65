// Package handlers provides HTTP handlers for the price cache.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/modules/prices"
)

// Handler handles price HTTP requests
type Handler struct {
	service *prices.Service
	log     zerolog.Logger
}

// NewHandler creates a new prices handler
func NewHandler(service *prices.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "prices").Logger(),
	}
}

// HandleQuotes handles GET /api/prices
func (h *Handler) HandleQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.service.Quotes()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load quotes")
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"quotes": quotes,
		"count":  len(quotes),
	})
}

// HandleUpsertQuote handles POST /api/prices
func (h *Handler) HandleUpsertQuote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol    string  `json:"symbol"`
		Price     float64 `json:"price"`
		PrevClose float64 `json:"prev_close"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	quote, err := h.service.UpsertQuote(req.Symbol, req.Price, req.PrevClose)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, quote)
}

// HandleQuote handles GET /api/prices/{symbol}
func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request, symbol string) {
	quote, err := h.service.Quote(symbol)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if quote == nil {
		http.Error(w, "No fresh quote for symbol", http.StatusNotFound)
		return
	}

	h.writeData(w, http.StatusOK, quote)
}

// HandleHistory handles GET /api/prices/{symbol}/history
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request, symbol string) {
	n := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	points, err := h.service.History(symbol, n)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if points == nil {
		points = []prices.HistoryPoint{}
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"symbol":  domain.NormalizeSymbol(symbol),
		"history": points,
		"count":   len(points),
	})
}

// HandleTrend handles GET /api/prices/{symbol}/trend
func (h *Handler) HandleTrend(w http.ResponseWriter, r *http.Request, symbol string) {
	window := 0
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid window parameter", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	trend, err := h.service.TrendFor(symbol, window)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, trend)
}

// HandlePurgeExpired handles POST /api/prices/purge-expired
func (h *Handler) HandlePurgeExpired(w http.ResponseWriter, r *http.Request) {
	purged, err := h.service.PurgeExpired()
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{"purged": purged})
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
