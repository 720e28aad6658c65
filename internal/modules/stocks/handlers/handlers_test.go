package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/events"
	"github.com/avramides/folio/internal/modules/sharelock"
	"github.com/avramides/folio/internal/modules/stocks"
	"github.com/avramides/folio/internal/utils"
)

type fixedReservations struct {
	reservations []sharelock.Reservation
}

func (f *fixedReservations) OpenReservations(symbol string) ([]sharelock.Reservation, error) {
	return f.reservations, nil
}

type fixedQuotes struct {
	prices map[string]float64
}

func (f *fixedQuotes) Lookup() domain.PriceLookup {
	return domain.PricesFromMap(f.prices)
}

func setupRouter(t *testing.T, reservations []sharelock.Reservation) *chi.Mux {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			type TEXT NOT NULL,
			date INTEGER NOT NULL,
			quantity REAL,
			price REAL,
			commission REAL,
			amount REAL,
			premium_type TEXT,
			revaluation_pct REAL,
			notes TEXT,
			source_ref_kind TEXT,
			source_ref_id TEXT,
			created_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)

	service := stocks.NewService(
		stocks.NewActionRepository(db, zerolog.Nop()),
		&fixedReservations{reservations: reservations},
		&fixedQuotes{prices: map[string]float64{"OPAP": 14.2}},
		utils.NewKeyedMutex(),
		events.NewBus(zerolog.Nop()),
		zerolog.Nop(),
	)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		NewHandler(service, zerolog.Nop()).RegisterRoutes(r)
	})
	return router
}

func doRequest(t *testing.T, router *chi.Mux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var envelope struct {
		Data     map[string]interface{} `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Contains(t, envelope.Metadata, "timestamp")
	return envelope.Data
}

func TestHandler_CreateAndListActions(t *testing.T) {
	router := setupRouter(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/stocks/actions",
		`{"symbol":"opap","type":"buy","date":"2025-01-10T00:00:00Z","quantity":1000,"price":12.5,"commission":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, float64(1), data["id"])

	rec = doRequest(t, router, http.MethodGet, "/api/stocks/actions?symbol=OPAP", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data = decodeData(t, rec)
	assert.Equal(t, float64(1), data["count"])
}

func TestHandler_CreateAction_InvalidBody(t *testing.T) {
	router := setupRouter(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/stocks/actions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateAction_ValidationError(t *testing.T) {
	router := setupRouter(t, nil)

	// buy with zero quantity
	rec := doRequest(t, router, http.MethodPost, "/api/stocks/actions",
		`{"symbol":"opap","type":"buy","date":"2025-01-10T00:00:00Z","price":12.5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "quantity")
}

func TestHandler_Oversell_Conflict(t *testing.T) {
	router := setupRouter(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/stocks/actions",
		`{"symbol":"opap","type":"buy","date":"2025-01-10T00:00:00Z","quantity":100,"price":12.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/stocks/actions",
		`{"symbol":"opap","type":"sell","date":"2025-02-10T00:00:00Z","quantity":500,"price":13}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "error")
}

func TestHandler_GetPositions(t *testing.T) {
	router := setupRouter(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/stocks/actions",
		`{"symbol":"opap","type":"buy","date":"2025-01-10T00:00:00Z","quantity":1000,"price":12.5,"commission":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/stocks/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, float64(1), data["open_count"])
	assert.Equal(t, float64(0), data["closed_count"])

	rec = doRequest(t, router, http.MethodGet, "/api/stocks/positions/opap", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_GetPosition_NotFound(t *testing.T) {
	router := setupRouter(t, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/stocks/positions/ZZZZ", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_GuardCheck(t *testing.T) {
	router := setupRouter(t, []sharelock.Reservation{
		{ContractsCount: 8, SharesPerContract: 100},
	})

	rec := doRequest(t, router, http.MethodPost, "/api/stocks/actions",
		`{"symbol":"opap","type":"buy","date":"2025-01-10T00:00:00Z","quantity":1000,"price":12.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/stocks/OPAP/guard-check?delta=-100", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/stocks/OPAP/guard-check?delta=-300", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/stocks/OPAP/guard-check", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_FreeShares(t *testing.T) {
	router := setupRouter(t, []sharelock.Reservation{
		{ContractsCount: 8, SharesPerContract: 100},
	})

	rec := doRequest(t, router, http.MethodPost, "/api/stocks/actions",
		`{"symbol":"opap","type":"buy","date":"2025-01-10T00:00:00Z","quantity":1000,"price":12.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/stocks/opap/free-shares", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, "OPAP", data["symbol"])
	assert.InDelta(t, 200, data["free_shares"].(float64), 0.001)
}

func TestHandler_DeleteAction_GuardBlocks(t *testing.T) {
	router := setupRouter(t, []sharelock.Reservation{
		{ContractsCount: 1, SharesPerContract: 1000},
	})

	rec := doRequest(t, router, http.MethodPost, "/api/stocks/actions",
		`{"symbol":"opap","type":"buy","date":"2025-01-10T00:00:00Z","quantity":1000,"price":12.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// every share is reserved, so removing the buy must be rejected
	rec = doRequest(t, router, http.MethodDelete, "/api/stocks/actions/1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/stocks/actions/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
