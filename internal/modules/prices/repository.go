// Package prices caches quotes and price history in marketdata.db.
//
// Quotes are stored as msgpack blobs with a TTL; expired entries read as
// missing and the engines value the position without market data. The cache
// is ephemeral - losing it costs nothing but a re-entry.
package prices

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/avramides/folio/internal/domain"
)

// HistoryPoint is one daily close in a symbol's price history.
type HistoryPoint struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"` // YYYY-MM-DD
	Close  float64 `json:"close"`
}

// Repository handles quote and history rows in marketdata.db
type Repository struct {
	marketDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new price repository
func NewRepository(marketDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		marketDB: marketDB,
		log:      log.With().Str("repo", "prices").Logger(),
	}
}

// SetQuote stores a quote with the given TTL, replacing any previous entry.
func (r *Repository) SetQuote(quote domain.Quote, ttl time.Duration) error {
	quote.Symbol = domain.NormalizeSymbol(quote.Symbol)

	data, err := msgpack.Marshal(&quote)
	if err != nil {
		return fmt.Errorf("failed to encode quote: %w", err)
	}

	query := `INSERT OR REPLACE INTO price_quotes (symbol, data, expires_at) VALUES (?, ?, ?)`
	if _, err := r.marketDB.Exec(query, quote.Symbol, data, time.Now().Add(ttl).Unix()); err != nil {
		return fmt.Errorf("failed to store quote: %w", err)
	}

	return nil
}

// GetQuote retrieves an unexpired quote, nil if missing or stale.
func (r *Repository) GetQuote(symbol string) (*domain.Quote, error) {
	query := `SELECT data, expires_at FROM price_quotes WHERE symbol = ?`

	var data []byte
	var expiresAt int64
	err := r.marketDB.QueryRow(query, domain.NormalizeSymbol(symbol)).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	if time.Now().Unix() > expiresAt {
		return nil, nil
	}

	var quote domain.Quote
	if err := msgpack.Unmarshal(data, &quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}

	return &quote, nil
}

// GetAllQuotes retrieves every unexpired quote keyed by symbol.
func (r *Repository) GetAllQuotes() (map[string]domain.Quote, error) {
	query := `SELECT data FROM price_quotes WHERE expires_at >= ?`

	rows, err := r.marketDB.Query(query, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get quotes: %w", err)
	}
	defer rows.Close()

	quotes := make(map[string]domain.Quote)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}

		var quote domain.Quote
		if err := msgpack.Unmarshal(data, &quote); err != nil {
			r.log.Warn().Err(err).Msg("Skipping undecodable cached quote")
			continue
		}
		quotes[quote.Symbol] = quote
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotes: %w", err)
	}

	return quotes, nil
}

// PurgeExpired deletes stale cache rows. Returns the number removed.
func (r *Repository) PurgeExpired() (int64, error) {
	result, err := r.marketDB.Exec(`DELETE FROM price_quotes WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired quotes: %w", err)
	}
	return result.RowsAffected()
}

// AppendHistory upserts one daily close for a symbol.
func (r *Repository) AppendHistory(point HistoryPoint) error {
	query := `INSERT OR REPLACE INTO price_history (symbol, date, close) VALUES (?, ?, ?)`
	if _, err := r.marketDB.Exec(query, domain.NormalizeSymbol(point.Symbol), point.Date, point.Close); err != nil {
		return fmt.Errorf("failed to append price history: %w", err)
	}
	return nil
}

// GetHistory retrieves a symbol's most recent closes, oldest first,
// limited to the last n points (0 for all).
func (r *Repository) GetHistory(symbol string, n int) ([]HistoryPoint, error) {
	query := `SELECT symbol, date, close FROM price_history WHERE symbol = ? ORDER BY date DESC`
	args := []interface{}{domain.NormalizeSymbol(symbol)}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := r.marketDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.Symbol, &p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price history: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}

	return points, nil
}
