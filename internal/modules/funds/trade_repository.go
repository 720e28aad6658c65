package funds

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
)

const fundTradesColumns = `id, fund_symbol, fund_name, trade_type, date, units, price, commission, created_at`

// TradeRepository handles fund trade rows in ledger.db
type TradeRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewTradeRepository creates a new fund trade repository
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "fund_trade").Logger(),
	}
}

// Insert appends a fund trade and returns its id
func (r *TradeRepository) Insert(trade Trade) (int64, error) {
	if err := trade.Validate(); err != nil {
		return 0, fmt.Errorf("failed to insert fund trade: %w", err)
	}

	query := `
		INSERT INTO fund_trades (fund_symbol, fund_name, trade_type, date, units, price, commission, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.ledgerDB.Exec(query,
		domain.NormalizeSymbol(trade.FundSymbol),
		nullStr(trade.FundName),
		string(trade.Type),
		trade.Date.Unix(),
		trade.Units,
		trade.Price,
		trade.Commission,
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert fund trade: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted fund trade id: %w", err)
	}

	r.log.Info().
		Str("fund", trade.FundSymbol).
		Str("type", string(trade.Type)).
		Int64("id", id).
		Msg("Fund trade recorded")

	return id, nil
}

// GetAll retrieves every fund trade in fold order
func (r *TradeRepository) GetAll() ([]Trade, error) {
	query := "SELECT " + fundTradesColumns + " FROM fund_trades ORDER BY date ASC, id ASC"

	rows, err := r.ledgerDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get fund trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// GetBySymbol retrieves one fund's trades in fold order
func (r *TradeRepository) GetBySymbol(symbol string) ([]Trade, error) {
	query := "SELECT " + fundTradesColumns + " FROM fund_trades WHERE fund_symbol = ? ORDER BY date ASC, id ASC"

	rows, err := r.ledgerDB.Query(query, domain.NormalizeSymbol(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to get fund trades by symbol: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// GetByID retrieves a single fund trade, nil if not found
func (r *TradeRepository) GetByID(id int64) (*Trade, error) {
	query := "SELECT " + fundTradesColumns + " FROM fund_trades WHERE id = ?"

	trade, err := scanTrade(r.ledgerDB.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund trade by id: %w", err)
	}

	return &trade, nil
}

// Update replaces the mutable fields of an existing fund trade
func (r *TradeRepository) Update(trade Trade) error {
	if err := trade.Validate(); err != nil {
		return fmt.Errorf("failed to update fund trade: %w", err)
	}

	query := `
		UPDATE fund_trades
		SET fund_symbol = ?, fund_name = ?, trade_type = ?, date = ?, units = ?, price = ?, commission = ?
		WHERE id = ?
	`

	result, err := r.ledgerDB.Exec(query,
		domain.NormalizeSymbol(trade.FundSymbol),
		nullStr(trade.FundName),
		string(trade.Type),
		trade.Date.Unix(),
		trade.Units,
		trade.Price,
		trade.Commission,
		trade.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update fund trade: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("fund trade %d not found", trade.ID)
	}

	return nil
}

// Delete removes a fund trade by id
func (r *TradeRepository) Delete(id int64) error {
	result, err := r.ledgerDB.Exec("DELETE FROM fund_trades WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete fund trade: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("fund trade %d not found", id)
	}

	r.log.Info().Int64("id", id).Msg("Fund trade deleted")
	return nil
}

func collectTrades(rows *sql.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund trade: %w", err)
		}
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fund trades: %w", err)
	}

	return trades, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (Trade, error) {
	var trade Trade
	var date, createdAt int64
	var name sql.NullString
	var commission sql.NullFloat64

	err := row.Scan(
		&trade.ID,
		&trade.FundSymbol,
		&name,
		&trade.Type,
		&date,
		&trade.Units,
		&trade.Price,
		&commission,
		&createdAt,
	)
	if err != nil {
		return trade, err
	}

	trade.Date = time.Unix(date, 0).UTC()
	created := time.Unix(createdAt, 0).UTC()
	trade.CreatedAt = &created
	trade.Commission = commission.Float64
	if name.Valid {
		trade.FundName = name.String
	}

	return trade, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
