package options

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
)

const optionTradesColumns = `id, option_symbol, underlying_symbol, option_type, trade_type, contracts_count, shares_per_contract, premium, commission, strike_price, trade_date, expiration_date, status, created_at`

// TradeRepository handles option trade rows in ledger.db
type TradeRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewTradeRepository creates a new option trade repository
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "option_trade").Logger(),
	}
}

// Insert appends an option trade and returns its id
func (r *TradeRepository) Insert(trade Trade) (int64, error) {
	if err := trade.Validate(); err != nil {
		return 0, fmt.Errorf("failed to insert option trade: %w", err)
	}

	query := `
		INSERT INTO option_trades
		(option_symbol, underlying_symbol, option_type, trade_type, contracts_count,
		 shares_per_contract, premium, commission, strike_price, trade_date, expiration_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.ledgerDB.Exec(query,
		domain.NormalizeSymbol(trade.OptionSymbol),
		domain.NormalizeSymbol(trade.UnderlyingSymbol),
		string(trade.OptionType),
		string(trade.TradeType),
		trade.ContractsCount,
		trade.SharesPerContract,
		trade.Premium,
		trade.Commission,
		trade.StrikePrice,
		trade.TradeDate.Unix(),
		trade.ExpirationDate.Unix(),
		nullStr(string(trade.Status)),
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert option trade: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted option trade id: %w", err)
	}

	r.log.Info().
		Str("option", trade.OptionSymbol).
		Str("type", string(trade.TradeType)).
		Int64("id", id).
		Msg("Option trade recorded")

	return id, nil
}

// GetAll retrieves every option trade in netting order
func (r *TradeRepository) GetAll() ([]Trade, error) {
	query := "SELECT " + optionTradesColumns + " FROM option_trades ORDER BY trade_date ASC, id ASC"

	rows, err := r.ledgerDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get option trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// GetByOptionSymbol retrieves one contract's trades in netting order
func (r *TradeRepository) GetByOptionSymbol(optionSymbol string) ([]Trade, error) {
	query := "SELECT " + optionTradesColumns + " FROM option_trades WHERE option_symbol = ? ORDER BY trade_date ASC, id ASC"

	rows, err := r.ledgerDB.Query(query, domain.NormalizeSymbol(optionSymbol))
	if err != nil {
		return nil, fmt.Errorf("failed to get option trades by symbol: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// GetByUnderlying retrieves all trades whose option is written on the symbol
func (r *TradeRepository) GetByUnderlying(underlying string) ([]Trade, error) {
	query := "SELECT " + optionTradesColumns + " FROM option_trades WHERE underlying_symbol = ? ORDER BY trade_date ASC, id ASC"

	rows, err := r.ledgerDB.Query(query, domain.NormalizeSymbol(underlying))
	if err != nil {
		return nil, fmt.Errorf("failed to get option trades by underlying: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// GetByID retrieves a single option trade, nil if not found
func (r *TradeRepository) GetByID(id int64) (*Trade, error) {
	query := "SELECT " + optionTradesColumns + " FROM option_trades WHERE id = ?"

	trade, err := scanTrade(r.ledgerDB.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get option trade by id: %w", err)
	}

	return &trade, nil
}

// Delete removes an option trade by id
func (r *TradeRepository) Delete(id int64) error {
	result, err := r.ledgerDB.Exec("DELETE FROM option_trades WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete option trade: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("option trade %d not found", id)
	}

	r.log.Info().Int64("id", id).Msg("Option trade deleted")
	return nil
}

// UpdateStatus sets the settlement status of an existing trade
func (r *TradeRepository) UpdateStatus(id int64, status TradeStatus) error {
	result, err := r.ledgerDB.Exec("UPDATE option_trades SET status = ? WHERE id = ?", nullStr(string(status)), id)
	if err != nil {
		return fmt.Errorf("failed to update option trade status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("option trade %d not found", id)
	}

	return nil
}

// ExpireOpenPastExpiration marks every open-status row past its expiration as
// EXPIRED. Used by the nightly sweep; returns the affected ids.
func (r *TradeRepository) ExpireOpenPastExpiration(asOf time.Time) ([]int64, error) {
	query := `
		SELECT id FROM option_trades
		WHERE (status IS NULL OR status = '')
		  AND trade_type IN ('buy_to_open', 'sell_to_open')
		  AND expiration_date < ?
	`
	rows, err := r.ledgerDB.Query(query, asOf.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to find expired option trades: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired trade id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired trades: %w", err)
	}

	for _, id := range ids {
		if err := r.UpdateStatus(id, StatusExpired); err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func collectTrades(rows *sql.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan option trade: %w", err)
		}
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating option trades: %w", err)
	}

	return trades, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (Trade, error) {
	var trade Trade
	var tradeDate, expirationDate, createdAt int64
	var commission sql.NullFloat64
	var status sql.NullString

	err := row.Scan(
		&trade.ID,
		&trade.OptionSymbol,
		&trade.UnderlyingSymbol,
		&trade.OptionType,
		&trade.TradeType,
		&trade.ContractsCount,
		&trade.SharesPerContract,
		&trade.Premium,
		&commission,
		&trade.StrikePrice,
		&tradeDate,
		&expirationDate,
		&status,
		&createdAt,
	)
	if err != nil {
		return trade, err
	}

	trade.TradeDate = time.Unix(tradeDate, 0).UTC()
	trade.ExpirationDate = time.Unix(expirationDate, 0).UTC()
	created := time.Unix(createdAt, 0).UTC()
	trade.CreatedAt = &created
	trade.Commission = commission.Float64
	if status.Valid {
		trade.Status = TradeStatus(status.String)
	}

	return trade, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
