package coveredcalls

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/database"
	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/modules/sharelock"
)

const coveredCallsColumns = `id, underlying_symbol, option_symbol, trade_date, expiration_date, strike_price, contracts_count, shares_per_contract, premium_per_share, commission, underlying_cost_basis, status, closing_date, closing_price_per_share, closing_commission, created_at, updated_at`

// Repository handles covered-call rows in ledger.db
type Repository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new covered-call repository
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "covered_call").Logger(),
	}
}

// Insert appends a covered-call row and returns its id
func (r *Repository) Insert(call CoveredCall) (int64, error) {
	id, err := r.insert(r.ledgerDB, call)
	if err != nil {
		return 0, err
	}

	r.log.Info().
		Str("underlying", call.UnderlyingSymbol).
		Int64("id", id).
		Str("status", string(call.Status)).
		Msg("Covered call recorded")

	return id, nil
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (r *Repository) insert(ex execer, call CoveredCall) (int64, error) {
	if err := call.Validate(); err != nil {
		return 0, fmt.Errorf("failed to insert covered call: %w", err)
	}
	if call.Status == "" {
		call.Status = StatusOpen
	}

	query := `
		INSERT INTO covered_calls
		(underlying_symbol, option_symbol, trade_date, expiration_date, strike_price,
		 contracts_count, shares_per_contract, premium_per_share, commission,
		 underlying_cost_basis, status, closing_date, closing_price_per_share,
		 closing_commission, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().Unix()
	result, err := ex.Exec(query,
		domain.NormalizeSymbol(call.UnderlyingSymbol),
		domain.NormalizeSymbol(call.OptionSymbol),
		call.TradeDate.Unix(),
		call.ExpirationDate.Unix(),
		call.StrikePrice,
		call.ContractsCount,
		call.SharesPerContract,
		call.PremiumPerShare,
		call.Commission,
		call.UnderlyingCostBasis,
		string(call.Status),
		nullTime(call.ClosingDate),
		nullFloatPtr(call.ClosingPricePerShare),
		nullFloatPtr(call.ClosingCommission),
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert covered call: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted covered call id: %w", err)
	}

	return id, nil
}

// GetAll retrieves every covered-call row, newest trade first
func (r *Repository) GetAll() ([]CoveredCall, error) {
	query := "SELECT " + coveredCallsColumns + " FROM covered_calls ORDER BY trade_date DESC, id DESC"

	rows, err := r.ledgerDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get covered calls: %w", err)
	}
	defer rows.Close()

	return collectCalls(rows)
}

// GetByID retrieves a single covered-call row, nil if not found
func (r *Repository) GetByID(id int64) (*CoveredCall, error) {
	query := "SELECT " + coveredCallsColumns + " FROM covered_calls WHERE id = ?"

	call, err := scanCall(r.ledgerDB.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get covered call by id: %w", err)
	}

	return &call, nil
}

// GetOpenByUnderlying retrieves the OPEN rows written on a symbol
func (r *Repository) GetOpenByUnderlying(underlying string) ([]CoveredCall, error) {
	query := "SELECT " + coveredCallsColumns + ` FROM covered_calls
		WHERE underlying_symbol = ? AND status = ? ORDER BY trade_date ASC, id ASC`

	rows, err := r.ledgerDB.Query(query, domain.NormalizeSymbol(underlying), string(StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to get open covered calls: %w", err)
	}
	defer rows.Close()

	return collectCalls(rows)
}

// GetOpenExpiringBefore retrieves OPEN rows whose expiration has passed
func (r *Repository) GetOpenExpiringBefore(asOf time.Time) ([]CoveredCall, error) {
	query := "SELECT " + coveredCallsColumns + ` FROM covered_calls
		WHERE status = ? AND expiration_date < ? ORDER BY expiration_date ASC`

	rows, err := r.ledgerDB.Query(query, string(StatusOpen), asOf.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get expiring covered calls: %w", err)
	}
	defer rows.Close()

	return collectCalls(rows)
}

// OpenReservations reports the symbol's open obligations in guard form.
// Satisfies the stock service's ReservationSource.
func (r *Repository) OpenReservations(symbol string) ([]sharelock.Reservation, error) {
	calls, err := r.GetOpenByUnderlying(symbol)
	if err != nil {
		return nil, err
	}

	reservations := make([]sharelock.Reservation, 0, len(calls))
	for _, call := range calls {
		reservations = append(reservations, sharelock.Reservation{
			ContractsCount:    float64(call.ContractsCount),
			SharesPerContract: float64(call.SharesPerContract),
		})
	}
	return reservations, nil
}

// Update replaces an existing covered-call row
func (r *Repository) Update(call CoveredCall) error {
	return r.update(r.ledgerDB, call)
}

func (r *Repository) update(ex execer, call CoveredCall) error {
	query := `
		UPDATE covered_calls
		SET underlying_symbol = ?, option_symbol = ?, trade_date = ?, expiration_date = ?,
		    strike_price = ?, contracts_count = ?, shares_per_contract = ?,
		    premium_per_share = ?, commission = ?, underlying_cost_basis = ?, status = ?,
		    closing_date = ?, closing_price_per_share = ?, closing_commission = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := ex.Exec(query,
		domain.NormalizeSymbol(call.UnderlyingSymbol),
		domain.NormalizeSymbol(call.OptionSymbol),
		call.TradeDate.Unix(),
		call.ExpirationDate.Unix(),
		call.StrikePrice,
		call.ContractsCount,
		call.SharesPerContract,
		call.PremiumPerShare,
		call.Commission,
		call.UnderlyingCostBasis,
		string(call.Status),
		nullTime(call.ClosingDate),
		nullFloatPtr(call.ClosingPricePerShare),
		nullFloatPtr(call.ClosingCommission),
		time.Now().Unix(),
		call.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update covered call: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("covered call %d not found", call.ID)
	}

	return nil
}

// SplitResolve shrinks an existing row to the remainder and inserts the
// closed portion, atomically - a partial close never persists only half of
// the pair.
func (r *Repository) SplitResolve(remainder, closed CoveredCall) (int64, error) {
	var closedID int64
	err := database.WithTransaction(r.ledgerDB, func(tx *sql.Tx) error {
		if err := r.update(tx, remainder); err != nil {
			return err
		}
		id, err := r.insert(tx, closed)
		if err != nil {
			return err
		}
		closedID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Info().
		Int64("remainder_id", remainder.ID).
		Int64("closed_id", closedID).
		Msg("Covered call partially closed")

	return closedID, nil
}

// Delete removes a covered-call row by id
func (r *Repository) Delete(id int64) error {
	result, err := r.ledgerDB.Exec("DELETE FROM covered_calls WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete covered call: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("covered call %d not found", id)
	}

	r.log.Info().Int64("id", id).Msg("Covered call deleted")
	return nil
}

func collectCalls(rows *sql.Rows) ([]CoveredCall, error) {
	var calls []CoveredCall
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan covered call: %w", err)
		}
		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating covered calls: %w", err)
	}

	return calls, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCall(row rowScanner) (CoveredCall, error) {
	var call CoveredCall
	var tradeDate, expirationDate, createdAt int64
	var updatedAt, closingDate sql.NullInt64
	var commission, closingPrice, closingCommission sql.NullFloat64

	err := row.Scan(
		&call.ID,
		&call.UnderlyingSymbol,
		&call.OptionSymbol,
		&tradeDate,
		&expirationDate,
		&call.StrikePrice,
		&call.ContractsCount,
		&call.SharesPerContract,
		&call.PremiumPerShare,
		&commission,
		&call.UnderlyingCostBasis,
		&call.Status,
		&closingDate,
		&closingPrice,
		&closingCommission,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return call, err
	}

	call.TradeDate = time.Unix(tradeDate, 0).UTC()
	call.ExpirationDate = time.Unix(expirationDate, 0).UTC()
	created := time.Unix(createdAt, 0).UTC()
	call.CreatedAt = &created
	if updatedAt.Valid {
		updated := time.Unix(updatedAt.Int64, 0).UTC()
		call.UpdatedAt = &updated
	}
	call.Commission = commission.Float64
	if closingDate.Valid {
		closing := time.Unix(closingDate.Int64, 0).UTC()
		call.ClosingDate = &closing
	}
	if closingPrice.Valid {
		price := closingPrice.Float64
		call.ClosingPricePerShare = &price
	}
	if closingCommission.Valid {
		cc := closingCommission.Float64
		call.ClosingCommission = &cc
	}

	return call, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullFloatPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
