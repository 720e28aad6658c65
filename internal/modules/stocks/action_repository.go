package stocks

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
)

// actionsColumns is the column list for the actions table.
// Order must match the scan functions below.
const actionsColumns = `id, symbol, type, date, quantity, price, commission, amount, premium_type, revaluation_pct, notes, source_ref_kind, source_ref_id, created_at`

// ActionRepository handles action rows in ledger.db
type ActionRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewActionRepository creates a new action repository
func NewActionRepository(ledgerDB *sql.DB, log zerolog.Logger) *ActionRepository {
	return &ActionRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "action").Logger(),
	}
}

// Insert appends a new action to the log and returns its id
func (r *ActionRepository) Insert(action domain.Action) (int64, error) {
	if err := action.Validate(); err != nil {
		return 0, fmt.Errorf("failed to insert action: %w", err)
	}

	query := `
		INSERT INTO actions
		(symbol, type, date, quantity, price, commission, amount,
		 premium_type, revaluation_pct, notes, source_ref_kind, source_ref_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.ledgerDB.Exec(query,
		domain.NormalizeSymbol(action.Symbol),
		string(action.Type),
		action.Date.Unix(),
		nullFloat(action.Quantity),
		nullFloat(action.Price),
		nullFloat(action.Commission),
		nullFloat(action.Amount),
		nullString(string(action.PremiumType)),
		nullFloat(action.RevaluationPct),
		nullString(action.Notes),
		nullString(action.SourceRef.Kind),
		nullString(action.SourceRef.ID),
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted action id: %w", err)
	}

	r.log.Info().
		Str("symbol", action.Symbol).
		Str("type", string(action.Type)).
		Int64("id", id).
		Msg("Action recorded")

	return id, nil
}

// GetAll retrieves every action ordered by date then insertion id - the order
// the ledger fold expects.
func (r *ActionRepository) GetAll() ([]domain.Action, error) {
	query := "SELECT " + actionsColumns + " FROM actions ORDER BY date ASC, id ASC"

	rows, err := r.ledgerDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get actions: %w", err)
	}
	defer rows.Close()

	return r.collectActions(rows)
}

// GetBySymbol retrieves one symbol's actions in fold order
func (r *ActionRepository) GetBySymbol(symbol string) ([]domain.Action, error) {
	query := "SELECT " + actionsColumns + " FROM actions WHERE symbol = ? ORDER BY date ASC, id ASC"

	rows, err := r.ledgerDB.Query(query, domain.NormalizeSymbol(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to get actions by symbol: %w", err)
	}
	defer rows.Close()

	return r.collectActions(rows)
}

// GetByID retrieves a single action, nil if not found
func (r *ActionRepository) GetByID(id int64) (*domain.Action, error) {
	query := "SELECT " + actionsColumns + " FROM actions WHERE id = ?"

	action, err := scanAction(r.ledgerDB.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action by id: %w", err)
	}

	return &action, nil
}

// GetBySourceRef retrieves the synthetic action linked to the given reference,
// nil if none exists. Lookup is by exact match on the structured reference.
func (r *ActionRepository) GetBySourceRef(ref domain.SourceRef) (*domain.Action, error) {
	query := "SELECT " + actionsColumns + " FROM actions WHERE source_ref_kind = ? AND source_ref_id = ?"

	action, err := scanAction(r.ledgerDB.QueryRow(query, ref.Kind, ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action by source ref: %w", err)
	}

	return &action, nil
}

// Delete removes an action by id
func (r *ActionRepository) Delete(id int64) error {
	result, err := r.ledgerDB.Exec("DELETE FROM actions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete action: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("action %d not found", id)
	}

	r.log.Info().Int64("id", id).Msg("Action deleted")
	return nil
}

// Update replaces the mutable fields of an existing action
func (r *ActionRepository) Update(action domain.Action) error {
	if err := action.Validate(); err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}

	query := `
		UPDATE actions
		SET symbol = ?, type = ?, date = ?, quantity = ?, price = ?, commission = ?,
		    amount = ?, premium_type = ?, revaluation_pct = ?, notes = ?
		WHERE id = ?
	`

	result, err := r.ledgerDB.Exec(query,
		domain.NormalizeSymbol(action.Symbol),
		string(action.Type),
		action.Date.Unix(),
		nullFloat(action.Quantity),
		nullFloat(action.Price),
		nullFloat(action.Commission),
		nullFloat(action.Amount),
		nullString(string(action.PremiumType)),
		nullFloat(action.RevaluationPct),
		nullString(action.Notes),
		action.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("action %d not found", action.ID)
	}

	return nil
}

// Symbols returns the distinct symbols present in the action log
func (r *ActionRepository) Symbols() ([]string, error) {
	rows, err := r.ledgerDB.Query("SELECT DISTINCT symbol FROM actions ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to get symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}

	return symbols, nil
}

func (r *ActionRepository) collectActions(rows *sql.Rows) ([]domain.Action, error) {
	var actions []domain.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan logic
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (domain.Action, error) {
	var action domain.Action
	var date, createdAt int64
	var quantity, price, commission, amount, revaluationPct sql.NullFloat64
	var premiumType, notes, refKind, refID sql.NullString

	err := row.Scan(
		&action.ID,
		&action.Symbol,
		&action.Type,
		&date,
		&quantity,
		&price,
		&commission,
		&amount,
		&premiumType,
		&revaluationPct,
		&notes,
		&refKind,
		&refID,
		&createdAt,
	)
	if err != nil {
		return action, err
	}

	action.Date = time.Unix(date, 0).UTC()
	created := time.Unix(createdAt, 0).UTC()
	action.CreatedAt = &created

	action.Quantity = quantity.Float64
	action.Price = price.Float64
	action.Commission = commission.Float64
	action.Amount = amount.Float64
	action.RevaluationPct = revaluationPct.Float64
	if premiumType.Valid {
		action.PremiumType = domain.PremiumType(premiumType.String)
	}
	if notes.Valid {
		action.Notes = notes.String
	}
	if refKind.Valid {
		action.SourceRef.Kind = refKind.String
	}
	if refID.Valid {
		action.SourceRef.ID = refID.String
	}

	action.Symbol = domain.NormalizeSymbol(action.Symbol)

	return action, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
