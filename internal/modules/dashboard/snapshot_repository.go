package dashboard

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is one day's recorded portfolio value, keyed by date.
type Snapshot struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	TotalValue  float64 `json:"total_value"`
	StockValue  float64 `json:"stock_value"`
	FundValue   float64 `json:"fund_value"`
	OptionValue float64 `json:"option_value"`
	CreatedAt   int64   `json:"created_at"`
}

// SnapshotRepository handles dashboard_snapshots rows in marketdata.db
type SnapshotRepository struct {
	marketDB *sql.DB
	log      zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(marketDB *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		marketDB: marketDB,
		log:      log.With().Str("repo", "dashboard").Logger(),
	}
}

// Upsert stores one daily snapshot, replacing any earlier write for the day.
func (r *SnapshotRepository) Upsert(snapshot Snapshot) error {
	query := `
		INSERT OR REPLACE INTO dashboard_snapshots
			(date, total_value, stock_value, fund_value, option_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.marketDB.Exec(query,
		snapshot.Date,
		snapshot.TotalValue,
		snapshot.StockValue,
		snapshot.FundValue,
		snapshot.OptionValue,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	return nil
}

// List retrieves the most recent snapshots, oldest first, limited to the
// last n (0 for all).
func (r *SnapshotRepository) List(n int) ([]Snapshot, error) {
	query := `
		SELECT date, total_value, stock_value, fund_value, option_value, created_at
		FROM dashboard_snapshots ORDER BY date DESC`
	args := []interface{}{}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := r.marketDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.Date, &s.TotalValue, &s.StockValue, &s.FundValue, &s.OptionValue, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}

	return snapshots, nil
}

// Latest retrieves the newest snapshot, nil if none exist.
func (r *SnapshotRepository) Latest() (*Snapshot, error) {
	query := `
		SELECT date, total_value, stock_value, fund_value, option_value, created_at
		FROM dashboard_snapshots ORDER BY date DESC LIMIT 1`

	var s Snapshot
	err := r.marketDB.QueryRow(query).Scan(&s.Date, &s.TotalValue, &s.StockValue, &s.FundValue, &s.OptionValue, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return &s, nil
}
