package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Run is one recorded job execution.
type Run struct {
	ID         int64  `json:"id"`
	Job        string `json:"job"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt *int64 `json:"finished_at,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// HistoryRepository handles job_history rows in marketdata.db
type HistoryRepository struct {
	marketDB *sql.DB
	log      zerolog.Logger
}

// NewHistoryRepository creates a new job-history repository
func NewHistoryRepository(marketDB *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		marketDB: marketDB,
		log:      log.With().Str("repo", "jobhistory").Logger(),
	}
}

// RecordStart inserts a started run and returns its id.
func (r *HistoryRepository) RecordStart(job string) (int64, error) {
	result, err := r.marketDB.Exec(
		`INSERT INTO job_history (job, started_at) VALUES (?, ?)`,
		job, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record job start: %w", err)
	}
	return result.LastInsertId()
}

// RecordFinish closes a started run with its outcome.
func (r *HistoryRepository) RecordFinish(runID int64, success bool, detail string) error {
	_, err := r.marketDB.Exec(
		`UPDATE job_history SET finished_at = ?, success = ?, detail = ? WHERE id = ?`,
		time.Now().Unix(), success, detail, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record job finish: %w", err)
	}
	return nil
}

// Recent retrieves the last n runs, newest first.
func (r *HistoryRepository) Recent(n int) ([]Run, error) {
	if n <= 0 {
		n = 50
	}

	rows, err := r.marketDB.Query(
		`SELECT id, job, started_at, finished_at, success, detail
		 FROM job_history ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get job history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finishedAt sql.NullInt64
		var success sql.NullBool
		var detail sql.NullString
		if err := rows.Scan(&run.ID, &run.Job, &run.StartedAt, &finishedAt, &success, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Int64
		}
		if success.Valid {
			run.Success = &success.Bool
		}
		run.Detail = detail.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job history: %w", err)
	}

	return runs, nil
}
