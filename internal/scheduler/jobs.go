package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/modules/dashboard"
)

// SnapshotTaker records one daily dashboard snapshot.
type SnapshotTaker interface {
	TakeSnapshot() (dashboard.Snapshot, error)
}

// ExpirationSweeper resolves open rows whose expiration has passed.
type ExpirationSweeper interface {
	SweepExpired() (int, error)
}

// QuotePurger drops stale entries from the quote cache.
type QuotePurger interface {
	PurgeExpired() (int64, error)
}

// BackupRunner archives the databases and returns the archive location.
type BackupRunner interface {
	Backup(ctx context.Context) (string, error)
}

// Checkpointer forces a WAL checkpoint on one database.
type Checkpointer interface {
	WALCheckpoint(mode string) error
	Name() string
}

// SnapshotJob stores the daily dashboard snapshot.
type SnapshotJob struct {
	Dashboard SnapshotTaker
	Log       zerolog.Logger
}

func (j *SnapshotJob) Name() string { return "dashboard_snapshot" }

func (j *SnapshotJob) Run() error {
	snapshot, err := j.Dashboard.TakeSnapshot()
	if err != nil {
		return fmt.Errorf("dashboard snapshot failed: %w", err)
	}
	j.Log.Info().Str("date", snapshot.Date).Float64("total_value", snapshot.TotalValue).Msg("Daily snapshot taken")
	return nil
}

// ExpirationSweepJob resolves past-expiry open options and covered calls.
type ExpirationSweepJob struct {
	Options      ExpirationSweeper
	CoveredCalls ExpirationSweeper
	Log          zerolog.Logger
}

func (j *ExpirationSweepJob) Name() string { return "expiration_sweep" }

func (j *ExpirationSweepJob) Run() error {
	optionCount, err := j.Options.SweepExpired()
	if err != nil {
		return fmt.Errorf("option expiration sweep failed: %w", err)
	}

	callCount, err := j.CoveredCalls.SweepExpired()
	if err != nil {
		return fmt.Errorf("covered-call expiration sweep failed: %w", err)
	}

	if optionCount+callCount > 0 {
		j.Log.Info().Int("options", optionCount).Int("covered_calls", callCount).Msg("Expired positions swept")
	}
	return nil
}

// QuotePurgeJob evicts expired entries from the quote cache.
type QuotePurgeJob struct {
	Prices QuotePurger
}

func (j *QuotePurgeJob) Name() string { return "quote_purge" }

func (j *QuotePurgeJob) Run() error {
	if _, err := j.Prices.PurgeExpired(); err != nil {
		return fmt.Errorf("quote purge failed: %w", err)
	}
	return nil
}

// BackupJob archives the databases and uploads them to remote storage.
type BackupJob struct {
	Backups BackupRunner
	Timeout time.Duration
	Log     zerolog.Logger
}

func (j *BackupJob) Name() string { return "nightly_backup" }

func (j *BackupJob) Run() error {
	timeout := j.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	location, err := j.Backups.Backup(ctx)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	j.Log.Info().Str("location", location).Msg("Backup completed")
	return nil
}

// WALCheckpointJob truncates each database's WAL so the log cannot grow
// unbounded between backups.
type WALCheckpointJob struct {
	Databases []Checkpointer
	Log       zerolog.Logger
}

func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

func (j *WALCheckpointJob) Run() error {
	for _, db := range j.Databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			return fmt.Errorf("wal checkpoint failed for %s: %w", db.Name(), err)
		}
		j.Log.Debug().Str("database", db.Name()).Msg("WAL checkpointed")
	}
	return nil
}
