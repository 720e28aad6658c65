package scheduler

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/avramides/folio/internal/events"
)

type fakeJob struct {
	name string
	err  error
	runs int
}

func (j *fakeJob) Name() string { return j.name }
func (j *fakeJob) Run() error {
	j.runs++
	return j.err
}

func setupHistoryDB(t *testing.T) *HistoryRepository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE job_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			success INTEGER,
			detail TEXT
		);
	`)
	require.NoError(t, err)

	return NewHistoryRepository(db, zerolog.Nop())
}

func TestRunNow_RecordsSuccess(t *testing.T) {
	history := setupHistoryDB(t)
	bus := events.NewBus(zerolog.Nop())

	var completed []string
	bus.Subscribe(events.JobCompleted, func(e *events.Event) {
		completed = append(completed, e.Data["job"].(string))
	})

	s := New(history, bus, zerolog.Nop())
	job := &fakeJob{name: "dashboard_snapshot"}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)
	assert.Equal(t, []string{"dashboard_snapshot"}, completed)

	runs, err := history.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "dashboard_snapshot", runs[0].Job)
	require.NotNil(t, runs[0].Success)
	assert.True(t, *runs[0].Success)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestRunNow_RecordsFailure(t *testing.T) {
	history := setupHistoryDB(t)
	bus := events.NewBus(zerolog.Nop())

	var failed int
	bus.Subscribe(events.JobFailed, func(e *events.Event) { failed++ })

	s := New(history, bus, zerolog.Nop())
	job := &fakeJob{name: "nightly_backup", err: errors.New("upload refused")}

	err := s.RunNow(job)
	require.Error(t, err)
	assert.Equal(t, 1, failed)

	runs, err := history.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Success)
	assert.False(t, *runs[0].Success)
	assert.Equal(t, "upload refused", runs[0].Detail)
}

func TestAddJob_RejectsBadSchedule(t *testing.T) {
	s := New(nil, nil, zerolog.Nop())
	err := s.AddJob("not a schedule", &fakeJob{name: "x"})
	assert.Error(t, err)
}

func TestHistoryRecentNewestFirst(t *testing.T) {
	history := setupHistoryDB(t)

	first, err := history.RecordStart("quote_purge")
	require.NoError(t, err)
	require.NoError(t, history.RecordFinish(first, true, ""))

	_, err = history.RecordStart("expiration_sweep")
	require.NoError(t, err)

	runs, err := history.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "expiration_sweep", runs[0].Job)
	assert.Nil(t, runs[0].FinishedAt)
}
