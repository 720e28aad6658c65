package coveredcalls

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/events"
	"github.com/avramides/folio/internal/utils"
)

func setupCallsDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE covered_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			underlying_symbol TEXT NOT NULL,
			option_symbol TEXT NOT NULL,
			trade_date INTEGER NOT NULL,
			expiration_date INTEGER NOT NULL,
			strike_price REAL NOT NULL,
			contracts_count INTEGER NOT NULL,
			shares_per_contract INTEGER NOT NULL DEFAULT 1000,
			premium_per_share REAL NOT NULL,
			commission REAL,
			underlying_cost_basis REAL NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN',
			closing_date INTEGER,
			closing_price_per_share REAL,
			closing_commission REAL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER
		)
	`)
	require.NoError(t, err)

	return db
}

// stubStocks fakes the stock-side capability set.
type stubStocks struct {
	free       float64
	recorded   []domain.Action
	removed    []domain.SourceRef
	failRecord bool
	missing    bool
}

func (s *stubStocks) FreeShares(string) (float64, error) { return s.free, nil }

func (s *stubStocks) RecordSynthetic(action domain.Action) (int64, error) {
	if s.failRecord {
		return 0, fmt.Errorf("stock ledger unavailable")
	}
	s.recorded = append(s.recorded, action)
	return int64(len(s.recorded)), nil
}

func (s *stubStocks) RemoveSynthetic(ref domain.SourceRef) (bool, error) {
	if s.missing {
		return false, nil
	}
	s.removed = append(s.removed, ref)
	return true, nil
}

func newCallsService(t *testing.T) (*Service, *stubStocks) {
	repo := NewRepository(setupCallsDB(t), zerolog.Nop())
	stocks := &stubStocks{free: 10000}
	svc := NewService(repo, stocks, utils.NewKeyedMutex(), events.NewBus(zerolog.Nop()), zerolog.Nop())
	return svc, stocks
}

func TestCallsService_OpenChecksFreeShares(t *testing.T) {
	svc, stocks := newCallsService(t)

	id, err := svc.Open(openCall())
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	stocks.free = 500 // second call would need 1000 unreserved shares
	_, err = svc.Open(openCall())

	var violation *domain.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "insufficient_free_shares", violation.Rule)
}

func TestCallsService_ResolveExpired(t *testing.T) {
	svc, _ := newCallsService(t)

	id, err := svc.Open(openCall())
	require.NoError(t, err)

	view, err := svc.ResolveCall(id, Outcome{
		Status:      StatusExpired,
		ClosingDate: time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusExpired, view.Status)
	assert.NotNil(t, view.ClosingDate)

	_, err = svc.ResolveCall(id, Outcome{Status: StatusExpired, ClosingDate: time.Now()})
	var violation *domain.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "resolve_not_open", violation.Rule)
}

func TestCallsService_AssignmentSettlesSyntheticSell(t *testing.T) {
	svc, stocks := newCallsService(t)

	id, err := svc.Open(openCall())
	require.NoError(t, err)

	view, err := svc.ResolveCall(id, Outcome{
		Status:      StatusAssigned,
		ClosingDate: time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, view.Status)

	require.Len(t, stocks.recorded, 1)
	action := stocks.recorded[0]
	assert.Equal(t, domain.ActionSell, action.Type)
	assert.Equal(t, "OPAP", action.Symbol)
	assert.Equal(t, 1000.0, action.Quantity)
	assert.Equal(t, 1200.0, action.Price)
	assert.Equal(t, SourceRefKind, action.SourceRef.Kind)
	assert.Equal(t, fmt.Sprintf("%d", id), action.SourceRef.ID)
}

func TestCallsService_FailedSettlementRollsBackStatus(t *testing.T) {
	svc, stocks := newCallsService(t)

	id, err := svc.Open(openCall())
	require.NoError(t, err)

	stocks.failRecord = true
	_, err = svc.ResolveCall(id, Outcome{
		Status:      StatusAssigned,
		ClosingDate: time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	view, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, view.Status)
	assert.Nil(t, view.ClosingDate)
}

func TestCallsService_PartialCloseSplitsRow(t *testing.T) {
	svc, _ := newCallsService(t)

	call := openCall()
	call.ContractsCount = 3
	call.Commission = 30
	id, err := svc.Open(call)
	require.NoError(t, err)

	view, err := svc.ResolveCall(id, Outcome{
		Status:           StatusExpired,
		ContractsToClose: 1,
		ClosingDate:      time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// The returned view is the closed portion: a fresh row.
	assert.NotEqual(t, id, view.ID)
	assert.Equal(t, 1, view.ContractsCount)
	assert.Equal(t, StatusExpired, view.Status)

	// The original keeps its id, stays open, contracts conserved.
	original, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, original.Status)
	assert.Equal(t, 2, original.ContractsCount)
	assert.Equal(t, 3, original.ContractsCount+view.ContractsCount)
}

func TestCallsRepository_SplitResolveRollsBackTogether(t *testing.T) {
	repo := NewRepository(setupCallsDB(t), zerolog.Nop())

	call := openCall()
	call.ContractsCount = 3
	id, err := repo.Insert(call)
	require.NoError(t, err)

	stored, err := repo.GetByID(id)
	require.NoError(t, err)

	remainder := *stored
	remainder.ContractsCount = 2

	closed := *stored
	closed.ID = 0
	closed.ContractsCount = 1
	closed.UnderlyingSymbol = "" // insert half of the pair fails validation

	_, err = repo.SplitResolve(remainder, closed)
	require.Error(t, err)

	// The remainder shrink rolled back with the failed insert.
	after, err := repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 3, after.ContractsCount)
}

func TestCallsService_ReopenAssignedReversesSell(t *testing.T) {
	svc, stocks := newCallsService(t)

	id, err := svc.Open(openCall())
	require.NoError(t, err)

	_, err = svc.ResolveCall(id, Outcome{
		Status:      StatusAssigned,
		ClosingDate: time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	view, err := svc.Reopen(id)
	require.NoError(t, err)

	assert.Equal(t, StatusOpen, view.Status)
	assert.Nil(t, view.ClosingDate)
	require.Len(t, stocks.removed, 1)
	assert.Equal(t, fmt.Sprintf("%d", id), stocks.removed[0].ID)
}

func TestCallsService_ReopenAbortsWhenSyntheticMissing(t *testing.T) {
	svc, stocks := newCallsService(t)

	id, err := svc.Open(openCall())
	require.NoError(t, err)

	_, err = svc.ResolveCall(id, Outcome{
		Status:      StatusAssigned,
		ClosingDate: time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	stocks.missing = true
	_, err = svc.Reopen(id)

	var compensation *domain.CompensationFailure
	require.ErrorAs(t, err, &compensation)

	// No partial state: still assigned.
	view, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, view.Status)
}

func TestCallsService_ReopenExpiredChecksFreeShares(t *testing.T) {
	svc, stocks := newCallsService(t)

	id, err := svc.Open(openCall())
	require.NoError(t, err)

	_, err = svc.ResolveCall(id, Outcome{
		Status:      StatusExpired,
		ClosingDate: time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	stocks.free = 200 // shares were sold in the meantime
	_, err = svc.Reopen(id)

	var violation *domain.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "insufficient_free_shares", violation.Rule)
}

func TestCallsService_SweepExpired(t *testing.T) {
	svc, _ := newCallsService(t)
	svc.now = func() time.Time { return time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC) }

	id, err := svc.Open(openCall()) // expires 2025-07-18
	require.NoError(t, err)

	count, err := svc.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	view, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, view.Status)
	require.NotNil(t, view.ClosingDate)
	assert.Equal(t, view.ExpirationDate, *view.ClosingDate)

	count, err = svc.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
