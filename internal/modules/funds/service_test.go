package funds

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/events"
)

func setupFundsDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE fund_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fund_symbol TEXT NOT NULL,
			fund_name TEXT,
			trade_type TEXT NOT NULL,
			date INTEGER NOT NULL,
			units REAL NOT NULL,
			price REAL NOT NULL,
			commission REAL,
			created_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}

type fixedQuotes map[string]float64

func (q fixedQuotes) Lookup() domain.PriceLookup {
	return domain.PricesFromMap(q)
}

func newFundsService(t *testing.T, quotes fixedQuotes) *Service {
	repo := NewTradeRepository(setupFundsDB(t), zerolog.Nop())
	return NewService(repo, quotes, events.NewBus(zerolog.Nop()), zerolog.Nop())
}

func TestFundsService_RecordAndFold(t *testing.T) {
	svc := newFundsService(t, fixedQuotes{"GRFUND": 12})

	_, err := svc.RecordTrade(Trade{
		FundSymbol: "grfund",
		FundName:   "Greek Equity Fund",
		Type:       TradeBuy,
		Date:       time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Units:      100,
		Price:      10,
	})
	require.NoError(t, err)

	pos, err := svc.Position("GRFUND")
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, "Greek Equity Fund", pos.FundName)
	assert.Equal(t, 100.0, pos.RemainingUnits)
	assert.Equal(t, 1200.0, pos.CurrentValue)
	assert.Equal(t, 200.0, pos.UnrealizedPL)
}

func TestFundsService_RejectsInvalidTrade(t *testing.T) {
	svc := newFundsService(t, fixedQuotes{})

	_, err := svc.RecordTrade(Trade{
		FundSymbol: "GRFUND",
		Type:       TradeSell,
		Date:       time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Units:      0,
		Price:      10,
	})

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "units", validationErr.Field)
}

func TestFundsService_UpdateAndDelete(t *testing.T) {
	svc := newFundsService(t, fixedQuotes{})

	id, err := svc.RecordTrade(Trade{
		FundSymbol: "GRFUND",
		Type:       TradeBuy,
		Date:       time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Units:      100,
		Price:      10,
	})
	require.NoError(t, err)

	err = svc.UpdateTrade(Trade{
		ID:         id,
		FundSymbol: "GRFUND",
		Type:       TradeBuy,
		Date:       time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Units:      150,
		Price:      10,
	})
	require.NoError(t, err)

	pos, err := svc.Position("GRFUND")
	require.NoError(t, err)
	assert.Equal(t, 150.0, pos.RemainingUnits)

	require.NoError(t, svc.DeleteTrade(id))

	pos, err = svc.Position("GRFUND")
	require.NoError(t, err)
	assert.Nil(t, pos)

	err = svc.DeleteTrade(id)
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
