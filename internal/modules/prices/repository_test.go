package prices

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

func setupPricesDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE price_quotes (
			symbol TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE TABLE price_history (
			symbol TEXT NOT NULL,
			date TEXT NOT NULL,
			close REAL NOT NULL,
			PRIMARY KEY (symbol, date)
		);
	`)
	require.NoError(t, err)

	return db
}

func TestRepository_QuoteRoundTrip(t *testing.T) {
	repo := NewRepository(setupPricesDB(t), zerolog.Nop())

	quote := domain.Quote{
		Symbol:    "OPAP",
		Price:     14.2,
		PrevClose: 14.0,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.SetQuote(quote, time.Hour))

	got, err := repo.GetQuote("opap")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, quote.Price, got.Price)
	assert.Equal(t, quote.PrevClose, got.PrevClose)
}

func TestRepository_ExpiredQuoteReadsAsMissing(t *testing.T) {
	repo := NewRepository(setupPricesDB(t), zerolog.Nop())

	require.NoError(t, repo.SetQuote(domain.Quote{Symbol: "OPAP", Price: 14}, -time.Minute))

	got, err := repo.GetQuote("OPAP")
	require.NoError(t, err)
	assert.Nil(t, got)

	purged, err := repo.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestRepository_HistoryChronological(t *testing.T) {
	repo := NewRepository(setupPricesDB(t), zerolog.Nop())

	for _, p := range []HistoryPoint{
		{Symbol: "OPAP", Date: "2025-06-03", Close: 14.5},
		{Symbol: "OPAP", Date: "2025-06-01", Close: 14.0},
		{Symbol: "OPAP", Date: "2025-06-02", Close: 14.2},
	} {
		require.NoError(t, repo.AppendHistory(p))
	}

	points, err := repo.GetHistory("OPAP", 0)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, "2025-06-01", points[0].Date)
	assert.Equal(t, "2025-06-03", points[2].Date)

	limited, err := repo.GetHistory("OPAP", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "2025-06-02", limited[0].Date)
}

func TestService_UpsertAndLookup(t *testing.T) {
	repo := NewRepository(setupPricesDB(t), zerolog.Nop())
	svc := NewService(repo, 0, events.NewBus(zerolog.Nop()), zerolog.Nop())

	_, err := svc.UpsertQuote("opap", 14.2, 14.0)
	require.NoError(t, err)

	lookup := svc.Lookup()
	assert.Equal(t, 14.2, lookup("OPAP").Price)
	assert.Equal(t, 0.0, lookup("UNKNOWN").Price)
}

func TestService_UpsertRejectsBadInput(t *testing.T) {
	repo := NewRepository(setupPricesDB(t), zerolog.Nop())
	svc := NewService(repo, 0, nil, zerolog.Nop())

	_, err := svc.UpsertQuote("", 14, 0)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = svc.UpsertQuote("OPAP", 0, 0)
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "price", validationErr.Field)
}

func TestService_Trend(t *testing.T) {
	repo := NewRepository(setupPricesDB(t), zerolog.Nop())
	svc := NewService(repo, 0, nil, zerolog.Nop())

	// Rising closes: the SMA must trend up.
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		require.NoError(t, repo.AppendHistory(HistoryPoint{
			Symbol: "OPAP",
			Date:   base.AddDate(0, 0, i).Format("2006-01-02"),
			Close:  10 + float64(i)*0.5,
		}))
	}

	trend, err := svc.TrendFor("OPAP", 3)
	require.NoError(t, err)
	assert.Equal(t, "up", trend.Direction)
	assert.Greater(t, trend.SMA, trend.PrevSMA)
	assert.Equal(t, 10, trend.Samples)

	// Too little data for the default 20-day window.
	_, err = svc.TrendFor("OPAP", 0)
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
