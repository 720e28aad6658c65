package prices

import (
	"fmt"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/events"
)

// DefaultTTL is how long a manually entered quote stays fresh.
// Athens quotes are entered once per trading day.
const DefaultTTL = 24 * time.Hour

// DefaultTrendWindow is the SMA period used for the trend endpoint.
const DefaultTrendWindow = 20

// Trend summarizes a symbol's simple-moving-average direction.
type Trend struct {
	Symbol    string  `json:"symbol"`
	Window    int     `json:"window"`
	SMA       float64 `json:"sma"`
	PrevSMA   float64 `json:"prev_sma"`
	Direction string  `json:"direction"` // "up", "down" or "flat"
	Samples   int     `json:"samples"`
}

// Service manages the quote cache and derived price analytics.
type Service struct {
	repo *Repository
	ttl  time.Duration
	bus  *events.Bus
	log  zerolog.Logger
}

// NewService creates a price service. ttl of 0 uses DefaultTTL.
func NewService(repo *Repository, ttl time.Duration, bus *events.Bus, log zerolog.Logger) *Service {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo: repo,
		ttl:  ttl,
		bus:  bus,
		log:  log.With().Str("service", "prices").Logger(),
	}
}

// UpsertQuote stores a quote and appends today's close to the history.
func (s *Service) UpsertQuote(symbol string, price, prevClose float64) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return domain.Quote{}, &domain.ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if price <= 0 {
		return domain.Quote{}, &domain.ValidationError{Field: "price", Reason: "must be positive"}
	}

	quote := domain.Quote{
		Symbol:    symbol,
		Price:     price,
		PrevClose: prevClose,
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.repo.SetQuote(quote, s.ttl); err != nil {
		return domain.Quote{}, err
	}

	point := HistoryPoint{
		Symbol: symbol,
		Date:   quote.UpdatedAt.Format("2006-01-02"),
		Close:  price,
	}
	if err := s.repo.AppendHistory(point); err != nil {
		// The cache write succeeded; history is best-effort.
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to append price history")
	}

	if s.bus != nil {
		s.bus.Publish(events.PriceUpdated, "prices", map[string]interface{}{
			"symbol": symbol,
			"price":  price,
		})
	}

	return quote, nil
}

// Quote retrieves one unexpired quote, nil if missing or stale.
func (s *Service) Quote(symbol string) (*domain.Quote, error) {
	return s.repo.GetQuote(symbol)
}

// Quotes retrieves every unexpired quote keyed by symbol.
func (s *Service) Quotes() (map[string]domain.Quote, error) {
	return s.repo.GetAllQuotes()
}

// Lookup snapshots the cache into a PriceLookup for the fold engines.
// The snapshot is taken once per call, so a whole fold sees one consistent
// view of prices.
func (s *Service) Lookup() domain.PriceLookup {
	quotes, err := s.repo.GetAllQuotes()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to snapshot quote cache")
		quotes = map[string]domain.Quote{}
	}

	return func(symbol string) domain.Quote {
		return quotes[domain.NormalizeSymbol(symbol)]
	}
}

// History returns a symbol's stored closes in chronological order.
func (s *Service) History(symbol string, n int) ([]HistoryPoint, error) {
	return s.repo.GetHistory(symbol, n)
}

// TrendFor computes the SMA direction over the symbol's history.
// window of 0 uses DefaultTrendWindow. Requires window+1 samples so the
// latest SMA value has a predecessor to compare against.
func (s *Service) TrendFor(symbol string, window int) (*Trend, error) {
	if window <= 0 {
		window = DefaultTrendWindow
	}

	history, err := s.repo.GetHistory(symbol, 0)
	if err != nil {
		return nil, err
	}
	if len(history) < window+1 {
		return nil, &domain.ValidationError{
			Field:  "window",
			Reason: fmt.Sprintf("need at least %d history points for a %d-day trend, have %d", window+1, window, len(history)),
		}
	}

	closes := make([]float64, len(history))
	for i, p := range history {
		closes[i] = p.Close
	}

	sma := talib.Sma(closes, window)
	latest := sma[len(sma)-1]
	previous := sma[len(sma)-2]

	direction := "flat"
	switch {
	case latest > previous:
		direction = "up"
	case latest < previous:
		direction = "down"
	}

	return &Trend{
		Symbol:    domain.NormalizeSymbol(symbol),
		Window:    window,
		SMA:       latest,
		PrevSMA:   previous,
		Direction: direction,
		Samples:   len(history),
	}, nil
}

// PurgeExpired removes stale cache entries. Used by the nightly sweep.
func (s *Service) PurgeExpired() (int64, error) {
	purged, err := s.repo.PurgeExpired()
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Info().Int64("purged", purged).Msg("Expired quotes purged")
	}
	return purged, nil
}
