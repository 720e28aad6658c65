package dashboard

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/events"
	"github.com/avramides/folio/internal/modules/coveredcalls"
	"github.com/avramides/folio/internal/modules/funds"
	"github.com/avramides/folio/internal/modules/options"
	"github.com/avramides/folio/internal/modules/stocks"
)

// StockSource provides the folded stock ledger.
type StockSource interface {
	Positions() (stocks.LedgerResult, error)
}

// FundSource provides the folded fund ledger.
type FundSource interface {
	Positions() (funds.LedgerResult, error)
}

// OptionSource provides the netted option positions.
type OptionSource interface {
	Positions() (options.NetResult, error)
}

// CallSource provides covered-call rows with economics attached.
type CallSource interface {
	List() ([]coveredcalls.CallView, error)
}

// QuoteSource provides the unexpired quote snapshot.
type QuoteSource interface {
	Quotes() (map[string]domain.Quote, error)
}

// Service builds the aggregated dashboard view and its daily snapshots.
type Service struct {
	stocks    StockSource
	funds     FundSource
	options   OptionSource
	calls     CallSource
	quotes    QuoteSource
	snapshots *SnapshotRepository
	bus       *events.Bus
	log       zerolog.Logger
	now       func() time.Time
}

// NewService creates a dashboard service
func NewService(stockSrc StockSource, fundSrc FundSource, optionSrc OptionSource, callSrc CallSource, quoteSrc QuoteSource, snapshots *SnapshotRepository, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		stocks:    stockSrc,
		funds:     fundSrc,
		options:   optionSrc,
		calls:     callSrc,
		quotes:    quoteSrc,
		snapshots: snapshots,
		bus:       bus,
		log:       log.With().Str("service", "dashboard").Logger(),
		now:       time.Now,
	}
}

// Summary reads every ledger once and aggregates the results.
func (s *Service) Summary() (Summary, error) {
	inputs, err := s.collect()
	if err != nil {
		return Summary{}, err
	}
	return Aggregate(inputs), nil
}

// TakeSnapshot records today's aggregated values, replacing an earlier
// snapshot for the same day.
func (s *Service) TakeSnapshot() (Snapshot, error) {
	summary, err := s.Summary()
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		Date:        summary.Date.Format("2006-01-02"),
		TotalValue:  summary.TotalValue,
		StockValue:  summary.StockValue,
		FundValue:   summary.FundValue,
		OptionValue: summary.OptionValue,
	}
	if err := s.snapshots.Upsert(snapshot); err != nil {
		return Snapshot{}, err
	}

	s.log.Info().Str("date", snapshot.Date).Float64("total_value", snapshot.TotalValue).Msg("Dashboard snapshot stored")
	if s.bus != nil {
		s.bus.Publish(events.SnapshotCreated, "dashboard", map[string]interface{}{
			"date":        snapshot.Date,
			"total_value": snapshot.TotalValue,
		})
	}

	return snapshot, nil
}

// History returns the last n daily snapshots, oldest first (0 for all).
func (s *Service) History(n int) ([]Snapshot, error) {
	return s.snapshots.List(n)
}

// PortfolioVolatility derives return volatility from the last n daily
// snapshots (0 for all).
func (s *Service) PortfolioVolatility(n int) (Volatility, error) {
	snapshots, err := s.snapshots.List(n)
	if err != nil {
		return Volatility{}, err
	}

	values := make([]float64, len(snapshots))
	for i, snap := range snapshots {
		values[i] = snap.TotalValue
	}
	return ComputeVolatility(values)
}

func (s *Service) collect() (Inputs, error) {
	stockResult, err := s.stocks.Positions()
	if err != nil {
		return Inputs{}, err
	}
	fundResult, err := s.funds.Positions()
	if err != nil {
		return Inputs{}, err
	}
	optionResult, err := s.options.Positions()
	if err != nil {
		return Inputs{}, err
	}
	calls, err := s.calls.List()
	if err != nil {
		return Inputs{}, err
	}
	quotes, err := s.quotes.Quotes()
	if err != nil {
		return Inputs{}, err
	}

	return Inputs{
		Stocks:       stockResult,
		Funds:        fundResult,
		Options:      optionResult,
		CoveredCalls: calls,
		Quotes:       quotes,
		Today:        s.now().UTC(),
	}, nil
}
