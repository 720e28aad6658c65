package funds

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/events"
)

// TradeStore is the persistence surface the service needs.
type TradeStore interface {
	Insert(trade Trade) (int64, error)
	GetAll() ([]Trade, error)
	GetBySymbol(symbol string) ([]Trade, error)
	GetByID(id int64) (*Trade, error)
	Update(trade Trade) error
	Delete(id int64) error
}

// QuoteSource supplies the price snapshot used to value fund positions.
type QuoteSource interface {
	Lookup() domain.PriceLookup
}

// Service orchestrates the fund ledger. Funds carry no reservations, so
// there is no guard here - only validation, persistence and events.
type Service struct {
	repo   TradeStore
	quotes QuoteSource
	bus    *events.Bus
	log    zerolog.Logger
}

// NewService creates a fund ledger service
func NewService(repo TradeStore, quotes QuoteSource, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		quotes: quotes,
		bus:    bus,
		log:    log.With().Str("service", "funds").Logger(),
	}
}

// Positions rebuilds every fund position from the full trade log.
func (s *Service) Positions() (LedgerResult, error) {
	trades, err := s.repo.GetAll()
	if err != nil {
		return LedgerResult{}, fmt.Errorf("failed to load fund trades: %w", err)
	}
	return FoldTrades(trades, s.quotes.Lookup()), nil
}

// Position rebuilds a single fund's position, nil if it has no trades.
func (s *Service) Position(symbol string) (*Position, error) {
	symbol = domain.NormalizeSymbol(symbol)

	trades, err := s.repo.GetBySymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load fund trades for %s: %w", symbol, err)
	}
	if len(trades) == 0 {
		return nil, nil
	}

	result := FoldTrades(trades, s.quotes.Lookup())
	for i := range result.OpenPositions {
		if result.OpenPositions[i].FundSymbol == symbol {
			return &result.OpenPositions[i], nil
		}
	}
	for i := range result.ClosedPositions {
		if result.ClosedPositions[i].FundSymbol == symbol {
			return &result.ClosedPositions[i], nil
		}
	}
	return nil, nil
}

// Trades returns the raw trade log in fold order.
func (s *Service) Trades() ([]Trade, error) {
	return s.repo.GetAll()
}

// RecordTrade validates and appends a fund trade.
func (s *Service) RecordTrade(trade Trade) (int64, error) {
	trade.FundSymbol = domain.NormalizeSymbol(trade.FundSymbol)
	if err := trade.Validate(); err != nil {
		return 0, err
	}

	id, err := s.repo.Insert(trade)
	if err != nil {
		return 0, err
	}

	s.publishChange(trade.FundSymbol, "recorded", id)
	return id, nil
}

// UpdateTrade replaces an existing fund trade.
func (s *Service) UpdateTrade(trade Trade) error {
	trade.FundSymbol = domain.NormalizeSymbol(trade.FundSymbol)
	if err := trade.Validate(); err != nil {
		return err
	}

	existing, err := s.repo.GetByID(trade.ID)
	if err != nil {
		return fmt.Errorf("failed to load fund trade %d: %w", trade.ID, err)
	}
	if existing == nil {
		return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("fund trade %d not found", trade.ID)}
	}

	if err := s.repo.Update(trade); err != nil {
		return err
	}

	s.publishChange(trade.FundSymbol, "updated", trade.ID)
	return nil
}

// DeleteTrade removes a fund trade.
func (s *Service) DeleteTrade(id int64) error {
	existing, err := s.repo.GetByID(id)
	if err != nil {
		return fmt.Errorf("failed to load fund trade %d: %w", id, err)
	}
	if existing == nil {
		return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("fund trade %d not found", id)}
	}

	if err := s.repo.Delete(id); err != nil {
		return err
	}

	s.publishChange(existing.FundSymbol, "deleted", id)
	return nil
}

func (s *Service) publishChange(symbol, operation string, id int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.FundTradeRecorded, "funds", map[string]interface{}{
		"fund_symbol": symbol,
		"operation":   operation,
		"trade_id":    id,
	})
}
