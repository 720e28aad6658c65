package options

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/events"
)

// SourceRefKind tags synthetic stock actions created by option settlement.
const SourceRefKind = "option_exercise"

// TradeStore is the persistence surface the service needs.
type TradeStore interface {
	Insert(trade Trade) (int64, error)
	GetAll() ([]Trade, error)
	GetByOptionSymbol(optionSymbol string) ([]Trade, error)
	GetByUnderlying(underlying string) ([]Trade, error)
	GetByID(id int64) (*Trade, error)
	Delete(id int64) error
	UpdateStatus(id int64, status TradeStatus) error
	ExpireOpenPastExpiration(asOf time.Time) ([]int64, error)
}

// StockLedger is the capability the option service uses to settle exercises
// into the stock ledger. Defined here so options depends on an interface,
// not on the stocks package.
type StockLedger interface {
	RecordSynthetic(action domain.Action) (int64, error)
	RemoveSynthetic(ref domain.SourceRef) (bool, error)
}

// QuoteSource supplies option quotes for valuation.
type QuoteSource interface {
	Lookup() domain.PriceLookup
}

// Service orchestrates option trades: netting, exercise settlement into the
// stock ledger, and the compensating reversal when a settled trade is
// deleted.
type Service struct {
	repo   TradeStore
	stocks StockLedger
	quotes QuoteSource
	bus    *events.Bus
	log    zerolog.Logger
	now    func() time.Time
}

// NewService creates an option trade service
func NewService(repo TradeStore, stocks StockLedger, quotes QuoteSource, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		stocks: stocks,
		quotes: quotes,
		bus:    bus,
		log:    log.With().Str("service", "options").Logger(),
		now:    time.Now,
	}
}

// Positions nets every option trade into per-symbol positions.
func (s *Service) Positions() (NetResult, error) {
	trades, err := s.repo.GetAll()
	if err != nil {
		return NetResult{}, fmt.Errorf("failed to load option trades: %w", err)
	}
	return NetPositions(trades, s.quotes.Lookup(), s.now()), nil
}

// Position nets a single contract's trades, nil if it has none.
func (s *Service) Position(optionSymbol string) (*Position, error) {
	trades, err := s.repo.GetByOptionSymbol(optionSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load option trades for %s: %w", optionSymbol, err)
	}
	if len(trades) == 0 {
		return nil, nil
	}

	result := NetPositions(trades, s.quotes.Lookup(), s.now())
	if len(result.OpenPositions) > 0 {
		return &result.OpenPositions[0], nil
	}
	if len(result.HistoryPositions) > 0 {
		return &result.HistoryPositions[0], nil
	}
	return nil, nil
}

// Trades returns the raw option trade log in netting order.
func (s *Service) Trades() ([]Trade, error) {
	return s.repo.GetAll()
}

// TradesByUnderlying returns every trade whose option is written on a symbol.
func (s *Service) TradesByUnderlying(underlying string) ([]Trade, error) {
	return s.repo.GetByUnderlying(domain.NormalizeSymbol(underlying))
}

// RecordTrade validates and appends an option trade. A closing trade carrying
// EXERCISED status settles into the stock ledger: the synthetic stock action
// is inserted after the trade row, and if that insert fails the trade row is
// rolled back so the two logs never diverge.
func (s *Service) RecordTrade(trade Trade) (int64, error) {
	trade.OptionSymbol = domain.NormalizeSymbol(trade.OptionSymbol)
	trade.UnderlyingSymbol = domain.NormalizeSymbol(trade.UnderlyingSymbol)
	if trade.SharesPerContract == 0 {
		trade.SharesPerContract = DefaultSharesPerContract
	}
	if err := trade.Validate(); err != nil {
		return 0, err
	}

	existing, err := s.repo.GetByOptionSymbol(trade.OptionSymbol)
	if err != nil {
		return 0, fmt.Errorf("failed to load existing trades: %w", err)
	}
	net := NetPositions(existing, nil, s.now())

	positionType := ""
	openContracts := 0
	if len(net.OpenPositions) > 0 {
		positionType = net.OpenPositions[0].PositionType
		openContracts = abs(net.OpenPositions[0].NetContracts)
	}

	if trade.isOpening() && openContracts > 0 {
		sameSide := (positionType == "long" && trade.TradeType == BuyToOpen) ||
			(positionType == "short" && trade.TradeType == SellToOpen)
		if !sameSide {
			return 0, &domain.InvariantViolation{
				Rule: "option_open_direction_conflict",
				Detail: fmt.Sprintf("%s has an open %s position; close it before opening the opposite side",
					trade.OptionSymbol, positionType),
			}
		}
	}

	if !trade.isOpening() {
		if openContracts == 0 {
			return 0, &domain.InvariantViolation{
				Rule:   "option_close_without_open",
				Detail: fmt.Sprintf("no open contracts on %s to close", trade.OptionSymbol),
			}
		}
		if trade.ContractsCount > openContracts {
			return 0, &domain.InvariantViolation{
				Rule:   "option_close_exceeds_open",
				Detail: fmt.Sprintf("closing %d contracts but only %d are open", trade.ContractsCount, openContracts),
			}
		}
	}

	id, err := s.repo.Insert(trade)
	if err != nil {
		return 0, err
	}

	if trade.Status == StatusExercised {
		if err := s.settleExercise(positionType, trade, id); err != nil {
			return 0, err
		}
	}

	s.publishChange(trade.OptionSymbol, "recorded", id)
	return id, nil
}

// settleExercise inserts the synthetic stock action for an exercised trade,
// rolling the trade row back if the settlement cannot be written.
func (s *Service) settleExercise(positionType string, trade Trade, tradeID int64) error {
	ref := domain.SourceRef{Kind: SourceRefKind, ID: strconv.FormatInt(tradeID, 10)}

	action := SyntheticExerciseAction(positionType, trade)
	action.SourceRef = ref

	if _, err := s.stocks.RecordSynthetic(action); err != nil {
		if deleteErr := s.repo.Delete(tradeID); deleteErr != nil {
			return &domain.CompensationFailure{
				Ref: ref,
				Op:  "rollback exercised option trade",
				Err: deleteErr,
			}
		}
		return fmt.Errorf("failed to settle exercise into stock ledger: %w", err)
	}

	s.log.Info().
		Int64("trade_id", tradeID).
		Str("underlying", trade.UnderlyingSymbol).
		Msg("Exercise settled into stock ledger")

	return nil
}

// DeleteTrade removes an option trade. Deleting an exercised trade must also
// reverse its synthetic stock action; if the action cannot be found the
// ledgers have diverged and the delete is aborted.
func (s *Service) DeleteTrade(id int64) error {
	trade, err := s.repo.GetByID(id)
	if err != nil {
		return fmt.Errorf("failed to load option trade %d: %w", id, err)
	}
	if trade == nil {
		return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("option trade %d not found", id)}
	}

	if trade.Status == StatusExercised {
		ref := domain.SourceRef{Kind: SourceRefKind, ID: strconv.FormatInt(id, 10)}
		found, err := s.stocks.RemoveSynthetic(ref)
		if err != nil {
			return &domain.CompensationFailure{Ref: ref, Op: "reverse exercise settlement", Err: err}
		}
		if !found {
			return &domain.CompensationFailure{
				Ref: ref,
				Op:  "reverse exercise settlement",
				Err: fmt.Errorf("synthetic stock action not found"),
			}
		}
	}

	if err := s.repo.Delete(id); err != nil {
		return err
	}

	s.publishChange(trade.OptionSymbol, "deleted", id)
	return nil
}

// SweepExpired marks open rows past their expiration as EXPIRED.
// Returns the number of trades swept.
func (s *Service) SweepExpired() (int, error) {
	ids, err := s.repo.ExpireOpenPastExpiration(s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired options: %w", err)
	}

	if len(ids) > 0 {
		s.log.Info().Int("count", len(ids)).Msg("Expired option trades swept")
		s.publishChange("", "expired", int64(len(ids)))
	}
	return len(ids), nil
}

func (s *Service) publishChange(symbol, operation string, id int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.OptionTradeRecorded, "options", map[string]interface{}{
		"option_symbol": symbol,
		"operation":     operation,
		"trade_id":      id,
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
