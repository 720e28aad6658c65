package stocks

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/events"
	"github.com/avramides/folio/internal/modules/sharelock"
	"github.com/avramides/folio/internal/utils"
)

// ActionStore is the persistence surface the service needs.
type ActionStore interface {
	Insert(action domain.Action) (int64, error)
	GetAll() ([]domain.Action, error)
	GetBySymbol(symbol string) ([]domain.Action, error)
	GetByID(id int64) (*domain.Action, error)
	GetBySourceRef(ref domain.SourceRef) (*domain.Action, error)
	Update(action domain.Action) error
	Delete(id int64) error
	Symbols() ([]string, error)
}

// ReservationSource reports the open covered-call obligations on a symbol.
// Implemented by the covered-call repository; defined here so the stock
// module never imports the covered-call module.
type ReservationSource interface {
	OpenReservations(symbol string) ([]sharelock.Reservation, error)
}

// QuoteSource supplies the price snapshot used to value positions.
type QuoteSource interface {
	Lookup() domain.PriceLookup
}

// Service orchestrates the stock action log: validation, the share-lock
// guard, persistence and change events. All mutations for a symbol are
// serialized through a keyed mutex so the guard check and the write cannot
// interleave with a concurrent mutation of the same symbol.
type Service struct {
	repo         ActionStore
	reservations ReservationSource
	quotes       QuoteSource
	locks        *utils.KeyedMutex
	bus          *events.Bus
	log          zerolog.Logger
	now          func() time.Time
}

// NewService creates a stock ledger service
func NewService(
	repo ActionStore,
	reservations ReservationSource,
	quotes QuoteSource,
	locks *utils.KeyedMutex,
	bus *events.Bus,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		reservations: reservations,
		quotes:       quotes,
		locks:        locks,
		bus:          bus,
		log:          log.With().Str("service", "stocks").Logger(),
		now:          time.Now,
	}
}

// Positions rebuilds every stock position from the full action log.
func (s *Service) Positions() (LedgerResult, error) {
	actions, err := s.repo.GetAll()
	if err != nil {
		return LedgerResult{}, fmt.Errorf("failed to load actions: %w", err)
	}
	return FoldActions(actions, s.quotes.Lookup(), s.now()), nil
}

// Position rebuilds a single symbol's position, nil if the symbol has no
// actions at all.
func (s *Service) Position(symbol string) (*Position, error) {
	symbol = domain.NormalizeSymbol(symbol)

	actions, err := s.repo.GetBySymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load actions for %s: %w", symbol, err)
	}
	if len(actions) == 0 {
		return nil, nil
	}

	result := FoldActions(actions, s.quotes.Lookup(), s.now())
	for i := range result.OpenPositions {
		if result.OpenPositions[i].Symbol == symbol {
			return &result.OpenPositions[i], nil
		}
	}
	for i := range result.ClosedPositions {
		if result.ClosedPositions[i].Symbol == symbol {
			return &result.ClosedPositions[i], nil
		}
	}
	return nil, nil
}

// Actions returns the raw action log in fold order.
func (s *Service) Actions() ([]domain.Action, error) {
	return s.repo.GetAll()
}

// ActionsBySymbol returns one symbol's actions in fold order.
func (s *Service) ActionsBySymbol(symbol string) ([]domain.Action, error) {
	return s.repo.GetBySymbol(domain.NormalizeSymbol(symbol))
}

// RecordAction validates and appends a user-entered action.
// Actions carrying a source reference are reserved for the option and
// covered-call services; user input must not set one.
func (s *Service) RecordAction(action domain.Action) (int64, error) {
	if !action.SourceRef.IsZero() {
		return 0, &domain.ValidationError{
			Field:  "source_ref",
			Reason: "source references are assigned by the linked trade, not by hand",
		}
	}
	return s.record(action)
}

// RecordSynthetic appends an action generated by another module (option
// exercise, covered-call assignment). The source reference must be set so
// the action can be located and reversed if the originating trade reopens.
// Callers must resolve the originating obligation before calling, otherwise
// its own reservation blocks the synthetic sell.
func (s *Service) RecordSynthetic(action domain.Action) (int64, error) {
	if action.SourceRef.IsZero() {
		return 0, &domain.ValidationError{
			Field:  "source_ref",
			Reason: "synthetic actions require a source reference",
		}
	}

	existing, err := s.repo.GetBySourceRef(action.SourceRef)
	if err != nil {
		return 0, fmt.Errorf("failed to check for existing synthetic action: %w", err)
	}
	if existing != nil {
		return 0, &domain.InvariantViolation{
			Rule:   "synthetic_uniqueness",
			Detail: fmt.Sprintf("an action for %s/%s already exists", action.SourceRef.Kind, action.SourceRef.ID),
		}
	}

	return s.record(action)
}

func (s *Service) record(action domain.Action) (int64, error) {
	action.Symbol = domain.NormalizeSymbol(action.Symbol)
	if err := action.Validate(); err != nil {
		return 0, err
	}

	defer s.locks.Lock(action.Symbol)()

	delta, err := s.quantityDelta(action)
	if err != nil {
		return 0, err
	}
	if err := s.checkGuard(action.Symbol, delta); err != nil {
		return 0, err
	}

	id, err := s.repo.Insert(action)
	if err != nil {
		return 0, err
	}

	s.publishChange(action.Symbol, "recorded", id)
	return id, nil
}

// UpdateAction replaces an existing user-entered action.
func (s *Service) UpdateAction(action domain.Action) error {
	existing, err := s.repo.GetByID(action.ID)
	if err != nil {
		return fmt.Errorf("failed to load action %d: %w", action.ID, err)
	}
	if existing == nil {
		return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("action %d not found", action.ID)}
	}
	if !existing.SourceRef.IsZero() {
		return &domain.InvariantViolation{
			Rule:   "synthetic_immutability",
			Detail: "this action is managed by its originating trade and cannot be edited directly",
		}
	}

	action.Symbol = domain.NormalizeSymbol(action.Symbol)
	if err := action.Validate(); err != nil {
		return err
	}

	defer s.locks.Lock(existing.Symbol)()
	if action.Symbol != existing.Symbol {
		defer s.locks.Lock(action.Symbol)()
	}

	if action.Symbol == existing.Symbol {
		// Check the final projected state with the old row excluded - the
		// intermediate "row removed" state never becomes visible.
		newDelta, err := s.quantityDelta(action)
		if err != nil {
			return err
		}
		if err := s.checkGuardExcluding(action.Symbol, newDelta, existing.ID); err != nil {
			return err
		}
	} else {
		// Moving the action to another symbol removes its contribution from
		// the old one, which must not break the old symbol's backing.
		oldDelta, err := s.quantityDelta(*existing)
		if err != nil {
			return err
		}
		if err := s.checkGuardExcluding(existing.Symbol, -oldDelta, existing.ID); err != nil {
			return err
		}

		// The destination gains the contribution, so its projection needs
		// the same check - a moved sell must not oversell the new symbol.
		newDelta, err := s.quantityDelta(action)
		if err != nil {
			return err
		}
		if err := s.checkGuard(action.Symbol, newDelta); err != nil {
			return err
		}
	}

	if err := s.repo.Update(action); err != nil {
		return err
	}

	s.publishChange(action.Symbol, "updated", action.ID)
	return nil
}

// DeleteAction removes a user-entered action after re-checking the guard:
// deleting a buy can strand an open covered call just like a sell can.
func (s *Service) DeleteAction(id int64) error {
	existing, err := s.repo.GetByID(id)
	if err != nil {
		return fmt.Errorf("failed to load action %d: %w", id, err)
	}
	if existing == nil {
		return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("action %d not found", id)}
	}
	if !existing.SourceRef.IsZero() {
		return &domain.InvariantViolation{
			Rule:   "synthetic_immutability",
			Detail: "this action is managed by its originating trade and cannot be deleted directly",
		}
	}

	defer s.locks.Lock(existing.Symbol)()

	delta, err := s.quantityDelta(*existing)
	if err != nil {
		return err
	}
	if err := s.checkGuardExcluding(existing.Symbol, -delta, id); err != nil {
		return err
	}

	if err := s.repo.Delete(id); err != nil {
		return err
	}

	s.publishChange(existing.Symbol, "deleted", id)
	return nil
}

// RemoveSynthetic deletes the synthetic action linked to the given source
// reference. Returns false if no such action exists - the caller decides
// whether that is a compensation failure.
func (s *Service) RemoveSynthetic(ref domain.SourceRef) (bool, error) {
	existing, err := s.repo.GetBySourceRef(ref)
	if err != nil {
		return false, fmt.Errorf("failed to look up synthetic action: %w", err)
	}
	if existing == nil {
		return false, nil
	}

	defer s.locks.Lock(existing.Symbol)()

	if err := s.repo.Delete(existing.ID); err != nil {
		return false, err
	}

	s.publishChange(existing.Symbol, "deleted", existing.ID)
	return true, nil
}

// FreeShares reports how many of a symbol's shares are not reserved by open
// covered calls. Exposed to the covered-call service as a capability so the
// dependency direction stays covered-calls -> stocks.
func (s *Service) FreeShares(symbol string) (float64, error) {
	symbol = domain.NormalizeSymbol(symbol)

	remaining, err := s.remainingQty(symbol, 0)
	if err != nil {
		return 0, err
	}
	reservations, err := s.reservations.OpenReservations(symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to load reservations for %s: %w", symbol, err)
	}

	return remaining - sharelock.Reserved(reservations), nil
}

// GuardStatus exposes the raw guard verdict for a hypothetical delta,
// used by the UI to explain why a sell would be rejected.
func (s *Service) GuardStatus(symbol string, delta float64) (sharelock.Result, error) {
	symbol = domain.NormalizeSymbol(symbol)

	remaining, err := s.remainingQty(symbol, 0)
	if err != nil {
		return sharelock.Result{}, err
	}
	reservations, err := s.reservations.OpenReservations(symbol)
	if err != nil {
		return sharelock.Result{}, fmt.Errorf("failed to load reservations for %s: %w", symbol, err)
	}

	return sharelock.Check(symbol, remaining, delta, reservations), nil
}

func (s *Service) checkGuard(symbol string, delta float64) error {
	return s.checkGuardExcluding(symbol, delta, 0)
}

// checkGuardExcluding runs the share-lock check for a proposed delta,
// optionally pretending one existing action is absent (updates and deletes).
// The verdict compares the final projection against the current holding, so
// shrinking a buy is caught even though its own delta is positive.
func (s *Service) checkGuardExcluding(symbol string, delta float64, excludeID int64) error {
	remaining, err := s.remainingQty(symbol, 0)
	if err != nil {
		return err
	}

	projected := remaining + delta
	if excludeID != 0 {
		base, err := s.remainingQty(symbol, excludeID)
		if err != nil {
			return err
		}
		projected = base + delta
	}

	effective := projected - remaining
	if effective >= 0 {
		return nil
	}

	reservations, err := s.reservations.OpenReservations(symbol)
	if err != nil {
		return fmt.Errorf("failed to load reservations for %s: %w", symbol, err)
	}

	verdict := sharelock.Check(symbol, remaining, effective, reservations)
	if !verdict.Allowed {
		return &domain.InvariantViolation{Rule: "share_lock", Detail: verdict.Reason}
	}
	return nil
}

// remainingQty folds the symbol's actions (minus excludeID, if set) with a
// zero price lookup - only the quantity accumulator matters here.
func (s *Service) remainingQty(symbol string, excludeID int64) (float64, error) {
	actions, err := s.repo.GetBySymbol(symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to load actions for %s: %w", symbol, err)
	}

	if excludeID != 0 {
		filtered := actions[:0]
		for _, a := range actions {
			if a.ID != excludeID {
				filtered = append(filtered, a)
			}
		}
		actions = filtered
	}

	noPrices := func(string) domain.Quote { return domain.Quote{} }
	result := FoldActions(actions, noPrices, s.now())
	for _, p := range result.OpenPositions {
		if p.Symbol == symbol {
			return p.RemainingQty, nil
		}
	}
	return 0, nil
}

// quantityDelta is the signed share-count change the action applies. The
// revaluation delta depends on the current holding, so it folds first.
func (s *Service) quantityDelta(action domain.Action) (float64, error) {
	switch action.Type {
	case domain.ActionBuy, domain.ActionRightsExercise, domain.ActionBonus:
		return action.Quantity, nil
	case domain.ActionSell:
		return -action.Quantity, nil
	case domain.ActionPremium:
		if action.PremiumType == domain.PremiumBonusShares {
			return action.Quantity, nil
		}
		return 0, nil
	case domain.ActionRevaluation:
		remaining, err := s.remainingQty(action.Symbol, 0)
		if err != nil {
			return 0, err
		}
		newQty := revaluedQty(remaining, action.RevaluationPct)
		return newQty - remaining, nil
	default:
		return 0, nil
	}
}

func (s *Service) publishChange(symbol, operation string, id int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.LedgerChanged, "stocks", map[string]interface{}{
		"symbol":    symbol,
		"operation": operation,
		"action_id": id,
	})
}
