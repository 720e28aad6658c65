package coveredcalls

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/events"
	"github.com/avramides/folio/internal/modules/options"
	"github.com/avramides/folio/internal/utils"
)

// SourceRefKind tags synthetic stock sells created by assignment.
const SourceRefKind = "covered_call_assignment"

// CallStore is the persistence surface the service needs.
type CallStore interface {
	Insert(call CoveredCall) (int64, error)
	GetAll() ([]CoveredCall, error)
	GetByID(id int64) (*CoveredCall, error)
	GetOpenByUnderlying(underlying string) ([]CoveredCall, error)
	GetOpenExpiringBefore(asOf time.Time) ([]CoveredCall, error)
	Update(call CoveredCall) error
	SplitResolve(remainder, closed CoveredCall) (int64, error)
	Delete(id int64) error
}

// StockLedger is the stock-side capability set: synthetic sells on
// assignment, their reversal on reopen, and the free-share read used to
// verify coverage. Dependency direction stays covered-calls -> stocks.
type StockLedger interface {
	RecordSynthetic(action domain.Action) (int64, error)
	RemoveSynthetic(ref domain.SourceRef) (bool, error)
	FreeShares(symbol string) (float64, error)
}

// CallView is a covered-call row with its derived economics.
type CallView struct {
	CoveredCall
	Economics Economics `json:"economics"`
}

// Service orchestrates covered-call rows. Mutations lock the underlying
// symbol so two resolutions of the same symbol cannot interleave. The keyed
// mutex must NOT be the stock service's instance: settlement calls back into
// the stock ledger, which takes its own symbol lock.
type Service struct {
	repo   CallStore
	stocks StockLedger
	locks  *utils.KeyedMutex
	bus    *events.Bus
	log    zerolog.Logger
	now    func() time.Time
}

// NewService creates a covered-call service
func NewService(repo CallStore, stocks StockLedger, locks *utils.KeyedMutex, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		stocks: stocks,
		locks:  locks,
		bus:    bus,
		log:    log.With().Str("service", "coveredcalls").Logger(),
		now:    time.Now,
	}
}

// List returns every covered-call row with economics attached.
func (s *Service) List() ([]CallView, error) {
	calls, err := s.repo.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load covered calls: %w", err)
	}

	views := make([]CallView, 0, len(calls))
	today := s.now()
	for _, call := range calls {
		views = append(views, CallView{
			CoveredCall: call,
			Economics:   ComputeEconomics(call, today),
		})
	}
	return views, nil
}

// Get returns one row with economics, nil if not found.
func (s *Service) Get(id int64) (*CallView, error) {
	call, err := s.repo.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load covered call %d: %w", id, err)
	}
	if call == nil {
		return nil, nil
	}
	return &CallView{CoveredCall: *call, Economics: ComputeEconomics(*call, s.now())}, nil
}

// Open writes a new covered call after verifying the underlying has enough
// unreserved shares to back it.
func (s *Service) Open(call CoveredCall) (int64, error) {
	call.UnderlyingSymbol = domain.NormalizeSymbol(call.UnderlyingSymbol)
	call.OptionSymbol = domain.NormalizeSymbol(call.OptionSymbol)
	if call.SharesPerContract == 0 {
		call.SharesPerContract = options.DefaultSharesPerContract
	}
	call.Status = StatusOpen
	if err := call.Validate(); err != nil {
		return 0, err
	}

	defer s.locks.Lock(call.UnderlyingSymbol)()

	free, err := s.stocks.FreeShares(call.UnderlyingSymbol)
	if err != nil {
		return 0, fmt.Errorf("failed to check free shares: %w", err)
	}
	if free < call.Shares()-domain.Epsilon {
		return 0, &domain.InvariantViolation{
			Rule: "insufficient_free_shares",
			Detail: fmt.Sprintf("covered call needs %.0f shares of %s but only %.3f are unreserved",
				call.Shares(), call.UnderlyingSymbol, free),
		}
	}

	id, err := s.repo.Insert(call)
	if err != nil {
		return 0, err
	}

	s.publishChange(call.UnderlyingSymbol, "opened", id)
	return id, nil
}

// ResolveCall transitions an open row to CLOSED, EXPIRED or ASSIGNED.
//
// On a partial close the original row keeps its id and stays open with the
// remaining contracts; the closed portion becomes a new row. An assignment
// additionally settles a synthetic stock sell; if that write fails the
// status change is rolled back so the two ledgers never diverge.
func (s *Service) ResolveCall(id int64, outcome Outcome) (*CallView, error) {
	call, err := s.repo.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load covered call %d: %w", id, err)
	}
	if call == nil {
		return nil, &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("covered call %d not found", id)}
	}

	defer s.locks.Lock(call.UnderlyingSymbol)()

	resolution, err := Resolve(*call, outcome)
	if err != nil {
		return nil, err
	}

	closedID := call.ID
	if resolution.RemainderRow != nil {
		// Partial: shrink the original in place, persist the closed portion
		// as a fresh row. The pair commits atomically.
		remainder := *resolution.RemainderRow
		remainder.ID = call.ID

		closedRow := resolution.ClosedRow
		closedRow.ID = 0
		closedID, err = s.repo.SplitResolve(remainder, closedRow)
		if err != nil {
			return nil, err
		}
	} else {
		if err := s.repo.Update(resolution.ClosedRow); err != nil {
			return nil, err
		}
	}

	if resolution.SyntheticAction != nil {
		// The resolved row no longer reserves shares, so the guard will
		// accept the sell.
		action := *resolution.SyntheticAction
		action.SourceRef = domain.SourceRef{Kind: SourceRefKind, ID: strconv.FormatInt(closedID, 10)}

		if _, err := s.stocks.RecordSynthetic(action); err != nil {
			if rollbackErr := s.rollbackResolution(*call, closedID, resolution.RemainderRow != nil); rollbackErr != nil {
				return nil, &domain.CompensationFailure{
					Ref: action.SourceRef,
					Op:  "rollback covered call assignment",
					Err: rollbackErr,
				}
			}
			return nil, fmt.Errorf("failed to settle assignment into stock ledger: %w", err)
		}
	}

	s.log.Info().
		Int64("id", closedID).
		Str("status", string(outcome.Status)).
		Float64("realized_pl", resolution.RealizedPL).
		Msg("Covered call resolved")

	s.publishChange(call.UnderlyingSymbol, "resolved", closedID)

	resolved, err := s.repo.GetByID(closedID)
	if err != nil || resolved == nil {
		return nil, fmt.Errorf("failed to reload resolved covered call: %w", err)
	}
	return &CallView{CoveredCall: *resolved, Economics: ComputeEconomics(*resolved, s.now())}, nil
}

// rollbackResolution undoes the row writes of a resolution whose settlement
// failed: the original row is restored and a partial-close insert removed.
func (s *Service) rollbackResolution(original CoveredCall, closedID int64, partial bool) error {
	if partial {
		if err := s.repo.Delete(closedID); err != nil {
			return err
		}
	}
	return s.repo.Update(original)
}

// Reopen reverts a resolved row to OPEN. An assigned row's synthetic stock
// sell must be found and deleted first - if it cannot be, the reopen aborts
// with no partial state.
func (s *Service) Reopen(id int64) (*CallView, error) {
	call, err := s.repo.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load covered call %d: %w", id, err)
	}
	if call == nil {
		return nil, &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("covered call %d not found", id)}
	}

	defer s.locks.Lock(call.UnderlyingSymbol)()

	reopened, err := Reopened(*call)
	if err != nil {
		return nil, err
	}

	wasAssigned := call.Status == StatusAssigned
	ref := domain.SourceRef{Kind: SourceRefKind, ID: strconv.FormatInt(id, 10)}

	if wasAssigned {
		found, err := s.stocks.RemoveSynthetic(ref)
		if err != nil {
			return nil, &domain.CompensationFailure{Ref: ref, Op: "reverse assignment on reopen", Err: err}
		}
		if !found {
			return nil, &domain.CompensationFailure{
				Ref: ref,
				Op:  "reverse assignment on reopen",
				Err: fmt.Errorf("synthetic stock sell not found"),
			}
		}
	} else {
		// A CLOSED/EXPIRED reopen re-reserves shares without restoring any,
		// so the backing must still be there.
		free, err := s.stocks.FreeShares(call.UnderlyingSymbol)
		if err != nil {
			return nil, fmt.Errorf("failed to check free shares: %w", err)
		}
		if free < call.Shares()-domain.Epsilon {
			return nil, &domain.InvariantViolation{
				Rule: "insufficient_free_shares",
				Detail: fmt.Sprintf("reopening needs %.0f unreserved shares of %s but only %.3f are free",
					call.Shares(), call.UnderlyingSymbol, free),
			}
		}
	}

	if err := s.repo.Update(reopened); err != nil {
		if wasAssigned {
			// The synthetic sell is already gone; failing here would leave
			// the ledgers diverged.
			return nil, &domain.CompensationFailure{Ref: ref, Op: "reopen covered call", Err: err}
		}
		return nil, err
	}

	s.publishChange(call.UnderlyingSymbol, "reopened", id)

	return &CallView{CoveredCall: reopened, Economics: ComputeEconomics(reopened, s.now())}, nil
}

// Delete removes a covered-call row. Assigned rows are reopened implicitly:
// the synthetic sell is reversed before the row goes away.
func (s *Service) Delete(id int64) error {
	call, err := s.repo.GetByID(id)
	if err != nil {
		return fmt.Errorf("failed to load covered call %d: %w", id, err)
	}
	if call == nil {
		return &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("covered call %d not found", id)}
	}

	defer s.locks.Lock(call.UnderlyingSymbol)()

	if call.Status == StatusAssigned {
		ref := domain.SourceRef{Kind: SourceRefKind, ID: strconv.FormatInt(id, 10)}
		found, err := s.stocks.RemoveSynthetic(ref)
		if err != nil {
			return &domain.CompensationFailure{Ref: ref, Op: "reverse assignment on delete", Err: err}
		}
		if !found {
			return &domain.CompensationFailure{
				Ref: ref,
				Op:  "reverse assignment on delete",
				Err: fmt.Errorf("synthetic stock sell not found"),
			}
		}
	}

	if err := s.repo.Delete(id); err != nil {
		return err
	}

	s.publishChange(call.UnderlyingSymbol, "deleted", id)
	return nil
}

// SweepExpired resolves every open row whose expiration has passed as
// EXPIRED, dated at its expiration. Returns the number of rows resolved.
func (s *Service) SweepExpired() (int, error) {
	expired, err := s.repo.GetOpenExpiringBefore(s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to find expired covered calls: %w", err)
	}

	swept := 0
	for _, call := range expired {
		_, err := s.ResolveCall(call.ID, Outcome{
			Status:      StatusExpired,
			ClosingDate: call.ExpirationDate,
		})
		if err != nil {
			s.log.Error().Err(err).Int64("id", call.ID).Msg("Failed to expire covered call")
			continue
		}
		swept++
	}

	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("Expired covered calls swept")
	}
	return swept, nil
}

func (s *Service) publishChange(symbol, operation string, id int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.CoveredCallChanged, "coveredcalls", map[string]interface{}{
		"underlying_symbol": symbol,
		"operation":         operation,
		"call_id":           id,
	})
}
