// Package coveredcalls tracks written calls against held shares.
//
// A covered call reserves contracts_count * shares_per_contract shares of the
// underlying while OPEN. Resolution is a pure computation producing a
// description of the rows to persist plus, for assignments, the synthetic
// stock sell the assignment implies - the service layer does the writing.
package coveredcalls

import (
	"fmt"
	"math"
	"time"

	"github.com/avramides/folio/internal/domain"
)

// Status is the lifecycle state of a covered-call row.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusClosed   Status = "CLOSED"
	StatusExpired  Status = "EXPIRED"
	StatusAssigned Status = "ASSIGNED"
)

// CoveredCall is one written-call row. Premium is per share.
type CoveredCall struct {
	ID                  int64     `json:"id"`
	UnderlyingSymbol    string    `json:"underlying_symbol"`
	OptionSymbol        string    `json:"option_symbol"`
	TradeDate           time.Time `json:"trade_date"`
	ExpirationDate      time.Time `json:"expiration_date"`
	StrikePrice         float64   `json:"strike_price"`
	ContractsCount      int       `json:"contracts_count"`
	SharesPerContract   int       `json:"shares_per_contract"`
	PremiumPerShare     float64   `json:"premium_per_share"`
	Commission          float64   `json:"commission,omitempty"`
	UnderlyingCostBasis float64   `json:"underlying_cost_basis"`
	Status              Status    `json:"status"`

	ClosingDate          *time.Time `json:"closing_date,omitempty"`
	ClosingPricePerShare *float64   `json:"closing_price_per_share,omitempty"`
	ClosingCommission    *float64   `json:"closing_commission,omitempty"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Shares is the number of underlying shares the row obligates.
func (c CoveredCall) Shares() float64 {
	return float64(c.ContractsCount * c.SharesPerContract)
}

// Validate checks the fields required to open the position.
func (c CoveredCall) Validate() error {
	if domain.NormalizeSymbol(c.UnderlyingSymbol) == "" {
		return &domain.ValidationError{Field: "underlying_symbol", Reason: "must not be empty"}
	}
	if domain.NormalizeSymbol(c.OptionSymbol) == "" {
		return &domain.ValidationError{Field: "option_symbol", Reason: "must not be empty"}
	}
	if c.ContractsCount <= 0 {
		return &domain.ValidationError{Field: "contracts_count", Reason: "must be positive"}
	}
	if c.SharesPerContract <= 0 {
		return &domain.ValidationError{Field: "shares_per_contract", Reason: "must be positive"}
	}
	if c.StrikePrice <= 0 {
		return &domain.ValidationError{Field: "strike_price", Reason: "must be positive"}
	}
	if c.PremiumPerShare < 0 {
		return &domain.ValidationError{Field: "premium_per_share", Reason: "must not be negative"}
	}
	if c.UnderlyingCostBasis < 0 {
		return &domain.ValidationError{Field: "underlying_cost_basis", Reason: "must not be negative"}
	}
	if c.TradeDate.IsZero() || c.ExpirationDate.IsZero() {
		return &domain.ValidationError{Field: "trade_date", Reason: "trade and expiration dates must be set"}
	}
	return nil
}

// Economics is the income math of a covered call at write time.
type Economics struct {
	Shares                  float64 `json:"shares"`
	NetPremium              float64 `json:"net_premium"`
	CapitalInvolved         float64 `json:"capital_involved"`
	BreakEvenPrice          float64 `json:"break_even_price"`
	MaxProfit               float64 `json:"max_profit"`
	ReturnIfAssignedPercent float64 `json:"return_if_assigned_percent"`
	AnnualizedReturnPercent float64 `json:"annualized_return_percent"`
	DurationDays            int     `json:"duration_days"`
	DaysToExpiration        int     `json:"days_to_expiration"`
}

// ComputeEconomics derives the income metrics for one row.
func ComputeEconomics(call CoveredCall, today time.Time) Economics {
	shares := call.Shares()
	netPremium := call.PremiumPerShare*shares - call.Commission
	capital := call.UnderlyingCostBasis * shares

	econ := Economics{
		Shares:           shares,
		NetPremium:       round(netPremium, 2),
		CapitalInvolved:  round(capital, 2),
		MaxProfit:        round((call.StrikePrice-call.UnderlyingCostBasis)*shares+netPremium, 2),
		DurationDays:     durationDays(call.TradeDate, call.ExpirationDate),
		DaysToExpiration: int(math.Ceil(call.ExpirationDate.Sub(today).Hours() / 24)),
	}

	if shares > 0 {
		econ.BreakEvenPrice = round(call.UnderlyingCostBasis-netPremium/shares, 4)
	}
	if capital > 0 {
		econ.ReturnIfAssignedPercent = round(econ.MaxProfit/capital*100, 4)
	}
	if econ.DurationDays > 0 {
		econ.AnnualizedReturnPercent = round(econ.ReturnIfAssignedPercent/float64(econ.DurationDays)*365, 4)
	}

	return econ
}

func durationDays(from, to time.Time) int {
	days := int(math.Round(to.Sub(from).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// Outcome describes how an open covered call resolves.
type Outcome struct {
	Status Status `json:"status"` // CLOSED, EXPIRED or ASSIGNED

	// ContractsToClose of 0 resolves the whole row; anything smaller splits it.
	ContractsToClose int `json:"contracts_to_close,omitempty"`

	ClosingDate          time.Time `json:"closing_date"`
	ClosingPricePerShare float64   `json:"closing_price_per_share,omitempty"`
	ClosingCommission    float64   `json:"closing_commission,omitempty"`
}

// Resolution is the persistence plan a resolve produces. ClosedRow is always
// set; RemainderRow is set only on a partial close (the still-open rest).
// SyntheticAction is set for assignments - the stock sell the assignment
// forces, without a source reference (the service stamps it after it knows
// the persisted row id).
type Resolution struct {
	ClosedRow       CoveredCall
	RemainderRow    *CoveredCall
	SyntheticAction *domain.Action
	RealizedPL      float64
}

// Resolve computes the rows and side effects of resolving an open row.
//
// Pure: nothing is persisted here. Commission is apportioned pro-rata on a
// partial close so the parts sum to the whole.
func Resolve(call CoveredCall, outcome Outcome) (Resolution, error) {
	if call.Status != StatusOpen {
		return Resolution{}, &domain.InvariantViolation{
			Rule:   "resolve_not_open",
			Detail: fmt.Sprintf("covered call %d is %s, only OPEN rows can be resolved", call.ID, call.Status),
		}
	}
	switch outcome.Status {
	case StatusClosed, StatusExpired, StatusAssigned:
	default:
		return Resolution{}, &domain.ValidationError{
			Field:  "status",
			Reason: "resolution status must be CLOSED, EXPIRED or ASSIGNED",
		}
	}
	if outcome.ClosingDate.IsZero() {
		return Resolution{}, &domain.ValidationError{Field: "closing_date", Reason: "must be set"}
	}

	contractsToClose := outcome.ContractsToClose
	if contractsToClose == 0 {
		contractsToClose = call.ContractsCount
	}
	if contractsToClose < 0 || contractsToClose > call.ContractsCount {
		return Resolution{}, &domain.InvariantViolation{
			Rule: "partial_close_exceeds_open",
			Detail: fmt.Sprintf("closing %d contracts but only %d are open",
				contractsToClose, call.ContractsCount),
		}
	}

	fraction := float64(contractsToClose) / float64(call.ContractsCount)
	closedShares := float64(contractsToClose * call.SharesPerContract)
	netPremium := call.PremiumPerShare*closedShares - call.Commission*fraction

	closed := call
	closed.ContractsCount = contractsToClose
	closed.Commission = call.Commission * fraction
	closed.Status = outcome.Status
	closingDate := outcome.ClosingDate
	closed.ClosingDate = &closingDate

	var realized float64
	switch outcome.Status {
	case StatusExpired:
		realized = netPremium

	case StatusAssigned:
		realized = netPremium + (call.StrikePrice-call.UnderlyingCostBasis)*closedShares

	case StatusClosed:
		closingPrice := outcome.ClosingPricePerShare
		closingCommission := outcome.ClosingCommission
		closed.ClosingPricePerShare = &closingPrice
		closed.ClosingCommission = &closingCommission
		realized = netPremium - (closingPrice*closedShares + closingCommission)
	}

	resolution := Resolution{
		ClosedRow:  closed,
		RealizedPL: round(realized, 2),
	}

	if contractsToClose < call.ContractsCount {
		remainder := call
		remainder.ContractsCount = call.ContractsCount - contractsToClose
		remainder.Commission = call.Commission * (1 - fraction)
		resolution.RemainderRow = &remainder
	}

	if outcome.Status == StatusAssigned {
		resolution.SyntheticAction = &domain.Action{
			Symbol:   domain.NormalizeSymbol(call.UnderlyingSymbol),
			Type:     domain.ActionSell,
			Date:     outcome.ClosingDate,
			Quantity: closedShares,
			Price:    call.StrikePrice,
			Notes:    "Assignment of " + domain.NormalizeSymbol(call.OptionSymbol),
		}
	}

	return resolution, nil
}

// Reopened returns the row restored to OPEN with closing fields cleared.
func Reopened(call CoveredCall) (CoveredCall, error) {
	if call.Status == StatusOpen {
		return CoveredCall{}, &domain.InvariantViolation{
			Rule:   "reopen_already_open",
			Detail: fmt.Sprintf("covered call %d is already OPEN", call.ID),
		}
	}

	call.Status = StatusOpen
	call.ClosingDate = nil
	call.ClosingPricePerShare = nil
	call.ClosingCommission = nil
	return call, nil
}

// round rounds a float64 to n decimal places
func round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
