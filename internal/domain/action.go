// Package domain holds the shared event and position types for the accounting
// engine. Types here are pure data - no infrastructure dependencies.
package domain

import (
	"strings"
	"time"
)

// ActionType classifies a stock ledger event.
type ActionType string

const (
	ActionBuy            ActionType = "buy"
	ActionSell           ActionType = "sell"
	ActionDividend       ActionType = "dividend"
	ActionBonus          ActionType = "bonus"
	ActionRightsExercise ActionType = "rights_exercise"
	ActionRightsSell     ActionType = "rights_sell"
	ActionRevaluation    ActionType = "revaluation"
	ActionPremium        ActionType = "premium"
)

// PremiumType distinguishes the two forms a share-premium event can take.
type PremiumType string

const (
	PremiumBonusShares PremiumType = "bonus_shares"
	PremiumCashPayment PremiumType = "cash_payment"
)

// SourceRef links a synthetic action back to the event that generated it,
// so the action can be located and reversed by exact match.
type SourceRef struct {
	Kind string `json:"kind"` // e.g. "covered_call_assignment", "option_exercise"
	ID   string `json:"id"`
}

// IsZero reports whether the reference is unset.
func (r SourceRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// Action is one immutable event in a symbol's append-only history.
// The ledger is rebuilt by folding a symbol's actions in date order,
// ties broken by insertion id.
type Action struct {
	ID             int64       `json:"id"`
	Symbol         string      `json:"symbol"`
	Type           ActionType  `json:"type"`
	Date           time.Time   `json:"date"`
	Quantity       float64     `json:"quantity,omitempty"`
	Price          float64     `json:"price,omitempty"`
	Commission     float64     `json:"commission,omitempty"`
	Amount         float64     `json:"amount,omitempty"`
	PremiumType    PremiumType `json:"premium_type,omitempty"`
	RevaluationPct float64     `json:"revaluation_pct,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	SourceRef      SourceRef   `json:"source_ref,omitempty"`
	CreatedAt      *time.Time  `json:"created_at,omitempty"`
}

// IsSynthetic reports whether the action was generated by the engine rather
// than entered by the user.
func (a Action) IsSynthetic() bool {
	return !a.SourceRef.IsZero()
}

// AddsShares reports whether the action increases the holding when folded.
// Used by the share-lock guard to decide which deletions need a projection
// check.
func (a Action) AddsShares() bool {
	switch a.Type {
	case ActionBuy, ActionRightsExercise, ActionBonus:
		return true
	case ActionPremium:
		return a.PremiumType == PremiumBonusShares
	case ActionRevaluation:
		return a.RevaluationPct > 0
	}
	return false
}

// Validate checks the fields required for the given action type.
// Optional numeric fields are never rejected - the fold coerces them to 0.
func (a Action) Validate() error {
	if strings.TrimSpace(a.Symbol) == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if a.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "must be set"}
	}

	switch a.Type {
	case ActionBuy, ActionSell, ActionRightsExercise:
		if a.Quantity <= 0 {
			return &ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		if a.Price < 0 {
			return &ValidationError{Field: "price", Reason: "must not be negative"}
		}
	case ActionDividend, ActionRightsSell:
		if a.Amount < 0 {
			return &ValidationError{Field: "amount", Reason: "must not be negative"}
		}
	case ActionBonus:
		if a.Quantity <= 0 {
			return &ValidationError{Field: "quantity", Reason: "must be positive"}
		}
	case ActionRevaluation:
		// pct may be negative (write-down); zero is a no-op but harmless
	case ActionPremium:
		switch a.PremiumType {
		case PremiumBonusShares:
			if a.Quantity <= 0 {
				return &ValidationError{Field: "quantity", Reason: "must be positive for bonus_shares premium"}
			}
		case PremiumCashPayment:
			if a.Amount < 0 {
				return &ValidationError{Field: "amount", Reason: "must not be negative"}
			}
		default:
			return &ValidationError{Field: "premium_type", Reason: "must be bonus_shares or cash_payment"}
		}
	default:
		return &ValidationError{Field: "type", Reason: "unknown action type: " + string(a.Type)}
	}

	return nil
}

// NormalizeSymbol canonicalizes a ticker for storage and map keys.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
