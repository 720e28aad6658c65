// Package stocks implements the average-cost stock position ledger.
//
// Positions are never stored: every read rebuilds them from scratch by a
// single left-to-right fold over the symbol's date-sorted actions. That keeps
// the raw event log as the only source of truth and eliminates drift between
// events and derived aggregates.
package stocks

import (
	"math"
	"sort"
	"time"

	"github.com/avramides/folio/internal/domain"
)

// Position is the derived state of one symbol after folding its actions.
type Position struct {
	Symbol string `json:"symbol"`

	// Accumulated by the fold
	RemainingQty           float64    `json:"remaining_qty"`
	TotalBuyCost           float64    `json:"total_buy_cost"` // cost basis of remaining shares
	TotalRealizedPL        float64    `json:"total_realized_pl"`
	TotalDividend          float64    `json:"total_dividend"`
	TotalRightsSellRevenue float64    `json:"total_rights_sell_revenue"`
	TotalBoughtQty         float64    `json:"total_bought_qty"`
	TotalSoldQty           float64    `json:"total_sold_qty"`
	TotalBoughtValue       float64    `json:"total_bought_value"`
	TotalSoldValue         float64    `json:"total_sold_value"`
	BonusQty               float64    `json:"bonus_qty"`
	PremiumShareQty        float64    `json:"premium_share_qty"`
	RevaluationQty         float64    `json:"revaluation_qty"`
	FirstBuyDate           *time.Time `json:"first_buy_date,omitempty"`
	LastSellDate           *time.Time `json:"last_sell_date,omitempty"`

	// Derived after the fold
	AvgBuyPriceAdjusted     float64 `json:"avg_buy_price_adjusted"`
	CurrentPrice            float64 `json:"current_price"`
	CurrentValue            float64 `json:"current_value"`
	UnrealizedPL            float64 `json:"unrealized_pl"`
	TotalPL                 float64 `json:"total_pl"`
	PercentagePL            float64 `json:"percentage_pl"`
	PositionAgeDays         int     `json:"position_age_days"`
	AnnualizedReturnPercent float64 `json:"annualized_return_percent"`
	PercentageOfPortfolio   float64 `json:"percentage_of_portfolio"`
	Open                    bool    `json:"open"`
}

// LedgerResult splits folded positions into currently-held and fully-exited.
type LedgerResult struct {
	OpenPositions   []Position `json:"open_positions"`
	ClosedPositions []Position `json:"closed_positions"`
}

// FoldActions rebuilds all stock positions from the given actions.
//
// The fold is pure, deterministic and total: malformed optional numerics are
// coerced to 0, a sell against an empty position is ignored, and a sell
// larger than the holding is clamped to the holding (the excess is dropped,
// not applied). Actions are processed strictly in date order, ties broken by
// insertion id.
func FoldActions(actions []domain.Action, prices domain.PriceLookup, today time.Time) LedgerResult {
	sorted := make([]domain.Action, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	bySymbol := make(map[string]*Position)
	var order []string

	for _, action := range sorted {
		symbol := domain.NormalizeSymbol(action.Symbol)
		if symbol == "" {
			continue
		}

		pos, ok := bySymbol[symbol]
		if !ok {
			pos = &Position{Symbol: symbol}
			bySymbol[symbol] = pos
			order = append(order, symbol)
		}

		applyAction(pos, action)
	}

	var result LedgerResult
	totalOpenValue := 0.0

	sort.Strings(order)
	for _, symbol := range order {
		pos := bySymbol[symbol]
		quote := domain.Quote{}
		if prices != nil {
			quote = prices(symbol)
		}
		finalizePosition(pos, quote, today)

		if pos.Open {
			totalOpenValue += pos.CurrentValue
			result.OpenPositions = append(result.OpenPositions, *pos)
		} else {
			result.ClosedPositions = append(result.ClosedPositions, *pos)
		}
	}

	// Portfolio share is relative to the open positions' combined value.
	if totalOpenValue > 0 {
		for i := range result.OpenPositions {
			result.OpenPositions[i].PercentageOfPortfolio = round(
				result.OpenPositions[i].CurrentValue/totalOpenValue*100, 4)
		}
	}

	return result
}

// applyAction folds one action into the accumulator. See package doc for the
// per-type rules.
func applyAction(pos *Position, action domain.Action) {
	qty := num(action.Quantity)
	price := num(action.Price)
	commission := num(action.Commission)
	amount := num(action.Amount)
	date := action.Date

	switch action.Type {
	case domain.ActionBuy, domain.ActionRightsExercise:
		// A buy into an exited position starts a new holding period.
		if pos.RemainingQty <= domain.Epsilon {
			d := date
			pos.FirstBuyDate = &d
			pos.LastSellDate = nil
		}
		pos.RemainingQty += qty
		pos.TotalBuyCost += qty*price + commission
		pos.TotalBoughtQty += qty
		pos.TotalBoughtValue += qty*price + commission

	case domain.ActionSell:
		if pos.RemainingQty <= 0 {
			return // nothing held, nothing to sell
		}
		soldQty := qty
		if soldQty > pos.RemainingQty {
			// Boundary rule: the excess over the holding is ignored, the
			// fold never drives the quantity negative.
			soldQty = pos.RemainingQty
		}
		avgCost := pos.TotalBuyCost / pos.RemainingQty
		costOfSold := soldQty * avgCost
		proceeds := soldQty*price - commission

		pos.TotalRealizedPL += proceeds - costOfSold
		pos.TotalBuyCost -= costOfSold
		pos.RemainingQty -= soldQty
		pos.TotalSoldQty += soldQty
		pos.TotalSoldValue += proceeds

		if pos.RemainingQty < domain.Epsilon {
			d := date
			pos.LastSellDate = &d
			// Force-zero both so floating residue cannot re-open the
			// position or leak into the next holding period's cost basis.
			pos.RemainingQty = 0
			pos.TotalBuyCost = 0
		}

	case domain.ActionDividend:
		pos.TotalDividend += amount

	case domain.ActionBonus:
		pos.RemainingQty += qty
		pos.TotalBoughtQty += qty
		pos.BonusQty += qty

	case domain.ActionPremium:
		switch action.PremiumType {
		case domain.PremiumBonusShares:
			pos.RemainingQty += qty
			pos.TotalBoughtQty += qty
			pos.PremiumShareQty += qty
		case domain.PremiumCashPayment:
			pos.TotalDividend += amount
		}

	case domain.ActionRightsSell:
		// Capital return, not income: excluded from dividends but counted in
		// total P&L and subtracted from the invested-capital denominator.
		pos.TotalRightsSellRevenue += amount

	case domain.ActionRevaluation:
		newQty := revaluedQty(pos.RemainingQty, action.RevaluationPct)
		delta := newQty - pos.RemainingQty
		pos.RemainingQty = newQty
		pos.TotalBoughtQty += delta
		pos.RevaluationQty += delta
	}
}

// finalizePosition computes the derived metrics once the fold is complete.
func finalizePosition(pos *Position, quote domain.Quote, today time.Time) {
	pos.Open = pos.RemainingQty > domain.Epsilon
	pos.CurrentPrice = num(quote.Price)

	if pos.Open {
		pos.AvgBuyPriceAdjusted = round(pos.TotalBuyCost/pos.RemainingQty, 4)
		pos.CurrentValue = round(pos.RemainingQty*pos.CurrentPrice, 2)
		pos.UnrealizedPL = round(pos.CurrentValue-pos.TotalBuyCost, 2)
	}

	pos.TotalPL = round(pos.TotalRealizedPL+pos.UnrealizedPL+pos.TotalDividend+pos.TotalRightsSellRevenue, 2)

	denominator := pos.TotalBoughtValue - pos.TotalRightsSellRevenue
	if denominator > 0 {
		pos.PercentagePL = round(pos.TotalPL/denominator*100, 4)
	}

	pos.PositionAgeDays = positionAgeDays(pos.FirstBuyDate, pos.LastSellDate, today)
	if pos.PositionAgeDays > 0 {
		pos.AnnualizedReturnPercent = round(pos.PercentagePL/float64(pos.PositionAgeDays)*365, 4)
	}
}

// positionAgeDays is the holding period in days: first buy to last sell for a
// closed position, first buy to today for an open one. 0 if never bought.
func positionAgeDays(firstBuy, lastSell *time.Time, today time.Time) int {
	if firstBuy == nil {
		return 0
	}
	end := today
	if lastSell != nil {
		end = *lastSell
	}
	days := int(math.Round(end.Sub(*firstBuy).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// revaluedQty applies a percentage restatement to a holding, rounded to the
// nearest whole share.
func revaluedQty(remaining, pct float64) float64 {
	return math.Round(remaining * (1 + num(pct)/100))
}

// num coerces NaN/Inf to 0 so the fold stays total on malformed input.
func num(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// round rounds a float64 to n decimal places
func round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
