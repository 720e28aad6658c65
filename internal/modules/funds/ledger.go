// Package funds implements the mutual fund unit ledger.
//
// Funds follow the same average-cost fold as stocks but with a reduced event
// vocabulary: only buys and sells exist, and a fund without a live quote is
// valued at its most recent trade price.
package funds

import (
	"math"
	"sort"
	"time"

	"github.com/avramides/folio/internal/domain"
)

// TradeType is the direction of a fund trade.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Trade is one fund transaction.
type Trade struct {
	ID         int64      `json:"id"`
	FundSymbol string     `json:"fund_symbol"`
	FundName   string     `json:"fund_name,omitempty"`
	Type       TradeType  `json:"type"`
	Date       time.Time  `json:"date"`
	Units      float64    `json:"units"`
	Price      float64    `json:"price"`
	Commission float64    `json:"commission,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// Validate checks the fields required to fold the trade.
func (t Trade) Validate() error {
	if domain.NormalizeSymbol(t.FundSymbol) == "" {
		return &domain.ValidationError{Field: "fund_symbol", Reason: "must not be empty"}
	}
	if t.Type != TradeBuy && t.Type != TradeSell {
		return &domain.ValidationError{Field: "type", Reason: "must be buy or sell"}
	}
	if t.Date.IsZero() {
		return &domain.ValidationError{Field: "date", Reason: "must be set"}
	}
	if t.Units <= 0 {
		return &domain.ValidationError{Field: "units", Reason: "must be positive"}
	}
	if t.Price < 0 {
		return &domain.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	return nil
}

// Position is the derived state of one fund after folding its trades.
type Position struct {
	FundSymbol string `json:"fund_symbol"`
	FundName   string `json:"fund_name,omitempty"`

	RemainingUnits  float64 `json:"remaining_units"`
	TotalCost       float64 `json:"total_cost"`
	TotalRealizedPL float64 `json:"total_realized_pl"`
	TotalBoughtQty  float64 `json:"total_bought_qty"`
	TotalSoldQty    float64 `json:"total_sold_qty"`

	AvgCostPerUnit float64 `json:"avg_cost_per_unit"`
	CurrentPrice   float64 `json:"current_price"`
	PriceSource    string  `json:"price_source"` // "quote" or "last_trade"
	CurrentValue   float64 `json:"current_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
	TotalPL        float64 `json:"total_pl"`
	Open           bool    `json:"open"`
}

// LedgerResult splits folded fund positions into held and fully-exited.
type LedgerResult struct {
	OpenPositions   []Position `json:"open_positions"`
	ClosedPositions []Position `json:"closed_positions"`
}

// FoldTrades rebuilds all fund positions from the given trades.
// Same ordering and totality rules as the stock fold: date order with
// insertion-id tiebreak, oversells clamped, exits force-zeroed.
func FoldTrades(trades []Trade, prices domain.PriceLookup) LedgerResult {
	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	bySymbol := make(map[string]*Position)
	lastTradePrice := make(map[string]float64)
	var order []string

	for _, trade := range sorted {
		symbol := domain.NormalizeSymbol(trade.FundSymbol)
		if symbol == "" {
			continue
		}

		pos, ok := bySymbol[symbol]
		if !ok {
			pos = &Position{FundSymbol: symbol}
			bySymbol[symbol] = pos
			order = append(order, symbol)
		}
		if trade.FundName != "" {
			pos.FundName = trade.FundName
		}
		if trade.Price > 0 {
			lastTradePrice[symbol] = trade.Price
		}

		applyTrade(pos, trade)
	}

	var result LedgerResult
	sort.Strings(order)
	for _, symbol := range order {
		pos := bySymbol[symbol]

		price := 0.0
		source := "last_trade"
		if prices != nil {
			if quote := prices(symbol); quote.Price > 0 {
				price = quote.Price
				source = "quote"
			}
		}
		if price == 0 {
			price = lastTradePrice[symbol]
		}

		finalizePosition(pos, price, source)

		if pos.Open {
			result.OpenPositions = append(result.OpenPositions, *pos)
		} else {
			result.ClosedPositions = append(result.ClosedPositions, *pos)
		}
	}

	return result
}

func applyTrade(pos *Position, trade Trade) {
	units := num(trade.Units)
	price := num(trade.Price)
	commission := num(trade.Commission)

	switch trade.Type {
	case TradeBuy:
		pos.RemainingUnits += units
		pos.TotalCost += units*price + commission
		pos.TotalBoughtQty += units

	case TradeSell:
		if pos.RemainingUnits <= 0 {
			return
		}
		soldUnits := units
		if soldUnits > pos.RemainingUnits {
			soldUnits = pos.RemainingUnits
		}
		avgCost := pos.TotalCost / pos.RemainingUnits
		costOfSold := soldUnits * avgCost

		pos.TotalRealizedPL += soldUnits*price - commission - costOfSold
		pos.TotalCost -= costOfSold
		pos.RemainingUnits -= soldUnits
		pos.TotalSoldQty += soldUnits

		if pos.RemainingUnits < domain.Epsilon {
			pos.RemainingUnits = 0
			pos.TotalCost = 0
		}
	}
}

func finalizePosition(pos *Position, price float64, source string) {
	pos.Open = pos.RemainingUnits > domain.Epsilon
	pos.CurrentPrice = num(price)
	pos.PriceSource = source

	if pos.Open {
		pos.AvgCostPerUnit = round(pos.TotalCost/pos.RemainingUnits, 4)
		pos.CurrentValue = round(pos.RemainingUnits*pos.CurrentPrice, 2)
		pos.UnrealizedPL = round(pos.CurrentValue-pos.TotalCost, 2)
	}

	pos.TotalPL = round(pos.TotalRealizedPL+pos.UnrealizedPL, 2)
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
