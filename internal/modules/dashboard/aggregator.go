// Package dashboard aggregates every ledger's output into summary metrics.
//
// The aggregator is a pure fold over already-derived results: it never reads
// storage and never mutates its inputs, so the service can snapshot all
// sources once and hand them over.
package dashboard

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/avramides/folio/internal/domain"
	"github.com/avramides/folio/internal/modules/coveredcalls"
	"github.com/avramides/folio/internal/modules/funds"
	"github.com/avramides/folio/internal/modules/options"
	"github.com/avramides/folio/internal/modules/stocks"
)

// Inputs is one consistent view of every ledger plus the quote snapshot.
type Inputs struct {
	Stocks       stocks.LedgerResult
	Funds        funds.LedgerResult
	Options      options.NetResult
	CoveredCalls []coveredcalls.CallView
	Quotes       map[string]domain.Quote
	Today        time.Time
}

// Allocation is one holding's share of the total portfolio value.
type Allocation struct {
	Symbol  string  `json:"symbol"`
	Kind    string  `json:"kind"` // "stock", "fund" or "option"
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"`
}

// Expiration is an upcoming option or covered-call expiry.
type Expiration struct {
	Kind           string    `json:"kind"` // "option" or "covered_call"
	Symbol         string    `json:"symbol"`
	Underlying     string    `json:"underlying_symbol,omitempty"`
	ExpirationDate time.Time `json:"expiration_date"`
	DaysLeft       int       `json:"days_left"`
	Contracts      int       `json:"contracts"`
}

// Summary is the aggregated dashboard view.
type Summary struct {
	Date time.Time `json:"date"`

	TotalValue  float64 `json:"total_value"`
	StockValue  float64 `json:"stock_value"`
	FundValue   float64 `json:"fund_value"`
	OptionValue float64 `json:"option_value"`

	TodayPL        float64 `json:"today_pl"`
	TodayPLPercent float64 `json:"today_pl_percent"`

	UnrealizedPL float64 `json:"unrealized_pl"`
	RealizedPL   float64 `json:"realized_pl"`
	TotalPL      float64 `json:"total_pl"`

	OpenStockPositions  int `json:"open_stock_positions"`
	OpenFundPositions   int `json:"open_fund_positions"`
	OpenOptionPositions int `json:"open_option_positions"`
	OpenCoveredCalls    int `json:"open_covered_calls"`

	ReservedShares map[string]float64 `json:"reserved_shares"`

	Allocations      []Allocation `json:"allocations"`
	ExpiringIn7Days  []Expiration `json:"expiring_in_7_days"`
	ExpiringIn30Days []Expiration `json:"expiring_in_30_days"`
}

// Aggregate combines all ledger outputs into one summary.
func Aggregate(in Inputs) Summary {
	summary := Summary{
		Date:           in.Today,
		ReservedShares: map[string]float64{},
	}

	for _, pos := range in.Stocks.OpenPositions {
		summary.StockValue += pos.CurrentValue
		summary.UnrealizedPL += pos.UnrealizedPL
		summary.TodayPL += todayMove(in.Quotes, pos.Symbol) * pos.RemainingQty
	}
	summary.OpenStockPositions = len(in.Stocks.OpenPositions)
	for _, pos := range append(in.Stocks.OpenPositions, in.Stocks.ClosedPositions...) {
		summary.RealizedPL += pos.TotalRealizedPL + pos.TotalDividend + pos.TotalRightsSellRevenue
	}

	for _, pos := range in.Funds.OpenPositions {
		summary.FundValue += pos.CurrentValue
		summary.UnrealizedPL += pos.UnrealizedPL
		if pos.PriceSource == "quote" {
			summary.TodayPL += todayMove(in.Quotes, pos.FundSymbol) * pos.RemainingUnits
		}
	}
	summary.OpenFundPositions = len(in.Funds.OpenPositions)
	for _, pos := range append(in.Funds.OpenPositions, in.Funds.ClosedPositions...) {
		summary.RealizedPL += pos.TotalRealizedPL
	}

	for _, pos := range in.Options.OpenPositions {
		summary.OptionValue += pos.CurrentValue
		summary.UnrealizedPL += pos.UnrealizedPL
	}
	summary.OpenOptionPositions = len(in.Options.OpenPositions)
	for _, pos := range append(in.Options.OpenPositions, in.Options.HistoryPositions...) {
		summary.RealizedPL += pos.RealizedPL
	}

	for _, call := range in.CoveredCalls {
		if call.Status == coveredcalls.StatusOpen {
			summary.OpenCoveredCalls++
			symbol := domain.NormalizeSymbol(call.UnderlyingSymbol)
			summary.ReservedShares[symbol] += call.Shares()
		}
	}

	summary.TotalValue = summary.StockValue + summary.FundValue + summary.OptionValue
	summary.TotalPL = summary.UnrealizedPL + summary.RealizedPL
	if prevValue := summary.TotalValue - summary.TodayPL; prevValue > 0 {
		summary.TodayPLPercent = round(summary.TodayPL/prevValue*100, 2)
	}

	summary.Allocations = allocations(in, summary.TotalValue)
	summary.ExpiringIn7Days = expirations(in, 7)
	summary.ExpiringIn30Days = expirations(in, 30)

	summary.TotalValue = round(summary.TotalValue, 2)
	summary.StockValue = round(summary.StockValue, 2)
	summary.FundValue = round(summary.FundValue, 2)
	summary.OptionValue = round(summary.OptionValue, 2)
	summary.TodayPL = round(summary.TodayPL, 2)
	summary.UnrealizedPL = round(summary.UnrealizedPL, 2)
	summary.RealizedPL = round(summary.RealizedPL, 2)
	summary.TotalPL = round(summary.TotalPL, 2)

	return summary
}

// todayMove is the price change since the previous close, 0 when the quote
// is missing or carries no previous close.
func todayMove(quotes map[string]domain.Quote, symbol string) float64 {
	quote, ok := quotes[domain.NormalizeSymbol(symbol)]
	if !ok || quote.PrevClose <= 0 {
		return 0
	}
	return quote.Price - quote.PrevClose
}

func allocations(in Inputs, totalValue float64) []Allocation {
	var allocs []Allocation

	add := func(symbol, kind string, value float64) {
		if value == 0 {
			return
		}
		alloc := Allocation{Symbol: domain.NormalizeSymbol(symbol), Kind: kind, Value: round(value, 2)}
		if totalValue > 0 {
			alloc.Percent = round(value/totalValue*100, 2)
		}
		allocs = append(allocs, alloc)
	}

	for _, pos := range in.Stocks.OpenPositions {
		add(pos.Symbol, "stock", pos.CurrentValue)
	}
	for _, pos := range in.Funds.OpenPositions {
		add(pos.FundSymbol, "fund", pos.CurrentValue)
	}
	for _, pos := range in.Options.OpenPositions {
		add(pos.OptionSymbol, "option", pos.CurrentValue)
	}

	sort.Slice(allocs, func(i, j int) bool {
		if allocs[i].Value != allocs[j].Value {
			return allocs[i].Value > allocs[j].Value
		}
		return allocs[i].Symbol < allocs[j].Symbol
	})

	return allocs
}

func expirations(in Inputs, windowDays int) []Expiration {
	var out []Expiration

	add := func(kind, symbol, underlying string, expiration time.Time, contracts int) {
		days := int(math.Ceil(expiration.Sub(in.Today).Hours() / 24))
		if days < 0 || days > windowDays {
			return
		}
		out = append(out, Expiration{
			Kind:           kind,
			Symbol:         symbol,
			Underlying:     underlying,
			ExpirationDate: expiration,
			DaysLeft:       days,
			Contracts:      contracts,
		})
	}

	for _, pos := range in.Options.OpenPositions {
		add("option", pos.OptionSymbol, pos.UnderlyingSymbol, pos.ExpirationDate, pos.NetContracts)
	}
	for _, call := range in.CoveredCalls {
		if call.Status == coveredcalls.StatusOpen {
			add("covered_call", call.OptionSymbol, call.UnderlyingSymbol, call.ExpirationDate, call.ContractsCount)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpirationDate.Equal(out[j].ExpirationDate) {
			return out[i].ExpirationDate.Before(out[j].ExpirationDate)
		}
		return out[i].Symbol < out[j].Symbol
	})

	return out
}

// Volatility is the dispersion of daily portfolio returns over a
// snapshot series.
type Volatility struct {
	Samples           int     `json:"samples"`
	DailyStdDev       float64 `json:"daily_std_dev"`
	AnnualizedPercent float64 `json:"annualized_percent"`
}

// ComputeVolatility derives return volatility from a chronological
// total-value series. Needs at least three points for two returns.
func ComputeVolatility(values []float64) (Volatility, error) {
	if len(values) < 3 {
		return Volatility{}, &domain.ValidationError{
			Field:  "snapshots",
			Reason: "need at least 3 snapshots to compute volatility",
		}
	}

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 {
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}
	if len(returns) < 2 {
		return Volatility{}, &domain.ValidationError{
			Field:  "snapshots",
			Reason: "not enough non-zero snapshots to compute returns",
		}
	}

	daily := stat.StdDev(returns, nil)

	return Volatility{
		Samples:     len(returns),
		DailyStdDev: daily,
		// 252 trading days per year.
		AnnualizedPercent: round(daily*math.Sqrt(252)*100, 2),
	}, nil
}

func round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
