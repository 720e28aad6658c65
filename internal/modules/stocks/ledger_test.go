package stocks

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramides/folio/internal/domain"
)

var testToday = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func action(id int64, symbol string, t domain.ActionType, date time.Time, qty, price, commission float64) domain.Action {
	return domain.Action{
		ID:         id,
		Symbol:     symbol,
		Type:       t,
		Date:       date,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
	}
}

func TestFoldActions_BuyThenPartialSell(t *testing.T) {
	actions := []domain.Action{
		action(1, "OPAP", domain.ActionBuy, day(0), 1000, 1000, 0),
		action(2, "OPAP", domain.ActionSell, day(10), 400, 1500, 0),
	}

	result := FoldActions(actions, domain.PricesFromMap(map[string]float64{"OPAP": 1100}), testToday)

	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	assert.InDelta(t, 600, pos.RemainingQty, 1e-9)
	assert.InDelta(t, 600000, pos.TotalBuyCost, 1e-6)
	assert.InDelta(t, 200000, pos.TotalRealizedPL, 1e-6)
	assert.InDelta(t, 1000, pos.AvgBuyPriceAdjusted, 1e-6)
	assert.InDelta(t, 660000, pos.CurrentValue, 1e-6)
	assert.InDelta(t, 60000, pos.UnrealizedPL, 1e-6)
	assert.True(t, pos.Open)
}

func TestFoldActions_BonusDilutesAverageCost(t *testing.T) {
	actions := []domain.Action{
		action(1, "OPAP", domain.ActionBuy, day(0), 1000, 1000, 0),
		action(2, "OPAP", domain.ActionSell, day(10), 400, 1500, 0),
		action(3, "OPAP", domain.ActionBonus, day(20), 100, 0, 0),
	}

	result := FoldActions(actions, nil, testToday)

	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	assert.InDelta(t, 700, pos.RemainingQty, 1e-9)
	assert.InDelta(t, 600000, pos.TotalBuyCost, 1e-6)
	assert.InDelta(t, 857.1429, pos.AvgBuyPriceAdjusted, 0.001)
}

func TestFoldActions_FullExitClosesAndZeroesCost(t *testing.T) {
	actions := []domain.Action{
		action(1, "TITC", domain.ActionBuy, day(0), 300, 10, 3),
		action(2, "TITC", domain.ActionSell, day(5), 300, 12, 3),
	}

	result := FoldActions(actions, nil, testToday)

	require.Empty(t, result.OpenPositions)
	require.Len(t, result.ClosedPositions, 1)
	pos := result.ClosedPositions[0]

	assert.Zero(t, pos.RemainingQty)
	assert.Zero(t, pos.TotalBuyCost)
	assert.False(t, pos.Open)
	require.NotNil(t, pos.LastSellDate)
	assert.Equal(t, day(5), *pos.LastSellDate)
	// proceeds 300*12-3 minus cost 300*10+3
	assert.InDelta(t, 594, pos.TotalRealizedPL, 1e-6)
}

func TestFoldActions_RebuyStartsNewHoldingPeriod(t *testing.T) {
	actions := []domain.Action{
		action(1, "MYTIL", domain.ActionBuy, day(0), 100, 50, 0),
		action(2, "MYTIL", domain.ActionSell, day(30), 100, 60, 0),
		action(3, "MYTIL", domain.ActionBuy, day(90), 50, 55, 0),
	}

	result := FoldActions(actions, nil, testToday)

	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	require.NotNil(t, pos.FirstBuyDate)
	assert.Equal(t, day(90), *pos.FirstBuyDate)
	assert.Nil(t, pos.LastSellDate)
	// Realized P&L from the first round trip survives the re-open.
	assert.InDelta(t, 1000, pos.TotalRealizedPL, 1e-6)
}

func TestFoldActions_OversellClampedNeverNegative(t *testing.T) {
	actions := []domain.Action{
		action(1, "ELPE", domain.ActionBuy, day(0), 100, 10, 0),
		action(2, "ELPE", domain.ActionSell, day(1), 500, 12, 0),
		action(3, "ELPE", domain.ActionSell, day(2), 50, 12, 0),
	}

	result := FoldActions(actions, nil, testToday)

	require.Len(t, result.ClosedPositions, 1)
	pos := result.ClosedPositions[0]

	assert.Zero(t, pos.RemainingQty)
	// Only the held 100 shares are sold; the excess 400 and the follow-up
	// sell against an empty position are ignored.
	assert.InDelta(t, 100, pos.TotalSoldQty, 1e-9)
	assert.InDelta(t, 200, pos.TotalRealizedPL, 1e-6)
}

func TestFoldActions_DividendAndPremiumCash(t *testing.T) {
	actions := []domain.Action{
		action(1, "OTE", domain.ActionBuy, day(0), 200, 15, 0),
		{ID: 2, Symbol: "OTE", Type: domain.ActionDividend, Date: day(30), Amount: 120},
		{ID: 3, Symbol: "OTE", Type: domain.ActionPremium, Date: day(60), PremiumType: domain.PremiumCashPayment, Amount: 80},
	}

	result := FoldActions(actions, nil, testToday)

	require.Len(t, result.OpenPositions, 1)
	assert.InDelta(t, 200, result.OpenPositions[0].TotalDividend, 1e-9)
}

func TestFoldActions_PremiumBonusSharesTrackedSeparately(t *testing.T) {
	actions := []domain.Action{
		action(1, "OTE", domain.ActionBuy, day(0), 200, 15, 0),
		{ID: 2, Symbol: "OTE", Type: domain.ActionPremium, Date: day(30), PremiumType: domain.PremiumBonusShares, Quantity: 20},
	}

	result := FoldActions(actions, nil, testToday)

	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]
	assert.InDelta(t, 220, pos.RemainingQty, 1e-9)
	assert.InDelta(t, 20, pos.PremiumShareQty, 1e-9)
	assert.Zero(t, pos.BonusQty)
	// Zero-cost shares dilute the average.
	assert.InDelta(t, 3000.0/220.0, pos.AvgBuyPriceAdjusted, 0.001)
}

func TestFoldActions_RightsSellExcludedFromDividends(t *testing.T) {
	actions := []domain.Action{
		action(1, "ALPHA", domain.ActionBuy, day(0), 1000, 1.0, 0),
		{ID: 2, Symbol: "ALPHA", Type: domain.ActionRightsSell, Date: day(10), Amount: 150},
	}

	result := FoldActions(actions, domain.PricesFromMap(map[string]float64{"ALPHA": 1.0}), testToday)

	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	assert.Zero(t, pos.TotalDividend)
	assert.InDelta(t, 150, pos.TotalRightsSellRevenue, 1e-9)
	assert.InDelta(t, 150, pos.TotalPL, 1e-6)
	// Denominator shrinks by the capital returned: 150 / (1000-150) * 100
	assert.InDelta(t, 17.6471, pos.PercentagePL, 0.001)
}

func TestFoldActions_RevaluationAddsSharesAtZeroCost(t *testing.T) {
	actions := []domain.Action{
		action(1, "EUROB", domain.ActionBuy, day(0), 1000, 2.0, 0),
		{ID: 2, Symbol: "EUROB", Type: domain.ActionRevaluation, Date: day(10), RevaluationPct: 10},
	}

	result := FoldActions(actions, nil, testToday)

	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	assert.InDelta(t, 1100, pos.RemainingQty, 1e-9)
	assert.InDelta(t, 100, pos.RevaluationQty, 1e-9)
	assert.InDelta(t, 2000, pos.TotalBuyCost, 1e-6)
	assert.InDelta(t, 1100, pos.TotalBoughtQty, 1e-9)
}

func TestFoldActions_Conservation(t *testing.T) {
	actions := []domain.Action{
		action(1, "PPC", domain.ActionBuy, day(0), 500, 8, 5),
		action(2, "PPC", domain.ActionSell, day(5), 120, 9, 5),
		action(3, "PPC", domain.ActionBonus, day(10), 50, 0, 0),
		{ID: 4, Symbol: "PPC", Type: domain.ActionRevaluation, Date: day(15), RevaluationPct: 5},
		action(5, "PPC", domain.ActionSell, day(20), 100, 10, 5),
		{ID: 6, Symbol: "PPC", Type: domain.ActionPremium, Date: day(25), PremiumType: domain.PremiumBonusShares, Quantity: 30},
	}

	result := FoldActions(actions, nil, testToday)

	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	// totalBoughtQty already includes bonus, premium and revaluation shares.
	assert.InDelta(t, pos.TotalBoughtQty-pos.TotalSoldQty, pos.RemainingQty, domain.Epsilon)
}

func TestFoldActions_IdempotentRefold(t *testing.T) {
	actions := []domain.Action{
		action(1, "OPAP", domain.ActionBuy, day(0), 1000, 1000, 2),
		action(2, "OPAP", domain.ActionSell, day(10), 400, 1500, 2),
		{ID: 3, Symbol: "OPAP", Type: domain.ActionDividend, Date: day(20), Amount: 500},
		action(4, "TITC", domain.ActionBuy, day(1), 10, 20, 1),
	}
	prices := domain.PricesFromMap(map[string]float64{"OPAP": 1200, "TITC": 22})

	first := FoldActions(actions, prices, testToday)
	second := FoldActions(actions, prices, testToday)

	assert.Equal(t, first, second)
}

func TestFoldActions_UnorderedInputIsSortedByDateThenID(t *testing.T) {
	// Same-day buy and sell: the buy has the lower id so it folds first.
	actions := []domain.Action{
		action(2, "OPAP", domain.ActionSell, day(0), 100, 12, 0),
		action(1, "OPAP", domain.ActionBuy, day(0), 100, 10, 0),
	}

	result := FoldActions(actions, nil, testToday)

	require.Len(t, result.ClosedPositions, 1)
	assert.InDelta(t, 200, result.ClosedPositions[0].TotalRealizedPL, 1e-6)
}

func TestFoldActions_MalformedNumericsCoercedToZero(t *testing.T) {
	actions := []domain.Action{
		action(1, "OPAP", domain.ActionBuy, day(0), 100, 10, math.NaN()),
		{ID: 2, Symbol: "OPAP", Type: domain.ActionDividend, Date: day(5), Amount: math.Inf(1)},
	}

	require.NotPanics(t, func() {
		result := FoldActions(actions, nil, testToday)
		require.Len(t, result.OpenPositions, 1)
		assert.InDelta(t, 1000, result.OpenPositions[0].TotalBuyCost, 1e-6)
		assert.Zero(t, result.OpenPositions[0].TotalDividend)
	})
}

func TestFoldActions_PortfolioPercentages(t *testing.T) {
	actions := []domain.Action{
		action(1, "AAA", domain.ActionBuy, day(0), 100, 10, 0),
		action(2, "BBB", domain.ActionBuy, day(0), 300, 10, 0),
	}
	prices := domain.PricesFromMap(map[string]float64{"AAA": 10, "BBB": 10})

	result := FoldActions(actions, prices, testToday)

	require.Len(t, result.OpenPositions, 2)
	total := 0.0
	for _, pos := range result.OpenPositions {
		total += pos.PercentageOfPortfolio
	}
	assert.InDelta(t, 100, total, 0.01)
	assert.InDelta(t, 25, result.OpenPositions[0].PercentageOfPortfolio, 0.01)
	assert.InDelta(t, 75, result.OpenPositions[1].PercentageOfPortfolio, 0.01)
}

func TestPositionAgeDays(t *testing.T) {
	first := day(0)
	last := day(100)

	assert.Equal(t, 0, positionAgeDays(nil, nil, testToday))
	assert.Equal(t, 100, positionAgeDays(&first, &last, testToday))
	assert.Equal(t, 151, positionAgeDays(&first, nil, testToday))
}
