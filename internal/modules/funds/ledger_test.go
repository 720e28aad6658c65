package funds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramides/folio/internal/domain"
)

func fundTrade(id int64, tradeType TradeType, dayOffset int, units, price float64) Trade {
	return Trade{
		ID:         id,
		FundSymbol: "GRFUND",
		Type:       tradeType,
		Date:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, dayOffset),
		Units:      units,
		Price:      price,
	}
}

func TestFoldTrades_AverageCostSell(t *testing.T) {
	trades := []Trade{
		fundTrade(1, TradeBuy, 0, 100, 10),
		fundTrade(2, TradeBuy, 10, 100, 12),
		fundTrade(3, TradeSell, 20, 50, 15),
	}

	result := FoldTrades(trades, domain.PricesFromMap(map[string]float64{"GRFUND": 14}))
	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	// Avg cost 11; selling 50@15 realizes 50*(15-11) = 200.
	assert.Equal(t, 150.0, pos.RemainingUnits)
	assert.Equal(t, 200.0, pos.TotalRealizedPL)
	assert.Equal(t, 11.0, pos.AvgCostPerUnit)
	assert.Equal(t, 1650.0, pos.TotalCost)
	assert.Equal(t, "quote", pos.PriceSource)
	assert.Equal(t, 2100.0, pos.CurrentValue)
	assert.Equal(t, 450.0, pos.UnrealizedPL)
}

func TestFoldTrades_FallsBackToLastTradePrice(t *testing.T) {
	trades := []Trade{
		fundTrade(1, TradeBuy, 0, 100, 10),
		fundTrade(2, TradeBuy, 30, 50, 11.5),
	}

	result := FoldTrades(trades, nil)
	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	assert.Equal(t, 11.5, pos.CurrentPrice)
	assert.Equal(t, "last_trade", pos.PriceSource)
	assert.Equal(t, 1725.0, pos.CurrentValue)
}

func TestFoldTrades_FullExitForceZeroes(t *testing.T) {
	trades := []Trade{
		fundTrade(1, TradeBuy, 0, 300, 10),
		fundTrade(2, TradeSell, 5, 300, 12),
	}

	result := FoldTrades(trades, nil)
	require.Len(t, result.ClosedPositions, 1)
	pos := result.ClosedPositions[0]

	assert.False(t, pos.Open)
	assert.Equal(t, 0.0, pos.RemainingUnits)
	assert.Equal(t, 0.0, pos.TotalCost)
	assert.Equal(t, 600.0, pos.TotalRealizedPL)
}

func TestFoldTrades_OversellClamped(t *testing.T) {
	trades := []Trade{
		fundTrade(1, TradeBuy, 0, 100, 10),
		fundTrade(2, TradeSell, 5, 250, 12),
	}

	result := FoldTrades(trades, nil)
	require.Len(t, result.ClosedPositions, 1)
	pos := result.ClosedPositions[0]

	assert.Equal(t, 100.0, pos.TotalSoldQty)
	assert.Equal(t, 200.0, pos.TotalRealizedPL)
}

func TestFoldTrades_CommissionReducesRealized(t *testing.T) {
	trades := []Trade{
		{ID: 1, FundSymbol: "GRFUND", Type: TradeBuy, Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Units: 100, Price: 10, Commission: 5},
		{ID: 2, FundSymbol: "GRFUND", Type: TradeSell, Date: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Units: 100, Price: 12, Commission: 5},
	}

	result := FoldTrades(trades, nil)
	require.Len(t, result.ClosedPositions, 1)

	// Cost 1005, proceeds 1195.
	assert.Equal(t, 190.0, result.ClosedPositions[0].TotalRealizedPL)
}

func TestFoldTrades_SortsByDateThenID(t *testing.T) {
	// Sell entered first but dated after the buy.
	trades := []Trade{
		fundTrade(2, TradeSell, 10, 50, 12),
		fundTrade(1, TradeBuy, 0, 100, 10),
	}

	result := FoldTrades(trades, nil)
	require.Len(t, result.OpenPositions, 1)
	assert.Equal(t, 50.0, result.OpenPositions[0].RemainingUnits)
}

func TestTrade_Validate(t *testing.T) {
	valid := fundTrade(1, TradeBuy, 0, 100, 10)
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.FundSymbol = " "
	assert.Error(t, missing.Validate())

	badType := valid
	badType.Type = "transfer"
	assert.Error(t, badType.Validate())

	zeroUnits := valid
	zeroUnits.Units = 0
	assert.Error(t, zeroUnits.Validate())
}
