package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramides/folio/internal/domain"
)

var optToday = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func optTrade(id int64, tradeType TradeType, dayOffset, contracts int, premium float64) Trade {
	return Trade{
		ID:                id,
		OptionSymbol:      "OPAP-C-13-JUL25",
		UnderlyingSymbol:  "OPAP",
		OptionType:        Call,
		TradeType:         tradeType,
		ContractsCount:    contracts,
		SharesPerContract: 1000,
		Premium:           premium,
		StrikePrice:       13,
		TradeDate:         time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, dayOffset),
		ExpirationDate:    time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
	}
}

func TestNetPositions_LongCallOpen(t *testing.T) {
	trades := []Trade{optTrade(1, BuyToOpen, 0, 2, 0.5)}
	prices := domain.PricesFromMap(map[string]float64{"OPAP-C-13-JUL25": 0.8})

	result := NetPositions(trades, prices, optToday)
	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	assert.Equal(t, "long", pos.PositionType)
	assert.Equal(t, 2, pos.NetContracts)
	assert.Equal(t, 1000.0, pos.CostBasis) // 0.5 * 2 * 1000 debit
	assert.Equal(t, 1600.0, pos.CurrentValue)
	assert.Equal(t, 600.0, pos.UnrealizedPL)
	assert.Equal(t, 13.5, pos.BreakEvenPrice)
	assert.Equal(t, 47, pos.DaysToExpiration)
	assert.True(t, pos.Open)
}

func TestNetPositions_ShortCallCredit(t *testing.T) {
	trades := []Trade{optTrade(1, SellToOpen, 0, 1, 0.6)}
	prices := domain.PricesFromMap(map[string]float64{"OPAP-C-13-JUL25": 0.4})

	result := NetPositions(trades, prices, optToday)
	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	assert.Equal(t, "short", pos.PositionType)
	assert.Equal(t, -1, pos.NetContracts)
	assert.Equal(t, -600.0, pos.CostBasis) // credit
	// Short profits as the option cheapens.
	assert.Equal(t, 200.0, pos.UnrealizedPL)
}

func TestNetPositions_FullCloseMovesToHistory(t *testing.T) {
	trades := []Trade{
		optTrade(1, BuyToOpen, 0, 2, 0.5),
		func() Trade {
			tr := optTrade(2, SellToClose, 10, 2, 0.9)
			tr.Commission = 5
			return tr
		}(),
	}

	result := NetPositions(trades, nil, optToday)
	require.Empty(t, result.OpenPositions)
	require.Len(t, result.HistoryPositions, 1)
	pos := result.HistoryPositions[0]

	assert.False(t, pos.Open)
	assert.Equal(t, 0, pos.NetContracts)
	assert.Equal(t, 0.0, pos.CostBasis)
	// (0.9 - 0.5) * 2 * 1000 - 5
	assert.Equal(t, 795.0, pos.RealizedPL)
	assert.Len(t, pos.History, 2)
}

func TestNetPositions_PartialClose(t *testing.T) {
	trades := []Trade{
		optTrade(1, BuyToOpen, 0, 3, 0.5),
		optTrade(2, SellToClose, 5, 1, 0.7),
	}

	result := NetPositions(trades, nil, optToday)
	require.Len(t, result.OpenPositions, 1)
	pos := result.OpenPositions[0]

	assert.Equal(t, 2, pos.NetContracts)
	assert.Equal(t, 200.0, pos.RealizedPL)       // (0.7-0.5)*1*1000
	assert.InDelta(t, 1000.0, pos.CostBasis, 1e-9) // two thirds of 1500
	assert.True(t, pos.Open)
}

func TestNetPositions_ShortBuyback(t *testing.T) {
	trades := []Trade{
		optTrade(1, SellToOpen, 0, 2, 0.6),
		optTrade(2, BuyToClose, 15, 2, 0.2),
	}

	result := NetPositions(trades, nil, optToday)
	require.Len(t, result.HistoryPositions, 1)

	// (0.6 - 0.2) * 2 * 1000
	assert.Equal(t, 800.0, result.HistoryPositions[0].RealizedPL)
}

func TestNetPositions_CloseWithNothingOpenIgnored(t *testing.T) {
	trades := []Trade{optTrade(1, SellToClose, 0, 1, 0.5)}

	result := NetPositions(trades, nil, optToday)
	require.Len(t, result.HistoryPositions, 1)

	assert.Equal(t, 0, result.HistoryPositions[0].NetContracts)
	assert.Equal(t, 0.0, result.HistoryPositions[0].RealizedPL)
}

func TestNetPositions_PutBreakEven(t *testing.T) {
	tr := optTrade(1, BuyToOpen, 0, 1, 0.4)
	tr.OptionType = Put

	result := NetPositions([]Trade{tr}, nil, optToday)
	require.Len(t, result.OpenPositions, 1)

	assert.Equal(t, 12.6, result.OpenPositions[0].BreakEvenPrice)
}

func TestDaysToExpiration_RoundsUpAndGoesNegative(t *testing.T) {
	expiration := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 3, daysToExpiration(expiration, optToday))
	assert.Equal(t, -8, daysToExpiration(expiration, time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)))
}

func TestSyntheticExerciseAction_Directions(t *testing.T) {
	call := optTrade(1, SellToClose, 0, 2, 0.5)
	call.Status = StatusExercised

	put := call
	put.OptionType = Put

	// Long call exercised: buy the underlying at strike.
	action := SyntheticExerciseAction("long", call)
	assert.Equal(t, domain.ActionBuy, action.Type)
	assert.Equal(t, "OPAP", action.Symbol)
	assert.Equal(t, 2000.0, action.Quantity)
	assert.Equal(t, 13.0, action.Price)

	// Short call assigned: deliver the underlying.
	assert.Equal(t, domain.ActionSell, SyntheticExerciseAction("short", call).Type)

	// Long put exercised: sell the underlying.
	assert.Equal(t, domain.ActionSell, SyntheticExerciseAction("long", put).Type)

	// Short put assigned: take delivery.
	assert.Equal(t, domain.ActionBuy, SyntheticExerciseAction("short", put).Type)
}

func TestTrade_Validate(t *testing.T) {
	valid := optTrade(1, BuyToOpen, 0, 1, 0.5)
	assert.NoError(t, valid.Validate())

	noMultiplier := valid
	noMultiplier.SharesPerContract = 0
	assert.Error(t, noMultiplier.Validate())

	badType := valid
	badType.TradeType = "roll"
	assert.Error(t, badType.Validate())

	badStrike := valid
	badStrike.StrikePrice = 0
	assert.Error(t, badStrike.Validate())
}
