// Package options nets raw option trades into per-contract positions.
//
// All trades sharing an option symbol fold into one position: the net
// contract count is signed (positive long, negative short) and the position
// moves to history once the net reaches zero. Premiums are per share; the
// contract multiplier is an explicit field on every trade rather than an
// implied constant.
package options

import (
	"math"
	"sort"
	"time"

	"github.com/avramides/folio/internal/domain"
)

// OptionType is the contract kind.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// TradeType is the order direction of an option trade.
type TradeType string

const (
	BuyToOpen   TradeType = "buy_to_open"
	SellToOpen  TradeType = "sell_to_open"
	BuyToClose  TradeType = "buy_to_close"
	SellToClose TradeType = "sell_to_close"
)

// TradeStatus marks how a closing trade settled.
type TradeStatus string

const (
	StatusExercised TradeStatus = "EXERCISED"
	StatusExpired   TradeStatus = "EXPIRED"
)

// DefaultSharesPerContract is the Athens derivatives market lot size.
const DefaultSharesPerContract = 1000

// Trade is one raw option transaction. Premium is per share.
type Trade struct {
	ID                int64       `json:"id"`
	OptionSymbol      string      `json:"option_symbol"`
	UnderlyingSymbol  string      `json:"underlying_symbol"`
	OptionType        OptionType  `json:"option_type"`
	TradeType         TradeType   `json:"trade_type"`
	ContractsCount    int         `json:"contracts_count"`
	SharesPerContract int         `json:"shares_per_contract"`
	Premium           float64     `json:"premium"`
	Commission        float64     `json:"commission,omitempty"`
	StrikePrice       float64     `json:"strike_price"`
	TradeDate         time.Time   `json:"trade_date"`
	ExpirationDate    time.Time   `json:"expiration_date"`
	Status            TradeStatus `json:"status,omitempty"`
	CreatedAt         *time.Time  `json:"created_at,omitempty"`
}

// Validate checks the fields required to net the trade.
func (t Trade) Validate() error {
	if domain.NormalizeSymbol(t.OptionSymbol) == "" {
		return &domain.ValidationError{Field: "option_symbol", Reason: "must not be empty"}
	}
	if domain.NormalizeSymbol(t.UnderlyingSymbol) == "" {
		return &domain.ValidationError{Field: "underlying_symbol", Reason: "must not be empty"}
	}
	if t.OptionType != Call && t.OptionType != Put {
		return &domain.ValidationError{Field: "option_type", Reason: "must be call or put"}
	}
	switch t.TradeType {
	case BuyToOpen, SellToOpen, BuyToClose, SellToClose:
	default:
		return &domain.ValidationError{Field: "trade_type", Reason: "unknown trade type: " + string(t.TradeType)}
	}
	if t.ContractsCount <= 0 {
		return &domain.ValidationError{Field: "contracts_count", Reason: "must be positive"}
	}
	if t.SharesPerContract <= 0 {
		return &domain.ValidationError{Field: "shares_per_contract", Reason: "must be positive"}
	}
	if t.Premium < 0 {
		return &domain.ValidationError{Field: "premium", Reason: "must not be negative"}
	}
	if t.StrikePrice <= 0 {
		return &domain.ValidationError{Field: "strike_price", Reason: "must be positive"}
	}
	if t.TradeDate.IsZero() || t.ExpirationDate.IsZero() {
		return &domain.ValidationError{Field: "trade_date", Reason: "trade and expiration dates must be set"}
	}
	return nil
}

// signedContracts is the trade's contribution to the net position.
func (t Trade) signedContracts() int {
	switch t.TradeType {
	case BuyToOpen, BuyToClose:
		return t.ContractsCount
	case SellToOpen, SellToClose:
		return -t.ContractsCount
	}
	return 0
}

func (t Trade) isOpening() bool {
	return t.TradeType == BuyToOpen || t.TradeType == SellToOpen
}

// Position is the netted state of all trades on one option symbol.
type Position struct {
	OptionSymbol      string     `json:"option_symbol"`
	UnderlyingSymbol  string     `json:"underlying_symbol"`
	OptionType        OptionType `json:"option_type"`
	PositionType      string     `json:"position_type"` // "long" or "short"
	NetContracts      int        `json:"net_contracts"` // signed
	SharesPerContract int        `json:"shares_per_contract"`
	StrikePrice       float64    `json:"strike_price"`
	ExpirationDate    time.Time  `json:"expiration_date"`

	AvgOpenPremium   float64 `json:"avg_open_premium"` // per share
	CostBasis        float64 `json:"cost_basis"`       // signed: debit positive, credit negative
	CurrentPrice     float64 `json:"current_price"`    // option quote, per share
	CurrentValue     float64 `json:"current_value"`
	UnrealizedPL     float64 `json:"unrealized_pl"`
	RealizedPL       float64 `json:"realized_pl"`
	BreakEvenPrice   float64 `json:"break_even_price"`
	DaysToExpiration int     `json:"days_to_expiration"`
	Open             bool    `json:"open"`

	History []Trade `json:"history"`
}

// NetResult splits netted positions into open and fully-closed.
type NetResult struct {
	OpenPositions    []Position `json:"open_positions"`
	HistoryPositions []Position `json:"history_positions"`
}

// NetPositions folds all option trades into per-symbol positions.
//
// Trades are processed in date order with insertion-id tiebreak, like the
// stock fold. prices resolves option symbols to their per-share quote;
// missing quotes value the position at zero unrealized movement.
func NetPositions(trades []Trade, prices domain.PriceLookup, today time.Time) NetResult {
	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].TradeDate.Equal(sorted[j].TradeDate) {
			return sorted[i].TradeDate.Before(sorted[j].TradeDate)
		}
		return sorted[i].ID < sorted[j].ID
	})

	bySymbol := make(map[string]*Position)
	var order []string

	for _, trade := range sorted {
		symbol := domain.NormalizeSymbol(trade.OptionSymbol)
		if symbol == "" {
			continue
		}

		pos, ok := bySymbol[symbol]
		if !ok {
			pos = &Position{
				OptionSymbol:      symbol,
				UnderlyingSymbol:  domain.NormalizeSymbol(trade.UnderlyingSymbol),
				OptionType:        trade.OptionType,
				SharesPerContract: trade.SharesPerContract,
				StrikePrice:       trade.StrikePrice,
				ExpirationDate:    trade.ExpirationDate,
			}
			bySymbol[symbol] = pos
			order = append(order, symbol)
		}

		applyTrade(pos, trade)
		pos.History = append(pos.History, trade)
	}

	var result NetResult
	sort.Strings(order)
	for _, symbol := range order {
		pos := bySymbol[symbol]
		quote := domain.Quote{}
		if prices != nil {
			quote = prices(symbol)
		}
		finalizePosition(pos, quote, today)

		if pos.Open {
			result.OpenPositions = append(result.OpenPositions, *pos)
		} else {
			result.HistoryPositions = append(result.HistoryPositions, *pos)
		}
	}

	return result
}

// applyTrade nets one trade into the position accumulator.
//
// Opening trades move the average open premium; closing trades realize P&L
// against it. The cost basis tracks the open contracts only: a long debit is
// positive, a short credit negative.
func applyTrade(pos *Position, trade Trade) {
	shares := float64(trade.SharesPerContract)
	contracts := float64(trade.ContractsCount)
	premium := num(trade.Premium)
	commission := num(trade.Commission)

	if trade.isOpening() {
		if pos.PositionType == "" {
			pos.PositionType = "long"
			if trade.TradeType == SellToOpen {
				pos.PositionType = "short"
			}
		}
		openAbs := math.Abs(float64(pos.NetContracts))
		newAbs := openAbs + contracts
		if newAbs > 0 {
			pos.AvgOpenPremium = (pos.AvgOpenPremium*openAbs + premium*contracts) / newAbs
		}
		pos.NetContracts += trade.signedContracts()

		cost := premium*contracts*shares + commission
		if trade.TradeType == SellToOpen {
			cost = -(premium*contracts*shares - commission)
		}
		pos.CostBasis += cost
		return
	}

	// Closing trade: realize against the average open premium.
	openAbs := math.Abs(float64(pos.NetContracts))
	if openAbs == 0 {
		return // closing with nothing open: ignored, like an empty-position sell
	}
	closed := contracts
	if closed > openAbs {
		closed = openAbs
	}

	long := pos.NetContracts > 0
	var realized float64
	if long {
		// sell_to_close: proceeds minus what the contracts cost.
		realized = (premium-pos.AvgOpenPremium)*closed*shares - commission
	} else {
		// buy_to_close: credit received minus what it costs to buy back.
		realized = (pos.AvgOpenPremium-premium)*closed*shares - commission
	}
	pos.RealizedPL += realized

	fraction := closed / openAbs
	pos.CostBasis -= pos.CostBasis * fraction

	if long {
		pos.NetContracts -= int(closed)
	} else {
		pos.NetContracts += int(closed)
	}
	if pos.NetContracts == 0 {
		pos.CostBasis = 0
		pos.AvgOpenPremium = 0
	}
}

func finalizePosition(pos *Position, quote domain.Quote, today time.Time) {
	pos.Open = pos.NetContracts != 0
	pos.CurrentPrice = num(quote.Price)

	shares := float64(pos.SharesPerContract)
	netAbs := math.Abs(float64(pos.NetContracts))

	if pos.Open {
		pos.CurrentValue = round(pos.CurrentPrice*netAbs*shares, 2)
		if pos.NetContracts > 0 {
			pos.UnrealizedPL = round((pos.CurrentPrice-pos.AvgOpenPremium)*netAbs*shares, 2)
		} else {
			pos.UnrealizedPL = round((pos.AvgOpenPremium-pos.CurrentPrice)*netAbs*shares, 2)
		}
	}

	if pos.OptionType == Call {
		pos.BreakEvenPrice = round(pos.StrikePrice+pos.AvgOpenPremium, 4)
	} else {
		pos.BreakEvenPrice = round(pos.StrikePrice-pos.AvgOpenPremium, 4)
	}

	pos.DaysToExpiration = daysToExpiration(pos.ExpirationDate, today)
}

// daysToExpiration is the whole-day countdown, rounded up so that any part
// of a remaining day still counts. Negative once expired.
func daysToExpiration(expiration, today time.Time) int {
	return int(math.Ceil(expiration.Sub(today).Hours() / 24))
}

// SyntheticExerciseAction describes the stock action an exercised or assigned
// closing trade implies. positionType is the side held before closing.
//
//	long call exercised  -> buy at strike
//	long put exercised   -> sell at strike
//	short call assigned  -> sell at strike
//	short put assigned   -> buy at strike
func SyntheticExerciseAction(positionType string, trade Trade) domain.Action {
	actionType := domain.ActionSell
	if (positionType == "long") == (trade.OptionType == Call) {
		actionType = domain.ActionBuy
	}

	return domain.Action{
		Symbol:   domain.NormalizeSymbol(trade.UnderlyingSymbol),
		Type:     actionType,
		Date:     trade.TradeDate,
		Quantity: float64(trade.ContractsCount * trade.SharesPerContract),
		Price:    trade.StrikePrice,
		Notes:    "Exercise settlement for " + domain.NormalizeSymbol(trade.OptionSymbol),
	}
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
