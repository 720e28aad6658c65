package domain

import "time"

// Epsilon is the quantity below which a position counts as fully exited.
// Floating-point residue from repeated average-cost sells must not re-open a
// closed position or leave phantom cost basis behind.
const Epsilon = 0.001

// Quote is a price snapshot for one symbol. The engine operates on whatever
// snapshot it is given; it makes no freshness guarantees of its own.
type Quote struct {
	Symbol    string    `json:"symbol" msgpack:"symbol"`
	Price     float64   `json:"price" msgpack:"price"`
	PrevClose float64   `json:"prev_close" msgpack:"prev_close"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// PriceLookup resolves a symbol to its current price snapshot.
// A missing symbol returns a zero Quote; folds treat the zero price as
// "no market value available" and still produce a position.
type PriceLookup func(symbol string) Quote

// PricesFromMap adapts a plain symbol->price map into a PriceLookup.
// Convenient for tests and for callers that already hold a snapshot map.
func PricesFromMap(prices map[string]float64) PriceLookup {
	return func(symbol string) Quote {
		return Quote{Symbol: symbol, Price: prices[NormalizeSymbol(symbol)]}
	}
}
