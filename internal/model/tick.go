package model

import "math"

// Tick represents a single quote from the Deriv tick stream.
// Epoch is the server-side timestamp in Unix seconds; the feed guarantees
// non-decreasing epochs per symbol.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Epoch  int64   `json:"epoch"`
}

// Valid reports whether the tick can be aggregated safely.
// Non-finite or non-positive prices would corrupt a candle.
func (t Tick) Valid() bool {
	if t.Symbol == "" || t.Epoch <= 0 {
		return false
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return false
	}
	return true
}
