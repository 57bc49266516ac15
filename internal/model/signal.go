package model

import (
	"encoding/json"
	"time"
)

// Side represents a trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Signal is a strategy's recommendation for one symbol/timeframe/candle.
// Immutable once produced. OpenTime identifies the closed candle that
// triggered it and is part of the dedup key.
type Signal struct {
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	TF         int       `json:"tf"` // timeframe in seconds
	Side       Side      `json:"side"`
	Confidence float64   `json:"confidence"` // [0,1]
	Reason     string    `json:"reason"`
	OpenTime   int64     `json:"open_time"`
	TS         time.Time `json:"ts"`
}

// Key returns the dedup key: one live signal per
// (strategy, symbol, timeframe, candle open time).
func (s Signal) Key() string {
	return s.Strategy + ":" + s.Symbol + ":" + itoa(s.TF) + ":" + itoa64(s.OpenTime)
}

// JSON returns the JSON-encoded signal.
func (s Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
