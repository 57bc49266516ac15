package model

import (
	"encoding/json"
	"math"
)

// Candle represents an OHLCV bucket for a single symbol and timeframe.
// OpenTime is the bucket start in Unix seconds, aligned to the timeframe:
// OpenTime = floor(epoch/tf) * tf.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	Closed   bool    `json:"closed"`
}

// Body returns the absolute open-close distance.
func (c Candle) Body() float64 { return math.Abs(c.Close - c.Open) }

// Range returns the high-low distance.
func (c Candle) Range() float64 { return c.High - c.Low }

// UpperWick returns the distance from the body top to the high.
func (c Candle) UpperWick() float64 { return c.High - math.Max(c.Open, c.Close) }

// LowerWick returns the distance from the low to the body bottom.
func (c Candle) LowerWick() float64 { return math.Min(c.Open, c.Close) - c.Low }

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
