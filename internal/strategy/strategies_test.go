package strategy

import (
	"math"
	"testing"

	"derivtrader/internal/model"
)

// mkCandles builds a closed-candle series from consecutive closes, each
// candle opening at the previous close.
func mkCandles(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		if i > 0 {
			prev = closes[i-1]
		}
		out[i] = model.Candle{
			OpenTime: int64(1700000040 + i*60),
			Open:     prev,
			High:     math.Max(prev, c) + 0.01,
			Low:      math.Min(prev, c) - 0.01,
			Close:    c,
			Volume:   10,
			Closed:   true,
		}
	}
	return out
}

func mkContext(candles []model.Candle) Context {
	return Context{
		Symbol:   "R_50",
		TF:       60,
		OpenTime: candles[len(candles)-1].OpenTime,
		Candles:  map[int][]model.Candle{60: candles},
	}
}

func TestEMACross_Buy(t *testing.T) {
	s := &EMACross{Fast: 2, Slow: 3}
	// Declining closes then a sharp bullish candle: fast EMA crosses above
	// slow EMA exactly at the last point.
	ctx := mkContext(mkCandles(10, 9, 8, 7, 20))

	sig := s.Evaluate(ctx)
	if sig == nil {
		t.Fatal("expected BUY signal")
	}
	if sig.Side != model.SideBuy || sig.Confidence != 0.75 {
		t.Errorf("unexpected signal: %+v", sig)
	}
}

func TestEMACross_NoCrossNoSignal(t *testing.T) {
	s := &EMACross{Fast: 2, Slow: 3}
	ctx := mkContext(mkCandles(10, 10, 10, 10, 10, 10))
	if sig := s.Evaluate(ctx); sig != nil {
		t.Errorf("flat series must not signal, got %+v", sig)
	}
}

func TestMACDCross_FiresOnceInVShape(t *testing.T) {
	s := &MACDCross{Fast: 2, Slow: 3, Signal: 2}

	// Fall then sustained rise: somewhere on the way up the MACD line must
	// cross above its signal on a bullish candle.
	closes := []float64{110, 108, 106, 104, 102, 100, 98, 99.5, 101.5, 104, 107, 110.5}
	candles := mkCandles(closes...)

	buys := 0
	for n := 7; n <= len(candles); n++ {
		if sig := s.Evaluate(mkContext(candles[:n])); sig != nil && sig.Side == model.SideBuy {
			buys++
			if !candles[n-1].Bullish() {
				t.Errorf("BUY must confirm on a bullish candle")
			}
		}
	}
	if buys == 0 {
		t.Errorf("expected at least one BUY across the recovery")
	}
}

func TestPinBar_BuyOnLowerWick(t *testing.T) {
	s := NewPinBar(2)
	candles := mkCandles(100, 100.1, 100.2)
	// Body 0.05, lower wick 0.15, 3x the body.
	candles[len(candles)-1] = model.Candle{
		OpenTime: candles[len(candles)-1].OpenTime,
		Open:     100.00, High: 100.05, Low: 99.85, Close: 100.05,
		Volume: 10, Closed: true,
	}

	sig := s.Evaluate(mkContext(candles))
	if sig == nil {
		t.Fatal("expected BUY signal")
	}
	if sig.Side != model.SideBuy {
		t.Errorf("expected BUY, got %s", sig.Side)
	}
	if sig.Confidence != 0.6 {
		t.Errorf("expected confidence 0.6, got %v", sig.Confidence)
	}
}

func TestPinBar_SellOnUpperWick(t *testing.T) {
	s := NewPinBar(2)
	candles := mkCandles(100, 100.1)
	candles[len(candles)-1] = model.Candle{
		Open: 100.05, High: 100.25, Low: 100.00, Close: 100.00,
		Volume: 10, Closed: true,
	}
	sig := s.Evaluate(mkContext(candles))
	if sig == nil || sig.Side != model.SideSell {
		t.Fatalf("expected SELL, got %+v", sig)
	}
}

func TestPinBar_BalancedCandleNoSignal(t *testing.T) {
	s := NewPinBar(2)
	candles := []model.Candle{{
		Open: 100, High: 100.6, Low: 99.4, Close: 100.5, Volume: 10, Closed: true,
	}}
	if sig := s.Evaluate(mkContext(candles)); sig != nil {
		t.Errorf("wick below threshold must not signal, got %+v", sig)
	}
}

func TestEngulfingFade_RequiresEngulfAndExtreme(t *testing.T) {
	s := NewEngulfingFade()

	// No engulfing relationship at all.
	if sig := s.Evaluate(mkContext(mkCandles(100, 101, 102, 103, 104))); sig != nil {
		t.Errorf("no engulfing, expected nil, got %+v", sig)
	}

	// Bullish engulfing but with neutral oscillators: still nil.
	candles := mkCandles(100, 100.5, 100.2, 100.4, 100.3)
	prev := &candles[len(candles)-2]
	prev.Open, prev.Close = 100.4, 100.3
	curr := &candles[len(candles)-1]
	curr.Open, curr.Close = 100.25, 100.45
	curr.High, curr.Low = 100.5, 100.2
	if sig := s.Evaluate(mkContext(candles)); sig != nil {
		t.Errorf("engulfing without extreme, expected nil, got %+v", sig)
	}
}

func TestEngulfingFade_BuyAtOversoldExtreme(t *testing.T) {
	s := NewEngulfingFade()

	// Steady decline drives RSI(3) under 30 and leaves the last close near
	// the bottom of the 5-candle stochastic range; the final candle is a
	// small bullish engulfing of its predecessor.
	candles := []model.Candle{
		{Open: 111, High: 112, Low: 110, Close: 110, Volume: 10, Closed: true},
		{Open: 110, High: 110.5, Low: 107.5, Close: 108, Volume: 10, Closed: true},
		{Open: 108, High: 108.2, Low: 104.8, Close: 105, Volume: 10, Closed: true},
		{Open: 105, High: 105.2, Low: 102.3, Close: 102.5, Volume: 10, Closed: true},
		{Open: 102.2, High: 102.4, Low: 101.8, Close: 102, Volume: 10, Closed: true},
		{Open: 101.9, High: 102.5, Low: 101.7, Close: 102.3, Volume: 10, Closed: true},
	}
	sig := s.Evaluate(mkContext(candles))
	if sig == nil || sig.Side != model.SideBuy {
		t.Fatalf("expected BUY fade at oversold extreme, got %+v", sig)
	}
}

func TestInsideBarBreakout_Buy(t *testing.T) {
	s := NewInsideBarBreakout()
	candles := []model.Candle{
		{Open: 100, High: 102, Low: 98, Close: 101, Volume: 10, Closed: true},      // mother
		{Open: 101, High: 101.5, Low: 99, Close: 100, Volume: 5, Closed: true},     // inside
		{Open: 100, High: 102.6, Low: 99.9, Close: 102.5, Volume: 8, Closed: true}, // breakout
	}
	sig := s.Evaluate(mkContext(candles))
	if sig == nil || sig.Side != model.SideBuy {
		t.Fatalf("expected BUY breakout, got %+v", sig)
	}
}

func TestInsideBarBreakout_NoVolumeExpansionNoSignal(t *testing.T) {
	s := NewInsideBarBreakout()
	candles := []model.Candle{
		{Open: 100, High: 102, Low: 98, Close: 101, Volume: 10, Closed: true},
		{Open: 101, High: 101.5, Low: 99, Close: 100, Volume: 5, Closed: true},
		{Open: 100, High: 102.6, Low: 99.9, Close: 102.5, Volume: 4, Closed: true},
	}
	if sig := s.Evaluate(mkContext(candles)); sig != nil {
		t.Errorf("breakout without volume expansion must not signal, got %+v", sig)
	}
}

func TestDojiDivergence_BuyAgainstPositiveHistogram(t *testing.T) {
	s := NewDojiDivergence()

	// Accelerating uptrend keeps the MACD histogram positive, then a doji
	// closes below the prior close.
	closes := make([]float64, 45)
	price := 100.0
	for i := range closes {
		price *= 1.01
		closes[i] = price
	}
	candles := mkCandles(closes...)
	lastIdx := len(candles) - 1
	prevClose := closes[lastIdx-1]
	candles[lastIdx] = model.Candle{
		OpenTime: candles[lastIdx].OpenTime,
		Open:     prevClose - 0.38,
		Close:    prevClose - 0.40, // body 0.02
		High:     prevClose + 0.6,
		Low:      prevClose - 1.4, // range 2.0 → body/range < 0.15
		Volume:   10,
		Closed:   true,
	}

	sig := s.Evaluate(mkContext(candles))
	if sig == nil || sig.Side != model.SideBuy {
		t.Fatalf("expected BUY divergence, got %+v", sig)
	}
}

func TestVolumeExhaustion_SellBelowVWAP(t *testing.T) {
	s := NewVolumeExhaustion()
	candles := make([]model.Candle, 20)
	for i := range candles {
		candles[i] = model.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, Closed: true}
	}
	// 10x average volume, close below VWAP, dominant upper wick.
	candles[19] = model.Candle{
		Open: 99.5, High: 100.8, Low: 99.1, Close: 99.2, Volume: 100, Closed: true,
	}
	sig := s.Evaluate(mkContext(candles))
	if sig == nil || sig.Side != model.SideSell {
		t.Fatalf("expected SELL exhaustion, got %+v", sig)
	}
}

func TestVolumeExhaustion_NoSpikeNoSignal(t *testing.T) {
	s := NewVolumeExhaustion()
	candles := make([]model.Candle, 20)
	for i := range candles {
		candles[i] = model.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, Closed: true}
	}
	if sig := s.Evaluate(mkContext(candles)); sig != nil {
		t.Errorf("no volume spike, expected nil, got %+v", sig)
	}
}
