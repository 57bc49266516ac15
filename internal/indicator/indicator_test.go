package indicator

import (
	"math"
	"testing"

	"derivtrader/internal/model"
)

func TestSMA_Alignment(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := SMA(values, 3)

	if len(out) != len(values) {
		t.Fatalf("expected aligned output, got len=%d", len(out))
	}
	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Errorf("expected NaN below period, got %v %v", out[0], out[1])
	}
	if out[2] != 2 || out[3] != 3 || out[4] != 4 {
		t.Errorf("unexpected SMA values: %v", out[2:])
	}
}

func TestEMA_SeedIsSMA(t *testing.T) {
	values := []float64{2, 4, 6, 8}
	out := EMA(values, 3)

	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Errorf("expected NaN before seed point")
	}
	if out[2] != 4 {
		t.Errorf("expected seed = SMA of first 3 = 4, got %v", out[2])
	}
	// k = 2/(3+1) = 0.5 → 8*0.5 + 4*0.5 = 6
	if out[3] != 6 {
		t.Errorf("expected 6 after smoothing, got %v", out[3])
	}
}

func TestEMA_InsufficientHistory(t *testing.T) {
	out := EMA([]float64{1, 2}, 5)
	for i, v := range out {
		if !math.IsNaN(v) {
			t.Errorf("index %d: expected NaN, got %v", i, v)
		}
	}
}

func TestRSI_Range(t *testing.T) {
	// Alternating gains/losses plus trends; RSI must stay within [0,100].
	values := []float64{100, 101, 99, 103, 102, 104, 101, 105, 104, 106,
		103, 107, 102, 108, 101, 110, 95, 120, 90, 130}
	out := RSI(values, 14)

	for i, v := range out {
		if math.IsNaN(v) {
			if i > 14 {
				t.Errorf("index %d: expected defined RSI", i)
			}
			continue
		}
		if v < 0 || v > 100 {
			t.Errorf("index %d: RSI %v out of [0,100]", i, v)
		}
	}
}

func TestRSI_AllGains(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	out := RSI(values, 14)
	last := out[len(out)-1]
	if last < 99.9 {
		t.Errorf("expected RSI near 100 on monotonic gains, got %v", last)
	}
	if last > 100 {
		t.Errorf("RSI exceeded 100: %v", last)
	}
}

func TestMACD_Alignment(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + math.Sin(float64(i)/5)*3
	}
	m := MACD(values, 12, 26, 9)

	if len(m.Line) != len(values) || len(m.Signal) != len(values) || len(m.Hist) != len(values) {
		t.Fatalf("MACD series not aligned to input")
	}
	// Line defined from index slow-1 onward.
	if !math.IsNaN(m.Line[24]) {
		t.Errorf("expected NaN line before slow EMA is seeded")
	}
	if math.IsNaN(m.Line[25]) {
		t.Errorf("expected defined line at slow-1")
	}
	// Signal needs signalPeriod defined line points: first at 25+9-1 = 33.
	if !math.IsNaN(m.Signal[32]) {
		t.Errorf("expected NaN signal at 32")
	}
	if math.IsNaN(m.Signal[33]) {
		t.Errorf("expected defined signal at 33")
	}
	for i := range values {
		if !math.IsNaN(m.Hist[i]) && math.Abs(m.Hist[i]-(m.Line[i]-m.Signal[i])) > 1e-12 {
			t.Errorf("index %d: hist != line - signal", i)
		}
	}
}

func TestStochastic_Range(t *testing.T) {
	candles := make([]model.Candle, 30)
	price := 100.0
	for i := range candles {
		price += math.Sin(float64(i)) * 2
		candles[i] = model.Candle{Open: price, High: price + 1, Low: price - 1, Close: price + 0.5}
	}
	out := Stochastic(candles, 14)
	for i, v := range out {
		if math.IsNaN(v) {
			continue
		}
		if v < 0 || v > 100 {
			t.Errorf("index %d: stochastic %v out of [0,100]", i, v)
		}
	}
	if !math.IsNaN(out[12]) || math.IsNaN(out[13]) {
		t.Errorf("stochastic should become defined at period-1")
	}
}

func TestStochastic_FlatRange(t *testing.T) {
	candles := make([]model.Candle, 5)
	for i := range candles {
		candles[i] = model.Candle{Open: 100, High: 100, Low: 100, Close: 100}
	}
	out := Stochastic(candles, 3)
	// Degenerate range: the floored denominator must keep the value finite.
	last := out[len(out)-1]
	if math.IsInf(last, 0) || math.IsNaN(last) {
		t.Errorf("expected finite value on flat range, got %v", last)
	}
}

func TestVWAP_Cumulative(t *testing.T) {
	candles := []model.Candle{
		{High: 11, Low: 9, Close: 10, Volume: 1},  // typical 10
		{High: 21, Low: 19, Close: 20, Volume: 3}, // typical 20
	}
	out := VWAP(candles)
	if out[0] != 10 {
		t.Errorf("expected vwap[0]=10, got %v", out[0])
	}
	// (10*1 + 20*3) / 4 = 17.5
	if out[1] != 17.5 {
		t.Errorf("expected vwap[1]=17.5, got %v", out[1])
	}
}

func TestCrossed(t *testing.T) {
	if !CrossedUp(1, 3, 2, 2) {
		t.Errorf("expected crossed up")
	}
	if CrossedUp(3, 4, 2, 2) {
		t.Errorf("no cross: a stayed above b")
	}
	if !CrossedDown(3, 1, 2, 2) {
		t.Errorf("expected crossed down")
	}
	if CrossedUp(math.NaN(), 3, 2, 2) {
		t.Errorf("undefined input must not report a cross")
	}
	// Touch then break counts as a cross (aPrev == bPrev, aNow > bNow).
	if !CrossedUp(2, 3, 2, 2) {
		t.Errorf("expected cross from equal previous values")
	}
}
