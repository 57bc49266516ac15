// Package indicator provides technical indicator calculations over candle data.
//
// Every function returns a series aligned to its input: one value per input
// point, with math.NaN() where there is insufficient history. Keeping all
// series point-aligned is what makes crossover comparisons between two
// indicators well defined.
package indicator

import (
	"math"

	"derivtrader/internal/model"
)

// lossFloor avoids division by zero in RSI and stochastic denominators.
const lossFloor = 1e-9

// SMA returns the arithmetic mean of the trailing period values at each point.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i+1 >= period {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average seeded with the SMA of the
// first period values, then smoothed with k = 2/(period+1).
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	k := 2.0 / float64(period+1)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	prev := seed / float64(period)
	out[period-1] = prev
	for i := period; i < len(values); i++ {
		prev = values[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// RSI returns the Relative Strength Index using Wilder's smoothing: the
// average gain/loss over the first period deltas seeds the series, each
// subsequent delta is smoothed with weight 1/period. Output is in [0,100].
func RSI(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}
	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d >= 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	p := float64(period)
	rs := gains / math.Max(lossFloor, losses)
	out[period] = 100 - 100/(1+rs)
	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		gains = (gains*(p-1) + math.Max(0, d)) / p
		losses = (losses*(p-1) + math.Max(0, -d)) / p
		rs = gains / math.Max(lossFloor, losses)
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// MACDResult holds the three aligned MACD series.
type MACDResult struct {
	Line   []float64
	Signal []float64
	Hist   []float64
}

// MACD returns line = EMA(fast) - EMA(slow), signal = EMA of the defined
// portion of line over signalPeriod, and hist = line - signal.
func MACD(values []float64, fast, slow, signalPeriod int) MACDResult {
	fastE := EMA(values, fast)
	slowE := EMA(values, slow)

	line := nanSeries(len(values))
	compact := make([]float64, 0, len(values))
	for i := range values {
		if !math.IsNaN(fastE[i]) && !math.IsNaN(slowE[i]) {
			line[i] = fastE[i] - slowE[i]
			compact = append(compact, line[i])
		}
	}

	signalCompact := EMA(compact, signalPeriod)
	signal := nanSeries(len(values))
	hist := nanSeries(len(values))
	idx := 0
	for i := range values {
		if math.IsNaN(line[i]) {
			continue
		}
		signal[i] = signalCompact[idx]
		idx++
		if !math.IsNaN(signal[i]) {
			hist[i] = line[i] - signal[i]
		}
	}
	return MACDResult{Line: line, Signal: signal, Hist: hist}
}

// Stochastic returns %K over the trailing period:
// (close - lowestLow) / (highestHigh - lowestLow) * 100. Output is in [0,100].
func Stochastic(candles []model.Candle, period int) []float64 {
	out := nanSeries(len(candles))
	if period <= 0 {
		return out
	}
	for i := range candles {
		if i+1 < period {
			continue
		}
		hi, lo := candles[i].High, candles[i].Low
		for _, c := range candles[i+1-period : i+1] {
			if c.High > hi {
				hi = c.High
			}
			if c.Low < lo {
				lo = c.Low
			}
		}
		out[i] = (candles[i].Close - lo) / math.Max(lossFloor, hi-lo) * 100
	}
	return out
}

// VWAP returns the cumulative volume-weighted average price across the given
// window, using typical price (high+low+close)/3. The accumulation runs over
// the whole input; it is not reset per point.
func VWAP(candles []model.Candle) []float64 {
	out := nanSeries(len(candles))
	pv, vol := 0.0, 0.0
	for i, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * float64(c.Volume)
		vol += float64(c.Volume)
		out[i] = pv / math.Max(1, vol)
	}
	return out
}

// CrossedUp reports whether series a strictly crossed above series b between
// the previous and current points. False if any input is undefined.
func CrossedUp(aPrev, aNow, bPrev, bNow float64) bool {
	if anyNaN(aPrev, aNow, bPrev, bNow) {
		return false
	}
	return aPrev <= bPrev && aNow > bNow
}

// CrossedDown reports whether series a strictly crossed below series b
// between the previous and current points. False if any input is undefined.
func CrossedDown(aPrev, aNow, bPrev, bNow float64) bool {
	if anyNaN(aPrev, aNow, bPrev, bNow) {
		return false
	}
	return aPrev >= bPrev && aNow < bNow
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
