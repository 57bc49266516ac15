package strategy

import (
	"fmt"
	"math"

	"derivtrader/internal/indicator"
	"derivtrader/internal/model"
)

// bodyFloor keeps wick-to-body ratios finite on doji-like candles.
const bodyFloor = 1e-5

func closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func signal(side model.Side, confidence float64, reason string) *model.Signal {
	return &model.Signal{Side: side, Confidence: confidence, Reason: reason}
}

// EMACross fires when the fast EMA crosses the slow EMA and the triggering
// candle closed in the direction of the cross.
type EMACross struct {
	Fast int
	Slow int
}

func NewEMACross(fast, slow int) *EMACross {
	if fast <= 0 {
		fast = 9
	}
	if slow <= fast {
		slow = 29
	}
	return &EMACross{Fast: fast, Slow: slow}
}

func (s *EMACross) Name() string { return "ema_cross" }

func (s *EMACross) Evaluate(ctx Context) *model.Signal {
	candles := ctx.Series()
	if len(candles) < s.Slow+2 {
		return nil
	}
	cl := closes(candles)
	fast := indicator.EMA(cl, s.Fast)
	slow := indicator.EMA(cl, s.Slow)
	i := len(cl) - 1
	c := candles[i]

	if indicator.CrossedUp(fast[i-1], fast[i], slow[i-1], slow[i]) && c.Bullish() {
		return signal(model.SideBuy, 0.75,
			fmt.Sprintf("EMA%d crossed above EMA%d with bullish close", s.Fast, s.Slow))
	}
	if indicator.CrossedDown(fast[i-1], fast[i], slow[i-1], slow[i]) && !c.Bullish() && c.Close != c.Open {
		return signal(model.SideSell, 0.75,
			fmt.Sprintf("EMA%d crossed below EMA%d with bearish close", s.Fast, s.Slow))
	}
	return nil
}

// MACDCross fires when the MACD line crosses its signal line and the
// triggering candle confirms the direction.
type MACDCross struct {
	Fast, Slow, Signal int
}

func NewMACDCross() *MACDCross { return &MACDCross{Fast: 12, Slow: 26, Signal: 9} }

func (s *MACDCross) Name() string { return "macd_cross" }

func (s *MACDCross) Evaluate(ctx Context) *model.Signal {
	candles := ctx.Series()
	if len(candles) < s.Slow+s.Signal+2 {
		return nil
	}
	m := indicator.MACD(closes(candles), s.Fast, s.Slow, s.Signal)
	i := len(candles) - 1
	c := candles[i]

	if indicator.CrossedUp(m.Line[i-1], m.Line[i], m.Signal[i-1], m.Signal[i]) && c.Bullish() {
		return signal(model.SideBuy, 0.68, "MACD line crossed above signal with bullish close")
	}
	if indicator.CrossedDown(m.Line[i-1], m.Line[i], m.Signal[i-1], m.Signal[i]) && !c.Bullish() && c.Close != c.Open {
		return signal(model.SideSell, 0.68, "MACD line crossed below signal with bearish close")
	}
	return nil
}

// PinBar fires on a rejection candle whose wick is at least WickToBody times
// the body on one side.
type PinBar struct {
	WickToBody float64
}

func NewPinBar(wickToBody float64) *PinBar {
	if wickToBody <= 0 {
		wickToBody = 2
	}
	return &PinBar{WickToBody: wickToBody}
}

func (s *PinBar) Name() string { return "pin_bar" }

func (s *PinBar) Evaluate(ctx Context) *model.Signal {
	candles := ctx.Series()
	if len(candles) == 0 {
		return nil
	}
	c := candles[len(candles)-1]
	body := math.Max(c.Body(), bodyFloor)

	if c.LowerWick() >= s.WickToBody*body {
		return signal(model.SideBuy, 0.6, "long lower wick rejection")
	}
	if c.UpperWick() >= s.WickToBody*body {
		return signal(model.SideSell, 0.6, "long upper wick rejection")
	}
	return nil
}

// EngulfingFade fades an engulfing candle printed at a short-period
// RSI/stochastic extreme.
type EngulfingFade struct{}

func NewEngulfingFade() *EngulfingFade { return &EngulfingFade{} }

func (s *EngulfingFade) Name() string { return "engulfing_fade" }

func (s *EngulfingFade) Evaluate(ctx Context) *model.Signal {
	candles := ctx.Series()
	if len(candles) < 5 {
		return nil
	}
	prev := candles[len(candles)-2]
	curr := candles[len(candles)-1]

	bullEngulf := curr.Open < prev.Close && curr.Close > prev.Open
	bearEngulf := curr.Open > prev.Close && curr.Close < prev.Open
	if !bullEngulf && !bearEngulf {
		return nil
	}

	cl := closes(candles)
	r := last(indicator.RSI(cl, 3))
	st := last(indicator.Stochastic(candles, 5))
	if math.IsNaN(r) || math.IsNaN(st) {
		return nil
	}

	if bearEngulf && r > 70 && st > 80 {
		return signal(model.SideSell, 0.72,
			fmt.Sprintf("bearish engulfing at extreme (RSI3=%.0f stoch=%.0f)", r, st))
	}
	if bullEngulf && r < 30 && st < 20 {
		return signal(model.SideBuy, 0.72,
			fmt.Sprintf("bullish engulfing at extreme (RSI3=%.0f stoch=%.0f)", r, st))
	}
	return nil
}

// InsideBarBreakout fires when the candle after an inside bar closes beyond
// the mother bar's range on expanding volume.
type InsideBarBreakout struct{}

func NewInsideBarBreakout() *InsideBarBreakout { return &InsideBarBreakout{} }

func (s *InsideBarBreakout) Name() string { return "inside_bar_breakout" }

func (s *InsideBarBreakout) Evaluate(ctx Context) *model.Signal {
	candles := ctx.Series()
	if len(candles) < 3 {
		return nil
	}
	mother := candles[len(candles)-3]
	inside := candles[len(candles)-2]
	breakout := candles[len(candles)-1]

	if inside.High > mother.High || inside.Low < mother.Low {
		return nil
	}
	if breakout.Volume <= inside.Volume {
		return nil
	}

	if breakout.Close > mother.High {
		return signal(model.SideBuy, 0.7, "inside bar bullish breakout on volume expansion")
	}
	if breakout.Close < mother.Low {
		return signal(model.SideSell, 0.7, "inside bar bearish breakdown on volume expansion")
	}
	return nil
}

// DojiDivergence fires on a doji whose close disagrees with the MACD
// histogram direction.
type DojiDivergence struct{}

func NewDojiDivergence() *DojiDivergence { return &DojiDivergence{} }

func (s *DojiDivergence) Name() string { return "doji_divergence" }

func (s *DojiDivergence) Evaluate(ctx Context) *model.Signal {
	candles := ctx.Series()
	if len(candles) < 40 {
		return nil
	}
	c := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	rng := c.Range()
	if rng <= 0 {
		rng = 1
	}
	if c.Body()/rng >= 0.15 {
		return nil
	}

	hist := last(indicator.MACD(closes(candles), 12, 26, 9).Hist)
	if math.IsNaN(hist) {
		return nil
	}

	if hist > 0 && c.Close < prev.Close {
		return signal(model.SideBuy, 0.58, "doji against positive MACD histogram")
	}
	if hist < 0 && c.Close > prev.Close {
		return signal(model.SideSell, 0.58, "doji against negative MACD histogram")
	}
	return nil
}

// VolumeExhaustion fades a 5x volume spike that stalls near VWAP with a
// dominant wick.
type VolumeExhaustion struct{}

func NewVolumeExhaustion() *VolumeExhaustion { return &VolumeExhaustion{} }

func (s *VolumeExhaustion) Name() string { return "volume_exhaustion" }

func (s *VolumeExhaustion) Evaluate(ctx Context) *model.Signal {
	candles := ctx.Series()
	if len(candles) < 20 {
		return nil
	}
	c := candles[len(candles)-1]

	window := candles[len(candles)-20:]
	var volSum int64
	for _, x := range window[:len(window)-1] {
		volSum += x.Volume
	}
	avgVol := float64(volSum) / float64(len(window)-1)
	if float64(c.Volume) < avgVol*5 {
		return nil
	}

	vw := last(indicator.VWAP(window))
	if math.IsNaN(vw) {
		return nil
	}

	if c.Close < vw && c.UpperWick() > c.Body() {
		return signal(model.SideSell, 0.66, "volume spike exhaustion below VWAP")
	}
	if c.Close > vw && c.LowerWick() > c.Body() {
		return signal(model.SideBuy, 0.66, "volume spike exhaustion above VWAP")
	}
	return nil
}

// Defaults returns the reference strategy set with its tuned parameters.
func Defaults(emaFast, emaSlow int, wickToBody float64) []Strategy {
	return []Strategy{
		NewEMACross(emaFast, emaSlow),
		NewMACDCross(),
		NewPinBar(wickToBody),
		NewEngulfingFade(),
		NewInsideBarBreakout(),
		NewDojiDivergence(),
		NewVolumeExhaustion(),
	}
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
