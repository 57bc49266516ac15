package pipeline

import (
	"context"
	"math"
	"testing"

	"derivtrader/config"
	"derivtrader/internal/candlestore"
	"derivtrader/internal/execution"
	"derivtrader/internal/model"
	"derivtrader/internal/risk"
	"derivtrader/internal/strategy"
)

// alwaysBuy signals BUY with a fixed confidence on every closed candle.
type alwaysBuy struct{ conf float64 }

func (s alwaysBuy) Name() string { return "always_buy" }
func (s alwaysBuy) Evaluate(ctx strategy.Context) *model.Signal {
	if len(ctx.Series()) == 0 {
		return nil
	}
	return &model.Signal{Side: model.SideBuy, Confidence: s.conf, Reason: "test"}
}

type recordingSinks struct {
	candles []model.Candle
	signals []model.Signal
}

func (r *recordingSinks) WriteCandle(symbol string, tf int, c model.Candle) {
	r.candles = append(r.candles, c)
}
func (r *recordingSinks) WriteSignal(sig model.Signal) {
	r.signals = append(r.signals, sig)
}

type fixture struct {
	p     *Pipeline
	paper *execution.PaperBroker
	exec  *execution.Executor
	sinks *recordingSinks
}

func newFixture(t *testing.T, conf float64, mutate func(*config.Settings)) *fixture {
	t.Helper()

	settings := &config.Settings{
		Symbols:              []string{"R_50"},
		Timeframes:           []int{60},
		BaseStake:            1,
		ExecThreshold:        0.72,
		EMAFast:              9,
		EMASlow:              29,
		DurationUnit:         "t",
		MartingaleEnabled:    true,
		MartingaleMultiplier: 2.1,
		MartingaleHardCap:    50,
	}
	if mutate != nil {
		mutate(settings)
	}
	if err := settings.Validate(); err != nil {
		t.Fatal(err)
	}

	rm := risk.NewManager(risk.Limits{
		Enabled:              true,
		DrawdownCap:          1000,
		MaxConsecutiveLosses: 10,
		MaxOpenTrades:        5,
		VolatilityLimit:      0.03,
	})
	mart := risk.NewMartingale(risk.MartingaleConfig{
		Enabled: true, Multiplier: 2.1, MaxSteps: 3, HardCap: 50,
	})
	paper := execution.NewPaperBroker(0.95)

	// Zero cooldown and debounce keep gate timing out of these tests.
	exec := execution.NewExecutor(execution.Config{
		BaseStake: 1, DurationValue: 5, DurationUnit: "t", Basis: "stake",
	}, rm, mart, paper, nil)

	store := candlestore.New([]int{60}, 500)
	engine := strategy.NewEngine(alwaysBuy{conf: conf})
	sinks := &recordingSinks{}

	p := New(config.NewCell(settings), store, engine, exec, rm, sinks, sinks)
	p.Start(context.Background())
	return &fixture{p: p, paper: paper, exec: exec, sinks: sinks}
}

func tick(symbol string, price float64, epoch int64) model.Tick {
	return model.Tick{Symbol: symbol, Price: price, Epoch: epoch}
}

func TestTickToDispatch(t *testing.T) {
	f := newFixture(t, 0.75, nil)
	ctx := context.Background()
	base := int64(1700000040) // aligned to 60s

	f.p.processTick(ctx, tick("R_50", 100.0, base))
	f.p.processTick(ctx, tick("R_50", 100.2, base+30))
	if len(f.sinks.candles) != 0 {
		t.Fatalf("no candle should close yet, got %d", len(f.sinks.candles))
	}

	f.p.processTick(ctx, tick("R_50", 100.1, base+65))

	if len(f.sinks.candles) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(f.sinks.candles))
	}
	if len(f.sinks.signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(f.sinks.signals))
	}
	if got := f.sinks.signals[0]; got.Symbol != "R_50" || got.TF != 60 || got.OpenTime != base {
		t.Errorf("signal not stamped: %+v", got)
	}
	if fills := f.paper.Fills(); len(fills) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(fills))
	}
	if scan := f.p.Scan(); len(scan) != 1 {
		t.Errorf("scanner must hold the latest signal, got %d", len(scan))
	}
}

func TestThresholdBlocksLowConfidence(t *testing.T) {
	f := newFixture(t, 0.60, nil)
	ctx := context.Background()
	base := int64(1700000040)

	f.p.processTick(ctx, tick("R_50", 100.0, base))
	f.p.processTick(ctx, tick("R_50", 100.1, base+65))

	if len(f.sinks.signals) != 1 {
		t.Fatalf("signal must still be published, got %d", len(f.sinks.signals))
	}
	if fills := f.paper.Fills(); len(fills) != 0 {
		t.Errorf("below-threshold signal must not dispatch, got %d fills", len(fills))
	}
}

func TestFocusSymbolBoost(t *testing.T) {
	f := newFixture(t, 0.70, func(s *config.Settings) {
		s.FocusSymbol = "R_50"
	})
	ctx := context.Background()
	base := int64(1700000040)

	f.p.processTick(ctx, tick("R_50", 100.0, base))
	f.p.processTick(ctx, tick("R_50", 100.1, base+65))

	if len(f.sinks.signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(f.sinks.signals))
	}
	if got := f.sinks.signals[0].Confidence; math.Abs(got-0.75) > 1e-9 {
		t.Errorf("focus boost not applied, confidence = %v", got)
	}
	// 0.70 alone is under the 0.72 threshold; the boost is what dispatches.
	if fills := f.paper.Fills(); len(fills) != 1 {
		t.Errorf("boosted signal must dispatch, got %d fills", len(fills))
	}
}

func TestNonFocusSymbolNotBoosted(t *testing.T) {
	f := newFixture(t, 0.70, func(s *config.Settings) {
		s.FocusSymbol = "R_100"
	})
	ctx := context.Background()
	base := int64(1700000040)

	f.p.processTick(ctx, tick("R_50", 100.0, base))
	f.p.processTick(ctx, tick("R_50", 100.1, base+65))

	if fills := f.paper.Fills(); len(fills) != 0 {
		t.Errorf("unboosted 0.70 must stay under threshold, got %d fills", len(fills))
	}
}

func TestVolatilityTracking(t *testing.T) {
	f := newFixture(t, 0.75, nil)
	ctx := context.Background()

	f.p.processTick(ctx, tick("R_50", 100.0, 1700000040))
	if v := f.p.Volatility("R_50"); v != 0 {
		t.Errorf("single tick must leave volatility zero, got %v", v)
	}
	f.p.processTick(ctx, tick("R_50", 102.0, 1700000041))
	if v := f.p.Volatility("R_50"); math.Abs(v-0.02) > 1e-9 {
		t.Errorf("volatility = %v, want 0.02", v)
	}
}

func TestVolatilitySpikeGatesDispatch(t *testing.T) {
	f := newFixture(t, 0.75, nil)
	ctx := context.Background()
	base := int64(1700000040)

	var outcomes []string
	f.p.OnOutcome = func(o string) { outcomes = append(outcomes, o) }

	f.p.processTick(ctx, tick("R_50", 100.0, base))
	// 10% jump closes the candle and trips the 3% volatility gate.
	f.p.processTick(ctx, tick("R_50", 110.0, base+65))

	if fills := f.paper.Fills(); len(fills) != 0 {
		t.Fatalf("volatility spike must block dispatch, got %d fills", len(fills))
	}
	if len(outcomes) != 1 || outcomes[0] != "volatility filter active" {
		t.Errorf("unexpected outcomes: %v", outcomes)
	}
}

func TestEmergencyStopAndReset(t *testing.T) {
	f := newFixture(t, 0.75, nil)
	ctx := context.Background()
	base := int64(1700000040)

	f.p.EmergencyStop()
	f.p.processTick(ctx, tick("R_50", 100.0, base))
	f.p.processTick(ctx, tick("R_50", 100.1, base+65))
	if fills := f.paper.Fills(); len(fills) != 0 {
		t.Fatalf("emergency stop must block dispatch, got %d fills", len(fills))
	}

	f.p.ResetSession()
	f.p.processTick(ctx, tick("R_50", 100.2, base+125))
	if fills := f.paper.Fills(); len(fills) != 1 {
		t.Errorf("expected dispatch after reset, got %d fills", len(fills))
	}
}

func TestBalanceRoutesToRisk(t *testing.T) {
	f := newFixture(t, 0.75, nil)
	f.p.OnBalance(model.Balance{Balance: 500, Currency: "USD"})
	// Nothing to assert directly beyond no panic; the risk manager's state
	// is covered by its own tests. Settlement routing is observable though:
	ctx := context.Background()
	base := int64(1700000040)
	f.p.processTick(ctx, tick("R_50", 100.0, base))
	f.p.processTick(ctx, tick("R_50", 100.1, base+65))

	fills := f.paper.Fills()
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	f.paper.Settle(fills[0].ContractID, false)
	f.p.OnTradeUpdate(<-f.paper.Updates())
	if f.exec.OpenTrades() != 0 {
		t.Errorf("settlement must close the executor position")
	}
}
