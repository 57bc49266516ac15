package strategy

import (
	"testing"

	"derivtrader/internal/model"
)

// stub always signals BUY with a fixed confidence.
type stub struct{ name string }

func (s stub) Name() string { return s.name }
func (s stub) Evaluate(ctx Context) *model.Signal {
	return &model.Signal{Side: model.SideBuy, Confidence: 0.9, Reason: "stub"}
}

func stubContext(openTime int64) Context {
	return Context{
		Symbol:   "R_50",
		TF:       60,
		OpenTime: openTime,
		Candles:  map[int][]model.Candle{60: {{OpenTime: openTime, Closed: true}}},
	}
}

func TestEngine_DedupPerClosedCandle(t *testing.T) {
	e := NewEngine(stub{name: "s1"})
	ctx := stubContext(1700000040)

	first := e.Run(ctx)
	if len(first) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(first))
	}

	// Identical context again: the dedup key already exists.
	if again := e.Run(ctx); len(again) != 0 {
		t.Errorf("expected no duplicate signal, got %d", len(again))
	}

	// A later candle produces a fresh signal.
	if next := e.Run(stubContext(1700000100)); len(next) != 1 {
		t.Errorf("expected signal for new candle, got %d", len(next))
	}
}

func TestEngine_SignalStamping(t *testing.T) {
	e := NewEngine(stub{name: "s1"})
	sigs := e.Run(stubContext(1700000040))
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal")
	}
	sig := sigs[0]
	if sig.Strategy != "s1" || sig.Symbol != "R_50" || sig.TF != 60 || sig.OpenTime != 1700000040 {
		t.Errorf("signal not stamped with context fields: %+v", sig)
	}
	if sig.TS.IsZero() {
		t.Errorf("signal timestamp not set")
	}
}

func TestEngine_DisableStrategy(t *testing.T) {
	e := NewEngine(stub{name: "s1"}, stub{name: "s2"})

	e.SetEnabled("s1", false)
	sigs := e.Run(stubContext(1700000040))
	if len(sigs) != 1 || sigs[0].Strategy != "s2" {
		t.Fatalf("expected only s2 to fire, got %+v", sigs)
	}

	e.SetEnabled("s1", true)
	sigs = e.Run(stubContext(1700000100))
	if len(sigs) != 2 {
		t.Errorf("expected both strategies after re-enable, got %d", len(sigs))
	}
}

func TestEngine_UnknownToggleIgnored(t *testing.T) {
	e := NewEngine(stub{name: "s1"})
	e.SetEnabled("nope", true)
	if e.Enabled("nope") {
		t.Errorf("unknown strategy must not become enabled")
	}
}
