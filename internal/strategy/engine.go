// Package strategy provides the strategy engine for running trading strategies.
//
// A Strategy receives a closed-candle context and emits at most one Signal.
// The Engine manages strategy registration, enable/disable toggles and the
// once-per-closed-candle dedup guarantee.
package strategy

import (
	"sync"
	"time"

	"derivtrader/internal/model"
)

// Context is the read-only view a strategy evaluates. Candles holds a
// snapshot series per timeframe (seconds); each series contains only closed
// candles, the last one being the candle whose close triggered evaluation.
type Context struct {
	Symbol   string
	TF       int   // timeframe of the triggering candle
	OpenTime int64 // open time of the triggering candle
	Candles  map[int][]model.Candle
}

// Series returns the candle series for the triggering timeframe.
func (c Context) Series() []model.Candle { return c.Candles[c.TF] }

// Strategy is the interface all evaluators implement. Evaluate is a pure
// function of the context: it returns nil or exactly one signal.
type Strategy interface {
	// Name returns the unique strategy identifier.
	Name() string

	// Evaluate inspects the context and returns a signal or nil.
	Evaluate(ctx Context) *model.Signal
}

// Engine runs registered strategies against closed-candle contexts.
type Engine struct {
	mu         sync.Mutex
	strategies []Strategy
	enabled    map[string]bool
	seen       map[string]int64 // dedup key → triggering open time
	pruneLimit int
}

// NewEngine creates an engine with all given strategies enabled.
func NewEngine(strategies ...Strategy) *Engine {
	enabled := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		enabled[s.Name()] = true
	}
	return &Engine{
		strategies: strategies,
		enabled:    enabled,
		seen:       make(map[string]int64),
		pruneLimit: 8192,
	}
}

// SetEnabled toggles a single strategy by name.
func (e *Engine) SetEnabled(name string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.enabled[name]; ok {
		e.enabled[name] = enabled
	}
}

// Enabled reports whether the named strategy is currently enabled.
func (e *Engine) Enabled(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled[name]
}

// Names returns the registered strategy names in registration order.
func (e *Engine) Names() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run evaluates every enabled strategy against the context and returns the
// accepted signals. A signal whose (strategy, symbol, timeframe, openTime)
// key was already produced is discarded silently: each strategy fires at
// most once per closed candle.
func (e *Engine) Run(ctx Context) []model.Signal {
	var out []model.Signal
	now := time.Now()

	for _, s := range e.strategies {
		e.mu.Lock()
		on := e.enabled[s.Name()]
		e.mu.Unlock()
		if !on {
			continue
		}

		sig := s.Evaluate(ctx)
		if sig == nil {
			continue
		}
		sig.Strategy = s.Name()
		sig.Symbol = ctx.Symbol
		sig.TF = ctx.TF
		sig.OpenTime = ctx.OpenTime
		sig.TS = now

		e.mu.Lock()
		k := sig.Key()
		if _, dup := e.seen[k]; dup {
			e.mu.Unlock()
			continue
		}
		e.seen[k] = ctx.OpenTime
		e.pruneLocked(ctx.OpenTime)
		e.mu.Unlock()

		out = append(out, *sig)
	}
	return out
}

// pruneLocked keeps the dedup map bounded by discarding keys whose candles
// have long since aged out of every series. Caller holds e.mu.
func (e *Engine) pruneLocked(nowOpen int64) {
	if len(e.seen) <= e.pruneLimit {
		return
	}
	const horizon = int64(24 * 60 * 60)
	for k, ot := range e.seen {
		if ot < nowOpen-horizon {
			delete(e.seen, k)
		}
	}
}
