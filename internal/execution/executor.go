// Package execution turns accepted signals into broker orders.
//
// The Executor runs every signal through a gate chain (cooldown, risk,
// session quota, debounce) before sizing the stake and dispatching. Gates
// skip the trade with a reason; only broker failures surface as errors.
package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"derivtrader/internal/model"
	"derivtrader/internal/risk"
)

// Config controls gate timing, quotas and contract parameters.
type Config struct {
	BaseStake     float64
	CooldownMs    int64 // per-symbol lockout after a dispatch
	DebounceMs    int64 // suppression window for a repeated identical signal
	MaxRuns       int   // session dispatch quota, 0 = unlimited
	DurationValue int
	DurationUnit  string // "t", "s", "m"
	Basis         string // "stake" or "payout"
}

// DefaultConfig returns the reference executor settings.
func DefaultConfig() Config {
	return Config{
		BaseStake:     1,
		CooldownMs:    60_000,
		DebounceMs:    1_200,
		MaxRuns:       0,
		DurationValue: 5,
		DurationUnit:  "t",
		Basis:         "stake",
	}
}

// Result reports what happened to a signal. Skipped results carry the gate
// reason; dispatched results carry the broker acknowledgement.
type Result struct {
	Skipped bool
	Reason  string
	Order   model.Order
	Placed  model.OrderResult
}

type openPosition struct {
	symbol string
	stake  float64
}

// Executor serializes signal handling and owns the dispatch gates. Callers
// may invoke Execute from multiple goroutines; gate state is mutex guarded.
type Executor struct {
	mu  sync.Mutex
	cfg Config

	risk   *risk.Manager
	mart   *risk.Martingale
	placer model.OrderPlacer

	journal *Journal // optional

	cooldownUntil map[string]time.Time
	lastSignalKey string
	lastSignalAt  time.Time
	runs          int
	nextStake     float64
	open          map[string]openPosition

	now func() time.Time

	// OnDispatch is called after each successful dispatch. Optional.
	OnDispatch func(model.Signal, model.Order)
}

// NewExecutor creates an Executor. journal may be nil.
func NewExecutor(cfg Config, rm *risk.Manager, mart *risk.Martingale, placer model.OrderPlacer, journal *Journal) *Executor {
	return &Executor{
		cfg:           cfg,
		risk:          rm,
		mart:          mart,
		placer:        placer,
		journal:       journal,
		cooldownUntil: make(map[string]time.Time),
		nextStake:     cfg.BaseStake,
		open:          make(map[string]openPosition),
		now:           time.Now,
	}
}

// Execute runs the gate chain for sig and dispatches if every gate passes.
// volatility is the symbol's instantaneous volatility at signal time.
func (e *Executor) Execute(ctx context.Context, sig model.Signal, volatility float64) (Result, error) {
	e.mu.Lock()
	now := e.now()

	if until, ok := e.cooldownUntil[sig.Symbol]; ok && now.Before(until) {
		e.mu.Unlock()
		return Result{Skipped: true, Reason: "cooldown active"}, nil
	}

	openCount := len(e.open)
	e.mu.Unlock()

	if ok, reason := e.risk.CanTrade(sig.Symbol, openCount, volatility); !ok {
		return Result{Skipped: true, Reason: reason}, nil
	}

	e.mu.Lock()
	if e.cfg.MaxRuns > 0 && e.runs >= e.cfg.MaxRuns {
		e.mu.Unlock()
		return Result{Skipped: true, Reason: "session run quota reached"}, nil
	}
	// The debounce suppresses a repeat of the same signal only; signals
	// differing in strategy, symbol, side, or second proceed independently.
	sigKey := fmt.Sprintf("%s|%s|%s|%d", sig.Strategy, sig.Symbol, sig.Side, now.Unix())
	if sigKey == e.lastSignalKey && now.Sub(e.lastSignalAt) < time.Duration(e.cfg.DebounceMs)*time.Millisecond {
		e.mu.Unlock()
		return Result{Skipped: true, Reason: "debounce window"}, nil
	}

	order := model.Order{
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Stake:         e.nextStake,
		DurationValue: e.cfg.DurationValue,
		DurationUnit:  e.cfg.DurationUnit,
		Basis:         e.cfg.Basis,
	}

	// The cooldown and debounce arm on the attempt, not on success, so a
	// failing broker call cannot be hammered.
	e.cooldownUntil[sig.Symbol] = now.Add(time.Duration(e.cfg.CooldownMs) * time.Millisecond)
	e.lastSignalKey = sigKey
	e.lastSignalAt = now
	e.runs++
	e.mu.Unlock()

	placed, err := e.placer.Buy(ctx, order)
	if err != nil {
		log.Printf("[executor] dispatch failed for %s %s: %v", sig.Symbol, sig.Side, err)
		return Result{Order: order}, err
	}

	e.mu.Lock()
	e.open[placed.ContractID] = openPosition{symbol: sig.Symbol, stake: order.Stake}
	e.mu.Unlock()

	log.Printf("[executor] dispatched %s %s stake=%.2f contract=%s strategy=%s",
		sig.Symbol, sig.Side, order.Stake, placed.ContractID, sig.Strategy)

	if e.journal != nil {
		if jerr := e.journal.RecordOrder(sig, order, placed); jerr != nil {
			log.Printf("[executor] journal write failed: %v", jerr)
		}
	}
	if e.OnDispatch != nil {
		e.OnDispatch(sig, order)
	}
	return Result{Order: order, Placed: placed}, nil
}

// OnTradeUpdate settles an open contract. The risk manager sees the profit
// and the martingale sizes the next stake off the outcome.
func (e *Executor) OnTradeUpdate(u model.TradeUpdate) {
	if !u.IsClosed {
		return
	}

	e.mu.Lock()
	_, tracked := e.open[u.ContractID]
	delete(e.open, u.ContractID)
	e.mu.Unlock()
	if !tracked {
		return
	}

	e.risk.OnTradeResult(u.Profit)
	stake := e.mart.NextStake(e.cfg.BaseStake, u.Profit >= 0)

	e.mu.Lock()
	e.nextStake = stake
	e.mu.Unlock()

	log.Printf("[executor] contract %s settled profit=%.2f next_stake=%.2f",
		u.ContractID, u.Profit, stake)

	if e.journal != nil {
		if err := e.journal.RecordSettlement(u.ContractID, u.Profit); err != nil {
			log.Printf("[executor] journal settle failed: %v", err)
		}
	}
}

// OpenTrades returns the number of unsettled contracts.
func (e *Executor) OpenTrades() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}

// Runs returns how many dispatches this session has made.
func (e *Executor) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

// ResetSession clears the run counter, cooldowns, and stake progression.
// Open contracts stay tracked so late settlements still route.
func (e *Executor) ResetSession() {
	e.mu.Lock()
	e.runs = 0
	e.cooldownUntil = make(map[string]time.Time)
	e.lastSignalKey = ""
	e.lastSignalAt = time.Time{}
	e.nextStake = e.cfg.BaseStake
	e.mu.Unlock()
	e.mart.Reset()
}

// UpdateConfig swaps in new settings. The next stake re-bases so a stale
// base stake cannot leak through the progression.
func (e *Executor) UpdateConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.nextStake = cfg.BaseStake
	e.mu.Unlock()
	e.mart.Reset()
}
