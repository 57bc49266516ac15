// Package pipeline wires the tick-to-order flow: ticks fold into candles,
// candle closes trigger strategy evaluation, and accepted signals run the
// executor's gate chain.
//
// Each symbol is served by its own worker goroutine, so per-symbol
// processing is serialized while symbols progress independently. Shared
// state (risk, stake progression, executor gates) is owned by the
// components themselves and guarded internally.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"derivtrader/config"
	"derivtrader/internal/candlestore"
	"derivtrader/internal/execution"
	"derivtrader/internal/model"
	"derivtrader/internal/risk"
	"derivtrader/internal/strategy"
)

const workerBuffer = 256

// focusBoost is added to signal confidence on the configured focus symbol.
const focusBoost = 0.05

// Pipeline routes market events through the decision chain.
type Pipeline struct {
	cfg    *config.Cell
	store  *candlestore.Store
	engine *strategy.Engine
	exec   *execution.Executor
	risk   *risk.Manager

	candleSink model.CandleSink // optional
	signalSink model.SignalSink // optional

	mu         sync.Mutex
	workers    map[string]chan model.Tick
	lastPrice  map[string]float64
	volatility map[string]float64
	scanner    map[string]model.Signal // latest signal per strategy:symbol:tf

	runCtx context.Context
	wg     sync.WaitGroup

	// Metrics hooks (optional, set externally)
	OnTick            func()
	OnDroppedTick     func()
	OnCandleClose     func(tf int)
	OnSignal          func(strategy string)
	OnOutcome         func(outcome string)
	OnDispatchLatency func(time.Duration)
}

// New creates a Pipeline. Sinks may be nil.
func New(cfg *config.Cell, store *candlestore.Store, engine *strategy.Engine,
	exec *execution.Executor, rm *risk.Manager,
	candleSink model.CandleSink, signalSink model.SignalSink) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		engine:     engine,
		exec:       exec,
		risk:       rm,
		candleSink: candleSink,
		signalSink: signalSink,
		workers:    make(map[string]chan model.Tick),
		lastPrice:  make(map[string]float64),
		volatility: make(map[string]float64),
		scanner:    make(map[string]model.Signal),
	}
}

// Start arms the pipeline; workers spawn lazily per symbol and exit when
// ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()
}

// HandleTick routes a tick to its symbol's worker, spawning one on first
// contact. A saturated worker drops the tick rather than stalling the feed.
func (p *Pipeline) HandleTick(tick model.Tick) {
	if p.OnTick != nil {
		p.OnTick()
	}

	p.mu.Lock()
	if p.runCtx == nil || p.runCtx.Err() != nil {
		p.mu.Unlock()
		return
	}
	ch, ok := p.workers[tick.Symbol]
	if !ok {
		ch = make(chan model.Tick, workerBuffer)
		p.workers[tick.Symbol] = ch
		p.wg.Add(1)
		go p.worker(p.runCtx, tick.Symbol, ch)
	}
	p.mu.Unlock()

	select {
	case ch <- tick:
	default:
		log.Printf("[pipeline] worker for %s saturated, dropping tick", tick.Symbol)
		if p.OnDroppedTick != nil {
			p.OnDroppedTick()
		}
	}
}

func (p *Pipeline) worker(ctx context.Context, symbol string, ch <-chan model.Tick) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ch:
			p.processTick(ctx, tick)
		}
	}
}

// processTick is the serialized per-symbol path: volatility update, candle
// fold, and strategy evaluation for every candle that closed.
func (p *Pipeline) processTick(ctx context.Context, tick model.Tick) {
	p.updateVolatility(tick)

	closed := p.store.IngestTick(tick, 1)
	for _, cc := range closed {
		if p.candleSink != nil {
			p.candleSink.WriteCandle(cc.Symbol, cc.TF, cc.Candle)
		}
		if p.OnCandleClose != nil {
			p.OnCandleClose(cc.TF)
		}
		p.evaluate(ctx, cc)
	}
}

func (p *Pipeline) evaluate(ctx context.Context, cc candlestore.ClosedCandle) {
	sctx := strategy.Context{
		Symbol:   cc.Symbol,
		TF:       cc.TF,
		OpenTime: cc.Candle.OpenTime,
		Candles:  closedOnly(p.store.Context(cc.Symbol)),
	}

	settings := p.cfg.Get()
	vol := p.Volatility(cc.Symbol)

	for _, sig := range p.engine.Run(sctx) {
		if settings.FocusSymbol != "" && sig.Symbol == settings.FocusSymbol {
			sig.Confidence = math.Min(1, sig.Confidence+focusBoost)
		}

		p.recordScan(sig)
		if p.OnSignal != nil {
			p.OnSignal(sig.Strategy)
		}
		if p.signalSink != nil {
			p.signalSink.WriteSignal(sig)
		}

		if sig.Confidence < settings.ExecThreshold {
			continue
		}

		start := time.Now()
		res, err := p.exec.Execute(ctx, sig, vol)
		if p.OnDispatchLatency != nil && !res.Skipped && err == nil {
			p.OnDispatchLatency(time.Since(start))
		}
		switch {
		case err != nil:
			p.outcome("error")
		case res.Skipped:
			log.Printf("[pipeline] %s %s skipped: %s", sig.Symbol, sig.Strategy, res.Reason)
			p.outcome(res.Reason)
		default:
			p.outcome("dispatched")
		}
	}
}

func (p *Pipeline) outcome(o string) {
	if p.OnOutcome != nil {
		p.OnOutcome(o)
	}
}

// closedOnly trims the forming candle from every series so strategies only
// ever see immutable history.
func closedOnly(book map[int][]model.Candle) map[int][]model.Candle {
	for tf, series := range book {
		if n := len(series); n > 0 && !series[n-1].Closed {
			book[tf] = series[:n-1]
		}
	}
	return book
}

func (p *Pipeline) updateVolatility(tick model.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.lastPrice[tick.Symbol]; ok && prev > 0 {
		p.volatility[tick.Symbol] = math.Abs(tick.Price-prev) / prev
	}
	p.lastPrice[tick.Symbol] = tick.Price
}

// Volatility returns the symbol's instantaneous volatility (|Δp|/p of the
// last two ticks). Zero until two ticks have arrived.
func (p *Pipeline) Volatility(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volatility[symbol]
}

// LastPrice returns the symbol's most recent tick price, zero if unseen.
func (p *Pipeline) LastPrice(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPrice[symbol]
}

func (p *Pipeline) recordScan(sig model.Signal) {
	p.mu.Lock()
	p.scanner[fmt.Sprintf("%s:%s:%d", sig.Strategy, sig.Symbol, sig.TF)] = sig
	p.mu.Unlock()
}

// Scan returns the latest signal seen per strategy and symbol, for the
// operator's signal overview.
func (p *Pipeline) Scan() []model.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Signal, 0, len(p.scanner))
	for _, sig := range p.scanner {
		out = append(out, sig)
	}
	return out
}

// OnBalance forwards an account balance update to the risk manager.
func (p *Pipeline) OnBalance(b model.Balance) {
	p.risk.OnBalance(b.Balance)
}

// OnTradeUpdate forwards a contract settlement to the executor.
func (p *Pipeline) OnTradeUpdate(u model.TradeUpdate) {
	p.exec.OnTradeUpdate(u)
}

// EmergencyStop blocks all trading until ResetSession.
func (p *Pipeline) EmergencyStop() {
	p.risk.EmergencyStop()
}

// SetPaused toggles the operator pause.
func (p *Pipeline) SetPaused(paused bool) {
	p.risk.SetPaused(paused)
}

// ResetSession re-arms the risk manager and clears the executor's session
// state.
func (p *Pipeline) ResetSession() {
	p.risk.Reset()
	p.exec.ResetSession()
	log.Printf("[pipeline] session reset")
}

// Wait blocks until every worker has exited after context cancellation.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
