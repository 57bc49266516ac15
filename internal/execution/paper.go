package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"derivtrader/internal/model"
)

// PaperFill records a simulated purchase.
type PaperFill struct {
	ContractID string      `json:"contract_id"`
	Order      model.Order `json:"order"`
	EntryPrice float64     `json:"entry_price"`
	PlacedAt   time.Time   `json:"placed_at"`
}

// PaperBroker implements model.OrderPlacer without real broker calls.
// Contracts are settled explicitly via Settle, which emits the same
// TradeUpdate a live broker connection would.
type PaperBroker struct {
	mu      sync.RWMutex
	fills   []PaperFill
	open    map[string]PaperFill
	seq     int64
	payout  float64 // payout ratio on a winning contract
	updates chan model.TradeUpdate

	// MarkPrice supplies the current price for a symbol. When set, Buy
	// records the entry price and StartAutoSettle can judge outcomes.
	MarkPrice func(symbol string) float64
}

// NewPaperBroker creates a paper broker. payoutRatio is the profit per unit
// stake on a win (binary contracts typically pay a little under 1.0).
func NewPaperBroker(payoutRatio float64) *PaperBroker {
	if payoutRatio <= 0 {
		payoutRatio = 0.95
	}
	return &PaperBroker{
		open:    make(map[string]PaperFill),
		payout:  payoutRatio,
		updates: make(chan model.TradeUpdate, 64),
	}
}

// Buy records a simulated purchase and returns a synthetic contract ID.
func (p *PaperBroker) Buy(ctx context.Context, order model.Order) (model.OrderResult, error) {
	var entry float64
	if p.MarkPrice != nil {
		entry = p.MarkPrice(order.Symbol)
	}

	p.mu.Lock()
	p.seq++
	fill := PaperFill{
		ContractID: fmt.Sprintf("PAPER-%d", p.seq),
		Order:      order,
		EntryPrice: entry,
		PlacedAt:   time.Now(),
	}
	p.fills = append(p.fills, fill)
	p.open[fill.ContractID] = fill
	p.mu.Unlock()

	return model.OrderResult{
		ContractID: fill.ContractID,
		BuyPrice:   order.Stake,
		Paper:      true,
		PlacedAt:   fill.PlacedAt,
	}, nil
}

// Settle closes an open paper contract and emits the settlement update.
// A win pays stake*payoutRatio; a loss forfeits the stake.
func (p *PaperBroker) Settle(contractID string, won bool) bool {
	p.mu.Lock()
	fill, ok := p.open[contractID]
	if ok {
		delete(p.open, contractID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	profit := -fill.Order.Stake
	if won {
		profit = fill.Order.Stake * p.payout
	}
	p.updates <- model.TradeUpdate{
		ContractID: contractID,
		Symbol:     fill.Order.Symbol,
		IsClosed:   true,
		Profit:     profit,
	}
	return true
}

// Updates returns the settlement stream.
func (p *PaperBroker) Updates() <-chan model.TradeUpdate { return p.updates }

// Fills returns a snapshot of every simulated purchase.
func (p *PaperBroker) Fills() []PaperFill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]PaperFill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// StartAutoSettle settles every open contract expiry after its purchase.
// The outcome compares the mark price against the entry; a tie loses, as
// binary contracts do.
func (p *PaperBroker) StartAutoSettle(ctx context.Context, expiry time.Duration) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				p.mu.RLock()
				var due []PaperFill
				for _, f := range p.open {
					if now.Sub(f.PlacedAt) >= expiry {
						due = append(due, f)
					}
				}
				p.mu.RUnlock()
				for _, f := range due {
					p.Settle(f.ContractID, p.won(f))
				}
			}
		}
	}()
}

func (p *PaperBroker) won(f PaperFill) bool {
	if p.MarkPrice == nil {
		return false
	}
	exit := p.MarkPrice(f.Order.Symbol)
	if f.Order.Side == model.SideBuy {
		return exit > f.EntryPrice
	}
	return exit < f.EntryPrice
}

// OpenContracts returns the IDs of unsettled paper contracts.
func (p *PaperBroker) OpenContracts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.open))
	for id := range p.open {
		ids = append(ids, id)
	}
	return ids
}
