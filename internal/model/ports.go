package model

import "context"

// ── Collaborator Port Interfaces ──
// These interfaces decouple the decision pipeline from the transport and
// storage implementations (Deriv websocket client, Redis, SQLite).

// OrderPlacer submits contract purchases to the broker.
// The implementation owns the request timeout; a timeout surfaces as an error.
type OrderPlacer interface {
	// Buy places a contract purchase and waits for the broker's response.
	Buy(ctx context.Context, order Order) (OrderResult, error)
}

// Subscriber manages tick subscriptions on the feed.
type Subscriber interface {
	// SubscribeTicks requests a tick stream for the symbol.
	SubscribeTicks(symbol string) error
}

// CandleSink receives closed candles for persistence (e.g. Redis streams).
// Implementations must not block the caller.
type CandleSink interface {
	WriteCandle(symbol string, tf int, c Candle)
}

// SignalSink receives accepted signals for persistence.
type SignalSink interface {
	WriteSignal(sig Signal)
}
