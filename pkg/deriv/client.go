// Package deriv implements a websocket client for the Deriv trading API.
//
// The client maintains a single connection with heartbeat and capped-backoff
// reconnect, re-authorizes and resubscribes after every reconnect, and
// correlates request/response pairs via req_id. Market events (ticks,
// balance updates, contract settlements) are delivered through callbacks.
package deriv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"derivtrader/internal/model"
)

const (
	heartbeatInterval = 10 * time.Second
	callTimeout       = 15 * time.Second
	maxBackoff        = 30 * time.Second
)

// Config configures the client.
type Config struct {
	Endpoint string // e.g. "wss://ws.derivws.com/websockets/v3"
	AppID    string
	Token    string // API token; empty for unauthenticated tick feeds
}

// Client is a Deriv websocket API client. It implements model.OrderPlacer
// and model.Subscriber.
type Client struct {
	cfg Config

	mu       sync.Mutex
	conn     *websocket.Conn
	reqSeq   int64
	pending  map[int64]chan json.RawMessage
	tickSubs map[string]bool

	// Callbacks. Set before Run; invoked from the read loop.
	OnTick        func(model.Tick)
	OnBalance     func(model.Balance)
	OnTradeUpdate func(model.TradeUpdate)
	OnConnect     func()
	OnDisconnect  func()
	OnReconnect   func() // fires on each reconnect attempt, for metrics
}

// NewClient creates a client. Call Run to connect.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:      cfg,
		pending:  make(map[int64]chan json.RawMessage),
		tickSubs: make(map[string]bool),
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	MsgType string          `json:"msg_type"`
	ReqID   int64           `json:"req_id"`
	Error   *apiError       `json:"error"`
	Tick    json.RawMessage `json:"tick"`
	Balance json.RawMessage `json:"balance"`
	POC     json.RawMessage `json:"proposal_open_contract"`
	Buy     json.RawMessage `json:"buy"`
}

// Run connects and services the connection until ctx is cancelled,
// reconnecting with capped exponential backoff.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connect(ctx)
		if err == nil {
			backoff = time.Second
			c.readLoop(ctx)
		} else {
			log.Printf("[deriv] connect failed: %v", err)
		}

		if c.OnDisconnect != nil {
			c.OnDisconnect()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	url := fmt.Sprintf("%s?app_id=%s", c.cfg.Endpoint, c.cfg.AppID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.cfg.Token != "" {
		if _, err := c.call(ctx, map[string]interface{}{"authorize": c.cfg.Token}); err != nil {
			conn.Close()
			return fmt.Errorf("authorize: %w", err)
		}
		// Balance and contract settlement streams need an authorized session.
		if err := c.writeJSON(map[string]interface{}{"balance": 1, "subscribe": 1}); err != nil {
			conn.Close()
			return err
		}
	}

	c.mu.Lock()
	symbols := make([]string, 0, len(c.tickSubs))
	for sym := range c.tickSubs {
		symbols = append(symbols, sym)
	}
	c.mu.Unlock()
	for _, sym := range symbols {
		if err := c.writeJSON(map[string]interface{}{"ticks": sym, "subscribe": 1}); err != nil {
			conn.Close()
			return err
		}
	}

	log.Printf("[deriv] connected to %s (%d tick subscriptions restored)", c.cfg.Endpoint, len(symbols))
	if c.OnConnect != nil {
		c.OnConnect()
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	stopHeartbeat := make(chan struct{})
	go c.heartbeat(ctx, stopHeartbeat)
	defer close(stopHeartbeat)
	defer c.failPending()

	for {
		if ctx.Err() != nil {
			conn.Close()
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[deriv] read error: %v", err)
			}
			conn.Close()
			return
		}
		c.route(data)
	}
}

func (c *Client) heartbeat(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeJSON(map[string]interface{}{"ping": 1}); err != nil {
				return
			}
		}
	}
}

func (c *Client) route(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[deriv] malformed message: %v", err)
		return
	}

	// Correlated response for an in-flight call.
	if env.ReqID != 0 {
		c.mu.Lock()
		ch, ok := c.pending[env.ReqID]
		if ok {
			delete(c.pending, env.ReqID)
		}
		c.mu.Unlock()
		if ok {
			ch <- data
			return
		}
	}

	switch env.MsgType {
	case "tick":
		var t struct {
			Symbol string  `json:"symbol"`
			Quote  float64 `json:"quote"`
			Epoch  int64   `json:"epoch"`
		}
		if err := json.Unmarshal(env.Tick, &t); err == nil && c.OnTick != nil {
			c.OnTick(model.Tick{Symbol: t.Symbol, Price: t.Quote, Epoch: t.Epoch})
		}
	case "balance":
		var b struct {
			Balance  float64 `json:"balance"`
			Currency string  `json:"currency"`
		}
		if err := json.Unmarshal(env.Balance, &b); err == nil && c.OnBalance != nil {
			c.OnBalance(model.Balance{Balance: b.Balance, Currency: b.Currency})
		}
	case "proposal_open_contract":
		var poc struct {
			ContractID int64   `json:"contract_id"`
			Underlying string  `json:"underlying"`
			IsSold     int     `json:"is_sold"`
			Profit     float64 `json:"profit"`
		}
		if err := json.Unmarshal(env.POC, &poc); err == nil && c.OnTradeUpdate != nil {
			c.OnTradeUpdate(model.TradeUpdate{
				ContractID: fmt.Sprintf("%d", poc.ContractID),
				Symbol:     poc.Underlying,
				IsClosed:   poc.IsSold == 1,
				Profit:     poc.Profit,
			})
		}
	case "error":
		if env.Error != nil {
			log.Printf("[deriv] api error: %s (%s)", env.Error.Message, env.Error.Code)
		}
	}
}

// SubscribeTicks subscribes to a symbol's tick stream. The subscription
// survives reconnects.
func (c *Client) SubscribeTicks(symbol string) error {
	c.mu.Lock()
	c.tickSubs[symbol] = true
	connected := c.conn != nil
	c.mu.Unlock()

	if !connected {
		return nil // applied on next connect
	}
	return c.writeJSON(map[string]interface{}{"ticks": symbol, "subscribe": 1})
}

// Buy purchases a rise/fall contract for the order and subscribes to its
// settlement updates.
func (c *Client) Buy(ctx context.Context, order model.Order) (model.OrderResult, error) {
	contractType := "CALL"
	if order.Side == model.SideSell {
		contractType = "PUT"
	}

	resp, err := c.call(ctx, map[string]interface{}{
		"buy":   1,
		"price": order.Stake,
		"parameters": map[string]interface{}{
			"contract_type": contractType,
			"symbol":        order.Symbol,
			"amount":        order.Stake,
			"basis":         order.Basis,
			"currency":      "USD",
			"duration":      order.DurationValue,
			"duration_unit": order.DurationUnit,
		},
	})
	if err != nil {
		return model.OrderResult{}, err
	}

	var env envelope
	if err := json.Unmarshal(resp, &env); err != nil {
		return model.OrderResult{}, err
	}
	if env.Error != nil {
		return model.OrderResult{}, fmt.Errorf("buy rejected: %s (%s)", env.Error.Message, env.Error.Code)
	}
	var buy struct {
		ContractID int64   `json:"contract_id"`
		BuyPrice   float64 `json:"buy_price"`
	}
	if err := json.Unmarshal(env.Buy, &buy); err != nil {
		return model.OrderResult{}, err
	}

	// Track the contract so settlement arrives as a proposal_open_contract
	// update.
	if err := c.writeJSON(map[string]interface{}{
		"proposal_open_contract": 1,
		"contract_id":            buy.ContractID,
		"subscribe":              1,
	}); err != nil {
		log.Printf("[deriv] contract %d tracking failed: %v", buy.ContractID, err)
	}

	return model.OrderResult{
		ContractID: fmt.Sprintf("%d", buy.ContractID),
		BuyPrice:   buy.BuyPrice,
		PlacedAt:   time.Now(),
	}, nil
}

// call sends a request with a req_id and waits for the matching response.
func (c *Client) call(ctx context.Context, payload map[string]interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	c.reqSeq++
	id := c.reqSeq
	ch := make(chan json.RawMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload["req_id"] = id
	if err := c.writeJSON(payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(callTimeout):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, errors.New("deriv: request timed out")
	case resp := <-ch:
		var env envelope
		if err := json.Unmarshal(resp, &env); err != nil {
			return nil, err
		}
		if env.Error != nil {
			return nil, fmt.Errorf("%s (%s)", env.Error.Message, env.Error.Code)
		}
		return resp, nil
	}
}

func (c *Client) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("deriv: not connected")
	}
	return c.conn.WriteJSON(payload)
}

// failPending unblocks every in-flight call after a disconnect. A closed
// channel yields a nil payload, which the caller surfaces as an error.
func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan json.RawMessage)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return c.conn.Close()
	}
	return nil
}
