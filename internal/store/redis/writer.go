// Package redis publishes closed candles and signals to Redis Streams and
// PubSub for downstream consumers (dashboards, recorders).
//
// Publishing is best effort: the trading pipeline never blocks on Redis. A
// breaker trips after repeated write failures; while it is open, payloads
// are buffered locally and replayed once the connection recovers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"derivtrader/internal/model"
)

const (
	latestTTL     = 30 * time.Minute
	defaultMaxBuf = 10000
	queueSize     = 1024
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

type pendingWrite struct {
	stream string
	latest string
	pubsub string
	maxLen int64
	data   string
}

// Publisher writes candle closes and accepted signals to Redis. It
// implements model.CandleSink and model.SignalSink. Writes are handed to a
// background goroutine through a bounded queue; a full queue drops the write
// so the pipeline worker never blocks on Redis.
type Publisher struct {
	client  *goredis.Client
	breaker *Breaker
	ctx     context.Context
	queue   chan pendingWrite

	mu      sync.Mutex
	buffer  []pendingWrite
	maxBuf  int
	dropped int64

	OnBuffer func()          // optional, called when a write is parked
	OnFlush  func(count int) // optional, called after a replay
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[redis] connected to %s", cfg.Addr)

	p := &Publisher{
		client:  client,
		breaker: NewBreaker(5, 10*time.Second),
		ctx:     ctx,
		queue:   make(chan pendingWrite, queueSize),
		buffer:  make([]pendingWrite, 0, 256),
		maxBuf:  defaultMaxBuf,
	}
	p.breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis] breaker %s -> %s", from, to)
		if to == StateClosed {
			go p.flush()
		}
	}
	go p.run()
	return p, nil
}

// run drains the write queue until the publisher's context ends.
func (p *Publisher) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case w := <-p.queue:
			p.publish(w)
		}
	}
}

// enqueue hands a write to the background goroutine, dropping on overflow.
func (p *Publisher) enqueue(w pendingWrite) {
	select {
	case p.queue <- w:
	default:
		p.mu.Lock()
		p.dropped++
		n := p.dropped
		p.mu.Unlock()
		if n%100 == 1 {
			log.Printf("[redis] write queue full, dropped %d writes so far", n)
		}
	}
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

type candleEnvelope struct {
	Symbol string       `json:"symbol"`
	TF     int          `json:"tf"`
	Candle model.Candle `json:"candle"`
}

// WriteCandle publishes a closed candle for symbol at timeframe tf.
func (p *Publisher) WriteCandle(symbol string, tf int, c model.Candle) {
	data, err := json.Marshal(candleEnvelope{Symbol: symbol, TF: tf, Candle: c})
	if err != nil {
		return
	}

	// Keep roughly 3h of candles per stream.
	maxLen := int64(10800/tf) + 100
	if maxLen < 200 {
		maxLen = 200
	}
	p.enqueue(pendingWrite{
		stream: fmt.Sprintf("candles:%ds:%s", tf, symbol),
		latest: fmt.Sprintf("candles:%ds:latest:%s", tf, symbol),
		pubsub: fmt.Sprintf("pub:candles:%ds:%s", tf, symbol),
		maxLen: maxLen,
		data:   string(data),
	})
}

// WriteSignal publishes an accepted strategy signal.
func (p *Publisher) WriteSignal(sig model.Signal) {
	data := sig.JSON()
	p.enqueue(pendingWrite{
		stream: "signals",
		latest: "signals:latest:" + sig.Symbol,
		pubsub: "pub:signals:" + sig.Symbol,
		maxLen: 2000,
		data:   string(data),
	})
}

func (p *Publisher) publish(w pendingWrite) {
	err := p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.XAdd(p.ctx, &goredis.XAddArgs{
			Stream: w.stream,
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": w.data},
		})
		pipe.Set(p.ctx, w.latest, w.data, latestTTL)
		pipe.Publish(p.ctx, w.pubsub, w.data)
		_, err := pipe.Exec(p.ctx)
		return err
	})
	if err == ErrBreakerOpen {
		p.park(w)
		return
	}
	if err != nil {
		log.Printf("[redis] publish to %s failed: %v", w.stream, err)
	}
}

func (p *Publisher) park(w pendingWrite) {
	p.mu.Lock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, w)
	p.mu.Unlock()
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays parked writes after the breaker closes.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]pendingWrite, 0, 256)
	p.mu.Unlock()

	for _, w := range toFlush {
		p.publish(w)
	}
	log.Printf("[redis] replayed %d buffered writes", len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of parked writes.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// DroppedCount returns the number of writes lost to queue overflow.
func (p *Publisher) DroppedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
