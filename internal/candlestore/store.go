// Package candlestore aggregates ticks into per-timeframe OHLCV candles and
// owns the bounded candle history for every (symbol, timeframe) pair.
//
// The last element of each series is the forming candle; it becomes immutable
// (Closed=true) when a tick arrives for a later bucket, which is also the
// moment a closed-candle event is emitted, exactly once per boundary.
package candlestore

import (
	"log"
	"sort"
	"sync"

	"derivtrader/internal/model"
)

// ClosedCandle is emitted when a timeframe bucket rolls over.
type ClosedCandle struct {
	Symbol string
	TF     int
	Candle model.Candle
}

// Store holds candle series for all symbols across the configured timeframes.
type Store struct {
	mu         sync.RWMutex
	tfs        []int
	maxCandles int
	book       map[string][]model.Candle // key = "symbol:tf"
	lastEpoch  map[string]int64          // per-symbol monotonicity watermark

	// Metrics hooks (optional, set externally)
	OnDroppedTick func()
}

// New creates a Store for the given timeframes (seconds) capping each series
// at maxCandles entries (oldest evicted on overflow).
func New(tfs []int, maxCandles int) *Store {
	return &Store{
		tfs:        tfs,
		maxCandles: maxCandles,
		book:       make(map[string][]model.Candle),
		lastEpoch:  make(map[string]int64),
	}
}

// TFs returns the configured timeframes.
func (s *Store) TFs() []int { return s.tfs }

func key(symbol string, tf int) string {
	return symbol + ":" + itoa(tf)
}

// IngestTick folds a tick into every timeframe's forming candle and returns
// the candles that closed as a result. Malformed ticks (non-finite price) and
// ticks behind the symbol's epoch watermark are dropped with a diagnostic;
// the feed owes non-decreasing epochs per symbol, so a regression means a
// corrupt or replayed message.
func (s *Store) IngestTick(tick model.Tick, volume int64) []ClosedCandle {
	if !tick.Valid() {
		log.Printf("[candlestore] dropping malformed tick %s price=%v epoch=%d",
			tick.Symbol, tick.Price, tick.Epoch)
		if s.OnDroppedTick != nil {
			s.OnDroppedTick()
		}
		return nil
	}
	if volume <= 0 {
		volume = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastEpoch[tick.Symbol]; ok && tick.Epoch < last {
		log.Printf("[candlestore] dropping out-of-order tick %s epoch=%d watermark=%d",
			tick.Symbol, tick.Epoch, last)
		if s.OnDroppedTick != nil {
			s.OnDroppedTick()
		}
		return nil
	}
	s.lastEpoch[tick.Symbol] = tick.Epoch

	var closed []ClosedCandle
	for _, tf := range s.tfs {
		openTime := tick.Epoch - tick.Epoch%int64(tf)
		k := key(tick.Symbol, tf)
		series := s.book[k]

		if n := len(series); n == 0 || series[n-1].OpenTime != openTime {
			if n > 0 && !series[n-1].Closed {
				series[n-1].Closed = true
				closed = append(closed, ClosedCandle{Symbol: tick.Symbol, TF: tf, Candle: series[n-1]})
			}
			series = append(series, model.Candle{
				OpenTime: openTime,
				Open:     tick.Price,
				High:     tick.Price,
				Low:      tick.Price,
				Close:    tick.Price,
				Volume:   volume,
			})
			if len(series) > s.maxCandles {
				series = series[len(series)-s.maxCandles:]
			}
		} else {
			c := &series[n-1]
			if tick.Price > c.High {
				c.High = tick.Price
			}
			if tick.Price < c.Low {
				c.Low = tick.Price
			}
			c.Close = tick.Price
			c.Volume += volume
		}
		s.book[k] = series
	}
	return closed
}

// RecoverMissing merges externally supplied candles (e.g. history backfill
// after a reconnect) into the series by open time. Already-present open times
// are never overwritten; merged candles are marked closed, the series is
// re-sorted and the capacity cap re-applied.
func (s *Store) RecoverMissing(symbol string, tf int, external []model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(symbol, tf)
	series := s.book[k]

	seen := make(map[int64]bool, len(series))
	for _, c := range series {
		seen[c.OpenTime] = true
	}

	added := 0
	for _, c := range external {
		if seen[c.OpenTime] {
			continue
		}
		c.Closed = true
		series = append(series, c)
		seen[c.OpenTime] = true
		added++
	}
	if added == 0 {
		return
	}

	sort.Slice(series, func(i, j int) bool { return series[i].OpenTime < series[j].OpenTime })
	if len(series) > s.maxCandles {
		series = series[len(series)-s.maxCandles:]
	}
	s.book[k] = series
	log.Printf("[candlestore] backfilled %d candles for %s tf=%d", added, symbol, tf)
}

// Candles returns a snapshot copy of the series for one symbol/timeframe.
func (s *Store) Candles(symbol string, tf int) []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.book[key(symbol, tf)]
	cp := make([]model.Candle, len(series))
	copy(cp, series)
	return cp
}

// Context returns snapshot copies of every timeframe's series for a symbol,
// keyed by timeframe seconds. Strategies read these and never mutate them.
func (s *Store) Context(symbol string) map[int][]model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx := make(map[int][]model.Candle, len(s.tfs))
	for _, tf := range s.tfs {
		series := s.book[key(symbol, tf)]
		cp := make([]model.Candle, len(series))
		copy(cp, series)
		ctx[tf] = cp
	}
	return ctx
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [12]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
