// Package metrics exposes Prometheus metrics and a /healthz endpoint for
// the trading pipeline.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading pipeline.
type Metrics struct {
	TicksTotal   prometheus.Counter
	DroppedTicks prometheus.Counter
	WSReconnects prometheus.Counter

	CandlesTotal *prometheus.CounterVec // labels: tf
	SignalsTotal *prometheus.CounterVec // labels: strategy

	ExecutorOutcomes *prometheus.CounterVec // labels: outcome
	DispatchDur      prometheus.Histogram
	OpenTrades       prometheus.Gauge
	SessionPnL       prometheus.Gauge
	RiskHalts        prometheus.Counter

	RedisBufferedWrites prometheus.Counter
}

// New registers and returns the pipeline metrics.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ticks_total",
			Help: "Total ticks received from the market feed",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_dropped_ticks_total",
			Help: "Ticks dropped (malformed or behind the epoch watermark)",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_candles_total",
			Help: "Closed candles emitted by timeframe",
		}, []string{"tf"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Accepted strategy signals by strategy",
		}, []string{"strategy"}),
		ExecutorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_executor_outcomes_total",
			Help: "Executor results by outcome (dispatched, cooldown, risk, quota, debounce, error)",
		}, []string{"outcome"}),
		DispatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_dispatch_duration_seconds",
			Help:    "Broker order round trip latency",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		OpenTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_trades",
			Help: "Currently open contracts",
		}),
		SessionPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_session_pnl",
			Help: "Realized session profit and loss",
		}),
		RiskHalts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_risk_halts_total",
			Help: "Times the risk manager entered the halted state",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis breaker was open",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.WSReconnects,
		m.CandlesTotal,
		m.SignalsTotal,
		m.ExecutorOutcomes,
		m.DispatchDur,
		m.OpenTrades,
		m.SessionPnL,
		m.RiskHalts,
		m.RedisBufferedWrites,
	)
	return m
}

// HealthStatus represents pipeline health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	JournalOK      bool      `json:"journal_ok"`
	RiskHalted     bool      `json:"risk_halted"`
	PaperMode      bool      `json:"paper_mode"`
	Symbols        []string  `json:"symbols"`

	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), JournalOK: true, RedisConnected: true}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRiskHalted(v bool) {
	h.mu.Lock()
	h.RiskHalted = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPaperMode(v bool) {
	h.mu.Lock()
	h.PaperMode = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal pings the journal database and records latency and health.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes. Either handle may
// be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckJournal(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.WSConnected || !h.RedisConnected || !h.JournalOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if h.RiskHalted {
		overallStatus = "halted"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string   `json:"status"`
		Uptime           string   `json:"uptime"`
		WSConnected      bool     `json:"ws_connected"`
		LastTickTime     string   `json:"last_tick_time"`
		TickAge          string   `json:"tick_age"`
		RedisConnected   bool     `json:"redis_connected"`
		RedisLatencyMs   float64  `json:"redis_latency_ms"`
		JournalOK        bool     `json:"journal_ok"`
		JournalLatencyMs float64  `json:"journal_latency_ms"`
		RiskHalted       bool     `json:"risk_halted"`
		PaperMode        bool     `json:"paper_mode"`
		Symbols          []string `json:"symbols"`
		LastCheckAt      string   `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:      h.WSConnected,
		LastTickTime:     h.LastTickTime.Format(time.RFC3339),
		TickAge:          tickAge,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		RiskHalted:       h.RiskHalted,
		PaperMode:        h.PaperMode,
		Symbols:          h.Symbols,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
