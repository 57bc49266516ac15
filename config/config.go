// Package config loads application settings from the environment (with an
// optional .env file) and holds them in a copy-on-write cell so concurrent
// readers never observe a partially applied update.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// DefaultSymbols are the Deriv markets traded when SYMBOLS is unset.
var DefaultSymbols = []string{"R_10", "R_25", "R_50", "R_75", "R_100", "1HZ100V", "frxXAUUSD"}

// SupportedTimeframes are the candle durations (seconds) the pipeline builds.
var SupportedTimeframes = []int{60, 180, 300}

// Settings holds all application configuration.
type Settings struct {
	// Deriv connection
	DerivAppID    string
	DerivToken    string
	DerivEndpoint string

	// Trading universe
	Symbols     []string
	Timeframes  []int
	FocusSymbol string // optional symbol receiving a confidence boost

	// Execution
	PaperMode     bool
	BaseStake     float64
	CooldownMs    int64
	DebounceMs    int64
	MaxRuns       int
	DurationValue int
	DurationUnit  string
	ExecThreshold float64 // minimum confidence to dispatch

	// Strategy tuning
	EMAFast    int
	EMASlow    int
	WickToBody float64

	// Risk limits
	RiskEnabled          bool
	DrawdownCap          float64
	MaxDrawdownPct       float64
	BalanceFloor         float64
	MaxConsecutiveLosses int
	MaxOpenTrades        int
	VolatilityLimit      float64

	// Martingale
	MartingaleEnabled    bool
	MartingaleMultiplier float64
	MartingaleMaxSteps   int
	MartingaleHardCap    float64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	JournalPath   string
	MetricsAddr   string
	APIAddr       string
	LogFilePath   string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads settings from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	s := &Settings{
		DerivAppID:    getEnv("DERIV_APP_ID", "1089"),
		DerivToken:    os.Getenv("DERIV_TOKEN"),
		DerivEndpoint: getEnv("DERIV_ENDPOINT", "wss://ws.derivws.com/websockets/v3"),

		Symbols:     splitList(getEnv("SYMBOLS", strings.Join(DefaultSymbols, ","))),
		Timeframes:  parseInts(getEnv("TIMEFRAMES", "60,180,300")),
		FocusSymbol: os.Getenv("FOCUS_SYMBOL"),

		PaperMode:     getBool("PAPER_MODE", true),
		BaseStake:     getFloat("BASE_STAKE", 1),
		CooldownMs:    int64(getInt("COOLDOWN_MS", 60000)),
		DebounceMs:    int64(getInt("DEBOUNCE_MS", 1200)),
		MaxRuns:       getInt("MAX_RUNS", 0),
		DurationValue: getInt("DURATION_VALUE", 5),
		DurationUnit:  getEnv("DURATION_UNIT", "t"),
		ExecThreshold: getFloat("EXEC_THRESHOLD", 0.72),

		EMAFast:    getInt("EMA_FAST", 9),
		EMASlow:    getInt("EMA_SLOW", 29),
		WickToBody: getFloat("WICK_TO_BODY", 2),

		RiskEnabled:          getBool("RISK_ENABLED", true),
		DrawdownCap:          getFloat("DRAWDOWN_CAP", 100),
		MaxDrawdownPct:       getFloat("MAX_DRAWDOWN_PCT", 20),
		BalanceFloor:         getFloat("BALANCE_FLOOR", 0),
		MaxConsecutiveLosses: getInt("MAX_CONSEC_LOSSES", 4),
		MaxOpenTrades:        getInt("MAX_OPEN_TRADES", 2),
		VolatilityLimit:      getFloat("VOLATILITY_LIMIT", 0.03),

		MartingaleEnabled:    getBool("MARTINGALE_ENABLED", true),
		MartingaleMultiplier: getFloat("MARTINGALE_MULTIPLIER", 2.1),
		MartingaleMaxSteps:   getInt("MARTINGALE_MAX_STEPS", 3),
		MartingaleHardCap:    getFloat("MARTINGALE_HARD_CAP", 50),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JournalPath:   getEnv("JOURNAL_PATH", "data/orders.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		LogFilePath:   getEnv("LOG_FILE", ""),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		WebhookURL:       os.Getenv("WEBHOOK_URL"),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks settings for internal consistency.
func (s *Settings) Validate() error {
	if len(s.Symbols) == 0 {
		return errors.New("config: no symbols configured")
	}
	if len(s.Timeframes) == 0 {
		return errors.New("config: no timeframes configured")
	}
	for _, tf := range s.Timeframes {
		if !supportedTF(tf) {
			return fmt.Errorf("config: unsupported timeframe %ds", tf)
		}
	}
	if s.BaseStake <= 0 {
		return fmt.Errorf("config: base stake must be positive, got %v", s.BaseStake)
	}
	if s.MartingaleEnabled && s.MartingaleHardCap < s.BaseStake {
		return fmt.Errorf("config: martingale hard cap %v below base stake %v",
			s.MartingaleHardCap, s.BaseStake)
	}
	if s.MartingaleMultiplier <= 1 {
		return fmt.Errorf("config: martingale multiplier must exceed 1, got %v", s.MartingaleMultiplier)
	}
	if s.EMAFast <= 0 || s.EMASlow <= s.EMAFast {
		return fmt.Errorf("config: EMA periods must satisfy 0 < fast < slow, got %d/%d",
			s.EMAFast, s.EMASlow)
	}
	if s.ExecThreshold < 0 || s.ExecThreshold > 1 {
		return fmt.Errorf("config: execution threshold must be in [0,1], got %v", s.ExecThreshold)
	}
	switch s.DurationUnit {
	case "t", "s", "m":
	default:
		return fmt.Errorf("config: unsupported duration unit %q", s.DurationUnit)
	}
	return nil
}

func supportedTF(tf int) bool {
	for _, s := range SupportedTimeframes {
		if tf == s {
			return true
		}
	}
	return false
}

// Cell holds the current Settings behind a pointer swap. Readers get an
// immutable snapshot; updates validate the candidate before publishing it.
type Cell struct {
	mu  sync.RWMutex
	cur *Settings
}

// NewCell creates a Cell seeded with s.
func NewCell(s *Settings) *Cell {
	return &Cell{cur: s}
}

// Get returns the current settings snapshot. Callers must not mutate it.
func (c *Cell) Get() *Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// Update applies fn to a copy of the current settings and publishes the
// result if it validates. The previous snapshot stays visible to in-flight
// readers.
func (c *Cell) Update(fn func(Settings) Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := fn(*c.cur)
	next.Symbols = append([]string(nil), next.Symbols...)
	next.Timeframes = append([]int(nil), next.Timeframes...)
	if err := next.Validate(); err != nil {
		return err
	}
	c.cur = &next
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInts(v string) []int {
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid timeframe value: %q", p)
			continue
		}
		out = append(out, n)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
