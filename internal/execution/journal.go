package execution

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"derivtrader/internal/model"
)

// Journal persists orders and their settlements to SQLite for audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		contract_id  TEXT NOT NULL UNIQUE,
		strategy     TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		stake        REAL NOT NULL,
		duration     INTEGER NOT NULL,
		duration_unit TEXT NOT NULL,
		confidence   REAL NOT NULL,
		reason       TEXT,
		paper        INTEGER NOT NULL DEFAULT 0,
		profit       REAL,
		settled_at   DATETIME,
		placed_at    DATETIME NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders(strategy);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_placed_at ON orders(placed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened order journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordOrder persists a dispatched order.
func (j *Journal) RecordOrder(sig model.Signal, order model.Order, placed model.OrderResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	paper := 0
	if placed.Paper {
		paper = 1
	}
	_, err := j.db.Exec(
		`INSERT INTO orders (contract_id, strategy, symbol, side, stake, duration, duration_unit, confidence, reason, paper, placed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		placed.ContractID,
		sig.Strategy,
		order.Symbol,
		string(order.Side),
		order.Stake,
		order.DurationValue,
		order.DurationUnit,
		sig.Confidence,
		sig.Reason,
		paper,
		placed.PlacedAt.Format(time.RFC3339),
	)
	return err
}

// RecordSettlement attaches the settled profit to an order row.
func (j *Journal) RecordSettlement(contractID string, profit float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`UPDATE orders SET profit = ?, settled_at = ? WHERE contract_id = ?`,
		profit, time.Now().UTC().Format(time.RFC3339), contractID)
	return err
}

// OrderRecord represents a row from the orders table.
type OrderRecord struct {
	ID         int64    `json:"id"`
	ContractID string   `json:"contract_id"`
	Strategy   string   `json:"strategy"`
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Stake      float64  `json:"stake"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Paper      bool     `json:"paper"`
	Profit     *float64 `json:"profit,omitempty"`
	PlacedAt   string   `json:"placed_at"`
	SettledAt  *string  `json:"settled_at,omitempty"`
}

// GetOrders returns the last N orders, newest first.
func (j *Journal) GetOrders(limit int) ([]OrderRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, contract_id, strategy, symbol, side, stake, confidence, reason, paper, profit, placed_at, settled_at
		 FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		var paper int
		if err := rows.Scan(&r.ID, &r.ContractID, &r.Strategy, &r.Symbol, &r.Side,
			&r.Stake, &r.Confidence, &r.Reason, &paper, &r.Profit, &r.PlacedAt, &r.SettledAt); err != nil {
			continue
		}
		r.Paper = paper != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// DB exposes the underlying handle for health probes.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
