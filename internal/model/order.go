package model

import "time"

// Order is a contract purchase request sent to the broker.
// Constructed fresh per execution attempt; never mutated after dispatch.
type Order struct {
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Stake         float64 `json:"stake"` // > 0
	DurationValue int     `json:"duration_value"`
	DurationUnit  string  `json:"duration_unit"` // "t", "s", "m"
	Basis         string  `json:"basis"`         // always "stake"
}

// OrderResult is the broker's acknowledgement of a placed order.
type OrderResult struct {
	ContractID string    `json:"contract_id"`
	BuyPrice   float64   `json:"buy_price"`
	Paper      bool      `json:"paper"` // true for locally simulated fills
	PlacedAt   time.Time `json:"placed_at"`
}

// TradeUpdate reports the state of an open or settled contract.
type TradeUpdate struct {
	ContractID string  `json:"contract_id"`
	Symbol     string  `json:"symbol"`
	IsClosed   bool    `json:"is_closed"`
	Profit     float64 `json:"profit"`
}

// Balance reports the current account balance.
type Balance struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// itoa is a minimal int-to-string without importing strconv in hot path.
func itoa(n int) string { return itoa64(int64(n)) }

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
