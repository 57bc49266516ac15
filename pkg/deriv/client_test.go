package deriv

import (
	"testing"

	"derivtrader/internal/model"
)

func TestRoute_Tick(t *testing.T) {
	c := NewClient(Config{})
	var got model.Tick
	c.OnTick = func(tk model.Tick) { got = tk }

	c.route([]byte(`{"msg_type":"tick","tick":{"symbol":"R_50","quote":245.67,"epoch":1700000000}}`))

	if got.Symbol != "R_50" || got.Price != 245.67 || got.Epoch != 1700000000 {
		t.Errorf("tick not routed: %+v", got)
	}
}

func TestRoute_Balance(t *testing.T) {
	c := NewClient(Config{})
	var got model.Balance
	c.OnBalance = func(b model.Balance) { got = b }

	c.route([]byte(`{"msg_type":"balance","balance":{"balance":1023.5,"currency":"USD"}}`))

	if got.Balance != 1023.5 || got.Currency != "USD" {
		t.Errorf("balance not routed: %+v", got)
	}
}

func TestRoute_ContractSettlement(t *testing.T) {
	c := NewClient(Config{})
	var got model.TradeUpdate
	c.OnTradeUpdate = func(u model.TradeUpdate) { got = u }

	c.route([]byte(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":12345,"underlying":"R_50","is_sold":1,"profit":0.95}}`))

	if got.ContractID != "12345" || !got.IsClosed || got.Profit != 0.95 {
		t.Errorf("settlement not routed: %+v", got)
	}
}

func TestRoute_OpenContractNotClosed(t *testing.T) {
	c := NewClient(Config{})
	var got model.TradeUpdate
	c.OnTradeUpdate = func(u model.TradeUpdate) { got = u }

	c.route([]byte(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":7,"underlying":"R_25","is_sold":0,"profit":-0.2}}`))

	if got.IsClosed {
		t.Errorf("open contract must not report closed: %+v", got)
	}
}

func TestRoute_MalformedIgnored(t *testing.T) {
	c := NewClient(Config{})
	c.OnTick = func(model.Tick) { t.Error("malformed payload must not reach OnTick") }
	c.route([]byte(`{"msg_type":"tick","tick":"not-an-object"}`))
	c.route([]byte(`not json`))
}

func TestSubscribeTicks_BeforeConnect(t *testing.T) {
	c := NewClient(Config{})
	if err := c.SubscribeTicks("R_50"); err != nil {
		t.Fatalf("pre-connect subscribe must queue, got %v", err)
	}
	if !c.tickSubs["R_50"] {
		t.Errorf("subscription not recorded for replay")
	}
}
