package syncpolicy

import (
	"strings"
	"testing"
	"time"

	"relay-core/internal/wire"
	"relay-core/pkg/db"
)

func activeSettings(mode wire.SyncMode) db.SlaveSettings {
	s := db.DefaultSlaveSettings()
	s.Enabled = true
	s.SyncMode = mode
	return s
}

func positions() []wire.PositionInfo {
	return []wire.PositionInfo{
		{Ticket: 1, Symbol: "EURUSD", OrderType: wire.OrderBuy, Lots: 1.0, OpenPrice: 1.0900, CurrentPrice: 1.0903},
		{Ticket: 2, Symbol: "USDJPY", OrderType: wire.OrderSell, Lots: 0.5, OpenPrice: 150.00, CurrentPrice: 150.10},
	}
}

func TestPipSize(t *testing.T) {
	if PipSize("EURUSD") != 0.0001 {
		t.Errorf("EURUSD pip = %v", PipSize("EURUSD"))
	}
	if PipSize("USDJPY") != 0.01 {
		t.Errorf("USDJPY pip = %v", PipSize("USDJPY"))
	}
	if PipSize("gbpjpy.pro") != 0.01 {
		t.Errorf("suffixed jpy pair pip = %v", PipSize("gbpjpy.pro"))
	}
}

func TestSkipModeDoesNothing(t *testing.T) {
	res := Plan(positions(), "12345", activeSettings(wire.SyncSkip), db.MasterSettings{}, 0, 0, time.Now())
	if len(res.Commands) != 0 || len(res.Skipped) != 0 {
		t.Fatalf("skip mode produced output: %+v", res)
	}
}

func TestLimitOrderMode(t *testing.T) {
	now := time.Now()
	settings := activeSettings(wire.SyncLimitOrder)
	settings.LimitOrderExpiry = 60

	res := Plan(positions(), "12345", settings, db.MasterSettings{}, 0, 0, now)
	if len(res.Commands) != 2 {
		t.Fatalf("commands = %d, want 2 (skipped: %+v)", len(res.Commands), res.Skipped)
	}
	buy := res.Commands[0]
	if buy.OrderType != wire.OrderBuyLimit {
		t.Errorf("order type = %s, want BuyLimit", buy.OrderType)
	}
	if buy.OpenPrice != 1.0900 {
		t.Errorf("limit price = %v, want master open price", buy.OpenPrice)
	}
	wantExpiry := now.Add(60 * time.Minute).UnixMilli()
	if buy.Expiry != wantExpiry {
		t.Errorf("expiry = %d, want %d", buy.Expiry, wantExpiry)
	}
	if res.Commands[1].OrderType != wire.OrderSellLimit {
		t.Errorf("sell side order type = %s", res.Commands[1].OrderType)
	}
}

func TestMarketOrderDeviationGate(t *testing.T) {
	settings := activeSettings(wire.SyncMarketOrder)
	settings.MarketSyncMaxPips = 5

	// EURUSD deviates 3 pips (pass), USDJPY deviates 10 pips (skip).
	res := Plan(positions(), "12345", settings, db.MasterSettings{}, 0, 0, time.Now())
	if len(res.Commands) != 1 {
		t.Fatalf("commands = %d, want 1", len(res.Commands))
	}
	if res.Commands[0].Ticket != 1 || res.Commands[0].OrderType != wire.OrderBuy {
		t.Errorf("unexpected command: %+v", res.Commands[0])
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(res.Skipped))
	}
	if res.Skipped[0].Ticket != 2 || !strings.Contains(res.Skipped[0].Reason, "deviation") {
		t.Errorf("unexpected skip: %+v", res.Skipped[0])
	}
}

func TestSyncCommandsRunThroughPipeline(t *testing.T) {
	settings := activeSettings(wire.SyncMarketOrder)
	settings.LotMultiplier = 0.5
	settings.Filters.BlockedSymbols = []string{"USDJPY"}

	res := Plan(positions(), "12345", settings, db.MasterSettings{}, 0, 0, time.Now())
	if len(res.Commands) != 1 {
		t.Fatalf("commands = %d, want 1 (skipped: %+v)", len(res.Commands), res.Skipped)
	}
	if res.Commands[0].Lots != 0.50 {
		t.Errorf("lots = %v, want 0.50", res.Commands[0].Lots)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Symbol != "USDJPY" {
		t.Errorf("blocked symbol not skipped: %+v", res.Skipped)
	}
}
