package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"relay-core/internal/api"
	"relay-core/internal/bridge"
	"relay-core/internal/events"
	"relay-core/internal/monitor"
	"relay-core/internal/registry"
	"relay-core/internal/relay"
	"relay-core/internal/router"
	"relay-core/internal/wire"
	"relay-core/pkg/db"
)

// TestEndToEndCopy runs the full stack: two websocket terminals against the
// real HTTP surface, a trade group in SQLite, and a signal flowing from the
// master terminal to the slave terminal through the transform pipeline.
func TestEndToEndCopy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := database.Store()

	if _, err := store.CreateGroup(ctx, "e2e", "12345", db.MasterSettings{}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	settings := db.DefaultSlaveSettings()
	settings.Enabled = true
	settings.LotMultiplier = 0.5
	group, err := store.GetGroupByMaster(ctx, "12345")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if _, err := store.AddMember(ctx, group.ID, "67890", settings); err != nil {
		t.Fatalf("add member: %v", err)
	}

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	reg := registry.New(bus)
	rt := router.New(store, bus, metrics)
	defer rt.Close()

	rl := relay.New(reg, rt, store, bus, metrics)
	if err := rl.Reload(ctx); err != nil {
		t.Fatalf("relay reload: %v", err)
	}
	rl.Start(2)
	defer rl.Stop()

	br := bridge.New(rl, rt, metrics, bridge.DefaultConfig())
	server := api.NewServer(bus, store, rl, reg, metrics, nil, br.Handle, "e2e-secret")
	srv := httptest.NewServer(server.Router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge"

	master := dialTerminal(t, wsURL, "12345", wire.RoleMaster)
	defer master.Close()
	slave := dialTerminal(t, wsURL, "67890", wire.RoleSlave)
	defer slave.Close()

	// Heartbeats bring both sides online; the slave's pairing should reach
	// CONNECTED and receive a config push.
	sendFrame(t, master, &wire.Heartbeat{
		MessageType: wire.KindHeartbeat, AccountID: "12345", Role: wire.RoleMaster,
		Equity: 10000, IsTradeAllowed: true, Timestamp: time.Now().UnixMilli(),
	})
	sendFrame(t, slave, &wire.Heartbeat{
		MessageType: wire.KindHeartbeat, AccountID: "67890", Role: wire.RoleSlave,
		Equity: 5000, IsTradeAllowed: true, Timestamp: time.Now().UnixMilli(),
	})

	cfg := awaitMessage(t, slave, 3*time.Second, func(c *wire.SlaveConfig) bool {
		return c.Status == wire.StatusConnected
	})
	if !cfg.AllowNewOrders {
		t.Error("connected config should allow new orders")
	}
	if cfg.MasterEquity == nil || *cfg.MasterEquity != 10000 {
		t.Errorf("master equity = %v, want 10000", cfg.MasterEquity)
	}

	// A master trade arrives at the slave with the lot multiplier applied.
	sendFrame(t, master, &wire.TradeSignal{
		Action: wire.ActionOpen, Ticket: 7, Symbol: "EURUSD",
		OrderType: wire.OrderBuy, Lots: 1.0, OpenPrice: 1.0900,
		SourceAccount: "12345", Timestamp: time.Now().UnixMilli(),
	})

	sig := awaitMessage(t, slave, 3*time.Second, func(s *wire.TradeSignal) bool {
		return s.Ticket == 7
	})
	if sig.Symbol != "EURUSD" {
		t.Fatalf("unexpected signal: %+v", sig)
	}
	if sig.Lots != 0.50 {
		t.Errorf("lots = %v, want 0.50", sig.Lots)
	}

	// A clean unregister flips the pairing out of CONNECTED and the slave is
	// told to stop opening new orders.
	sendFrame(t, master, &wire.Unregister{
		MessageType: wire.KindUnregister, AccountID: "12345", Role: wire.RoleMaster,
		Timestamp: time.Now().UnixMilli(),
	})

	downCfg := awaitMessage(t, slave, 3*time.Second, func(c *wire.SlaveConfig) bool {
		return c.Status != wire.StatusConnected
	})
	if downCfg.AllowNewOrders {
		t.Error("config after master loss still allows new orders")
	}
	if len(downCfg.WarningCodes) == 0 {
		t.Error("expected a warning code after master loss")
	}
}

func dialTerminal(t *testing.T, url, account string, role wire.Role) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	sendFrame(t, conn, &wire.Register{
		MessageType: wire.KindRegister, AccountID: account, Role: role,
		Timestamp: time.Now().UnixMilli(),
	})
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	frame, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// awaitMessage reads frames until one decodes to T and satisfies the
// predicate, or the deadline passes.
func awaitMessage[T any](t *testing.T, conn *websocket.Conn, timeout time.Duration, match func(T) bool) T {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		msg, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if typed, ok := msg.(T); ok && match(typed) {
			return typed
		}
	}
	var zero T
	t.Fatalf("no matching %T received within %v", zero, timeout)
	return zero
}
