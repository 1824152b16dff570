package bridge

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"relay-core/internal/router"
	"relay-core/internal/wire"
)

type captureInbox struct {
	mu   sync.Mutex
	msgs []any
}

func (c *captureInbox) Submit(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *captureInbox) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newTestBridge(t *testing.T) (*captureInbox, *router.Router, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	inbox := &captureInbox{}
	rt := router.New(nil, nil, nil)
	t.Cleanup(rt.Close)

	b := New(inbox, rt, nil, DefaultConfig())
	engine := gin.New()
	engine.GET("/bridge", b.Handle)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return inbox, rt, conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	frame, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestRegisterBindsSessionAndForwardsInbound(t *testing.T) {
	inbox, rt, conn := newTestBridge(t)

	sendMsg(t, conn, &wire.Register{MessageType: wire.KindRegister, AccountID: "12345", Role: wire.RoleMaster})
	key := router.Key{AccountID: "12345", Role: wire.RoleMaster}
	if !waitFor(t, func() bool { return rt.HasSession(key) }) {
		t.Fatal("session not attached after register")
	}

	sendMsg(t, conn, &wire.TradeSignal{Action: wire.ActionOpen, Ticket: 1, Symbol: "EURUSD",
		OrderType: wire.OrderBuy, Lots: 0.1, SourceAccount: "12345"})
	if !waitFor(t, func() bool { return inbox.count() == 2 }) {
		t.Fatalf("inbox count = %d, want 2", inbox.count())
	}
}

func TestHeartbeatAutoBinds(t *testing.T) {
	_, rt, conn := newTestBridge(t)

	sendMsg(t, conn, &wire.Heartbeat{MessageType: wire.KindHeartbeat, AccountID: "67890", Role: wire.RoleSlave})
	key := router.Key{AccountID: "67890", Role: wire.RoleSlave}
	if !waitFor(t, func() bool { return rt.HasSession(key) }) {
		t.Fatal("session not attached after heartbeat")
	}
}

func TestOutboundDelivery(t *testing.T) {
	_, rt, conn := newTestBridge(t)

	sendMsg(t, conn, &wire.Register{MessageType: wire.KindRegister, AccountID: "67890", Role: wire.RoleSlave})
	key := router.Key{AccountID: "67890", Role: wire.RoleSlave}
	if !waitFor(t, func() bool { return rt.HasSession(key) }) {
		t.Fatal("session not attached")
	}

	if err := rt.PublishTrade(key, &wire.TradeSignal{
		Action: wire.ActionOpen, Ticket: 9, Symbol: "EURUSD",
		OrderType: wire.OrderBuy, Lots: 0.2, SourceAccount: "12345",
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("message type = %d", msgType)
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sig, ok := msg.(*wire.TradeSignal)
	if !ok || sig.Ticket != 9 {
		t.Fatalf("unexpected delivery: %+v", msg)
	}
}

func TestSingleMalformedFrameTolerated(t *testing.T) {
	inbox, _, conn := newTestBridge(t)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xc1, 0x00}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	sendMsg(t, conn, &wire.Register{MessageType: wire.KindRegister, AccountID: "12345", Role: wire.RoleMaster})

	if !waitFor(t, func() bool { return inbox.count() == 1 }) {
		t.Fatal("valid frame after garbage was not processed")
	}
}

func TestReconnectSurvivesStaleTeardown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	inbox := &captureInbox{}
	rt := router.New(nil, nil, nil)
	defer rt.Close()

	b := New(inbox, rt, nil, DefaultConfig())
	engine := gin.New()
	engine.GET("/bridge", b.Handle)
	srv := httptest.NewServer(engine)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	sendMsg(t, first, &wire.Register{MessageType: wire.KindRegister, AccountID: "67890", Role: wire.RoleSlave})
	key := router.Key{AccountID: "67890", Role: wire.RoleSlave}
	if !waitFor(t, func() bool { return rt.HasSession(key) }) {
		t.Fatal("first session not attached")
	}

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()
	sendMsg(t, second, &wire.Register{MessageType: wire.KindRegister, AccountID: "67890", Role: wire.RoleSlave})
	if !waitFor(t, func() bool { return inbox.count() == 2 }) {
		t.Fatal("second register not processed")
	}

	// The first socket dies after the reconnect; its teardown must leave
	// the replacement session attached and receiving.
	first.Close()
	time.Sleep(100 * time.Millisecond)
	if !rt.HasSession(key) {
		t.Fatal("reconnected session was detached by the stale teardown")
	}

	if err := rt.PublishTrade(key, &wire.TradeSignal{
		Action: wire.ActionOpen, Ticket: 11, Symbol: "EURUSD",
		OrderType: wire.OrderBuy, Lots: 0.1, SourceAccount: "12345",
	}); err != nil {
		t.Fatalf("publish after reconnect: %v", err)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := second.ReadMessage()
	if err != nil {
		t.Fatalf("read on replacement session: %v", err)
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sig, ok := msg.(*wire.TradeSignal); !ok || sig.Ticket != 11 {
		t.Fatalf("unexpected delivery: %+v", msg)
	}
}

func TestRepeatedDecodeFailuresCloseSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	inbox := &captureInbox{}
	rt := router.New(nil, nil, nil)
	defer rt.Close()

	cfg := DefaultConfig()
	cfg.DecodeFailLimit = 3
	b := New(inbox, rt, nil, cfg)
	engine := gin.New()
	engine.GET("/bridge", b.Handle)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/bridge", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xc1, 0x00}); err != nil {
			t.Fatalf("write garbage: %v", err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected server to close the connection")
	}
	if inbox.count() != 0 {
		t.Errorf("garbage reached the inbox: %d", inbox.count())
	}
}
