// Package bridge terminates terminal connections. Terminals connect over a
// websocket and exchange MessagePack binary frames; the first identity
// message binds the session to its (account, role) topic in the router.
package bridge

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"relay-core/internal/monitor"
	"relay-core/internal/router"
	"relay-core/internal/wire"
)

// Inbox receives decoded inbound messages; the relay implements it.
type Inbox interface {
	Submit(msg any)
}

// Config tunes the bridge timeouts.
type Config struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	DecodeFailLimit int
	MaxMessageBytes int64
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultConfig returns production defaults: writes bounded at 5s so a
// stalled terminal is dropped instead of blocking its drain goroutine.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    5 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    25 * time.Second,
		DecodeFailLimit: wire.DefaultDecodeFailureLimit,
		MaxMessageBytes: 1 << 20,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// Bridge upgrades terminal connections and pumps frames between the socket
// and the relay.
type Bridge struct {
	inbox    Inbox
	router   *router.Router
	metrics  *monitor.SystemMetrics
	cfg      Config
	upgrader websocket.Upgrader
}

// New creates a bridge. Metrics may be nil.
func New(inbox Inbox, rt *router.Router, metrics *monitor.SystemMetrics, cfg Config) *Bridge {
	if cfg.WriteTimeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Bridge{
		inbox:   inbox,
		router:  rt,
		metrics: metrics,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Terminals are not browsers; no origin restriction.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle is the gin handler for the /bridge endpoint.
func (b *Bridge) Handle(c *gin.Context) {
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[BRIDGE] upgrade failed: %v", err)
		return
	}
	s := &session{bridge: b, conn: conn}
	go s.run()
}

// session is one connected terminal.
type session struct {
	bridge *Bridge
	conn   *websocket.Conn

	writeMu sync.Mutex

	bound bool
	key   router.Key
}

// Send delivers one encoded frame to the terminal. The router calls it from
// a single goroutine; the mutex only guards against concurrent pings.
func (s *session) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.bridge.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.bridge.cfg.WriteTimeout))
}

func (s *session) run() {
	cfg := s.bridge.cfg
	defer s.teardown()

	s.conn.SetReadLimit(cfg.MaxMessageBytes)
	s.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := s.ping(); err != nil {
					return
				}
			}
		}
	}()

	failures := wire.NewFailureCounter(cfg.DecodeFailLimit)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		s.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		msg, err := wire.Decode(data)
		if err != nil {
			if s.bridge.metrics != nil {
				s.bridge.metrics.IncrementDecodeFailures()
			}
			if failures.Fail() {
				log.Printf("[BRIDGE] %s: %d consecutive decode failures, closing session",
					s.describe(), failures.Count())
				return
			}
			log.Printf("[BRIDGE] %s: dropped malformed frame: %v", s.describe(), err)
			continue
		}
		failures.Reset()

		s.maybeBind(msg)
		s.bridge.inbox.Submit(msg)
	}
}

// maybeBind attaches the session's outbound topic after the first message
// that carries the terminal's identity.
func (s *session) maybeBind(msg any) {
	if s.bound {
		return
	}
	var key router.Key
	switch m := msg.(type) {
	case *wire.Register:
		key = router.Key{AccountID: m.AccountID, Role: m.Role}
	case *wire.Heartbeat:
		key = router.Key{AccountID: m.AccountID, Role: m.Role}
	default:
		return
	}
	if key.AccountID == "" {
		return
	}
	s.bound = true
	s.key = key
	s.bridge.router.Attach(key, s)
	log.Printf("[BRIDGE] %s/%s session attached", key.AccountID, key.Role)
}

func (s *session) teardown() {
	if s.bound {
		// Only this session's own attachment may be removed; after a quick
		// reconnect the key already belongs to the replacement session.
		s.bridge.router.DetachSession(s.key, s)
		log.Printf("[BRIDGE] %s/%s session detached", s.key.AccountID, s.key.Role)
	}
	s.conn.Close()
}

func (s *session) describe() string {
	if s.bound {
		return s.key.AccountID + "/" + string(s.key.Role)
	}
	return s.conn.RemoteAddr().String()
}
