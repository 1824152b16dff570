package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"relay-core/internal/events"
)

var dashboardUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEnvelope tags every pushed event with its topic so the dashboard can
// demultiplex a single socket.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	dashboardWriteTimeout = 5 * time.Second
	dashboardPingInterval = 25 * time.Second
)

// handleDashboardWS streams relay events to a dashboard client. Each client
// gets its own subscriptions; a slow client misses events instead of
// stalling the bus.
func (s *Server) handleDashboardWS(c *gin.Context) {
	conn, err := dashboardUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] dashboard ws upgrade failed: %v", err)
		return
	}

	topics := []events.Event{
		events.EventConnectionChange,
		events.EventStatusChange,
		events.EventTradeRelayed,
		events.EventTradeSuppressed,
		events.EventConfigPushed,
		events.EventSendFailure,
		events.EventActivity,
	}

	type tagged struct {
		topic string
		ch    <-chan any
	}
	subs := make([]tagged, 0, len(topics))
	unsubs := make([]func(), 0, len(topics))
	for _, topic := range topics {
		ch, unsub := s.Bus.Subscribe(topic, 64)
		subs = append(subs, tagged{topic: string(topic), ch: ch})
		unsubs = append(unsubs, unsub)
	}

	// Fan the per-topic channels into one stream so a single goroutine owns
	// all writes to the socket.
	merged := make(chan wsEnvelope, 256)
	done := make(chan struct{})
	for _, sub := range subs {
		go func(topic string, ch <-chan any) {
			for {
				select {
				case <-done:
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- wsEnvelope{Type: topic, Data: payload}:
					default:
					}
				}
			}
		}(sub.topic, sub.ch)
	}

	// Discard inbound frames; the read loop only detects disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}()

	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
		conn.Close()
	}()

	pingTicker := time.NewTicker(dashboardPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case env := <-merged:
			conn.SetWriteDeadline(time.Now().Add(dashboardWriteTimeout))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(dashboardWriteTimeout)); err != nil {
				return
			}
		}
	}
}
