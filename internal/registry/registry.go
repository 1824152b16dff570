package registry

import (
	"log"
	"sync"
	"time"

	"relay-core/internal/events"
	"relay-core/internal/wire"
)

// Connection states.
const (
	StateOnline  = "online"
	StateTimeout = "timeout"
	StateOffline = "offline"
)

// Key identifies one terminal. The same account may run a master and a slave
// terminal side by side, so the role is part of the identity.
type Key struct {
	AccountID string
	Role      wire.Role
}

// Connection is the registry's record for one terminal.
type Connection struct {
	AccountID      string    `json:"account_id"`
	Role           wire.Role `json:"role"`
	Broker         string    `json:"broker,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	State          string    `json:"state"`
	Balance        float64   `json:"balance"`
	Equity         float64   `json:"equity"`
	OpenPositions  int       `json:"open_positions"`
	IsTradeAllowed bool      `json:"is_trade_allowed"`
	RegisteredAt   time.Time `json:"registered_at"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
}

// Registry is a guarded map of live terminal connections with a periodic
// heartbeat sweep.
type Registry struct {
	mu    sync.RWMutex
	conns map[Key]*Connection

	heartbeatInterval time.Duration
	missedLimit       int

	bus  *events.Bus
	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithHeartbeat sets the expected heartbeat interval and how many intervals
// may be missed before a connection is marked timed out.
func WithHeartbeat(interval time.Duration, missedLimit int) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.heartbeatInterval = interval
		}
		if missedLimit > 0 {
			r.missedLimit = missedLimit
		}
	}
}

// New creates a registry. The bus may be nil in tests.
func New(bus *events.Bus, opts ...Option) *Registry {
	r := &Registry{
		conns:             make(map[Key]*Connection),
		heartbeatInterval: 10 * time.Second,
		missedLimit:       3,
		bus:               bus,
		stop:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartSweeper launches the background timeout sweep. Stop with Close.
func (r *Registry) StartSweeper() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep(time.Now())
			case <-r.stop:
				return
			}
		}
	}()
}

// Close stops the sweeper.
func (r *Registry) Close() {
	close(r.stop)
	r.wg.Wait()
}

// Register inserts or replaces a connection record. Duplicate registration is
// last-writer-wins with a logged conflict.
func (r *Registry) Register(msg *wire.Register) *Connection {
	now := time.Now()
	key := Key{AccountID: msg.AccountID, Role: msg.Role}

	r.mu.Lock()
	if prev, ok := r.conns[key]; ok && prev.State == StateOnline {
		log.Printf("[REGISTRY] duplicate register for %s/%s, replacing previous session", msg.AccountID, msg.Role)
	}
	conn := &Connection{
		AccountID:     msg.AccountID,
		Role:          msg.Role,
		Broker:        msg.Broker,
		Platform:      msg.Platform,
		State:         StateOnline,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	r.conns[key] = conn
	snapshot := *conn
	r.mu.Unlock()

	r.publishChange(&snapshot)
	return &snapshot
}

// Heartbeat refreshes liveness and account state. An unknown terminal is
// auto-registered from its heartbeat, so a relay restart needs no terminal
// restart. Returns true when the heartbeat changed the connection state.
func (r *Registry) Heartbeat(msg *wire.Heartbeat) (changed bool) {
	now := time.Now()
	key := Key{AccountID: msg.AccountID, Role: msg.Role}

	r.mu.Lock()
	conn, ok := r.conns[key]
	if !ok {
		conn = &Connection{
			AccountID:    msg.AccountID,
			Role:         msg.Role,
			RegisteredAt: now,
		}
		r.conns[key] = conn
		log.Printf("[REGISTRY] auto-registered %s/%s from heartbeat", msg.AccountID, msg.Role)
		changed = true
	}
	if conn.State != StateOnline {
		changed = true
	}
	tradeAllowedFlipped := conn.IsTradeAllowed != msg.IsTradeAllowed
	conn.State = StateOnline
	conn.LastHeartbeat = now
	conn.Balance = msg.Balance
	conn.Equity = msg.Equity
	conn.OpenPositions = msg.OpenPositions
	conn.IsTradeAllowed = msg.IsTradeAllowed
	if msg.Broker != "" {
		conn.Broker = msg.Broker
	}
	if msg.Platform != "" {
		conn.Platform = msg.Platform
	}
	snapshot := *conn
	r.mu.Unlock()

	if changed || tradeAllowedFlipped {
		r.publishChange(&snapshot)
	}
	return changed || tradeAllowedFlipped
}

// Unregister marks a terminal offline. The record is kept so the dashboard
// still shows the last known account state.
func (r *Registry) Unregister(accountID string, role wire.Role) {
	key := Key{AccountID: accountID, Role: role}

	r.mu.Lock()
	conn, ok := r.conns[key]
	if !ok || conn.State == StateOffline {
		r.mu.Unlock()
		return
	}
	conn.State = StateOffline
	snapshot := *conn
	r.mu.Unlock()

	log.Printf("[REGISTRY] %s/%s unregistered", accountID, role)
	r.publishChange(&snapshot)
}

// Sweep marks connections whose heartbeat is older than
// interval*missedLimit as timed out. Exposed for tests; the sweeper
// goroutine calls it on every tick.
func (r *Registry) Sweep(now time.Time) []Connection {
	cutoff := now.Add(-r.heartbeatInterval * time.Duration(r.missedLimit))

	var expired []Connection
	r.mu.Lock()
	for _, conn := range r.conns {
		if conn.State == StateOnline && conn.LastHeartbeat.Before(cutoff) {
			conn.State = StateTimeout
			expired = append(expired, *conn)
		}
	}
	r.mu.Unlock()

	for i := range expired {
		log.Printf("[REGISTRY] %s/%s heartbeat timeout", expired[i].AccountID, expired[i].Role)
		r.publishChange(&expired[i])
	}
	return expired
}

// Get returns a snapshot of one connection.
func (r *Registry) Get(accountID string, role wire.Role) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[Key{AccountID: accountID, Role: role}]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// IsOnline reports whether the terminal is currently online.
func (r *Registry) IsOnline(accountID string, role wire.Role) bool {
	conn, ok := r.Get(accountID, role)
	return ok && conn.State == StateOnline
}

// List returns snapshots of all known connections.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, *conn)
	}
	return out
}

func (r *Registry) publishChange(conn *Connection) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.EventConnectionChange, events.ConnectionChange{
		AccountID: conn.AccountID,
		Role:      conn.Role,
		State:     conn.State,
		Timestamp: time.Now().UnixMilli(),
	})
}
