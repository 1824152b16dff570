// Package relay wires the registry, transform pipeline, sync policy, status
// engine and router into the message dispatch loop at the heart of the
// process.
package relay

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"relay-core/internal/events"
	"relay-core/internal/monitor"
	"relay-core/internal/registry"
	"relay-core/internal/router"
	"relay-core/internal/syncpolicy"
	"relay-core/internal/transform"
	"relay-core/internal/wire"
	"relay-core/pkg/db"
)

const storeTimeout = 3 * time.Second

// Relay consumes decoded terminal messages and drives everything that
// follows from them.
type Relay struct {
	registry *registry.Registry
	router   *router.Router
	store    *db.Store
	bus      *events.Bus
	metrics  *monitor.SystemMetrics

	state *memberState
	book  *positionBook

	shards []chan any
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates a relay. Call Reload before Start to warm the member snapshot.
func New(reg *registry.Registry, rt *router.Router, store *db.Store, bus *events.Bus, metrics *monitor.SystemMetrics) *Relay {
	return &Relay{
		registry: reg,
		router:   rt,
		store:    store,
		bus:      bus,
		metrics:  metrics,
		state:    newMemberState(),
		book:     newPositionBook(),
		stop:     make(chan struct{}),
	}
}

// Reload refreshes the in-memory group/member snapshot from the store. The
// API layer calls this after every mutation.
func (r *Relay) Reload(ctx context.Context) error {
	if err := r.state.reload(ctx, r.store); err != nil {
		return fmt.Errorf("reload member snapshot: %w", err)
	}
	return nil
}

// Start launches the dispatch workers. Messages from the same account always
// land on the same shard, which preserves per-source processing order while
// separate terminals proceed in parallel.
func (r *Relay) Start(workers int) {
	if workers <= 0 {
		workers = 4
	}
	r.shards = make([]chan any, workers)
	for i := range r.shards {
		ch := make(chan any, 512)
		r.shards[i] = ch
		r.wg.Add(1)
		go r.worker(ch)
	}

	// Connection transitions (including sweeper timeouts) feed back into
	// status evaluation.
	connCh, unsub := r.bus.Subscribe(events.EventConnectionChange, 64)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unsub()
		for {
			select {
			case <-r.stop:
				return
			case ev, ok := <-connCh:
				if !ok {
					return
				}
				if change, ok := ev.(events.ConnectionChange); ok {
					r.reevaluateAccount(change.AccountID, change.Role)
				}
			}
		}
	}()
}

// Stop shuts the workers down. Pending inbox messages are dropped.
func (r *Relay) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// Submit hands one decoded wire message to the dispatch loop. It never
// blocks; when a shard is saturated the message is dropped and counted.
func (r *Relay) Submit(msg any) {
	account := accountOf(msg)
	h := fnv.New32a()
	h.Write([]byte(account))
	shard := r.shards[int(h.Sum32())%len(r.shards)]

	select {
	case shard <- msg:
	default:
		log.Printf("[RELAY] shard queue full, dropping %T from %s", msg, account)
		if r.metrics != nil {
			r.metrics.IncrementFailed()
		}
	}
}

func accountOf(msg any) string {
	switch m := msg.(type) {
	case *wire.Register:
		return m.AccountID
	case *wire.Unregister:
		return m.AccountID
	case *wire.Heartbeat:
		return m.AccountID
	case *wire.TradeSignal:
		return m.SourceAccount
	case *wire.RequestConfig:
		return m.AccountID
	case *wire.PositionSnapshot:
		return m.AccountID
	case *wire.SyncRequest:
		return m.AccountID
	}
	return ""
}

func (r *Relay) worker(ch chan any) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case msg := <-ch:
			r.dispatch(msg)
		}
	}
}

func (r *Relay) dispatch(msg any) {
	switch m := msg.(type) {
	case *wire.Register:
		r.handleRegister(m)
	case *wire.Heartbeat:
		r.handleHeartbeat(m)
	case *wire.Unregister:
		r.handleUnregister(m)
	case *wire.TradeSignal:
		r.handleTrade(m)
	case *wire.PositionSnapshot:
		r.handleSnapshot(m)
	case *wire.SyncRequest:
		r.handleSyncRequest(m)
	case *wire.RequestConfig:
		r.pushConfigFor(m.AccountID, m.Role)
	default:
		log.Printf("[RELAY] unhandled message type %T", msg)
	}
}

func (r *Relay) handleRegister(msg *wire.Register) {
	r.registry.Register(msg)
	r.logActivity("connection", msg.AccountID, fmt.Sprintf("%s terminal %s registered", msg.Role, msg.AccountID))
	r.reevaluateAccount(msg.AccountID, msg.Role)
	r.pushConfigFor(msg.AccountID, msg.Role)
}

func (r *Relay) handleHeartbeat(msg *wire.Heartbeat) {
	if r.registry.Heartbeat(msg) {
		r.reevaluateAccount(msg.AccountID, msg.Role)
		r.pushConfigFor(msg.AccountID, msg.Role)
	}
}

func (r *Relay) handleUnregister(msg *wire.Unregister) {
	r.registry.Unregister(msg.AccountID, msg.Role)
	r.router.Detach(router.Key{AccountID: msg.AccountID, Role: msg.Role})
	r.logActivity("connection", msg.AccountID, fmt.Sprintf("%s terminal %s unregistered", msg.Role, msg.AccountID))
	r.reevaluateAccount(msg.AccountID, msg.Role)
}

func (r *Relay) handleTrade(sig *wire.TradeSignal) {
	r.book.applySignal(sig)

	group, members, ok := r.state.groupFor(sig.SourceAccount)
	if !ok {
		log.Printf("[RELAY] signal from %s ignored, no trade group", sig.SourceAccount)
		return
	}

	masterConn, _ := r.registry.Get(sig.SourceAccount, wire.RoleMaster)
	timer := monitor.NewTimer(r.timerHistogram())

	for i := range members {
		member := members[i]
		if !member.Settings.Enabled || !group.Enabled {
			continue
		}
		r.relayToMember(sig, group, member, masterConn.Equity)
	}
	timer.Stop()

	r.logActivity("trade", sig.SourceAccount,
		fmt.Sprintf("%s %s %.2f lots ticket=%d", sig.Action, sig.Symbol, sig.Lots, sig.Ticket))
}

func (r *Relay) timerHistogram() *monitor.LatencyHistogram {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.TransformLatency
}

func (r *Relay) relayToMember(sig *wire.TradeSignal, group db.TradeGroup, member db.Member, masterEquity float64) {
	slaveConn, _ := r.registry.Get(member.SlaveAccount, wire.RoleSlave)

	out, err := transform.Apply(transform.Input{
		Signal:       *sig,
		Settings:     member.Settings,
		Master:       group.MasterSettings,
		SlaveEquity:  slaveConn.Equity,
		MasterEquity: masterEquity,
		Now:          time.Now(),
	})
	if err != nil {
		log.Printf("[RELAY] transform for %s failed: %v", member.SlaveAccount, err)
		if r.metrics != nil {
			r.metrics.IncrementFailed()
		}
		return
	}
	if out.Suppressed {
		if r.metrics != nil {
			r.metrics.IncrementSuppressed()
		}
		r.bus.Publish(events.EventTradeSuppressed, events.TradeSuppressed{
			SourceAccount: sig.SourceAccount,
			TargetAccount: member.SlaveAccount,
			Action:        sig.Action,
			Ticket:        sig.Ticket,
			Reason:        out.Reason,
			Timestamp:     time.Now().UnixMilli(),
		})
		return
	}

	key := router.Key{AccountID: member.SlaveAccount, Role: wire.RoleSlave}
	if err := r.router.PublishTrade(key, out.Command); err != nil {
		log.Printf("[RELAY] publish to %s failed: %v", member.SlaveAccount, err)
		payload, encErr := wire.Encode(out.Command)
		if encErr == nil {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if dlErr := r.store.RecordSendFailure(ctx, member.SlaveAccount, "TradeSignal", payload, err.Error(), 0); dlErr != nil {
				log.Printf("[RELAY] dead-letter write failed: %v", dlErr)
			}
			cancel()
		}
		if r.metrics != nil {
			r.metrics.IncrementFailed()
		}
		return
	}

	if r.metrics != nil {
		r.metrics.IncrementRelayed()
	}
	r.bus.Publish(events.EventTradeRelayed, events.TradeRelayed{
		SourceAccount: sig.SourceAccount,
		TargetAccount: member.SlaveAccount,
		Action:        out.Command.Action,
		Ticket:        out.Command.Ticket,
		Symbol:        out.Command.Symbol,
		Lots:          out.Command.Lots,
		Timestamp:     time.Now().UnixMilli(),
	})
}

func (r *Relay) handleSnapshot(msg *wire.PositionSnapshot) {
	r.book.replace(msg.AccountID, msg.Positions)

	group, members, ok := r.state.groupFor(msg.AccountID)
	if !ok || !group.Enabled {
		return
	}
	for _, member := range members {
		if !member.Settings.Enabled {
			continue
		}
		key := router.Key{AccountID: member.SlaveAccount, Role: wire.RoleSlave}
		if !r.router.HasSession(key) {
			continue
		}
		if err := r.router.PublishConfig(key, wire.KindPositionSnapshot, msg); err != nil {
			log.Printf("[RELAY] snapshot forward to %s failed: %v", member.SlaveAccount, err)
		}
	}
}

func (r *Relay) handleSyncRequest(msg *wire.SyncRequest) {
	paired := false
	for _, p := range r.state.pairingsFor(msg.AccountID) {
		if p.Group.MasterAccount == msg.MasterAccount {
			paired = true
			break
		}
	}
	if !paired {
		log.Printf("[RELAY] sync request from %s for master %s rejected, not a member", msg.AccountID, msg.MasterAccount)
		return
	}

	key := router.Key{AccountID: msg.MasterAccount, Role: wire.RoleMaster}
	if err := r.router.PublishConfig(key, wire.KindSyncRequest, msg); err != nil {
		log.Printf("[RELAY] sync request forward to %s failed: %v", msg.MasterAccount, err)
	}
}

// Positions exposes the tracked open positions of a master account.
func (r *Relay) Positions(masterAccount string) []wire.PositionInfo {
	return r.book.positions(masterAccount)
}

// Pairings exposes the in-memory pairing snapshot, the read fallback when
// the store is unavailable.
func (r *Relay) Pairings() []Pairing {
	return r.state.allPairings()
}

func (r *Relay) logActivity(category, accountID, message string) {
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.AppendActivity(ctx, id, category, accountID, message); err != nil {
		log.Printf("[RELAY] activity write failed: %v", err)
	}
	r.bus.Publish(events.EventActivity, events.Activity{
		Category:  category,
		AccountID: accountID,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

// runSync executes the one-shot position reconciliation for a pairing that
// just activated.
func (r *Relay) runSync(p Pairing) {
	positions := r.book.positions(p.Group.MasterAccount)
	if len(positions) == 0 {
		return
	}
	masterConn, _ := r.registry.Get(p.Group.MasterAccount, wire.RoleMaster)
	slaveConn, _ := r.registry.Get(p.Member.SlaveAccount, wire.RoleSlave)

	res := syncpolicy.Plan(positions, p.Group.MasterAccount, p.Member.Settings,
		p.Group.MasterSettings, slaveConn.Equity, masterConn.Equity, time.Now())

	key := router.Key{AccountID: p.Member.SlaveAccount, Role: wire.RoleSlave}
	for i := range res.Commands {
		if err := r.router.PublishTrade(key, &res.Commands[i]); err != nil {
			log.Printf("[RELAY] sync publish to %s failed: %v", p.Member.SlaveAccount, err)
		}
	}
	for _, skip := range res.Skipped {
		r.logActivity("sync", p.Member.SlaveAccount,
			fmt.Sprintf("sync skipped ticket=%d %s: %s", skip.Ticket, skip.Symbol, skip.Reason))
	}
	if len(res.Commands) > 0 {
		r.logActivity("sync", p.Member.SlaveAccount,
			fmt.Sprintf("synchronized %d position(s) from master %s", len(res.Commands), p.Group.MasterAccount))
	}
}
