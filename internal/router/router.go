// Package router delivers encoded wire messages to terminal sessions. Each
// attached session gets one FIFO queue drained by one goroutine, so delivery
// order per target is preserved while targets never block each other.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"relay-core/internal/events"
	"relay-core/internal/monitor"
	"relay-core/internal/wire"
	"relay-core/pkg/cache"
	"relay-core/pkg/db"
)

// ErrNoSession is returned when publishing to a target with no attached
// terminal session.
var ErrNoSession = errors.New("router: no session for target")

// Sender is the transport half of a terminal session. Send must be safe to
// call from the router's drain goroutine only; the router never calls it
// concurrently.
type Sender interface {
	Send(frame []byte) error
}

// Key addresses one terminal session.
type Key struct {
	AccountID string
	Role      wire.Role
}

type outbound struct {
	kind     string
	payload  []byte
	enqueued time.Time
}

type target struct {
	queue  chan outbound
	done   chan struct{}
	sender Sender
}

// Router fans encoded frames out to attached sessions with retry, dedupe and
// dead-lettering.
type Router struct {
	mu      sync.RWMutex
	targets map[Key]*target

	seen *cache.ShardedTTL
	ttl  time.Duration

	maxRetries int
	retryDelay time.Duration
	queueSize  int

	store   *db.Store
	bus     *events.Bus
	metrics *monitor.SystemMetrics
	wg      sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithRetry sets the per-frame retry budget and base backoff delay.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(r *Router) {
		if maxRetries >= 0 {
			r.maxRetries = maxRetries
		}
		if delay > 0 {
			r.retryDelay = delay
		}
	}
}

// WithDedupeTTL sets how long a (source, ticket, action) triple is remembered.
func WithDedupeTTL(ttl time.Duration) Option {
	return func(r *Router) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// New creates a router. Store, bus and metrics may each be nil in tests.
func New(store *db.Store, bus *events.Bus, metrics *monitor.SystemMetrics, opts ...Option) *Router {
	r := &Router{
		targets:    make(map[Key]*target),
		ttl:        time.Minute,
		maxRetries: 3,
		retryDelay: 200 * time.Millisecond,
		queueSize:  256,
		store:      store,
		bus:        bus,
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.seen = cache.NewShardedTTL(r.ttl)
	return r
}

// Attach binds a session to a target key and starts its drain goroutine. A
// previous session for the same key is detached first (last writer wins).
func (r *Router) Attach(key Key, sender Sender) {
	t := &target{
		queue:  make(chan outbound, r.queueSize),
		done:   make(chan struct{}),
		sender: sender,
	}

	r.mu.Lock()
	if prev, ok := r.targets[key]; ok {
		close(prev.done)
	}
	r.targets[key] = t
	r.mu.Unlock()

	r.wg.Add(1)
	go r.drain(key, t, sender)
}

// Detach stops delivery to a target. Frames already handed to the transport
// may still arrive; commands are idempotent by ticket and action, so one
// stale delivery is harmless.
func (r *Router) Detach(key Key) {
	r.detach(key, nil)
}

// DetachSession stops delivery to a target only while the key still belongs
// to sender. A replaced session's late teardown must not tear down the
// session that replaced it.
func (r *Router) DetachSession(key Key, sender Sender) {
	r.detach(key, sender)
}

func (r *Router) detach(key Key, owner Sender) {
	r.mu.Lock()
	t, ok := r.targets[key]
	if ok && owner != nil && t.sender != owner {
		ok = false
	}
	if ok {
		delete(r.targets, key)
	}
	r.mu.Unlock()
	if ok {
		close(t.done)
	}
}

// Close detaches everything and waits for the drain goroutines.
func (r *Router) Close() {
	r.mu.Lock()
	for key, t := range r.targets {
		close(t.done)
		delete(r.targets, key)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// PublishTrade sends a trade command to a slave terminal. Re-publishes of the
// same (source, ticket, action) inside the dedupe window are dropped, which
// makes reconnect-time replays safe.
func (r *Router) PublishTrade(key Key, sig *wire.TradeSignal) error {
	// The dedupe key is scoped per target: the same master signal
	// legitimately fans out to many slaves, but must reach each slave once.
	k := fmt.Sprintf("%s|%s|%s|%d|%s", key.AccountID, key.Role, sig.SourceAccount, sig.Ticket, sig.Action)
	if r.seen.Seen(k) {
		log.Printf("[ROUTER] duplicate %s ticket=%d for %s dropped", sig.Action, sig.Ticket, key.AccountID)
		return nil
	}
	if err := r.publish(key, "TradeSignal", sig); err != nil {
		// The signal never reached a queue; a later re-publish is a retry,
		// not a duplicate.
		r.seen.Forget(k)
		return err
	}
	return nil
}

// PublishConfig sends a SlaveConfig or MasterConfig message.
func (r *Router) PublishConfig(key Key, kind string, msg any) error {
	return r.publish(key, kind, msg)
}

func (r *Router) publish(key Key, kind string, msg any) error {
	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	r.mu.RLock()
	t, ok := r.targets[key]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoSession, key.AccountID, key.Role)
	}

	select {
	case t.queue <- outbound{kind: kind, payload: payload, enqueued: time.Now()}:
		return nil
	default:
		r.deadLetter(key, kind, payload, "outbound queue full", 0)
		return fmt.Errorf("router: queue full for %s/%s", key.AccountID, key.Role)
	}
}

func (r *Router) drain(key Key, t *target, sender Sender) {
	defer r.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.queue:
			r.deliver(key, t, sender, msg)
		}
	}
}

func (r *Router) deliver(key Key, t *target, sender Sender, msg outbound) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-t.done:
				return
			case <-time.After(r.retryDelay * time.Duration(attempt)):
			}
		}
		if lastErr = sender.Send(msg.payload); lastErr == nil {
			if r.metrics != nil {
				r.metrics.DeliveryLatency.RecordDuration(time.Since(msg.enqueued))
			}
			return
		}
	}

	log.Printf("[ROUTER] delivery to %s/%s failed after %d retries: %v",
		key.AccountID, key.Role, r.maxRetries, lastErr)
	r.deadLetter(key, msg.kind, msg.payload, lastErr.Error(), r.maxRetries)
}

func (r *Router) deadLetter(key Key, kind string, payload []byte, reason string, retries int) {
	if r.metrics != nil {
		r.metrics.IncrementFailed()
	}
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := r.store.RecordSendFailure(ctx, key.AccountID, kind, payload, reason, retries); err != nil {
			log.Printf("[ROUTER] dead-letter write failed: %v", err)
		}
		cancel()
	}
	if r.bus != nil {
		r.bus.Publish(events.EventSendFailure, events.SendFailure{
			TargetAccount: key.AccountID,
			Kind:          kind,
			Error:         reason,
			Timestamp:     time.Now().UnixMilli(),
		})
	}
}

// HasSession reports whether a terminal session is attached for the key.
func (r *Router) HasSession(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.targets[key]
	return ok
}
