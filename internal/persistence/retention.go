// Package persistence keeps the audit tables bounded. The activity log and
// dead-letter table are append-only; the pruner deletes rows past the
// retention window on a background schedule.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Pruner removes expired activity and send-failure rows.
type Pruner struct {
	db       *sql.DB
	maxAge   time.Duration
	interval time.Duration

	totalPruned uint64
	lastRun     atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPruner creates a pruner. maxAge bounds how long audit rows are kept;
// interval is the sweep schedule.
func NewPruner(db *sql.DB, maxAge, interval time.Duration) *Pruner {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{
		db:       db,
		maxAge:   maxAge,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep. Stop with Close.
func (p *Pruner) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := p.Prune(ctx, time.Now()); err != nil {
					log.Printf("[RETENTION] sweep failed: %v", err)
				}
				cancel()
			case <-p.done:
				return
			}
		}
	}()
}

// Close stops the background sweep.
func (p *Pruner) Close() {
	close(p.done)
	p.wg.Wait()
}

// Prune deletes audit rows older than the retention window and returns how
// many were removed. Exposed for tests; the sweep goroutine calls it on every
// tick.
func (p *Pruner) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-p.maxAge).UTC().Format("2006-01-02 15:04:05")

	var removed int64
	for _, table := range []string{"activity_log", "send_failures"} {
		res, err := p.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", table), cutoff)
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if removed > 0 {
		atomic.AddUint64(&p.totalPruned, uint64(removed))
		log.Printf("[RETENTION] pruned %d audit row(s) older than %s", removed, p.maxAge)
	}
	p.lastRun.Store(now.UnixMilli())
	return removed, nil
}

// TotalPruned returns how many rows the pruner has removed since start.
func (p *Pruner) TotalPruned() uint64 {
	return atomic.LoadUint64(&p.totalPruned)
}
