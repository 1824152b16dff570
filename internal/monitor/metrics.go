package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks relay performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	DeliveryLatency  *LatencyHistogram
	TransformLatency *LatencyHistogram
	DBLatency        *LatencyHistogram

	// Counters
	signalsRelayed    uint64
	signalsSuppressed uint64
	signalsFailed     uint64
	configsPushed     uint64
	decodeFailures    uint64

	// Pairing status gauge, refreshed on every re-evaluation pass.
	pairingsByStatus map[int]int

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until new samples arrive.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		DeliveryLatency:  NewLatencyHistogram(1000),
		TransformLatency: NewLatencyHistogram(1000),
		DBLatency:        NewLatencyHistogram(1000),
		pairingsByStatus: make(map[int]int),
		lastUpdate:       time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementRelayed counts one signal delivered to a slave topic.
func (m *SystemMetrics) IncrementRelayed() {
	atomic.AddUint64(&m.signalsRelayed, 1)
}

// IncrementSuppressed counts one signal dropped by the transform pipeline.
func (m *SystemMetrics) IncrementSuppressed() {
	atomic.AddUint64(&m.signalsSuppressed, 1)
}

// IncrementFailed counts one delivery that exhausted its retries.
func (m *SystemMetrics) IncrementFailed() {
	atomic.AddUint64(&m.signalsFailed, 1)
}

// IncrementConfigs counts one config push.
func (m *SystemMetrics) IncrementConfigs() {
	atomic.AddUint64(&m.configsPushed, 1)
}

// IncrementDecodeFailures counts one malformed inbound frame.
func (m *SystemMetrics) IncrementDecodeFailures() {
	atomic.AddUint64(&m.decodeFailures, 1)
}

// SetPairingStatusCounts replaces the pairing status gauge.
func (m *SystemMetrics) SetPairingStatusCounts(counts map[int]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairingsByStatus = counts
	m.lastUpdate = time.Now()
}

// MetricsSnapshot is a point-in-time view for the metrics API.
type MetricsSnapshot struct {
	DeliveryLatency   LatencyStats `json:"delivery_latency"`
	TransformLatency  LatencyStats `json:"transform_latency"`
	DBLatency         LatencyStats `json:"db_latency"`
	SignalsRelayed    uint64       `json:"signals_relayed"`
	SignalsSuppressed uint64       `json:"signals_suppressed"`
	SignalsFailed     uint64       `json:"signals_failed"`
	ConfigsPushed     uint64       `json:"configs_pushed"`
	DecodeFailures    uint64       `json:"decode_failures"`
	PairingsByStatus  map[int]int  `json:"pairings_by_status"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	HeapSys           uint64       `json:"heap_sys_bytes"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	statuses := make(map[int]int, len(m.pairingsByStatus))
	for k, v := range m.pairingsByStatus {
		statuses[k] = v
	}
	m.mu.RUnlock()

	return MetricsSnapshot{
		DeliveryLatency:   m.DeliveryLatency.Stats(),
		TransformLatency:  m.TransformLatency.Stats(),
		DBLatency:         m.DBLatency.Stats(),
		SignalsRelayed:    atomic.LoadUint64(&m.signalsRelayed),
		SignalsSuppressed: atomic.LoadUint64(&m.signalsSuppressed),
		SignalsFailed:     atomic.LoadUint64(&m.signalsFailed),
		ConfigsPushed:     atomic.LoadUint64(&m.configsPushed),
		DecodeFailures:    atomic.LoadUint64(&m.decodeFailures),
		PairingsByStatus:  statuses,
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		HeapSys:           memStats.HeapSys,
		Timestamp:         time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
