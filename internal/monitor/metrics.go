package monitor

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PoolStats is the subset of internal/exchange.Pool.Stats() this package
// reports, duplicated locally rather than imported so internal/monitor
// (read by /metrics, the liveness/readiness surface) has no dependency
// on the exchange-adapter package it is reporting about.
type PoolStats struct {
	Size    int
	MaxSize int
}

// SystemMetrics tracks overall API/adapter performance, exposed at
// GET /metrics per spec.md §6.
type SystemMetrics struct {
	mu sync.RWMutex

	APILatency      *LatencyHistogram
	AdapterLatency  *LatencyHistogram
	DBLatency       *LatencyHistogram

	apiRequests    uint64
	apiErrors      uint64
	tradesExecuted uint64
	errorsCount    uint64

	poolStats      PoolStats
	routerActiveUsers int

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Supports lazy stats computation for better performance.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		APILatency:     NewLatencyHistogram(1000),
		AdapterLatency: NewLatencyHistogram(1000),
		DBLatency:      NewLatencyHistogram(1000),
		lastUpdate:     time.Now(),
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
	h.dirty = true // Mark as dirty for lazy recomputation
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Uses lazy computation - only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Return cached stats if samples haven't changed
	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	// Compute new stats
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

// IncrementAPI increments the processed API request counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors increments the API error-response counter.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// IncrementTrades increments the executed-trade counter.
func (m *SystemMetrics) IncrementTrades() {
	atomic.AddUint64(&m.tradesExecuted, 1)
}

// IncrementErrors increments the unclassified-error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time view returned by GetSnapshot.
type MetricsSnapshot struct {
	APILatency        LatencyStats `json:"api_latency"`
	AdapterLatency    LatencyStats `json:"adapter_latency"`
	DBLatency         LatencyStats `json:"db_latency"`
	APIRequests       uint64       `json:"api_requests"`
	APIErrors         uint64       `json:"api_errors"`
	TradesExecuted    uint64       `json:"trades_executed"`
	ErrorsCount       uint64       `json:"errors_count"`
	AdapterPool       PoolStats    `json:"adapter_pool"`
	RouterActiveUsers int          `json:"router_active_users"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	HeapSys           uint64       `json:"heap_sys_bytes"`
	HostCPUPercent    float64      `json:"host_cpu_percent"`
	HostMemPercent    float64      `json:"host_mem_percent"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	pool := m.poolStats
	routerUsers := m.routerActiveUsers
	m.mu.RUnlock()

	hostCPU, hostMem := hostUsage()

	return MetricsSnapshot{
		APILatency:        m.APILatency.Stats(),
		AdapterLatency:    m.AdapterLatency.Stats(),
		DBLatency:         m.DBLatency.Stats(),
		APIRequests:       atomic.LoadUint64(&m.apiRequests),
		APIErrors:         atomic.LoadUint64(&m.apiErrors),
		TradesExecuted:    atomic.LoadUint64(&m.tradesExecuted),
		ErrorsCount:       atomic.LoadUint64(&m.errorsCount),
		AdapterPool:       pool,
		RouterActiveUsers: routerUsers,
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		HeapSys:           memStats.HeapSys,
		HostCPUPercent:    hostCPU,
		HostMemPercent:    hostMem,
		Timestamp:         time.Now(),
	}
}

// hostUsage samples host-level CPU and memory utilization. Failures are
// swallowed to zero so a sandboxed or permission-restricted host never
// takes /metrics down — this is an operator convenience, not a health
// signal on its own.
func hostUsage() (cpuPercent, memPercent float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if percentages, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percentages) > 0 {
		cpuPercent = percentages[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		memPercent = vm.UsedPercent
	}
	return cpuPercent, memPercent
}

// SetAdapterPoolStats updates the exchange-adapter pool statistics
// (called by the API's metrics handler against internal/exchange.Pool.Stats()
// on each request).
func (m *SystemMetrics) SetAdapterPoolStats(size, maxSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poolStats = PoolStats{Size: size, MaxSize: maxSize}
}

// SetRouterActiveUsers updates the count of users with an active
// per-user Trade Router submission lock.
func (m *SystemMetrics) SetRouterActiveUsers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routerActiveUsers = n
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
