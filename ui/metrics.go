package ui

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyTracker keeps a bounded ring of durations for percentile estimates.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	count   int
	idx     int
}

func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 256
	}
	return &LatencyTracker{samples: make([]time.Duration, size)}
}

func (t *LatencyTracker) Observe(d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.samples[t.idx] = d
	t.idx = (t.idx + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}
	t.mu.Unlock()
}

type LatencySnapshot struct {
	P50 time.Duration
	P99 time.Duration
	N   int
}

func (t *LatencyTracker) Snapshot() LatencySnapshot {
	if t == nil {
		return LatencySnapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return LatencySnapshot{}
	}
	values := make([]time.Duration, t.count)
	copy(values, t.samples[:t.count])
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return LatencySnapshot{
		P50: values[t.count/2],
		P99: values[int(float64(t.count-1)*0.99)],
		N:   t.count,
	}
}

// Metrics tracks viewer counters: frame delay, refilter cost, and how much
// the queue drain moved per tick.
type Metrics struct {
	renderLatency   *LatencyTracker
	refilterLatency *LatencyTracker
	drained         atomic.Uint64
	refilters       atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		renderLatency:   NewLatencyTracker(512),
		refilterLatency: NewLatencyTracker(64),
	}
}

func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.renderLatency.Observe(d)
}

func (m *Metrics) ObserveRefilter(d time.Duration) {
	if m == nil {
		return
	}
	m.refilters.Add(1)
	m.refilterLatency.Observe(d)
}

func (m *Metrics) AddDrained(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.drained.Add(uint64(n))
}

func (m *Metrics) RenderSnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.renderLatency.Snapshot()
}

func (m *Metrics) RefilterSnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.refilterLatency.Snapshot()
}

func (m *Metrics) Drained() uint64 {
	if m == nil {
		return 0
	}
	return m.drained.Load()
}

func (m *Metrics) Refilters() uint64 {
	if m == nil {
		return 0
	}
	return m.refilters.Load()
}
