package ui

import (
	"sync"
	"sync/atomic"
	"time"

	"debuglog/event"
	"debuglog/internal/ratelimit"
)

// Line is one rendered log line kept in history.
type Line struct {
	Kind event.Kind
	Text string
}

// DropPolicy defines behavior when history limits are exceeded.
type DropPolicy struct {
	MaxLineBytes int
	LogDrops     bool
}

// DropMetrics holds counters for lines that left or never entered history.
type DropMetrics struct {
	Oversized uint64
	Evicted   uint64
	Cleared   uint64
}

// History stores rendered lines in a bounded ring so a refilter can replay
// them. Count and total bytes are both capped; the oldest lines go first.
// Concurrency: Append() may be called from any goroutine; SnapshotInto() is
// typically called by the UI goroutine.
type History struct {
	mu       sync.RWMutex
	lines    []Line
	head     int
	count    int
	maxCount int
	maxBytes int64
	curBytes int64
	policy   DropPolicy
	seq      atomic.Uint64

	dropOversized atomic.Uint64
	dropEvicted   atomic.Uint64
	cleared       atomic.Uint64

	dropLog *ratelimit.Counter
	logf    func(format string, args ...any)
}

// NewHistory creates a history of at most maxCount lines and maxBytes bytes
// (0 = no byte cap).
func NewHistory(maxCount int, maxBytes int64, policy DropPolicy, logf func(format string, args ...any)) *History {
	if maxCount <= 0 {
		maxCount = 1
	}
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &History{
		lines:    make([]Line, maxCount),
		maxCount: maxCount,
		maxBytes: maxBytes,
		policy:   policy,
		dropLog:  ratelimit.NewCounter(30 * time.Second),
		logf:     logf,
	}
}

// Append inserts a line, evicting the oldest as needed. Returns false if the
// line itself was rejected as oversized.
func (h *History) Append(l Line) bool {
	if h == nil {
		return false
	}
	size := int64(len(l.Text))
	if h.policy.MaxLineBytes > 0 && len(l.Text) > h.policy.MaxLineBytes {
		h.dropOversized.Add(1)
		if h.policy.LogDrops {
			h.logDrop(len(l.Text), h.policy.MaxLineBytes)
		}
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for h.count >= h.maxCount && h.count > 0 {
		h.evictOldestLocked()
	}
	for h.maxBytes > 0 && h.count > 0 && h.curBytes+size > h.maxBytes {
		h.evictOldestLocked()
	}

	pos := (h.head + h.count) % len(h.lines)
	h.lines[pos] = l
	h.curBytes += size
	h.count++
	h.seq.Add(1)
	return true
}

// Reset empties history, as a clear command or the Clear button does.
func (h *History) Reset() {
	if h == nil {
		return
	}
	h.mu.Lock()
	for i := range h.lines {
		h.lines[i] = Line{}
	}
	h.head = 0
	h.count = 0
	h.curBytes = 0
	h.seq.Add(1)
	h.mu.Unlock()
	h.cleared.Add(1)
}

// SnapshotInto copies lines oldest first into dst and returns it with the
// current sequence number.
func (h *History) SnapshotInto(dst []Line) ([]Line, uint64) {
	if h == nil {
		return dst[:0], 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	if cap(dst) < h.count {
		dst = make([]Line, h.count)
	} else {
		dst = dst[:h.count]
	}
	for i := 0; i < h.count; i++ {
		dst[i] = h.lines[(h.head+i)%len(h.lines)]
	}
	return dst, h.seq.Load()
}

// DropSnapshot returns current drop counters.
func (h *History) DropSnapshot() DropMetrics {
	if h == nil {
		return DropMetrics{}
	}
	return DropMetrics{
		Oversized: h.dropOversized.Load(),
		Evicted:   h.dropEvicted.Load(),
		Cleared:   h.cleared.Load(),
	}
}

// Usage returns current counts and bytes.
func (h *History) Usage() (count int, maxCount int, bytes int64, maxBytes int64) {
	if h == nil {
		return 0, 0, 0, 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count, h.maxCount, h.curBytes, h.maxBytes
}

func (h *History) evictOldestLocked() {
	if h.count == 0 {
		return
	}
	old := h.lines[h.head]
	h.lines[h.head] = Line{}
	h.curBytes -= int64(len(old.Text))
	h.head = (h.head + 1) % len(h.lines)
	h.count--
	h.dropEvicted.Add(1)
}

func (h *History) logDrop(size int, limit int) {
	if h.logf == nil {
		return
	}
	if total, ok := h.dropLog.Inc(); ok {
		h.logf("UI: dropped oversized line from history (%d bytes > %d, %d total)", size, limit, total)
	}
}
