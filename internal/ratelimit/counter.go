// Package ratelimit throttles hot-path log lines (queue drops, oversized
// lines) so a misbehaving producer cannot flood the diagnostic log.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Counter counts occurrences and grants at most one log per interval.
// It is safe for concurrent use; the zero value logs every occurrence.
type Counter struct {
	interval time.Duration
	lastLog  atomic.Int64
	total    atomic.Uint64
	now      func() time.Time
}

// NewCounter constructs a Counter that allows a log at most once per interval.
// A zero or negative interval disables throttling.
func NewCounter(interval time.Duration) *Counter {
	return &Counter{interval: interval}
}

// Inc records one occurrence and reports the running total and whether the
// caller may log it now. The first occurrence is always allowed.
func (c *Counter) Inc() (uint64, bool) {
	if c == nil {
		return 0, false
	}
	total := c.total.Add(1)
	if c.interval <= 0 {
		return total, true
	}
	now := c.clock().UnixNano()
	last := c.lastLog.Load()
	if last != 0 && now-last < c.interval.Nanoseconds() {
		return total, false
	}
	return total, c.lastLog.CompareAndSwap(last, now)
}

// Total returns the number of recorded occurrences.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}

func (c *Counter) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now().UTC()
}
