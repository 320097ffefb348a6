// Package queue provides the hand-off between client sessions and the single
// display consumer.
//
// Many producers (one per session) push; one consumer pulls with a timeout.
// Push never blocks. The queue is unbounded by default; when a limit is
// configured the oldest entries are evicted to make room, so a stalled consumer
// costs history rather than wedging every session. Evictions are counted and
// logged at a throttled rate.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"debuglog/event"
	"debuglog/internal/ratelimit"
)

const (
	initialCapacity = 256
	dropLogInterval = 30 * time.Second
)

// DefaultPoll is the wait used by consumers that have no better timeout.
const DefaultPoll = 500 * time.Millisecond

// Queue is a FIFO of event items safe for concurrent producers.
type Queue struct {
	mu       sync.Mutex
	items    []event.Item // ring storage
	head     int
	count    int
	maxItems int

	// notify holds at most one pending wakeup; Push never blocks on it.
	notify chan struct{}

	pushed  atomic.Uint64
	dropped atomic.Uint64
	dropLog *ratelimit.Counter
	logf    func(format string, args ...any)
}

// New creates a queue. maxItems <= 0 means unbounded. logf receives throttled
// eviction warnings and may be nil.
func New(maxItems int, logf func(format string, args ...any)) *Queue {
	if maxItems < 0 {
		maxItems = 0
	}
	capacity := initialCapacity
	if maxItems > 0 && maxItems < capacity {
		capacity = maxItems
	}
	return &Queue{
		items:    make([]event.Item, capacity),
		maxItems: maxItems,
		notify:   make(chan struct{}, 1),
		dropLog:  ratelimit.NewCounter(dropLogInterval),
		logf:     logf,
	}
}

// Push appends an item. It never blocks; on a bounded queue that is full the
// oldest item is discarded first.
func (q *Queue) Push(it event.Item) {
	evicted := false
	q.mu.Lock()
	if q.maxItems > 0 && q.count >= q.maxItems {
		q.items[q.head] = event.Item{}
		q.head = (q.head + 1) % len(q.items)
		q.count--
		evicted = true
	}
	if q.count == len(q.items) {
		q.growLocked()
	}
	q.items[(q.head+q.count)%len(q.items)] = it
	q.count++
	q.mu.Unlock()

	q.pushed.Add(1)
	if evicted {
		q.recordDrop()
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryGet removes and returns the oldest item without waiting.
func (q *Queue) TryGet() (event.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return event.Item{}, false
	}
	it := q.items[q.head]
	q.items[q.head] = event.Item{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return it, true
}

// Get waits up to timeout for an item. ok is false when the wait expired with
// the queue still empty. A non-positive timeout behaves like TryGet.
func (q *Queue) Get(timeout time.Duration) (event.Item, bool) {
	if it, ok := q.TryGet(); ok || timeout <= 0 {
		return it, ok
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if it, ok := q.TryGet(); ok {
				return it, true
			}
		case <-timer.C:
			return q.TryGet()
		}
	}
}

// GetContext waits until an item is available or ctx is done, in which case
// ctx.Err() is returned.
func (q *Queue) GetContext(ctx context.Context) (event.Item, error) {
	for {
		if it, ok := q.TryGet(); ok {
			return it, nil
		}
		select {
		case <-ctx.Done():
			return event.Item{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Pushed returns the number of items ever pushed.
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the number of items evicted because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// MaxItems returns the configured bound (0 when unbounded).
func (q *Queue) MaxItems() int {
	return q.maxItems
}

func (q *Queue) growLocked() {
	next := len(q.items) * 2
	if q.maxItems > 0 && next > q.maxItems {
		next = q.maxItems
	}
	grown := make([]event.Item, next)
	for i := 0; i < q.count; i++ {
		grown[i] = q.items[(q.head+i)%len(q.items)]
	}
	q.items = grown
	q.head = 0
}

func (q *Queue) recordDrop() {
	q.dropped.Add(1)
	total, ok := q.dropLog.Inc()
	if ok && q.logf != nil {
		q.logf("Queue: consumer lagging, evicted oldest events (total evicted=%d, limit=%d)", total, q.maxItems)
	}
}
