// Package stats tracks relay counters (events by kind and sender, filter and
// protocol outcomes, session churn) for the periodic status line and the
// viewer footer.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"debuglog/event"
)

// Tracker tracks relay statistics. All methods are safe for concurrent use
// and nil receivers are no-ops so callers can run without stats.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-event increments from
	// many sessions don't fight over a mutex
	kindCounts   sync.Map // kind label -> *atomic.Uint64
	senderCounts sync.Map // sender -> *atomic.Uint64
	start        atomic.Int64

	excluded   atomic.Uint64
	malformed  atomic.Uint64
	handshakes atomic.Uint64
	oversized  atomic.Uint64
	opened     atomic.Uint64
	closed     atomic.Uint64
	rejected   atomic.Uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementKind counts one event forwarded to the queue.
func (t *Tracker) IncrementKind(kind event.Kind) {
	if t == nil {
		return
	}
	incrementCounter(&t.kindCounts, kind.String())
}

// IncrementSender counts one forwarded event for sender.
func (t *Tracker) IncrementSender(sender string) {
	if t == nil {
		return
	}
	incrementCounter(&t.senderCounts, sender)
}

// IncrementExcluded counts an event suppressed by the exclusion set.
func (t *Tracker) IncrementExcluded() {
	if t != nil {
		t.excluded.Add(1)
	}
}

// IncrementMalformed counts a line that did not decode into an event.
func (t *Tracker) IncrementMalformed() {
	if t != nil {
		t.malformed.Add(1)
	}
}

// IncrementHandshake counts an answered policy request.
func (t *Tracker) IncrementHandshake() {
	if t != nil {
		t.handshakes.Add(1)
	}
}

// IncrementOversized counts an unterminated line discarded for length.
func (t *Tracker) IncrementOversized() {
	if t != nil {
		t.oversized.Add(1)
	}
}

// SessionOpened counts an accepted connection.
func (t *Tracker) SessionOpened() {
	if t != nil {
		t.opened.Add(1)
	}
}

// SessionClosed counts a finished session.
func (t *Tracker) SessionClosed() {
	if t != nil {
		t.closed.Add(1)
	}
}

// SessionRejected counts a connection refused by the session limit.
func (t *Tracker) SessionRejected() {
	if t != nil {
		t.rejected.Add(1)
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Kinds      map[string]uint64
	Senders    map[string]uint64
	Excluded   uint64
	Malformed  uint64
	Handshakes uint64
	Oversized  uint64
	Opened     uint64
	Closed     uint64
	Rejected   uint64
	Uptime     time.Duration
}

// Forwarded returns the number of events handed to the queue.
func (s Snapshot) Forwarded() uint64 {
	var total uint64
	for _, v := range s.Kinds {
		total += v
	}
	return total
}

// Snapshot copies the current counters.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	return Snapshot{
		Kinds:      copyCounts(&t.kindCounts),
		Senders:    copyCounts(&t.senderCounts),
		Excluded:   t.excluded.Load(),
		Malformed:  t.malformed.Load(),
		Handshakes: t.handshakes.Load(),
		Oversized:  t.oversized.Load(),
		Opened:     t.opened.Load(),
		Closed:     t.closed.Load(),
		Rejected:   t.rejected.Load(),
		Uptime:     t.GetUptime(),
	}
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(time.Unix(0, t.start.Load()))
}

// Reset resets all counters
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	for _, m := range []*sync.Map{&t.kindCounts, &t.senderCounts} {
		m.Range(func(key, _ any) bool {
			m.Delete(key)
			return true
		})
	}
	for _, c := range []*atomic.Uint64{&t.excluded, &t.malformed, &t.handshakes, &t.oversized, &t.opened, &t.closed, &t.rejected} {
		c.Store(0)
	}
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines returns human-readable stats ready for console display.
// active is the current session count.
func (t *Tracker) SnapshotLines(active int) []string {
	snap := t.Snapshot()
	lines := make([]string, 0, 3)
	lines = append(lines, fmt.Sprintf("Relay: up %s, sessions %d active / %s total (%s rejected)",
		formatUptime(snap.Uptime), active, humanize.Comma(int64(snap.Opened)), humanize.Comma(int64(snap.Rejected))))
	lines = append(lines, fmt.Sprintf("Events: %s forwarded (%s), %s excluded, %s malformed, %s oversized, %s handshakes",
		humanize.Comma(int64(snap.Forwarded())), formatCounts(snap.Kinds, 0),
		humanize.Comma(int64(snap.Excluded)), humanize.Comma(int64(snap.Malformed)),
		humanize.Comma(int64(snap.Oversized)), humanize.Comma(int64(snap.Handshakes))))
	lines = append(lines, "Top senders: "+formatCounts(snap.Senders, 5))
	return lines
}

// formatCounts renders counts largest first (ties by name); limit <= 0 keeps all.
func formatCounts(counts map[string]uint64, limit int) string {
	if len(counts) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+humanize.Comma(int64(counts[k])))
	}
	return strings.Join(parts, ", ")
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		return fmt.Sprintf("%dd%s", days, d)
	}
	return d.String()
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
