package ui

import (
	"sync"
	"time"

	"debuglog/event"
	"debuglog/filter"
	"debuglog/sink"
)

// logModel ties the replay history to the visible pane. Every line is kept
// in history; only lines the active matcher accepts reach the view.
// mu serializes queue ingestion against refilter and clear so a line is
// never shown twice or lost across a view rebuild.
type logModel struct {
	mu      sync.Mutex
	history *History
	view    *virtualLogView
	matcher func() filter.DisplayMatcher
	now     func() time.Time
	scratch []Line
}

func newLogModel(history *History, view *virtualLogView, matcher func() filter.DisplayMatcher) *logModel {
	return &logModel{
		history: history,
		view:    view,
		matcher: matcher,
		now:     time.Now,
	}
}

// ingest applies one queue item. It reports whether the view changed.
func (m *logModel) ingest(it event.Item) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it.IsClear() {
		m.clearLocked()
		return true
	}
	line := Line{Kind: it.Kind, Text: sink.FormatLine(it, m.now())}
	m.history.Append(line)
	if !m.matcher().Match(line.Text) {
		return false
	}
	m.view.Append(line)
	return true
}

func (m *logModel) clear() {
	m.mu.Lock()
	m.clearLocked()
	m.mu.Unlock()
}

func (m *logModel) clearLocked() {
	m.history.Reset()
	m.view.Reset(nil)
}

// refilter rebuilds the view from history under matcher and returns how many
// lines it now shows.
func (m *logModel) refilter(matcher filter.DisplayMatcher) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines, _ := m.history.SnapshotInto(m.scratch[:0])
	kept := lines[:0]
	for _, line := range lines {
		if matcher.Match(line.Text) {
			kept = append(kept, line)
		}
	}
	m.view.Reset(kept)
	m.scratch = lines[:0]
	shown, _ := m.view.Counts()
	return shown
}
