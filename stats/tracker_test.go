package stats

import (
	"strings"
	"sync"
	"testing"

	"debuglog/event"
)

func TestTrackerCountsConcurrently(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.IncrementKind(event.KindLog)
				tr.IncrementSender("nanovor")
			}
		}()
	}
	wg.Wait()
	tr.IncrementKind(event.KindError)
	tr.IncrementExcluded()
	tr.IncrementMalformed()
	tr.SessionOpened()

	snap := tr.Snapshot()
	if snap.Kinds["log"] != 1000 || snap.Kinds["error"] != 1 {
		t.Fatalf("unexpected kind counts: %v", snap.Kinds)
	}
	if snap.Forwarded() != 1001 {
		t.Fatalf("expected 1001 forwarded, got %d", snap.Forwarded())
	}
	if snap.Senders["nanovor"] != 1000 {
		t.Fatalf("unexpected sender counts: %v", snap.Senders)
	}
	if snap.Excluded != 1 || snap.Malformed != 1 || snap.Opened != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestTrackerSnapshotLines(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 1200; i++ {
		tr.IncrementKind(event.KindLog)
	}
	tr.IncrementSender("arena")
	tr.IncrementSender("arena")
	tr.IncrementSender("nanovor")
	lines := tr.SnapshotLines(2)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "sessions 2 active") {
		t.Fatalf("expected active sessions in %q", lines[0])
	}
	if !strings.Contains(lines[1], "1,200 forwarded") {
		t.Fatalf("expected humanized forwarded count in %q", lines[1])
	}
	if lines[2] != "Top senders: arena=2, nanovor=1" {
		t.Fatalf("unexpected senders line %q", lines[2])
	}
}

func TestTrackerNilAndReset(t *testing.T) {
	var nilTracker *Tracker
	nilTracker.IncrementKind(event.KindLog)
	nilTracker.SessionOpened()
	if nilTracker.Snapshot().Forwarded() != 0 {
		t.Fatalf("expected empty snapshot from nil tracker")
	}

	tr := NewTracker()
	tr.IncrementKind(event.KindLog)
	tr.IncrementHandshake()
	tr.Reset()
	snap := tr.Snapshot()
	if snap.Forwarded() != 0 || snap.Handshakes != 0 {
		t.Fatalf("expected counters reset, got %+v", snap)
	}
}
