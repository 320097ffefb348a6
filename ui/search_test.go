package ui

import (
	"context"
	"testing"
	"time"

	"debuglog/filter"
)

func TestSearchFilterDebounce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := make(chan filter.DisplayMatcher, 4)
	sf := NewSearchFilter(ctx, "", func(m filter.DisplayMatcher) { fired <- m })
	sf.delay = 20 * time.Millisecond
	sf.SetQuery("Te")
	sf.SetQuery("Test")

	select {
	case m := <-fired:
		if m.Query() != "test" {
			t.Fatalf("expected active query 'test', got %q", m.Query())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced change never fired")
	}
	select {
	case m := <-fired:
		t.Fatalf("expected a single coalesced change, got another %q", m.Query())
	case <-time.After(100 * time.Millisecond):
	}
	if sf.Matcher().Query() != "test" {
		t.Fatalf("expected matcher to keep query, got %q", sf.Matcher().Query())
	}
}

func TestSearchFilterSeedsExclusions(t *testing.T) {
	sf := NewSearchFilter(context.Background(), "download, arena", nil)
	m := sf.Matcher()
	if m.Match("12:00:00|Arena tick") {
		t.Fatalf("expected seeded exclusion to hide arena lines")
	}
	if !m.Match("12:00:00|Nanovor ok") {
		t.Fatalf("expected other senders to match")
	}
}

func TestSearchFilterApplyIsImmediate(t *testing.T) {
	sf := NewSearchFilter(context.Background(), "", nil)
	sf.SetQuery("ok")
	m := sf.Apply("", "nanovor")
	if m.Match("12:00:00|Nanovor ok") {
		t.Fatalf("expected Apply to activate pending exclude input")
	}
	if m.Exclusions().Len() != 1 {
		t.Fatalf("expected one exclusion, got %d", m.Exclusions().Len())
	}
}

func TestSearchFilterCancelledContextSkipsCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{}, 1)
	sf := NewSearchFilter(ctx, "", func(filter.DisplayMatcher) { called <- struct{}{} })
	sf.delay = 10 * time.Millisecond
	cancel()
	sf.SetQuery("x")
	select {
	case <-called:
		t.Fatal("expected no callback after cancellation")
	case <-time.After(60 * time.Millisecond):
	}
}
