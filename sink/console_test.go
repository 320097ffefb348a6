package sink

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"debuglog/event"
	"debuglog/queue"
)

func item(kind event.Kind, msg string, ts *float64) event.Item {
	return event.ItemFrom(event.New(kind, msg, ts, nil))
}

func TestFormatLine(t *testing.T) {
	now := time.Date(2024, 5, 1, 13, 14, 15, 0, time.Local)
	millis := float64(time.Date(2024, 5, 1, 8, 9, 10, 0, time.Local).UnixMilli())
	small := 12.5

	tests := []struct {
		name string
		it   event.Item
		want string
	}{
		{name: "millis", it: item(event.KindLog, "Nanovor 1 hi", &millis), want: "08:09:10|Nanovor 1 hi"},
		{name: "verbatim", it: item(event.KindLog, "x", &small), want: "12.5|x"},
		{name: "missing ts", it: item(event.KindLog, "x", nil), want: "13:14:15|x"},
		{name: "error", it: item(event.KindError, "boom", nil), want: "13:14:15| ERROR boom"},
		{name: "comment", it: item(event.KindComment, "note", nil), want: "13:14:15| COMMENT note"},
		{name: "clear", it: event.ItemFrom(event.Clear()), want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLine(tt.it, now); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestConsoleRunDrainsUntilCancelled(t *testing.T) {
	q := queue.New(0, nil)
	var out bytes.Buffer
	c := NewConsole(&out, q, ConsoleOptions{Poll: 10 * time.Millisecond})
	c.now = func() time.Time { return time.Date(2024, 1, 1, 1, 2, 3, 0, time.Local) }

	q.Push(item(event.KindLog, "first", nil))
	q.Push(event.ItemFrom(event.Clear()))
	q.Push(item(event.KindError, "second", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "01:02:03|first\n" + ClearMarker + "01:02:03| ERROR second\n"
	if out.String() != want {
		t.Fatalf("expected %q, got %q", want, out.String())
	}
	lines, clears := c.Counts()
	if lines != 2 || clears != 1 {
		t.Fatalf("expected 2 lines and 1 clear, got %d and %d", lines, clears)
	}
}

func TestConsoleColorWrapsErrors(t *testing.T) {
	q := queue.New(0, nil)
	var out bytes.Buffer
	c := NewConsole(&out, q, ConsoleOptions{Color: true})
	if err := c.Write(item(event.KindError, "red", nil)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(out.String(), "\x1b[") {
		t.Fatalf("expected ANSI color sequence, got %q", out.String())
	}
}
