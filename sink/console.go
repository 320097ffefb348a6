// Package sink renders queued log events as text lines and, for non-terminal
// runs, writes them to a stream.
package sink

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"

	"debuglog/event"
	"debuglog/queue"
)

// ClearMarker is printed when a producer asks the viewer to clear.
const ClearMarker = "\n--- CLEAR ---\n"

// millisThreshold separates epoch-millisecond timestamps from anything else
// a producer may send (relative counters, seconds).
const millisThreshold = 1e10

// FormatLine renders a non-clear item as "HH:MM:SS|[ ERROR | COMMENT ]msg".
// Millisecond timestamps are shown in local time; any other numeric timestamp
// is printed as sent; a missing timestamp uses now.
func FormatLine(it event.Item, now time.Time) string {
	if it.Payload == nil {
		return ""
	}
	return formatPrefix(it.Payload.Timestamp, now) + "|" + kindTag(it.Kind) + it.Payload.Message
}

func formatPrefix(ts *float64, now time.Time) string {
	if ts == nil {
		return now.Format("15:04:05")
	}
	v := *ts
	if v > millisThreshold {
		return time.UnixMilli(int64(v)).Local().Format("15:04:05")
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func kindTag(k event.Kind) string {
	switch k {
	case event.KindError, event.KindComment:
		return " " + k.Label() + " "
	default:
		return ""
	}
}

// Console drains a queue onto a writer. It is the display used when stdout
// is not a terminal.
type Console struct {
	out   io.Writer
	queue *queue.Queue
	poll  time.Duration
	now   func() time.Time

	errorColor   *color.Color
	commentColor *color.Color

	mu      sync.Mutex
	written uint64
	clears  uint64
}

// ConsoleOptions tunes Console; zero values pick sensible defaults.
type ConsoleOptions struct {
	Color bool
	Poll  time.Duration
}

// NewConsole builds a console sink reading from q.
func NewConsole(out io.Writer, q *queue.Queue, opts ConsoleOptions) *Console {
	poll := opts.Poll
	if poll <= 0 {
		poll = queue.DefaultPoll
	}
	c := &Console{
		out:          out,
		queue:        q,
		poll:         poll,
		now:          time.Now,
		errorColor:   color.New(color.FgRed, color.Bold),
		commentColor: color.New(color.FgCyan),
	}
	if !opts.Color {
		c.errorColor.DisableColor()
		c.commentColor.DisableColor()
	} else {
		c.errorColor.EnableColor()
		c.commentColor.EnableColor()
	}
	return c
}

// Run prints items until ctx is done. Items still queued at cancellation
// are flushed first so a shutdown does not hide the last lines.
func (c *Console) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				it, ok := c.queue.TryGet()
				if !ok {
					return nil
				}
				if err := c.Write(it); err != nil {
					return err
				}
			}
		default:
		}
		it, ok := c.queue.Get(c.poll)
		if !ok {
			continue
		}
		if err := c.Write(it); err != nil {
			return err
		}
	}
}

// Write prints one item.
func (c *Console) Write(it event.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it.IsClear() {
		c.clears++
		_, err := io.WriteString(c.out, ClearMarker)
		return err
	}
	line := FormatLine(it, c.now())
	switch it.Kind {
	case event.KindError:
		line = c.errorColor.Sprint(line)
	case event.KindComment:
		line = c.commentColor.Sprint(line)
	}
	if _, err := fmt.Fprintln(c.out, line); err != nil {
		return fmt.Errorf("console sink: %w", err)
	}
	c.written++
	return nil
}

// Counts returns the number of lines and clear markers written.
func (c *Console) Counts() (lines, clears uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written, c.clears
}
