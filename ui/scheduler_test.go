package ui

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rivo/tview"
)

type recordingDrawer struct {
	batches int
}

func (r *recordingDrawer) QueueUpdateDraw(f func()) *tview.Application {
	r.batches++
	f()
	return nil
}

func TestFrameSchedulerCoalescesLatestPerID(t *testing.T) {
	drawer := &recordingDrawer{}
	f := newFrameScheduler(drawer, 60, 50*time.Millisecond, nil)

	var seq []string
	f.Schedule("log", func() { seq = append(seq, "log1") })
	f.Schedule("footer", func() { seq = append(seq, "footer") })
	f.Schedule("log", func() { seq = append(seq, "log2") })

	f.flush()

	if len(seq) != 2 {
		t.Fatalf("expected 2 callbacks, got %d (%v)", len(seq), seq)
	}
	if seq[0] != "log2" || seq[1] != "footer" {
		t.Fatalf("unexpected callback order/content: %v", seq)
	}
	if drawer.batches != 1 {
		t.Fatalf("expected one draw batch, got %d", drawer.batches)
	}

	f.flush()
	if len(seq) != 2 || drawer.batches != 1 {
		t.Fatalf("expected no additional callbacks after empty flush, got %v", seq)
	}
}

func TestFrameSchedulerFlushesPendingOnStop(t *testing.T) {
	var observed atomic.Uint64
	f := newFrameScheduler(nil, 1, 500*time.Millisecond, func(time.Duration) { observed.Add(1) })
	var called atomic.Uint64

	f.Start()
	f.Schedule("pane", func() { called.Add(1) })
	f.Stop()

	if called.Load() != 1 {
		t.Fatalf("expected pending callback to flush on stop, got %d", called.Load())
	}
	if observed.Load() != 1 {
		t.Fatalf("expected frame delay observed once, got %d", observed.Load())
	}
}

func TestFrameSchedulerStopIdempotent(t *testing.T) {
	f := newFrameScheduler(nil, 60, 50*time.Millisecond, nil)
	f.Start()
	f.Stop()
	f.Stop()
}
