package ui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"debuglog/filter"
	"debuglog/queue"
)

const (
	defaultMaxLines   = 100000
	defaultRefresh    = 50 * time.Millisecond
	maxDrainPerTick   = 5000
	historyMaxBytes   = 256 << 20
	historyLineBytes  = 64 * 1024
	systemWriterBytes = 4 * 1024
	footerEveryTicks  = 20
)

// ViewerOptions configures the interactive viewer.
type ViewerOptions struct {
	MaxLines   int                  // history and view size; default 100000
	Refresh    time.Duration        // queue drain period; default 50ms
	Exclusions *filter.ExclusionSet // seeds the exclude input
	Status     func() string        // relay status for the footer; may be nil
	Logf       func(format string, args ...any)
}

// Viewer is the full-screen tview display: a text filter, an exclude input
// seeded with the relay's exclusions, Clear and Refilter buttons, and a
// virtualized log pane fed from the event queue.
type Viewer struct {
	app       *tview.Application
	scheduler *frameScheduler
	queue     *queue.Queue

	ctx      context.Context
	cancel   context.CancelFunc
	ready    chan struct{}
	stopOnce sync.Once

	refresh time.Duration
	ticks   uint64 // drain ticks; touched only by Run's goroutine
	status  func() string
	logf    func(format string, args ...any)

	history *History
	view    *virtualLogView
	model   *logModel
	search  *SearchFilter
	metrics *Metrics

	filterInput  *tview.InputField
	excludeInput *tview.InputField
	clearButton  *tview.Button
	refilterBtn  *tview.Button
	systemLine   *tview.TextView
	footer       *tview.TextView
	focus        focusGroup

	systemMu   sync.Mutex
	systemLast string
}

// NewViewer builds the widgets. Nothing is drawn until Run.
func NewViewer(q *queue.Queue, opts ViewerOptions) *Viewer {
	maxLines := opts.MaxLines
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := tview.NewApplication()
	ready := make(chan struct{})
	var once sync.Once
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		once.Do(func() { close(ready) })
		return false
	})

	v := &Viewer{
		app:     app,
		queue:   q,
		ctx:     ctx,
		cancel:  cancel,
		ready:   ready,
		refresh: refresh,
		status:  opts.Status,
		logf:    logf,
		metrics: NewMetrics(),
	}
	v.history = NewHistory(maxLines, historyMaxBytes, DropPolicy{MaxLineBytes: historyLineBytes, LogDrops: true}, logf)
	v.view = newVirtualLogView("Log", maxLines)

	seed := ""
	if opts.Exclusions.Len() > 0 {
		seed = opts.Exclusions.String()
	}
	v.search = NewSearchFilter(ctx, seed, func(m filter.DisplayMatcher) {
		v.scheduler.Schedule("refilter", func() { v.refilterWith(m) })
	})
	v.model = newLogModel(v.history, v.view, v.search.Matcher)
	v.scheduler = newFrameScheduler(app, 30, 100*time.Millisecond, v.metrics.ObserveRender)

	v.filterInput = tview.NewInputField().SetLabel("Filter: ").SetFieldWidth(30)
	v.filterInput.SetChangedFunc(v.search.SetQuery)
	v.filterInput.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			v.Refilter()
		}
	})
	v.excludeInput = tview.NewInputField().SetLabel("Exclude senders: ").SetText(seed).SetFieldWidth(35)
	v.excludeInput.SetChangedFunc(v.search.SetExclude)
	v.excludeInput.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			v.Refilter()
		}
	})
	v.clearButton = tview.NewButton("Clear log").SetSelectedFunc(v.Clear)
	v.refilterBtn = tview.NewButton("Refilter").SetSelectedFunc(v.Refilter)

	v.systemLine = tview.NewTextView().SetDynamicColors(false).SetWrap(false)
	v.footer = tview.NewTextView().SetDynamicColors(true).SetWrap(false)

	v.focus = newFocusGroup(
		inputPane{field: v.filterInput},
		inputPane{field: v.excludeInput},
		buttonPane{button: v.clearButton},
		buttonPane{button: v.refilterBtn},
		v.view,
	)
	v.installRoot()
	v.installKeybindings()
	v.renderFooter()
	return v
}

func (v *Viewer) installRoot() {
	controls := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(v.filterInput, 0, 3, false).
		AddItem(tview.NewBox(), 2, 0, false).
		AddItem(v.excludeInput, 0, 4, false).
		AddItem(tview.NewBox(), 2, 0, false).
		AddItem(v.clearButton, 11, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(v.refilterBtn, 10, 0, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(controls, 1, 0, false).
		AddItem(v.view, 0, 1, true).
		AddItem(v.systemLine, 1, 0, false).
		AddItem(v.footer, 1, 0, false)
	v.app.SetRoot(root, true)
	v.focus.set(v.app, 0)
}

func (v *Viewer) installKeybindings() {
	v.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyTab:
			v.focus.cycle(v.app, 1)
			return nil
		case tcell.KeyBacktab:
			v.focus.cycle(v.app, -1)
			return nil
		case tcell.KeyCtrlC:
			v.Stop()
			return nil
		case tcell.KeyCtrlL:
			v.Clear()
			return nil
		case tcell.KeyF5:
			v.Refilter()
			return nil
		}
		if v.focus.current() == focusable(v.view) {
			if v.focus.handleScroll(ev) {
				return nil
			}
			if ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q') {
				v.Stop()
				return nil
			}
		}
		return ev
	})
}

// Run shows the viewer and drains the queue every refresh period until ctx
// is done or the user quits. It returns the application's error, if any.
func (v *Viewer) Run(ctx context.Context) error {
	v.scheduler.Start()
	errCh := make(chan error, 1)
	go func() {
		errCh <- v.app.Run()
	}()

	ticker := time.NewTicker(v.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			v.Stop()
			select {
			case err := <-errCh:
				return err
			case <-time.After(time.Second):
				return nil
			}
		case err := <-errCh:
			v.Stop()
			return err
		case <-v.ctx.Done():
			select {
			case err := <-errCh:
				return err
			case <-time.After(time.Second):
				return nil
			}
		case <-ticker.C:
			v.drain()
		}
	}
}

// WaitReady blocks until the first frame has been drawn.
func (v *Viewer) WaitReady() {
	if v == nil || v.ready == nil {
		return
	}
	<-v.ready
}

// Stop closes the viewer. It is safe to call more than once.
func (v *Viewer) Stop() {
	if v == nil {
		return
	}
	v.stopOnce.Do(func() {
		v.cancel()
		v.search.Stop()
		v.scheduler.Stop()
		v.app.Stop()
	})
}

// drain moves up to maxDrainPerTick queued items into the model so a burst
// cannot starve input handling.
func (v *Viewer) drain() int {
	n := 0
	changed := false
	for n < maxDrainPerTick {
		it, ok := v.queue.TryGet()
		if !ok {
			break
		}
		n++
		if v.model.ingest(it) {
			changed = true
		}
	}
	v.metrics.AddDrained(n)
	if changed {
		v.scheduler.Schedule("log", func() {})
	}
	v.ticks++
	if n > 0 || v.ticks%footerEveryTicks == 0 {
		v.scheduler.Schedule("footer", v.renderFooter)
	}
	return n
}

// Clear empties history and the log pane.
func (v *Viewer) Clear() {
	v.model.clear()
	v.scheduler.Schedule("footer", v.renderFooter)
}

// Refilter applies the current inputs immediately and rebuilds the pane.
func (v *Viewer) Refilter() {
	v.refilterWith(v.search.Apply(v.filterInput.GetText(), v.excludeInput.GetText()))
}

func (v *Viewer) refilterWith(m filter.DisplayMatcher) {
	start := time.Now()
	v.model.refilter(m)
	v.metrics.ObserveRefilter(time.Since(start))
	v.scheduler.Schedule("footer", v.renderFooter)
}

func (v *Viewer) renderFooter() {
	v.footer.SetText(v.footerText())
	v.systemMu.Lock()
	last := v.systemLast
	v.systemMu.Unlock()
	v.systemLine.SetText(last)
}

func (v *Viewer) footerText() string {
	shown, _ := v.view.Counts()
	held, _, _, _ := v.history.Usage()
	parts := []string{
		fmt.Sprintf("shown %s / history %s", humanize.Comma(int64(shown)), humanize.Comma(int64(held))),
	}
	if v.status != nil {
		if s := v.status(); s != "" {
			parts = append(parts, s)
		}
	}
	if dropped := v.queue.Dropped(); dropped > 0 {
		parts = append(parts, "queue evicted "+humanize.Comma(int64(dropped)))
	}
	if r := v.metrics.RenderSnapshot(); r.N > 0 {
		parts = append(parts, "frame p99 "+r.P99.Round(time.Millisecond).String())
	}
	keys := accentText("Tab") + "Focus " + accentText("^L") + "Clear " + accentText("F5") + "Refilter " + accentText("q") + "Quit"
	return " " + tview.Escape(strings.Join(parts, " | ")) + "  " + keys
}

// SystemWriter returns a writer that shows the latest diagnostic log line
// above the footer, so relay logging does not paint over the screen.
func (v *Viewer) SystemWriter() io.Writer {
	return &systemWriter{viewer: v}
}

type systemWriter struct {
	mu      sync.Mutex
	viewer  *Viewer
	partial []byte
}

func (w *systemWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(w.partial[:idx]))
		w.partial = w.partial[idx+1:]
		if line == "" {
			continue
		}
		w.viewer.systemMu.Lock()
		w.viewer.systemLast = line
		w.viewer.systemMu.Unlock()
		w.viewer.scheduler.Schedule("footer", w.viewer.renderFooter)
	}
	if len(w.partial) > systemWriterBytes {
		w.partial = w.partial[:0]
	}
	return len(p), nil
}
