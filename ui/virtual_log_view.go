package ui

import (
	"strconv"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"debuglog/event"
)

// virtualLogView is a bounded, virtualized scroll view for the relayed log.
// It keeps a ring of lines and renders only rows currently visible on screen,
// so a 100k-line history costs one screenful per draw.
// Concurrency: Append/Reset may be called from non-UI goroutines.
// Draw/HandleScroll run on the UI goroutine.
type virtualLogView struct {
	*tview.Box

	mu    sync.Mutex
	lines []Line
	head  int
	count int
	max   int
	total uint64

	offset int
	follow bool

	baseTitle string

	renderRows []Line

	cachedOverflowCount int
	cachedOverflowText  string
}

func newVirtualLogView(title string, max int) *virtualLogView {
	if max <= 0 {
		max = 1
	}
	v := &virtualLogView{
		Box:                 tview.NewBox().SetBorder(true),
		lines:               make([]Line, max),
		max:                 max,
		follow:              true,
		baseTitle:           title,
		cachedOverflowCount: -1,
	}
	applyFocusBoxStyle(v.Box, title, false)
	return v
}

func (v *virtualLogView) SetFocused(focused bool) {
	if v == nil {
		return
	}
	applyFocusBoxStyle(v.Box, v.baseTitle, focused)
}

func (v *virtualLogView) Append(line Line) {
	if v == nil || v.max <= 0 {
		return
	}
	v.mu.Lock()
	if v.count < v.max {
		v.lines[(v.head+v.count)%v.max] = line
		v.count++
	} else {
		v.lines[v.head] = line
		v.head = (v.head + 1) % v.max
	}
	v.total++
	v.mu.Unlock()
}

// Reset replaces the contents; only the newest max lines are kept.
func (v *virtualLogView) Reset(lines []Line) {
	if v == nil {
		return
	}
	v.mu.Lock()
	for i := range v.lines {
		v.lines[i] = Line{}
	}
	v.head = 0
	v.count = 0
	v.total = uint64(len(lines))
	v.offset = 0
	v.follow = true
	v.cachedOverflowCount = -1
	v.cachedOverflowText = ""
	start := 0
	if len(lines) > v.max {
		start = len(lines) - v.max
	}
	for _, line := range lines[start:] {
		v.lines[v.count] = line
		v.count++
	}
	v.mu.Unlock()
}

// Counts returns lines currently held and lines appended since the last Reset.
func (v *virtualLogView) Counts() (shown int, total uint64) {
	if v == nil {
		return 0, 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count, v.total
}

func (v *virtualLogView) Draw(screen tcell.Screen) {
	if v == nil {
		return
	}
	v.Box.DrawForSubclass(screen, v)

	x, y, width, height := v.GetInnerRect()
	if width <= 0 || height <= 0 {
		return
	}

	v.mu.Lock()
	rows := v.visibleRowsLocked(height)
	v.mu.Unlock()

	bg := v.GetBackgroundColor()
	for i, row := range rows {
		drawPlainLine(screen, x, y+i, width, row.Text, lineStyle(row.Kind, bg))
	}
}

func (v *virtualLogView) HandleScroll(ev *tcell.EventKey) bool {
	if v == nil || ev == nil {
		return false
	}

	_, _, _, height := v.GetInnerRect()
	if height < 1 {
		height = 1
	}
	page := height - 1
	if page < 1 {
		page = 1
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	maxOffset := v.totalRowsLocked() - height
	if maxOffset < 0 {
		maxOffset = 0
	}

	next := v.offset
	switch ev.Key() {
	case tcell.KeyUp:
		next--
	case tcell.KeyDown:
		next++
	case tcell.KeyPgUp:
		next -= page
	case tcell.KeyPgDn:
		next += page
	case tcell.KeyHome:
		next = 0
	case tcell.KeyEnd:
		next = maxOffset
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'k':
			next--
		case 'j':
			next++
		default:
			return false
		}
	default:
		return false
	}

	if next < 0 {
		next = 0
	}
	if next > maxOffset {
		next = maxOffset
	}
	v.follow = next == maxOffset
	v.offset = next
	return true
}

func (v *virtualLogView) SnapshotText() string {
	if v == nil {
		return ""
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	rows := v.rowsLocked(0, v.totalRowsLocked())
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.Text
	}
	return strings.Join(texts, "\n")
}

// totalRowsLocked counts stored lines plus the "earlier lines" marker row.
func (v *virtualLogView) totalRowsLocked() int {
	if v.overflowLocked() > 0 {
		return v.count + 1
	}
	return v.count
}

func (v *virtualLogView) overflowLocked() int {
	return int(v.total) - v.count
}

func (v *virtualLogView) visibleRowsLocked(height int) []Line {
	totalRows := v.totalRowsLocked()
	maxOffset := totalRows - height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if v.follow {
		v.offset = maxOffset
	}
	if v.offset < 0 {
		v.offset = 0
	}
	if v.offset > maxOffset {
		v.offset = maxOffset
	}
	end := v.offset + height
	if end > totalRows {
		end = totalRows
	}
	v.renderRows = append(v.renderRows[:0], v.rowsLocked(v.offset, end)...)
	return v.renderRows
}

// rowsLocked returns display rows [start, end); row 0 is the overflow marker
// when older lines were discarded.
func (v *virtualLogView) rowsLocked(start, end int) []Line {
	if end <= start {
		return nil
	}
	rows := make([]Line, 0, end-start)
	overflow := v.overflowLocked()
	for row := start; row < end; row++ {
		idx := row
		if overflow > 0 {
			if row == 0 {
				rows = append(rows, Line{Kind: event.KindComment, Text: v.overflowLineLocked(overflow)})
				continue
			}
			idx--
		}
		rows = append(rows, v.lines[(v.head+idx)%v.max])
	}
	return rows
}

func (v *virtualLogView) overflowLineLocked(overflow int) string {
	if overflow == v.cachedOverflowCount {
		return v.cachedOverflowText
	}
	var buf [48]byte
	b := append(buf[:0], "... "...)
	b = strconv.AppendInt(b, int64(overflow), 10)
	b = append(b, " earlier lines"...)
	v.cachedOverflowCount = overflow
	v.cachedOverflowText = string(b)
	return v.cachedOverflowText
}

func lineStyle(kind event.Kind, bg tcell.Color) tcell.Style {
	style := tcell.StyleDefault.Background(bg)
	switch kind {
	case event.KindError:
		return style.Foreground(tcell.ColorRed).Bold(true)
	case event.KindComment:
		return style.Foreground(tcell.ColorDarkCyan)
	default:
		return style.Foreground(tcell.ColorWhite)
	}
}

func drawPlainLine(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	if width <= 0 {
		return
	}
	col := 0
	screen.SetContent(x+col, y, ' ', nil, style)
	col++
	for _, r := range text {
		if col >= width {
			return
		}
		if r == '\n' || r == '\r' {
			return
		}
		if r == '\t' {
			r = ' '
		}
		screen.SetContent(x+col, y, r, nil, style)
		col++
	}
}
