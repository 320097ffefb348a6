package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	accentTag   = "[#ff69b4]"
	accentReset = "[-]"
)

var (
	uiBorderColor      = tcell.ColorGray
	uiFocusBorderColor = tcell.ColorHotPink
	uiTitleColor       = tcell.ColorHotPink
)

// focusable abstracts a focusable primitive with optional scroll handling.
type focusable interface {
	Primitive() tview.Primitive
	SetFocused(focused bool)
	HandleScroll(event *tcell.EventKey) bool
}

// focusGroup manages Tab cycling and scroll routing across the viewer's
// inputs, buttons and log pane.
type focusGroup struct {
	items []focusable
	index int
}

func newFocusGroup(items ...focusable) focusGroup {
	filtered := make([]focusable, 0, len(items))
	for _, item := range items {
		if item == nil || item.Primitive() == nil {
			continue
		}
		filtered = append(filtered, item)
	}
	return focusGroup{items: filtered}
}

// focusSetter is the slice of *tview.Application focusGroup needs.
type focusSetter interface {
	SetFocus(p tview.Primitive) *tview.Application
}

func (g *focusGroup) set(app focusSetter, idx int) {
	if g == nil || len(g.items) == 0 {
		return
	}
	if idx < 0 || idx >= len(g.items) {
		idx = 0
	}
	g.index = idx
	for i, item := range g.items {
		item.SetFocused(i == idx)
	}
	if app != nil {
		app.SetFocus(g.items[idx].Primitive())
	}
}

func (g *focusGroup) cycle(app focusSetter, delta int) {
	if g == nil || len(g.items) == 0 {
		return
	}
	next := g.index + delta
	if next < 0 {
		next = len(g.items) - 1
	} else if next >= len(g.items) {
		next = 0
	}
	g.set(app, next)
}

// handleScroll forwards ev to the focused item.
func (g *focusGroup) handleScroll(ev *tcell.EventKey) bool {
	if g == nil || ev == nil || len(g.items) == 0 {
		return false
	}
	return g.items[g.index].HandleScroll(ev)
}

func (g *focusGroup) current() focusable {
	if g == nil || len(g.items) == 0 {
		return nil
	}
	return g.items[g.index]
}

// inputPane adapts an input field to focusGroup. Inputs never scroll.
type inputPane struct {
	field *tview.InputField
}

func (p inputPane) Primitive() tview.Primitive { return p.field }

func (p inputPane) SetFocused(focused bool) {
	if focused {
		p.field.SetLabelColor(uiFocusBorderColor)
	} else {
		p.field.SetLabelColor(tcell.ColorWhite)
	}
}

func (p inputPane) HandleScroll(*tcell.EventKey) bool { return false }

type buttonPane struct {
	button *tview.Button
}

func (p buttonPane) Primitive() tview.Primitive { return p.button }

func (p buttonPane) SetFocused(bool) {}

func (p buttonPane) HandleScroll(*tcell.EventKey) bool { return false }

// Primitive lets the log view take part in a focusGroup.
func (v *virtualLogView) Primitive() tview.Primitive {
	if v == nil {
		return nil
	}
	return v
}

func applyFocusBoxStyle(box *tview.Box, title string, focused bool) {
	if box == nil {
		return
	}
	border := uiBorderColor
	if focused {
		border = uiFocusBorderColor
	}
	box.SetBorderColor(border)
	box.SetTitleColor(uiTitleColor)
	if title != "" {
		box.SetTitle(" " + title + " ").SetTitleAlign(tview.AlignLeft)
	}
}

func accentText(text string) string {
	if text == "" {
		return ""
	}
	return accentTag + text + accentReset
}
