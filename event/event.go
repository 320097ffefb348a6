// Package event defines the log event model shared by the relay core and its
// sinks: the decoded LogEvent produced by the codec and the queue item handed
// from client sessions to the single consumer.
package event

import "strings"

// Kind identifies what a producer asked the viewer to do with a line.
type Kind uint8

const (
	KindLog     Kind = iota // Regular log line
	KindError               // Error line, rendered with an ERROR marker
	KindComment             // Comment line, rendered with a COMMENT marker
	KindClear               // Clear the display; carries no payload
)

// ParseKind maps a wire `cmd` value onto a Kind. Matching is exact: the wire
// protocol only ever sends lower-case command names.
func ParseKind(cmd string) (Kind, bool) {
	switch cmd {
	case "log":
		return KindLog, true
	case "error":
		return KindError, true
	case "comment":
		return KindComment, true
	case "clear":
		return KindClear, true
	default:
		return KindLog, false
	}
}

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindError:
		return "error"
	case KindComment:
		return "comment"
	case KindClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Label returns the upper-case marker used by sinks and stats output.
func (k Kind) Label() string {
	return strings.ToUpper(k.String())
}

// Event is a decoded log event. It is immutable once built; the optional
// fields are pointers so "absent" and zero stay distinguishable.
//
// When Kind is KindClear the remaining fields are meaningless and consumers
// must ignore them.
type Event struct {
	Kind       Kind
	Message    string
	Timestamp  *float64 // epoch millis or seconds, as sent by the producer
	TieBreaker *int64   // producer-side ordering hint for near-simultaneous events
}

// New builds a message-carrying event.
func New(kind Kind, msg string, ts *float64, tie *int64) Event {
	return Event{Kind: kind, Message: msg, Timestamp: ts, TieBreaker: tie}
}

// Clear builds the payload-free clear signal.
func Clear() Event {
	return Event{Kind: KindClear}
}

// IsClear reports whether the event is the clear signal.
func (e Event) IsClear() bool {
	return e.Kind == KindClear
}

// Payload is the message part of a queue item.
type Payload struct {
	Message    string
	Timestamp  *float64
	TieBreaker *int64
}

// Item is one entry of the event queue: either ("clear", nil) or
// (kind, payload). Items are values; the payload pointer is never mutated
// after construction.
type Item struct {
	Kind    Kind
	Payload *Payload
}

// ItemFrom converts a decoded event into its queue representation.
func ItemFrom(e Event) Item {
	if e.IsClear() {
		return Item{Kind: KindClear}
	}
	return Item{
		Kind: e.Kind,
		Payload: &Payload{
			Message:    e.Message,
			Timestamp:  e.Timestamp,
			TieBreaker: e.TieBreaker,
		},
	}
}

// IsClear reports whether the item is the clear signal.
func (it Item) IsClear() bool {
	return it.Kind == KindClear
}
