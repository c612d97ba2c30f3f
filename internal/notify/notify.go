// Package notify delivers user-facing session events such as joins, leaves
// and metadata changes.
package notify

import "log"

type Kind string

const (
	Joined          Kind = "joined"
	Left            Kind = "left"
	LanguageChanged Kind = "language_changed"
	TitleChanged    Kind = "title_changed"
)

// Event is one notification. Value carries the new metadata value for
// change events; Name is the participant's display name for presence events.
type Event struct {
	Kind     Kind
	ClientID uint64
	Name     string
	Value    string
	Message  string
}

// Sink receives events. Delivery is fire and forget.
type Sink interface {
	Notify(Event)
}

// Func adapts a function to a Sink.
type Func func(Event)

func (f Func) Notify(ev Event) {
	f(ev)
}

// Discard drops every event.
var Discard Sink = Func(func(Event) {})

// LogSink writes events to the standard logger.
type LogSink struct {
	Prefix string
}

func (s LogSink) Notify(ev Event) {
	switch {
	case ev.Message != "":
		log.Printf("%s%s", s.Prefix, ev.Message)
	case ev.Name != "":
		log.Printf("%s%s %s", s.Prefix, ev.Name, ev.Kind)
	default:
		log.Printf("%s%s %s", s.Prefix, ev.Kind, ev.Value)
	}
}
