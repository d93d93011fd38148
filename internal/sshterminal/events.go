package sshterminal

import "time"

// EventKind identifies what happened to a session.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventData         EventKind = "data"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
)

// Event is one session-tagged occurrence. Data is set for EventData and
// Reason for EventError.
type Event struct {
	SessionID string    `json:"sessionId"`
	Kind      EventKind `json:"type"`
	Data      []byte    `json:"-"`
	Reason    string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	seq uint64
}

// Terminal reports whether this is the last event a session will emit.
func (e Event) Terminal() bool {
	return e.Kind == EventDisconnected || e.Kind == EventError
}

// Listener receives events. Listeners run on the emitting session's
// dispatcher goroutine and must not block for long.
type Listener func(Event)

// historyBufferSize is the number of lifecycle events kept per session.
const historyBufferSize = 100

// eventHistory is a fixed-size ring of Events.
type eventHistory struct {
	events [historyBufferSize]Event
	head   int
	count  int
}

func (h *eventHistory) record(ev Event) {
	h.events[h.head] = ev
	h.head = (h.head + 1) % historyBufferSize
	if h.count < historyBufferSize {
		h.count++
	}
}

func (h *eventHistory) list() []Event {
	if h.count == 0 {
		return nil
	}
	result := make([]Event, h.count)
	if h.count < historyBufferSize {
		copy(result, h.events[:h.count])
	} else {
		n := copy(result, h.events[h.head:])
		copy(result[n:], h.events[:h.head])
	}
	return result
}
