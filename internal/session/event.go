package session

import (
	"fmt"
	"sync"
)

// Status is the lifecycle state of a Session.
type Status int

// Session states. Completed, Aborted and Failed are terminal.
const (
	StatusIdle Status = iota
	StatusRequesting
	StatusStreaming
	StatusCompleted
	StatusAborted
	StatusFailed
)

var statusNames = [...]string{
	StatusIdle:       "idle",
	StatusRequesting: "requesting",
	StatusStreaming:  "streaming",
	StatusCompleted:  "completed",
	StatusAborted:    "aborted",
	StatusFailed:     "failed",
}

// String returns the lower-case state name.
func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown status %q", text)
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// EventType tags an Event.
type EventType string

// Event types delivered to a Sink.
const (
	EventStatus    EventType = "status"
	EventReasoning EventType = "reasoning"
	EventContent   EventType = "content"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one notification for the UI layer, tagged with the identity of
// the session that produced it.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Status    Status    `json:"status"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Sink receives session events. Send is called synchronously from the
// decode loop and must not block on further I/O. A slow Send delays only
// its own session: Start and Abort never wait on it.
type Sink interface {
	Send(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Send implements Sink.
func (f SinkFunc) Send(ev Event) { f(ev) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Recorder is a Sink that keeps every event, for tests and batch callers.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Send implements Sink.
func (r *Recorder) Send(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
