package ctxengine

import (
	"encoding/json"
	"time"
)

// Turn is one completed user input and its assistant output, with an
// estimated token cost. Turns are immutable once created.
type Turn struct {
	User      string
	Assistant string
	Tokens    int
	Timestamp time.Time
}

// turnJSON is the persisted form of a Turn. Timestamps are Unix milliseconds.
type turnJSON struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
	Tokens    int    `json:"tokens"`
	Timestamp int64  `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal(turnJSON{
		User:      t.User,
		Assistant: t.Assistant,
		Tokens:    t.Tokens,
		Timestamp: t.Timestamp.UnixMilli(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw turnJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Turn{
		User:      raw.User,
		Assistant: raw.Assistant,
		Tokens:    raw.Tokens,
		Timestamp: time.UnixMilli(raw.Timestamp),
	}
	return nil
}

// State is the conversation memory: ordered turns, oldest first, plus an
// optional summary standing in for turns evicted by compaction.
type State struct {
	Turns         []Turn
	Summary       string
	SummaryTokens int
}

// Total returns SummaryTokens plus the cost of every turn.
func (s State) Total() int {
	total := s.SummaryTokens
	for i := range s.Turns {
		total += s.Turns[i].Tokens
	}
	return total
}

// HasContent reports whether the state carries any turn or a summary.
func (s State) HasContent() bool {
	return len(s.Turns) > 0 || s.Summary != ""
}

// Clone returns a copy whose Turns slice does not alias s.
func (s State) Clone() State {
	c := s
	if s.Turns != nil {
		c.Turns = make([]Turn, len(s.Turns))
		copy(c.Turns, s.Turns)
	}
	return c
}
