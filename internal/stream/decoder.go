// Package stream decodes the incremental server-sent event feed of a chat
// completion into reasoning and content deltas.
package stream

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind distinguishes the two output channels of a completion.
type Kind int

// Delta kinds.
const (
	KindContent Kind = iota
	KindReasoning
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	if k == KindReasoning {
		return "reasoning"
	}
	return "content"
}

// Event is one decoded delta.
type Event struct {
	Kind Kind
	Text string
}

// Result is the aggregate of a decoded stream.
type Result struct {
	Reasoning string
	Content   string

	// IsComplete is true when the stream ended with a terminator line or
	// a clean end of transport.
	IsComplete bool

	// Terminated is true when the terminator line was seen.
	Terminated bool

	// Cancelled is true when decoding stopped because the context ended.
	Cancelled bool

	// Skipped counts malformed data lines.
	Skipped int
}

const (
	dataPrefix = "data:"
	terminator = "[DONE]"

	reasoningPath = "choices.0.delta.reasoning_content"
	contentPath   = "choices.0.delta.content"
)

// Decoder reassembles lines from arbitrarily split chunks and classifies
// them. A Decoder is single-use and not safe for concurrent use.
type Decoder struct {
	// RequireTerminator makes a clean end of transport without the
	// terminator line count as incomplete.
	RequireTerminator bool

	logger     *slog.Logger
	carry      []byte
	reasoning  strings.Builder
	content    strings.Builder
	terminated bool
	skipped    int
}

// NewDecoder creates a Decoder. A nil logger means slog.Default().
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Feed consumes one chunk, emitting a delta for every complete data line.
// The trailing fragment after the last newline is kept for the next call.
// It returns true once the terminator line has been seen; later input is
// ignored.
func (d *Decoder) Feed(chunk []byte, emit func(Event)) bool {
	if d.terminated {
		return true
	}
	d.carry = append(d.carry, chunk...)
	for {
		i := bytes.IndexByte(d.carry, '\n')
		if i < 0 {
			break
		}
		line := string(d.carry[:i])
		d.carry = d.carry[i+1:]
		if d.line(line, emit) {
			d.carry = nil
			return true
		}
	}
	// Keep the fragment in a fresh array so the consumed prefix can be
	// released.
	if len(d.carry) > 0 {
		d.carry = bytes.Clone(d.carry)
	} else {
		d.carry = nil
	}
	return false
}

// Finish treats any buffered fragment as a final line. Call it once the
// transport has ended.
func (d *Decoder) Finish(emit func(Event)) {
	if d.terminated || len(d.carry) == 0 {
		d.carry = nil
		return
	}
	line := string(d.carry)
	d.carry = nil
	d.line(line, emit)
}

// Result returns the aggregate so far. IsComplete reflects only the
// terminator; Decode applies the end-of-transport rules.
func (d *Decoder) Result() Result {
	return Result{
		Reasoning:  d.reasoning.String(),
		Content:    d.content.String(),
		IsComplete: d.terminated,
		Terminated: d.terminated,
		Skipped:    d.skipped,
	}
}

// line classifies and handles one complete line. It reports whether the
// line was the terminator.
func (d *Decoder) line(line string, emit func(Event)) bool {
	line = strings.TrimRight(line, "\r")
	if line == "" || strings.HasPrefix(line, ":") {
		return false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		// event:, id:, retry: and unknown fields.
		return false
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return false
	}
	if payload == terminator {
		d.terminated = true
		return true
	}

	if !gjson.Valid(payload) {
		d.skipped++
		d.logger.Debug("stream: skipping malformed data line", "payload", truncate(payload, 120))
		return false
	}

	fields := gjson.GetMany(payload, reasoningPath, contentPath)
	var ev Event
	switch {
	case fields[0].String() != "":
		ev = Event{Kind: KindReasoning, Text: fields[0].String()}
		d.reasoning.WriteString(ev.Text)
	case fields[1].String() != "":
		ev = Event{Kind: KindContent, Text: fields[1].String()}
		d.content.WriteString(ev.Text)
	default:
		return false
	}
	if emit != nil {
		emit(ev)
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
