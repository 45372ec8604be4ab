package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/stream"
)

// Outcome is the final state of a Session.
type Outcome struct {
	ID         string        `json:"id"`
	Status     Status        `json:"status"`
	Reasoning  string        `json:"reasoning,omitempty"`
	Content    string        `json:"content"`
	IsComplete bool          `json:"is_complete"`
	Recorded   bool          `json:"recorded"`
	Duration   time.Duration `json:"duration"`

	// Err is the failure or cancellation cause. Nil when Completed.
	Err error `json:"-"`

	// HistoryErr is a history append failure after completion, for
	// example a failed compaction. The session is still Completed.
	HistoryErr error `json:"-"`
}

// Session is one translation request.
type Session struct {
	id     string
	input  string
	ctrl   *Controller
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	span   trace.Span
	sink   Sink

	started time.Time
	done    chan struct{}

	// sendMu orders sink deliveries and guards closed.
	sendMu sync.Mutex
	closed bool

	mu        sync.Mutex
	status    Status
	cause     error // set when an abort is claimed
	reasoning strings.Builder
	final     strings.Builder
	outcome   Outcome
}

// ID returns the session identity carried by its events.
func (s *Session) ID() string { return s.id }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Partial returns the reasoning and final text accumulated so far.
func (s *Session) Partial() (reasoning, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasoning.String(), s.final.String()
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outcome returns the final outcome. It is only meaningful after Done is
// closed.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Wait blocks until the session is terminal or ctx ends. The returned
// error is the outcome error; for Completed sessions it is nil.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		out := s.Outcome()
		return out, out.Err
	case <-ctx.Done():
		return Outcome{ID: s.id, Status: s.Status()}, ctx.Err()
	}
}

// Abort cancels this session if it is still running. The Aborted event
// is delivered by the session goroutine once it unwinds, so Abort never
// waits on the sink.
func (s *Session) Abort(reason string) bool {
	return s.cancelWith(abortCause(reason))
}

func abortCause(reason string) error {
	if reason == "" {
		return ErrAborted
	}
	return fmt.Errorf("%w: %s", ErrAborted, reason)
}

// run drives the session from Requesting to a terminal state.
func (s *Session) run() {
	defer s.settle()

	cfg := &s.ctrl.cfg
	prompt := s.ctrl.Prompt()

	instruction := prompt.SystemInstruction
	if cfg.Augmenter != nil {
		augmented, err := cfg.Augmenter.Augment(s.ctx, instruction, s.input)
		if err != nil {
			s.logger.Warn("prompt augmentation failed, using base instruction", "error", err)
		} else {
			instruction = augmented
		}
	}

	var state ctxengine.State
	if h := cfg.History; h != nil && h.Enabled() {
		state = h.Snapshot()
	}
	msgs := ctxengine.Build(instruction, state, s.input)
	s.logger.Debug("prompt built",
		"messages", len(msgs),
		"history_turns", len(state.Turns),
		"prompt_tokens", ctxengine.EstimateMessages(ctxengine.WeightedEstimator{}, msgs),
	)

	if !s.transition(StatusRequesting) {
		return
	}
	body, err := cfg.Provider.Stream(s.ctx, provider.CompletionRequest{
		Messages: msgs,
		Model:    prompt.Model,
	})
	if err != nil {
		s.endWith(stream.Result{}, err)
		return
	}
	defer func() { _ = body.Close() }()

	if !s.transition(StatusStreaming) {
		return
	}

	// Close the body on cancellation so a blocked read returns.
	stop := make(chan struct{})
	go func() {
		select {
		case <-s.ctx.Done():
			_ = body.Close()
		case <-stop:
		}
	}()

	dec := stream.NewDecoder(s.logger)
	dec.RequireTerminator = prompt.RequireTerminator
	res, err := dec.Decode(s.ctx, body, s.onDelta)
	close(stop)

	s.endWith(res, err)
}

// onDelta accumulates one delta and forwards it to the sink.
func (s *Session) onDelta(ev stream.Event) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	typ := EventContent
	if ev.Kind == stream.KindReasoning {
		typ = EventReasoning
		s.reasoning.WriteString(ev.Text)
	} else {
		s.final.WriteString(ev.Text)
	}
	s.mu.Unlock()

	s.emit(Event{Type: typ, Status: StatusStreaming, Text: ev.Text})
}

// endWith maps the decode result (or the stream open error) to a
// terminal state.
func (s *Session) endWith(res stream.Result, err error) {
	if s.ctx.Err() != nil {
		cause := context.Cause(s.ctx)
		if errors.Is(cause, context.DeadlineExceeded) {
			err := fmt.Errorf("%w: backend timed out: %w", provider.ErrProviderDown, cause)
			s.recordHealth(err)
			s.fail(err)
			return
		}
		s.abort(cause)
		return
	}

	switch {
	case err != nil:
		s.recordHealth(err)
		s.fail(err)
	case !res.IsComplete:
		s.fail(ErrIncompleteStream)
	default:
		s.recordHealth(nil)
		s.complete()
	}
}

// transition moves to a non-terminal state and announces it. It reports
// false when the session already ended.
func (s *Session) transition(to Status) bool {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.status = to
	s.mu.Unlock()

	s.logger.Debug("session state", "status", to.String())
	s.emit(Event{Type: EventStatus, Status: to})
	return true
}

// claim moves to a terminal state. Only the first caller wins.
func (s *Session) claim(to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = to
	return true
}

// complete commits the turn and finishes the session as Completed.
func (s *Session) complete() {
	if !s.claim(StatusCompleted) {
		return
	}

	reasoning, content := s.Partial()
	out := Outcome{
		Status:     StatusCompleted,
		Reasoning:  reasoning,
		Content:    content,
		IsComplete: true,
	}

	record := content
	if strings.TrimSpace(record) == "" {
		record = reasoning
	}
	if h := s.ctrl.cfg.History; h != nil && h.Enabled() && strings.TrimSpace(record) != "" {
		// The append outlives the session context: a supersede after
		// completion must not cancel compaction.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.ctrl.cfg.AppendTimeout)
		out.HistoryErr = h.Append(ctx, s.input, record)
		cancel()
		out.Recorded = out.HistoryErr == nil || errors.Is(out.HistoryErr, ctxengine.ErrCompactionFailed)
		if out.HistoryErr != nil {
			s.logger.Warn("history append failed", "error", out.HistoryErr)
		}
	}

	s.finish(out, Event{Type: EventDone, Status: StatusCompleted, Text: content})
}

// fail finishes the session as Failed.
func (s *Session) fail(err error) {
	if !s.claim(StatusFailed) {
		return
	}
	reasoning, content := s.Partial()
	s.logger.Error("session failed", "error", err)
	s.finish(Outcome{
		Status:    StatusFailed,
		Reasoning: reasoning,
		Content:   content,
		Err:       err,
	}, Event{Type: EventError, Status: StatusFailed, Error: err.Error()})
}

// cancelWith claims the Aborted state and cancels the session context
// without delivering anything to the sink. The session goroutine finishes
// the session through settle. It reports whether the session was still
// running.
func (s *Session) cancelWith(cause error) bool {
	if !IsCancellation(cause) {
		cause = fmt.Errorf("%w: %w", ErrAborted, cause)
	}
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.status = StatusAborted
	s.cause = cause
	s.mu.Unlock()

	s.cancel(cause)
	return true
}

// abort finishes the session as Aborted from the session goroutine. It
// never touches history.
func (s *Session) abort(cause error) {
	if s.cancelWith(cause) {
		s.finishAborted()
	}
}

// settle finishes a session whose abort was claimed from outside.
func (s *Session) settle() {
	select {
	case <-s.done:
		return
	default:
	}
	s.mu.Lock()
	pending := s.status == StatusAborted
	s.mu.Unlock()
	if pending {
		s.finishAborted()
	}
}

func (s *Session) finishAborted() {
	s.mu.Lock()
	cause := s.cause
	s.mu.Unlock()

	reasoning, content := s.Partial()
	s.logger.Info("session aborted", "cause", cause.Error())
	s.finish(Outcome{
		Status:    StatusAborted,
		Reasoning: reasoning,
		Content:   content,
		Err:       cause,
	}, Event{Type: EventStatus, Status: StatusAborted, Error: cause.Error()})
}

// finish publishes the outcome, delivers the last event and closes the
// session to further events.
func (s *Session) finish(out Outcome, last Event) {
	out.ID = s.id
	out.Duration = time.Since(s.started)

	s.mu.Lock()
	s.outcome = out
	s.mu.Unlock()

	s.sendMu.Lock()
	if !s.closed {
		last.SessionID = s.id
		s.sink.Send(last)
		s.closed = true
	}
	s.sendMu.Unlock()

	s.span.SetAttributes(
		attribute.String("session.status", out.Status.String()),
		attribute.Int("session.content_runes", len([]rune(out.Content))),
		attribute.Bool("session.recorded", out.Recorded),
	)
	if out.Status == StatusFailed {
		s.span.RecordError(out.Err)
		s.span.SetStatus(codes.Error, out.Err.Error())
	}
	s.span.End()

	s.logger.Info("session finished",
		"status", out.Status.String(),
		"duration", out.Duration,
		"content_runes", len([]rune(out.Content)),
		"recorded", out.Recorded,
	)
	if fn := s.ctrl.cfg.OnFinish; fn != nil {
		fn(out)
	}

	// Release the context; a no-op after abort.
	s.cancel(context.Canceled)
	close(s.done)
}

// emit delivers ev unless the session has ended or been superseded.
func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed || !s.ctrl.isActive(s) {
		s.logger.Debug("dropping stale event", "type", string(ev.Type))
		return
	}
	s.sink.Send(ev)
}

// recordHealth feeds the outcome into the health tracker. err is nil on
// success.
func (s *Session) recordHealth(err error) {
	h := s.ctrl.cfg.Health
	if h == nil {
		return
	}
	if err == nil {
		h.RecordSuccess()
	} else {
		h.RecordFailure(err)
	}
}
