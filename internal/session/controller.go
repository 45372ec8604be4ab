// Package session implements the single-flight translation session
// controller: it builds the prompt from the History Store, streams the
// backend response through the decoder to a UI sink, supports mid-flight
// cancellation, and commits completed turns to history.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/internal/provider"
)

const tracerName = "github.com/flemzord/fanyi/internal/session"

// defaultAppendTimeout bounds the history append, which may call the
// backend for compaction.
const defaultAppendTimeout = 30 * time.Second

// PromptAugmenter may rewrite the system instruction for a given input
// before the prompt is built.
type PromptAugmenter interface {
	Augment(ctx context.Context, instruction, input string) (string, error)
}

// Config configures a Controller.
type Config struct {
	Provider provider.Provider

	// History is optional; without it no context is sent and nothing is
	// recorded.
	History *memory.History

	// SystemInstruction is the base instruction sent as the first message.
	SystemInstruction string

	// Model overrides the provider's default model.
	Model string

	// RequireTerminator treats a stream that ends without the terminator
	// line as failed.
	RequireTerminator bool

	Augmenter PromptAugmenter

	// Health, when set, records backend successes and failures.
	Health *provider.HealthTracker

	// AppendTimeout bounds the history append after completion.
	AppendTimeout time.Duration

	Logger *slog.Logger

	// OnFinish, when set, is called once per session with its outcome.
	OnFinish func(Outcome)
}

// Prompt is the part of Config that may change while the controller runs.
// Sessions read it once, when they build their request.
type Prompt struct {
	SystemInstruction string
	Model             string
	RequireTerminator bool
}

// Controller runs at most one translation session at a time. Starting a
// session supersedes and aborts the active one.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	prompt atomic.Pointer[Prompt]

	mu     sync.Mutex // serializes Start and Abort
	active atomic.Pointer[Session]
}

// NewController creates a Controller.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = defaultAppendTimeout
	}
	c := &Controller{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session"),
	}
	c.prompt.Store(&Prompt{
		SystemInstruction: cfg.SystemInstruction,
		Model:             cfg.Model,
		RequireTerminator: cfg.RequireTerminator,
	})
	return c
}

// Prompt returns the current prompt settings.
func (c *Controller) Prompt() Prompt { return *c.prompt.Load() }

// SetPrompt replaces the prompt settings for sessions started afterwards.
func (c *Controller) SetPrompt(p Prompt) {
	c.prompt.Store(&p)
	c.logger.Info("prompt settings updated", "model", p.Model, "require_terminator", p.RequireTerminator)
}

// History returns the controller's History Store, which may be nil.
func (c *Controller) History() *memory.History { return c.cfg.History }

// Provider returns the controller's backend.
func (c *Controller) Provider() provider.Provider { return c.cfg.Provider }

// Active returns the current session, or nil before the first Start.
// The returned session may already be terminal.
func (c *Controller) Active() *Session { return c.active.Load() }

// Start supersedes the active session, validates the input and launches a
// new session. Validation failures return a session already in the Failed
// state together with an error wrapping ErrValidation; no network call is
// made. The session is bound to ctx: cancelling ctx aborts it, and a ctx
// deadline fails it as a timeout.
func (c *Controller) Start(ctx context.Context, input string, sink Sink) (*Session, error) {
	if sink == nil {
		sink = Discard
	}

	// Superseding only cancels the previous session; its goroutine
	// delivers the Aborted event, so a slow sink cannot hold c.mu.
	c.mu.Lock()
	if prev := c.active.Load(); prev != nil {
		prev.cancelWith(ErrSuperseded)
	}
	s := c.newSession(ctx, input, sink)
	c.active.Store(s)
	c.mu.Unlock()

	if err := c.validate(input); err != nil {
		s.fail(err)
		// A concurrent Start may have superseded s before validation.
		s.settle()
		return s, err
	}

	go s.run()
	return s, nil
}

func (c *Controller) validate(input string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%w: input is empty", ErrValidation)
	}
	if c.cfg.Provider == nil {
		return fmt.Errorf("%w: %w", ErrValidation, ErrNoProvider)
	}
	if !provider.HasCredentials(c.cfg.Provider) {
		return fmt.Errorf("%w: backend credentials are not configured", ErrValidation)
	}
	return nil
}

// Abort cancels the active session. It reports whether a running session
// was aborted.
func (c *Controller) Abort(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.active.Load()
	if s == nil {
		return false
	}
	return s.cancelWith(abortCause(reason))
}

// AbortSession cancels the session with the given id if it is the active
// one.
func (c *Controller) AbortSession(id, reason string) bool {
	if s := c.active.Load(); s == nil || s.id != id {
		return false
	}
	return c.Abort(reason)
}

// Translate runs one session to completion and returns its outcome.
func (c *Controller) Translate(ctx context.Context, input string, sink Sink) (Outcome, error) {
	s, err := c.Start(ctx, input, sink)
	if err != nil {
		return s.Outcome(), err
	}
	return s.Wait(ctx)
}

func (c *Controller) isActive(s *Session) bool {
	return c.active.Load() == s
}

func (c *Controller) newSession(parent context.Context, input string, sink Sink) *Session {
	id := newID()
	ctx, cancel := context.WithCancelCause(parent)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session")
	span.SetAttributes(
		attribute.String("session.id", id),
		attribute.Int("session.input_runes", len([]rune(input))),
	)
	return &Session{
		id:      id,
		input:   input,
		ctrl:    c,
		logger:  c.logger.With("session_id", id),
		ctx:     ctx,
		cancel:  cancel,
		span:    span,
		sink:    sink,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
