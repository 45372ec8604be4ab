package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	ctxengine "github.com/flemzord/fanyi/internal/context"
)

// ErrPersist wraps failures of the underlying KV store.
var ErrPersist = errors.New("memory: persist failed")

// EvictionEvent describes one run of the eviction strategy.
type EvictionEvent struct {
	Strategy string
	Before   int
	After    int
	Evicted  int
	Err      error
}

// Options configures a History.
type Options struct {
	// KV persists the state. Defaults to a fresh InMemoryKV.
	KV KV

	// Strategy enforces the budget. Defaults to ctxengine.Truncation.
	Strategy ctxengine.EvictionStrategy

	// Estimator prices new turns. Defaults to ctxengine.WeightedEstimator.
	Estimator ctxengine.TokenEstimator

	// Budget is the maximum total token cost. 0 means the strategy default.
	Budget int

	Logger *slog.Logger

	// OnEvict, when set, is called after every eviction attempt.
	OnEvict func(EvictionEvent)
}

// History is the History Store. It owns the conversation state, enforces
// the token budget through an eviction strategy and persists every
// completed mutation. All methods are safe for concurrent use.
type History struct {
	kv        KV
	strategy  ctxengine.EvictionStrategy
	estimator ctxengine.TokenEstimator
	budget    int
	logger    *slog.Logger
	onEvict   func(EvictionEvent)
	now       func() time.Time

	// writeMu serializes mutations; mu guards state so readers are not
	// blocked while a compaction call is in flight.
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   ctxengine.State
	enabled bool
}

// NewHistory creates an empty, enabled History. Call Load to restore the
// persisted state.
func NewHistory(opts Options) *History {
	h := &History{
		kv:        opts.KV,
		strategy:  opts.Strategy,
		estimator: opts.Estimator,
		budget:    opts.Budget,
		logger:    opts.Logger,
		onEvict:   opts.OnEvict,
		now:       time.Now,
		enabled:   true,
	}
	if h.kv == nil {
		h.kv = NewInMemoryKV()
	}
	if h.strategy == nil {
		h.strategy = ctxengine.Truncation{}
	}
	if h.estimator == nil {
		h.estimator = ctxengine.WeightedEstimator{}
	}
	if h.budget <= 0 {
		h.budget = ctxengine.Config{Strategy: h.strategy.Name()}.WithDefaults().Budget
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Budget returns the configured token budget.
func (h *History) Budget() int { return h.budget }

// Strategy returns the name of the eviction strategy.
func (h *History) Strategy() string { return h.strategy.Name() }

// Append records a completed exchange. It is a no-op when either text is
// blank after trimming or the exchange has no token cost. When the new
// total exceeds the budget the eviction strategy runs before the state is
// persisted. A failed compaction keeps the appended turn, persists it and
// returns an error wrapping ctxengine.ErrCompactionFailed.
func (h *History) Append(ctx context.Context, user, assistant string) error {
	user = strings.TrimSpace(user)
	assistant = strings.TrimSpace(assistant)
	if user == "" || assistant == "" {
		h.logger.Debug("history append skipped: empty text")
		return nil
	}
	tokens := ctxengine.EstimateTurn(h.estimator, user, assistant)
	if tokens <= 0 {
		h.logger.Debug("history append skipped: zero cost")
		return nil
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	next := h.Snapshot()
	next.Turns = append(next.Turns, ctxengine.Turn{
		User:      user,
		Assistant: assistant,
		Tokens:    tokens,
		Timestamp: h.now(),
	})

	next, evictErr := h.enforce(ctx, next)
	h.setState(next)

	if err := h.persist(ctx, next); err != nil {
		return errors.Join(evictErr, err)
	}

	h.logger.Debug("history turn appended",
		"tokens", tokens,
		"turns", len(next.Turns),
		"total", next.Total(),
	)
	return evictErr
}

// enforce runs the eviction strategy when st is over budget. On failure it
// returns st unchanged together with the strategy error.
func (h *History) enforce(ctx context.Context, st ctxengine.State) (ctxengine.State, error) {
	before := st.Total()
	if before <= h.budget {
		return st, nil
	}

	out, err := h.strategy.Evict(ctx, st, h.budget)
	ev := EvictionEvent{Strategy: h.strategy.Name(), Before: before, Err: err}
	if err != nil {
		ev.After = before
		h.logger.Warn("history eviction failed, state kept over budget",
			"strategy", ev.Strategy,
			"total", before,
			"budget", h.budget,
			"error", err,
		)
		h.notify(ev)
		return st, err
	}

	ev.After = out.Total()
	ev.Evicted = len(st.Turns) - len(out.Turns)
	h.logger.Info("history evicted",
		"strategy", ev.Strategy,
		"evicted_turns", ev.Evicted,
		"before", before,
		"after", ev.After,
	)
	h.notify(ev)
	return out, nil
}

func (h *History) notify(ev EvictionEvent) {
	if h.onEvict != nil {
		h.onEvict(ev)
	}
}

// Load restores the persisted state. Entries with a missing or empty
// text, a missing timestamp, or a non-positive token count are dropped;
// when anything was dropped the cleaned state is persisted immediately.
func (h *History) Load(ctx context.Context) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	values, err := h.kv.Get(ctx, KeyHistory, KeySummary, KeySummaryTokens, KeyEnabled)
	if err != nil {
		return fmt.Errorf("memory: load: %w", err)
	}

	turns, dropped := parseTurns(values[KeyHistory])
	st := ctxengine.State{Turns: turns}

	if raw, ok := values[KeySummary]; ok {
		if s := gjson.ParseBytes(raw); s.Type == gjson.String {
			st.Summary = s.String()
		}
	}
	if raw, ok := values[KeySummaryTokens]; ok {
		st.SummaryTokens = int(gjson.ParseBytes(raw).Int())
	}
	switch {
	case st.Summary == "" && st.SummaryTokens != 0:
		st.SummaryTokens = 0
		dropped++
	case st.Summary != "" && st.SummaryTokens <= 0:
		st.SummaryTokens = h.estimator.Estimate(st.Summary)
		dropped++
	}

	enabled := true
	if raw, ok := values[KeyEnabled]; ok {
		enabled = gjson.ParseBytes(raw).Type != gjson.False
	}

	h.mu.Lock()
	h.state = st
	h.enabled = enabled
	h.mu.Unlock()

	h.logger.Info("history loaded",
		"turns", len(st.Turns),
		"summary_tokens", st.SummaryTokens,
		"total", st.Total(),
		"enabled", enabled,
	)

	if dropped > 0 {
		h.logger.Warn("history contained invalid entries, rewriting", "dropped", dropped)
		return h.persist(ctx, st)
	}
	return nil
}

// parseTurns decodes a persisted turn array, skipping invalid entries.
// It reports how many entries were dropped.
func parseTurns(raw json.RawMessage) ([]ctxengine.Turn, int) {
	if len(raw) == 0 {
		return nil, 0
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return nil, 1
	}

	var turns []ctxengine.Turn
	dropped := 0
	doc.ForEach(func(_, e gjson.Result) bool {
		if t, ok := parseTurn(e); ok {
			turns = append(turns, t)
		} else {
			dropped++
		}
		return true
	})
	return turns, dropped
}

func parseTurn(e gjson.Result) (ctxengine.Turn, bool) {
	user := e.Get("user")
	assistant := e.Get("assistant")
	tokens := e.Get("tokens")
	ts := e.Get("timestamp")

	if user.Type != gjson.String || user.Str == "" {
		return ctxengine.Turn{}, false
	}
	if assistant.Type != gjson.String || assistant.Str == "" {
		return ctxengine.Turn{}, false
	}
	if tokens.Type != gjson.Number || tokens.Int() <= 0 {
		return ctxengine.Turn{}, false
	}
	if ts.Type != gjson.Number || ts.Int() <= 0 {
		return ctxengine.Turn{}, false
	}
	return ctxengine.Turn{
		User:      user.Str,
		Assistant: assistant.Str,
		Tokens:    int(tokens.Int()),
		Timestamp: time.UnixMilli(ts.Int()),
	}, true
}

// Clear empties the turns and the summary, then persists.
func (h *History) Clear(ctx context.Context) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.setState(ctxengine.State{})
	h.logger.Info("history cleared")
	return h.persist(ctx, ctxengine.State{})
}

// HasContent reports whether any turn or a summary is stored.
func (h *History) HasContent() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.HasContent()
}

// TotalTokens returns the summary cost plus the cost of every turn.
func (h *History) TotalTokens() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Total()
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.state.Turns)
}

// Snapshot returns a deep copy of the conversation state.
func (h *History) Snapshot() ctxengine.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Clone()
}

// Enabled reports whether conversation memory is switched on.
func (h *History) Enabled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.enabled
}

// SetEnabled switches conversation memory on or off and persists the flag.
// Stored turns are kept either way.
func (h *History) SetEnabled(ctx context.Context, enabled bool) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	h.enabled = enabled
	h.mu.Unlock()

	raw, _ := json.Marshal(enabled)
	if err := h.kv.Set(ctx, map[string]json.RawMessage{KeyEnabled: raw}); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	h.logger.Info("history toggled", "enabled", enabled)
	return nil
}

func (h *History) setState(st ctxengine.State) {
	h.mu.Lock()
	h.state = st
	h.mu.Unlock()
}

// persist writes st. The in-memory state stays authoritative when the
// write fails.
func (h *History) persist(ctx context.Context, st ctxengine.State) error {
	turns := st.Turns
	if turns == nil {
		turns = []ctxengine.Turn{}
	}
	history, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("%w: encode turns: %w", ErrPersist, err)
	}
	summary, _ := json.Marshal(st.Summary)
	summaryTokens, _ := json.Marshal(st.SummaryTokens)

	if err := h.kv.Set(ctx, map[string]json.RawMessage{
		KeyHistory:       history,
		KeySummary:       summary,
		KeySummaryTokens: summaryTokens,
	}); err != nil {
		h.logger.Error("history persist failed", "error", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
