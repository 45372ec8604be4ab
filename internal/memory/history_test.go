package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/memory"
)

func newTruncating(budget int) (*memory.History, *memory.InMemoryKV) {
	kv := memory.NewInMemoryKV()
	h := memory.NewHistory(memory.Options{
		KV:        kv,
		Strategy:  ctxengine.Truncation{},
		Estimator: lenEstimator{},
		Budget:    budget,
	})
	return h, kv
}

func turnCosts(h *memory.History) []int {
	st := h.Snapshot()
	out := make([]int, len(st.Turns))
	for i := range st.Turns {
		out[i] = st.Turns[i].Tokens
	}
	return out
}

func TestHistory_AppendNoops(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		user, assistant string
	}{
		{"empty user", "", "x"},
		{"empty assistant", "x", ""},
		{"whitespace both", "  ", "  "},
		{"whitespace user", " \n\t", "answer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, kv := newTruncating(1000)
			if err := h.Append(context.Background(), tt.user, tt.assistant); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if h.Len() != 0 || h.TotalTokens() != 0 {
				t.Errorf("Len=%d Total=%d, want 0/0", h.Len(), h.TotalTokens())
			}
			if kv.Sets() != 0 {
				t.Errorf("no-op append persisted %d times", kv.Sets())
			}
		})
	}
}

func TestHistory_AppendTrimsAndPersists(t *testing.T) {
	t.Parallel()

	h, kv := newTruncating(1000)
	if err := h.Append(context.Background(), "  question \n", "\tanswer  "); err != nil {
		t.Fatalf("Append: %v", err)
	}

	st := h.Snapshot()
	if len(st.Turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(st.Turns))
	}
	turn := st.Turns[0]
	if turn.User != "question" || turn.Assistant != "answer" {
		t.Errorf("turn = %+v, want trimmed texts", turn)
	}
	if turn.Tokens != len("question")+len("answer") {
		t.Errorf("Tokens = %d", turn.Tokens)
	}
	if turn.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}

	values, _ := kv.Get(context.Background(), memory.KeyHistory)
	var persisted []ctxengine.Turn
	if err := json.Unmarshal(values[memory.KeyHistory], &persisted); err != nil {
		t.Fatalf("decode persisted: %v", err)
	}
	if len(persisted) != 1 || persisted[0].User != "question" {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestHistory_TruncationExample(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newTruncating(1000)
	for i, c := range []int{400, 300, 200} {
		u, a := exchange(string(rune('a'+i)), c)
		if err := h.Append(ctx, u, a); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if h.TotalTokens() != 900 {
		t.Fatalf("TotalTokens = %d, want 900", h.TotalTokens())
	}

	u, a := exchange("d", 150)
	if err := h.Append(ctx, u, a); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if got := turnCosts(h); !slices.Equal(got, []int{300, 200, 150}) {
		t.Errorf("turns = %v, want [300 200 150]", got)
	}
	if h.TotalTokens() != 650 {
		t.Errorf("TotalTokens = %d, want 650", h.TotalTokens())
	}
}

func TestHistory_BudgetInvariant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, _ := newTruncating(500)
	for i := range 40 {
		u, a := exchange("t", 20+(i*37)%200)
		if err := h.Append(ctx, u, a); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if h.TotalTokens() > 500 {
			t.Fatalf("after append %d TotalTokens = %d > 500", i, h.TotalTokens())
		}
	}
}

func TestHistory_CompactionSuccess(t *testing.T) {
	t.Parallel()

	sum := &stubSummarizer{result: "short summary"}
	var events []memory.EvictionEvent
	h := memory.NewHistory(memory.Options{
		Strategy:  ctxengine.NewCompaction(sum, lenEstimator{}, 0.6),
		Estimator: lenEstimator{},
		Budget:    1000,
		OnEvict:   func(ev memory.EvictionEvent) { events = append(events, ev) },
	})

	ctx := context.Background()
	for _, c := range []int{400, 400, 300} {
		u, a := exchange("x", c)
		if err := h.Append(ctx, u, a); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	st := h.Snapshot()
	if st.Summary != "short summary" {
		t.Errorf("Summary = %q", st.Summary)
	}
	if got := turnCosts(h); !slices.Equal(got, []int{300}) {
		t.Errorf("turns = %v, want [300]", got)
	}
	if h.TotalTokens() > 1000 {
		t.Errorf("TotalTokens = %d over budget", h.TotalTokens())
	}
	if len(events) != 1 || events[0].Evicted != 2 || events[0].Err != nil {
		t.Errorf("events = %+v", events)
	}
}

func TestHistory_CompactionFailureKeepsTurn(t *testing.T) {
	t.Parallel()

	sum := &stubSummarizer{err: errors.New("timeout")}
	kv := memory.NewInMemoryKV()
	h := memory.NewHistory(memory.Options{
		KV:        kv,
		Strategy:  ctxengine.NewCompaction(sum, lenEstimator{}, 0.6),
		Estimator: lenEstimator{},
		Budget:    1000,
	})

	ctx := context.Background()
	for _, c := range []int{400, 400} {
		u, a := exchange("x", c)
		if err := h.Append(ctx, u, a); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	u, a := exchange("y", 300)
	err := h.Append(ctx, u, a)
	if !errors.Is(err, ctxengine.ErrCompactionFailed) {
		t.Fatalf("err = %v, want ErrCompactionFailed", err)
	}
	if got := turnCosts(h); !slices.Equal(got, []int{400, 400, 300}) {
		t.Errorf("turns = %v, want all three kept", got)
	}
	if h.Snapshot().Summary != "" {
		t.Error("summary should be untouched after failed compaction")
	}

	// Persisted state matches memory.
	values, _ := kv.Get(ctx, memory.KeyHistory)
	var persisted []ctxengine.Turn
	_ = json.Unmarshal(values[memory.KeyHistory], &persisted)
	if len(persisted) != 3 {
		t.Errorf("persisted %d turns, want 3", len(persisted))
	}

	// The next append retries and succeeds.
	sum.mu.Lock()
	sum.err = nil
	sum.result = "ok"
	sum.mu.Unlock()
	u, a = exchange("z", 50)
	if err := h.Append(ctx, u, a); err != nil {
		t.Fatalf("retry Append: %v", err)
	}
	if h.TotalTokens() > 1000 {
		t.Errorf("TotalTokens = %d after retry", h.TotalTokens())
	}
}

func TestHistory_PersistFailure(t *testing.T) {
	t.Parallel()

	kv := &failingKV{InMemoryKV: memory.NewInMemoryKV()}
	h := memory.NewHistory(memory.Options{KV: kv, Estimator: lenEstimator{}, Budget: 100})

	err := h.Append(context.Background(), "q", "a")
	if !errors.Is(err, memory.ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if h.Len() != 1 {
		t.Errorf("in-memory state should keep the turn, Len = %d", h.Len())
	}
}

func TestHistory_Load(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := memory.NewInMemoryKV()
	_ = kv.Set(ctx, map[string]json.RawMessage{
		memory.KeyHistory: json.RawMessage(`[
			{"user":"valid","assistant":"entry","tokens":10,"timestamp":1735689600000},
			{"user":"zero","assistant":"tokens","tokens":0,"timestamp":1735689600000}
		]`),
	})
	setsBefore := kv.Sets()

	h := memory.NewHistory(memory.Options{KV: kv, Estimator: lenEstimator{}})
	if err := h.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if h.Len() != 1 || h.TotalTokens() != 10 {
		t.Errorf("Len=%d Total=%d, want 1/10", h.Len(), h.TotalTokens())
	}
	if kv.Sets() != setsBefore+1 {
		t.Fatalf("Load should re-persist once, sets = %d", kv.Sets()-setsBefore)
	}

	values, _ := kv.Get(ctx, memory.KeyHistory)
	var persisted []ctxengine.Turn
	if err := json.Unmarshal(values[memory.KeyHistory], &persisted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(persisted) != 1 || persisted[0].User != "valid" {
		t.Errorf("persisted = %+v, want only the valid entry", persisted)
	}
}

func TestHistory_LoadDropsMalformed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := memory.NewInMemoryKV()
	_ = kv.Set(ctx, map[string]json.RawMessage{
		memory.KeyHistory: json.RawMessage(`[
			{"user":"ok","assistant":"ok","tokens":4,"timestamp":1},
			{"user":42,"assistant":"x","tokens":4,"timestamp":1},
			{"user":"x","assistant":"","tokens":4,"timestamp":1},
			{"user":"x","assistant":"y","tokens":4},
			{"user":"x","assistant":"y","tokens":-3,"timestamp":1},
			"garbage"
		]`),
		memory.KeySummary:       json.RawMessage(`"kept summary"`),
		memory.KeySummaryTokens: json.RawMessage(`5`),
		memory.KeyEnabled:       json.RawMessage(`false`),
	})

	h := memory.NewHistory(memory.Options{KV: kv, Estimator: lenEstimator{}})
	if err := h.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h.Len() != 1 {
		t.Errorf("Len = %d, want 1", h.Len())
	}
	if st := h.Snapshot(); st.Summary != "kept summary" || st.SummaryTokens != 5 {
		t.Errorf("summary = %q (%d)", st.Summary, st.SummaryTokens)
	}
	if h.Enabled() {
		t.Error("Enabled() = true, want false from persisted flag")
	}
}

func TestHistory_LoadCleanDoesNotPersist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := memory.NewInMemoryKV()
	h := memory.NewHistory(memory.Options{KV: kv})
	if err := h.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if kv.Sets() != 0 {
		t.Errorf("clean load persisted %d times", kv.Sets())
	}
	if !h.Enabled() {
		t.Error("history should default to enabled")
	}
	if h.HasContent() {
		t.Error("empty store HasContent() = true")
	}
}

func TestHistory_Clear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, kv := newTruncating(1000)
	_ = h.Append(ctx, "q", "a")
	if !h.HasContent() {
		t.Fatal("HasContent() = false after append")
	}

	if err := h.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if h.HasContent() || h.TotalTokens() != 0 {
		t.Error("Clear left content behind")
	}
	values, _ := kv.Get(ctx, memory.KeyHistory, memory.KeySummary)
	if string(values[memory.KeyHistory]) != "[]" || string(values[memory.KeySummary]) != `""` {
		t.Errorf("persisted after clear = %s / %s", values[memory.KeyHistory], values[memory.KeySummary])
	}
}

func TestHistory_SetEnabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, kv := newTruncating(1000)
	if err := h.SetEnabled(ctx, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if h.Enabled() {
		t.Error("Enabled() = true after disabling")
	}

	reloaded := memory.NewHistory(memory.Options{KV: kv})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Enabled() {
		t.Error("disabled flag not persisted")
	}
}

func TestHistory_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	h, _ := newTruncating(1000)
	_ = h.Append(context.Background(), "q", "a")

	st := h.Snapshot()
	st.Turns[0].User = "mutated"
	if h.Snapshot().Turns[0].User != "q" {
		t.Error("Snapshot aliases internal state")
	}
}

func TestNewHistory_Defaults(t *testing.T) {
	t.Parallel()

	h := memory.NewHistory(memory.Options{})
	if h.Strategy() != ctxengine.StrategyTruncation || h.Budget() != ctxengine.DefaultTruncationBudget {
		t.Errorf("defaults = %s/%d", h.Strategy(), h.Budget())
	}

	c := memory.NewHistory(memory.Options{Strategy: ctxengine.NewCompaction(&stubSummarizer{}, nil, 0)})
	if c.Budget() != ctxengine.DefaultCompactionBudget {
		t.Errorf("compaction budget = %d", c.Budget())
	}
}
