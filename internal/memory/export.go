package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	ctxengine "github.com/flemzord/fanyi/internal/context"
)

// ErrInvalidExport indicates an import document without an entries array.
var ErrInvalidExport = errors.New("memory: invalid history export")

// Stats summarizes the stored history.
type Stats struct {
	Enabled         bool      `json:"enabled"`
	Strategy        string    `json:"strategy"`
	TotalEntries    int       `json:"totalEntries"`
	TotalTokens     int       `json:"totalTokens"`
	SummaryTokens   int       `json:"summaryTokens"`
	MaxTokens       int       `json:"maxTokens"`
	OldestEntry     time.Time `json:"oldestEntry,omitzero"`
	NewestEntry     time.Time `json:"newestEntry,omitzero"`
	AveragePerEntry int       `json:"averageTokensPerEntry"`
}

// Stats returns a summary of the stored history.
func (h *History) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := h.state
	s := Stats{
		Enabled:       h.enabled,
		Strategy:      h.strategy.Name(),
		TotalEntries:  len(st.Turns),
		TotalTokens:   st.Total(),
		SummaryTokens: st.SummaryTokens,
		MaxTokens:     h.budget,
	}
	if n := len(st.Turns); n > 0 {
		s.OldestEntry = st.Turns[0].Timestamp
		s.NewestEntry = st.Turns[n-1].Timestamp
		turnTokens := s.TotalTokens - st.SummaryTokens
		s.AveragePerEntry = (turnTokens + n/2) / n
	}
	return s
}

// Export is the portable form of the history.
type Export struct {
	Exported      time.Time        `json:"exported"`
	MaxTokens     int              `json:"maxTokens"`
	Entries       []ctxengine.Turn `json:"entries"`
	Summary       string           `json:"summary,omitempty"`
	SummaryTokens int              `json:"summaryTokens,omitempty"`
}

// Export returns a copy of the history suitable for serialization.
func (h *History) Export() Export {
	st := h.Snapshot()
	entries := st.Turns
	if entries == nil {
		entries = []ctxengine.Turn{}
	}
	return Export{
		Exported:      h.now().UTC(),
		MaxTokens:     h.budget,
		Entries:       entries,
		Summary:       st.Summary,
		SummaryTokens: st.SummaryTokens,
	}
}

// ImportResult reports what Import kept.
type ImportResult struct {
	Imported int
	Dropped  int
}

// Import replaces the history with the entries of a JSON export document.
// Entries are validated like Load and trimmed; the budget is then enforced
// through the eviction strategy and the result persisted. An eviction
// failure keeps the imported state and is returned alongside the result.
func (h *History) Import(ctx context.Context, data []byte) (ImportResult, error) {
	if !gjson.ValidBytes(data) {
		return ImportResult{}, fmt.Errorf("%w: malformed JSON", ErrInvalidExport)
	}
	doc := gjson.ParseBytes(data)
	entries := doc.Get("entries")
	if !entries.IsArray() {
		return ImportResult{}, fmt.Errorf("%w: entries must be an array", ErrInvalidExport)
	}

	var res ImportResult
	var turns []ctxengine.Turn
	entries.ForEach(func(_, e gjson.Result) bool {
		t, ok := parseTurn(e)
		if ok {
			t.User = strings.TrimSpace(t.User)
			t.Assistant = strings.TrimSpace(t.Assistant)
			ok = t.User != "" && t.Assistant != ""
		}
		if !ok {
			res.Dropped++
			return true
		}
		turns = append(turns, t)
		return true
	})
	res.Imported = len(turns)

	st := ctxengine.State{Turns: turns}
	if s := doc.Get("summary"); s.Type == gjson.String && s.Str != "" {
		st.Summary = s.Str
		st.SummaryTokens = h.estimator.Estimate(s.Str)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	st, evictErr := h.enforce(ctx, st)
	h.setState(st)
	if err := h.persist(ctx, st); err != nil {
		return res, errors.Join(evictErr, err)
	}

	h.logger.Info("history imported",
		"imported", res.Imported,
		"dropped", res.Dropped,
		"retained", len(st.Turns),
		"total", st.Total(),
	)
	return res, evictErr
}
