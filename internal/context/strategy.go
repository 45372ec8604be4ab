package ctxengine

import (
	"context"
	"fmt"
)

// EvictionStrategy brings a conversation state back within budget.
// Implementations must only remove turns from the front and must return
// the input state unchanged alongside any error.
type EvictionStrategy interface {
	// Name identifies the strategy in logs and configuration.
	Name() string

	// Evict returns a state whose Total is at most budget. It is called
	// only when the state is over budget.
	Evict(ctx context.Context, st State, budget int) (State, error)
}

// Truncation drops the oldest turns until the state fits the budget.
// A summary left over from an earlier compaction is dropped first.
type Truncation struct{}

// Name implements EvictionStrategy.
func (Truncation) Name() string { return StrategyTruncation }

// Evict implements EvictionStrategy. It never fails.
func (Truncation) Evict(_ context.Context, st State, budget int) (State, error) {
	out := st.Clone()
	if out.Total() > budget && out.Summary != "" {
		out.Summary = ""
		out.SummaryTokens = 0
	}
	drop := 0
	total := out.Total()
	for drop < len(out.Turns) && total > budget {
		total -= out.Turns[drop].Tokens
		drop++
	}
	out.Turns = out.Turns[drop:]
	return out, nil
}

// NewStrategy returns the strategy selected by cfg. Compaction requires a
// summarizer; estimator defaults to WeightedEstimator.
func NewStrategy(cfg Config, summarizer Summarizer, estimator TokenEstimator) (EvictionStrategy, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Strategy {
	case StrategyTruncation:
		return Truncation{}, nil
	case StrategyCompaction:
		if summarizer == nil {
			return nil, fmt.Errorf("ctxengine: compaction strategy requires a summarizer")
		}
		return NewCompaction(summarizer, estimator, cfg.TargetRatio), nil
	default:
		return nil, fmt.Errorf("ctxengine: unknown strategy %q", cfg.Strategy)
	}
}
