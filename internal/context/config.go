// Package ctxengine implements conversation context management: token
// estimation, the conversation state model, eviction strategies, and
// prompt assembly.
package ctxengine

// Default budgets, in estimated tokens.
const (
	DefaultCompactionBudget = 2000
	DefaultTruncationBudget = 16000
	DefaultTargetRatio      = 0.6
)

// Strategy names accepted by NewStrategy and the history configuration.
const (
	StrategyCompaction = "compaction"
	StrategyTruncation = "truncation"
)

// Config holds the tuning knobs for conversation memory.
type Config struct {
	// Strategy selects the eviction variant. Empty means compaction.
	Strategy string

	// Budget is the maximum total estimated tokens the conversation memory
	// may occupy. 0 means the strategy's default budget.
	Budget int

	// TargetRatio is the fraction of Budget compaction aims for.
	TargetRatio float64
}

// WithDefaults returns a copy of cfg with zero-valued fields replaced by
// the defaults of the selected strategy.
func (cfg Config) WithDefaults() Config {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyCompaction
	}
	if cfg.Budget <= 0 {
		if cfg.Strategy == StrategyTruncation {
			cfg.Budget = DefaultTruncationBudget
		} else {
			cfg.Budget = DefaultCompactionBudget
		}
	}
	if cfg.TargetRatio <= 0 || cfg.TargetRatio >= 1 {
		cfg.TargetRatio = DefaultTargetRatio
	}
	return cfg
}
