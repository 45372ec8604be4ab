package ctxengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/fanyi/internal/provider"
)

// ErrCompactionFailed indicates that compaction could not produce a usable
// summary. The state is left as it was before the attempt.
var ErrCompactionFailed = errors.New("ctxengine: compaction failed")

// Summarizer produces a condensed summary from a summarization prompt.
// The concrete implementation calls the backend without streaming.
type Summarizer interface {
	Summarize(ctx context.Context, messages []provider.LLMMessage) (string, error)
}

// SummaryHeader introduces the summary in the assembled prompt.
const SummaryHeader = "以下是之前对话的简要摘要：\n"

const (
	mergePrompt = "请将以下历史摘要和新对话合并为一个简洁的摘要，重点保留翻译相关的上下文和重要信息：\n\n已有摘要：\n%s\n\n新对话：\n%s"
	freshPrompt = "请将以下对话简洁总结，重点保留翻译相关的上下文和重要信息：\n\n%s"
	turnFormat  = "用户: %s\nAI: %s"
	turnJoiner  = "\n\n---\n\n"
)

// Compaction replaces the oldest turns and any existing summary with a
// new summary, bringing the total down to TargetRatio of the budget.
type Compaction struct {
	summarizer  Summarizer
	estimator   TokenEstimator
	targetRatio float64
}

// NewCompaction creates a Compaction strategy. A nil estimator means
// WeightedEstimator; a ratio outside (0, 1) means DefaultTargetRatio.
func NewCompaction(summarizer Summarizer, estimator TokenEstimator, targetRatio float64) *Compaction {
	if estimator == nil {
		estimator = WeightedEstimator{}
	}
	if targetRatio <= 0 || targetRatio >= 1 {
		targetRatio = DefaultTargetRatio
	}
	return &Compaction{
		summarizer:  summarizer,
		estimator:   estimator,
		targetRatio: targetRatio,
	}
}

// Name implements EvictionStrategy.
func (c *Compaction) Name() string { return StrategyCompaction }

// Evict implements EvictionStrategy. On any failure the input state is
// returned unchanged with an error wrapping ErrCompactionFailed.
func (c *Compaction) Evict(ctx context.Context, st State, budget int) (State, error) {
	total := st.Total()
	if total <= budget {
		return st, nil
	}
	if len(st.Turns) == 0 {
		return st, fmt.Errorf("%w: summary alone exceeds budget (%d > %d)", ErrCompactionFailed, total, budget)
	}

	n := c.prefixLen(st, budget)
	prompt := SummaryPrompt(st.Summary, st.Turns[:n])

	summary, err := c.summarizer.Summarize(ctx, []provider.LLMMessage{
		{Role: provider.MessageRoleUser, Content: prompt},
	})
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrCompactionFailed, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return st, fmt.Errorf("%w: empty summary", ErrCompactionFailed)
	}

	out := State{
		Summary:       summary,
		SummaryTokens: c.estimator.Estimate(summary),
	}
	out.Turns = make([]Turn, len(st.Turns)-n)
	copy(out.Turns, st.Turns[n:])

	if got := out.Total(); got > budget {
		return st, fmt.Errorf("%w: summary still over budget (%d > %d)", ErrCompactionFailed, got, budget)
	}
	return out, nil
}

// prefixLen returns the length of the smallest oldest-first prefix whose
// cost, together with the existing summary, covers the excess over the
// target. At least one turn is always selected.
func (c *Compaction) prefixLen(st State, budget int) int {
	need := float64(st.Total()) - float64(budget)*c.targetRatio
	acc := float64(st.SummaryTokens)
	n := 0
	for n < len(st.Turns) {
		acc += float64(st.Turns[n].Tokens)
		n++
		if acc >= need {
			break
		}
	}
	return n
}

// SummaryPrompt renders the summarization request for the given turns,
// merging with an existing summary when there is one.
func SummaryPrompt(existing string, turns []Turn) string {
	parts := make([]string, len(turns))
	for i := range turns {
		parts[i] = fmt.Sprintf(turnFormat, turns[i].User, turns[i].Assistant)
	}
	history := strings.Join(parts, turnJoiner)
	if existing != "" {
		return fmt.Sprintf(mergePrompt, existing, history)
	}
	return fmt.Sprintf(freshPrompt, history)
}
