package ctxengine_test

import (
	"context"
	"fmt"
	"time"

	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/provider"
)

// mockSummarizer implements ctxengine.Summarizer for tests.
type mockSummarizer struct {
	result   string
	err      error
	called   int
	messages []provider.LLMMessage
}

func (m *mockSummarizer) Summarize(_ context.Context, msgs []provider.LLMMessage) (string, error) {
	m.called++
	m.messages = msgs
	return m.result, m.err
}

// lenEstimator implements ctxengine.TokenEstimator as byte length.
type lenEstimator struct{}

func (lenEstimator) Estimate(text string) int { return len(text) }

// makeTurns creates one turn per cost, oldest first.
func makeTurns(costs ...int) []ctxengine.Turn {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	turns := make([]ctxengine.Turn, len(costs))
	for i, c := range costs {
		turns[i] = ctxengine.Turn{
			User:      fmt.Sprintf("q%d", i),
			Assistant: fmt.Sprintf("a%d", i),
			Tokens:    c,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return turns
}

func costs(turns []ctxengine.Turn) []int {
	out := make([]int, len(turns))
	for i := range turns {
		out[i] = turns[i].Tokens
	}
	return out
}
