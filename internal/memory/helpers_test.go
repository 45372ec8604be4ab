package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/internal/provider"
)

// lenEstimator prices text at one token per byte.
type lenEstimator struct{}

func (lenEstimator) Estimate(text string) int { return len(text) }

// exchange returns user and assistant texts whose combined lenEstimator
// cost is n (n >= 2).
func exchange(tag string, n int) (string, string) {
	u := n / 2
	user := tag + strings.Repeat("u", u-len(tag))
	return user, strings.Repeat("a", n-u)
}

type stubSummarizer struct {
	mu     sync.Mutex
	result string
	err    error
	calls  int
}

func (s *stubSummarizer) Summarize(_ context.Context, _ []provider.LLMMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

// failingKV fails every Set after the first okSets calls.
type failingKV struct {
	*memory.InMemoryKV
	okSets int
	sets   int
}

func (f *failingKV) Set(ctx context.Context, v map[string]json.RawMessage) error {
	f.sets++
	if f.sets > f.okSets {
		return errors.New("disk full")
	}
	return f.InMemoryKV.Set(ctx, v)
}
