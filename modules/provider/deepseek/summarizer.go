package deepseek

import (
	"context"
	"fmt"

	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/provider"
)

// Summarizer returns the compaction summarizer backed by this provider.
// It always uses the summary model without streaming, and rejects a
// summary the backend cut off.
func (p *Provider) Summarizer() ctxengine.Summarizer {
	return summarizer{p: p}
}

type summarizer struct {
	p *Provider
}

// Summarize implements ctxengine.Summarizer.
func (s summarizer) Summarize(ctx context.Context, messages []provider.LLMMessage) (string, error) {
	if !s.p.HasCredentials() {
		return "", fmt.Errorf("deepseek: summarize: %w", provider.ErrAuth)
	}
	resp, err := s.p.Complete(ctx, provider.CompletionRequest{
		Messages: messages,
		Model:    s.p.config.SummaryModel,
	})
	if err != nil {
		return "", fmt.Errorf("deepseek: summarize: %w", err)
	}
	// A cut-off summary would silently lose history.
	if resp.FinishReason.Truncated() {
		return "", fmt.Errorf("deepseek: summarize: summary cut off (finish_reason %s)", resp.FinishReason)
	}
	s.p.logger.Debug("summary produced", "tokens", resp.Usage.CompletionTokens)
	return resp.Content, nil
}
