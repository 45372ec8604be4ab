package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flemzord/fanyi/internal/provider"
)

// maxResponseSize is the maximum non-streaming response body size (10 MB).
// Protects against OOM from malformed or huge responses.
const maxResponseSize = 10 * 1024 * 1024

const (
	chatPath   = "/v1/chat/completions"
	tracerName = "github.com/flemzord/fanyi/modules/provider/deepseek"
)

// buildChatRequest creates a wire request from a provider request, merging
// request-level overrides with config defaults.
func (p *Provider) buildChatRequest(req provider.CompletionRequest, stream bool) chatRequest {
	model := p.config.Model
	if req.Model != "" {
		model = req.Model
	}
	cr := chatRequest{
		Model:    modelID(model),
		Messages: toMessages(req.Messages),
		Stream:   stream,
		Stop:     req.Stop,
	}

	switch {
	case req.MaxTokens > 0:
		cr.MaxTokens = req.MaxTokens
	case p.config.MaxTokens > 0:
		cr.MaxTokens = p.config.MaxTokens
	}

	cr.Temperature = p.config.Temperature
	if req.Temperature != nil {
		cr.Temperature = req.Temperature
	}
	cr.TopP = p.config.TopP
	if req.TopP != nil {
		cr.TopP = req.TopP
	}
	return cr
}

// newHTTPRequest creates an authenticated HTTP request for the chat API.
func (p *Provider) newHTTPRequest(ctx context.Context, payload chatRequest) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("deepseek: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepseek: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	if payload.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// Complete sends a non-streaming completion request and returns the full
// response.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (_ provider.CompletionResponse, err error) {
	cr := p.buildChatRequest(req, false)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "deepseek.complete")
	span.SetAttributes(attribute.String("llm.model", cr.Model), attribute.Int("llm.messages", len(cr.Messages)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	httpReq, err := p.newHTTPRequest(ctx, cr)
	if err != nil {
		return provider.CompletionResponse{}, err
	}

	resp, err := p.clientsFor(cr.Model).complete.Do(httpReq)
	if err != nil {
		return provider.CompletionResponse{}, mapConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("deepseek: read response: %w", err)
	}
	if httpErr := mapHTTPError(resp.StatusCode, body); httpErr != nil {
		return provider.CompletionResponse{}, httpErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("deepseek: unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return provider.CompletionResponse{}, fmt.Errorf("deepseek: response has no choices")
	}

	out := fromResponse(&parsed)
	span.SetAttributes(attribute.Int("llm.usage.total_tokens", out.Usage.TotalTokens))
	return out, nil
}

// Stream sends a streaming completion request. Once the response status
// has been checked the raw event-stream body is returned; the caller owns
// it and must close it.
func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (_ io.ReadCloser, err error) {
	cr := p.buildChatRequest(req, true)

	_, span := otel.Tracer(tracerName).Start(ctx, "deepseek.stream.open")
	span.SetAttributes(attribute.String("llm.model", cr.Model), attribute.Int("llm.messages", len(cr.Messages)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	httpReq, err := p.newHTTPRequest(ctx, cr)
	if err != nil {
		return nil, err
	}

	resp, err := p.clientsFor(cr.Model).stream.Do(httpReq)
	if err != nil {
		return nil, mapConnectionError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return nil, mapHTTPError(resp.StatusCode, body)
	}

	p.logger.Debug("stream opened", "model", cr.Model, "messages", len(cr.Messages))
	return resp.Body, nil
}

// HealthCheck validates the backend is functional by sending a minimal
// 1-token completion. This tests authentication, model access, and quota.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Complete(ctx, provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleUser, Content: "hi"},
		},
		MaxTokens: 1,
	})
	return err
}
