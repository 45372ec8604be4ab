// Package providertest provides test helpers for the provider package.
package providertest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/flemzord/fanyi/internal/provider"
)

// MockProvider is a configurable test double for provider.Provider.
// Set the Func fields to control behavior. Unset funcs panic on call,
// except ModelNameFunc and HasCredentialsFunc which have defaults.
// All methods are safe for concurrent use.
type MockProvider struct {
	CompleteFunc       func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	StreamFunc         func(ctx context.Context, req provider.CompletionRequest) (io.ReadCloser, error)
	ModelNameFunc      func() string
	HealthCheckFunc    func(ctx context.Context) error
	HasCredentialsFunc func() bool

	mu            sync.Mutex
	CompleteCalls int
	StreamCalls   int
	HealthCalls   int
	Requests      []provider.CompletionRequest
}

// Complete delegates to CompleteFunc and tracks call count.
func (m *MockProvider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// Stream delegates to StreamFunc and tracks call count.
func (m *MockProvider) Stream(ctx context.Context, req provider.CompletionRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	m.StreamCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	return m.StreamFunc(ctx, req)
}

// ModelName delegates to ModelNameFunc, defaulting to "mock-model".
func (m *MockProvider) ModelName() string {
	if m.ModelNameFunc == nil {
		return "mock-model"
	}
	return m.ModelNameFunc()
}

// HealthCheck delegates to HealthCheckFunc and tracks call count.
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.HealthCalls++
	m.mu.Unlock()
	return m.HealthCheckFunc(ctx)
}

// HasCredentials delegates to HasCredentialsFunc, defaulting to true.
func (m *MockProvider) HasCredentials() bool {
	if m.HasCredentialsFunc == nil {
		return true
	}
	return m.HasCredentialsFunc()
}

// Calls returns the stream and complete call counts.
func (m *MockProvider) Calls() (stream, complete int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StreamCalls, m.CompleteCalls
}

// LastRequest returns the most recent request, if any.
func (m *MockProvider) LastRequest() (provider.CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return provider.CompletionRequest{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

// SSEBody renders content deltas as an event-stream body terminated by
// "data: [DONE]".
func SSEBody(deltas ...string) io.ReadCloser {
	var b strings.Builder
	for _, d := range deltas {
		b.WriteString(`data: {"choices":[{"delta":{"content":`)
		b.WriteString(quote(d))
		b.WriteString("}}]}\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(b.String()))
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

// Interface guards.
var (
	_ provider.Provider          = (*MockProvider)(nil)
	_ provider.HealthChecker     = (*MockProvider)(nil)
	_ provider.CredentialChecker = (*MockProvider)(nil)
)
