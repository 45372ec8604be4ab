package provider

import (
	"context"
	"io"
)

// Provider is the interface for communicating with a language-model backend.
// Concrete implementations live in separate packages (e.g., provider.deepseek)
// and typically also implement core.Module for lifecycle management.
type Provider interface {
	// Complete sends a non-streaming completion request and returns the
	// full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream sends a streaming completion request and returns the raw
	// event-stream body once the HTTP status has been checked. Non-2xx
	// responses are returned as errors. The caller must close the body.
	Stream(ctx context.Context, req CompletionRequest) (io.ReadCloser, error)

	// ModelName returns the identifier of the default model.
	ModelName() string
}

// HealthChecker is an optional interface that providers may implement
// to support active health probing (connection test).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CredentialChecker is an optional interface reporting whether the
// provider has the credentials it needs to issue requests. Providers that
// do not implement it are assumed to be configured.
type CredentialChecker interface {
	HasCredentials() bool
}

// HasCredentials reports whether p is ready to issue requests.
func HasCredentials(p Provider) bool {
	if p == nil {
		return false
	}
	if cc, ok := p.(CredentialChecker); ok {
		return cc.HasCredentials()
	}
	return true
}
