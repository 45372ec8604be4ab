// Package deepseek implements the provider.deepseek module: the DeepSeek
// chat completions backend (OpenAI-compatible wire format) with streaming,
// reasoning output, and the non-streaming summarizer used for history
// compaction.
package deepseek

import (
	"log/slog"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/fanyi/internal/core"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/security"
)

// ModuleID is the registry identifier of this module.
const ModuleID = "provider.deepseek"

// CredentialName is the name under which the API key is registered in the
// credential store, so it is redacted from logs.
const CredentialName = "deepseek_api_key"

func init() {
	core.RegisterModule(&Provider{})
}

// Compile-time interface guards.
var (
	_ provider.Provider          = (*Provider)(nil)
	_ provider.HealthChecker     = (*Provider)(nil)
	_ provider.CredentialChecker = (*Provider)(nil)
	_ core.Module                = (*Provider)(nil)
	_ core.Configurable          = (*Provider)(nil)
	_ core.Provisioner           = (*Provider)(nil)
	_ core.Validator             = (*Provider)(nil)
)

// Provider implements the DeepSeek chat completions API as a fanyi
// provider module.
type Provider struct {
	config   Config
	logger   *slog.Logger
	chat     httpClients
	reasoner httpClients
}

// httpClients are the clients used for one request timeout.
type httpClients struct {
	// complete bounds the whole request.
	complete *http.Client
	// stream bounds only the wait for response headers, since a body can
	// stream for minutes; cancellation is handled via context.
	stream *http.Client
}

func newHTTPClients(timeout time.Duration) httpClients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return httpClients{
		complete: &http.Client{Timeout: timeout},
		stream:   &http.Client{Transport: transport},
	}
}

// clientsFor picks the clients by the model of the outgoing request, so a
// per-session model choice gets its own timeout.
func (p *Provider) clientsFor(model string) httpClients {
	if model == modelIDs[ModelReasoner] {
		return p.reasoner
	}
	return p.chat
}

// ModuleInfo implements core.Module.
func (p *Provider) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Provider{} },
	}
}

// Configure implements core.Configurable.
func (p *Provider) Configure(node *yaml.Node) error {
	if err := node.Decode(&p.config); err != nil {
		return err
	}
	p.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (p *Provider) Provision(ctx *core.AppContext) error {
	p.config.defaults()
	p.logger = ctx.Logger

	p.chat = newHTTPClients(p.config.timeoutFor(ModelChat))
	p.reasoner = newHTTPClients(p.config.timeoutFor(ModelReasoner))

	if creds, ok := core.ServiceAs[*security.CredentialStore](ctx, "security.credentials"); ok && p.config.APIKey != "" {
		creds.Set(CredentialName, p.config.APIKey)
	}
	if p.config.APIKey == "" {
		p.logger.Warn("no api_key configured; translations will fail until one is set")
	}

	ctx.RegisterService(ModuleID, p)
	ctx.RegisterService("provider", p)
	return nil
}

// Validate implements core.Validator. A missing API key is not an error:
// sessions reject it before any network call.
func (p *Provider) Validate() error {
	return p.config.validateTimeout()
}

// ModelName returns the backend identifier of the configured model.
func (p *Provider) ModelName() string {
	return modelID(p.config.Model)
}

// HasCredentials reports whether an API key is configured.
func (p *Provider) HasCredentials() bool {
	return p.config.APIKey != ""
}
