package deepseek

import (
	"fmt"
	"time"
)

// Model aliases accepted in configuration.
const (
	ModelChat     = "chat"
	ModelReasoner = "reasoner"
)

// modelIDs maps configuration aliases to backend model identifiers.
var modelIDs = map[string]string{
	ModelChat:     "deepseek-chat",
	ModelReasoner: "deepseek-reasoner",
}

// Config holds the configuration for the DeepSeek provider module.
type Config struct {
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	Model        string   `yaml:"model"`
	SummaryModel string   `yaml:"summary_model"`
	MaxTokens    int      `yaml:"max_tokens"`
	Temperature  *float64 `yaml:"temperature"`
	TopP         *float64 `yaml:"top_p"`
	Timeout      string   `yaml:"timeout"`
}

// defaults fills zero-valued fields with the backend defaults.
func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.deepseek.com"
	}
	if c.Model == "" {
		c.Model = ModelChat
	}
	if c.SummaryModel == "" {
		c.SummaryModel = ModelChat
	}
	if c.Temperature == nil {
		t := 0.1
		c.Temperature = &t
	}
	if c.TopP == nil {
		p := 0.9
		c.TopP = &p
	}
}

// modelID resolves an alias to the backend model identifier. Unknown
// values are passed through unchanged.
func modelID(name string) string {
	if id, ok := modelIDs[name]; ok {
		return id
	}
	return name
}

// timeoutFor returns the request timeout for a model alias or identifier.
// An explicit timeout applies to every model; otherwise the reasoner gets
// 60s and every other model 30s.
func (c *Config) timeoutFor(model string) time.Duration {
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err == nil {
			return d
		}
	}
	if modelID(model) == modelIDs[ModelReasoner] {
		return 60 * time.Second
	}
	return 30 * time.Second
}

// validateTimeout checks that the timeout string is a valid Go duration.
func (c *Config) validateTimeout() error {
	if c.Timeout == "" {
		return nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("provider.deepseek: invalid timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return fmt.Errorf("provider.deepseek: timeout must be positive, got %s", d)
	}
	return nil
}
