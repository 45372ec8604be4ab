package gateway

import (
	"time"

	"github.com/flemzord/fanyi/internal/security"
)

// Config is the gateway.http section of the configuration.
type Config struct {
	// Bind is host:port. Loopback by default.
	Bind string `yaml:"bind"`

	Auth      AuthConfig               `yaml:"auth"`
	RateLimit security.RateLimitConfig `yaml:"rate_limit"`

	// AllowedOrigins are the WebSocket origin patterns accepted besides
	// same-origin requests.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AuditLog writes auth and rate-limit events to
	// {data_dir}/audit.jsonl. Default: true.
	AuditLog *bool `yaml:"audit_log"`

	// MaxBodyBytes bounds request bodies and WebSocket messages.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// There is no write timeout: a streamed translation lasts as long as
	// the backend keeps producing.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 8 << 20
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

func (c *Config) auditEnabled() bool {
	return c.AuditLog == nil || *c.AuditLog
}

// AuthConfig protects everything but /health and /metrics.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`

	// QueryToken also accepts the bearer token as ?access_token= on the
	// WebSocket route, for browser clients that cannot set headers.
	QueryToken bool `yaml:"query_token"`
}

// IsConfigured reports whether any auth method is set.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
