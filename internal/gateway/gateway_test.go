package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/fanyi/internal/core"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/session"
)

func TestGateway_ModuleInfo(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	info := g.ModuleInfo()

	if info.ID != "gateway.http" {
		t.Errorf("ID = %q, want %q", info.ID, "gateway.http")
	}
	if info.New == nil {
		t.Fatal("New func is nil")
	}
	if _, ok := info.New().(*Gateway); !ok {
		t.Error("New() should return *Gateway")
	}
}

func TestGateway_ConfigureDefaults(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Configure(mustYAMLNode(t, "{}")); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if g.config.Bind != "127.0.0.1:8080" {
		t.Errorf("Bind = %q, want default", g.config.Bind)
	}
	if g.config.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("ReadHeaderTimeout = %v, want 10s", g.config.ReadHeaderTimeout)
	}
	if g.config.IdleTimeout != 2*time.Minute {
		t.Errorf("IdleTimeout = %v, want 2m", g.config.IdleTimeout)
	}
	if g.config.MaxBodyBytes != 8<<20 {
		t.Errorf("MaxBodyBytes = %d, want 8 MiB", g.config.MaxBodyBytes)
	}
	if g.config.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", g.config.ShutdownTimeout)
	}
	if !g.config.auditEnabled() {
		t.Error("audit log should be enabled by default")
	}
}

func TestGateway_ConfigureCustom(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	node := mustYAMLNode(t, `
bind: "0.0.0.0:9090"
audit_log: false
allowed_origins: ["localhost:*"]
auth:
  bearer_token: "tok"
rate_limit:
  translations_per_min: 5
`)
	if err := g.Configure(node); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if g.config.Bind != "0.0.0.0:9090" {
		t.Errorf("Bind = %q", g.config.Bind)
	}
	if g.config.auditEnabled() {
		t.Error("audit log should be disabled")
	}
	if !g.config.Auth.IsConfigured() {
		t.Error("auth should be configured")
	}
	if g.config.RateLimit.TranslationsPerMin != 5 {
		t.Errorf("TranslationsPerMin = %d, want 5", g.config.RateLimit.TranslationsPerMin)
	}
	if len(g.config.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", g.config.AllowedOrigins)
	}
}

func TestGateway_ValidateBind(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		bind    string
		wantErr bool
	}{
		{"127.0.0.1:8080", false},
		{"localhost:0", false},
		{"0.0.0.0:8080", false}, // warns only
		{"no-port", true},
	}
	for _, tt := range tests {
		t.Run(tt.bind, func(t *testing.T) {
			t.Parallel()
			g := &Gateway{config: Config{Bind: tt.bind}, logger: logger}
			err := g.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGateway_ProvisionStartStop(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	appCtx := core.NewAppContext(logger, dataDir)

	ctrl := session.NewController(session.Config{Provider: staticProvider("ok"), Logger: logger})
	health := provider.NewHealthTracker(provider.HealthConfig{})
	appCtx.RegisterService(ServiceController, ctrl)
	appCtx.RegisterService(ServiceHealth, health)

	g := &Gateway{config: Config{Bind: "127.0.0.1:0"}}
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if m, ok := core.ServiceAs[*Metrics](appCtx, ServiceMetrics); !ok || m != g.Metrics() {
		t.Error("metrics service not registered")
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if g.controller != ctrl {
		t.Error("controller not resolved from service registry")
	}
	if g.health != health {
		t.Error("health tracker not resolved from service registry")
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := g.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dataDir, "audit.jsonl")); err != nil {
		t.Errorf("audit log not created: %v", err)
	}
}

func TestGateway_StartWithoutEngine(t *testing.T) {
	t.Parallel()

	_, srv := newTestGateway(t, nil, testOptions{noEngine: true})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/translate", `{"text":"你好"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/history/", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("history status = %d, want 503", resp.StatusCode)
	}
}

func TestGateway_AuthProtectsAPI(t *testing.T) {
	t.Parallel()

	_, srv := newTestGateway(t, staticProvider("hi"), testOptions{
		config: Config{Auth: AuthConfig{BearerToken: "secret"}},
	})

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/history/", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/history/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = authed.Body.Close() }()
	if authed.StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", authed.StatusCode)
	}

	// Health stays public.
	health := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	if health.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", health.StatusCode)
	}
}

func TestIsLoopback(t *testing.T) {
	t.Parallel()

	for host, want := range map[string]bool{
		"127.0.0.1": true,
		"::1":       true,
		"localhost": true,
		"0.0.0.0":   false,
		"10.0.0.2":  false,
		"":          false,
	} {
		if got := isLoopback(host); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestCodeClass(t *testing.T) {
	t.Parallel()

	for code, want := range map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 429: "4xx", 503: "5xx"} {
		if got := codeClass(code); !strings.EqualFold(got, want) {
			t.Errorf("codeClass(%d) = %q, want %q", code, got, want)
		}
	}
}
