// Package gateway provides the HTTP surface of fanyi: health and metrics,
// the streaming translation API (SSE and WebSocket) and history
// administration. It binds to loopback by default and follows the module
// system pattern.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/fanyi/internal/core"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/security"
	"github.com/flemzord/fanyi/internal/session"
)

// ModuleID is the registry identifier of this module.
const ModuleID = "gateway.http"

// Service names resolved at Start.
const (
	ServiceController = "session.controller"
	ServiceHealth     = "provider.health"
	ServiceMetrics    = "gateway.metrics"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the HTTP gateway module. It is a leaf module: nothing imports
// it, and it finds the engine through the service registry.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	metrics   *Metrics
	limiter   *security.RateLimiter
	audit     *security.AuditLogger
	startedAt time.Time

	// Resolved lazily at Start() via service registry.
	controller *session.Controller
	health     *provider.HealthTracker
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = NewMetrics()
	g.limiter = security.NewRateLimiter(g.config.RateLimit)

	if creds, ok := core.ServiceAs[*security.CredentialStore](ctx, "security.credentials"); ok {
		creds.Set(security.CredentialGatewayToken, g.config.Auth.BearerToken)
		creds.Set(security.CredentialGatewayPass, g.config.Auth.BasicPass)
	}

	if g.config.auditEnabled() && ctx.DataDir != "" {
		redactor, _ := core.ServiceAs[*security.Redactor](ctx, "security.redactor")
		audit, err := security.OpenAuditLog(filepath.Join(ctx.DataDir, "audit.jsonl"), redactor, 0)
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		g.audit = audit
	}

	// Register services for cross-module discovery.
	ctx.RegisterService(ServiceMetrics, g.metrics)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	host, _, err := net.SplitHostPort(g.config.Bind)
	if err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	if !g.config.Auth.IsConfigured() && !isLoopback(host) {
		g.logger.Warn("gateway bound to a non-loopback address without auth", "bind", g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	g.resolve()
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: g.config.ReadHeaderTimeout,
		IdleTimeout:       g.config.IdleTimeout,
		MaxHeaderBytes:    64 << 10,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// resolve binds optional services; missing ones degrade the endpoints
// that need them.
func (g *Gateway) resolve() {
	if c, ok := core.ServiceAs[*session.Controller](g.appCtx, ServiceController); ok {
		g.controller = c
	}
	if h, ok := core.ServiceAs[*provider.HealthTracker](g.appCtx, ServiceHealth); ok {
		g.health = h
	}
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	var errs []error
	if g.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
		defer cancel()

		g.logger.Info("gateway shutting down")
		errs = append(errs, g.server.Shutdown(shutdownCtx))
	}
	errs = append(errs, g.audit.Close())
	return errors.Join(errs...)
}

// Metrics returns the gateway's metrics collectors.
func (g *Gateway) Metrics() *Metrics {
	return g.metrics
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
