// Package telemetry exports OpenTelemetry traces over OTLP/HTTP. Loading the
// "telemetry.otlp" module installs a global tracer provider, so the spans
// opened by sessions and the backend client leave the process.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/fanyi/internal/core"
	"github.com/flemzord/fanyi/internal/security"
)

// ModuleID is the registry identifier of this module.
const ModuleID = "telemetry.otlp"

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the exporter configuration. An empty Endpoint falls back to
// the OTEL_EXPORTER_OTLP_* environment variables.
type Config struct {
	Endpoint     string            `yaml:"endpoint"`
	URLPath      string            `yaml:"url_path"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	ServiceName  string            `yaml:"service_name"`
	SampleRatio  *float64          `yaml:"sample_ratio"`
	BatchTimeout time.Duration     `yaml:"batch_timeout"`
}

func (c *Config) defaults() {
	if c.ServiceName == "" {
		c.ServiceName = "fanyi"
	}
	if c.SampleRatio == nil {
		ratio := 1.0
		c.SampleRatio = &ratio
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
}

// Module owns the SDK tracer provider.
type Module struct {
	config   Config
	logger   *slog.Logger
	provider *sdktrace.TracerProvider
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	m.config.defaults()
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if r := *m.config.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1], got %v", r)
	}
	return nil
}

// Provision implements core.Provisioner. It builds the exporter and
// installs the tracer provider globally.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	// Exporter headers usually carry an API token.
	if creds, ok := core.ServiceAs[*security.CredentialStore](ctx, "security.credentials"); ok {
		for name, value := range m.config.Headers {
			creds.Set(security.CredentialTelemetryHeader+name, value)
		}
	}

	exp, err := otlptracehttp.New(context.Background(), m.exporterOptions()...)
	if err != nil {
		return fmt.Errorf("telemetry: create exporter: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(m.config.BatchTimeout)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", m.config.ServiceName),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(*m.config.SampleRatio))),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		m.logger.Warn("telemetry export error", "error", err)
	}))

	m.logger.Info("trace export enabled",
		"endpoint", m.config.Endpoint,
		"service", m.config.ServiceName,
		"sample_ratio", *m.config.SampleRatio,
	)
	return nil
}

func (m *Module) exporterOptions() []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if m.config.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(m.config.Endpoint))
	}
	if m.config.URLPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(m.config.URLPath))
	}
	if m.config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(m.config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
	}
	return opts
}

// TracerProvider returns the installed provider, nil before Provision.
func (m *Module) TracerProvider() *sdktrace.TracerProvider {
	return m.provider
}

// Stop implements core.Stopper. Pending spans are flushed.
func (m *Module) Stop(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	err := m.provider.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Warn("telemetry flush timed out")
	}
	return err
}
