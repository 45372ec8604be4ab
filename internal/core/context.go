// Package core is fanyi's module system: a registry of compiled modules, the
// AppContext they are provisioned with, a shared service registry, and the
// App that drives their lifecycle.
package core

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// AppContext carries what modules need while provisioning: a scoped
// logger, the data directory and the shared service registry.
type AppContext struct {
	// Logger is scoped to the module being provisioned.
	Logger *slog.Logger

	// DataDir is the root directory for persistent data: the SQLite store,
	// the audit log, backups.
	DataDir string

	baseLogger    *slog.Logger
	moduleConfigs map[string]yaml.Node
	services      *serviceRegistry
}

// NewAppContext creates a root AppContext.
func NewAppContext(logger *slog.Logger, dataDir string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Logger:     logger,
		DataDir:    dataDir,
		baseLogger: logger,
		services:   newServiceRegistry(),
	}
}

// WithModuleConfigs returns a copy of ctx holding the raw configuration of
// every module, keyed by module ID.
func (ctx *AppContext) WithModuleConfigs(configs map[string]yaml.Node) *AppContext {
	cp := *ctx
	cp.moduleConfigs = configs
	return &cp
}

// ForModule returns a context whose logger carries the module ID. Services
// and configuration stay shared.
func (ctx *AppContext) ForModule(id ModuleID) *AppContext {
	cp := *ctx
	cp.Logger = ctx.baseLogger.With("module", string(id))
	return &cp
}

// LoadModule creates the module registered under id and runs
// New, Configure, Provision and Validate. Configure is skipped when the
// configuration has no section for the module.
func (ctx *AppContext) LoadModule(id string) (Module, error) {
	info, ok := GetModule(id)
	if !ok {
		return nil, fmt.Errorf("unknown module: %s", id)
	}
	mod := info.New()

	if c, ok := mod.(Configurable); ok {
		if node, exists := ctx.moduleConfigs[id]; exists {
			if err := c.Configure(&node); err != nil {
				return nil, fmt.Errorf("configuring module %s: %w", id, err)
			}
		}
	}
	if p, ok := mod.(Provisioner); ok {
		if err := p.Provision(ctx.ForModule(info.ID)); err != nil {
			return nil, fmt.Errorf("provisioning module %s: %w", id, err)
		}
	}
	if v, ok := mod.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validating module %s: %w", id, err)
		}
	}
	return mod, nil
}
