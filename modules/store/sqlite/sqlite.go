// Package sqlite implements the store.sqlite module: a durable memory.KV
// backed by modernc.org/sqlite (pure Go, no CGO) in WAL mode.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/fanyi/internal/core"
	"github.com/flemzord/fanyi/internal/memory"
)

// ModuleID is the registry identifier of this module.
const ModuleID = "store.sqlite"

// ServiceName is the service under which the KV is registered.
const ServiceName = "memory.kv"

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

// Module provisions the SQLite KV and registers it as a service.
type Module struct {
	config Config
	logger *slog.Logger
	kv     *KV
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
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	kv, err := Open(context.TODO(), m.config)
	if err != nil {
		return err
	}
	m.kv = kv

	ctx.RegisterService(ServiceName, memory.KV(kv))

	m.logger.Info("sqlite store provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.kv.Ping(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("sqlite store stopping")
	if m.kv != nil {
		return m.kv.Close()
	}
	return nil
}

// KV returns the provisioned store.
func (m *Module) KV() *KV {
	return m.kv
}

// Path returns the database file path.
func (m *Module) Path() string {
	return m.config.Path
}
