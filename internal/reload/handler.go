package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/flemzord/fanyi/internal/config"
)

// Applier receives a freshly loaded and validated configuration.
type Applier interface {
	Apply(ctx context.Context, cfg *config.Config) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, cfg *config.Config) error

// Apply implements Applier.
func (f ApplierFunc) Apply(ctx context.Context, cfg *config.Config) error { return f(ctx, cfg) }

// Handler reloads the configuration file and hands it to every Applier.
// Module wiring is fixed at startup; a changed module set is reported but
// needs a restart.
type Handler struct {
	logger   *slog.Logger
	modules  []string
	appliers []Applier
}

// NewHandler creates a reload handler for a process started with the
// given module IDs.
func NewHandler(logger *slog.Logger, modules []string, appliers ...Applier) *Handler {
	return &Handler{
		logger:   logger,
		modules:  slices.Sorted(slices.Values(modules)),
		appliers: appliers,
	}
}

// HandleReload loads a fresh config from disk, validates it and applies it.
// An invalid file leaves the running settings untouched.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.HandleReloadFromConfig(ctx, cfg)
}

// HandleReloadFromConfig applies an already-validated config.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	if ids := config.Resolve(cfg); !slices.Equal(ids, h.modules) {
		h.logger.Warn("module set changed, restart to apply", "running", h.modules, "configured", ids)
	}

	var errs []error
	for _, a := range h.appliers {
		if err := a.Apply(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("applying config: %w", err)
	}

	h.logger.Info("configuration reloaded successfully")
	return nil
}
