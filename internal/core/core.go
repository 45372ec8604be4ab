package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StopTimeout bounds the time all modules get to stop.
const StopTimeout = 30 * time.Second

// App drives the lifecycle of the loaded modules. Modules start in load
// order and stop in reverse. Signal handling is left to the caller.
type App struct {
	ctx     *AppContext
	loaded  []loadedModule
	logger  *slog.Logger
	running bool
}

type loadedModule struct {
	id      ModuleID
	module  Module
	started bool
}

// NewApp creates an App that provisions modules with ctx.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// LoadModules loads the modules in order. On the first failure every
// module loaded so far is closed and the error is returned.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		if _, dup := a.Module(id); dup {
			a.Close()
			return fmt.Errorf("module %s listed twice", id)
		}
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			a.Close()
			return err
		}
		a.loaded = append(a.loaded, loadedModule{id: ModuleID(id), module: mod})
		a.logger.Debug("module loaded", "module", id)
	}
	return nil
}

// AppendModule adds an already built module after the configured ones, so
// it starts last and stops first. Must be called before Start.
func (a *App) AppendModule(id string, mod Module) {
	a.loaded = append(a.loaded, loadedModule{id: ModuleID(id), module: mod})
	a.logger.Debug("module appended", "module", id)
}

// Start starts every Starter in load order. When one fails, the modules
// already started are stopped again.
func (a *App) Start() error {
	if a.running {
		return errors.New("app already started")
	}
	for i := range a.loaded {
		lm := &a.loaded[i]
		s, ok := lm.module.(Starter)
		if !ok {
			continue
		}
		if err := s.Start(); err != nil {
			a.logger.Error("module start failed", "module", string(lm.id), "error", err)
			a.stopFrom(i-1, false)
			return fmt.Errorf("starting module %s: %w", lm.id, err)
		}
		lm.started = true
	}
	a.running = true
	a.logger.Info("modules started", "count", len(a.loaded))
	return nil
}

// Stop stops the started modules in reverse order. The modules stay
// loaded and can be started again.
func (a *App) Stop() {
	a.stopFrom(len(a.loaded)-1, false)
	a.running = false
}

// Close stops every loaded Stopper, started or not, and forgets them. It
// suits commands that load modules without starting them.
func (a *App) Close() {
	a.stopFrom(len(a.loaded)-1, true)
	a.loaded = nil
	a.running = false
}

func (a *App) stopFrom(last int, all bool) {
	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()

	for i := last; i >= 0; i-- {
		lm := &a.loaded[i]
		if !lm.started && !all {
			continue
		}
		if s, ok := lm.module.(Stopper); ok {
			if err := s.Stop(ctx); err != nil {
				a.logger.Warn("module stop failed", "module", string(lm.id), "error", err)
			}
		}
		lm.started = false
	}
}

// Module returns the loaded module registered under id.
func (a *App) Module(id string) (Module, bool) {
	for _, lm := range a.loaded {
		if string(lm.id) == id {
			return lm.module, true
		}
	}
	return nil, false
}

// ModuleIDs returns the IDs of the loaded modules in load order.
func (a *App) ModuleIDs() []string {
	ids := make([]string, len(a.loaded))
	for i, lm := range a.loaded {
		ids[i] = string(lm.id)
	}
	return ids
}
