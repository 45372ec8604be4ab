package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/fanyi/internal/config"
	"github.com/flemzord/fanyi/internal/core"
	"github.com/flemzord/fanyi/internal/cron"
	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/security"
	"github.com/flemzord/fanyi/internal/session"
)

// Service names registered by Build, next to those of the modules.
const (
	ServiceCredentials = "security.credentials"
	ServiceRedactor    = "security.redactor"
	ServiceConfigPath  = "config.path"
	ServiceController  = "session.controller"
	ServiceHealth      = "provider.health"
	ServiceHistory     = "memory.history"
	ServiceScheduler   = "maintenance.cron"
)

// Engine is the assembled translation stack: loaded modules, the History
// Store and the session controller.
type Engine struct {
	Config     *config.Config
	ConfigPath string
	DataDir    string
	Logger     *slog.Logger

	App         *core.App
	AppCtx      *core.AppContext
	Credentials *security.CredentialStore
	Redactor    *security.Redactor

	Provider   provider.Provider
	Health     *provider.HealthTracker
	History    *memory.History
	Controller *session.Controller
	Scheduler  *cron.Scheduler

	ids []string
}

// Build loads and validates the configuration, provisions every configured
// module and wires the engine. Nothing is started: long-running commands
// call Start, one-shot commands use the engine and call Close.
func Build(ctx context.Context, params RunParams) (*Engine, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		found, err := config.Find()
		if err != nil {
			return nil, fmt.Errorf("%w (searched: %v)", err, config.SearchPaths())
		}
		cfgPath = found
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// Security foundation first, so module logs are redacted from the start.
	redactor := security.NewRedactor()
	credStore := security.NewCredentialStore(redactor)
	logger := newLogger(params, redactor)

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = config.DataDir()
	}

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(ServiceCredentials, credStore)
	appCtx.RegisterService(ServiceRedactor, redactor)
	appCtx.RegisterService(ServiceConfigPath, cfgPath)

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return nil, err
	}

	e := &Engine{
		Config:      cfg,
		ConfigPath:  cfgPath,
		DataDir:     dataDir,
		Logger:      logger,
		App:         application,
		AppCtx:      appCtx,
		Credentials: credStore,
		Redactor:    redactor,
		ids:         ids,
	}

	// Wire the engine between LoadModules and Start so the gateway finds
	// the controller when it resolves its services.
	if err := e.wire(ctx); err != nil {
		application.Close()
		return nil, err
	}
	return e, nil
}

// Start starts every module and the maintenance scheduler.
func (e *Engine) Start() error {
	return e.App.Start()
}

// Stop aborts the active session and stops all started modules.
func (e *Engine) Stop() {
	e.Controller.Abort("shutting down")
	e.App.Stop()
}

// Close releases an engine that was never started.
func (e *Engine) Close() {
	e.Controller.Abort("closing")
	e.App.Close()
}

// ModuleIDs returns the configured module IDs in load order.
func (e *Engine) ModuleIDs() []string {
	return e.ids
}

// Apply re-applies the live-tunable settings of a reloaded configuration.
// Store, strategy and budget changes need a restart.
func (e *Engine) Apply(_ context.Context, cfg *config.Config) error {
	instruction, err := systemInstruction(cfg.Translation)
	if err != nil {
		return err
	}
	e.Controller.SetPrompt(session.Prompt{
		SystemInstruction: instruction,
		Model:             cfg.Translation.Model,
		RequireTerminator: cfg.Translation.RequireTerminator,
	})

	old := e.Config.History
	if cfg.History.Strategy != old.Strategy || cfg.History.Budget != old.Budget || cfg.History.TargetRatio != old.TargetRatio {
		e.Logger.Warn("history settings changed, restart to apply",
			"strategy", cfg.History.Strategy,
			"budget", cfg.History.Budget,
		)
	}
	if cfg.Maintenance.BackupSchedule != e.Config.Maintenance.BackupSchedule ||
		cfg.Maintenance.HealthSchedule != e.Config.Maintenance.HealthSchedule {
		e.Logger.Warn("maintenance schedules changed, restart to apply")
	}
	e.Config.Translation = cfg.Translation
	return nil
}

// errNoProvider is returned when no loaded module registered a backend.
var errNoProvider = errors.New(`app: no module registered a "provider" service`)
