// Package app assembles configuration, modules and the translation engine
// into a running fanyi process. It is shared by every fanyi command.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flemzord/fanyi/internal/reload"
	"github.com/flemzord/fanyi/internal/security"
)

// RunParams configures the application.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, config.Find is used.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level

	// LogJSON selects JSON log lines instead of text.
	LogJSON bool

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer
}

// newLogger wraps the base handler in a redacting handler so no secret
// reaches log output.
func newLogger(params RunParams, redactor *security.Redactor) *slog.Logger {
	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: params.LogLevel}

	var inner slog.Handler
	if params.LogJSON {
		inner = slog.NewJSONHandler(out, opts)
	} else {
		inner = slog.NewTextHandler(out, opts)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor))
}

// Run builds the engine, starts all modules and blocks until a shutdown
// signal is received. SIGHUP and config file edits re-apply the
// live-tunable settings.
func Run(params RunParams) error {
	e, err := Build(context.Background(), params)
	if err != nil {
		return err
	}
	if err := e.Start(); err != nil {
		return err
	}
	logger := e.Logger

	logger.Info("fanyi started",
		"version", params.Version,
		"commit", params.Commit,
		"config", e.ConfigPath,
		"data_dir", e.DataDir,
	)

	handler := reload.NewHandler(logger, e.ModuleIDs(), reload.ApplierFunc(e.Apply))

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	changes := reload.NewWatcher(reload.WatcherConfig{ConfigPath: e.ConfigPath}).Watch(watchCtx)

	// --- main event loop ---
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := handler.HandleReload(watchCtx, e.ConfigPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			e.Stop()
			logger.Info("shutdown complete")
			return nil
		case evt := <-changes:
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := handler.HandleReload(watchCtx, evt.ConfigPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}
