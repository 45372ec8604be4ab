// Package main is the entry point for the fanyi CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/fanyi/internal/core"
	"github.com/flemzord/fanyi/pkg/app"

	// Compiled modules.
	_ "github.com/flemzord/fanyi/internal/gateway"
	_ "github.com/flemzord/fanyi/internal/telemetry"
	_ "github.com/flemzord/fanyi/modules/provider/deepseek"
	_ "github.com/flemzord/fanyi/modules/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command that builds the engine.
type globalFlags struct {
	config   string
	dataDir  string
	logLevel string
	logJSON  bool
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "fanyi",
		Short:         "Streaming classical Chinese translation with bounded conversation memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Path to configuration file")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Directory for persistent data")
	pf.StringVar(&flags.logLevel, "log-level", "", "Minimum log level (debug, info, warn, error)")
	pf.BoolVar(&flags.logJSON, "log-json", false, "Emit JSON log lines")

	root.AddCommand(
		versionCmd(),
		startCmd(flags),
		translateCmd(flags),
		historyCmd(flags),
		backupCmd(flags),
		configCmd(flags),
		initCmd(),
		testConnectionCmd(flags),
		serviceCmd(flags),
		mcpCmd(flags),
	)
	return root
}

// params converts the global flags to app.RunParams. fallback is the log
// level used when --log-level is not given.
func (f *globalFlags) params(fallback slog.Level) (app.RunParams, error) {
	level := fallback
	if f.logLevel != "" {
		if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
			return app.RunParams{}, fmt.Errorf("invalid --log-level %q: %w", f.logLevel, err)
		}
	}
	return app.RunParams{
		ConfigPath: f.config,
		Version:    version,
		Commit:     commit,
		Date:       date,
		DataDir:    f.dataDir,
		LogLevel:   level,
		LogJSON:    f.logJSON,
	}, nil
}

// engine builds an engine for a one-shot command. Logs stay quiet unless
// asked for. The caller must Close it.
func (f *globalFlags) engine(ctx context.Context) (*app.Engine, error) {
	params, err := f.params(slog.LevelWarn)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, params)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fanyi %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range mods {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start fanyi with all configured modules",
		RunE: func(_ *cobra.Command, _ []string) error {
			params, err := flags.params(slog.LevelInfo)
			if err != nil {
				return err
			}
			return app.Run(params)
		},
	}
}
