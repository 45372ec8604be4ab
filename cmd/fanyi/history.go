package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/flemzord/fanyi/internal/backup"
	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/pkg/app"
)

// withEngine builds a one-shot engine, runs fn and closes the engine.
func withEngine(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *app.Engine) error) error {
	ctx := cmd.Context()
	e, err := flags.engine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func historyCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage the conversation history",
	}
	cmd.AddCommand(
		historyStatsCmd(flags),
		historyClearCmd(flags),
		historyExportCmd(flags),
		historyImportCmd(flags),
		historyToggleCmd(flags, "enable", "Record completed translations and send them as context", true),
		historyToggleCmd(flags, "disable", "Stop recording and sending history", false),
	)
	return cmd
}

func historyStatsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show history statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(_ context.Context, e *app.Engine) error {
				stats := e.History.Stats()
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	return cmd
}

func printStats(w io.Writer, s memory.Stats) {
	label := lipgloss.NewRenderer(w).NewStyle().Bold(true).Width(18)
	row := func(name string, value any) {
		fmt.Fprintf(w, "%s%v\n", label.Render(name), value)
	}
	row("enabled", s.Enabled)
	row("strategy", s.Strategy)
	row("entries", s.TotalEntries)
	row("tokens", fmt.Sprintf("%d / %d", s.TotalTokens, s.MaxTokens))
	row("summary tokens", s.SummaryTokens)
	row("avg per entry", s.AveragePerEntry)
	if s.TotalEntries > 0 {
		row("oldest", s.OldestEntry.Local().Format(time.DateTime))
		row("newest", s.NewestEntry.Local().Format(time.DateTime))
	}
}

func historyClearCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every history entry and the summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, e *app.Engine) error {
				if err := e.History.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
				return nil
			})
		},
	}
}

func historyExportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the history as JSON to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(_ context.Context, e *app.Engine) error {
				data, err := json.MarshalIndent(e.History.Export(), "", "  ")
				if err != nil {
					return err
				}
				data = append(data, '\n')
				if len(args) == 0 {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(args[0], data, 0o600); err != nil {
					return fmt.Errorf("writing export: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "History exported to %s\n", args[0])
				return nil
			})
		},
	}
}

func historyImportCmd(flags *globalFlags) *cobra.Command {
	var identityFile string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the history with a JSON export or a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readImport(args[0], identityFile)
			if err != nil {
				return err
			}
			return withEngine(cmd, flags, func(ctx context.Context, e *app.Engine) error {
				res, err := e.History.Import(ctx, data)
				if res.Imported == 0 && err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries (%d dropped).\n", res.Imported, res.Dropped)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&identityFile, "identity", "i", "", "age identity file for encrypted backups")
	return cmd
}

// readImport returns the JSON document of a plain export or, for any other
// extension, of a backup archive.
func readImport(path, identityFile string) ([]byte, error) {
	if filepath.Ext(path) == ".json" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading import: %w", err)
		}
		return data, nil
	}

	var ids []age.Identity
	if identityFile != "" {
		parsed, err := backup.ParseIdentities(identityFile)
		if err != nil {
			return nil, err
		}
		ids = parsed
	}
	return backup.Read(path, ids...)
}

func historyToggleCmd(flags *globalFlags, use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, e *app.Engine) error {
				if err := e.History.SetEnabled(ctx, enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "History %sd.\n", use)
				return nil
			})
		},
	}
}

func backupCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage history backup archives",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Write a backup archive now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, e *app.Engine) error {
				if err := e.Scheduler.RunNow(ctx, backupJobName); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup done, archives in %s\n", e.BackupDir())
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "list",
		Short: "List backup archives, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(_ context.Context, e *app.Engine) error {
				paths, err := backup.List(e.BackupDir())
				if err != nil {
					return err
				}
				if len(paths) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No backups.")
					return nil
				}
				for _, p := range paths {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	})
	return cmd
}

// backupJobName is the name of cron.BackupJob.
const backupJobName = "history_backup"
