package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/fanyi/internal/config"
	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/security"
	"github.com/flemzord/fanyi/pkg/app"
)

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	var printEffective bool
	check := &cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and provision every module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			check := *flags
			if len(args) == 1 {
				check.config = args[0]
			}
			return withEngine(cmd, &check, func(_ context.Context, e *app.Engine) error {
				out := cmd.OutOrStdout()
				ids := e.ModuleIDs()
				fmt.Fprintf(out, "Configuration OK: %s (%d modules)\n", e.ConfigPath, len(ids))
				for _, id := range ids {
					fmt.Fprintf(out, "  %s\n", id)
				}
				fmt.Fprintf(out, "History: %s, budget %d tokens\n", e.History.Strategy(), e.History.Budget())
				for _, job := range e.Scheduler.Status() {
					fmt.Fprintf(out, "Job %s: %s\n", job.Name, job.Schedule)
				}
				if !provider.HasCredentials(e.Provider) {
					fmt.Fprintln(out, "Warning: the provider has no API key; translations will fail.")
				}
				if printEffective {
					data, err := effectiveConfig(e.Config, e.Redactor)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "\n%s", data)
				}
				return nil
			})
		},
	}
	check.Flags().BoolVar(&printEffective, "print", false, "Print the effective configuration with secrets masked")
	cmd.AddCommand(check)
	return cmd
}

// effectiveConfig renders cfg, defaults applied, with every secret masked.
func effectiveConfig(cfg *config.Config, redactor *security.Redactor) ([]byte, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	redactor.RedactMap(m)
	return yaml.Marshal(m)
}

func testConnectionCmd(flags *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Send a minimal request to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, e *app.Engine) error {
				checker, ok := e.Provider.(provider.HealthChecker)
				if !ok {
					return errors.New("the configured provider does not support connection tests")
				}
				if !provider.HasCredentials(e.Provider) {
					return fmt.Errorf("%w: no API key configured", provider.ErrAuth)
				}

				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				start := time.Now()
				if err := checker.HealthCheck(ctx); err != nil {
					return fmt.Errorf("connection failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connection OK: %s (%s)\n",
					e.Provider.ModelName(), time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Maximum time to wait for the backend")
	return cmd
}

// initAnswers holds the answers of the setup wizard.
type initAnswers struct {
	Language string
	Model    string
	APIKey   string
	Strategy string
	Gateway  bool
	Bind     string
}

func defaultInitAnswers() initAnswers {
	return initAnswers{
		Language: config.DefaultOutputLanguage,
		Model:    config.DefaultModel,
		Strategy: ctxengine.StrategyCompaction,
		Bind:     "127.0.0.1:8080",
	}
}

func initCmd() *cobra.Command {
	var output string
	var force, defaults bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				output = config.DefaultPath()
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			answers := defaultInitAnswers()
			if !defaults {
				if err := initForm(&answers).Run(); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return errors.New("setup cancelled")
					}
					return err
				}
			}

			data, err := renderConfig(answers)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o700); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to write the configuration")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Skip the questions and write the defaults")
	return cmd
}

func initForm(a *initAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Output language").
				Options(
					huh.NewOption("Modern English", string(ctxengine.LanguageEnglish)),
					huh.NewOption("Modern Chinese", string(ctxengine.LanguageChinese)),
				).
				Value(&a.Language),
			huh.NewSelect[string]().
				Title("Model").
				Options(
					huh.NewOption("deepseek-chat", "chat"),
					huh.NewOption("deepseek-reasoner (shows its reasoning)", "reasoner"),
				).
				Value(&a.Model),
			huh.NewInput().
				Title("DeepSeek API key").
				Description("Leave empty to read DEEPSEEK_API_KEY from the environment.").
				EchoMode(huh.EchoModePassword).
				Value(&a.APIKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("When the history is full").
				Options(
					huh.NewOption("Summarize older turns", ctxengine.StrategyCompaction),
					huh.NewOption("Drop the oldest turns", ctxengine.StrategyTruncation),
				).
				Value(&a.Strategy),
			huh.NewConfirm().
				Title("Serve the HTTP gateway?").
				Value(&a.Gateway),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway address").
				Value(&a.Bind).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("address is required")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return !a.Gateway }),
	)
}

// renderConfig turns the wizard answers into a configuration file.
func renderConfig(a initAnswers) ([]byte, error) {
	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = "${DEEPSEEK_API_KEY}"
	}

	modules := map[string]any{
		"provider.deepseek": map[string]any{"api_key": apiKey},
		"store.sqlite":      map[string]any{},
	}
	if a.Gateway {
		modules["gateway.http"] = map[string]any{"bind": a.Bind}
	}

	doc := struct {
		Version     string         `yaml:"version"`
		Translation map[string]any `yaml:"translation"`
		History     map[string]any `yaml:"history"`
		Modules     map[string]any `yaml:"modules"`
	}{
		Version:     "1",
		Translation: map[string]any{"output_language": a.Language, "model": a.Model},
		History:     map[string]any{"strategy": a.Strategy},
		Modules:     modules,
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}
	return append([]byte("# fanyi configuration\n"), out...), nil
}
