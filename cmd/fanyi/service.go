package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/fanyi/pkg/app"
)

// program runs the engine under the OS service manager.
type program struct {
	params app.RunParams
	engine *app.Engine
}

// Start implements service.Interface. It must not block.
func (p *program) Start(_ service.Service) error {
	e, err := app.Build(context.Background(), p.params)
	if err != nil {
		return err
	}
	if err := e.Start(); err != nil {
		return err
	}
	p.engine = e
	e.Logger.Info("fanyi service started", "version", p.params.Version, "config", e.ConfigPath)
	return nil
}

// Stop implements service.Interface.
func (p *program) Stop(_ service.Service) error {
	if p.engine != nil {
		p.engine.Stop()
	}
	return nil
}

// serviceArgs are the arguments the service manager starts fanyi with.
func serviceArgs(flags *globalFlags) ([]string, error) {
	args := []string{"service", "run"}
	if flags.config != "" {
		abs, err := filepath.Abs(flags.config)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if flags.dataDir != "" {
		abs, err := filepath.Abs(flags.dataDir)
		if err != nil {
			return nil, err
		}
		args = append(args, "--data-dir", abs)
	}
	if flags.logLevel != "" {
		args = append(args, "--log-level", flags.logLevel)
	}
	if flags.logJSON {
		args = append(args, "--log-json")
	}
	return args, nil
}

func newService(flags *globalFlags) (service.Service, error) {
	params, err := flags.params(slog.LevelInfo)
	if err != nil {
		return nil, err
	}
	args, err := serviceArgs(flags)
	if err != nil {
		return nil, err
	}
	cfg := &service.Config{
		Name:        "fanyi",
		DisplayName: "fanyi translation gateway",
		Description: "Streaming classical Chinese translation with bounded conversation memory.",
		Arguments:   args,
	}
	return service.New(&program{params: params}, cfg)
}

func serviceCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and control fanyi as an OS service",
	}

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("Service manager action: %s", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := newService(flags)
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service %s: done\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := newService(flags)
			if err != nil {
				return err
			}
			return s.Run()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newService(flags)
			if err != nil {
				return err
			}
			st, err := s.Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), serviceStatusName(st))
			return nil
		},
	})
	return cmd
}

func serviceStatusName(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
