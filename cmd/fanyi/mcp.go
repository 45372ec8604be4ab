package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/flemzord/fanyi/internal/session"
	"github.com/flemzord/fanyi/pkg/app"
)

func mcpCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve translation tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := flags.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			s := newMCPServer(e)
			err = server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// newMCPServer exposes the engine as MCP tools.
func newMCPServer(e *app.Engine) *server.MCPServer {
	s := server.NewMCPServer("fanyi", version, server.WithToolCapabilities(false))
	t := &mcpTools{engine: e}

	s.AddTool(mcp.NewTool("translate",
		mcp.WithDescription("Translate classical Chinese text. Recent exchanges are sent as context and the result is recorded in the history."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The text to translate")),
	), t.translate)

	s.AddTool(mcp.NewTool("history_stats",
		mcp.WithDescription("Report the size of the conversation history and its token budget."),
	), t.historyStats)

	s.AddTool(mcp.NewTool("history_clear",
		mcp.WithDescription("Delete every history entry and the summary."),
	), t.historyClear)

	return s
}

type mcpTools struct {
	engine *app.Engine
}

func (t *mcpTools) translate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := t.engine.Controller.Translate(ctx, text, session.Discard)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if out.Status != session.StatusCompleted {
		msg := out.Status.String()
		if out.Err != nil {
			msg = out.Err.Error()
		}
		return mcp.NewToolResultError(msg), nil
	}
	return mcp.NewToolResultText(out.Content), nil
}

func (t *mcpTools) historyStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(t.engine.History.Stats(), "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *mcpTools) historyClear(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.engine.History.Clear(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("history cleared"), nil
}
