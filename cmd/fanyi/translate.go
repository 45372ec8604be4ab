package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/flemzord/fanyi/internal/session"
)

// maxStdinInput bounds the text read from a pipe.
const maxStdinInput = 1 << 20

func translateCmd(flags *globalFlags) *cobra.Command {
	var language, model string
	cmd := &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate one text and stream the result",
		Long: "Translate one text and stream the result. Without an argument the " +
			"text is read from standard input.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			e, err := flags.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if language != "" || model != "" {
				cfg := *e.Config
				if language != "" {
					cfg.Translation.OutputLanguage = language
					cfg.Translation.SystemPrompt = ""
				}
				if model != "" {
					cfg.Translation.Model = model
				}
				if err := e.Apply(ctx, &cfg); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			sink := newTerminalSink(out, isTerminal(out))
			res, err := e.Controller.Translate(ctx, input, sink)
			sink.finish()
			if err != nil {
				return err
			}
			if res.HistoryErr != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: history not updated:", res.HistoryErr)
			}

			switch res.Status {
			case session.StatusCompleted:
				return nil
			case session.StatusAborted:
				return fmt.Errorf("translation aborted: %w", res.Err)
			default:
				return res.Err
			}
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "Output language (english, chinese)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model alias (chat, reasoner)")
	return cmd
}

// readInput returns the text argument, or the piped standard input.
func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no text given: pass it as an argument or pipe it on stdin")
	}
	raw, err := io.ReadAll(io.LimitReader(stdin, maxStdinInput))
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalSink prints a session's events as they arrive. On a terminal the
// reasoning is shown faint above the content; otherwise only the content
// is written so the output can be piped.
type terminalSink struct {
	mu        sync.Mutex
	w         io.Writer
	styled    bool
	reasoning lipgloss.Style

	inReasoning bool
	wrote       bool
}

func newTerminalSink(w io.Writer, styled bool) *terminalSink {
	r := lipgloss.NewRenderer(w)
	return &terminalSink{
		w:         w,
		styled:    styled,
		reasoning: r.NewStyle().Faint(true).Italic(true),
	}
}

// Send implements session.Sink.
func (s *terminalSink) Send(ev session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case session.EventReasoning:
		if !s.styled {
			return
		}
		fmt.Fprint(s.w, s.reasoning.Render(ev.Text))
		s.inReasoning = true
		s.wrote = true
	case session.EventContent:
		if s.inReasoning {
			fmt.Fprint(s.w, "\n\n")
			s.inReasoning = false
		}
		fmt.Fprint(s.w, ev.Text)
		s.wrote = true
	}
}

// finish terminates the last line.
func (s *terminalSink) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wrote {
		fmt.Fprintln(s.w)
	}
}
