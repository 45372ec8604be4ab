package security

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testKey = "sk-0123456789abcdef0123456789abcdef"

func newTestLogger(r *Redactor, level slog.Level) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(inner, r)), &buf
}

func TestRedactingHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		log  func(*slog.Logger)
		keep string
	}{
		{
			name: "message",
			log:  func(l *slog.Logger) { l.Info("backend rejected " + testKey) },
			keep: "backend rejected",
		},
		{
			name: "string attr",
			log:  func(l *slog.Logger) { l.Info("stream failed", "key", testKey, "model", "deepseek-chat") },
			keep: "deepseek-chat",
		},
		{
			name: "error attr",
			log: func(l *slog.Logger) {
				l.Error("request failed", "error", fmt.Errorf("deepseek: 401 for key %s", testKey))
			},
			keep: "deepseek: 401",
		},
		{
			name: "with attrs",
			log:  func(l *slog.Logger) { l.With("api_key", testKey).Info("provisioned") },
			keep: "provisioned",
		},
		{
			name: "with group",
			log:  func(l *slog.Logger) { l.WithGroup("backend").Info("probe", "key", testKey, "ok", false) },
			keep: "backend.ok=false",
		},
		{
			name: "group attr",
			log: func(l *slog.Logger) {
				l.Info("request", slog.Group("headers",
					slog.String("authorization", "Bearer "+testKey),
					slog.String("accept", "text/event-stream"),
				))
			},
			keep: "text/event-stream",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, buf := newTestLogger(NewRedactor(), slog.LevelDebug)
			tt.log(logger)

			out := buf.String()
			if strings.Contains(out, testKey) {
				t.Errorf("secret leaked: %s", out)
			}
			if !strings.Contains(out, RedactPlaceholder) {
				t.Errorf("placeholder missing: %s", out)
			}
			if !strings.Contains(out, tt.keep) {
				t.Errorf("output %q lost %q", out, tt.keep)
			}
		})
	}
}

func TestRedactingHandler_CredentialStoreLiterals(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	creds := NewCredentialStore(r)
	logger, buf := newTestLogger(r, slog.LevelDebug)

	creds.Set(CredentialGatewayPass, "correct-horse")
	logger.Info("basic auth", "pass", "correct-horse")

	if strings.Contains(buf.String(), "correct-horse") {
		t.Errorf("credential leaked: %s", buf.String())
	}
}

func TestRedactingHandler_UntouchedValues(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(NewRedactor(), slog.LevelDebug)
	logger.Info("history loaded", "entries", 3, "err", errors.New("none"))

	out := buf.String()
	if strings.Contains(out, RedactPlaceholder) {
		t.Errorf("unexpected redaction: %s", out)
	}
	if !strings.Contains(out, "entries=3") || !strings.Contains(out, "err=none") {
		t.Errorf("values lost: %s", out)
	}
}

func TestRedactingHandler_Enabled(t *testing.T) {
	t.Parallel()

	inner := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewRedactingHandler(inner, NewRedactor())

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled at warn level")
	}
}
