package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/flemzord/fanyi/internal/config"
	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/internal/session"
)

// newBackend serves a fixed streamed translation and answers plain
// completions with "ok".
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"The Master said", ", learn."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	cfg := fmt.Sprintf(`version: "1"
maintenance:
  backup_codec: lz4
  health_schedule: "off"
modules:
  provider.deepseek:
    api_key: sk-test
    base_url: %s
  store.sqlite: {}
`, baseURL)
	path := filepath.Join(t.TempDir(), "fanyi.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

// run executes the CLI with args and returns its standard output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "fanyi dev") {
		t.Errorf("output %q missing version", out)
	}
	for _, id := range []string{"provider.deepseek", "store.sqlite", "gateway.http", "telemetry.otlp"} {
		if !strings.Contains(out, id) {
			t.Errorf("output missing module %s", id)
		}
	}
}

func TestTranslateAndHistory(t *testing.T) {
	t.Parallel()

	cfg := writeTestConfig(t, newBackend(t).URL)
	dataDir := t.TempDir()
	base := []string{"--config", cfg, "--data-dir", dataDir}

	out, err := run(t, "", append([]string{"translate"}, append(base, "學而時習之")...)...)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "The Master said, learn.\n" {
		t.Errorf("translate output = %q", out)
	}

	// Piped input.
	if _, err := run(t, "溫故而知新\n", append([]string{"translate"}, base...)...); err != nil {
		t.Fatalf("translate from stdin: %v", err)
	}

	out, err = run(t, "", append([]string{"history", "stats", "--json"}, base...)...)
	if err != nil {
		t.Fatalf("history stats: %v", err)
	}
	var stats memory.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decoding stats %q: %v", out, err)
	}
	if stats.TotalEntries != 2 || !stats.Enabled {
		t.Errorf("stats = %+v, want 2 enabled entries", stats)
	}

	exportPath := filepath.Join(t.TempDir(), "export.json")
	if _, err := run(t, "", append([]string{"history", "export", exportPath}, base...)...); err != nil {
		t.Fatalf("history export: %v", err)
	}
	if _, err := run(t, "", append([]string{"history", "clear"}, base...)...); err != nil {
		t.Fatalf("history clear: %v", err)
	}
	out, err = run(t, "", append([]string{"history", "import", exportPath}, base...)...)
	if err != nil {
		t.Fatalf("history import: %v", err)
	}
	if !strings.Contains(out, "Imported 2 entries") {
		t.Errorf("import output = %q", out)
	}

	if _, err := run(t, "", append([]string{"history", "disable"}, base...)...); err != nil {
		t.Fatalf("history disable: %v", err)
	}
	out, err = run(t, "", append([]string{"history", "stats"}, base...)...)
	if err != nil {
		t.Fatalf("history stats: %v", err)
	}
	if !strings.Contains(out, "false") {
		t.Errorf("stats output %q does not show history disabled", out)
	}
}

func TestBackupRunAndImport(t *testing.T) {
	t.Parallel()

	cfg := writeTestConfig(t, newBackend(t).URL)
	dataDir := t.TempDir()
	base := []string{"--config", cfg, "--data-dir", dataDir}

	if _, err := run(t, "", append([]string{"translate"}, append(base, "學而時習之")...)...); err != nil {
		t.Fatalf("translate: %v", err)
	}
	if _, err := run(t, "", append([]string{"backup", "run"}, base...)...); err != nil {
		t.Fatalf("backup run: %v", err)
	}
	out, err := run(t, "", append([]string{"backup", "list"}, base...)...)
	if err != nil {
		t.Fatalf("backup list: %v", err)
	}
	archive := strings.TrimSpace(out)
	if !strings.HasSuffix(archive, ".json.lz4") {
		t.Fatalf("backup list = %q, want one lz4 archive", out)
	}

	if _, err := run(t, "", append([]string{"history", "clear"}, base...)...); err != nil {
		t.Fatalf("history clear: %v", err)
	}
	out, err = run(t, "", append([]string{"history", "import", archive}, base...)...)
	if err != nil {
		t.Fatalf("history import: %v", err)
	}
	if !strings.Contains(out, "Imported 1 entries") {
		t.Errorf("import output = %q", out)
	}
}

func TestConfigCheckAndTestConnection(t *testing.T) {
	t.Parallel()

	cfg := writeTestConfig(t, newBackend(t).URL)
	dataDir := t.TempDir()

	out, err := run(t, "", "config", "check", cfg, "--data-dir", dataDir)
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out, "Configuration OK") || !strings.Contains(out, "provider.deepseek") {
		t.Errorf("config check output = %q", out)
	}

	out, err = run(t, "", "config", "check", cfg, "--data-dir", dataDir, "--print")
	if err != nil {
		t.Fatalf("config check --print: %v", err)
	}
	if strings.Contains(out, "sk-test") || !strings.Contains(out, "REDACTED") {
		t.Errorf("effective config leaks or misses the key:\n%s", out)
	}

	out, err = run(t, "", "test-connection", "--config", cfg, "--data-dir", dataDir)
	if err != nil {
		t.Fatalf("test-connection: %v", err)
	}
	if !strings.Contains(out, "Connection OK: deepseek-chat") {
		t.Errorf("test-connection output = %q", out)
	}
}

func TestConfigCheck_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("version: \"2\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := run(t, "", "config", "check", path); err == nil {
		t.Error("expected validation error")
	}
}

func TestInitCmd_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "fanyi.yaml")
	if _, err := run(t, "", "init", "--defaults", "--output", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := run(t, "", "init", "--defaults", "--output", path); err == nil {
		t.Error("expected error when the file exists")
	}

	t.Setenv("DEEPSEEK_API_KEY", "sk-env")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if _, ok := cfg.Modules["gateway.http"]; ok {
		t.Error("gateway configured without being asked for")
	}
}

func TestRenderConfig(t *testing.T) {
	t.Parallel()

	a := defaultInitAnswers()
	a.APIKey = "sk-literal"
	a.Language = "chinese"
	a.Gateway = true
	a.Bind = "0.0.0.0:9000"

	data, err := renderConfig(a)
	if err != nil {
		t.Fatalf("renderConfig() error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fanyi.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Translation.OutputLanguage != "chinese" {
		t.Errorf("output_language = %q", cfg.Translation.OutputLanguage)
	}
	ids := config.Resolve(cfg)
	if !slices.Contains(ids, "gateway.http") {
		t.Errorf("modules = %v, missing gateway.http", ids)
	}
	if !strings.Contains(string(data), "0.0.0.0:9000") {
		t.Error("bind address not written")
	}
}

func TestTerminalSink(t *testing.T) {
	t.Parallel()

	events := []session.Event{
		{Type: session.EventStatus, Status: session.StatusStreaming},
		{Type: session.EventReasoning, Text: "thinking"},
		{Type: session.EventContent, Text: "Hello"},
		{Type: session.EventContent, Text: " world"},
		{Type: session.EventDone, Status: session.StatusCompleted},
	}

	tests := []struct {
		name   string
		styled bool
		check  func(t *testing.T, out string)
	}{
		{"plain", false, func(t *testing.T, out string) {
			if out != "Hello world\n" {
				t.Errorf("output = %q, want content only", out)
			}
		}},
		{"styled", true, func(t *testing.T, out string) {
			if !strings.Contains(out, "thinking") || !strings.HasSuffix(out, "\n\nHello world\n") {
				t.Errorf("output = %q, want reasoning then content", out)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			sink := newTerminalSink(&buf, tt.styled)
			for _, ev := range events {
				sink.Send(ev)
			}
			sink.finish()
			tt.check(t, buf.String())
		})
	}
}

func TestReadInput(t *testing.T) {
	t.Parallel()

	got, err := readInput([]string{"arg"}, strings.NewReader("ignored"))
	if err != nil || got != "arg" {
		t.Errorf("readInput(arg) = %q, %v", got, err)
	}
	got, err = readInput(nil, strings.NewReader("  piped\n"))
	if err != nil || got != "piped" {
		t.Errorf("readInput(stdin) = %q, %v", got, err)
	}
}

func TestGlobalFlags_Params(t *testing.T) {
	t.Parallel()

	f := &globalFlags{config: "c.yaml", logLevel: "debug", logJSON: true}
	p, err := f.params(slog.LevelWarn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.LogLevel != slog.LevelDebug || !p.LogJSON || p.ConfigPath != "c.yaml" {
		t.Errorf("params = %+v", p)
	}

	p, _ = (&globalFlags{}).params(slog.LevelWarn)
	if p.LogLevel != slog.LevelWarn {
		t.Errorf("fallback level = %v, want warn", p.LogLevel)
	}

	if _, err := (&globalFlags{logLevel: "loud"}).params(slog.LevelInfo); err == nil {
		t.Error("expected error for an unknown level")
	}
}

func TestServiceArgs(t *testing.T) {
	t.Parallel()

	args, err := serviceArgs(&globalFlags{config: "/etc/fanyi.yaml", logJSON: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"service", "run", "--config", "/etc/fanyi.yaml", "--log-json"}
	if !slices.Equal(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}
