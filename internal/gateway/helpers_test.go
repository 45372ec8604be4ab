package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/provider/providertest"
	"github.com/flemzord/fanyi/internal/security"
	"github.com/flemzord/fanyi/internal/session"
)

const waitTimeout = 5 * time.Second

type testOptions struct {
	config   Config
	noEngine bool
	health   *provider.HealthTracker
	audit    *security.AuditLogger
}

// newTestGateway builds a gateway around a real controller and serves its
// router from an httptest server.
func newTestGateway(t *testing.T, p provider.Provider, opts testOptions) (*Gateway, *httptest.Server) {
	t.Helper()

	cfg := opts.config
	cfg.defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	g := &Gateway{
		config:    cfg,
		logger:    logger,
		metrics:   NewMetrics(),
		limiter:   security.NewRateLimiter(cfg.RateLimit),
		audit:     opts.audit,
		startedAt: time.Now(),
		health:    opts.health,
	}
	if !opts.noEngine {
		g.controller = session.NewController(session.Config{
			Provider: p,
			History: memory.NewHistory(memory.Options{
				Strategy: ctxengine.Truncation{},
				Budget:   10000,
				Logger:   logger,
				OnEvict:  g.metrics.ObserveEviction,
			}),
			SystemInstruction: "Translate.",
			Health:            opts.health,
			Logger:            logger,
			OnFinish:          g.metrics.ObserveSession,
		})
	}

	srv := httptest.NewServer(g.buildRouter())
	t.Cleanup(srv.Close)
	return g, srv
}

func staticProvider(deltas ...string) *providertest.MockProvider {
	return &providertest.MockProvider{
		StreamFunc: func(context.Context, provider.CompletionRequest) (io.ReadCloser, error) {
			return providertest.SSEBody(deltas...), nil
		},
	}
}

// pipeProvider hands each Stream call a pipe whose writer is delivered on
// writers.
func pipeProvider() (*providertest.MockProvider, chan *io.PipeWriter) {
	writers := make(chan *io.PipeWriter, 4)
	return &providertest.MockProvider{
		StreamFunc: func(context.Context, provider.CompletionRequest) (io.ReadCloser, error) {
			pr, pw := io.Pipe()
			writers <- pw
			return pr, nil
		},
	}, writers
}

func nextWriter(t *testing.T, writers chan *io.PipeWriter) *io.PipeWriter {
	t.Helper()
	select {
	case w := <-writers:
		return w
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a stream call")
		return nil
	}
}

func contentLine(text string) string {
	return `data: {"choices":[{"delta":{"content":"` + text + `"}}]}` + "\n\n"
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

// sseReader parses server-sent event frames into session events.
type sseReader struct {
	sc *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{sc: bufio.NewScanner(r)}
}

// next returns the next event, or false at end of stream.
func (r *sseReader) next(t *testing.T) (session.Event, bool) {
	t.Helper()
	for r.sc.Scan() {
		data, ok := strings.CutPrefix(r.sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev session.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		return ev, true
	}
	return session.Event{}, false
}

// all reads events until the stream ends.
func (r *sseReader) all(t *testing.T) []session.Event {
	t.Helper()
	var out []session.Event
	for {
		ev, ok := r.next(t)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}

func timeAfter() <-chan time.Time { return time.After(waitTimeout) }

// auditRecorder collects audit events from handler goroutines.
type auditRecorder struct {
	mu     sync.Mutex
	events []security.AuditEvent
}

func newAuditRecorder() (*auditRecorder, *security.AuditLogger) {
	r := &auditRecorder{}
	return r, security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(ev security.AuditEvent) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		},
	})
}

func (r *auditRecorder) Events() []security.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]security.AuditEvent(nil), r.events...)
}
