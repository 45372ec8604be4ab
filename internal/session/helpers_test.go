package session_test

import (
	"context"
	"io"
	"testing"
	"time"

	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/provider/providertest"
	"github.com/flemzord/fanyi/internal/session"
)

const waitTimeout = 5 * time.Second

// chanSink forwards events to a buffered channel.
type chanSink struct {
	ch chan session.Event
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan session.Event, 256)}
}

func (c *chanSink) Send(ev session.Event) { c.ch <- ev }

// waitFor returns the first event of the given type.
func (c *chanSink) waitFor(t *testing.T, typ session.EventType) session.Event {
	t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-c.ch:
			if ev.Type == typ {
				return ev
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for %s event", typ)
			return session.Event{}
		}
	}
}

// drain returns every event currently buffered.
func (c *chanSink) drain() []session.Event {
	var out []session.Event
	for {
		select {
		case ev := <-c.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func newHistory() *memory.History {
	return memory.NewHistory(memory.Options{
		Strategy: ctxengine.Truncation{},
		Budget:   10000,
	})
}

func staticProvider(deltas ...string) *providertest.MockProvider {
	return &providertest.MockProvider{
		StreamFunc: func(context.Context, provider.CompletionRequest) (io.ReadCloser, error) {
			return providertest.SSEBody(deltas...), nil
		},
	}
}

// pipeProvider hands each Stream call a fresh pipe whose writer is
// delivered on writers.
type pipeProvider struct {
	*providertest.MockProvider
	writers chan *io.PipeWriter
}

func newPipeProvider() *pipeProvider {
	p := &pipeProvider{writers: make(chan *io.PipeWriter, 4)}
	p.MockProvider = &providertest.MockProvider{
		StreamFunc: func(context.Context, provider.CompletionRequest) (io.ReadCloser, error) {
			pr, pw := io.Pipe()
			p.writers <- pw
			return pr, nil
		},
	}
	return p
}

func (p *pipeProvider) next(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case w := <-p.writers:
		return w
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a stream call")
		return nil
	}
}

func contentLine(text string) string {
	return `data: {"choices":[{"delta":{"content":"` + text + `"}}]}` + "\n\n"
}

func wait(t *testing.T, s *session.Session) (session.Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	out, err := s.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatalf("session %s did not finish", s.ID())
	}
	return out, err
}
