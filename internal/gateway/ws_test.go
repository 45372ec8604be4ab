package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/fanyi/internal/session"
)

func dialWS(t *testing.T, url string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http")+"/ws/translate", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func sendEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn, typ MessageType, id string, payload any) {
	t.Helper()
	env := Envelope{Type: typ, ID: id, Timestamp: time.Now()}
	if payload != nil {
		raw, _ := json.Marshal(payload)
		env.Payload = raw
	}
	data, _ := json.Marshal(env)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

// readUntilTerminal collects session events until a terminal status.
func readUntilTerminal(t *testing.T, ctx context.Context, conn *websocket.Conn) []session.Event {
	t.Helper()
	var out []session.Event
	for {
		env := readEnvelope(t, ctx, conn)
		if env.Type != MsgEvent {
			t.Fatalf("unexpected %s message: %s", env.Type, env.Payload)
		}
		var ev session.Event
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if env.ID != ev.SessionID {
			t.Errorf("envelope id %q, event session %q", env.ID, ev.SessionID)
		}
		out = append(out, ev)
		if ev.Status.Terminal() {
			return out
		}
	}
}

func TestWebSocket_Translate(t *testing.T) {
	t.Parallel()

	g, srv := newTestGateway(t, staticProvider("Good", " morning"), testOptions{})
	conn, ctx := dialWS(t, srv.URL)

	sendEnvelope(t, ctx, conn, MsgTranslate, "req-1", TranslateRequest{Text: "早上好"})
	events := readUntilTerminal(t, ctx, conn)

	last := events[len(events)-1]
	if last.Type != session.EventDone || last.Text != "Good morning" {
		t.Errorf("last event = %+v", last)
	}
	if g.controller.History().Len() != 1 {
		t.Errorf("history Len = %d, want 1", g.controller.History().Len())
	}
}

func TestWebSocket_Abort(t *testing.T) {
	t.Parallel()

	p, writers := pipeProvider()
	_, srv := newTestGateway(t, p, testOptions{})
	conn, ctx := dialWS(t, srv.URL)

	sendEnvelope(t, ctx, conn, MsgTranslate, "req-1", TranslateRequest{Text: "长文本"})
	_ = nextWriter(t, writers)

	sendEnvelope(t, ctx, conn, MsgAbort, "req-2", AbortRequest{Reason: "stop"})
	events := readUntilTerminal(t, ctx, conn)
	if last := events[len(events)-1]; last.Status != session.StatusAborted {
		t.Errorf("last status = %v, want aborted", last.Status)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	t.Parallel()

	_, srv := newTestGateway(t, staticProvider("x"), testOptions{})
	conn, ctx := dialWS(t, srv.URL)

	sendEnvelope(t, ctx, conn, MsgPing, "p1", nil)
	if env := readEnvelope(t, ctx, conn); env.Type != MsgPong || env.ID != "p1" {
		t.Errorf("reply = %+v, want pong p1", env)
	}

	sendEnvelope(t, ctx, conn, "bogus", "b1", nil)
	if env := readEnvelope(t, ctx, conn); env.Type != MsgError || env.ID != "b1" {
		t.Errorf("reply = %+v, want error b1", env)
	}

	sendEnvelope(t, ctx, conn, MsgTranslate, "t1", TranslateRequest{Text: "  "})
	env := readEnvelope(t, ctx, conn)
	if env.Type != MsgError || !strings.Contains(string(env.Payload), "text is required") {
		t.Errorf("reply = %+v, want text is required error", env)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if env := readEnvelope(t, ctx, conn); env.Type != MsgError {
		t.Errorf("reply type = %s, want error", env.Type)
	}
}

func TestWebSocket_DisconnectAborts(t *testing.T) {
	t.Parallel()

	p, writers := pipeProvider()
	g, srv := newTestGateway(t, p, testOptions{})
	conn, ctx := dialWS(t, srv.URL)

	sendEnvelope(t, ctx, conn, MsgTranslate, "req-1", TranslateRequest{Text: "文本"})
	_ = nextWriter(t, writers)
	s := g.controller.Active()

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	select {
	case <-s.Done():
	case <-timeAfter():
		t.Fatal("session did not end after disconnect")
	}
	if s.Status() != session.StatusAborted {
		t.Errorf("status = %v, want aborted", s.Status())
	}
}
