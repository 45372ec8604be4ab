package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/fanyi/internal/security"
	"github.com/flemzord/fanyi/internal/session"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

// Protocol message types exchanged over /ws/translate.
const (
	MsgTranslate MessageType = "translate"
	MsgAbort     MessageType = "abort"
	MsgPing      MessageType = "ping"
	MsgPong      MessageType = "pong"
	MsgEvent     MessageType = "event"
	MsgError     MessageType = "error"
)

const wsWriteTimeout = 10 * time.Second

// Envelope is the wire format for all WebSocket messages. Event messages
// carry the session id in ID and a session.Event in Payload.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// wsConn is one client connection. The session it starts stays bound to
// the connection context, so a disconnect aborts it. Session events go
// through events, which a writer goroutine drains for the lifetime of the
// connection.
type wsConn struct {
	g      *Gateway
	conn   *websocket.Conn
	events *eventQueue

	mu      sync.Mutex
	current *session.Session
}

// handleWebSocket upgrades the request and runs the read loop until the
// client goes away.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if g.controller == nil {
		writeError(w, http.StatusServiceUnavailable, errUnavailable.Error())
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.config.AllowedOrigins,
	})
	if err != nil {
		g.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()
	conn.SetReadLimit(g.config.MaxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsConn{g: g, conn: conn, events: newEventQueue(defaultQueueSize)}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		_ = c.events.drain(ctx, nil, c.writeEvent)
	}()

	c.readLoop(ctx)

	// Disconnecting aborts the running session.
	cancel()
	<-writerDone
	if s := c.session(); s != nil {
		<-s.Done()
	}
	if n := c.events.Dropped(); n > 0 {
		g.logger.Debug("slow websocket client missed deltas", "dropped", n)
	}
}

func (c *wsConn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				c.g.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var env Envelope
		if err := security.DefaultDocumentLimits.Check(data); err != nil {
			c.sendError(ctx, "", "invalid message format")
			continue
		}
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError(ctx, "", "invalid message format")
			continue
		}

		switch env.Type {
		case MsgTranslate:
			c.translate(ctx, env)
		case MsgAbort:
			c.abort(env)
		case MsgPing:
			c.send(ctx, Envelope{Type: MsgPong, ID: env.ID, Timestamp: time.Now()})
		default:
			c.sendError(ctx, env.ID, "unexpected message type: "+string(env.Type))
		}
	}
}

func (c *wsConn) translate(ctx context.Context, env Envelope) {
	var req TranslateRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.sendError(ctx, env.ID, "invalid translate payload")
		return
	}
	if _, err := c.g.admit(req.Text); err != nil {
		c.sendError(ctx, env.ID, err.Error())
		return
	}

	// Start never returns a nil session; validation failures arrive on the
	// queue as an error event.
	s, _ := c.g.controller.Start(ctx, req.Text, c.events)
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	c.g.audit.Log(security.AuditEvent{
		Type:      security.EventTranslate,
		SessionID: s.ID(),
		Metadata: map[string]string{
			"transport":   "websocket",
			"input_runes": strconv.Itoa(len([]rune(req.Text))),
		},
	})
}

func (c *wsConn) abort(env Envelope) {
	s := c.session()
	if s == nil {
		return
	}
	var req AbortRequest
	_ = json.Unmarshal(env.Payload, &req)
	if c.g.controller.AbortSession(s.ID(), req.Reason) {
		c.g.audit.Log(security.AuditEvent{
			Type:      security.EventAbort,
			SessionID: s.ID(),
			Detail:    req.Reason,
		})
	}
}

func (c *wsConn) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// send marshals and writes an Envelope. Conn.Write is safe for concurrent
// use, so session events from the writer goroutine and read loop replies
// may interleave.
func (c *wsConn) send(ctx context.Context, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.g.logger.Error("marshal envelope failed", "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wsWriteTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, data); err != nil {
		c.g.logger.Debug("write envelope failed", "error", err)
	}
}

// writeEvent wraps a session event in an Envelope. It runs on the writer
// goroutine only.
func (c *wsConn) writeEvent(ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.send(context.Background(), Envelope{Type: MsgEvent, ID: ev.SessionID, Payload: payload, Timestamp: time.Now()})
	return nil
}

func (c *wsConn) sendError(ctx context.Context, id, message string) {
	payload, _ := json.Marshal(map[string]string{"message": message})
	c.send(ctx, Envelope{Type: MsgError, ID: id, Payload: payload, Timestamp: time.Now()})
}
